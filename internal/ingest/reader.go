package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/minhdn/ragserve/internal/errors"
)

// MaxFileSize caps a single document. Larger files are skipped rather
// than blowing up the embedding budget.
const MaxFileSize = 10 << 20 // 10 MiB

// DocumentContent is the result of reading one file.
type DocumentContent struct {
	Path   string
	Title  string
	Text   string
	SHA256 string
}

// ReadDocument reads a scanned file and derives its title and content
// hash. Binary and oversized files are rejected with a structured error.
func ReadDocument(path string) (*DocumentContent, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeFileNotFound, fmt.Sprintf("cannot stat %s", path), err)
	}
	if info.Size() > MaxFileSize {
		return nil, errors.New(errors.ErrCodeFileUnsupported,
			fmt.Sprintf("%s exceeds the %d byte limit", path, int64(MaxFileSize)), nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeFileNotFound, fmt.Sprintf("cannot read %s", path), err)
	}
	if isBinary(data) {
		return nil, errors.New(errors.ErrCodeFileUnsupported,
			fmt.Sprintf("%s looks binary", path), nil)
	}

	text := string(data)
	sum := sha256.Sum256(data)

	return &DocumentContent{
		Path:   path,
		Title:  deriveTitle(path, text),
		Text:   text,
		SHA256: hex.EncodeToString(sum[:]),
	}, nil
}

// isBinary flags content with NUL bytes or invalid UTF-8 in the first
// chunk.
func isBinary(data []byte) bool {
	probe := data
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	if bytes.IndexByte(probe, 0) >= 0 {
		return true
	}
	return !utf8.Valid(probe) && len(probe) > 0
}

// deriveTitle prefers the first Markdown heading, falling back to the
// file name without extension.
func deriveTitle(path, text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			title := strings.TrimSpace(strings.TrimLeft(line, "#"))
			if title != "" {
				return title
			}
		}
		if line != "" && !strings.HasPrefix(line, "#") {
			break
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
