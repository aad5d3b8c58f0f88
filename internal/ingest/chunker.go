package ingest

import (
	"strings"
)

// Chunking defaults, in characters. Chunks around 1200 characters keep a
// few hundred tokens of context per chunk, and the overlap carries
// sentence boundaries across chunk edges.
const (
	DefaultChunkSize = 1200
	DefaultOverlap   = 200
	MinChunkSize     = 50
)

// Chunker splits document text into overlapping chunks on paragraph
// boundaries, falling back to sentence windows for paragraphs longer than
// the chunk size.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker creates a chunker. Non-positive values fall back to the
// defaults; overlap is clamped below size.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Chunk splits text into chunks. Whitespace-only text yields none; text
// shorter than the chunk size yields one.
func (c *Chunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.Size {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if len(chunk) >= MinChunkSize {
			chunks = append(chunks, chunk)
		} else if chunk != "" && len(chunks) > 0 {
			// Fold a tiny tail into the previous chunk.
			chunks[len(chunks)-1] += "\n\n" + chunk
		} else if chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
	}

	for _, para := range splitParagraphs(text) {
		if len(para) > c.Size {
			flush()
			chunks = append(chunks, c.windowSentences(para)...)
			continue
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > c.Size {
			flush()
			// Seed the next chunk with the tail of the previous one.
			if c.Overlap > 0 && len(chunks) > 0 {
				prev := chunks[len(chunks)-1]
				if len(prev) > c.Overlap {
					current.WriteString(prev[len(prev)-c.Overlap:])
					current.WriteString("\n\n")
				}
			}
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

// windowSentences splits an oversized paragraph into sentence windows with
// overlap.
func (c *Chunker) windowSentences(para string) []string {
	sentences := splitSentences(para)
	if len(sentences) <= 1 {
		// No sentence boundaries; hard-split on runes.
		return c.hardSplit(para)
	}

	var chunks []string
	var current strings.Builder
	for _, sentence := range sentences {
		if current.Len() > 0 && current.Len()+len(sentence)+1 > c.Size {
			chunk := strings.TrimSpace(current.String())
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			current.Reset()
			if c.Overlap > 0 && len(chunk) > c.Overlap {
				current.WriteString(chunk[len(chunk)-c.Overlap:])
				current.WriteString(" ")
			}
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}
	if chunk := strings.TrimSpace(current.String()); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func (c *Chunker) hardSplit(text string) []string {
	runes := []rune(text)
	step := c.Size - c.Overlap
	if step <= 0 {
		step = c.Size
	}
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + c.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[start:end])))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	paras := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}

// splitSentences is a cheap splitter on terminal punctuation followed by
// whitespace. Abbreviations fool it occasionally; chunk boundaries do not
// need to be perfect.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') &&
			(i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n') {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
