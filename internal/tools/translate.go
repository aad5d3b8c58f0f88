package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minhdn/ragserve/internal/llm"
)

// DefaultTranslateBaseURL is the MyMemory endpoint, free without a key.
const DefaultTranslateBaseURL = "https://api.mymemory.translated.net"

// TranslateTool translates text between languages via MyMemory.
type TranslateTool struct {
	baseURL string
	client  *http.Client
}

// NewTranslateTool creates the tool. An empty baseURL uses MyMemory.
func NewTranslateTool(baseURL string) *TranslateTool {
	if baseURL == "" {
		baseURL = DefaultTranslateBaseURL
	}
	return &TranslateTool{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *TranslateTool) Name() string { return "translate" }

func (t *TranslateTool) Definition() llm.ToolDef {
	return schema(t.Name(),
		"Translate text between languages. Language codes are ISO 639-1 (en, vi, fr, ...).",
		`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "description": "Text to translate"},
				"source": {"type": "string", "description": "Source language code, default en"},
				"target": {"type": "string", "description": "Target language code"}
			},
			"required": ["text", "target"]
		}`)
}

type translateArgs struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type myMemoryResponse struct {
	ResponseData struct {
		TranslatedText string `json:"translatedText"`
	} `json:"responseData"`
	ResponseStatus interface{} `json:"responseStatus"`
}

func (t *TranslateTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var a translateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid translate arguments: %w", err)
	}
	if strings.TrimSpace(a.Text) == "" || strings.TrimSpace(a.Target) == "" {
		return "", fmt.Errorf("text and target are required")
	}
	if a.Source == "" {
		a.Source = "en"
	}

	query := url.Values{}
	query.Set("q", a.Text)
	query.Set("langpair", a.Source+"|"+a.Target)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.baseURL+"/get?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("translation service unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translation service returned status %d", resp.StatusCode)
	}

	var result myMemoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode translation response: %w", err)
	}
	if result.ResponseData.TranslatedText == "" {
		return "", fmt.Errorf("empty translation result")
	}
	return result.ResponseData.TranslatedText, nil
}
