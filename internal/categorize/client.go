package categorize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultModel   = "gemini-3-flash-preview"
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultTimeout = 30 * time.Second
)

const promptTemplate = `Analyze the following unstructured text and categorize it into Tasks, Links, Google Sheets, and Sticky Notes.
If something looks like a task (actionable), put it in tasks.
If it's a URL, check if it's a Google Sheet (contains docs.google.com/spreadsheets) vs a normal link.
For Links, look for explicit user categories (e.g. "Category: Work") or infer a category (e.g., Work, Inspiration, Reference, News) based on the URL or context. If unsure, use "Unsorted".
Everything else should be a note.

Input text:
"%s"`

// responseSchema constrains the model's JSON output. It uses the
// generative language API's OpenAPI subset, not JSON Schema.
var responseSchema = json.RawMessage(`{
  "type": "OBJECT",
  "properties": {
    "tasks": {"type": "ARRAY", "items": {"type": "OBJECT", "properties": {
      "title": {"type": "STRING"},
      "priority": {"type": "STRING", "enum": ["low", "medium", "high"]}}}},
    "links": {"type": "ARRAY", "items": {"type": "OBJECT", "properties": {
      "title": {"type": "STRING"},
      "url": {"type": "STRING"},
      "category": {"type": "STRING"}}}},
    "sheets": {"type": "ARRAY", "items": {"type": "OBJECT", "properties": {
      "title": {"type": "STRING"},
      "url": {"type": "STRING"}}}},
    "notes": {"type": "ARRAY", "items": {"type": "OBJECT", "properties": {
      "content": {"type": "STRING"},
      "color": {"type": "STRING", "enum": ["yellow", "blue", "green", "red", "purple"]}}}}
  }
}`)

// Categorizer sorts free text into drafts. A nil result with a nil error
// means there was nothing to categorize.
type Categorizer interface {
	Categorize(ctx context.Context, text string) (*Result, error)
}

type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini %d: %s", e.StatusCode, e.Message)
}

type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client calls the Gemini generateContent endpoint.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(opts Options) *Client {
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = DefaultModel
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      opts.Model,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseMIMEType string          `json:"responseMimeType"`
	ResponseSchema   json.RawMessage `json:"responseSchema"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (c *Client) Categorize(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: fmt.Sprintf(promptTemplate, text)}}}},
		GenerationConfig: generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   responseSchema,
		},
	})
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("categorize request: %w", err)
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	c.logger.Debug().Int("status", resp.StatusCode).Dur("elapsed", time.Since(started)).Str("model", c.model).Msg("generateContent")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errPayload struct {
			Error struct {
				Message string `json:"message"`
				Status  string `json:"status"`
			} `json:"error"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return nil, &APIError{StatusCode: resp.StatusCode, Status: errPayload.Error.Status, Message: errPayload.Error.Message}
	}

	var decoded generateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if decoded.PromptFeedback != nil && decoded.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w: prompt blocked (%s)", ErrInvalidResponse, decoded.PromptFeedback.BlockReason)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrInvalidResponse)
	}
	text = strings.TrimSpace(decoded.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		text = "{}"
	}
	return ParseResult([]byte(text))
}
