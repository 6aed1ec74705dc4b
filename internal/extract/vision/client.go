// Package vision is the HTTP client for the document-understanding service
// (an OpenAI-compatible chat/completions endpoint with image input).
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Kriebel-LLC/receiptsync-sub000/internal/extract"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

// Annotate submits the image with a JSON-schema-constrained prompt and
// returns the model's text content verbatim. Interpretation (including the
// fallback ladder for malformed output) belongs to the engine.
func (c *Client) Annotate(ctx context.Context, req extract.AnnotateRequest) (string, string, error) {
	start := time.Now()
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	imageRef := req.ImageURL
	if req.DataURL != "" {
		imageRef = req.DataURL
	}

	c.log.Info("vision.annotate.start",
		"model", model,
		"inline", req.DataURL != "",
		"media_type", req.MediaType,
	)

	body := map[string]any{
		"model":           model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt()},
			{"role": "user", "content": []map[string]any{
				{"type": "text", "text": "Extract the receipt fields from this image. Return ONLY JSON that matches the provided schema."},
				{"type": "image_url", "image_url": map[string]any{"url": imageRef}},
			}},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(req.Schema)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.log.Error("vision.annotate.http_error",
			"error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", model, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("vision.annotate.decode_error",
			"error", err, "raw_bytes", len(raw))
		return "", model, fmt.Errorf("decode vision response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", model, fmt.Errorf("no choices in vision response")
	}

	c.log.Info("vision.annotate.ok", "elapsed_ms", time.Since(start).Milliseconds())
	return cc.Choices[0].Message.Content, model, nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision http error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Warn("vision response body close error", "error", err)
		}
	}(resp.Body)

	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("vision status %d: %s", resp.StatusCode, buf.String())
	}
	return buf.Bytes(), nil
}

func systemPrompt() string {
	parts := []string{
		"You are a receipts parser. Return ONLY JSON that matches the JSON Schema provided.",
		"Use ISO-8601 dates (YYYY-MM-DD).",
		"Currency must be a 3-letter ISO 4217 code.",
		"Report per-field confidences between 0 and 1 under 'confidences'.",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
