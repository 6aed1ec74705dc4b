package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Kriebel-LLC/receiptsync-sub000/internal/common"
)

const (
	DefaultBaseURL = "https://api.notion.com/v1"
	apiVersion     = "2022-06-28"
)

// Client is a minimal typed client over the document-database REST API:
// schema read, query by property, page create/update/archive.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(baseURL string, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// Property is one column of the live destination schema.
type Property struct {
	ID   string `json:"id"`
	Name string `json:"-"`
	Type string `json:"type"`
}

// Schema fetches the database's property table keyed by property name.
func (c *Client) Schema(ctx context.Context, token, databaseID string) (map[string]Property, error) {
	var out struct {
		Properties map[string]Property `json:"properties"`
	}
	if err := c.do(ctx, token, http.MethodGet, "/databases/"+databaseID, nil, &out); err != nil {
		return nil, err
	}
	props := make(map[string]Property, len(out.Properties))
	for name, p := range out.Properties {
		p.Name = name
		props[name] = p
	}
	return props, nil
}

// QueryByText returns ids of pages whose rich_text property equals value.
func (c *Client) QueryByText(ctx context.Context, token, databaseID, propertyName, value string) ([]string, error) {
	body := map[string]any{
		"filter": map[string]any{
			"property":  propertyName,
			"rich_text": map[string]any{"equals": value},
		},
	}
	var out struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := c.do(ctx, token, http.MethodPost, "/databases/"+databaseID+"/query", body, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out.Results))
	for _, r := range out.Results {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// CreatePage creates a record with the given property payload.
func (c *Client) CreatePage(ctx context.Context, token, databaseID string, properties map[string]any) (string, error) {
	body := map[string]any{
		"parent":     map[string]any{"database_id": databaseID},
		"properties": properties,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, token, http.MethodPost, "/pages", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// UpdatePage overwrites the given properties of an existing record.
func (c *Client) UpdatePage(ctx context.Context, token, pageID string, properties map[string]any) error {
	return c.do(ctx, token, http.MethodPatch, "/pages/"+pageID, map[string]any{"properties": properties}, nil)
}

// ArchivePage soft-deletes a record.
func (c *Client) ArchivePage(ctx context.Context, token, pageID string) error {
	return c.do(ctx, token, http.MethodPatch, "/pages/"+pageID, map[string]any{"archived": true}, nil)
}

func (c *Client) do(ctx context.Context, token, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return common.UnknownError("marshal request", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return common.UnknownError("build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Notion-Version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.NetworkError("document database unreachable", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Warn("notion response body close error", "error", cerr)
		}
	}()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyError(resp, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return common.UnknownError("decode notion response", err)
		}
	}
	return nil
}

// classifyError translates the API's error codes into the closed taxonomy.
func classifyError(resp *http.Response, raw []byte) error {
	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
		if len(msg) > 300 {
			msg = msg[:300]
		}
	}

	switch apiErr.Code {
	case "unauthorized", "restricted_resource", "invalid_grant":
		return common.AuthorizationError("document database credentials rejected", fmt.Errorf("%s: %s", apiErr.Code, msg))
	case "object_not_found":
		return common.NotFoundError("document database record not found", fmt.Errorf("%s", msg))
	case "rate_limited":
		return common.RateLimitError("document database rate limited", parseRetryAfter(resp))
	case "validation_error", "invalid_json", "invalid_request":
		return common.ValidationError("document database rejected the request", fmt.Errorf("%s: %s", apiErr.Code, msg))
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return common.AuthorizationError("document database credentials rejected", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	case http.StatusNotFound:
		return common.NotFoundError("document database resource not found", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	case http.StatusTooManyRequests:
		return common.RateLimitError("document database rate limited", parseRetryAfter(resp))
	case http.StatusBadRequest:
		return common.ValidationError("document database rejected the request", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}
	if resp.StatusCode >= 500 {
		return common.NetworkError("document database server error", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}
	return common.UnknownError(fmt.Sprintf("document database status %d", resp.StatusCode), fmt.Errorf("%s", msg))
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
