package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Kriebel-LLC/receiptsync-sub000/internal/common"
)

// DefaultBaseURL targets the Google Sheets v4 REST surface.
const DefaultBaseURL = "https://sheets.googleapis.com/v4"

// Client is a minimal typed client over the spreadsheet REST API: metadata
// search, value append/update/clear, and metadata create/delete. Writes go
// through a shared limiter to stay under the per-minute write quota.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

func NewClient(baseURL string, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// Sheets allows 60 write requests per minute per user.
		limiter: rate.NewLimiter(rate.Limit(1), 5),
		log:     log,
	}
}

// tagMatch is one developer-metadata hit: the anchored row (1-based) and
// the receipt id stored in the metadata value.
type tagMatch struct {
	Row        int
	MetadataID int64
	ReceiptID  string
}

// searchTag finds developer metadata entries whose key encodes the tag.
func (c *Client) searchTag(ctx context.Context, token, spreadsheetID string, tag int32) ([]tagMatch, error) {
	body := map[string]any{
		"dataFilters": []map[string]any{
			{"developerMetadataLookup": map[string]any{"metadataKey": metadataKey(tag)}},
		},
	}
	var out struct {
		MatchedDeveloperMetadata []struct {
			DeveloperMetadata struct {
				MetadataID    int64  `json:"metadataId"`
				MetadataValue string `json:"metadataValue"`
				Location      struct {
					DimensionRange struct {
						StartIndex int `json:"startIndex"`
					} `json:"dimensionRange"`
				} `json:"location"`
			} `json:"developerMetadata"`
		} `json:"matchedDeveloperMetadata"`
	}
	path := fmt.Sprintf("/spreadsheets/%s/developerMetadata:search", url.PathEscape(spreadsheetID))
	if err := c.do(ctx, token, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	matches := make([]tagMatch, 0, len(out.MatchedDeveloperMetadata))
	for _, m := range out.MatchedDeveloperMetadata {
		matches = append(matches, tagMatch{
			Row:        m.DeveloperMetadata.Location.DimensionRange.StartIndex + 1,
			MetadataID: m.DeveloperMetadata.MetadataID,
			ReceiptID:  m.DeveloperMetadata.MetadataValue,
		})
	}
	return matches, nil
}

// appendRow appends values to the sheet and returns the 1-based row index
// the values landed on.
func (c *Client) appendRow(ctx context.Context, token, spreadsheetID, sheetName string, values []any) (int, error) {
	if err := c.waitWrite(ctx); err != nil {
		return 0, err
	}
	rangeRef := fmt.Sprintf("%s!A:%s", sheetName, columnLetter(len(values)))
	path := fmt.Sprintf("/spreadsheets/%s/values/%s:append?valueInputOption=USER_ENTERED",
		url.PathEscape(spreadsheetID), url.PathEscape(rangeRef))
	body := map[string]any{"values": [][]any{values}}
	var out struct {
		Updates struct {
			UpdatedRange string `json:"updatedRange"`
		} `json:"updates"`
	}
	if err := c.do(ctx, token, http.MethodPost, path, body, &out); err != nil {
		return 0, err
	}
	row, err := rowFromRange(out.Updates.UpdatedRange)
	if err != nil {
		return 0, common.UnknownError("unparseable append response range", err)
	}
	return row, nil
}

// updateRow overwrites the template range of one row.
func (c *Client) updateRow(ctx context.Context, token, spreadsheetID, sheetName string, row int, values []any) error {
	if err := c.waitWrite(ctx); err != nil {
		return err
	}
	rangeRef := fmt.Sprintf("%s!A%d:%s%d", sheetName, row, columnLetter(len(values)), row)
	path := fmt.Sprintf("/spreadsheets/%s/values/%s?valueInputOption=USER_ENTERED",
		url.PathEscape(spreadsheetID), url.PathEscape(rangeRef))
	body := map[string]any{"values": [][]any{values}}
	return c.do(ctx, token, http.MethodPut, path, body, nil)
}

// clearRow blanks the template range of one row, leaving the row in place
// so other tags keep their row numbers.
func (c *Client) clearRow(ctx context.Context, token, spreadsheetID, sheetName string, row, width int) error {
	if err := c.waitWrite(ctx); err != nil {
		return err
	}
	rangeRef := fmt.Sprintf("%s!A%d:%s%d", sheetName, row, columnLetter(width), row)
	path := fmt.Sprintf("/spreadsheets/%s/values/%s:clear",
		url.PathEscape(spreadsheetID), url.PathEscape(rangeRef))
	return c.do(ctx, token, http.MethodPost, path, map[string]any{}, nil)
}

// createTag anchors tag metadata to a row.
func (c *Client) createTag(ctx context.Context, token, spreadsheetID string, sheetID int64, row int, tag int32, receiptID string) error {
	if err := c.waitWrite(ctx); err != nil {
		return err
	}
	body := map[string]any{
		"requests": []map[string]any{{
			"createDeveloperMetadata": map[string]any{
				"developerMetadata": map[string]any{
					"metadataKey":   metadataKey(tag),
					"metadataValue": receiptID,
					"visibility":    "PROJECT",
					"location": map[string]any{
						"dimensionRange": map[string]any{
							"sheetId":    sheetID,
							"dimension":  "ROWS",
							"startIndex": row - 1,
							"endIndex":   row,
						},
					},
				},
			},
		}},
	}
	path := fmt.Sprintf("/spreadsheets/%s:batchUpdate", url.PathEscape(spreadsheetID))
	return c.do(ctx, token, http.MethodPost, path, body, nil)
}

// deleteTag removes the metadata entry by id.
func (c *Client) deleteTag(ctx context.Context, token, spreadsheetID string, metadataID int64) error {
	if err := c.waitWrite(ctx); err != nil {
		return err
	}
	body := map[string]any{
		"requests": []map[string]any{{
			"deleteDeveloperMetadata": map[string]any{
				"dataFilter": map[string]any{
					"developerMetadataLookup": map[string]any{"metadataId": metadataID},
				},
			},
		}},
	}
	path := fmt.Sprintf("/spreadsheets/%s:batchUpdate", url.PathEscape(spreadsheetID))
	return c.do(ctx, token, http.MethodPost, path, body, nil)
}

func (c *Client) waitWrite(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return common.NetworkError("rate limiter wait cancelled", err)
	}
	return nil
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
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.NetworkError("spreadsheet api unreachable", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Warn("spreadsheet response body close error", "error", cerr)
		}
	}()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return common.UnknownError("decode spreadsheet response", err)
		}
	}
	return nil
}

// classifyStatus maps HTTP failures onto the closed error taxonomy. 429
// carries the server-specified backoff.
func classifyStatus(resp *http.Response, raw []byte) error {
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return common.RateLimitError("spreadsheet api rate limited", parseRetryAfter(resp))
	case http.StatusUnauthorized, http.StatusForbidden:
		return common.AuthorizationError("spreadsheet credentials rejected", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	case http.StatusNotFound:
		return common.NotFoundError("spreadsheet or sheet not found", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	case http.StatusBadRequest:
		return common.ValidationError("spreadsheet request rejected", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}
	if resp.StatusCode >= 500 {
		return common.NetworkError("spreadsheet api server error", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}
	return common.UnknownError(fmt.Sprintf("spreadsheet api status %d", resp.StatusCode), fmt.Errorf("%s", msg))
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func metadataKey(tag int32) string {
	return "receiptsync:" + strconv.FormatInt(int64(tag), 10)
}

// rowFromRange pulls the row number out of an A1 range like "Sheet1!A5:K5".
func rowFromRange(ref string) (int, error) {
	if i := strings.IndexByte(ref, '!'); i >= 0 {
		ref = ref[i+1:]
	}
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		ref = ref[:i]
	}
	digits := strings.TrimLeftFunc(ref, func(r rune) bool { return r >= 'A' && r <= 'Z' })
	row, err := strconv.Atoi(digits)
	if err != nil || row < 1 {
		return 0, fmt.Errorf("no row in range %q", ref)
	}
	return row, nil
}

// columnLetter returns the A1 column letter for a 1-based width (A..Z only;
// the row template is well under 26 columns).
func columnLetter(width int) string {
	if width < 1 || width > 26 {
		width = 26
	}
	return string(rune('A' + width - 1))
}
