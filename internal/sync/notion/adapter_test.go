package notion

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/common"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/connections"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/entity"
	syncpkg "github.com/Kriebel-LLC/receiptsync-sub000/internal/sync"
)

// fakeNotion emulates database schema reads, rich_text queries, and page
// create/update/archive.
type fakeNotion struct {
	t *testing.T

	schema map[string]map[string]string // property name -> {id, type}
	// receipt id -> page ids
	pages map[string][]string

	creates    int
	updates    int
	archives   int
	queries    int
	lastCreate map[string]any
	lastUpdate map[string]any
	failStatus int
	failCode   string
}

func newFakeNotion(t *testing.T) *fakeNotion {
	return &fakeNotion{
		t: t,
		schema: map[string]map[string]string{
			"Name":       {"id": "ttl", "type": "title"},
			"Vendor":     {"id": "vnd", "type": "rich_text"},
			"Amount":     {"id": "amt", "type": "number"},
			"Date":       {"id": "dte", "type": "date"},
			"Category":   {"id": "cat", "type": "select"},
			"Receipt ID": {"id": "rid", "type": "rich_text"},
		},
		pages: map[string][]string{},
	}
}

func (f *fakeNotion) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.failStatus != 0 {
			w.WriteHeader(f.failStatus)
			_ = json.NewEncoder(w).Encode(map[string]string{"code": f.failCode, "message": "injected"})
			return
		}
		body, _ := io.ReadAll(r.Body)
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/databases/"):
			props := map[string]any{}
			for name, p := range f.schema {
				props[name] = map[string]any{"id": p["id"], "type": p["type"]}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"properties": props})

		case strings.HasSuffix(r.URL.Path, "/query"):
			f.queries++
			var req struct {
				Filter struct {
					Property string `json:"property"`
					RichText struct {
						Equals string `json:"equals"`
					} `json:"rich_text"`
				} `json:"filter"`
			}
			_ = json.Unmarshal(body, &req)
			results := []map[string]string{}
			for _, id := range f.pages[req.Filter.RichText.Equals] {
				results = append(results, map[string]string{"id": id})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"results": results})

		case r.Method == http.MethodPost && r.URL.Path == "/pages":
			f.creates++
			var req struct {
				Properties map[string]any `json:"properties"`
			}
			_ = json.Unmarshal(body, &req)
			f.lastCreate = req.Properties
			pageID := uuid.NewString()
			if rid, ok := extractRichText(req.Properties["Receipt ID"]); ok {
				f.pages[rid] = append(f.pages[rid], pageID)
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"id": pageID})

		case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/pages/"):
			var req struct {
				Archived   *bool          `json:"archived"`
				Properties map[string]any `json:"properties"`
			}
			_ = json.Unmarshal(body, &req)
			if req.Archived != nil && *req.Archived {
				f.archives++
			} else {
				f.updates++
				f.lastUpdate = req.Properties
			}
			_, _ = w.Write([]byte(`{}`))

		default:
			f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	})
}

func extractRichText(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	arr, ok := m["rich_text"].([]any)
	if !ok || len(arr) == 0 {
		return "", false
	}
	item, _ := arr[0].(map[string]any)
	text, _ := item["text"].(map[string]any)
	s, ok := text["content"].(string)
	return s, ok
}

func newTestAdapter(t *testing.T, fake *fakeNotion) *Adapter {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAdapter(NewClient(srv.URL, logger), logger)
}

func testRequest(update constants.UpdateType) syncpkg.Request {
	amount := 14.20
	txDate := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	return syncpkg.Request{
		Receipt: &entity.Receipt{
			ID:           uuid.New(),
			VendorName:   "Chipotle",
			Amount:       &amount,
			TxDate:       &txDate,
			CategoryName: "Food",
		},
		Destination: &entity.Destination{
			ID:     uuid.New(),
			Type:   constants.DestinationTypeNotion,
			Config: []byte(`{"database_id":"db-1"}`),
		},
		Credentials: connections.Credentials{AccessToken: "tok", TokenType: "Bearer"},
		UpdateType:  update,
	}
}

func TestAddCreatesPage(t *testing.T) {
	fake := newFakeNotion(t)
	adapter := newTestAdapter(t, fake)

	res := adapter.Sync(context.Background(), testRequest(constants.UpdateTypeAdd))
	if !res.Success {
		t.Fatalf("Sync failed: %v", res.Err)
	}
	if fake.creates != 1 {
		t.Fatalf("creates = %d, want 1", fake.creates)
	}
	if res.ExternalID == "" {
		t.Fatal("external id must carry the page id")
	}
	// Mapped fields landed on the right property types.
	amt, ok := fake.lastCreate["Amount"].(map[string]any)
	if !ok {
		t.Fatal("amount property missing from payload")
	}
	if _, ok := amt["number"]; !ok {
		t.Fatal("amount not rendered as a number property")
	}
	if _, ok := fake.lastCreate["Name"]; !ok {
		t.Fatal("title property must always be filled")
	}
	if _, ok := fake.lastCreate["Receipt ID"]; !ok {
		t.Fatal("receipt id property must be written for future lookups")
	}
}

func TestAddIsIdempotent(t *testing.T) {
	fake := newFakeNotion(t)
	adapter := newTestAdapter(t, fake)
	req := testRequest(constants.UpdateTypeAdd)

	first := adapter.Sync(context.Background(), req)
	second := adapter.Sync(context.Background(), req)
	if !first.Success || !second.Success {
		t.Fatalf("syncs failed: %v / %v", first.Err, second.Err)
	}
	if fake.creates != 1 {
		t.Fatalf("duplicate Add created again: %d creates", fake.creates)
	}
	if second.ExternalID != first.ExternalID {
		t.Fatal("duplicate Add must report the same page")
	}
}

func TestModifyFallsBackToCreate(t *testing.T) {
	fake := newFakeNotion(t)
	adapter := newTestAdapter(t, fake)

	res := adapter.Sync(context.Background(), testRequest(constants.UpdateTypeModify))
	if !res.Success {
		t.Fatalf("Sync failed: %v", res.Err)
	}
	if fake.creates != 1 || fake.updates != 0 {
		t.Fatalf("creates=%d updates=%d, want create fallback", fake.creates, fake.updates)
	}
}

func TestModifyUpdatesExistingPage(t *testing.T) {
	fake := newFakeNotion(t)
	adapter := newTestAdapter(t, fake)
	req := testRequest(constants.UpdateTypeAdd)
	_ = adapter.Sync(context.Background(), req)

	req.Receipt.VendorName = "Chipotle Mexican Grill"
	req.UpdateType = constants.UpdateTypeModify
	res := adapter.Sync(context.Background(), req)
	if !res.Success {
		t.Fatalf("Sync failed: %v", res.Err)
	}
	if fake.updates != 1 || fake.creates != 1 {
		t.Fatalf("updates=%d creates=%d, want in-place update", fake.updates, fake.creates)
	}
	if got, _ := extractRichText(fake.lastUpdate["Vendor"]); got != "Chipotle Mexican Grill" {
		t.Fatalf("updated vendor = %q", got)
	}
}

func TestRemoveArchivesPages(t *testing.T) {
	fake := newFakeNotion(t)
	adapter := newTestAdapter(t, fake)
	req := testRequest(constants.UpdateTypeAdd)
	_ = adapter.Sync(context.Background(), req)

	req.UpdateType = constants.UpdateTypeRemove
	res := adapter.Sync(context.Background(), req)
	if !res.Success {
		t.Fatalf("Sync failed: %v", res.Err)
	}
	if fake.archives != 1 {
		t.Fatalf("archives = %d, want 1", fake.archives)
	}
}

func TestRemoveWithoutPageIsNoop(t *testing.T) {
	fake := newFakeNotion(t)
	adapter := newTestAdapter(t, fake)

	res := adapter.Sync(context.Background(), testRequest(constants.UpdateTypeRemove))
	if !res.Success {
		t.Fatalf("Sync failed: %v", res.Err)
	}
	if fake.archives != 0 {
		t.Fatal("nothing to archive")
	}
}

func TestMissingReceiptIDPropertyFails(t *testing.T) {
	fake := newFakeNotion(t)
	delete(fake.schema, "Receipt ID")
	adapter := newTestAdapter(t, fake)

	res := adapter.Sync(context.Background(), testRequest(constants.UpdateTypeAdd))
	if res.Success {
		t.Fatal("expected failure without a queryable id property")
	}
	if common.KindOf(res.Err) != common.KindValidation {
		t.Fatalf("error kind = %v, want VALIDATION", common.KindOf(res.Err))
	}
}

func TestIncompatiblePropertyIsSkipped(t *testing.T) {
	fake := newFakeNotion(t)
	// Amount is a date property in this workspace; the number cannot land
	// there, but the sync still succeeds.
	fake.schema["Amount"] = map[string]string{"id": "amt", "type": "date"}
	adapter := newTestAdapter(t, fake)

	res := adapter.Sync(context.Background(), testRequest(constants.UpdateTypeAdd))
	if !res.Success {
		t.Fatalf("Sync failed: %v", res.Err)
	}
	if _, present := fake.lastCreate["Amount"]; present {
		t.Fatal("incompatible property must be skipped, not written")
	}
}

func TestFieldMappingOverride(t *testing.T) {
	fake := newFakeNotion(t)
	fake.schema["Merchant"] = map[string]string{"id": "mrc", "type": "rich_text"}
	adapter := newTestAdapter(t, fake)

	req := testRequest(constants.UpdateTypeAdd)
	req.Destination.Config = []byte(`{"database_id":"db-1","field_mapping":{"vendor":"Merchant"}}`)
	res := adapter.Sync(context.Background(), req)
	if !res.Success {
		t.Fatalf("Sync failed: %v", res.Err)
	}
	if got, _ := extractRichText(fake.lastCreate["Merchant"]); got != "Chipotle" {
		t.Fatalf("override target value = %q", got)
	}
}

func TestAuthErrorClassification(t *testing.T) {
	fake := newFakeNotion(t)
	fake.failStatus = http.StatusForbidden
	fake.failCode = "restricted_resource"
	adapter := newTestAdapter(t, fake)

	res := adapter.Sync(context.Background(), testRequest(constants.UpdateTypeAdd))
	if res.ShouldRetry {
		t.Fatal("revoked access must not be retryable")
	}
	if common.KindOf(res.Err) != common.KindAuthorization {
		t.Fatalf("error kind = %v, want AUTHORIZATION", common.KindOf(res.Err))
	}
}

func TestRateLimitClassification(t *testing.T) {
	fake := newFakeNotion(t)
	fake.failStatus = http.StatusTooManyRequests
	fake.failCode = "rate_limited"
	adapter := newTestAdapter(t, fake)

	res := adapter.Sync(context.Background(), testRequest(constants.UpdateTypeAdd))
	if !res.ShouldRetry {
		t.Fatal("rate limit must be retryable")
	}
	if common.KindOf(res.Err) != common.KindRateLimit {
		t.Fatalf("error kind = %v, want RATE_LIMIT", common.KindOf(res.Err))
	}
}

func TestIncompleteConfig(t *testing.T) {
	fake := newFakeNotion(t)
	adapter := newTestAdapter(t, fake)
	req := testRequest(constants.UpdateTypeAdd)
	req.Destination.Config = []byte(`{}`)

	res := adapter.Sync(context.Background(), req)
	if res.Success || common.KindOf(res.Err) != common.KindValidation {
		t.Fatalf("expected validation failure, got %+v", res)
	}
}
