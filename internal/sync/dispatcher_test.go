package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/async"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/common"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/connections"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/entity"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/repository"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/secrets"
)

const testSealKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fakeAdapter struct {
	results []Result
	calls   []Request
}

func (f *fakeAdapter) Sync(ctx context.Context, req Request) Result {
	f.calls = append(f.calls, req)
	if len(f.results) == 0 {
		return Result{Success: true, ExternalID: "ext-1"}
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res
}

type harness struct {
	db       *gorm.DB
	receipts repository.ReceiptRepository
	dests    repository.DestinationRepository
	connRepo repository.ConnectionRepository
	ledger   repository.LedgerRepository
	conns    *connections.Service
	adapter  *fakeAdapter
	disp     *Dispatcher
	orgID    uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dsn := fmt.Sprintf("file:disp_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&entity.Receipt{}, &entity.Connection{}, &entity.Destination{}, &entity.SyncedReceipt{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	box, err := secrets.NewBox(testSealKey)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	connRepo := repository.NewConnectionRepository(db, logger)
	conns := connections.NewService(connRepo, box, nil, logger)

	h := &harness{
		db:       db,
		receipts: repository.NewReceiptRepository(db, logger),
		dests:    repository.NewDestinationRepository(db, logger),
		connRepo: connRepo,
		ledger:   repository.NewLedgerRepository(db, logger),
		conns:    conns,
		adapter:  &fakeAdapter{},
		orgID:    uuid.New(),
	}
	h.disp = NewDispatcher(h.receipts, h.dests, h.ledger, conns,
		Registry{constants.DestinationTypeSheets: h.adapter}, nil, logger)
	return h
}

func (h *harness) addReceipt(t *testing.T) *entity.Receipt {
	t.Helper()
	rec := &entity.Receipt{
		ID:         uuid.New(),
		OrgID:      h.orgID,
		Status:     constants.ReceiptStatusExtracted,
		VendorName: "ACME",
		SourceKey:  "r.jpg",
	}
	if err := h.receipts.Create(context.Background(), rec); err != nil {
		t.Fatalf("create receipt: %v", err)
	}
	return rec
}

func (h *harness) addConnection(t *testing.T) *entity.Connection {
	t.Helper()
	box, _ := secrets.NewBox(testSealKey)
	sealed, _ := box.Seal("access-token")
	expiry := time.Now().Add(time.Hour)
	conn := &entity.Connection{
		ID:               uuid.New(),
		OrgID:            h.orgID,
		Service:          constants.DestinationTypeSheets,
		Status:           constants.ConnectionStatusActive,
		AccessCiphertext: sealed,
		TokenExpiry:      &expiry,
	}
	if err := h.connRepo.Create(context.Background(), conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	return conn
}

func (h *harness) addDestination(t *testing.T, status constants.DestinationStatus, connID *uuid.UUID) *entity.Destination {
	t.Helper()
	dest := &entity.Destination{
		ID:           uuid.New(),
		OrgID:        h.orgID,
		Type:         constants.DestinationTypeSheets,
		Status:       status,
		Config:       []byte(`{"spreadsheet_id":"s1","sheet_name":"Receipts"}`),
		ConnectionID: connID,
	}
	if err := h.dests.Create(context.Background(), dest); err != nil {
		t.Fatalf("create destination: %v", err)
	}
	return dest
}

func TestDispatchSyncsToRunningDestinations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conn := h.addConnection(t)
	dest := h.addDestination(t, constants.DestinationStatusRunning, &conn.ID)
	rec := h.addReceipt(t)

	err := h.disp.HandleSyncReceipt(ctx, async.Message{Kind: async.KindSyncReceipt, ReceiptID: rec.ID, OrgID: h.orgID})
	if err != nil {
		t.Fatalf("HandleSyncReceipt: %v", err)
	}
	if len(h.adapter.calls) != 1 {
		t.Fatalf("adapter called %d times, want 1", len(h.adapter.calls))
	}
	call := h.adapter.calls[0]
	if call.UpdateType != constants.UpdateTypeAdd {
		t.Fatalf("first sync update type = %v, want ADD", call.UpdateType)
	}
	if call.Credentials.AccessToken != "access-token" {
		t.Fatal("adapter did not receive opened credentials")
	}

	row, err := h.ledger.Get(ctx, rec.ID, dest.ID)
	if err != nil {
		t.Fatalf("ledger Get: %v", err)
	}
	if row.Status != constants.SyncStatusSent || row.ExternalID != "ext-1" {
		t.Fatalf("ledger row after success: %+v", row)
	}
}

func TestDispatchSecondDeliveryIsModify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conn := h.addConnection(t)
	h.addDestination(t, constants.DestinationStatusRunning, &conn.ID)
	rec := h.addReceipt(t)
	msg := async.Message{Kind: async.KindSyncReceipt, ReceiptID: rec.ID, OrgID: h.orgID}

	_ = h.disp.HandleSyncReceipt(ctx, msg)
	_ = h.disp.HandleSyncReceipt(ctx, msg)

	if len(h.adapter.calls) != 2 {
		t.Fatalf("adapter called %d times, want 2", len(h.adapter.calls))
	}
	second := h.adapter.calls[1]
	if second.UpdateType != constants.UpdateTypeModify {
		t.Fatalf("redelivered sync update type = %v, want MODIFY", second.UpdateType)
	}
	if second.ExistingExternalID != "ext-1" {
		t.Fatal("prior external id not carried into the retry")
	}
}

func TestDispatchArchivedReceiptIsRemove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conn := h.addConnection(t)
	h.addDestination(t, constants.DestinationStatusRunning, &conn.ID)
	rec := h.addReceipt(t)
	msg := async.Message{Kind: async.KindSyncReceipt, ReceiptID: rec.ID, OrgID: h.orgID}
	_ = h.disp.HandleSyncReceipt(ctx, msg)

	now := time.Now().UTC()
	h.db.Model(&entity.Receipt{}).Where("id = ?", rec.ID).Update("archived_at", now)

	_ = h.disp.HandleSyncReceipt(ctx, msg)
	last := h.adapter.calls[len(h.adapter.calls)-1]
	if last.UpdateType != constants.UpdateTypeRemove {
		t.Fatalf("archived receipt update type = %v, want REMOVE", last.UpdateType)
	}
}

func TestDispatchSkipsPausedDestination(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conn := h.addConnection(t)
	paused := h.addDestination(t, constants.DestinationStatusPaused, &conn.ID)
	rec := h.addReceipt(t)

	err := h.disp.HandleSyncReceipt(ctx, async.Message{
		Kind:           async.KindSyncReceipt,
		ReceiptID:      rec.ID,
		OrgID:          h.orgID,
		DestinationIDs: []uuid.UUID{paused.ID},
	})
	if err != nil {
		t.Fatalf("HandleSyncReceipt: %v", err)
	}
	if len(h.adapter.calls) != 0 {
		t.Fatal("paused destination must not reach the adapter")
	}
	row, err := h.ledger.Get(ctx, rec.ID, paused.ID)
	if err != nil {
		t.Fatalf("ledger Get: %v", err)
	}
	if row.Status != constants.SyncStatusSkipped {
		t.Fatalf("ledger row status = %v, want SKIPPED", row.Status)
	}
}

func TestDispatchFailureIsolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conn := h.addConnection(t)
	destA := h.addDestination(t, constants.DestinationStatusRunning, &conn.ID)
	destB := h.addDestination(t, constants.DestinationStatusRunning, &conn.ID)
	rec := h.addReceipt(t)

	h.adapter.results = []Result{
		{Success: false, Err: common.NetworkError("socket closed", nil), ShouldRetry: true},
		{Success: true, ExternalID: "ext-2"},
	}
	err := h.disp.HandleSyncReceipt(ctx, async.Message{Kind: async.KindSyncReceipt, ReceiptID: rec.ID, OrgID: h.orgID})
	if err != nil {
		t.Fatalf("HandleSyncReceipt: %v", err)
	}

	rowA, _ := h.ledger.Get(ctx, rec.ID, destA.ID)
	rowB, _ := h.ledger.Get(ctx, rec.ID, destB.ID)
	statuses := map[constants.SyncStatus]int{rowA.Status: 1, rowB.Status: 1}
	if statuses[constants.SyncStatusPendingRetry]+statuses[constants.SyncStatusSent] != 2 {
		t.Fatalf("expected one PENDING_RETRY and one SENT, got %v / %v", rowA.Status, rowB.Status)
	}
}

func TestDispatchNonRetryableFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conn := h.addConnection(t)
	dest := h.addDestination(t, constants.DestinationStatusRunning, &conn.ID)
	rec := h.addReceipt(t)

	h.adapter.results = []Result{{Success: false, Err: common.ValidationError("bad mapping", nil), ShouldRetry: false}}
	_ = h.disp.HandleSyncReceipt(ctx, async.Message{Kind: async.KindSyncReceipt, ReceiptID: rec.ID, OrgID: h.orgID})

	row, _ := h.ledger.Get(ctx, rec.ID, dest.ID)
	if row.Status != constants.SyncStatusFailed {
		t.Fatalf("non-retryable failure status = %v, want FAILED", row.Status)
	}
	if row.RetryCount != 0 {
		t.Fatalf("non-retryable failure must not consume retries, count = %d", row.RetryCount)
	}
}

func TestDispatchAuthFailureTaintsConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conn := h.addConnection(t)
	h.addDestination(t, constants.DestinationStatusRunning, &conn.ID)
	rec := h.addReceipt(t)

	h.adapter.results = []Result{{Success: false, Err: common.AuthorizationError("token revoked", nil), ShouldRetry: false}}
	_ = h.disp.HandleSyncReceipt(ctx, async.Message{Kind: async.KindSyncReceipt, ReceiptID: rec.ID, OrgID: h.orgID})

	got, _ := h.connRepo.GetByID(ctx, conn.ID)
	if got.LastFailedAt == nil {
		t.Fatal("authorization failure must be recorded on the connection")
	}
}

func TestDispatchRateLimitDoesNotTaintConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conn := h.addConnection(t)
	h.addDestination(t, constants.DestinationStatusRunning, &conn.ID)
	rec := h.addReceipt(t)

	h.adapter.results = []Result{{Success: false, Err: common.RateLimitError("quota", time.Minute), ShouldRetry: true}}
	_ = h.disp.HandleSyncReceipt(ctx, async.Message{Kind: async.KindSyncReceipt, ReceiptID: rec.ID, OrgID: h.orgID})

	got, _ := h.connRepo.GetByID(ctx, conn.ID)
	if got.LastFailedAt != nil {
		t.Fatal("rate limiting must not count against connection health")
	}
}

func TestDispatchRateLimitHonorsRetryAfter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conn := h.addConnection(t)
	dest := h.addDestination(t, constants.DestinationStatusRunning, &conn.ID)
	rec := h.addReceipt(t)

	hint := 5 * constants.RetryCooldown
	h.adapter.results = []Result{{Success: false, Err: common.RateLimitError("quota", hint), ShouldRetry: true}}
	before := time.Now().UTC()
	_ = h.disp.HandleSyncReceipt(ctx, async.Message{Kind: async.KindSyncReceipt, ReceiptID: rec.ID, OrgID: h.orgID})

	row, _ := h.ledger.Get(ctx, rec.ID, dest.ID)
	if row.Status != constants.SyncStatusPendingRetry {
		t.Fatalf("status = %v, want PENDING_RETRY", row.Status)
	}
	if row.NextRetryAt == nil {
		t.Fatal("next retry was not scheduled")
	}
	if row.NextRetryAt.Before(before.Add(hint)) {
		t.Fatalf("next retry at %v ignores the server backoff hint", row.NextRetryAt)
	}
}

func TestDispatchMissingReceipt(t *testing.T) {
	h := newHarness(t)
	err := h.disp.HandleSyncReceipt(context.Background(), async.Message{Kind: async.KindSyncReceipt, ReceiptID: uuid.New()})
	if common.KindOf(err) != common.KindNotFound {
		t.Fatalf("missing receipt error kind = %v, want NOT_FOUND", common.KindOf(err))
	}
}

type captureQueue struct {
	msgs []async.Message
}

func (c *captureQueue) Enqueue(_ context.Context, msg async.Message) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureQueue) Shutdown(context.Context) {}

func TestSweepGroupsByReceipt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	past := time.Now().UTC().Add(-2 * constants.RetryCooldown)

	recA, recB := uuid.New(), uuid.New()
	destX, destY := uuid.New(), uuid.New()
	for _, pair := range [][2]uuid.UUID{{recA, destX}, {recA, destY}, {recB, destX}} {
		row, err := h.ledger.GetOrCreate(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		if _, err := h.ledger.MarkRetryable(ctx, row.ID, "flaky", 0, past); err != nil {
			t.Fatalf("MarkRetryable: %v", err)
		}
	}

	q := &captureQueue{}
	sched := NewScheduler(h.ledger, q, nil, logger)
	n, err := sched.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 3 {
		t.Fatalf("requeued %d entries, want 3", n)
	}
	if len(q.msgs) != 2 {
		t.Fatalf("enqueued %d messages, want one per receipt", len(q.msgs))
	}
	byReceipt := map[uuid.UUID]int{}
	for _, m := range q.msgs {
		if m.Kind != async.KindSyncReceipt {
			t.Fatalf("unexpected kind %v", m.Kind)
		}
		byReceipt[m.ReceiptID] = len(m.DestinationIDs)
	}
	if byReceipt[recA] != 2 || byReceipt[recB] != 1 {
		t.Fatalf("destination grouping wrong: %v", byReceipt)
	}
}

func TestSweepEmptyLedger(t *testing.T) {
	h := newHarness(t)
	q := &captureQueue{}
	sched := NewScheduler(h.ledger, q, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := sched.Sweep(context.Background())
	if err != nil || n != 0 || len(q.msgs) != 0 {
		t.Fatalf("empty sweep: n=%d err=%v msgs=%d", n, err, len(q.msgs))
	}
}
