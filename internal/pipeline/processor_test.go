package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/async"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/entity"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/extract"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/repository"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/storage"
)

type countingVision struct {
	mu      sync.Mutex
	calls   int
	content string
	err     error
}

func (c *countingVision) Annotate(ctx context.Context, req extract.AnnotateRequest) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls += 1
	return c.content, "fake-model", c.err
}

type captureQueue struct {
	msgs []async.Message
}

func (c *captureQueue) Enqueue(_ context.Context, msg async.Message) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureQueue) Shutdown(context.Context) {}

type fixture struct {
	receipts repository.ReceiptRepository
	vision   *countingVision
	queue    *captureQueue
	proc     *Processor
	root     string
	orgID    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dsn := fmt.Sprintf("file:pipe_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&entity.Receipt{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	receipts := repository.NewReceiptRepository(db, logger)
	vision := &countingVision{content: `{
		"vendor_name": "Chipotle",
		"total": "14.20",
		"tx_date": "2024-06-01",
		"currency_code": "USD",
		"category": "Food",
		"confidences": {"vendor": 0.9, "amount": 1.0, "date": 0.8, "currency": 0.95}
	}`}
	queue := &captureQueue{}
	root := t.TempDir()

	proc := NewProcessor(
		receipts,
		storage.NewFileStore(root),
		extract.NewHasher(&http.Client{Timeout: time.Second}),
		extract.NewCache(receipts, logger),
		extract.NewEngine(vision, "fake-model", logger),
		queue,
		nil,
		logger,
	)
	return &fixture{receipts: receipts, vision: vision, queue: queue, proc: proc, root: root, orgID: uuid.New()}
}

func (f *fixture) addStoredReceipt(t *testing.T, content string) *entity.Receipt {
	t.Helper()
	key := uuid.NewString() + ".jpg"
	dir := filepath.Join(f.root, "receipts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, key), []byte(content), 0o644); err != nil {
		t.Fatalf("write object: %v", err)
	}
	rec := &entity.Receipt{
		ID:           uuid.New(),
		OrgID:        f.orgID,
		SourceBucket: "receipts",
		SourceKey:    key,
		Status:       constants.ReceiptStatusPending,
	}
	if err := f.receipts.Create(context.Background(), rec); err != nil {
		t.Fatalf("create receipt: %v", err)
	}
	return rec
}

func TestProcessExtractsAndQueuesSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.addStoredReceipt(t, "image-bytes-1")

	err := f.proc.HandleProcessReceipt(ctx, async.Message{Kind: async.KindProcessReceipt, ReceiptID: rec.ID, OrgID: f.orgID})
	if err != nil {
		t.Fatalf("HandleProcessReceipt: %v", err)
	}

	got, _ := f.receipts.GetByID(ctx, rec.ID)
	if got.Status != constants.ReceiptStatusExtracted {
		t.Fatalf("status = %v, want EXTRACTED", got.Status)
	}
	if got.VendorName != "Chipotle" || got.Amount == nil || *got.Amount != 14.20 {
		t.Fatalf("fields not persisted: %+v", got)
	}
	if got.TxDate == nil || got.TxDate.Format("2006-01-02") != "2024-06-01" {
		t.Fatal("transaction date not persisted")
	}
	if got.ContentHash == "" {
		t.Fatal("content hash not persisted")
	}
	if got.ConfidenceScore == nil || *got.ConfidenceScore < 0.9 {
		t.Fatalf("confidence = %v", got.ConfidenceScore)
	}
	if len(f.queue.msgs) != 1 || f.queue.msgs[0].Kind != async.KindSyncReceipt {
		t.Fatalf("expected one SYNC_RECEIPT message, got %v", f.queue.msgs)
	}
}

func TestProcessReusesCachedExtraction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.addStoredReceipt(t, "identical-bytes")
	second := f.addStoredReceipt(t, "identical-bytes")

	if err := f.proc.HandleProcessReceipt(ctx, async.Message{Kind: async.KindProcessReceipt, ReceiptID: first.ID, OrgID: f.orgID}); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := f.proc.HandleProcessReceipt(ctx, async.Message{Kind: async.KindProcessReceipt, ReceiptID: second.ID, OrgID: f.orgID}); err != nil {
		t.Fatalf("second: %v", err)
	}

	if f.vision.calls != 1 {
		t.Fatalf("vision called %d times, want 1 (second extraction served from cache)", f.vision.calls)
	}
	got, _ := f.receipts.GetByID(ctx, second.ID)
	if got.Status != constants.ReceiptStatusExtracted || got.VendorName != "Chipotle" {
		t.Fatalf("cached result not persisted: %+v", got)
	}
	if len(f.queue.msgs) != 2 {
		t.Fatalf("both receipts must still be queued for sync, got %d", len(f.queue.msgs))
	}
}

func TestProcessDifferentContentMissesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.addStoredReceipt(t, "bytes-a")
	b := f.addStoredReceipt(t, "bytes-b")
	_ = f.proc.HandleProcessReceipt(ctx, async.Message{Kind: async.KindProcessReceipt, ReceiptID: a.ID, OrgID: f.orgID})
	_ = f.proc.HandleProcessReceipt(ctx, async.Message{Kind: async.KindProcessReceipt, ReceiptID: b.ID, OrgID: f.orgID})

	if f.vision.calls != 2 {
		t.Fatalf("vision called %d times, want 2", f.vision.calls)
	}
}

func TestProcessAlreadyExtractedSkipsEngine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.addStoredReceipt(t, "image-bytes")
	msg := async.Message{Kind: async.KindProcessReceipt, ReceiptID: rec.ID, OrgID: f.orgID}

	_ = f.proc.HandleProcessReceipt(ctx, msg)
	_ = f.proc.HandleProcessReceipt(ctx, msg)

	if f.vision.calls != 1 {
		t.Fatalf("redelivery re-extracted: %d vision calls", f.vision.calls)
	}
	if len(f.queue.msgs) != 2 {
		t.Fatal("redelivery must still re-issue the sync request")
	}
}

func TestProcessMissingObjectMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := &entity.Receipt{
		ID:           uuid.New(),
		OrgID:        f.orgID,
		SourceBucket: "receipts",
		SourceKey:    "does-not-exist.jpg",
		Status:       constants.ReceiptStatusPending,
	}
	if err := f.receipts.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := f.proc.HandleProcessReceipt(ctx, async.Message{Kind: async.KindProcessReceipt, ReceiptID: rec.ID, OrgID: f.orgID})
	if err != nil {
		t.Fatalf("unreachable image must not redeliver, got %v", err)
	}
	got, _ := f.receipts.GetByID(ctx, rec.ID)
	if got.Status != constants.ReceiptStatusFailed || got.ExtractionError == "" {
		t.Fatalf("after missing object: %+v", got)
	}
	if len(f.queue.msgs) != 0 {
		t.Fatal("failed receipt must not be queued for sync")
	}
}

func TestProcessEmptyVisionAnswerMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.vision.content = ""
	rec := f.addStoredReceipt(t, "image-bytes")

	_ = f.proc.HandleProcessReceipt(ctx, async.Message{Kind: async.KindProcessReceipt, ReceiptID: rec.ID, OrgID: f.orgID})
	got, _ := f.receipts.GetByID(ctx, rec.ID)
	if got.Status != constants.ReceiptStatusFailed {
		t.Fatalf("status = %v, want FAILED", got.Status)
	}
}
