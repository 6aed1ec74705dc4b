// Package pipeline coordinates extraction for one receipt: content hash,
// cache lookup, engine call, persistence, and the hand-off to sync.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/async"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/common"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/entity"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/extract"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/metrics"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/repository"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/storage"
)

type Processor struct {
	receipts repository.ReceiptRepository
	store    storage.Store
	hasher   *extract.Hasher
	cache    *extract.Cache
	engine   *extract.Engine
	queue    async.Queue
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewProcessor(
	receipts repository.ReceiptRepository,
	store storage.Store,
	hasher *extract.Hasher,
	cache *extract.Cache,
	engine *extract.Engine,
	queue async.Queue,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Processor{
		receipts: receipts,
		store:    store,
		hasher:   hasher,
		cache:    cache,
		engine:   engine,
		queue:    queue,
		metrics:  m,
		logger:   logger,
	}
}

// HandleProcessReceipt consumes one PROCESS_RECEIPT message. An already
// extracted receipt is not re-extracted; duplicate deliveries only re-issue
// the sync request, which the ledger makes harmless.
func (p *Processor) HandleProcessReceipt(ctx context.Context, msg async.Message) error {
	rec, err := p.receipts.GetByID(ctx, msg.ReceiptID)
	if err != nil {
		if repository.IsNotFound(err) {
			p.logger.Warn("process.receipt_missing", "receipt_id", msg.ReceiptID)
			return common.NotFoundError("receipt not found", err)
		}
		return err
	}
	log := p.logger.With("receipt_id", rec.ID, "org_id", rec.OrgID)

	if rec.Status == constants.ReceiptStatusExtracted {
		log.Info("process.already_extracted")
		return p.enqueueSync(ctx, rec)
	}

	if err := p.receipts.MarkProcessing(ctx, rec.ID); err != nil {
		return err
	}

	input, err := p.resolveInput(ctx, rec)
	if err != nil {
		// No reachable image is a hard failure recorded on the receipt.
		log.Error("process.image_unreachable", "error", err)
		_ = p.receipts.MarkFailed(ctx, rec.ID, err.Error())
		p.metrics.ExtractionsTotal.WithLabelValues("failed").Inc()
		return nil
	}

	digest, err := p.hasher.Hash(ctx, input)
	if err != nil {
		// Hash trouble must never block extraction; we just lose caching.
		log.Warn("process.hash_failed", "error", err)
		digest = ""
	}

	if digest != "" {
		hit, err := p.cache.Lookup(ctx, rec.OrgID, digest, rec.ID)
		if err != nil {
			log.Warn("process.cache_lookup_failed", "error", err)
		} else if hit != nil {
			p.metrics.CacheHitsTotal.Inc()
			p.metrics.ExtractionsTotal.WithLabelValues("cached").Inc()
			if err := p.persist(ctx, rec, &hit.Result, hit.Confidence, digest); err != nil {
				return err
			}
			log.Info("process.ok_from_cache", "source_receipt_id", hit.SourceReceiptID)
			return p.enqueueSync(ctx, rec)
		}
	}

	out := p.engine.Extract(ctx, input)
	p.metrics.ExtractionTime.Observe(out.ProcessingTime.Seconds())
	if !out.Success {
		p.metrics.ExtractionsTotal.WithLabelValues("failed").Inc()
		message := "extraction failed"
		if out.Err != nil {
			message = out.Err.Error()
		}
		_ = p.receipts.MarkFailed(ctx, rec.ID, message)
		log.Error("process.extract_failed", "error", message)
		if common.Retryable(out.Err) {
			return out.Err
		}
		return nil
	}

	p.metrics.ExtractionsTotal.WithLabelValues("extracted").Inc()
	if err := p.persist(ctx, rec, out.Result, out.Result.Confidence, digest); err != nil {
		return err
	}
	log.Info("process.ok",
		"vendor", out.Result.Fields.VendorName,
		"confidence", out.Result.Confidence,
		"heuristic", out.Result.Heuristic,
	)
	return p.enqueueSync(ctx, rec)
}

func (p *Processor) resolveInput(ctx context.Context, rec *entity.Receipt) (extract.ExtractInput, error) {
	if rec.SourceURL != "" {
		return extract.ExtractInput{ImageURL: rec.SourceURL}, nil
	}
	data, mediaType, err := p.store.Get(ctx, rec.SourceBucket, rec.SourceKey)
	if err != nil {
		return extract.ExtractInput{}, err
	}
	return extract.ExtractInput{ImageBytes: data, MediaType: mediaType}, nil
}

func (p *Processor) persist(ctx context.Context, rec *entity.Receipt, result *extract.ExtractionResult, confidence float32, digest string) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	f := result.Fields
	fields := repository.ExtractedFields{
		VendorName:      f.VendorName,
		Amount:          parseDecimal(f.Total),
		CurrencyCode:    f.CurrencyCode,
		TxDate:          parseDate(f.TxDate),
		CategoryName:    f.Category,
		Tax:             parseDecimal(f.Tax),
		Subtotal:        parseDecimal(f.Subtotal),
		PaymentMethod:   f.PaymentMethod,
		ReceiptNumber:   f.ReceiptNumber,
		ConfidenceScore: confidence,
		RawExtraction:   raw,
		ContentHash:     digest,
	}
	return p.receipts.MarkExtracted(ctx, rec.ID, fields)
}

func (p *Processor) enqueueSync(ctx context.Context, rec *entity.Receipt) error {
	return p.queue.Enqueue(ctx, async.Message{
		Kind:      async.KindSyncReceipt,
		ReceiptID: rec.ID,
		OrgID:     rec.OrgID,
	})
}

func parseDecimal(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
