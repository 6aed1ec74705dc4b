// Package sheets syncs receipts into a spreadsheet destination. Idempotency
// comes from a hidden per-row developer-metadata tag derived from the
// (destination, receipt) pair: Add searches for the tag before inserting,
// Modify overwrites the tagged row, Remove blanks it without deleting the
// row so other tags keep stable row numbers.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/common"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/entity"
	syncpkg "github.com/Kriebel-LLC/receiptsync-sub000/internal/sync"
)

// rowWidth is the number of columns in the fixed receipt row template.
const rowWidth = 11

type Adapter struct {
	client *Client
	log    *slog.Logger
}

func NewAdapter(client *Client, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{client: client, log: log}
}

func (a *Adapter) Sync(ctx context.Context, req syncpkg.Request) syncpkg.Result {
	cfg, err := req.Destination.SheetsConfig()
	if err != nil || cfg.SpreadsheetID == "" || cfg.SheetName == "" {
		return fail(common.ValidationError("destination spreadsheet configuration is incomplete", err))
	}

	token := req.Credentials.AccessToken
	tag := RowTag(req.Destination.ID, req.Receipt.ID)
	receiptID := req.Receipt.ID.String()

	matches, err := a.client.searchTag(ctx, token, cfg.SpreadsheetID, tag)
	if err != nil {
		return fail(err)
	}
	// A tag hit only counts when the metadata value carries this receipt id;
	// anything else is a 31-bit collision with another pair's tag.
	var match *tagMatch
	for i := range matches {
		if matches[i].ReceiptID == receiptID {
			match = &matches[i]
			break
		}
	}

	switch req.UpdateType {
	case constants.UpdateTypeAdd:
		if match != nil {
			a.log.Info("sheets.add.noop_tag_present",
				"receipt_id", receiptID, "row", match.Row)
			return success(strconv.Itoa(match.Row))
		}
		return a.insert(ctx, token, cfg, tag, receiptID, req.Receipt)

	case constants.UpdateTypeModify:
		if match == nil {
			// Never synced (or the row's tag vanished): behave as Add.
			return a.insert(ctx, token, cfg, tag, receiptID, req.Receipt)
		}
		if err := a.client.updateRow(ctx, token, cfg.SpreadsheetID, cfg.SheetName, match.Row, rowValues(req.Receipt)); err != nil {
			return fail(err)
		}
		return success(strconv.Itoa(match.Row))

	case constants.UpdateTypeRemove:
		if match == nil {
			return success(req.ExistingExternalID)
		}
		if err := a.client.clearRow(ctx, token, cfg.SpreadsheetID, cfg.SheetName, match.Row, rowWidth); err != nil {
			return fail(err)
		}
		if err := a.client.deleteTag(ctx, token, cfg.SpreadsheetID, match.MetadataID); err != nil {
			return fail(err)
		}
		return success("")
	}
	return fail(common.ValidationError(fmt.Sprintf("unsupported update type %q", req.UpdateType), nil))
}

func (a *Adapter) insert(ctx context.Context, token string, cfg entity.SheetsConfig, tag int32, receiptID string, receipt *entity.Receipt) syncpkg.Result {
	row, err := a.client.appendRow(ctx, token, cfg.SpreadsheetID, cfg.SheetName, rowValues(receipt))
	if err != nil {
		return fail(err)
	}
	if err := a.client.createTag(ctx, token, cfg.SpreadsheetID, cfg.SheetID, row, tag, receiptID); err != nil {
		// The row exists but is untagged; a redelivery will append again.
		// Surfacing the error keeps the ledger honest about partial state.
		return fail(err)
	}
	a.log.Info("sheets.add.ok", "receipt_id", receiptID, "row", row)
	return success(strconv.Itoa(row))
}

// rowValues maps a receipt onto the fixed template: date, vendor, amount,
// currency, category, tax, subtotal, payment method, receipt number, notes,
// image reference.
func rowValues(r *entity.Receipt) []any {
	return []any{
		formatDate(r.TxDate),
		r.VendorName,
		formatMoney(r.Amount),
		r.CurrencyCode,
		r.CategoryName,
		formatMoney(r.Tax),
		formatMoney(r.Subtotal),
		r.PaymentMethod,
		r.ReceiptNumber,
		r.Notes,
		imageRef(r),
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func formatMoney(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func imageRef(r *entity.Receipt) string {
	if r.SourceURL != "" {
		return r.SourceURL
	}
	if r.SourceBucket != "" && r.SourceKey != "" {
		return r.SourceBucket + "/" + r.SourceKey
	}
	return ""
}

func success(externalID string) syncpkg.Result {
	return syncpkg.Result{Success: true, ExternalID: externalID}
}

func fail(err error) syncpkg.Result {
	return syncpkg.Result{Err: err, ShouldRetry: common.Retryable(err)}
}
