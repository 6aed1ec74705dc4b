// Package notion syncs receipts into a document-database destination. The
// field mapping is resolved against the live destination schema on every
// invocation, so renamed or retyped properties degrade gracefully: an
// incompatible property is skipped, not a failed sync.
package notion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/common"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/entity"
	syncpkg "github.com/Kriebel-LLC/receiptsync-sub000/internal/sync"
)

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
	cfg, err := req.Destination.NotionConfig()
	if err != nil || cfg.DatabaseID == "" {
		return fail(common.ValidationError("destination database configuration is incomplete", err))
	}

	token := req.Credentials.AccessToken
	schema, err := a.client.Schema(ctx, token, cfg.DatabaseID)
	if err != nil {
		return fail(err)
	}

	idProp, ok := a.receiptIDProperty(schema, cfg)
	if !ok {
		return fail(common.ValidationError("no queryable receipt-id property in destination schema", nil))
	}
	receiptID := req.Receipt.ID.String()

	switch req.UpdateType {
	case constants.UpdateTypeAdd:
		// Query first so a redelivered Add stays a no-op.
		existing, err := a.client.QueryByText(ctx, token, cfg.DatabaseID, idProp.Name, receiptID)
		if err != nil {
			return fail(err)
		}
		if len(existing) > 0 {
			a.log.Info("notion.add.noop_record_present", "receipt_id", receiptID, "page_id", existing[0])
			return success(existing[0])
		}
		return a.create(ctx, token, cfg, schema, req.Receipt)

	case constants.UpdateTypeModify:
		existing, err := a.client.QueryByText(ctx, token, cfg.DatabaseID, idProp.Name, receiptID)
		if err != nil {
			return fail(err)
		}
		if len(existing) == 0 {
			return a.create(ctx, token, cfg, schema, req.Receipt)
		}
		props := a.buildProperties(schema, cfg, req.Receipt)
		for _, pageID := range existing {
			if err := a.client.UpdatePage(ctx, token, pageID, props); err != nil {
				return fail(err)
			}
		}
		return success(existing[0])

	case constants.UpdateTypeRemove:
		existing, err := a.client.QueryByText(ctx, token, cfg.DatabaseID, idProp.Name, receiptID)
		if err != nil {
			return fail(err)
		}
		for _, pageID := range existing {
			if err := a.client.ArchivePage(ctx, token, pageID); err != nil {
				return fail(err)
			}
		}
		return success("")
	}
	return fail(common.ValidationError(fmt.Sprintf("unsupported update type %q", req.UpdateType), nil))
}

func (a *Adapter) create(ctx context.Context, token string, cfg entity.NotionConfig, schema map[string]Property, receipt *entity.Receipt) syncpkg.Result {
	props := a.buildProperties(schema, cfg, receipt)
	pageID, err := a.client.CreatePage(ctx, token, cfg.DatabaseID, props)
	if err != nil {
		return fail(err)
	}
	a.log.Info("notion.add.ok", "receipt_id", receipt.ID, "page_id", pageID)
	return success(pageID)
}

// buildProperties renders the mapped receipt fields against the live
// schema. A schema-required title property is always populated, with the
// vendor name or a generated label.
func (a *Adapter) buildProperties(schema map[string]Property, cfg entity.NotionConfig, receipt *entity.Receipt) map[string]any {
	values := fieldValues(receipt)
	props := make(map[string]any)
	titleFilled := false

	for field, value := range values {
		target := defaultMapping[field]
		if override, ok := cfg.FieldMapping[field]; ok && override != "" {
			target = override
		}
		prop, ok := resolveProperty(schema, target)
		if !ok {
			continue
		}
		payload, ok := renderValue(prop, value)
		if !ok {
			a.log.Debug("notion.mapping.skipped_incompatible",
				"field", field, "property", prop.Name, "property_type", prop.Type)
			continue
		}
		props[prop.Name] = payload
		if prop.Type == "title" {
			titleFilled = true
		}
	}

	if !titleFilled {
		for name, p := range schema {
			if p.Type != "title" {
				continue
			}
			label := receipt.VendorName
			if label == "" {
				label = "Receipt " + shortID(receipt)
			}
			props[name] = map[string]any{"title": richText(label)}
			break
		}
	}
	return props
}

// receiptIDProperty resolves the identifier-bearing property used for
// Modify/Remove lookups. It must be a text-like property to be queryable.
func (a *Adapter) receiptIDProperty(schema map[string]Property, cfg entity.NotionConfig) (Property, bool) {
	target := defaultMapping[ReceiptIDField]
	if override, ok := cfg.FieldMapping[ReceiptIDField]; ok && override != "" {
		target = override
	}
	prop, ok := resolveProperty(schema, target)
	if !ok || prop.Type != "rich_text" {
		return Property{}, false
	}
	return prop, true
}

func shortID(r *entity.Receipt) string {
	s := r.ID.String()
	if len(s) >= 8 {
		return s[:8]
	}
	return s
}

func success(externalID string) syncpkg.Result {
	return syncpkg.Result{Success: true, ExternalID: externalID}
}

func fail(err error) syncpkg.Result {
	return syncpkg.Result{Err: err, ShouldRetry: common.Retryable(err)}
}
