package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/async"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/common"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/entity"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/repository"
)

type createReceiptRequest struct {
	OrgID        uuid.UUID `json:"org_id" binding:"required"`
	SourceBucket string    `json:"source_bucket"`
	SourceKey    string    `json:"source_key"`
	SourceURL    string    `json:"source_url"`
	Notes        string    `json:"notes"`
}

func (s *Server) createReceipt(c *gin.Context) {
	var req createReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SourceURL == "" && (req.SourceBucket == "" || req.SourceKey == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "either source_url or source_bucket/source_key is required"})
		return
	}

	rec := &entity.Receipt{
		ID:           uuid.New(),
		OrgID:        req.OrgID,
		SourceBucket: req.SourceBucket,
		SourceKey:    req.SourceKey,
		SourceURL:    req.SourceURL,
		Notes:        req.Notes,
		Status:       constants.ReceiptStatusPending,
	}
	ctx := c.Request.Context()
	if err := s.receipts.Create(ctx, rec); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.queue.Enqueue(ctx, async.Message{
		Kind:      async.KindProcessReceipt,
		ReceiptID: rec.ID,
		OrgID:     rec.OrgID,
	}); err != nil {
		// The receipt row survives; a later manual sync or sweep can pick it
		// up once capacity returns.
		s.logger.Warn("http.enqueue_failed", "receipt_id", rec.ID, "error", err)
		c.JSON(http.StatusAccepted, gin.H{"receipt": rec, "queued": false})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"receipt": rec, "queued": true})
}

func (s *Server) getReceipt(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid receipt id"})
		return
	}
	rec, err := s.receipts.GetByID(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type syncReceiptRequest struct {
	DestinationIDs []uuid.UUID `json:"destination_ids"`
}

func (s *Server) syncReceipt(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid receipt id"})
		return
	}
	var req syncReceiptRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	ctx := c.Request.Context()
	rec, err := s.receipts.GetByID(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if rec.Status != constants.ReceiptStatusExtracted {
		c.JSON(http.StatusConflict, gin.H{"error": "receipt has no extracted data to sync", "status": rec.Status})
		return
	}
	if err := s.queue.Enqueue(ctx, async.Message{
		Kind:           async.KindSyncReceipt,
		ReceiptID:      rec.ID,
		OrgID:          rec.OrgID,
		DestinationIDs: req.DestinationIDs,
	}); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func (s *Server) listSyncs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid receipt id"})
		return
	}
	rows, err := s.ledger.ListByReceipt(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"syncs": rows})
}

type createDestinationRequest struct {
	OrgID        uuid.UUID                 `json:"org_id" binding:"required"`
	Type         constants.DestinationType `json:"type" binding:"required"`
	Config       map[string]any            `json:"config" binding:"required"`
	ConnectionID *uuid.UUID                `json:"connection_id"`
}

func (s *Server) createDestination(c *gin.Context) {
	var req createDestinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown destination type"})
		return
	}
	cfg, err := jsonBytes(req.Config)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dest := &entity.Destination{
		ID:           uuid.New(),
		OrgID:        req.OrgID,
		Type:         req.Type,
		Status:       constants.DestinationStatusRunning,
		Config:       cfg,
		ConnectionID: req.ConnectionID,
	}
	if err := s.dests.Create(c.Request.Context(), dest); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dest)
}

type patchDestinationRequest struct {
	Status *constants.DestinationStatus `json:"status"`
	Config map[string]any               `json:"config"`
}

func (s *Server) patchDestination(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid destination id"})
		return
	}
	var req patchDestinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if req.Status != nil {
		switch *req.Status {
		case constants.DestinationStatusRunning, constants.DestinationStatusPaused, constants.DestinationStatusArchived:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown destination status"})
			return
		}
		if err := s.dests.UpdateStatus(ctx, id, *req.Status); err != nil {
			s.fail(c, err)
			return
		}
	}
	if req.Config != nil {
		cfg, err := jsonBytes(req.Config)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.dests.UpdateConfig(ctx, id, cfg); err != nil {
			s.fail(c, err)
			return
		}
	}
	dest, err := s.dests.GetByID(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dest)
}

type createConnectionRequest struct {
	OrgID         uuid.UUID                 `json:"org_id" binding:"required"`
	Service       constants.DestinationType `json:"service" binding:"required"`
	AccessToken   string                    `json:"access_token"`
	RefreshToken  string                    `json:"refresh_token"`
	TokenExpiry   *time.Time                `json:"token_expiry"`
	AccountID     string                    `json:"account_id"`
	WorkspaceName string                    `json:"workspace_name"`
}

func (s *Server) createConnection(c *gin.Context) {
	var req createConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Service.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown service"})
		return
	}
	conn := &entity.Connection{
		ID:            uuid.New(),
		OrgID:         req.OrgID,
		Service:       req.Service,
		TokenExpiry:   req.TokenExpiry,
		AccountID:     req.AccountID,
		WorkspaceName: req.WorkspaceName,
	}
	if err := s.conns.Enroll(c.Request.Context(), conn, req.AccessToken, req.RefreshToken); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, conn)
}

func (s *Server) reactivateConnection(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return
	}
	if err := s.conns.Reactivate(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	conn, err := s.conns.GetByID(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

func jsonBytes(m map[string]any) (datatypes.JSON, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// fail maps the error taxonomy onto HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	if repository.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	status := http.StatusInternalServerError
	switch common.KindOf(err) {
	case common.KindValidation:
		status = http.StatusBadRequest
	case common.KindAuthorization:
		status = http.StatusForbidden
	case common.KindNotFound:
		status = http.StatusNotFound
	case common.KindRateLimit:
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("http.internal_error", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
