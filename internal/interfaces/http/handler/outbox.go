package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/domain/shared"
	"github.com/feedbridge/backend/internal/interfaces/http/dto"
	"github.com/feedbridge/backend/internal/interfaces/http/middleware"
)

// OutboxHandler exposes outbox monitoring and dead-letter recovery endpoints
type OutboxHandler struct {
	BaseHandler
	repo   shared.OutboxRepository
	logger *zap.Logger
}

// NewOutboxHandler creates a new OutboxHandler
func NewOutboxHandler(repo shared.OutboxRepository, logger *zap.Logger) *OutboxHandler {
	return &OutboxHandler{repo: repo, logger: logger}
}

// RegisterRoutes registers outbox routes on the given router group
func (h *OutboxHandler) RegisterRoutes(rg *gin.RouterGroup) {
	outbox := rg.Group("/outbox")
	{
		outbox.GET("/stats", h.GetStats)
		outbox.GET("/dead", h.ListDead)
		outbox.POST("/dead/:id/retry", h.RetryDead)
	}
}

// GetStats returns record counts per delivery status
func (h *OutboxHandler) GetStats(c *gin.Context) {
	counts, err := h.repo.CountByStatus(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to count outbox records", zap.Error(err))
		h.InternalError(c, "failed to count outbox records")
		return
	}

	h.Success(c, dto.FromOutboxStats(counts))
}

// ListDead returns failed records with pagination, newest first
func (h *OutboxHandler) ListDead(c *gin.Context) {
	req := dto.DefaultListRequest()
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	records, total, err := h.repo.FindDead(c.Request.Context(), req.Page, req.PageSize)
	if err != nil {
		h.logger.Error("failed to list dead records", zap.Error(err))
		h.InternalError(c, "failed to list dead records")
		return
	}

	h.SuccessWithMeta(c, dto.FromOutboxRecords(records), total, req.Page, req.PageSize)
}

// RetryDead resets a failed record to pending so the worker picks it up again
func (h *OutboxHandler) RetryDead(c *gin.Context) {
	var req dto.IDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	id, err := uuid.Parse(req.ID)
	if err != nil {
		h.BadRequest(c, "invalid record id")
		return
	}

	ctx := c.Request.Context()
	record, err := h.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			h.NotFound(c, "outbox record not found")
			return
		}
		h.logger.Error("failed to load outbox record", zap.String("record_id", id.String()), zap.Error(err))
		h.InternalError(c, "failed to load outbox record")
		return
	}

	if err := record.ResetForRetry(); err != nil {
		h.Conflict(c, err.Error())
		return
	}

	if err := h.repo.Update(ctx, record); err != nil {
		h.logger.Error("failed to update outbox record", zap.String("record_id", id.String()), zap.Error(err))
		h.InternalError(c, "failed to update outbox record")
		return
	}

	h.logger.Info("dead outbox record queued for retry",
		zap.String("record_id", id.String()),
		zap.String("lane", record.Lane.String()))
	h.Success(c, dto.FromOutboxRecord(record))
}
