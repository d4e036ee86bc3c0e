package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/application/ingest"
	"github.com/feedbridge/backend/internal/interfaces/http/dto"
	"github.com/feedbridge/backend/internal/interfaces/http/middleware"
)

// FeedRunner runs one supplier feed through the ingestion pipeline
type FeedRunner interface {
	Run(ctx context.Context, supplierID uuid.UUID, path string) (*ingest.Report, error)
}

// IngestHandler triggers feed ingestion runs
type IngestHandler struct {
	BaseHandler
	runner FeedRunner
	logger *zap.Logger
}

// NewIngestHandler creates a new IngestHandler
func NewIngestHandler(runner FeedRunner, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{runner: runner, logger: logger}
}

// RegisterRoutes registers ingestion routes on the given router group
func (h *IngestHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/ingest", h.TriggerRun)
}

// TriggerRun starts a feed run. Runs are asynchronous by default; passing
// wait=true blocks until the run finishes and returns the full report.
func (h *IngestHandler) TriggerRun(c *gin.Context) {
	var req dto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	supplierID, err := uuid.Parse(req.SupplierID)
	if err != nil {
		h.BadRequest(c, "invalid supplier id")
		return
	}

	if c.Query("wait") == "true" {
		report, err := h.runner.Run(c.Request.Context(), supplierID, req.Path)
		if err != nil {
			h.runError(c, err)
			return
		}
		h.Success(c, dto.FromIngestReport(report))
		return
	}

	// Detach from the request context so the run survives the response.
	runCtx := context.WithoutCancel(c.Request.Context())
	go func() {
		report, err := h.runner.Run(runCtx, supplierID, req.Path)
		if err != nil {
			if errors.Is(err, ingest.ErrRunInProgress) {
				h.logger.Warn("feed run skipped, already in progress",
					zap.String("supplier_id", supplierID.String()))
				return
			}
			h.logger.Error("feed run failed",
				zap.String("supplier_id", supplierID.String()),
				zap.String("path", req.Path),
				zap.Error(err))
			return
		}
		h.logger.Info("feed run finished",
			zap.String("run_id", report.RunID.String()),
			zap.String("supplier_id", supplierID.String()),
			zap.Int("created", report.Created),
			zap.Int("updated", report.Updated),
			zap.Int("failed", report.Failed))
	}()

	h.Accepted(c, dto.IngestAcceptedResponse{
		SupplierID: supplierID.String(),
		Path:       req.Path,
		Status:     "accepted",
	})
}

func (h *IngestHandler) runError(c *gin.Context, err error) {
	if errors.Is(err, ingest.ErrRunInProgress) {
		h.Conflict(c, "feed run already in progress for this file")
		return
	}
	h.logger.Error("feed run failed", zap.Error(err))
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, err.Error())
}
