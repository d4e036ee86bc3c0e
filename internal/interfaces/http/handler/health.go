package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/domain/channel"
	"github.com/feedbridge/backend/internal/interfaces/http/dto"
)

const channelCheckTimeout = 5 * time.Second

// Pinger verifies a backing service is reachable
type Pinger interface {
	Ping() error
}

// HealthHandler reports liveness of the service and its active channels
type HealthHandler struct {
	BaseHandler
	db       Pinger
	channels channel.Repository
	registry channel.Registry
	logger   *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db Pinger, channels channel.Repository, registry channel.Registry, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, channels: channels, registry: registry, logger: logger}
}

// ChannelHealth is the health report for one sales channel
type ChannelHealth struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Driver string `json:"driver"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the aggregate health report
type HealthResponse struct {
	Status   string          `json:"status"`
	Database string          `json:"database"`
	Channels []ChannelHealth `json:"channels"`
}

// RegisterRoutes registers the health route on the given router group
func (h *HealthHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.Check)
}

// Check pings the database and every active channel's endpoint. Any failing
// dependency degrades the overall status without failing the probe.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx := c.Request.Context()
	resp := HealthResponse{Status: "ok", Database: "ok", Channels: []ChannelHealth{}}

	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
		}
	}

	channels, err := h.channels.ListActive(ctx)
	if err != nil {
		h.logger.Error("failed to list active channels", zap.Error(err))
		resp.Status = "degraded"
		c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
		return
	}

	for _, ch := range channels {
		resp.Channels = append(resp.Channels, h.checkChannel(ctx, ch))
	}
	for _, chHealth := range resp.Channels {
		if chHealth.Status != "ok" {
			resp.Status = "degraded"
			break
		}
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

func (h *HealthHandler) checkChannel(ctx context.Context, ch *channel.SalesChannel) ChannelHealth {
	health := ChannelHealth{
		ID:     ch.ID.String(),
		Name:   ch.Name,
		Driver: ch.Driver.String(),
		Status: "ok",
	}

	transport, err := h.registry.GetAPIClient(ch)
	if err != nil {
		health.Status = "misconfigured"
		health.Error = err.Error()
		return health
	}

	checkCtx, cancel := context.WithTimeout(ctx, channelCheckTimeout)
	defer cancel()
	if err := transport.HealthCheck(checkCtx, ch); err != nil {
		health.Status = "unreachable"
		health.Error = err.Error()
	}
	return health
}
