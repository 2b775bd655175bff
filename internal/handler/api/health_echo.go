package api

import (
	"context"

	models "SwapQuote/internal/domain/models"
	xhttp "SwapQuote/pkg/http"
	xlogger "SwapQuote/pkg/logger"

	"github.com/labstack/echo/v4"
)

// HealthSource returns the latest system health, running a check when none exists yet.
type HealthSource interface {
	Latest() (models.SystemHealth, bool)
	Check(ctx context.Context) models.SystemHealth
}

type HealthEchoHandler struct {
	logger *xlogger.Logger
	health HealthSource
}

func NewHealthEchoHandler(logger *xlogger.Logger, health HealthSource) *HealthEchoHandler {
	return &HealthEchoHandler{logger: logger, health: health}
}

func (h *HealthEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/health", h.Health)
}

// Health answers 503 when the system is down and 200 otherwise.
func (h *HealthEchoHandler) Health(c echo.Context) error {
	snap, ok := h.health.Latest()
	if !ok {
		snap = h.health.Check(c.Request().Context())
	}
	if snap.Status == models.StatusDown {
		return xhttp.ServiceUnavailableResponse(c, snap)
	}
	return xhttp.SuccessResponse(c, snap)
}
