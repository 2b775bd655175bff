package api

import (
	"SwapQuote/internal/service/resilience"
	xhttp "SwapQuote/pkg/http"
	xlogger "SwapQuote/pkg/logger"

	"github.com/labstack/echo/v4"
)

type BreakersEchoHandler struct {
	logger   *xlogger.Logger
	breakers *resilience.Registry
}

func NewBreakersEchoHandler(logger *xlogger.Logger, breakers *resilience.Registry) *BreakersEchoHandler {
	return &BreakersEchoHandler{logger: logger, breakers: breakers}
}

func (h *BreakersEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/breakers")
	g.GET("", h.List)
	g.POST("/:name/reset", h.Reset)
}

func (h *BreakersEchoHandler) List(c echo.Context) error {
	stats := h.breakers.Stats()
	return xhttp.ListResponse(c, stats, int64(len(stats)))
}

// Reset forces a breaker closed.
func (h *BreakersEchoHandler) Reset(c echo.Context) error {
	name := c.Param("name")
	if !h.breakers.Reset(name) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("unknown breaker: %s", name))
	}
	h.logger.Info("circuit breaker reset", xlogger.String("breaker", name))
	cb, _ := h.breakers.Lookup(name)
	return xhttp.SuccessResponse(c, cb.Stats())
}
