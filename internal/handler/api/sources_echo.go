package api

import (
	models "SwapQuote/internal/domain/models"
	xhttp "SwapQuote/pkg/http"
	xlogger "SwapQuote/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SourceService lists and toggles quote sources.
type SourceService interface {
	Sources() []models.SourceDescriptor
	SetSourceEnabled(name string, enabled bool) error
}

type SourcesEchoHandler struct {
	logger  *xlogger.Logger
	sources SourceService
}

func NewSourcesEchoHandler(logger *xlogger.Logger, sources SourceService) *SourcesEchoHandler {
	return &SourcesEchoHandler{logger: logger, sources: sources}
}

func (h *SourcesEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/sources")
	g.GET("", h.List)
	g.PUT("/:name", h.Toggle)
}

func (h *SourcesEchoHandler) List(c echo.Context) error {
	srcs := h.sources.Sources()
	return xhttp.ListResponse(c, srcs, int64(len(srcs)))
}

func (h *SourcesEchoHandler) Toggle(c echo.Context) error {
	req := &models.SourceToggleRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	name := c.Param("name")
	if err := h.sources.SetSourceEnabled(name, *req.Enabled); err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	for _, s := range h.sources.Sources() {
		if s.Name == name {
			return xhttp.SuccessResponse(c, s)
		}
	}
	return xhttp.NoContentResponse(c)
}
