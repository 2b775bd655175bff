package api

import (
	"context"

	models "SwapQuote/internal/domain/models"
	xhttp "SwapQuote/pkg/http"
	xlogger "SwapQuote/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// QuoteService is what the quote endpoints need from the aggregator.
type QuoteService interface {
	BestQuote(ctx context.Context, p models.QuoteParams) (*models.BestQuote, error)
	FastestQuote(ctx context.Context, p models.QuoteParams) (*models.BestQuote, error)
}

// QuotesEchoHandler serves best and fastest quote lookups.
type QuotesEchoHandler struct {
	logger *xlogger.Logger
	quotes QuoteService
}

func NewQuotesEchoHandler(logger *xlogger.Logger, quotes QuoteService) *QuotesEchoHandler {
	return &QuotesEchoHandler{logger: logger, quotes: quotes}
}

func (h *QuotesEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/quotes")
	g.GET("/best", h.Best)
	g.GET("/fastest", h.Fastest)
}

func (h *QuotesEchoHandler) Best(c echo.Context) error {
	return h.serve(c, "best", h.quotes.BestQuote)
}

func (h *QuotesEchoHandler) Fastest(c echo.Context) error {
	return h.serve(c, "fastest", h.quotes.FastestQuote)
}

func (h *QuotesEchoHandler) serve(c echo.Context, kind string, fn func(context.Context, models.QuoteParams) (*models.BestQuote, error)) error {
	req := &models.QuoteRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("amount: %v", err))
	}

	res, err := fn(c.Request().Context(), models.QuoteParams{
		InputAsset:  req.Input,
		OutputAsset: req.Output,
		Amount:      amount,
		SlippageBps: req.SlippageBps,
	})
	if err != nil {
		h.logger.Warn(kind+" quote failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, res)
}
