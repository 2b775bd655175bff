package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"SwapQuote/internal/domain/models"
	"SwapQuote/internal/domain/repository"
	"SwapQuote/internal/service/ratelimit"
	"SwapQuote/internal/service/resilience"
	xhttp "SwapQuote/pkg/http"

	"github.com/shopspring/decimal"
)

// ErrRateLimited is returned when the local token bucket for a source is empty.
var ErrRateLimited = errors.New("source rate limit exceeded")

// HTTPSource queries a JSON quote endpoint of the form
// GET <url>?inputAsset=..&outputAsset=..&amount=..
type HTTPSource struct {
	name     string
	url      string
	headers  map[string]string
	feeBps   decimal.Decimal
	client   *xhttp.Client
	limiter  *ratelimit.Limiter
	capacity float64
	refill   float64
	now      func() time.Time
}

type HTTPSourceOption func(*HTTPSource)

// WithRateLimit bounds outbound requests with a token bucket.
func WithRateLimit(l *ratelimit.Limiter, capacity, refillPerSec float64) HTTPSourceOption {
	return func(s *HTTPSource) {
		s.limiter = l
		s.capacity = capacity
		s.refill = refillPerSec
	}
}

// WithFeeBps sets the fee applied when the venue does not report one.
func WithFeeBps(bps int) HTTPSourceOption {
	return func(s *HTTPSource) { s.feeBps = decimal.NewFromInt(int64(bps)) }
}

// WithHeaders adds static request headers (API keys and the like).
func WithHeaders(h map[string]string) HTTPSourceOption {
	return func(s *HTTPSource) { s.headers = h }
}

// WithClient replaces the HTTP client.
func WithClient(c *xhttp.Client) HTTPSourceOption {
	return func(s *HTTPSource) { s.client = c }
}

// NewHTTPSource creates a source adapter.
func NewHTTPSource(name, url string, opts ...HTTPSourceOption) *HTTPSource {
	s := &HTTPSource{
		name:   name,
		url:    url,
		feeBps: decimal.Zero,
		client: xhttp.NewClient(xhttp.WithTimeout(5 * time.Second)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPSource) Name() string { return s.name }

type quoteResponse struct {
	OutAmount      decimal.Decimal     `json:"outAmount"`
	FeeAmount      decimal.NullDecimal `json:"feeAmount"`
	PriceImpactBps int                 `json:"priceImpactBps"`
}

// Fetch implements repository.QuoteFetcher.
func (s *HTTPSource) Fetch(ctx context.Context, inputAsset, outputAsset string, amount decimal.Decimal) (*models.Quote, error) {
	if s.limiter != nil && !s.limiter.Allow(s.name, s.capacity, s.refill) {
		return nil, resilience.LocalRejection(fmt.Errorf("%s: %w", s.name, ErrRateLimited))
	}

	var resp quoteResponse
	err := s.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     s.url,
		Headers: s.headers,
		QueryParams: map[string][]string{
			"inputAsset":  {inputAsset},
			"outputAsset": {outputAsset},
			"amount":      {amount.String()},
		},
	}, &resp)
	if err != nil {
		return nil, classify(s.name, err)
	}
	if !resp.OutAmount.IsPositive() {
		return nil, resilience.Permanent(fmt.Errorf("%s: malformed quote: non-positive outAmount", s.name))
	}

	fee := resp.OutAmount.Mul(s.feeBps).Div(decimal.NewFromInt(10000))
	if resp.FeeAmount.Valid {
		fee = resp.FeeAmount.Decimal
	}

	return &models.Quote{
		Source:         s.name,
		InputAsset:     inputAsset,
		OutputAsset:    outputAsset,
		InAmount:       amount,
		OutAmount:      resp.OutAmount,
		FeeAmount:      fee,
		PriceImpactBps: resp.PriceImpactBps,
		ReceivedAt:     s.now(),
	}, nil
}

// Fetcher adapts the source to the QuoteFetcher function type.
func (s *HTTPSource) Fetcher() repository.QuoteFetcher {
	return s.Fetch
}

// classify marks 4xx and undecodable responses as permanent. 429, 5xx and
// transport errors stay retryable.
func classify(name string, err error) error {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		if se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests {
			return resilience.Permanent(fmt.Errorf("%s: %w", name, err))
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", name, err)
	}
	if errors.Is(err, xhttp.ErrDecode) {
		return resilience.Permanent(fmt.Errorf("%s: %w", name, err))
	}
	return fmt.Errorf("%s: %w", name, err)
}
