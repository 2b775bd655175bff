package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"SwapQuote/internal/service/ratelimit"
	"SwapQuote/internal/service/resilience"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SOL", r.URL.Query().Get("inputAsset"))
		assert.Equal(t, "USDC", r.URL.Query().Get("outputAsset"))
		assert.Equal(t, "1.5", r.URL.Query().Get("amount"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		_, _ = w.Write([]byte(`{"outAmount":"225.75","feeAmount":"0.25","priceImpactBps":4}`))
	}))
	defer srv.Close()

	src := NewHTTPSource("venue-a", srv.URL, WithHeaders(map[string]string{"X-Api-Key": "secret"}))
	q, err := src.Fetch(context.Background(), "SOL", "USDC", decimal.RequireFromString("1.5"))

	require.NoError(t, err)
	assert.Equal(t, "venue-a", q.Source)
	assert.True(t, q.OutAmount.Equal(decimal.RequireFromString("225.75")))
	assert.True(t, q.FeeAmount.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, 4, q.PriceImpactBps)
	assert.True(t, q.NetOut().Equal(decimal.RequireFromString("225.5")))
}

func TestHTTPSourceFallsBackToConfiguredFee(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"outAmount":"200"}`))
	}))
	defer srv.Close()

	src := NewHTTPSource("venue-b", srv.URL, WithFeeBps(30))
	q, err := src.Fetch(context.Background(), "SOL", "USDC", decimal.NewFromInt(1))

	require.NoError(t, err)
	assert.True(t, q.FeeAmount.Equal(decimal.RequireFromString("0.6")), q.FeeAmount.String())
}

func TestHTTPSourceErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"unknown pair"}`, permanent: true},
		{name: "too many requests", status: http.StatusTooManyRequests, permanent: false},
		{name: "server error", status: http.StatusBadGateway, permanent: false},
		{name: "malformed body", status: http.StatusOK, body: `not json`, permanent: true},
		{name: "zero out amount", status: http.StatusOK, body: `{"outAmount":"0"}`, permanent: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewHTTPSource("v", srv.URL).Fetch(context.Background(), "A", "B", decimal.NewFromInt(1))
			require.Error(t, err)
			assert.Equal(t, tc.permanent, resilience.IsPermanent(err))
			assert.Equal(t, !tc.permanent, resilience.DefaultRetryable(err))
		})
	}
}

func TestHTTPSourceRateLimited(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"outAmount":"1"}`))
	}))
	defer srv.Close()

	now := time.Unix(1700000000, 0)
	lim := ratelimit.NewWithClock(func() time.Time { return now })
	src := NewHTTPSource("v", srv.URL, WithRateLimit(lim, 1, 0.1))

	_, err := src.Fetch(context.Background(), "A", "B", decimal.NewFromInt(1))
	require.NoError(t, err)

	_, err = src.Fetch(context.Background(), "A", "B", decimal.NewFromInt(1))
	require.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, resilience.IsLocalRejection(err))
	assert.False(t, resilience.DefaultRetryable(err))
	assert.Equal(t, 1, calls)
}
