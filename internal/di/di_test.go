package di

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"SwapQuote/internal/domain/models"
	"SwapQuote/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func venue(out string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"outAmount":%q}`, out)
	}))
}

func testConfig(t *testing.T, redisAddr string, urls ...string) *config.Config {
	t.Helper()
	doc := fmt.Sprintf(`
environment: test
log: {level: error}
redis: {enabled: %t, addr: %q}
health: {check_interval: 1h}
sources:
  - {name: a, url: %q, priority: 1, critical: true, fee_bps: 0, probe: {input: SOL, output: USDC}}
  - {name: b, url: %q, priority: 2, fee_bps: 0, probe: {input: SOL, output: USDC}}
`, redisAddr != "", redisAddr, urls[0], urls[1])
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	return cfg
}

func TestInitializeAppEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	a, b := venue("100"), venue("102")
	defer a.Close()
	defer b.Close()

	app, err := InitializeApp(testConfig(t, mr.Addr(), a.URL, b.URL))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	require.NoError(t, app.Start(ctx))

	best, err := app.Aggregator().BestQuote(ctx, models.QuoteParams{
		InputAsset:  "SOL",
		OutputAsset: "USDC",
		Amount:      decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, "b", best.Source)
	assert.Equal(t, int64(200), best.ImprovementBps)

	require.Eventually(t, func() bool {
		_, ok := app.Monitor().Latest()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	h, _ := app.Monitor().Latest()
	assert.Equal(t, models.StatusHealthy, h.Status)
	require.Len(t, h.Services, 3)

	require.NoError(t, app.Shutdown(ctx))
	require.NoError(t, app.Shutdown(ctx))
	assert.True(t, mr.Exists("swapquote:quotecache:a:pair_stats"))
}

func TestInitializeAppWithoutRedis(t *testing.T) {
	a, b := venue("100"), venue("99")
	defer a.Close()
	defer b.Close()

	app, err := InitializeApp(testConfig(t, "", a.URL, b.URL))
	require.NoError(t, err)

	h := app.Monitor().Check(context.Background())
	assert.Equal(t, models.StatusHealthy, h.Status)
	require.NoError(t, app.Shutdown(context.Background()))
}

func TestInitializeAppRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := InitializeApp(testConfig(t, addr, "http://127.0.0.1:1/q", "http://127.0.0.1:2/q"))
	assert.Error(t, err)
}
