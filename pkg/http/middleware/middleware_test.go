package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"SwapQuote/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEcho(reg prometheus.Registerer) *echo.Echo {
	e := echo.New()
	l := logger.NewNop()
	e.Use(Metrics(reg, l, 0))
	e.Use(Recover(l))
	e.Use(CORS(CORSConfig{AllowOrigins: []string{"*"}, AllowMethods: []string{http.MethodGet}}))
	e.GET("/ok/:id", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/boom", func(c echo.Context) error { panic("boom") })
	return e
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newEcho(reg)

	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok/"+id, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	m := newHTTPMetrics(reg)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("/ok/:id", http.MethodGet, "200")))
}

func TestRecoverReturns500(t *testing.T) {
	e := newEcho(prometheus.NewRegistry())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal Server Error")
}

func TestCORSPreflight(t *testing.T) {
	e := newEcho(prometheus.NewRegistry())
	req := httptest.NewRequest(http.MethodOptions, "/ok/1", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.MethodGet, rec.Header().Get("Access-Control-Allow-Methods"))
}
