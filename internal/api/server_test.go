package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/bandarscope/internal/storage"
	"github.com/skalibog/bandarscope/pkg/models"
)

type fakeAnalyzer struct {
	err error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, raw string) (*models.Recommendation, error) {
	if f.err != nil {
		return nil, f.err
	}
	pair, err := models.ParsePair(raw)
	if err != nil {
		return nil, err
	}
	return &models.Recommendation{
		ID:         "rec-1",
		Pair:       pair,
		Action:     models.ActionBuy,
		Confidence: 0.62,
		Score:      0.3,
		Indicators: models.IndicatorSet{"rsi": {Name: "rsi", Present: true, Value: 28, Score: 0.07}},
		ComputedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeAnalyzer) Invalidate(raw string) (int, error) {
	if _, err := models.ParsePair(raw); err != nil {
		return 0, err
	}
	return 3, nil
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return rr, body
}

func TestHealth(t *testing.T) {
	rr, body := do(t, NewServer(&fakeAnalyzer{}, nil, nil), http.MethodGet, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestAnalysisReturnsRecommendation(t *testing.T) {
	rr, body := do(t, NewServer(&fakeAnalyzer{}, nil, nil), http.MethodGet, "/api/v1/analysis/btc_idr")
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, "rec-1", body["id"])
	assert.Equal(t, "BUY", body["action"])
	assert.Equal(t, 0.62, body["confidence"])
	assert.Contains(t, body, "indicators")
	assert.Contains(t, body, "computed_at")
	assert.Nil(t, body["bandarmology"])
}

func TestAnalysisErrorMapping(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", models.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("x: %w", models.ErrRateLimited), http.StatusTooManyRequests},
		{fmt.Errorf("x: %w", models.ErrUpstreamUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("x: %w", models.ErrInsufficientData), http.StatusUnprocessableEntity},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	} {
		rr, body := do(t, NewServer(&fakeAnalyzer{err: tc.err}, nil, nil), http.MethodGet, "/api/v1/analysis/btc_idr")
		assert.Equal(t, tc.want, rr.Code, tc.err.Error())
		assert.Equal(t, false, body["success"])
		assert.Equal(t, tc.err.Error(), body["error"])
	}
}

func TestAnalysisInvalidPair(t *testing.T) {
	rr, body := do(t, NewServer(&fakeAnalyzer{}, nil, nil), http.MethodGet, "/api/v1/analysis/x")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, false, body["success"])
}

func TestHistory(t *testing.T) {
	mem := storage.NewMemoryStore(10)
	pair := models.TradingPair{Base: "btc", Quote: "idr"}
	for i := 0; i < 3; i++ {
		require.NoError(t, mem.Append(context.Background(), &models.Recommendation{
			ID: fmt.Sprintf("r%d", i), Pair: pair, Action: models.ActionHold,
		}))
	}
	srv := NewServer(&fakeAnalyzer{}, mem, nil)

	rr, body := do(t, srv, http.MethodGet, "/api/v1/history/BTCIDR?limit=2")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(2), body["count"])
	data := body["data"].([]interface{})
	assert.Equal(t, "r2", data[0].(map[string]interface{})["id"])

	rr, _ = do(t, srv, http.MethodGet, "/api/v1/history/btc_idr?limit=1001")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, body = do(t, srv, http.MethodGet, "/api/v1/history/sol_idr")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(0), body["count"])
}

func TestHistoryWithoutReader(t *testing.T) {
	rr, body := do(t, NewServer(&fakeAnalyzer{}, nil, nil), http.MethodGet, "/api/v1/history/btc_idr")
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
	assert.Equal(t, false, body["success"])
}

func TestInvalidateCache(t *testing.T) {
	rr, body := do(t, NewServer(&fakeAnalyzer{}, nil, nil), http.MethodDelete, "/api/v1/cache/btc_idr")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(3), body["invalidated"])
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	rr := httptest.NewRecorder()
	NewServer(&fakeAnalyzer{}, nil, metrics).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "# metrics")
}
