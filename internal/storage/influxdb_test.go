package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/bandarscope/internal/config"
)

func newInfluxServer(t *testing.T, status string) (*httptest.Server, func() []string) {
	t.Helper()

	var (
		mu     sync.Mutex
		writes []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"name":"influxdb","message":"ready","status":"`+status+`","checks":[]}`)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			writes = append(writes, string(body))
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), writes...)
	}
}

func TestInfluxDBStoreAppendWritesPoint(t *testing.T) {
	srv, writes := newInfluxServer(t, "pass")

	s, err := NewInfluxDBStore(context.Background(), config.HistoryConfig{
		URL: srv.URL, Token: "token", Organization: "bandarscope", Bucket: "bandarscope",
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(context.Background(), rec(btcidr, "abc", time.Unix(1700000000, 0))))

	got := writes()
	require.Len(t, got, 1)
	line := got[0]
	assert.Contains(t, line, "recommendations,action=BUY,pair=btc_idr ")
	assert.Contains(t, line, `id="abc"`)
	assert.Contains(t, line, "score=0.4")
	assert.Contains(t, line, "1700000000000000000")
}

func TestInfluxDBStoreUnhealthy(t *testing.T) {
	srv, _ := newInfluxServer(t, "fail")

	_, err := NewInfluxDBStore(context.Background(), config.HistoryConfig{URL: srv.URL, Token: "token"})
	assert.Error(t, err)
}
