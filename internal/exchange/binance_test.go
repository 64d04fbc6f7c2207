package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/bandarscope/pkg/models"
)

func TestBinanceOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/depth", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"lastUpdateId":1,"bids":[["99.5","2"],["100.0","1.5"]],"asks":[["101.0","3"]]}`))
	}))
	defer srv.Close()

	c := NewBinanceClient(srv.URL, "", "", srv.Client())
	ob, err := c.GetOrderBook(context.Background(), models.TradingPair{Base: "btc", Quote: "usdt"}, 10)
	require.NoError(t, err)

	require.Len(t, ob.Bids, 2)
	assert.Equal(t, 100.0, ob.Bids[0].Price)
	assert.Equal(t, 1.5, ob.Bids[0].Amount)
	assert.Equal(t, 101.0, ob.Asks[0].Price)
}

func TestBinanceErrorMapping(t *testing.T) {
	assert.ErrorIs(t,
		binanceError("x", &common.APIError{Code: binanceCodeTooManyRequests, Message: "too many"}),
		models.ErrRateLimited)
	assert.ErrorIs(t,
		binanceError("x", &common.APIError{Code: binanceCodeInvalidSymbol, Message: "Invalid symbol."}),
		models.ErrInvalidInput)
	assert.ErrorIs(t,
		binanceError("x", errors.New("connection reset")),
		models.ErrUpstreamUnavailable)
}

func TestToBinanceInterval(t *testing.T) {
	for tf, want := range map[string]string{
		"1":   "1m",
		"15":  "15m",
		"60":  "1h",
		"240": "4h",
		"1D":  "1d",
		"3D":  "3d",
		"1W":  "1w",
	} {
		got, err := toBinanceInterval(tf)
		require.NoError(t, err, tf)
		assert.Equal(t, want, got, tf)
	}
}
