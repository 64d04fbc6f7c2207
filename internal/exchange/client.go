package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/skalibog/bandarscope/pkg/models"
)

// Client источник рыночных данных биржи
type Client interface {
	GetTicker(ctx context.Context, pair models.TradingPair) (*models.Ticker, error)
	GetOrderBook(ctx context.Context, pair models.TradingPair, limit int) (*models.OrderBook, error)
	GetKlines(ctx context.Context, pair models.TradingPair, interval string, limit int) (models.PriceHistory, error)
}

// Kind тип запрашиваемых данных
type Kind string

const (
	KindTicker  Kind = "ticker"
	KindDepth   Kind = "depth"
	KindHistory Kind = "history"
)

// classifyStatus переводит HTTP статус ответа биржи в типизированную ошибку
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: биржа вернула %d", models.ErrRateLimited, status)
	case status >= 500:
		return fmt.Errorf("%w: биржа вернула %d", models.ErrUpstreamUnavailable, status)
	case (status == http.StatusBadRequest || status == http.StatusNotFound) && mentionsInvalidPair(body):
		return fmt.Errorf("%w: биржа не знает такую пару", models.ErrInvalidInput)
	default:
		return fmt.Errorf("%w: неожиданный статус %d", models.ErrUpstreamUnavailable, status)
	}
}

func mentionsInvalidPair(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "invalid_pair") ||
		strings.Contains(s, "invalid pair") ||
		strings.Contains(s, "invalid symbol")
}
