package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/bandarscope/internal/metrics"
	"github.com/skalibog/bandarscope/pkg/logger"
	"github.com/skalibog/bandarscope/pkg/models"
)

// GatewayOptions параметры шлюза
type GatewayOptions struct {
	RequestTimeout time.Duration
	Interval       string
	HistoryBars    int
	DepthLimit     int
	Metrics        *metrics.Metrics
}

// Gateway единая точка доступа к бирже: общий лимитер, таймаут и типизированные ошибки.
// Повторов на этом уровне нет.
type Gateway struct {
	client  Client
	limiter *RateLimiter
	opts    GatewayOptions
}

// NewGateway создает шлюз поверх клиента биржи
func NewGateway(client Client, limiter *RateLimiter, opts GatewayOptions) *Gateway {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Interval == "" {
		opts.Interval = "15"
	}
	if opts.HistoryBars <= 0 {
		opts.HistoryBars = 200
	}
	if opts.DepthLimit <= 0 {
		opts.DepthLimit = 100
	}
	return &Gateway{client: client, limiter: limiter, opts: opts}
}

// Fetch получает данные указанного типа: *models.Ticker, *models.OrderBook или models.PriceHistory
func (g *Gateway) Fetch(ctx context.Context, kind Kind, pair models.TradingPair) (any, error) {
	switch kind {
	case KindTicker, KindDepth, KindHistory:
	default:
		return nil, fmt.Errorf("%w: неизвестный тип данных %q", models.ErrInvalidInput, kind)
	}

	if err := g.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.opts.RequestTimeout)
	defer cancel()

	start := time.Now()
	var (
		result any
		err    error
	)
	switch kind {
	case KindTicker:
		result, err = g.client.GetTicker(callCtx, pair)
	case KindDepth:
		result, err = g.client.GetOrderBook(callCtx, pair, g.opts.DepthLimit)
	case KindHistory:
		result, err = g.client.GetKlines(callCtx, pair, g.opts.Interval, g.opts.HistoryBars)
	}

	if err != nil {
		err = classify(callCtx, err)
		g.opts.Metrics.ObserveUpstream(string(kind), outcome(err), time.Since(start))
		logger.Warn("Ошибка запроса к бирже",
			zap.String("kind", string(kind)),
			zap.String("pair", pair.String()),
			zap.Error(err))
		return nil, err
	}

	g.opts.Metrics.ObserveUpstream(string(kind), "ok", time.Since(start))
	logger.Debug("Получены данные биржи",
		zap.String("kind", string(kind)),
		zap.String("pair", pair.String()),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// Ticker получает тикер
func (g *Gateway) Ticker(ctx context.Context, pair models.TradingPair) (*models.Ticker, error) {
	v, err := g.Fetch(ctx, KindTicker, pair)
	if err != nil {
		return nil, err
	}
	return v.(*models.Ticker), nil
}

// Depth получает стакан
func (g *Gateway) Depth(ctx context.Context, pair models.TradingPair) (*models.OrderBook, error) {
	v, err := g.Fetch(ctx, KindDepth, pair)
	if err != nil {
		return nil, err
	}
	return v.(*models.OrderBook), nil
}

// History получает историю свечей
func (g *Gateway) History(ctx context.Context, pair models.TradingPair) (models.PriceHistory, error) {
	v, err := g.Fetch(ctx, KindHistory, pair)
	if err != nil {
		return nil, err
	}
	return v.(models.PriceHistory), nil
}

// classify гарантирует, что наружу уходит одна из типизированных ошибок
func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, models.ErrRateLimited),
		errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrUpstreamUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		return fmt.Errorf("%w: таймаут запроса: %w", models.ErrUpstreamUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", models.ErrUpstreamUnavailable, err)
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, models.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, models.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
