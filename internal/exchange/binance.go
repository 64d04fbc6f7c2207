package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"github.com/skalibog/bandarscope/pkg/models"
)

// Коды ошибок Binance API
const (
	binanceCodeTooManyRequests = -1003
	binanceCodeInvalidSymbol   = -1121
)

// BinanceClient клиент спотового рынка Binance
type BinanceClient struct {
	spot *binance.Client
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(baseURL, apiKey, apiSecret string, httpClient *http.Client) *BinanceClient {
	spot := binance.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		spot.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		spot.HTTPClient = httpClient
	}
	return &BinanceClient{spot: spot}
}

// GetTicker получает 24-часовую статистику по паре
func (c *BinanceClient) GetTicker(ctx context.Context, pair models.TradingPair) (*models.Ticker, error) {
	stats, err := c.spot.NewListPriceChangeStatsService().
		Symbol(binanceSymbol(pair)).
		Do(ctx)
	if err != nil {
		return nil, binanceError("ошибка получения тикера", err)
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("%w: пустой ответ тикера", models.ErrUpstreamUnavailable)
	}

	s := stats[0]
	ticker := &models.Ticker{Pair: pair, Timestamp: time.UnixMilli(s.CloseTime)}
	for _, f := range []struct {
		raw string
		dst *float64
	}{
		{s.LastPrice, &ticker.Last},
		{s.HighPrice, &ticker.High24h},
		{s.LowPrice, &ticker.Low24h},
		{s.Volume, &ticker.Volume24h},
		{s.QuoteVolume, &ticker.QuoteVolume24h},
		{s.PriceChangePercent, &ticker.ChangePct24h},
	} {
		v, err := parseDecimal(f.raw)
		if err != nil {
			return nil, malformed("ticker", err)
		}
		*f.dst = v
	}
	ticker.ChangeKnown = true

	return ticker, nil
}

// GetOrderBook получает стакан заявок
func (c *BinanceClient) GetOrderBook(ctx context.Context, pair models.TradingPair, limit int) (*models.OrderBook, error) {
	ob, err := c.spot.NewDepthService().
		Symbol(binanceSymbol(pair)).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, binanceError("ошибка получения стакана", err)
	}

	orderBook := &models.OrderBook{
		Pair:      pair,
		Timestamp: time.Now(),
		Bids:      make([]models.OrderBookLevel, 0, len(ob.Bids)),
		Asks:      make([]models.OrderBookLevel, 0, len(ob.Asks)),
	}

	for _, bid := range ob.Bids {
		level, err := parseLevel(bid.Price, bid.Quantity)
		if err != nil {
			return nil, malformed("depth", err)
		}
		orderBook.Bids = append(orderBook.Bids, level)
	}
	for _, ask := range ob.Asks {
		level, err := parseLevel(ask.Price, ask.Quantity)
		if err != nil {
			return nil, malformed("depth", err)
		}
		orderBook.Asks = append(orderBook.Asks, level)
	}
	orderBook.Normalize()

	return orderBook, nil
}

// GetKlines получает исторические свечи
func (c *BinanceClient) GetKlines(ctx context.Context, pair models.TradingPair, interval string, limit int) (models.PriceHistory, error) {
	binanceInterval, err := toBinanceInterval(interval)
	if err != nil {
		return nil, err
	}

	klines, err := c.spot.NewKlinesService().
		Symbol(binanceSymbol(pair)).
		Interval(binanceInterval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, binanceError("ошибка получения свечей", err)
	}

	history := make(models.PriceHistory, 0, len(klines))
	for _, k := range klines {
		candle := models.Candle{
			Pair:     pair,
			Interval: interval,
			OpenTime: time.UnixMilli(k.OpenTime).UTC(),
		}
		for _, f := range []struct {
			raw string
			dst *float64
		}{
			{k.Open, &candle.Open},
			{k.High, &candle.High},
			{k.Low, &candle.Low},
			{k.Close, &candle.Close},
			{k.Volume, &candle.Volume},
		} {
			v, err := parseDecimal(f.raw)
			if err != nil {
				return nil, malformed("history", err)
			}
			*f.dst = v
		}
		history = append(history, candle)
	}

	return history, nil
}

func binanceSymbol(pair models.TradingPair) string {
	return strings.ToUpper(pair.Compact())
}

// toBinanceInterval переводит tf в формат Binance: "15" -> "15m", "60" -> "1h", "1D" -> "1d"
func toBinanceInterval(tf string) (string, error) {
	d, err := indodaxTimeframe(tf)
	if err != nil {
		return "", err
	}
	switch {
	case d%(7*24*time.Hour) == 0 && d >= 7*24*time.Hour:
		return fmt.Sprintf("%dw", d/(7*24*time.Hour)), nil
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour)), nil
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour), nil
	default:
		return fmt.Sprintf("%dm", d/time.Minute), nil
	}
}

// binanceError переводит ошибку go-binance в типизированную
func binanceError(msg string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case binanceCodeTooManyRequests:
			return fmt.Errorf("%w: %s: %s", models.ErrRateLimited, msg, apiErr.Message)
		case binanceCodeInvalidSymbol:
			return fmt.Errorf("%w: %s: %s", models.ErrInvalidInput, msg, apiErr.Message)
		}
	}
	return fmt.Errorf("%w: %s: %w", models.ErrUpstreamUnavailable, msg, err)
}

func parseDecimal(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

func parseLevel(price, quantity string) (models.OrderBookLevel, error) {
	p, err := parseDecimal(price)
	if err != nil {
		return models.OrderBookLevel{}, err
	}
	q, err := parseDecimal(quantity)
	if err != nil {
		return models.OrderBookLevel{}, err
	}
	return models.OrderBookLevel{Price: p, Amount: q}, nil
}
