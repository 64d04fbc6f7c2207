package exchange

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skalibog/bandarscope/pkg/logger"
	"github.com/skalibog/bandarscope/pkg/models"
)

const maxBodySize = 8 << 20

// IndodaxClient клиент публичного REST API Indodax
type IndodaxClient struct {
	baseURL  string
	http     *http.Client
	validate *validator.Validate
	now      func() time.Time
}

// NewIndodaxClient создает клиент Indodax. Таймаут запросов задает Gateway через контекст.
func NewIndodaxClient(baseURL string, httpClient *http.Client) *IndodaxClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &IndodaxClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		validate: validator.New(),
		now:      time.Now,
	}
}

// indodaxError ответ Indodax с ошибкой, приходит в том числе со статусом 200
type indodaxError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// indodaxTicker поля тикера; объемы приходят под ключами vol_<валюта>
type indodaxTicker struct {
	High       string `json:"high" validate:"required,numeric"`
	Low        string `json:"low" validate:"required,numeric"`
	Last       string `json:"last" validate:"required,numeric"`
	Buy        string `json:"buy" validate:"omitempty,numeric"`
	Sell       string `json:"sell" validate:"omitempty,numeric"`
	ServerTime int64  `json:"server_time"`
}

type indodaxDepth struct {
	Buy  [][2]decimal.Decimal `json:"buy" validate:"required"`
	Sell [][2]decimal.Decimal `json:"sell" validate:"required"`
}

type indodaxCandle struct {
	Time   int64           `json:"Time" validate:"gt=0"`
	Open   decimal.Decimal `json:"Open"`
	High   decimal.Decimal `json:"High"`
	Low    decimal.Decimal `json:"Low"`
	Close  decimal.Decimal `json:"Close"`
	Volume decimal.Decimal `json:"Volume"`
}

// GetTicker получает 24-часовую сводку
func (c *IndodaxClient) GetTicker(ctx context.Context, pair models.TradingPair) (*models.Ticker, error) {
	body, err := c.fetch(ctx, "/api/ticker/"+pair.Compact(), nil)
	if err != nil {
		return nil, err
	}
	return c.parseTicker(pair, body)
}

// GetOrderBook получает стакан заявок
func (c *IndodaxClient) GetOrderBook(ctx context.Context, pair models.TradingPair, limit int) (*models.OrderBook, error) {
	body, err := c.fetch(ctx, "/api/depth/"+pair.Compact(), nil)
	if err != nil {
		return nil, err
	}
	return c.parseDepth(pair, body, limit)
}

// GetKlines получает исторические свечи через tradingview history_v2
func (c *IndodaxClient) GetKlines(ctx context.Context, pair models.TradingPair, interval string, limit int) (models.PriceHistory, error) {
	step, err := indodaxTimeframe(interval)
	if err != nil {
		return nil, err
	}

	to := c.now()
	from := to.Add(-step * time.Duration(limit))

	q := url.Values{}
	q.Set("symbol", strings.ToUpper(pair.Compact()))
	q.Set("tf", interval)
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))

	body, err := c.fetch(ctx, "/tradingview/history_v2", q)
	if err != nil {
		return nil, err
	}
	return c.parseKlines(pair, interval, body, limit)
}

// fetch выполняет GET запрос и возвращает тело ответа
func (c *IndodaxClient) fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка чтения ответа: %w", models.ErrUpstreamUnavailable, err)
	}

	if err := classifyStatus(resp.StatusCode, body); err != nil {
		logger.Debug("Indodax вернул ошибку", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return nil, err
	}

	if err := checkEnvelope(body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkEnvelope распознает ответ вида {"error": "..."}
func checkEnvelope(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' || !bytes.Contains(trimmed, []byte(`"error"`)) {
		return nil
	}

	var e indodaxError
	if err := json.Unmarshal(trimmed, &e); err != nil || e.Error == "" {
		return nil
	}
	if mentionsInvalidPair([]byte(e.Error + " " + e.Description)) {
		return fmt.Errorf("%w: %s", models.ErrInvalidInput, e.Description)
	}
	return fmt.Errorf("%w: %s", models.ErrUpstreamUnavailable, e.Error)
}

func (c *IndodaxClient) parseTicker(pair models.TradingPair, body []byte) (*models.Ticker, error) {
	var envelope struct {
		Ticker map[string]json.RawMessage `json:"ticker"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, malformed("ticker", err)
	}
	if envelope.Ticker == nil {
		return nil, malformed("ticker", errors.New("нет поля ticker"))
	}

	raw, err := json.Marshal(envelope.Ticker)
	if err != nil {
		return nil, malformed("ticker", err)
	}
	var t indodaxTicker
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, malformed("ticker", err)
	}
	if err := c.validate.Struct(&t); err != nil {
		return nil, malformed("ticker", err)
	}

	ticker := &models.Ticker{
		Pair:      pair,
		Last:      mustFloat(t.Last),
		High24h:   mustFloat(t.High),
		Low24h:    mustFloat(t.Low),
		Timestamp: c.now(),
	}
	if t.ServerTime > 0 {
		ticker.Timestamp = time.Unix(t.ServerTime, 0)
	}
	ticker.Volume24h = rawDecimal(envelope.Ticker["vol_"+pair.Base])
	ticker.QuoteVolume24h = rawDecimal(envelope.Ticker["vol_"+pair.Quote])

	return ticker, nil
}

func (c *IndodaxClient) parseDepth(pair models.TradingPair, body []byte, limit int) (*models.OrderBook, error) {
	var d indodaxDepth
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, malformed("depth", err)
	}
	if err := c.validate.Struct(&d); err != nil {
		return nil, malformed("depth", err)
	}

	ob := &models.OrderBook{
		Pair:      pair,
		Timestamp: c.now(),
		Bids:      levels(d.Buy),
		Asks:      levels(d.Sell),
	}
	ob.Normalize()
	truncate(ob, limit)

	return ob, nil
}

func (c *IndodaxClient) parseKlines(pair models.TradingPair, interval string, body []byte, limit int) (models.PriceHistory, error) {
	var raw []indodaxCandle
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, malformed("history", err)
	}

	history := make(models.PriceHistory, 0, len(raw))
	for i := range raw {
		if err := c.validate.Struct(&raw[i]); err != nil {
			return nil, malformed("history", err)
		}
		k := raw[i]
		history = append(history, models.Candle{
			Pair:     pair,
			Interval: interval,
			OpenTime: time.Unix(k.Time, 0).UTC(),
			Open:     k.Open.InexactFloat64(),
			High:     k.High.InexactFloat64(),
			Low:      k.Low.InexactFloat64(),
			Close:    k.Close.InexactFloat64(),
			Volume:   k.Volume.InexactFloat64(),
		})
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].OpenTime.Before(history[j].OpenTime)
	})
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

// indodaxTimeframe переводит tf Indodax в длительность свечи: "15" - минуты, "1D" - дни, "1W" - недели
func indodaxTimeframe(tf string) (time.Duration, error) {
	unit := time.Minute
	s := strings.ToUpper(tf)
	switch {
	case strings.HasSuffix(s, "D"):
		unit, s = 24*time.Hour, strings.TrimSuffix(s, "D")
	case strings.HasSuffix(s, "W"):
		unit, s = 7*24*time.Hour, strings.TrimSuffix(s, "W")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: некорректный интервал %q", models.ErrInvalidInput, tf)
	}
	return time.Duration(n) * unit, nil
}

func levels(raw [][2]decimal.Decimal) []models.OrderBookLevel {
	out := make([]models.OrderBookLevel, len(raw))
	for i, l := range raw {
		out[i] = models.OrderBookLevel{
			Price:  l[0].InexactFloat64(),
			Amount: l[1].InexactFloat64(),
		}
	}
	return out
}

func truncate(ob *models.OrderBook, limit int) {
	if limit <= 0 {
		return
	}
	if len(ob.Bids) > limit {
		ob.Bids = ob.Bids[:limit]
	}
	if len(ob.Asks) > limit {
		ob.Asks = ob.Asks[:limit]
	}
}

func rawDecimal(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// mustFloat используется только для строк, уже проверенных валидатором как numeric
func mustFloat(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func malformed(kind string, err error) error {
	return fmt.Errorf("%w: некорректный ответ %s: %v", models.ErrUpstreamUnavailable, kind, err)
}
