package models

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

// TradingPair идентификатор торговой пары
type TradingPair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

var (
	pairPattern = regexp.MustCompile(`^[a-z0-9]{5,20}$`)

	// Известные котируемые валюты, используются для разбора слитной записи вида "btcidr"
	knownQuotes = []string{"usdt", "usdc", "idr", "btc", "eth", "bnb"}
)

// ParsePair разбирает идентификатор пары: btcidr, btc_idr, BTC-IDR, btc/idr
func ParsePair(raw string) (TradingPair, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return TradingPair{}, fmt.Errorf("%w: пустой идентификатор пары", ErrInvalidInput)
	}

	var base, quote string
	if i := strings.IndexAny(s, "_-/"); i >= 0 {
		base, quote = s[:i], s[i+1:]
	} else {
		for _, q := range knownQuotes {
			if strings.HasSuffix(s, q) && len(s) > len(q) {
				base, quote = strings.TrimSuffix(s, q), q
				break
			}
		}
	}

	if base == "" || quote == "" {
		return TradingPair{}, fmt.Errorf("%w: не удалось определить котируемую валюту в %q", ErrInvalidInput, raw)
	}
	if !pairPattern.MatchString(base + quote) {
		return TradingPair{}, fmt.Errorf("%w: некорректный формат пары %q (5-20 латинских букв и цифр)", ErrInvalidInput, raw)
	}

	return TradingPair{Base: base, Quote: quote}, nil
}

// String возвращает пару в виде base_quote
func (p TradingPair) String() string {
	return p.Base + "_" + p.Quote
}

// Compact возвращает пару в слитном виде, как ее ожидает Indodax
func (p TradingPair) Compact() string {
	return p.Base + p.Quote
}

// Ticker представляет 24-часовую сводку по паре.
// ChangeKnown сообщает, что биржа сама прислала изменение за сутки.
type Ticker struct {
	Pair           TradingPair `json:"pair"`
	Last           float64     `json:"last"`
	High24h        float64     `json:"high_24h"`
	Low24h         float64     `json:"low_24h"`
	Volume24h      float64     `json:"volume_24h"`
	QuoteVolume24h float64     `json:"quote_volume_24h"`
	ChangePct24h   float64     `json:"change_pct_24h"`
	ChangeKnown    bool        `json:"change_known"`
	Timestamp      time.Time   `json:"timestamp"`
}

// OrderBookLevel представляет уровень стакана
type OrderBookLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// OrderBook представляет стакан заявок.
// Биды отсортированы по убыванию цены, аски по возрастанию.
type OrderBook struct {
	Pair      TradingPair      `json:"pair"`
	Timestamp time.Time        `json:"timestamp"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
}

// Normalize сортирует стороны стакана и отбрасывает пустые и некорректные уровни
func (ob *OrderBook) Normalize() {
	ob.Bids = dropEmptyLevels(ob.Bids)
	ob.Asks = dropEmptyLevels(ob.Asks)

	sort.SliceStable(ob.Bids, func(i, j int) bool {
		return ob.Bids[i].Price > ob.Bids[j].Price
	})
	sort.SliceStable(ob.Asks, func(i, j int) bool {
		return ob.Asks[i].Price < ob.Asks[j].Price
	})
}

func dropEmptyLevels(levels []OrderBookLevel) []OrderBookLevel {
	out := levels[:0:0]
	for _, l := range levels {
		if l.Amount > 0 && l.Price > 0 && !math.IsInf(l.Amount, 1) && !math.IsInf(l.Price, 1) {
			out = append(out, l)
		}
	}
	return out
}

// BestBid возвращает лучший бид
func (ob *OrderBook) BestBid() (OrderBookLevel, bool) {
	if len(ob.Bids) == 0 {
		return OrderBookLevel{}, false
	}
	return ob.Bids[0], true
}

// BestAsk возвращает лучший аск
func (ob *OrderBook) BestAsk() (OrderBookLevel, bool) {
	if len(ob.Asks) == 0 {
		return OrderBookLevel{}, false
	}
	return ob.Asks[0], true
}

// Crossed сообщает, что лучший бид не ниже лучшего аска
func (ob *OrderBook) Crossed() bool {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	return okBid && okAsk && bid.Price >= ask.Price
}

// Candle представляет свечу
type Candle struct {
	Pair     TradingPair `json:"pair"`
	Interval string      `json:"interval"`
	OpenTime time.Time   `json:"open_time"`
	Open     float64     `json:"open"`
	High     float64     `json:"high"`
	Low      float64     `json:"low"`
	Close    float64     `json:"close"`
	Volume   float64     `json:"volume"`
}

// PriceHistory упорядоченная по времени последовательность свечей
type PriceHistory []Candle

// Validate проверяет строгое возрастание времени открытия.
// Пропуски допускаются и не интерполируются.
func (h PriceHistory) Validate() error {
	for i := 1; i < len(h); i++ {
		if !h[i].OpenTime.After(h[i-1].OpenTime) {
			return fmt.Errorf("%w: время свечи %d (%s) не больше предыдущей (%s)",
				ErrInvalidInput, i, h[i].OpenTime.Format(time.RFC3339), h[i-1].OpenTime.Format(time.RFC3339))
		}
	}
	return nil
}

// Series раскладывает историю на отдельные ряды для расчета индикаторов
func (h PriceHistory) Series() (opens, highs, lows, closes, volumes []float64) {
	opens = make([]float64, len(h))
	highs = make([]float64, len(h))
	lows = make([]float64, len(h))
	closes = make([]float64, len(h))
	volumes = make([]float64, len(h))

	for i, c := range h {
		opens[i] = c.Open
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	return
}

// ChangeOver изменение цены закрытия в процентах за период d до последней свечи.
// Базой служит последняя свеча, открытая не позже чем за d до последней.
func (h PriceHistory) ChangeOver(d time.Duration) (float64, bool) {
	if len(h) < 2 {
		return 0, false
	}
	last := h[len(h)-1]
	base, ok := h.lastBefore(last.OpenTime.Add(-d))
	if !ok || base.Close == 0 {
		return 0, false
	}
	return (last.Close - base.Close) / base.Close * 100, true
}

// VolumeRatioOver отношение объема за последний период d к объему за предыдущий такой же период.
// Требует, чтобы история покрывала оба периода.
func (h PriceHistory) VolumeRatioOver(d time.Duration) (float64, bool) {
	if len(h) < 2 {
		return 0, false
	}
	end := h[len(h)-1].OpenTime
	split, start := end.Add(-d), end.Add(-2*d)
	if h[0].OpenTime.After(start) {
		return 0, false
	}

	var current, previous float64
	for _, c := range h {
		switch {
		case c.OpenTime.After(split):
			current += c.Volume
		case c.OpenTime.After(start):
			previous += c.Volume
		}
	}
	if previous == 0 {
		return 0, false
	}
	return current / previous, true
}

func (h PriceHistory) lastBefore(t time.Time) (Candle, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if !h[i].OpenTime.After(t) {
			return h[i], true
		}
	}
	return Candle{}, false
}

// Signal направление сигнала
type Signal string

const (
	SignalBullish Signal = "bullish"
	SignalBearish Signal = "bearish"
	SignalNeutral Signal = "neutral"
)

// SignalFromScore переводит оценку в направление
func SignalFromScore(score float64) Signal {
	switch {
	case score > 0:
		return SignalBullish
	case score < 0:
		return SignalBearish
	default:
		return SignalNeutral
	}
}

// Indicator значение одного технического индикатора.
// Отсутствующий индикатор остается в наборе с Present=false и причиной.
type Indicator struct {
	Name       string             `json:"name"`
	Present    bool               `json:"present"`
	Value      float64            `json:"value"`
	Score      float64            `json:"score"`
	Signal     Signal             `json:"signal"`
	Components map[string]float64 `json:"components,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}

// IndicatorSet набор индикаторов по имени
type IndicatorSet map[string]Indicator

// Present возвращает имена рассчитанных индикаторов в отсортированном порядке
func (s IndicatorSet) Present() []string {
	names := make([]string, 0, len(s))
	for name, ind := range s {
		if ind.Present {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
