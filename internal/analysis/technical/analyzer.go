package technical

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/skalibog/bandarscope/internal/config"
	"github.com/skalibog/bandarscope/pkg/models"
)

// Имена индикаторов
const (
	RSI         = "rsi"
	MACD        = "macd"
	SMACross    = "sma_cross"
	Bollinger   = "bollinger"
	ROC         = "roc"
	Volume      = "volume"
	VolumeDelta = "volume_delta"
	Ichimoku    = "ichimoku"
	ATR         = "atr"
)

// Indicators имена всех индикаторов, которые рассчитывает Analyze
var Indicators = []string{RSI, MACD, SMACross, Bollinger, ROC, Volume, VolumeDelta, Ichimoku, ATR}

// AbsentSet набор, в котором все индикаторы отсутствуют по одной причине
func AbsentSet(reason string) models.IndicatorSet {
	set := make(models.IndicatorSet, len(Indicators))
	for _, name := range Indicators {
		set[name] = absent(name, reason)
	}
	return set
}

// Analyzer реализует анализатор технических индикаторов.
// Не хранит состояния и безопасен для параллельного использования.
type Analyzer struct {
	config config.TechnicalConfig
}

// NewAnalyzer создает новый анализатор технических индикаторов
func NewAnalyzer(cfg config.TechnicalConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// Analyze рассчитывает все индикаторы по истории цен.
// Короткая история не ошибка: индикаторы без достаточных данных помечаются отсутствующими.
func (a *Analyzer) Analyze(history models.PriceHistory) (models.IndicatorSet, error) {
	if err := history.Validate(); err != nil {
		return nil, err
	}

	opens, highs, lows, closes, volumes := history.Series()

	set := models.IndicatorSet{}
	for _, ind := range []models.Indicator{
		a.calculateRSI(closes),
		a.calculateMACD(closes),
		a.calculateSMACross(closes),
		a.calculateBollingerBands(closes),
		a.calculateROC(closes),
		a.calculateVolume(opens, closes, volumes),
		a.calculateVolumeDelta(opens, closes, volumes),
		a.calculateIchimoku(highs, lows, closes),
		a.calculateATR(highs, lows, closes),
	} {
		set[ind.Name] = ind
	}

	return set, nil
}

// calculateRSI рассчитывает RSI: ниже зоны перепроданности - покупка, выше зоны перекупленности - продажа
func (a *Analyzer) calculateRSI(closes []float64) models.Indicator {
	period := a.config.RSIPeriod
	if len(closes) < period+1 {
		return absent(RSI, needBars(period+1, len(closes)))
	}

	var lastRSI float64
	if flat(closes[len(closes)-period-1:]) {
		// без изменений цены RSI не определен, считаем нейтральным
		lastRSI = 50
	} else {
		rsi := talib.Rsi(closes, period)
		lastRSI = rsi[len(rsi)-1]
	}

	oversold, overbought := a.config.RSIOversold, a.config.RSIOverbought
	var score float64
	switch {
	case lastRSI < oversold:
		score = (oversold - lastRSI) / oversold
	case lastRSI > overbought:
		score = -(lastRSI - overbought) / (100 - overbought)
	}

	return present(RSI, lastRSI, score, nil)
}

// calculateMACD рассчитывает MACD; оценка - последняя гистограмма относительно максимальной по модулю
func (a *Analyzer) calculateMACD(closes []float64) models.Indicator {
	lookback := a.config.MACDSlow + a.config.MACDSignal - 2
	if len(closes) <= lookback {
		return absent(MACD, needBars(lookback+1, len(closes)))
	}

	macd, signal, hist := talib.Macd(closes, a.config.MACDFast, a.config.MACDSlow, a.config.MACDSignal)

	lastHist := hist[len(hist)-1]

	maxHist := 0.0
	for _, h := range hist[lookback:] {
		if math.Abs(h) > maxHist {
			maxHist = math.Abs(h)
		}
	}

	var score float64
	if maxHist > 0 {
		score = lastHist / maxHist
	}

	return present(MACD, lastHist, score, map[string]float64{
		"macd":   macd[len(macd)-1],
		"signal": signal[len(signal)-1],
		"hist":   lastHist,
	})
}

// calculateSMACross сравнивает быструю и медленную скользящие средние
func (a *Analyzer) calculateSMACross(closes []float64) models.Indicator {
	if len(closes) < a.config.SMASlow {
		return absent(SMACross, needBars(a.config.SMASlow, len(closes)))
	}

	fast := last(talib.Sma(closes, a.config.SMAFast))
	slow := last(talib.Sma(closes, a.config.SMASlow))
	if slow == 0 {
		return absent(SMACross, "нулевая медленная средняя")
	}

	spread := (fast - slow) / slow

	return present(SMACross, spread*100, clamp(spread*50), map[string]float64{
		"fast": fast,
		"slow": slow,
	})
}

// calculateBollingerBands рассчитывает Bollinger Bands; сигнал только при выходе цены за полосы
func (a *Analyzer) calculateBollingerBands(closes []float64) models.Indicator {
	period := a.config.BBPeriod
	if len(closes) < period {
		return absent(Bollinger, needBars(period, len(closes)))
	}

	upper, middle, lower := talib.BBands(closes, period, a.config.BBDeviation, a.config.BBDeviation, talib.SMA)

	lastUpper, lastMiddle, lastLower := last(upper), last(middle), last(lower)
	lastClose := last(closes)
	components := map[string]float64{
		"upper":  lastUpper,
		"middle": lastMiddle,
		"lower":  lastLower,
	}

	width := lastUpper - lastLower
	if width <= 1e-12*math.Max(math.Abs(lastMiddle), 1) {
		// полоса нулевой ширины
		return present(Bollinger, 0.5, 0, components)
	}

	// Позиция цены в полосе (0 = нижняя граница, 1 = верхняя граница)
	percentB := (lastClose - lastLower) / width

	var score float64
	switch {
	case percentB < 0:
		score = 1
	case percentB > 1:
		score = -1
	}

	return present(Bollinger, percentB, score, components)
}

// calculateROC рассчитывает скорость изменения цены в процентах
func (a *Analyzer) calculateROC(closes []float64) models.Indicator {
	period := a.config.ROCPeriod
	if len(closes) < period+1 {
		return absent(ROC, needBars(period+1, len(closes)))
	}

	prev := closes[len(closes)-1-period]
	if prev == 0 {
		return absent(ROC, "нулевая цена в начале периода")
	}

	roc := last(talib.Roc(closes, period))

	return present(ROC, roc, clamp(roc/5), nil)
}

// calculateVolume сравнивает объем последней свечи со средним.
// Всплеск объема подтверждает направление последней свечи.
func (a *Analyzer) calculateVolume(opens, closes, volumes []float64) models.Indicator {
	period := a.config.VolumePeriod
	if len(volumes) < period {
		return absent(Volume, needBars(period, len(volumes)))
	}

	avg := mean(volumes[len(volumes)-period:])
	if avg == 0 {
		return absent(Volume, "нулевой средний объем")
	}

	ratio := last(volumes) / avg

	var score float64
	if ratio >= a.config.VolumeSpike {
		strength := clamp((ratio - 1) / 2)
		switch o, c := last(opens), last(closes); {
		case c > o:
			score = strength
		case c < o:
			score = -strength
		}
	}

	return present(Volume, ratio, score, map[string]float64{
		"current": last(volumes),
		"average": avg,
	})
}

// calculateVolumeDelta рассчитывает кумулятивную дельту объемов.
// Объем бычьей свечи считается положительным, медвежьей - отрицательным; недавние свечи весят больше.
func (a *Analyzer) calculateVolumeDelta(opens, closes, volumes []float64) models.Indicator {
	bars := a.config.VolumeDeltaBars
	if len(volumes) < bars {
		return absent(VolumeDelta, needBars(bars, len(volumes)))
	}

	var cumulativeDelta, totalVolume float64
	for i := 0; i < bars; i++ {
		idx := len(volumes) - 1 - i

		var direction float64
		switch {
		case closes[idx] > opens[idx]:
			direction = 1
		case closes[idx] < opens[idx]:
			direction = -1
		}

		weight := 1.0 - float64(i)/float64(bars)
		cumulativeDelta += direction * volumes[idx] * weight
		totalVolume += volumes[idx] * weight
	}

	if totalVolume == 0 {
		return absent(VolumeDelta, "нулевой объем")
	}

	normalizedDelta := cumulativeDelta / totalVolume

	return present(VolumeDelta, normalizedDelta, clamp(normalizedDelta), nil)
}

// calculateIchimoku рассчитывает Ichimoku Cloud по положению цены относительно облака
func (a *Analyzer) calculateIchimoku(highs, lows, closes []float64) models.Indicator {
	if len(closes) < a.config.IchimokuSenkouB {
		return absent(Ichimoku, needBars(a.config.IchimokuSenkouB, len(closes)))
	}

	// Tenkan-sen (конверсионная линия) и Kijun-sen (базовая линия)
	tenkan := midpoint(highs, lows, a.config.IchimokuTenkan)
	kijun := midpoint(highs, lows, a.config.IchimokuKijun)

	// Линии облака без смещения вперед
	senkouA := (tenkan + kijun) / 2
	senkouB := midpoint(highs, lows, a.config.IchimokuSenkouB)

	lastClose := last(closes)

	var signal float64
	switch {
	case lastClose > math.Max(senkouA, senkouB):
		// Цена выше облака
		signal = 0.5
		if tenkan > kijun {
			signal += 0.3
		}
		if senkouA > senkouB {
			signal += 0.2
		}
	case lastClose < math.Min(senkouA, senkouB):
		// Цена ниже облака
		signal = -0.5
		if tenkan < kijun {
			signal -= 0.3
		}
		if senkouA < senkouB {
			signal -= 0.2
		}
	default:
		// Цена внутри облака: направление по Tenkan/Kijun
		if tenkan > kijun {
			signal = 0.25
		} else if tenkan < kijun {
			signal = -0.25
		}
	}

	return present(Ichimoku, signal, signal, map[string]float64{
		"tenkan":   tenkan,
		"kijun":    kijun,
		"senkou_a": senkouA,
		"senkou_b": senkouB,
	})
}

// calculateATR рассчитывает ATR в процентах от цены.
// Направления не дает, используется для оценки риска.
func (a *Analyzer) calculateATR(highs, lows, closes []float64) models.Indicator {
	period := a.config.ATRPeriod
	if len(closes) < period+1 {
		return absent(ATR, needBars(period+1, len(closes)))
	}

	lastClose := last(closes)
	if lastClose == 0 {
		return absent(ATR, "нулевая цена закрытия")
	}

	atr := last(talib.Atr(highs, lows, closes, period))

	return present(ATR, atr/lastClose*100, 0, map[string]float64{"atr": atr})
}

func present(name string, value, score float64, components map[string]float64) models.Indicator {
	if !finite(value) || !finite(score) {
		return absent(name, "результат расчета не является числом")
	}
	for k, v := range components {
		if !finite(v) {
			return absent(name, fmt.Sprintf("компонента %s не является числом", k))
		}
	}
	return models.Indicator{
		Name:       name,
		Present:    true,
		Value:      value,
		Score:      score,
		Signal:     models.SignalFromScore(score),
		Components: components,
	}
}

func absent(name, reason string) models.Indicator {
	return models.Indicator{
		Name:   name,
		Signal: models.SignalNeutral,
		Reason: reason,
	}
}

func needBars(need, have int) string {
	return fmt.Sprintf("недостаточно данных: %d свечей, требуется %d", have, need)
}

// midpoint середина диапазона за последние period свечей
func midpoint(highs, lows []float64, period int) float64 {
	n := len(highs)
	periodHigh, periodLow := highs[n-period], lows[n-period]
	for i := n - period + 1; i < n; i++ {
		periodHigh = math.Max(periodHigh, highs[i])
		periodLow = math.Min(periodLow, lows[i])
	}
	return (periodHigh + periodLow) / 2
}

func flat(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func last(values []float64) float64 {
	return values[len(values)-1]
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
