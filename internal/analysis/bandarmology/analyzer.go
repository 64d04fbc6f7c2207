package bandarmology

import (
	"fmt"
	"math"
	"sort"

	"github.com/skalibog/bandarscope/internal/config"
	"github.com/skalibog/bandarscope/pkg/models"
)

// Веса составляющих итоговой оценки стакана
const (
	weightWideBand   = 0.5
	weightNarrowBand = 0.2
	weightWalls      = 0.2
	weightConc       = 0.1

	// доля крупных заявок в объеме, с которой активность считается заметной
	whaleShareThreshold = 0.2
)

// Analyzer анализирует концентрацию ликвидности в стакане: дисбаланс, стены, крупные заявки.
// Не хранит состояния и безопасен для параллельного использования.
type Analyzer struct {
	config config.BandarmologyConfig
	bands  []int
}

// NewAnalyzer создает новый анализатор стакана
func NewAnalyzer(cfg config.BandarmologyConfig) *Analyzer {
	bands := append([]int(nil), cfg.Bands...)
	sort.Ints(bands)
	if len(bands) == 0 {
		bands = []int{20}
	}
	return &Analyzer{config: cfg, bands: bands}
}

// Analyze рассчитывает оценку стакана. Исходный стакан не изменяется.
func (a *Analyzer) Analyze(book *models.OrderBook) (*models.BandarmologyScore, error) {
	if book == nil {
		return nil, fmt.Errorf("%w: стакан отсутствует", models.ErrInsufficientData)
	}

	ob := *book
	ob.Normalize()

	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return nil, fmt.Errorf("%w: пустая сторона стакана (бидов %d, асков %d)",
			models.ErrInsufficientData, len(ob.Bids), len(ob.Asks))
	}
	if ob.Crossed() {
		return nil, fmt.Errorf("%w: перекрещенный стакан: лучший бид %v >= лучший аск %v",
			models.ErrInvalidInput, ob.Bids[0].Price, ob.Asks[0].Price)
	}

	score := &models.BandarmologyScore{
		BandImbalance: make(map[int]float64, len(a.bands)),
	}

	for _, band := range a.bands {
		score.BandImbalance[band] = imbalance(sumAmount(ob.Bids, band), sumAmount(ob.Asks, band))
	}
	narrow := score.BandImbalance[a.bands[0]]
	wide := score.BandImbalance[a.bands[len(a.bands)-1]]
	score.Imbalance = wide

	total := sumAmount(ob.Bids, len(ob.Bids)) + sumAmount(ob.Asks, len(ob.Asks))
	score.BidConcentration = topAmount(ob.Bids, a.config.TopLevels) / total
	score.AskConcentration = topAmount(ob.Asks, a.config.TopLevels) / total
	concSkew := imbalance(score.BidConcentration, score.AskConcentration)

	score.BidWalls = a.findWalls(ob.Bids)
	score.AskWalls = a.findWalls(ob.Asks)
	score.WallPressure = imbalance(wallVolume(score.BidWalls), wallVolume(score.AskWalls))

	score.Whale = a.whaleActivity(ob.Bids, ob.Asks)
	score.Spread = analyzeSpread(ob.Bids[0].Price, ob.Asks[0].Price)

	score.Magnitude = clamp(weightWideBand*wide +
		weightNarrowBand*narrow +
		weightWalls*score.WallPressure +
		weightConc*concSkew)

	switch {
	case score.Magnitude > a.config.NeutralBand:
		score.Signal = models.BookAccumulation
	case score.Magnitude < -a.config.NeutralBand:
		score.Signal = models.BookDistribution
	default:
		score.Signal = models.BookNeutral
	}

	return score, nil
}

// findWalls находит стены среди ближайших уровней: объем больше среднего по стороне в wall_multiplier раз
func (a *Analyzer) findWalls(levels []models.OrderBookLevel) []models.Wall {
	avg := sumAmount(levels, a.config.WallAvgLevels) / float64(min(len(levels), a.config.WallAvgLevels))
	threshold := avg * a.config.WallMultiplier

	walls := []models.Wall{}
	for _, l := range levels[:min(len(levels), a.config.WallScanLevels)] {
		if l.Amount > threshold {
			walls = append(walls, models.Wall{Price: l.Price, Amount: l.Amount})
			if len(walls) == a.config.MaxWalls {
				break
			}
		}
	}
	return walls
}

// whaleActivity оценивает долю крупных заявок: порог - перцентиль объемов ближайших уровней обеих сторон
func (a *Analyzer) whaleActivity(bids, asks []models.OrderBookLevel) models.WhaleActivity {
	volumes := make([]float64, 0, 2*a.config.WallAvgLevels)
	for _, l := range bids[:min(len(bids), a.config.WallAvgLevels)] {
		volumes = append(volumes, l.Amount)
	}
	for _, l := range asks[:min(len(asks), a.config.WallAvgLevels)] {
		volumes = append(volumes, l.Amount)
	}

	threshold := percentile(volumes, a.config.WhalePercentile)

	var whaleVolume, totalVolume float64
	var orders int
	for _, v := range volumes {
		totalVolume += v
		if v >= threshold {
			whaleVolume += v
			orders++
		}
	}

	var share float64
	if totalVolume > 0 {
		share = whaleVolume / totalVolume
	}

	return models.WhaleActivity{
		Detected:  share >= whaleShareThreshold,
		Orders:    orders,
		Threshold: threshold,
		Share:     share,
	}
}

// analyzeSpread классифицирует ликвидность по спреду: <0.1% высокая, <0.5% средняя
func analyzeSpread(bestBid, bestAsk float64) models.SpreadAnalysis {
	spread := bestAsk - bestBid
	mid := (bestBid + bestAsk) / 2

	var pct float64
	if mid > 0 {
		pct = spread / mid * 100
	}

	liquidity := models.LiquidityLow
	switch {
	case pct < 0.1:
		liquidity = models.LiquidityHigh
	case pct < 0.5:
		liquidity = models.LiquidityMedium
	}

	return models.SpreadAnalysis{
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		Spread:    spread,
		SpreadPct: pct,
		Liquidity: liquidity,
	}
}

// percentile с линейной интерполяцией между соседними значениями
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

// imbalance (x-y)/(x+y) в диапазоне [-1, 1]; 0 при нулевой сумме
func imbalance(x, y float64) float64 {
	if x+y == 0 {
		return 0
	}
	return (x - y) / (x + y)
}

func sumAmount(levels []models.OrderBookLevel, n int) float64 {
	var sum float64
	for _, l := range levels[:min(len(levels), n)] {
		sum += l.Amount
	}
	return sum
}

// topAmount сумма n наибольших объемов стороны
func topAmount(levels []models.OrderBookLevel, n int) float64 {
	amounts := make([]float64, len(levels))
	for i, l := range levels {
		amounts[i] = l.Amount
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(amounts)))

	var sum float64
	for _, v := range amounts[:min(len(amounts), n)] {
		sum += v
	}
	return sum
}

func wallVolume(walls []models.Wall) float64 {
	var sum float64
	for _, w := range walls {
		sum += w.Amount
	}
	return sum
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
