package technical

import (
	"math"
	"time"

	"github.com/skalibog/bandarscope/pkg/models"
)

// Momentum имя сигнала суточного импульса
const Momentum = "momentum"

const momentumWindow = 24 * time.Hour

// AnalyzeMomentum оценивает суточный импульс по изменению цены и объему относительно предыдущих суток.
// Изменение цены берется из тикера, если биржа его прислала, иначе считается по истории.
// Рост объема усиливает направление изменения цены, падение объема ослабляет.
func AnalyzeMomentum(ticker *models.Ticker, history models.PriceHistory) models.Indicator {
	var (
		change float64
		ok     bool
	)
	if ticker != nil && ticker.ChangeKnown {
		change, ok = ticker.ChangePct24h, true
	} else {
		change, ok = history.ChangeOver(momentumWindow)
	}
	if !ok {
		return absent(Momentum, "нет изменения цены за сутки: история короче 24ч")
	}

	components := map[string]float64{"change_pct_24h": change}

	var volumeScore float64
	if ratio, ok := history.VolumeRatioOver(momentumWindow); ok {
		components["volume_ratio"] = ratio
		volumeScore = volumeTrend(ratio) * sign(change)
	}

	score := 0.5*priceMove(change) + 0.5*volumeScore

	return present(Momentum, change, score, components)
}

// priceMove ступенчатая оценка изменения цены: больше 10% - полная, больше 5% - 0.6
func priceMove(changePct float64) float64 {
	switch a := math.Abs(changePct); {
	case a > 10:
		return sign(changePct)
	case a > 5:
		return 0.6 * sign(changePct)
	default:
		return 0
	}
}

// volumeTrend оценка объема за сутки относительно предыдущих суток
func volumeTrend(ratio float64) float64 {
	switch {
	case ratio > 1.5:
		return 1
	case ratio > 1.2:
		return 0.6
	case ratio < 0.5:
		return -1
	case ratio < 0.8:
		return -0.6
	default:
		return 0
	}
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
