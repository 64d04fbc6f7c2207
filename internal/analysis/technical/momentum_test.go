package technical

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/bandarscope/internal/config"
	"github.com/skalibog/bandarscope/pkg/models"
)

// hourlyHistory почасовая история; volumes задает объем каждой свечи
func hourlyHistory(closes, volumes []float64) models.PriceHistory {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := make(models.PriceHistory, len(closes))
	for i, c := range closes {
		h[i] = models.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     c,
			High:     c,
			Low:      c,
			Close:    c,
			Volume:   volumes[i],
		}
	}
	return h
}

func TestMomentumFromTicker(t *testing.T) {
	ticker := &models.Ticker{ChangePct24h: 12, ChangeKnown: true}

	m := AnalyzeMomentum(ticker, nil)
	require.True(t, m.Present)
	assert.Equal(t, 12.0, m.Value)
	assert.InDelta(t, 0.3, m.Score, 1e-12)
	assert.Equal(t, models.SignalBullish, m.Signal)
	assert.NotContains(t, m.Components, "volume_ratio")
}

func TestMomentumFallingPriceOnRisingVolume(t *testing.T) {
	closes := series(49, func(int) float64 { return 100 })
	volumes := series(49, func(i int) float64 {
		if i > 24 {
			return 2
		}
		return 1
	})
	ticker := &models.Ticker{ChangePct24h: -20, ChangeKnown: true}

	m := AnalyzeMomentum(ticker, hourlyHistory(closes, volumes))
	require.True(t, m.Present)
	assert.InDelta(t, 2, m.Components["volume_ratio"], 1e-12)
	assert.InDelta(t, -1, m.Score, 1e-12)
}

func TestMomentumDerivedFromHistory(t *testing.T) {
	closes := series(30, func(i int) float64 {
		if i == 29 {
			return 94
		}
		return 100
	})
	volumes := series(30, func(int) float64 { return 1 })

	// тикер без изменения за сутки, как у Indodax
	m := AnalyzeMomentum(&models.Ticker{Last: 94}, hourlyHistory(closes, volumes))
	require.True(t, m.Present)
	assert.InDelta(t, -6, m.Value, 1e-9)
	assert.InDelta(t, -0.3, m.Score, 1e-12)
}

func TestMomentumAbsentWithoutData(t *testing.T) {
	closes := series(5, func(int) float64 { return 100 })
	volumes := series(5, func(int) float64 { return 1 })

	m := AnalyzeMomentum(&models.Ticker{}, hourlyHistory(closes, volumes))
	assert.False(t, m.Present)
	assert.NotEmpty(t, m.Reason)

	m = AnalyzeMomentum(&models.Ticker{ChangePct24h: math.NaN(), ChangeKnown: true}, nil)
	assert.False(t, m.Present)
}

func TestAbsentSetCoversAllIndicators(t *testing.T) {
	set := AbsentSet("история повреждена")
	require.Len(t, set, len(Indicators))
	for _, name := range Indicators {
		assert.False(t, set[name].Present, name)
		assert.Equal(t, "история повреждена", set[name].Reason, name)
		assert.Equal(t, models.SignalNeutral, set[name].Signal, name)
	}
	assert.Empty(t, set.Present())
}

func TestWeightTableMatchesSignals(t *testing.T) {
	weights := config.DefaultWeights()
	for _, name := range Indicators {
		if name == ATR {
			assert.NotContains(t, weights, name)
			continue
		}
		assert.Contains(t, weights, name)
	}
	assert.Contains(t, weights, Momentum)
	assert.Contains(t, weights, "bandarmology")
	assert.Len(t, weights, len(Indicators)-1+2)
}
