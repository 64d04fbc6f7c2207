package recommendation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/bandarscope/internal/config"
	"github.com/skalibog/bandarscope/pkg/models"
)

var btcidr = models.TradingPair{Base: "btc", Quote: "idr"}

func newTestEngine(t *testing.T, weights map[string]float64, threshold float64) *Engine {
	t.Helper()
	e, err := NewEngine(config.RecommendationConfig{Weights: weights, Threshold: threshold})
	require.NoError(t, err)
	return e
}

func indicator(name string, score float64) models.Indicator {
	return models.Indicator{Name: name, Present: true, Value: score, Score: score, Signal: models.SignalFromScore(score)}
}

func TestNewEngineRejectsBadWeights(t *testing.T) {
	_, err := NewEngine(config.RecommendationConfig{Weights: map[string]float64{"rsi": 0.4}, Threshold: 0.15})
	assert.Error(t, err)
}

func TestThresholdBoundaryIsHold(t *testing.T) {
	e := newTestEngine(t, map[string]float64{"rsi": 1}, 0.15)

	for _, tc := range []struct {
		score float64
		want  models.Action
	}{
		{0.15, models.ActionHold},
		{-0.15, models.ActionHold},
		{math.Nextafter(0.15, 1), models.ActionBuy},
		{math.Nextafter(-0.15, -1), models.ActionSell},
		{0, models.ActionHold},
		{1, models.ActionBuy},
		{-1, models.ActionSell},
	} {
		rec := e.Recommend(btcidr, models.IndicatorSet{"rsi": indicator("rsi", tc.score)}, nil)
		assert.Equal(t, tc.want, rec.Action, "score %v", tc.score)
		assert.Equal(t, tc.score, rec.Score)
	}
}

func TestConfidenceMonotonicInDistance(t *testing.T) {
	e := newTestEngine(t, map[string]float64{"rsi": 1}, 0.15)

	prev := 0.0
	for s := 0.16; s <= 1.0; s += 0.01 {
		rec := e.Recommend(btcidr, models.IndicatorSet{"rsi": indicator("rsi", s)}, nil)
		require.Equal(t, models.ActionBuy, rec.Action)
		assert.Greater(t, rec.Confidence, 0.5)
		assert.GreaterOrEqual(t, rec.Confidence, prev)
		prev = rec.Confidence
	}

	// HOLD: уверенность растет по мере удаления от порогов к нулю
	prev = 0.0
	for s := 0.15; s >= 0; s -= 0.01 {
		rec := e.Recommend(btcidr, models.IndicatorSet{"rsi": indicator("rsi", s)}, nil)
		require.Equal(t, models.ActionHold, rec.Action)
		assert.GreaterOrEqual(t, rec.Confidence, prev)
		prev = rec.Confidence
	}

	full := e.Recommend(btcidr, models.IndicatorSet{"rsi": indicator("rsi", -1)}, nil)
	assert.InDelta(t, 1.0, full.Confidence, 1e-12)
	zero := e.Recommend(btcidr, models.IndicatorSet{"rsi": indicator("rsi", 0)}, nil)
	assert.InDelta(t, 1.0, zero.Confidence, 1e-12)
}

func TestAbsentWeightsAreRedistributed(t *testing.T) {
	e := newTestEngine(t, config.DefaultWeights(), 0.15)

	indicators := models.IndicatorSet{
		"rsi":  indicator("rsi", 1),
		"macd": {Name: "macd", Present: false, Reason: "недостаточно данных"},
	}
	bm := &models.BandarmologyScore{Magnitude: 0.5}

	rec := e.Recommend(btcidr, indicators, bm)

	require.Len(t, rec.Weights, 2)
	assert.InDelta(t, 0.25, rec.Weights["rsi"], 1e-12)
	assert.InDelta(t, 0.75, rec.Weights[Bandarmology], 1e-12)
	assert.InDelta(t, 0.25*1+0.75*0.5, rec.Score, 1e-12)
	assert.Equal(t, models.ActionBuy, rec.Action)
}

func TestPresentWeightsSumToOne(t *testing.T) {
	e := newTestEngine(t, config.DefaultWeights(), 0.15)

	indicators := models.IndicatorSet{
		"rsi":       indicator("rsi", 0.2),
		"sma_cross": indicator("sma_cross", -0.4),
		"roc":       indicator("roc", 0.1),
		"ichimoku":  indicator("ichimoku", 0.5),
	}

	rec := e.Recommend(btcidr, indicators, nil)

	var sum float64
	for _, w := range rec.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.NotContains(t, rec.Weights, Bandarmology)
	assert.Nil(t, rec.Bandarmology)
}

func TestUnweightedIndicatorsNeverVote(t *testing.T) {
	e := newTestEngine(t, config.DefaultWeights(), 0.15)

	rec := e.Recommend(btcidr, models.IndicatorSet{
		"atr": {Name: "atr", Present: true, Value: 7, Score: 1},
	}, nil)

	assert.Equal(t, models.ActionHold, rec.Action)
	assert.Equal(t, 0.0, rec.Confidence)
	assert.Empty(t, rec.Weights)
	// ATR > 5% дает высокий риск даже без сигналов
	assert.Equal(t, models.RiskHigh, rec.Risk)
}

func TestNoSignalsIsHoldWithZeroConfidence(t *testing.T) {
	e := newTestEngine(t, config.DefaultWeights(), 0.15)

	rec := e.Recommend(btcidr, nil, nil)
	assert.Equal(t, models.ActionHold, rec.Action)
	assert.Equal(t, 0.0, rec.Confidence)
	assert.Equal(t, 0.0, rec.Score)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, btcidr, rec.Pair)
}

func TestZeroWeightSignalIgnored(t *testing.T) {
	e := newTestEngine(t, map[string]float64{"rsi": 0, "macd": 1}, 0.15)

	rec := e.Recommend(btcidr, models.IndicatorSet{
		"rsi":  indicator("rsi", 1),
		"macd": indicator("macd", -0.5),
	}, nil)

	assert.Equal(t, models.ActionSell, rec.Action)
	assert.NotContains(t, rec.Weights, "rsi")
}

func TestRiskLevels(t *testing.T) {
	assert.Equal(t, models.RiskLow, assessRisk(0.3, 1, 2))
	assert.Equal(t, models.RiskMedium, assessRisk(0.6, 1, 0))
	assert.Equal(t, models.RiskMedium, assessRisk(0.1, 4, 0))
	assert.Equal(t, models.RiskHigh, assessRisk(-0.9, 1, 0))
	assert.Equal(t, models.RiskHigh, assessRisk(0, 6, 0))
	assert.Equal(t, models.RiskMedium, assessRisk(0.1, 1, -12))
	assert.Equal(t, models.RiskHigh, assessRisk(0.1, 1, 16))
}

func TestMomentumVotesAndRaisesRisk(t *testing.T) {
	e := newTestEngine(t, config.DefaultWeights(), 0.15)

	rec := e.Recommend(btcidr, models.IndicatorSet{
		"rsi":      indicator("rsi", 0),
		"momentum": {Name: "momentum", Present: true, Value: 18, Score: 1, Signal: models.SignalBullish},
	}, nil)

	// 0.15 / (0.10 + 0.15)
	assert.InDelta(t, 0.6, rec.Weights["momentum"], 1e-12)
	assert.InDelta(t, 0.6, rec.Score, 1e-12)
	assert.Equal(t, models.ActionBuy, rec.Action)
	// рост цены на 18% за сутки
	assert.Equal(t, models.RiskHigh, rec.Risk)
}

func TestAbsentMomentumDoesNotAffectRisk(t *testing.T) {
	e := newTestEngine(t, config.DefaultWeights(), 0.15)

	rec := e.Recommend(btcidr, models.IndicatorSet{
		"rsi":      indicator("rsi", 0.2),
		"momentum": {Name: "momentum", Value: 40, Reason: "нет изменения цены за сутки"},
	}, nil)

	assert.NotContains(t, rec.Weights, "momentum")
	assert.Equal(t, models.RiskLow, rec.Risk)
}

func TestRecommendIsDeterministic(t *testing.T) {
	e := newTestEngine(t, config.DefaultWeights(), 0.15)
	indicators := models.IndicatorSet{}
	for i, name := range []string{"rsi", "macd", "sma_cross", "bollinger", "roc", "volume", "volume_delta", "ichimoku"} {
		indicators[name] = indicator(name, 0.1*float64(i)-0.3)
	}
	bm := &models.BandarmologyScore{Magnitude: 0.37}

	first := e.Recommend(btcidr, indicators, bm)
	for i := 0; i < 20; i++ {
		next := e.Recommend(btcidr, indicators, bm)
		assert.Equal(t, math.Float64bits(first.Score), math.Float64bits(next.Score))
		assert.Equal(t, math.Float64bits(first.Confidence), math.Float64bits(next.Confidence))
		assert.Equal(t, first.Action, next.Action)
	}
}
