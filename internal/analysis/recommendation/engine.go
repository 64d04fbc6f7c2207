package recommendation

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/skalibog/bandarscope/internal/config"
	"github.com/skalibog/bandarscope/pkg/models"
)

// Bandarmology имя сигнала стакана в таблице весов
const Bandarmology = "bandarmology"

// Индикаторы, значения которых используются для оценки риска
const (
	atrIndicator      = "atr"
	momentumIndicator = "momentum"
)

// Engine объединяет сигналы в итоговую рекомендацию
type Engine struct {
	weights   map[string]float64
	threshold float64
	now       func() time.Time
}

// NewEngine создает движок рекомендаций. Сумма весов должна быть 1.0.
func NewEngine(cfg config.RecommendationConfig) (*Engine, error) {
	if err := config.ValidateWeights(cfg.Weights); err != nil {
		return nil, err
	}

	weights := make(map[string]float64, len(cfg.Weights))
	for k, v := range cfg.Weights {
		weights[k] = v
	}

	return &Engine{
		weights:   weights,
		threshold: cfg.Threshold,
		now:       time.Now,
	}, nil
}

// Threshold порог действия
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Recommend формирует рекомендацию. bandarmology == nil означает, что анализ стакана отсутствует.
func (e *Engine) Recommend(pair models.TradingPair, indicators models.IndicatorSet, bandarmology *models.BandarmologyScore) *models.Recommendation {
	if indicators == nil {
		indicators = models.IndicatorSet{}
	}

	scores := e.presentScores(indicators, bandarmology)
	weights := normalizeWeights(e.weights, scores)

	contributions := make(map[string]float64, len(weights))
	var score float64
	for _, name := range sortedKeys(weights) {
		c := weights[name] * scores[name]
		contributions[name] = c
		score += c
	}
	score = math.Max(-1, math.Min(1, score))

	rec := &models.Recommendation{
		ID:            uuid.NewString(),
		Pair:          pair,
		Score:         score,
		Threshold:     e.threshold,
		Weights:       weights,
		Contributions: contributions,
		Indicators:    indicators,
		Bandarmology:  bandarmology,
		ComputedAt:    e.now().UTC(),
	}

	if len(weights) == 0 {
		// нет ни одного сигнала
		rec.Action = models.ActionHold
		rec.Confidence = 0
		rec.Score = 0
	} else {
		rec.Action, rec.Confidence = decide(score, e.threshold)
	}

	rec.Risk = assessRisk(rec.Score, presentValue(indicators, atrIndicator), presentValue(indicators, momentumIndicator))

	return rec
}

// presentScores оценки присутствующих сигналов, для которых задан положительный вес
func (e *Engine) presentScores(indicators models.IndicatorSet, bandarmology *models.BandarmologyScore) map[string]float64 {
	scores := make(map[string]float64)
	for name, w := range e.weights {
		if w <= 0 {
			continue
		}
		if name == Bandarmology {
			if bandarmology != nil {
				scores[name] = bandarmology.Magnitude
			}
			continue
		}
		if ind, ok := indicators[name]; ok && ind.Present {
			scores[name] = ind.Score
		}
	}
	return scores
}

// normalizeWeights пересчитывает веса только по присутствующим сигналам так, чтобы их сумма была 1.
// Вес отсутствующих сигналов распределяется пропорционально.
func normalizeWeights(weights map[string]float64, present map[string]float64) map[string]float64 {
	var total float64
	for _, name := range sortedKeys(present) {
		total += weights[name]
	}

	out := make(map[string]float64, len(present))
	if total <= 0 {
		return out
	}
	for name := range present {
		out[name] = weights[name] / total
	}
	return out
}

// decide выбирает действие и уверенность по расстоянию оценки до ближайшего порога.
// Оценка ровно на пороге дает HOLD.
func decide(score, threshold float64) (models.Action, float64) {
	var action models.Action
	var confidence float64

	switch {
	case score > threshold:
		action = models.ActionBuy
		confidence = 0.5 + 0.5*(score-threshold)/(1-threshold)
	case score < -threshold:
		action = models.ActionSell
		confidence = 0.5 + 0.5*(-score-threshold)/(1-threshold)
	default:
		action = models.ActionHold
		confidence = 0.5 + 0.5*(threshold-math.Abs(score))/threshold
	}

	return action, math.Max(0, math.Min(1, confidence))
}

// assessRisk уровень риска по силе сигнала, волатильности (ATR в процентах от цены)
// и изменению цены за сутки
func assessRisk(score, atrPct, changePct float64) models.RiskLevel {
	strength := math.Abs(score)
	move := math.Abs(changePct)
	switch {
	case strength > 0.8 || atrPct > 5 || move > 15:
		return models.RiskHigh
	case strength > 0.5 || atrPct > 3 || move > 10:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// presentValue значение индикатора или 0, если он отсутствует
func presentValue(indicators models.IndicatorSet, name string) float64 {
	if ind, ok := indicators[name]; ok && ind.Present {
		return ind.Value
	}
	return 0
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
