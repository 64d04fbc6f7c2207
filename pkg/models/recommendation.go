package models

import "time"

// Action торговое действие
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// RiskLevel уровень риска рекомендации
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Recommendation итоговая рекомендация по паре.
// После создания не изменяется; Bandarmology == nil означает, что анализ стакана отсутствует.
type Recommendation struct {
	ID                string             `json:"id"`
	Pair              TradingPair        `json:"pair"`
	Action            Action             `json:"action"`
	Confidence        float64            `json:"confidence"`
	Score             float64            `json:"score"`
	Threshold         float64            `json:"threshold"`
	Weights           map[string]float64 `json:"weights"`
	Contributions     map[string]float64 `json:"contributions"`
	Indicators        IndicatorSet       `json:"indicators"`
	Bandarmology      *BandarmologyScore `json:"bandarmology"`
	BandarmologyError string             `json:"bandarmology_error,omitempty"`
	TechnicalError    string             `json:"technical_error,omitempty"`
	Risk              RiskLevel          `json:"risk"`
	Price             float64            `json:"price"`
	Volume24h         float64            `json:"volume_24h"`
	Stale             bool               `json:"stale"`
	ComputedAt        time.Time          `json:"computed_at"`
}
