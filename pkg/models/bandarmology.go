package models

// BookSignal направление активности крупных игроков в стакане
type BookSignal string

const (
	BookAccumulation BookSignal = "accumulation"
	BookDistribution BookSignal = "distribution"
	BookNeutral      BookSignal = "neutral"
)

// Direction переводит сигнал стакана в общее направление
func (s BookSignal) Direction() Signal {
	switch s {
	case BookAccumulation:
		return SignalBullish
	case BookDistribution:
		return SignalBearish
	default:
		return SignalNeutral
	}
}

// Wall крупная заявка ("стена") в стакане
type Wall struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// WhaleActivity активность крупных заявок
type WhaleActivity struct {
	Detected  bool    `json:"detected"`
	Orders    int     `json:"orders"`
	Threshold float64 `json:"threshold"`
	Share     float64 `json:"share"`
}

// Liquidity класс ликвидности по спреду
type Liquidity string

const (
	LiquidityHigh   Liquidity = "high"
	LiquidityMedium Liquidity = "medium"
	LiquidityLow    Liquidity = "low"
)

// SpreadAnalysis анализ спреда
type SpreadAnalysis struct {
	BestBid   float64   `json:"best_bid"`
	BestAsk   float64   `json:"best_ask"`
	Spread    float64   `json:"spread"`
	SpreadPct float64   `json:"spread_pct"`
	Liquidity Liquidity `json:"liquidity"`
}

// BandarmologyScore результат анализа концентрации стакана
type BandarmologyScore struct {
	Magnitude        float64         `json:"magnitude"`
	Imbalance        float64         `json:"imbalance"`
	BandImbalance    map[int]float64 `json:"band_imbalance"`
	BidConcentration float64         `json:"bid_concentration"`
	AskConcentration float64         `json:"ask_concentration"`
	BidWalls         []Wall          `json:"bid_walls"`
	AskWalls         []Wall          `json:"ask_walls"`
	WallPressure     float64         `json:"wall_pressure"`
	Whale            WhaleActivity   `json:"whale"`
	Spread           SpreadAnalysis  `json:"spread"`
	Signal           BookSignal      `json:"signal"`
}
