package models

import "time"

// Opportunity - ранжируемая возможность по паре
//
// Score = SpreadBps * MinLiquidityUSD, одна запись на PairSymbol.
type Opportunity struct {
	PairSymbol      string    `json:"pairSymbol"`
	SpreadBps       float64   `json:"spreadBps"`
	MinLiquidityUSD float64   `json:"minLiquidityUSD"`
	Score           float64   `json:"score"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// OpportunitiesSnapshot - ответ /opportunities, записи по убыванию Score
type OpportunitiesSnapshot struct {
	Size    int           `json:"size"`
	Entries []Opportunity `json:"entries"`
}
