package models

// TraderCopySettings configures how one bot copies one trader.
type TraderCopySettings struct {
	BotID                  string   `json:"botId" gorm:"primaryKey"`
	TraderID               string   `json:"traderId" gorm:"primaryKey"`
	Enabled                bool     `json:"enabled"`
	AllocationWeight       float64  `json:"allocationWeight"`
	CopyMultiplier         float64  `json:"copyMultiplier"`
	MaxLossPerTrade        float64  `json:"maxLossPerTrade"`
	OnlyPrimaryInstruments bool     `json:"onlyPrimaryInstruments"`
	PrimaryInstruments     []string `json:"primaryInstruments" gorm:"serializer:json"`
	CopyScaleOuts          bool     `json:"copyScaleOuts"`
	UseTraderStops         bool     `json:"useTraderStops"`
}

// BotRiskPolicy bounds what a bot may execute. Read-only at decision time.
type BotRiskPolicy struct {
	BotID              string               `json:"botId" gorm:"primaryKey"`
	Enabled            bool                 `json:"enabled"`
	AutoExecute        bool                 `json:"autoExecute"`
	MaxDailyLoss       float64              `json:"maxDailyLoss"`
	MaxPositionSize    int                  `json:"maxPositionSize"`
	MaxConcurrentTrades int                 `json:"maxConcurrentTrades"`
	MaxDailyTrades     int                  `json:"maxDailyTrades"`
	AllowedSymbols     []string             `json:"allowedSymbols" gorm:"serializer:json"` // empty means all
	AllowLongs         bool                 `json:"allowLongs"`
	AllowShorts        bool                 `json:"allowShorts"`
	Timezone           string               `json:"timezone"`
	PerTrader          []TraderCopySettings `json:"perTrader" gorm:"-"`
}

// SymbolAllowed reports whether the policy permits trading symbol.
func (p *BotRiskPolicy) SymbolAllowed(symbol string) bool {
	if len(p.AllowedSymbols) == 0 {
		return true
	}
	for _, s := range p.AllowedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// DirectionAllowed reports whether the policy permits the direction.
func (p *BotRiskPolicy) DirectionAllowed(d Direction) bool {
	if d == DirectionLong {
		return p.AllowLongs
	}
	return p.AllowShorts
}
