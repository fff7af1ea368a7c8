package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// GridState — состояние сетки на время торговой сессии пары. FlatIncrement
// и FlatSpread выводятся один раз (из конфигурации или бутстрапа) и дальше
// кэшируются до остановки сессии.
type GridState struct {
	Symbol        string          `json:"symbol"`
	FlatIncrement decimal.Decimal `json:"flat_increment"`
	FlatSpread    decimal.Decimal `json:"flat_spread"`
	Mode          Mode            `json:"mode"`
	LowestBuy     decimal.Decimal `json:"lowest_buy"`
	HighestSell   decimal.Decimal `json:"highest_sell"`
	LastPrice     decimal.Decimal `json:"last_price"`
	LastPriceAt   time.Time       `json:"last_price_at"`
	LastState     LadderState     `json:"last_state"`
	LastCycleAt   time.Time       `json:"last_cycle_at"`
	Reserved      []string        `json:"reserved"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
