package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/models"
)

type EventType string

const (
	EventTypeOrder     EventType = "Order"
	EventTypeFill      EventType = "Fill"
	EventTypeTicker    EventType = "Ticker"
	EventTypeReconnect EventType = "Reconnect"
)

type Event struct {
	Type   EventType
	Order  *models.Order
	Fill   *models.Fill
	Ticker *models.Ticker
}

type InstrumentRules struct {
	TickSize    decimal.Decimal
	LotSize     decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinNotional decimal.Decimal
	MaxNotional decimal.Decimal
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
	MakerFee    decimal.Decimal
	TakerFee    decimal.Decimal
	BaseCoin    string
	QuoteCoin   string
}

// MaxFee — максимальная применимая комиссия аккаунта для пары.
func (r InstrumentRules) MaxFee() decimal.Decimal {
	if r.TakerFee.GreaterThan(r.MakerFee) {
		return r.TakerFee
	}
	return r.MakerFee
}

type Balance struct {
	Coin      string
	Wallet    decimal.Decimal
	Available decimal.Decimal
}

type Client interface {
	GetInstrumentRules(ctx context.Context, symbol string) (InstrumentRules, error)
	Subscribe(ctx context.Context, symbol string) (<-chan Event, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	GetRecentFills(ctx context.Context, symbol string, since time.Time) ([]models.Fill, error)
	GetBalances(ctx context.Context, coins []string) (map[string]Balance, error)
	PlaceOrder(ctx context.Context, order models.Order) (models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}
