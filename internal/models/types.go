package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string
type OrderType string
type OrderStatus string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"

	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"

	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
)

type Order struct {
	ID          string          `json:"id"`
	LinkID      string          `json:"link_id"`
	Symbol      string          `json:"symbol"`
	Side        OrderSide       `json:"side"`
	Type        OrderType       `json:"type"`
	Price       decimal.Decimal `json:"price"`
	Qty         decimal.Decimal `json:"qty"`
	FilledQty   decimal.Decimal `json:"filled_qty"`
	FilledPrice decimal.Decimal `json:"filled_price"`
	Status      OrderStatus     `json:"status"`
	TimeInForce string          `json:"time_in_force"`
	CreateTime  time.Time       `json:"create_time"`
	UpdateTime  time.Time       `json:"update_time"`
}

type Fill struct {
	OrderID   string          `json:"order_id"`
	LinkID    string          `json:"link_id"`
	ExecID    string          `json:"exec_id"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Qty       decimal.Decimal `json:"qty"`
	Timestamp time.Time       `json:"timestamp"`
}

type Ticker struct {
	Symbol    string          `json:"symbol"`
	LastPrice decimal.Decimal `json:"last_price"`
	Timestamp time.Time       `json:"timestamp"`
}

// OrderData — одна расчётная позиция сетки. Никогда не сохраняется:
// пересчитывается каждый цикл из открытых ордеров биржи.
type OrderData struct {
	Symbol  string          `json:"symbol"`
	Side    OrderSide       `json:"side"`
	Price   decimal.Decimal `json:"price"`
	Qty     decimal.Decimal `json:"qty"`
	Virtual bool            `json:"virtual"`
}

// LadderEntry — общая read-only проекция для Order и OrderData.
type LadderEntry struct {
	Side  OrderSide
	Price decimal.Decimal
	Qty   decimal.Decimal
}

func (o Order) Ladder() LadderEntry {
	qty := o.Qty.Sub(o.FilledQty)
	if qty.IsNegative() {
		qty = decimal.Zero
	}
	return LadderEntry{Side: o.Side, Price: o.Price, Qty: qty}
}

func (d OrderData) Ladder() LadderEntry {
	return LadderEntry{Side: d.Side, Price: d.Price, Qty: d.Qty}
}

func (l LadderEntry) Cost() decimal.Decimal {
	return l.Price.Mul(l.Qty)
}
