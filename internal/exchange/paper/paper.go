// Package paper — биржа в памяти: детерминированная реализация
// exchange.Client для dry-run и тестов движка. Исполнения и тикеры
// подаются вручную через Push-хелперы.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridbot/internal/exchange"
	"gridbot/internal/models"
)

type Client struct {
	mu        sync.Mutex
	rules     map[string]exchange.InstrumentRules
	balances  map[string]exchange.Balance
	orders    map[string]models.Order
	fills     []models.Fill
	events    map[string][]chan exchange.Event
	failPlace error
}

func New() *Client {
	return &Client{
		rules:    map[string]exchange.InstrumentRules{},
		balances: map[string]exchange.Balance{},
		orders:   map[string]models.Order{},
		events:   map[string][]chan exchange.Event{},
	}
}

func (c *Client) SetRules(symbol string, rules exchange.InstrumentRules) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules[symbol] = rules
}

func (c *Client) SetBalance(coin string, available decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[coin] = exchange.Balance{Coin: coin, Wallet: available, Available: available}
}

// FailPlaceOrders заставляет PlaceOrder возвращать ошибку; nil снимает сбой.
func (c *Client) FailPlaceOrders(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failPlace = err
}

func (c *Client) GetInstrumentRules(ctx context.Context, symbol string) (exchange.InstrumentRules, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rules, ok := c.rules[symbol]
	if !ok {
		return exchange.InstrumentRules{}, fmt.Errorf("неизвестная пара: %s", symbol)
	}
	return rules, nil
}

func (c *Client) Subscribe(ctx context.Context, symbol string) (<-chan exchange.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan exchange.Event, 64)
	c.events[symbol] = append(c.events[symbol], ch)
	return ch, nil
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var open []models.Order
	for _, ord := range c.orders {
		if ord.Symbol == symbol && (ord.Status == models.OrderStatusNew || ord.Status == models.OrderStatusPartiallyFilled) {
			open = append(open, ord)
		}
	}
	return open, nil
}

func (c *Client) GetRecentFills(ctx context.Context, symbol string, since time.Time) ([]models.Fill, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var recent []models.Fill
	for _, fill := range c.fills {
		if fill.Symbol == symbol && !fill.Timestamp.Before(since) {
			recent = append(recent, fill)
		}
	}
	return recent, nil
}

func (c *Client) GetBalances(ctx context.Context, coins []string) (map[string]exchange.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := map[string]exchange.Balance{}
	for _, coin := range coins {
		result[coin] = c.balances[coin]
	}
	return result, nil
}

func (c *Client) PlaceOrder(ctx context.Context, order models.Order) (models.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPlace != nil {
		return models.Order{}, c.failPlace
	}
	order.ID = uuid.NewString()
	order.Status = models.OrderStatusNew
	order.CreateTime = time.Now()
	order.UpdateTime = order.CreateTime
	c.orders[order.ID] = order
	return order, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ord, ok := c.orders[orderID]
	if !ok {
		return fmt.Errorf("ордер не существует: %s", orderID)
	}
	ord.Status = models.OrderStatusCanceled
	c.orders[orderID] = ord
	return nil
}

// PushTicker рассылает тикер подписчикам пары.
func (c *Client) PushTicker(symbol string, price decimal.Decimal) {
	ticker := models.Ticker{Symbol: symbol, LastPrice: price, Timestamp: time.Now()}
	c.broadcast(symbol, exchange.Event{Type: exchange.EventTypeTicker, Ticker: &ticker})
}

// FillOrder переводит открытый ордер в исполненные и рассылает событие.
func (c *Client) FillOrder(orderID string) (models.Fill, error) {
	c.mu.Lock()
	ord, ok := c.orders[orderID]
	if !ok {
		c.mu.Unlock()
		return models.Fill{}, fmt.Errorf("ордер не существует: %s", orderID)
	}
	ord.Status = models.OrderStatusFilled
	ord.FilledQty = ord.Qty
	ord.FilledPrice = ord.Price
	ord.UpdateTime = time.Now()
	c.orders[ord.ID] = ord
	fill := models.Fill{
		OrderID:   ord.ID,
		LinkID:    ord.LinkID,
		ExecID:    uuid.NewString(),
		Symbol:    ord.Symbol,
		Side:      ord.Side,
		Price:     ord.Price,
		Qty:       ord.Qty,
		Timestamp: ord.UpdateTime,
	}
	c.fills = append(c.fills, fill)
	c.mu.Unlock()

	c.broadcast(ord.Symbol, exchange.Event{Type: exchange.EventTypeFill, Fill: &fill})
	return fill, nil
}

// OpenOrdersSnapshot — копия открытых ордеров пары для проверок в тестах.
func (c *Client) OpenOrdersSnapshot(symbol string) []models.Order {
	orders, _ := c.GetOpenOrders(context.Background(), symbol)
	return orders
}

func (c *Client) broadcast(symbol string, event exchange.Event) {
	c.mu.Lock()
	subscribers := append([]chan exchange.Event(nil), c.events[symbol]...)
	c.mu.Unlock()
	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
