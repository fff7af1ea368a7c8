package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/exchange"
	"gridbot/internal/models"
)

func (e *Engine) handleEvents(ctx context.Context, events <-chan exchange.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				e.logEntry().Warn("Канал событий закрыт.")
				return
			}
			switch event.Type {
			case exchange.EventTypeTicker:
				if event.Ticker != nil {
					e.OnPriceUpdate(ctx, event.Ticker.LastPrice)
				}
			case exchange.EventTypeFill:
				if event.Fill != nil {
					e.OnOrderFilled(ctx, orderFromFill(*event.Fill))
				}
			case exchange.EventTypeOrder:
				if event.Order != nil && event.Order.Status == models.OrderStatusFilled {
					e.OnOrderFilled(ctx, *event.Order)
				}
			case exchange.EventTypeReconnect:
				e.logEntry().Info("Реконнект, внеплановая сверка лестницы.")
				e.OnScheduleTick(ctx)
			}
		}
	}
}

// OnPriceUpdate фиксирует цену и запускает цикл оценки. Повторные апдейты
// во время перестройки схлопываются busy-флагом.
func (e *Engine) OnPriceUpdate(ctx context.Context, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	e.mu.Lock()
	e.state.LastPrice = price
	e.state.LastPriceAt = time.Now()
	e.mu.Unlock()

	e.evaluate(ctx)
}

// OnOrderFilled зеркалит исполненный ордер. Пересекающиеся уведомления
// одной пары обрабатываются строго в порядке прихода.
func (e *Engine) OnOrderFilled(ctx context.Context, filled models.Order) {
	e.fillMu.Lock()
	defer e.fillMu.Unlock()

	if filled.Symbol != "" && filled.Symbol != e.cfg.Symbol {
		return
	}
	e.handleFill(ctx, filled)
}

func (e *Engine) OnScheduleTick(ctx context.Context) {
	e.evaluate(ctx)
}

func orderFromFill(fill models.Fill) models.Order {
	return models.Order{
		ID:          fill.OrderID,
		LinkID:      fill.LinkID,
		Symbol:      fill.Symbol,
		Side:        fill.Side,
		Type:        models.OrderTypeLimit,
		Price:       fill.Price,
		Qty:         fill.Qty,
		FilledQty:   fill.Qty,
		FilledPrice: fill.Price,
		Status:      models.OrderStatusFilled,
		UpdateTime:  fill.Timestamp,
	}
}
