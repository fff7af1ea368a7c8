package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/metrics"
	"gridbot/internal/models"
)

// mirrorTimer — отменяемый одноразовый таймер отложенного зеркала. Новое
// зеркало той же пары снимает ещё не сработавшее старое, дубликаты не
// копятся.
type mirrorTimer struct {
	mu    sync.Mutex
	timer *time.Timer
}

func (t *mirrorTimer) schedule(delay time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(delay, fn)
}

func (t *mirrorTimer) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (e *Engine) handleFill(ctx context.Context, filled models.Order) {
	price := filled.FilledPrice
	if !price.IsPositive() {
		price = filled.Price
	}
	e.ensureFlatValues(price)

	data, ok := e.mirrorOrder(filled)
	if !ok {
		e.logEntry().WithFields(map[string]interface{}{
			"order_id": filled.ID,
			"price":    price,
		}).Warn("Зеркало не построено: нулевой объём после пересчёта.")
		return
	}

	e.logEntry().WithFields(map[string]interface{}{
		"filled_side":  filled.Side,
		"filled_price": price,
		"mirror_side":  data.Side,
		"mirror_price": data.Price,
		"mirror_qty":   data.Qty,
	}).Info("Исполнение, планируется зеркальный ордер.")

	if e.cfg.MirrorDelay > 0 {
		e.mirror.schedule(e.cfg.MirrorDelay, func() {
			e.createMirror(ctx, data)
		})
		return
	}
	e.createMirror(ctx, data)
}

// mirrorOrder строит симметричную замену исполненного ордера: противоположная
// сторона, цена со сдвигом spread−increment, объём из фиксированной
// конфигурации или из исполнения с вычетом максимальной комиссии.
func (e *Engine) mirrorOrder(filled models.Order) (models.OrderData, bool) {
	e.mu.Lock()
	offset := e.state.FlatSpread.Sub(e.state.FlatIncrement)
	e.mu.Unlock()

	price := filled.FilledPrice
	if !price.IsPositive() {
		price = filled.Price
	}
	qty := filled.FilledQty
	if !qty.IsPositive() {
		qty = filled.Qty
	}

	side := oppositeSide(filled.Side)
	var mirrorPrice decimal.Decimal
	fixed := e.cfg.SellVolumePerOrder
	if filled.Side == models.OrderSideSell {
		mirrorPrice = price.Sub(offset)
		fixed = e.cfg.BuyVolumePerOrder
		if mirrorPrice.IsPositive() {
			// Выручка в quote конвертируется обратно в base по цене зеркала.
			qty = price.Mul(qty).Div(mirrorPrice)
		}
	} else {
		mirrorPrice = price.Add(offset)
	}
	if !mirrorPrice.IsPositive() {
		return models.OrderData{}, false
	}

	if fixed.IsPositive() {
		qty = fixed
	} else if !e.cfg.ReinvestProfits {
		qty = qty.Mul(decimal.NewFromInt(1).Sub(e.rules.MaxFee()))
	}

	mirrorPrice = roundStep(mirrorPrice, e.rules.TickSize)
	qty = roundStep(qty, e.rules.LotSize)
	if !qty.IsPositive() {
		return models.OrderData{}, false
	}
	return models.OrderData{
		Symbol: e.cfg.Symbol,
		Side:   side,
		Price:  mirrorPrice,
		Qty:    qty,
	}, true
}

// createMirror ставит зеркальный ордер под portfolio-локом. Нехватка средств
// или лимиты биржи — предупреждение и no-op, не ошибка.
func (e *Engine) createMirror(ctx context.Context, data models.OrderData) {
	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	e.portfolio.Lock()
	defer e.portfolio.Unlock()

	if !passesLimits(data.Price, data.Qty, e.rules) {
		e.logEntry().WithFields(map[string]interface{}{
			"side":  data.Side,
			"price": data.Price,
			"qty":   data.Qty,
		}).Warn("Зеркало пропущено: не проходит лимиты биржи.")
		return
	}
	if !e.consumeFunds(&data) {
		e.logEntry().Warn("Зеркало пропущено: баланс уже не покрывает ордер.")
		return
	}

	order := models.Order{
		LinkID:      e.nextLinkID(),
		Symbol:      data.Symbol,
		Side:        data.Side,
		Type:        models.OrderTypeLimit,
		Price:       data.Price,
		Qty:         data.Qty,
		TimeInForce: "GTC",
	}
	placed, err := e.withRetryPlace(ctx, order)
	if err != nil {
		e.refundFunds(data)
		e.logEntry().WithError(err).WithFields(map[string]interface{}{
			"side":  data.Side,
			"price": data.Price,
			"qty":   data.Qty,
		}).Warn("Зеркало не поставлено.")
		return
	}
	metrics.MirrorOrders.WithLabelValues(e.cfg.Symbol).Inc()
	metrics.OrdersPlaced.WithLabelValues(e.cfg.Symbol, string(data.Side)).Inc()
	e.log.WithOrderID(placed.ID).WithField("component", "engine").WithField("symbol", e.cfg.Symbol).Info("Зеркальный ордер поставлен.")
}

// ensureFlatValues выводит flat-значения из цены исполнения, если цикл
// оценки их ещё не кэшировал (исполнение сразу после рестарта).
func (e *Engine) ensureFlatValues(price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.FlatIncrement.IsPositive() {
		e.state.FlatIncrement = price.Mul(e.cfg.IncrementPercent).Div(hundred)
	}
	if !e.state.FlatSpread.IsPositive() {
		e.state.FlatSpread = price.Mul(e.cfg.SpreadPercent).Div(hundred)
	}
}
