package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/config"
	"gridbot/internal/funds"
	"gridbot/internal/logger"
	"gridbot/internal/models"
)

func testGridConfig() config.GridConfig {
	return config.GridConfig{
		Symbol:           "BTCUSDT",
		LowerBound:       decimal.NewFromInt(1),
		UpperBound:       decimal.NewFromInt(10000),
		SpreadPercent:    decimal.NewFromInt(6),
		IncrementPercent: decimal.NewFromInt(4),
		Mode:             "FLAT",
		OperationalDepth: 10,
	}
}

func testEngine(t *testing.T, cfg config.GridConfig) *Engine {
	t.Helper()
	log := logger.New(logger.Config{Level: "error"})
	eng, err := New(cfg, "acc-test", nil, funds.NewLedger(), &sync.Mutex{}, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.rules = testRules()
	eng.state.FlatIncrement = decimal.NewFromInt(4)
	eng.state.FlatSpread = decimal.NewFromInt(6)
	return eng
}

func filledOrder(side models.OrderSide, price, qty string) models.Order {
	p := decimal.RequireFromString(price)
	q := decimal.RequireFromString(qty)
	return models.Order{
		ID:          "ord-1",
		Symbol:      "BTCUSDT",
		Side:        side,
		Type:        models.OrderTypeLimit,
		Price:       p,
		Qty:         q,
		FilledPrice: p,
		FilledQty:   q,
		Status:      models.OrderStatusFilled,
	}
}

// Зеркало ставится со смещением spread-increment от цены исполнения.
func TestMirrorOrderSellToBuy(t *testing.T) {
	eng := testEngine(t, testGridConfig())
	data, ok := eng.mirrorOrder(filledOrder(models.OrderSideSell, "100", "1"))
	if !ok {
		t.Fatal("зеркало должно построиться")
	}
	if data.Side != models.OrderSideBuy {
		t.Fatalf("ожидали BUY, получили %s", data.Side)
	}
	if !data.Price.Equal(decimal.NewFromInt(98)) {
		t.Fatalf("цена зеркала: ожидали 98, получили %s", data.Price)
	}
	// Выручка 100 quote конвертируется в base по 98.
	want := decimal.RequireFromString("1.02040816")
	if !data.Qty.Equal(want) {
		t.Fatalf("объём зеркала: ожидали %s, получили %s", want, data.Qty)
	}
}

func TestMirrorOrderBuyToSellDeductsFee(t *testing.T) {
	eng := testEngine(t, testGridConfig())
	eng.rules.TakerFee = decimal.RequireFromString("0.001")
	data, ok := eng.mirrorOrder(filledOrder(models.OrderSideBuy, "100", "1"))
	if !ok {
		t.Fatal("зеркало должно построиться")
	}
	if data.Side != models.OrderSideSell {
		t.Fatalf("ожидали SELL, получили %s", data.Side)
	}
	if !data.Price.Equal(decimal.NewFromInt(102)) {
		t.Fatalf("цена зеркала: ожидали 102, получили %s", data.Price)
	}
	if !data.Qty.Equal(decimal.RequireFromString("0.999")) {
		t.Fatalf("объём с вычетом комиссии: ожидали 0.999, получили %s", data.Qty)
	}
}

func TestMirrorOrderReinvestKeepsQty(t *testing.T) {
	cfg := testGridConfig()
	cfg.ReinvestProfits = true
	eng := testEngine(t, cfg)
	eng.rules.TakerFee = decimal.RequireFromString("0.001")
	data, ok := eng.mirrorOrder(filledOrder(models.OrderSideBuy, "100", "1"))
	if !ok {
		t.Fatal("зеркало должно построиться")
	}
	if !data.Qty.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("при реинвесте объём не режется: получили %s", data.Qty)
	}
}

func TestMirrorOrderFixedVolume(t *testing.T) {
	cfg := testGridConfig()
	cfg.SellVolumePerOrder = decimal.NewFromInt(2)
	eng := testEngine(t, cfg)
	data, ok := eng.mirrorOrder(filledOrder(models.OrderSideBuy, "100", "1"))
	if !ok {
		t.Fatal("зеркало должно построиться")
	}
	if !data.Qty.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("фиксированный объём: ожидали 2, получили %s", data.Qty)
	}
}

func TestMirrorOrderNonPositivePrice(t *testing.T) {
	eng := testEngine(t, testGridConfig())
	if _, ok := eng.mirrorOrder(filledOrder(models.OrderSideSell, "1", "1")); ok {
		t.Fatal("зеркало с неположительной ценой не должно строиться")
	}
}

func TestMirrorTimerSupersedes(t *testing.T) {
	var timer mirrorTimer
	fired := make(chan string, 2)
	timer.schedule(50*time.Millisecond, func() { fired <- "first" })
	timer.schedule(50*time.Millisecond, func() { fired <- "second" })

	select {
	case got := <-fired:
		if got != "second" {
			t.Fatalf("сработать должно только второе зеркало, получили %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("отложенное зеркало не сработало")
	}
	select {
	case got := <-fired:
		t.Fatalf("отменённое зеркало не должно срабатывать: %s", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMirrorTimerCancel(t *testing.T) {
	var timer mirrorTimer
	fired := make(chan struct{}, 1)
	timer.schedule(50*time.Millisecond, func() { fired <- struct{}{} })
	timer.cancel()

	select {
	case <-fired:
		t.Fatal("отменённое зеркало не должно срабатывать")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEnsureFlatValuesFromFillPrice(t *testing.T) {
	eng := testEngine(t, testGridConfig())
	eng.state.FlatIncrement = decimal.Zero
	eng.state.FlatSpread = decimal.Zero

	eng.ensureFlatValues(decimal.NewFromInt(200))
	if !eng.state.FlatIncrement.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("инкремент: ожидали 8, получили %s", eng.state.FlatIncrement)
	}
	if !eng.state.FlatSpread.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("спред: ожидали 12, получили %s", eng.state.FlatSpread)
	}
}
