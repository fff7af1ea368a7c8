package engine

import (
	"github.com/shopspring/decimal"

	"gridbot/internal/exchange"
	"gridbot/internal/models"
)

// lastOrderShrink страхует последнюю позицию стороны от выхода за доступные
// средства из-за округлений.
var lastOrderShrink = decimal.RequireFromString("0.999")

type GenerateRequest struct {
	Symbol        string
	Side          models.OrderSide
	CurrentPrice  decimal.Decimal
	LowerBound    decimal.Decimal
	UpperBound    decimal.Decimal
	FlatIncrement decimal.Decimal
	FlatSpread    decimal.Decimal
	Mode          Mode
	State         LadderState
	Missing       []MissingOrder
	// Существующие позиции той же стороны, по возрастанию цены.
	Existing []models.LadderEntry
	// Свободные средства в лимитирующей валюте стороны:
	// quote для покупок, base для продаж.
	AvailableFunds decimal.Decimal
	FixedVolume    decimal.Decimal
	Rules          exchange.InstrumentRules
}

// Generate строит целевые позиции одной стороны лестницы. NEW — полная
// лестница от половины спреда до ближней границы, FILL — только дыры из
// анализа, ERROR — ничего.
func Generate(req GenerateRequest) []models.OrderData {
	switch req.State {
	case StateNew:
		return newLadder(req)
	case StateFill:
		return fillLadder(req)
	default:
		return nil
	}
}

func newLadder(req GenerateRequest) []models.OrderData {
	count := ladderOrderCount(req)
	if count <= 0 || !req.AvailableFunds.IsPositive() {
		return nil
	}

	buy := req.Side == models.OrderSideBuy
	average := req.AvailableFunds.Div(decimal.NewFromInt(int64(count)))
	spec := req.Mode.spec()
	dir := req.Mode.direction(buy)
	half := req.FlatSpread.Div(two)

	var orders []models.OrderData
	spent := decimal.Zero
	for i := 0; i < count; i++ {
		offset := half.Add(req.FlatIncrement.Mul(decimal.NewFromInt(int64(i))))
		price := req.CurrentPrice.Add(offset)
		if buy {
			price = req.CurrentPrice.Sub(offset)
		}
		price = roundStep(price, req.Rules.TickSize)
		if !price.IsPositive() {
			continue
		}

		var qty decimal.Decimal
		if req.FixedVolume.IsPositive() {
			qty = req.FixedVolume
		} else {
			// Позиция 0 — самая дальняя от цены.
			shaped := slotQuantity(average, spec.Multiplier, dir, count-1-i, count)
			if buy {
				qty = shaped.Div(price)
			} else {
				qty = shaped
			}
		}
		if i == count-1 {
			qty = qty.Mul(lastOrderShrink)
		}
		qty = roundStep(qty, req.Rules.LotSize)

		need := qty
		if buy {
			need = qty.Mul(price)
		}
		if spent.Add(need).GreaterThan(req.AvailableFunds) {
			continue
		}
		if !passesLimits(price, qty, req.Rules) {
			continue
		}
		spent = spent.Add(need)
		orders = append(orders, models.OrderData{
			Symbol:  req.Symbol,
			Side:    req.Side,
			Price:   price,
			Qty:     qty,
			Virtual: true,
		})
	}
	return orders
}

// ladderOrderCount — количество позиций стороны. Рабочий диапазон считается
// до ближней к цене границы за вычетом половины спреда, поэтому обе стороны
// получают одинаковое число позиций и каждая имеет зеркальный слот.
func ladderOrderCount(req GenerateRequest) int {
	if !req.FlatIncrement.IsPositive() || !req.FlatSpread.IsPositive() {
		return 0
	}
	nearest := req.CurrentPrice.Sub(req.LowerBound)
	if up := req.UpperBound.Sub(req.CurrentPrice); up.LessThan(nearest) {
		nearest = up
	}
	span := nearest.Sub(req.FlatSpread.Div(two))
	if !span.IsPositive() {
		return 0
	}
	return int(span.Div(req.FlatIncrement).Floor().IntPart()) + 1
}

func fillLadder(req GenerateRequest) []models.OrderData {
	var targets []MissingOrder
	for _, m := range req.Missing {
		if m.Side == req.Side {
			targets = append(targets, m)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	buy := req.Side == models.OrderSideBuy
	fundsPerOrder := req.AvailableFunds.Div(decimal.NewFromInt(int64(len(targets))))

	var orders []models.OrderData
	for _, target := range targets {
		price := roundStep(target.Price, req.Rules.TickSize)
		if !price.IsPositive() {
			continue
		}
		below, above := neighbors(req.Existing, target.Price)

		var qty decimal.Decimal
		switch {
		case req.FixedVolume.IsPositive():
			qty = req.FixedVolume
		case below != nil && above != nil:
			// Дыра строго между соседями: среднее их объёмов.
			qty = below.Qty.Add(above.Qty).Div(two)
		default:
			// Дыра у границы спреда: свежая оценка по распределению.
			qty = boundaryEstimate(req, price)
		}
		if !qty.IsPositive() {
			continue
		}

		limit := fundsPerOrder
		if buy {
			limit = fundsPerOrder.Div(price)
		}
		if qty.GreaterThan(limit) {
			qty = limit
		}
		qty = roundStep(qty, req.Rules.LotSize)
		if !passesLimits(price, qty, req.Rules) {
			continue
		}
		orders = append(orders, models.OrderData{
			Symbol:  req.Symbol,
			Side:    req.Side,
			Price:   price,
			Qty:     qty,
			Virtual: true,
		})
	}
	return orders
}

// boundaryEstimate пересчитывает теоретическую лестницу и берёт объём
// позиции, в чьё ценовое окно попадает целевая цена.
func boundaryEstimate(req GenerateRequest, price decimal.Decimal) decimal.Decimal {
	fresh := req
	fresh.State = StateNew
	fresh.FixedVolume = decimal.Zero
	window := req.FlatIncrement.Div(two)
	for _, od := range newLadder(fresh) {
		if od.Price.Sub(price).Abs().LessThanOrEqual(window) {
			return od.Qty
		}
	}
	return decimal.Zero
}

func neighbors(existing []models.LadderEntry, price decimal.Decimal) (below, above *models.LadderEntry) {
	for i := range existing {
		entry := existing[i]
		if entry.Price.LessThan(price) {
			below = &existing[i]
		} else if entry.Price.GreaterThan(price) && above == nil {
			above = &existing[i]
		}
	}
	return below, above
}

func passesLimits(price, qty decimal.Decimal, rules exchange.InstrumentRules) bool {
	if !qty.IsPositive() {
		return false
	}
	if rules.MinQty.IsPositive() && qty.LessThan(rules.MinQty) {
		return false
	}
	if rules.MaxQty.IsPositive() && qty.GreaterThan(rules.MaxQty) {
		return false
	}
	notional := price.Mul(qty)
	if rules.MinNotional.IsPositive() && notional.LessThan(rules.MinNotional) {
		return false
	}
	if rules.MaxNotional.IsPositive() && notional.GreaterThan(rules.MaxNotional) {
		return false
	}
	if rules.MinPrice.IsPositive() && price.LessThan(rules.MinPrice) {
		return false
	}
	if rules.MaxPrice.IsPositive() && price.GreaterThan(rules.MaxPrice) {
		return false
	}
	return true
}

func roundStep(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}
