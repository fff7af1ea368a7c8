package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"gridbot/internal/models"
)

type LadderState int

const (
	StateNew LadderState = iota
	StateFill
	StateError
)

func (s LadderState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateFill:
		return "FILL"
	default:
		return "ERROR"
	}
}

type MissingOrder struct {
	Side  models.OrderSide
	Price decimal.Decimal
}

type Analysis struct {
	State     LadderState
	Missing   []MissingOrder
	Increment decimal.Decimal
	Spread    decimal.Decimal
	Mode      Mode
	Reason    string
}

type AnalyzeInput struct {
	Symbol           string
	CurrentPrice     decimal.Decimal
	LowerBound       decimal.Decimal
	UpperBound       decimal.Decimal
	SpreadPercent    decimal.Decimal
	IncrementPercent decimal.Decimal
	// Кэш значений сессии; Zero — ещё не выведены.
	FlatIncrement decimal.Decimal
	FlatSpread    decimal.Decimal
	// Открытые ордера пары, отсортированы по цене по возрастанию.
	Orders      []models.Order
	RecentFills []models.Fill
}

// Эмпирические окна детекции разрывов, в долях инкремента и спреда.
// Подобраны по живым сеткам; тесты фиксируют их как контракт.
var (
	gapMissingRatio   = decimal.RequireFromString("1.5")
	gapErrorRatio     = decimal.RequireFromString("2.5")
	spreadRepairRatio = decimal.RequireFromString("1.2")
	spreadErrorRatio  = decimal.RequireFromString("2.2")

	trendWindow    = decimal.RequireFromString("1.05")
	mountainCutoff = decimal.NewFromInt(2)
)

// Analyze восстанавливает параметры лестницы из открытых ордеров и недавних
// исполнений: NEW — лестницы нет, FILL — лестница живая (возможно с дырами),
// ERROR — состояние несогласуемо, цикл пропускается без мутаций.
func Analyze(in AnalyzeInput) Analysis {
	if !in.CurrentPrice.GreaterThan(in.LowerBound) || !in.CurrentPrice.LessThan(in.UpperBound) {
		return errorAnalysis(fmt.Sprintf("цена %s вне границ [%s, %s]", in.CurrentPrice, in.LowerBound, in.UpperBound))
	}

	if len(in.Orders) == 0 {
		return Analysis{State: StateNew}
	}

	for _, ord := range in.Orders {
		if ord.Symbol != in.Symbol {
			return errorAnalysis(fmt.Sprintf("ордер чужой пары: %s", ord.Symbol))
		}
	}

	var buys, sells []models.Order
	for _, ord := range in.Orders {
		if ord.Side == models.OrderSideBuy {
			if len(sells) > 0 {
				return errorAnalysis("ордер на покупку выше ордера на продажу")
			}
			buys = append(buys, ord)
		} else {
			sells = append(sells, ord)
		}
	}

	increment := in.FlatIncrement
	if !increment.IsPositive() {
		increment = firstSameSideDelta(in.Orders)
	}
	if !increment.IsPositive() {
		increment = in.CurrentPrice.Mul(in.IncrementPercent).Div(hundred)
	}
	if !increment.IsPositive() {
		return errorAnalysis("инкремент не выводится ни из ордеров, ни из конфигурации")
	}

	spread := in.FlatSpread
	if !spread.IsPositive() && in.IncrementPercent.IsPositive() && in.SpreadPercent.IsPositive() {
		spread = increment.Mul(in.SpreadPercent).Div(in.IncrementPercent)
	}
	if !spread.IsPositive() && len(buys) > 0 && len(sells) > 0 {
		return errorAnalysis("спред неизвестен при ордерах по обе стороны цены")
	}

	res := Analysis{State: StateFill, Increment: increment, Spread: spread}

	for _, side := range [][]models.Order{buys, sells} {
		missing, reason := sideGaps(side, increment, in.RecentFills)
		if reason != "" {
			return errorAnalysis(reason)
		}
		res.Missing = append(res.Missing, missing...)
	}

	if len(buys) > 0 && len(sells) > 0 {
		missing, reason := boundaryGaps(buys, sells, in.CurrentPrice, increment, spread, in.RecentFills)
		if reason != "" {
			return errorAnalysis(reason)
		}
		res.Missing = append(res.Missing, missing...)
	}

	res.Mode = inferMode(buys, sells)
	return res
}

func errorAnalysis(reason string) Analysis {
	return Analysis{State: StateError, Reason: reason}
}

func firstSameSideDelta(orders []models.Order) decimal.Decimal {
	for i := 1; i < len(orders); i++ {
		if orders[i].Side != orders[i-1].Side {
			continue
		}
		delta := orders[i].Price.Sub(orders[i-1].Price)
		if delta.IsPositive() {
			return delta
		}
	}
	return decimal.Zero
}

// sideGaps ищет дыры между соседними ордерами одной стороны. Разрыв до
// ~1.5 инкремента — норма, до ~2.5 — один пропавший ордер в середине,
// дальше — ошибка, если исполнения его не объясняют.
func sideGaps(orders []models.Order, increment decimal.Decimal, fills []models.Fill) ([]MissingOrder, string) {
	var missing []MissingOrder
	tolerance := increment.Div(two)
	for i := 1; i < len(orders); i++ {
		delta := orders[i].Price.Sub(orders[i-1].Price)
		ratio := delta.Div(increment)
		switch {
		case ratio.LessThanOrEqual(gapMissingRatio):
		case ratio.LessThanOrEqual(gapErrorRatio):
			mid := orders[i-1].Price.Add(delta.Div(two))
			if !hasFillNear(fills, mid, tolerance) {
				missing = append(missing, MissingOrder{Side: orders[i].Side, Price: mid})
			}
		default:
			if !hasFillBetween(fills, orders[i-1].Price, orders[i].Price) {
				return nil, fmt.Sprintf("разрыв %s инкремента между %s и %s без объясняющих исполнений",
					ratio.StringFixed(2), orders[i-1].Price, orders[i].Price)
			}
		}
	}
	return missing, ""
}

// boundaryGaps проверяет разрыв на границе сторон. Лишняя ширина сверх
// спреда достраивается ордерами по обе стороны цены до половины спреда.
func boundaryGaps(buys, sells []models.Order, price, increment, spread decimal.Decimal, fills []models.Fill) ([]MissingOrder, string) {
	innerBuy := buys[len(buys)-1].Price
	innerSell := sells[0].Price
	gap := innerSell.Sub(innerBuy)
	ratio := gap.Div(spread)

	if ratio.GreaterThan(spreadErrorRatio) {
		return nil, fmt.Sprintf("разрыв на границе спреда %s ширины спреда", ratio.StringFixed(2))
	}
	if ratio.LessThanOrEqual(spreadRepairRatio) {
		return nil, ""
	}

	var missing []MissingOrder
	tolerance := increment.Div(two)
	half := spread.Div(two)

	for p := price.Sub(half); p.GreaterThan(innerBuy.Add(tolerance)); p = p.Sub(increment) {
		if !hasFillNear(fills, p, tolerance) {
			missing = append(missing, MissingOrder{Side: models.OrderSideBuy, Price: p})
		}
	}
	for p := price.Add(half); p.LessThan(innerSell.Sub(tolerance)); p = p.Add(increment) {
		if !hasFillNear(fills, p, tolerance) {
			missing = append(missing, MissingOrder{Side: models.OrderSideSell, Price: p})
		}
	}
	return missing, ""
}

func hasFillNear(fills []models.Fill, price, tolerance decimal.Decimal) bool {
	for _, fill := range fills {
		if fill.Price.Sub(price).Abs().LessThanOrEqual(tolerance) {
			return true
		}
	}
	return false
}

func hasFillBetween(fills []models.Fill, low, high decimal.Decimal) bool {
	for _, fill := range fills {
		if fill.Price.GreaterThan(low) && fill.Price.LessThan(high) {
			return true
		}
	}
	return false
}

// inferMode выводит режим распределения из тренда объёмов в лимитирующей
// валюте: для покупок — стоимость (quote), для продаж — количество (base),
// от внешнего края к цене.
func inferMode(buys, sells []models.Order) Mode {
	buyTrend, buyRatio := sideTrend(buys, true)
	sellTrend, sellRatio := sideTrend(sells, false)

	if buyTrend == trendUnknown && sellTrend == trendUnknown {
		return ""
	}
	if buyTrend == trendUnknown {
		buyTrend, buyRatio = sellTrend, sellRatio
	}
	if sellTrend == trendUnknown {
		sellTrend, sellRatio = buyTrend, buyRatio
	}

	switch {
	case buyTrend == trendUp && sellTrend == trendDown:
		return ModeSellSlope
	case buyTrend == trendDown && sellTrend == trendUp:
		return ModeBuySlope
	case buyTrend == trendDown || sellTrend == trendDown:
		return ModeValley
	case buyTrend == trendUp || sellTrend == trendUp:
		ratio := buyRatio
		if sellRatio.GreaterThan(ratio) {
			ratio = sellRatio
		}
		if ratio.GreaterThanOrEqual(mountainCutoff) {
			return ModeMountain
		}
		return ModeNeutral
	default:
		return ModeFlat
	}
}

type trend int

const (
	trendUnknown trend = iota
	trendStable
	trendUp
	trendDown
)

func sideTrend(orders []models.Order, buy bool) (trend, decimal.Decimal) {
	if len(orders) < 2 {
		return trendUnknown, decimal.Zero
	}
	outer, inner := orders[0], orders[len(orders)-1]
	if !buy {
		outer, inner = orders[len(orders)-1], orders[0]
	}
	outerVal, innerVal := shapedValue(outer, buy), shapedValue(inner, buy)
	if !outerVal.IsPositive() || !innerVal.IsPositive() {
		return trendUnknown, decimal.Zero
	}
	ratio := innerVal.Div(outerVal)
	switch {
	case ratio.GreaterThanOrEqual(trendWindow):
		return trendUp, ratio
	case ratio.LessThanOrEqual(decimal.NewFromInt(1).Div(trendWindow)):
		return trendDown, ratio
	default:
		return trendStable, ratio
	}
}

func shapedValue(ord models.Order, buy bool) decimal.Decimal {
	if buy {
		return ord.Price.Mul(ord.Qty)
	}
	return ord.Qty
}
