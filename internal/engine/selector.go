package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"gridbot/internal/models"
)

// SelectOperational помечает реальными depth позиций, ближайших к текущей
// цене, чередуя стороны. Остальные остаются виртуальными: они хранят форму
// полной лестницы для будущих починок, но на биржу не уходят.
func SelectOperational(orders []models.OrderData, currentPrice decimal.Decimal, depth int) []models.OrderData {
	result := make([]models.OrderData, len(orders))
	copy(result, orders)

	var buys, sells []int
	for i := range result {
		result[i].Virtual = true
		if result[i].Side == models.OrderSideBuy {
			buys = append(buys, i)
		} else {
			sells = append(sells, i)
		}
	}
	byDistance := func(idx []int) {
		sort.SliceStable(idx, func(a, b int) bool {
			da := result[idx[a]].Price.Sub(currentPrice).Abs()
			db := result[idx[b]].Price.Sub(currentPrice).Abs()
			return da.LessThan(db)
		})
	}
	byDistance(buys)
	byDistance(sells)

	takeBuy := nearerSide(result, buys, sells, currentPrice)
	for depth > 0 && (len(buys) > 0 || len(sells) > 0) {
		if takeBuy && len(buys) == 0 {
			takeBuy = false
		}
		if !takeBuy && len(sells) == 0 {
			takeBuy = true
		}
		if takeBuy {
			result[buys[0]].Virtual = false
			buys = buys[1:]
		} else {
			result[sells[0]].Virtual = false
			sells = sells[1:]
		}
		takeBuy = !takeBuy
		depth--
	}
	return result
}

func nearerSide(orders []models.OrderData, buys, sells []int, price decimal.Decimal) bool {
	if len(buys) == 0 {
		return false
	}
	if len(sells) == 0 {
		return true
	}
	buyDist := orders[buys[0]].Price.Sub(price).Abs()
	sellDist := orders[sells[0]].Price.Sub(price).Abs()
	return buyDist.LessThanOrEqual(sellDist)
}
