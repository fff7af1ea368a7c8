package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Mode string

const (
	ModeFlat      Mode = "FLAT"
	ModeNeutral   Mode = "NEUTRAL"
	ModeMountain  Mode = "MOUNTAIN"
	ModeValley    Mode = "VALLEY"
	ModeBuySlope  Mode = "BUY_SLOPE"
	ModeSellSlope Mode = "SELL_SLOPE"
)

// Direction — как меняется объём ордера при приближении к текущей цене.
type Direction int

const (
	DirectionStable Direction = iota
	DirectionIncreasing
	DirectionDecreasing
)

type modeSpec struct {
	Multiplier decimal.Decimal
	Buy        Direction
	Sell       Direction
}

var (
	two               = decimal.NewFromInt(2)
	hundred           = decimal.NewFromInt(100)
	fullMultiplier    = decimal.NewFromInt(1)
	neutralMultiplier = decimal.RequireFromString("0.3")
)

var modeSpecs = map[Mode]modeSpec{
	ModeFlat:      {Multiplier: decimal.Zero, Buy: DirectionStable, Sell: DirectionStable},
	ModeNeutral:   {Multiplier: neutralMultiplier, Buy: DirectionIncreasing, Sell: DirectionIncreasing},
	ModeMountain:  {Multiplier: fullMultiplier, Buy: DirectionIncreasing, Sell: DirectionIncreasing},
	ModeValley:    {Multiplier: fullMultiplier, Buy: DirectionDecreasing, Sell: DirectionDecreasing},
	ModeBuySlope:  {Multiplier: fullMultiplier, Buy: DirectionDecreasing, Sell: DirectionIncreasing},
	ModeSellSlope: {Multiplier: fullMultiplier, Buy: DirectionIncreasing, Sell: DirectionDecreasing},
}

func ParseMode(raw string) (Mode, error) {
	mode := Mode(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := modeSpecs[mode]; !ok {
		return "", fmt.Errorf("неизвестный режим распределения: %s", raw)
	}
	return mode, nil
}

func (m Mode) spec() modeSpec {
	return modeSpecs[m]
}

func (m Mode) direction(buy bool) Direction {
	spec := m.spec()
	if buy {
		return spec.Buy
	}
	return spec.Sell
}

// slotQuantity возвращает объём позиции i (0 — самая дальняя от цены) из
// count позиций при среднем объёме average. Инвариант формы:
// max/min == (1+m/2)/(1-m/2), сумма по всем позициям == count*average.
func slotQuantity(average, multiplier decimal.Decimal, dir Direction, i, count int) decimal.Decimal {
	if count <= 1 || dir == DirectionStable || multiplier.IsZero() {
		return average
	}
	halfSpan := average.Mul(multiplier).Div(two)
	minQty := average.Sub(halfSpan)
	delta := average.Mul(multiplier)
	step := decimal.NewFromInt(int64(i)).Div(decimal.NewFromInt(int64(count - 1)))
	if dir == DirectionIncreasing {
		return minQty.Add(delta.Mul(step))
	}
	return minQty.Add(delta.Mul(decimal.NewFromInt(1).Sub(step)))
}
