package engine

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseMode(t *testing.T) {
	mode, err := ParseMode(" mountain ")
	if err != nil {
		t.Fatalf("ParseMode: %v", err)
	}
	if mode != ModeMountain {
		t.Fatalf("ожидали MOUNTAIN, получили %s", mode)
	}
	if _, err := ParseMode("pyramid"); err == nil {
		t.Fatal("неизвестный режим должен возвращать ошибку")
	}
}

func TestSlotQuantityFlat(t *testing.T) {
	average := decimal.NewFromInt(100)
	for i := 0; i < 5; i++ {
		got := slotQuantity(average, decimal.Zero, DirectionStable, i, 5)
		if !got.Equal(average) {
			t.Fatalf("позиция %d: ожидали %s, получили %s", i, average, got)
		}
	}
}

func TestSlotQuantityShapeInvariants(t *testing.T) {
	average := decimal.NewFromInt(100)
	count := 10

	one := decimal.NewFromInt(1)
	cases := []struct {
		name       string
		multiplier decimal.Decimal
	}{
		{"full", fullMultiplier},
		{"neutral", neutralMultiplier},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sum := decimal.Zero
			for i := 0; i < count; i++ {
				sum = sum.Add(slotQuantity(average, tc.multiplier, DirectionIncreasing, i, count))
			}
			want := average.Mul(decimal.NewFromInt(int64(count)))
			if sum.Sub(want).Abs().GreaterThan(decimal.RequireFromString("0.0001")) {
				t.Fatalf("сумма объёмов %s не равна count*average %s", sum, want)
			}

			minQty := slotQuantity(average, tc.multiplier, DirectionIncreasing, 0, count)
			maxQty := slotQuantity(average, tc.multiplier, DirectionIncreasing, count-1, count)
			half := tc.multiplier.Div(two)
			wantRatio := one.Add(half).Div(one.Sub(half))
			gotRatio := maxQty.Div(minQty)
			if !gotRatio.Sub(wantRatio).Abs().LessThan(decimal.RequireFromString("0.0001")) {
				t.Fatalf("max/min = %s, ожидали %s", gotRatio, wantRatio)
			}
		})
	}
}

func TestSlotQuantityDirections(t *testing.T) {
	average := decimal.NewFromInt(100)
	count := 4

	inc0 := slotQuantity(average, fullMultiplier, DirectionIncreasing, 0, count)
	incLast := slotQuantity(average, fullMultiplier, DirectionIncreasing, count-1, count)
	if !inc0.LessThan(incLast) {
		t.Fatalf("increasing: дальняя позиция %s должна быть меньше ближней %s", inc0, incLast)
	}

	dec0 := slotQuantity(average, fullMultiplier, DirectionDecreasing, 0, count)
	decLast := slotQuantity(average, fullMultiplier, DirectionDecreasing, count-1, count)
	if !dec0.GreaterThan(decLast) {
		t.Fatalf("decreasing: дальняя позиция %s должна быть больше ближней %s", dec0, decLast)
	}
}

func TestModeDirections(t *testing.T) {
	cases := []struct {
		mode Mode
		buy  Direction
		sell Direction
	}{
		{ModeFlat, DirectionStable, DirectionStable},
		{ModeNeutral, DirectionIncreasing, DirectionIncreasing},
		{ModeMountain, DirectionIncreasing, DirectionIncreasing},
		{ModeValley, DirectionDecreasing, DirectionDecreasing},
		{ModeBuySlope, DirectionDecreasing, DirectionIncreasing},
		{ModeSellSlope, DirectionIncreasing, DirectionDecreasing},
	}
	for _, tc := range cases {
		if got := tc.mode.direction(true); got != tc.buy {
			t.Errorf("%s buy: ожидали %d, получили %d", tc.mode, tc.buy, got)
		}
		if got := tc.mode.direction(false); got != tc.sell {
			t.Errorf("%s sell: ожидали %d, получили %d", tc.mode, tc.sell, got)
		}
	}
}
