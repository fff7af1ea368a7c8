package engine

import (
	"testing"

	"github.com/shopspring/decimal"

	"gridbot/internal/exchange"
	"gridbot/internal/models"
)

func testRules() exchange.InstrumentRules {
	return exchange.InstrumentRules{
		TickSize: decimal.RequireFromString("0.01"),
		LotSize:  decimal.New(1, -8),
	}
}

func generateRequest(side models.OrderSide, funds string) GenerateRequest {
	return GenerateRequest{
		Symbol:         "BTCUSDT",
		Side:           side,
		CurrentPrice:   decimal.NewFromInt(100),
		LowerBound:     decimal.NewFromInt(1),
		UpperBound:     decimal.NewFromInt(10000),
		FlatIncrement:  decimal.NewFromInt(4),
		FlatSpread:     decimal.NewFromInt(6),
		Mode:           ModeFlat,
		State:          StateNew,
		AvailableFunds: decimal.RequireFromString(funds),
		Rules:          testRules(),
	}
}

// Диапазон считается до ближней границы, поэтому при цене 100 в границах
// [1, 10000] обе стороны получают по 25 позиций.
func TestNewLadderSymmetricCount(t *testing.T) {
	buys := Generate(generateRequest(models.OrderSideBuy, "1000"))
	sells := Generate(generateRequest(models.OrderSideSell, "25"))

	if len(buys) != 25 {
		t.Fatalf("покупки: ожидали 25 позиций, получили %d", len(buys))
	}
	if len(sells) != 25 {
		t.Fatalf("продажи: ожидали 25 позиций, получили %d", len(sells))
	}

	if !buys[0].Price.Equal(decimal.NewFromInt(97)) {
		t.Fatalf("первая покупка: ожидали 97, получили %s", buys[0].Price)
	}
	if !buys[24].Price.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("последняя покупка: ожидали 1, получили %s", buys[24].Price)
	}
	if !sells[0].Price.Equal(decimal.NewFromInt(103)) {
		t.Fatalf("первая продажа: ожидали 103, получили %s", sells[0].Price)
	}
	if !sells[24].Price.Equal(decimal.NewFromInt(199)) {
		t.Fatalf("последняя продажа: ожидали 199, получили %s", sells[24].Price)
	}

	for i, od := range buys {
		if !od.Virtual {
			t.Fatalf("позиция %d должна быть виртуальной до отбора", i)
		}
		if i > 0 && !buys[i-1].Price.Sub(od.Price).Equal(decimal.NewFromInt(4)) {
			t.Fatalf("шаг покупок нарушен между %s и %s", buys[i-1].Price, od.Price)
		}
	}
}

func TestNewLadderFlatSpendsEvenly(t *testing.T) {
	buys := Generate(generateRequest(models.OrderSideBuy, "1000"))
	average := decimal.NewFromInt(40)
	tolerance := decimal.RequireFromString("0.1")
	for i, od := range buys[:len(buys)-1] {
		cost := od.Price.Mul(od.Qty)
		if cost.Sub(average).Abs().GreaterThan(tolerance) {
			t.Fatalf("позиция %d: стоимость %s далека от средней %s", i, cost, average)
		}
	}
}

func TestNewLadderRespectsFunds(t *testing.T) {
	funds := decimal.RequireFromString("1000")
	buys := Generate(generateRequest(models.OrderSideBuy, "1000"))
	spent := decimal.Zero
	for _, od := range buys {
		spent = spent.Add(od.Price.Mul(od.Qty))
	}
	if spent.GreaterThan(funds) {
		t.Fatalf("потрачено %s больше доступных %s", spent, funds)
	}
}

func TestNewLadderNoSpan(t *testing.T) {
	req := generateRequest(models.OrderSideBuy, "1000")
	req.LowerBound = decimal.NewFromInt(98)
	if got := Generate(req); got != nil {
		t.Fatalf("при диапазоне уже половины спреда позиций быть не должно: %v", got)
	}
}

func TestNewLadderNarrowBounds(t *testing.T) {
	req := generateRequest(models.OrderSideSell, "10")
	req.LowerBound = decimal.NewFromInt(90)
	// nearest = 10, span = 7 -> две позиции на сторону
	got := Generate(req)
	if len(got) != 2 {
		t.Fatalf("ожидали 2 позиции, получили %d", len(got))
	}
}

func TestNewLadderFixedVolume(t *testing.T) {
	req := generateRequest(models.OrderSideSell, "100")
	req.FixedVolume = decimal.NewFromInt(2)
	got := Generate(req)
	if len(got) == 0 {
		t.Fatal("лестница пустая")
	}
	for i, od := range got[:len(got)-1] {
		if !od.Qty.Equal(decimal.NewFromInt(2)) {
			t.Fatalf("позиция %d: ожидали объём 2, получили %s", i, od.Qty)
		}
	}
}

func TestFillLadderInteriorMean(t *testing.T) {
	req := generateRequest(models.OrderSideBuy, "1000")
	req.State = StateFill
	req.Missing = []MissingOrder{{Side: models.OrderSideBuy, Price: decimal.NewFromInt(93)}}
	req.Existing = []models.LadderEntry{
		{Side: models.OrderSideBuy, Price: decimal.NewFromInt(89), Qty: decimal.NewFromInt(2)},
		{Side: models.OrderSideBuy, Price: decimal.NewFromInt(97), Qty: decimal.NewFromInt(4)},
	}
	got := Generate(req)
	if len(got) != 1 {
		t.Fatalf("ожидали одну починку, получили %d", len(got))
	}
	if !got[0].Price.Equal(decimal.NewFromInt(93)) || !got[0].Qty.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("ожидали BUY@93 объёмом 3, получили %s@%s", got[0].Qty, got[0].Price)
	}
}

func TestFillLadderBoundaryEstimate(t *testing.T) {
	req := generateRequest(models.OrderSideSell, "25")
	req.State = StateFill
	req.Missing = []MissingOrder{{Side: models.OrderSideSell, Price: decimal.NewFromInt(103)}}
	req.Existing = []models.LadderEntry{
		{Side: models.OrderSideSell, Price: decimal.NewFromInt(107), Qty: decimal.NewFromInt(1)},
		{Side: models.OrderSideSell, Price: decimal.NewFromInt(111), Qty: decimal.NewFromInt(1)},
	}
	got := Generate(req)
	if len(got) != 1 {
		t.Fatalf("ожидали одну починку, получили %d", len(got))
	}
	if !got[0].Price.Equal(decimal.NewFromInt(103)) {
		t.Fatalf("ожидали SELL@103, получили %s", got[0].Price)
	}
	if !got[0].Qty.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("объём из свежей оценки: ожидали 1, получили %s", got[0].Qty)
	}
}

func TestFillLadderCapsByFunds(t *testing.T) {
	req := generateRequest(models.OrderSideBuy, "93")
	req.State = StateFill
	req.Missing = []MissingOrder{{Side: models.OrderSideBuy, Price: decimal.NewFromInt(93)}}
	req.Existing = []models.LadderEntry{
		{Side: models.OrderSideBuy, Price: decimal.NewFromInt(89), Qty: decimal.NewFromInt(10)},
		{Side: models.OrderSideBuy, Price: decimal.NewFromInt(97), Qty: decimal.NewFromInt(10)},
	}
	got := Generate(req)
	if len(got) != 1 {
		t.Fatalf("ожидали одну починку, получили %d", len(got))
	}
	if !got[0].Qty.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("объём должен ужаться до средств: ожидали 1, получили %s", got[0].Qty)
	}
}

func TestFillLadderSkipsNonPositiveRoundedPrice(t *testing.T) {
	req := generateRequest(models.OrderSideBuy, "1000")
	req.State = StateFill
	req.FixedVolume = decimal.NewFromInt(1)
	req.Rules.TickSize = decimal.NewFromInt(10)
	req.Missing = []MissingOrder{{Side: models.OrderSideBuy, Price: decimal.NewFromInt(3)}}
	if got := Generate(req); got != nil {
		t.Fatalf("цена, округлившаяся в ноль, должна пропускаться: %v", got)
	}
}

func TestFillLadderIgnoresOtherSide(t *testing.T) {
	req := generateRequest(models.OrderSideBuy, "1000")
	req.State = StateFill
	req.Missing = []MissingOrder{{Side: models.OrderSideSell, Price: decimal.NewFromInt(103)}}
	if got := Generate(req); got != nil {
		t.Fatalf("чужая сторона не должна чиниться: %v", got)
	}
}

func TestGenerateErrorState(t *testing.T) {
	req := generateRequest(models.OrderSideBuy, "1000")
	req.State = StateError
	if got := Generate(req); got != nil {
		t.Fatalf("ERROR не должен ничего генерировать: %v", got)
	}
}

func TestRoundStep(t *testing.T) {
	got := roundStep(decimal.RequireFromString("1.2345"), decimal.RequireFromString("0.01"))
	if !got.Equal(decimal.RequireFromString("1.23")) {
		t.Fatalf("ожидали 1.23, получили %s", got)
	}
	raw := decimal.RequireFromString("1.2345")
	if !roundStep(raw, decimal.Zero).Equal(raw) {
		t.Fatal("нулевой шаг не должен менять значение")
	}
}

func TestPassesLimits(t *testing.T) {
	rules := testRules()
	rules.MinQty = decimal.NewFromInt(1)
	rules.MinNotional = decimal.NewFromInt(10)
	rules.MaxPrice = decimal.NewFromInt(1000)

	if passesLimits(decimal.NewFromInt(100), decimal.RequireFromString("0.5"), rules) {
		t.Fatal("объём ниже MinQty должен отбрасываться")
	}
	if passesLimits(decimal.NewFromInt(5), decimal.NewFromInt(1), rules) {
		t.Fatal("стоимость ниже MinNotional должна отбрасываться")
	}
	if passesLimits(decimal.NewFromInt(2000), decimal.NewFromInt(1), rules) {
		t.Fatal("цена выше MaxPrice должна отбрасываться")
	}
	if !passesLimits(decimal.NewFromInt(100), decimal.NewFromInt(1), rules) {
		t.Fatal("валидный ордер должен проходить")
	}
}
