package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/config"
	"gridbot/internal/exchange"
	"gridbot/internal/funds"
	"gridbot/internal/logger"
	"gridbot/internal/metrics"
	"gridbot/internal/models"
)

const (
	lookupTimeout         = 10 * time.Second
	fillLookback          = 15 * time.Minute
	defaultHealthInterval = 60 * time.Second
)

// Engine ведёт сетку одной пары: строит лестницу, чинит дыры после
// пропущенных исполнений и зеркалит заполненные ордера. Все перестройки
// аккаунта сериализуются общим portfolio-локом.
type Engine struct {
	cfg       config.GridConfig
	accountID string
	client    exchange.Client
	ledger    *funds.Ledger
	portfolio *sync.Mutex
	log       *logger.Logger

	mode      Mode
	rules     exchange.InstrumentRules
	sessionID string

	mu    sync.Mutex
	state GridState

	// Строгий порядок обработки исполнений пары.
	fillMu sync.Mutex
	// Счётчик перестроек/зеркал в полёте; health-check уступает без блокировки.
	inFlight atomic.Int32
	mirror   mirrorTimer
}

func New(cfg config.GridConfig, accountID string, client exchange.Client, ledger *funds.Ledger, portfolio *sync.Mutex, log *logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		accountID: accountID,
		client:    client,
		ledger:    ledger,
		portfolio: portfolio,
		log:       log,
		mode:      mode,
		sessionID: newSessionID(),
		state: GridState{
			Symbol: cfg.Symbol,
			Mode:   mode,
		},
	}, nil
}

func (e *Engine) Start(ctx context.Context) error {
	rules, err := e.withRetryRules(ctx, e.cfg.Symbol)
	if err != nil {
		return err
	}
	e.rules = rules

	events, err := e.client.Subscribe(ctx, e.cfg.Symbol)
	if err != nil {
		return err
	}
	go e.handleEvents(ctx, events)
	go e.healthLoop(ctx)

	e.logEntry().WithFields(map[string]interface{}{
		"mode":        e.mode,
		"lower_bound": e.cfg.LowerBound,
		"upper_bound": e.cfg.UpperBound,
		"depth":       e.cfg.OperationalDepth,
	}).Info("Сетка запущена.")
	return nil
}

func (e *Engine) Stop() {
	e.mirror.cancel()
	e.mu.Lock()
	reserved := e.state.Reserved
	e.state.Reserved = nil
	e.mu.Unlock()
	for _, coin := range reserved {
		e.ledger.Release(e.accountID, coin)
	}
	e.logEntry().Info("Сессия сетки остановлена.")
}

// evaluate — один цикл оценки сетки: анализ открытых ордеров, генерация
// целевых позиций, постановка батча. Любая ошибка цикла откладывает его до
// следующего триггера, ничего наполовину не применяется.
func (e *Engine) evaluate(ctx context.Context) {
	if !e.inFlight.CompareAndSwap(0, 1) {
		e.logEntry().Debug("Цикл пропущен: перестройка или зеркало уже в полёте.")
		return
	}
	defer e.inFlight.Add(-1)

	e.mu.Lock()
	price := e.state.LastPrice
	e.mu.Unlock()
	if !price.IsPositive() {
		e.logEntry().Debug("Цикл пропущен: цена ещё не получена.")
		return
	}

	e.portfolio.Lock()
	defer e.portfolio.Unlock()

	lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	orders, err := e.client.GetOpenOrders(lookupCtx, e.cfg.Symbol)
	if err != nil {
		e.logEntry().WithError(err).Warn("Цикл отложен: не получили открытые ордера.")
		return
	}
	fills, err := e.client.GetRecentFills(lookupCtx, e.cfg.Symbol, time.Now().Add(-fillLookback))
	if err != nil {
		e.logEntry().WithError(err).Warn("Цикл отложен: не получили недавние исполнения.")
		return
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].Price.LessThan(orders[j].Price)
	})

	e.mu.Lock()
	in := AnalyzeInput{
		Symbol:           e.cfg.Symbol,
		CurrentPrice:     price,
		LowerBound:       e.cfg.LowerBound,
		UpperBound:       e.cfg.UpperBound,
		SpreadPercent:    e.cfg.SpreadPercent,
		IncrementPercent: e.cfg.IncrementPercent,
		FlatIncrement:    e.state.FlatIncrement,
		FlatSpread:       e.state.FlatSpread,
		Orders:           orders,
		RecentFills:      fills,
	}
	e.mu.Unlock()

	res := Analyze(in)
	now := time.Now()

	e.mu.Lock()
	e.state.LastState = res.State
	e.state.LastCycleAt = now
	e.state.UpdatedAt = now
	e.state.LowestBuy, e.state.HighestSell = ladderEdges(orders)
	if res.State != StateError {
		if !e.state.FlatIncrement.IsPositive() {
			if res.Increment.IsPositive() {
				e.state.FlatIncrement = res.Increment
			} else {
				e.state.FlatIncrement = price.Mul(e.cfg.IncrementPercent).Div(hundred)
			}
		}
		if !e.state.FlatSpread.IsPositive() {
			if res.Spread.IsPositive() {
				e.state.FlatSpread = res.Spread
			} else {
				e.state.FlatSpread = price.Mul(e.cfg.SpreadPercent).Div(hundred)
			}
		}
		if res.Mode != "" {
			e.state.Mode = res.Mode
		}
	}
	flatIncrement := e.state.FlatIncrement
	flatSpread := e.state.FlatSpread
	mode := e.state.Mode
	e.mu.Unlock()

	if res.State == StateError {
		metrics.LadderErrors.WithLabelValues(e.cfg.Symbol).Inc()
		e.logEntry().WithField("reason", res.Reason).Error("Лестница несогласуема, цикл пропущен без мутаций.")
		return
	}
	if res.State == StateNew && e.cfg.UseExistingOrdersOnly {
		e.logEntry().Info("Новая лестница не строится: включён use_existing_orders_only.")
		return
	}

	balances, err := e.client.GetBalances(lookupCtx, []string{e.rules.BaseCoin, e.rules.QuoteCoin})
	if err != nil {
		e.logEntry().WithError(err).Warn("Цикл отложен: не получили балансы.")
		return
	}
	buyFunds := e.sideFunds(balances, models.OrderSideBuy)
	sellFunds := e.sideFunds(balances, models.OrderSideSell)

	request := func(side models.OrderSide, available, fixed decimal.Decimal) GenerateRequest {
		return GenerateRequest{
			Symbol:         e.cfg.Symbol,
			Side:           side,
			CurrentPrice:   price,
			LowerBound:     e.cfg.LowerBound,
			UpperBound:     e.cfg.UpperBound,
			FlatIncrement:  flatIncrement,
			FlatSpread:     flatSpread,
			Mode:           mode,
			State:          res.State,
			Missing:        res.Missing,
			Existing:       ladderEntries(orders, side),
			AvailableFunds: available,
			FixedVolume:    fixed,
			Rules:          e.rules,
		}
	}
	buyOrders := Generate(request(models.OrderSideBuy, buyFunds, e.cfg.BuyVolumePerOrder))
	sellOrders := Generate(request(models.OrderSideSell, sellFunds, e.cfg.SellVolumePerOrder))

	if res.State == StateNew {
		if len(buyOrders) == 0 {
			e.logEntry().WithField("funds", buyFunds).Warn("Покупки не создаются: увеличьте средства или поменяйте распределение.")
		}
		if len(sellOrders) == 0 {
			e.logEntry().WithField("funds", sellFunds).Warn("Продажи не создаются: увеличьте средства или поменяйте распределение.")
		}
		ladder := SelectOperational(append(buyOrders, sellOrders...), price, e.cfg.OperationalDepth)
		if countReal(ladder) == 0 {
			return
		}
		e.reserveFunds(balances)
		e.submitBatch(ctx, ladder, false)
		return
	}

	repairs := append(buyOrders, sellOrders...)
	if len(repairs) == 0 {
		return
	}
	for i := range repairs {
		repairs[i].Virtual = false
	}
	e.logEntry().WithField("count", len(repairs)).Info("Починка дыр лестницы.")
	e.reserveFunds(balances)
	e.submitBatch(ctx, repairs, true)
}

// sideFunds — свободные средства лимитирующей валюты стороны: снимок
// баланса, срезанный конфигурационным капом и остатком ledger.
func (e *Engine) sideFunds(balances map[string]exchange.Balance, side models.OrderSide) decimal.Decimal {
	coin := e.rules.QuoteCoin
	limit := e.cfg.BuyFundsCap
	if side == models.OrderSideSell {
		coin = e.rules.BaseCoin
		limit = e.cfg.SellFundsCap
	}
	available := balances[coin].Available
	if limit.IsPositive() && available.GreaterThan(limit) {
		available = limit
	}
	if e.ledger.IsInitialized(e.accountID, coin) {
		if remaining := e.ledger.Available(e.accountID, coin); remaining.LessThan(available) {
			available = remaining
		}
	}
	return available
}

// reserveFunds фиксирует наблюдаемые балансы в ledger при первой удачной
// постройке. Сёстры-пары той же валюты только регистрируются владельцами.
func (e *Engine) reserveFunds(balances map[string]exchange.Balance) {
	e.mu.Lock()
	reserved := len(e.state.Reserved) > 0
	e.mu.Unlock()
	if reserved {
		return
	}
	coins := []string{e.rules.QuoteCoin, e.rules.BaseCoin}
	for _, coin := range coins {
		e.ledger.Reserve(e.accountID, coin, balances[coin].Available)
		remaining, _ := e.ledger.Available(e.accountID, coin).Float64()
		metrics.LedgerRemaining.WithLabelValues(e.accountID, coin).Set(remaining)
	}
	e.mu.Lock()
	e.state.Reserved = coins
	e.mu.Unlock()
}

// submitBatch ставит реальные позиции батча. Неудача одного ордера
// логируется, батч продолжается; уже поставленное не откатывается.
func (e *Engine) submitBatch(ctx context.Context, batch []models.OrderData, repair bool) {
	for _, od := range batch {
		if od.Virtual {
			continue
		}
		if !e.consumeFunds(&od) {
			continue
		}
		order := models.Order{
			LinkID:      e.nextLinkID(),
			Symbol:      od.Symbol,
			Side:        od.Side,
			Type:        models.OrderTypeLimit,
			Price:       od.Price,
			Qty:         od.Qty,
			TimeInForce: "GTC",
		}
		placed, err := e.withRetryPlace(ctx, order)
		if err != nil {
			e.refundFunds(od)
			e.logEntry().WithError(err).WithFields(map[string]interface{}{
				"side":  od.Side,
				"price": od.Price,
				"qty":   od.Qty,
			}).Error("Не удалось поставить ордер, батч продолжается.")
			continue
		}
		metrics.OrdersPlaced.WithLabelValues(e.cfg.Symbol, string(od.Side)).Inc()
		if repair {
			metrics.RepairedOrders.WithLabelValues(e.cfg.Symbol).Inc()
		}
		e.log.WithOrderID(placed.ID).WithField("component", "engine").WithField("symbol", e.cfg.Symbol).Info("Ордер сетки поставлен.")
	}
}

// consumeFunds списывает средства ордера из ledger. При нехватке объём
// ужимается до остатка; если и так не проходит лимиты биржи — ордер
// пропускается с предупреждением, никогда не пересписывая.
func (e *Engine) consumeFunds(od *models.OrderData) bool {
	coin, amount := e.fundsFor(*od)
	if !e.ledger.IsInitialized(e.accountID, coin) {
		return true
	}
	if err := e.ledger.Consume(e.accountID, coin, amount); err != nil {
		metrics.LedgerRejections.WithLabelValues(e.accountID, coin).Inc()
		available := e.ledger.Available(e.accountID, coin)
		qty := available
		if od.Side == models.OrderSideBuy {
			qty = available.Div(od.Price)
		}
		qty = roundStep(qty, e.rules.LotSize)
		if !passesLimits(od.Price, qty, e.rules) {
			e.logEntry().WithFields(map[string]interface{}{
				"coin":      coin,
				"need":      amount,
				"remaining": available,
			}).Warn("Ордер пропущен: валюта занята другими парами аккаунта.")
			return false
		}
		od.Qty = qty
		_, downgraded := e.fundsFor(*od)
		if err := e.ledger.Consume(e.accountID, coin, downgraded); err != nil {
			e.logEntry().WithError(err).Warn("Ордер пропущен: валюта занята другими парами аккаунта.")
			return false
		}
		e.logEntry().WithFields(map[string]interface{}{
			"coin": coin,
			"was":  amount,
			"now":  downgraded,
		}).Warn("Объём ужат: валюта делится с другими парами аккаунта.")
	}
	remaining, _ := e.ledger.Available(e.accountID, coin).Float64()
	metrics.LedgerRemaining.WithLabelValues(e.accountID, coin).Set(remaining)
	return true
}

func (e *Engine) refundFunds(od models.OrderData) {
	coin, amount := e.fundsFor(od)
	if e.ledger.IsInitialized(e.accountID, coin) {
		e.ledger.Refund(e.accountID, coin, amount)
	}
}

func (e *Engine) fundsFor(od models.OrderData) (string, decimal.Decimal) {
	if od.Side == models.OrderSideBuy {
		return e.rules.QuoteCoin, od.Price.Mul(od.Qty)
	}
	return e.rules.BaseCoin, od.Qty
}

func (e *Engine) healthLoop(ctx context.Context) {
	interval := e.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.inFlight.Load() > 0 {
				e.logEntry().Debug("Health-check пропущен: перестройка или зеркало в полёте.")
				continue
			}
			e.OnScheduleTick(ctx)
		}
	}
}

func countReal(orders []models.OrderData) int {
	n := 0
	for _, od := range orders {
		if !od.Virtual {
			n++
		}
	}
	return n
}

// ladderEdges — края живой лестницы из отсортированных открытых ордеров.
func ladderEdges(orders []models.Order) (lowestBuy, highestSell decimal.Decimal) {
	for _, ord := range orders {
		if ord.Side == models.OrderSideBuy && (lowestBuy.IsZero() || ord.Price.LessThan(lowestBuy)) {
			lowestBuy = ord.Price
		}
		if ord.Side == models.OrderSideSell && ord.Price.GreaterThan(highestSell) {
			highestSell = ord.Price
		}
	}
	return lowestBuy, highestSell
}

func ladderEntries(orders []models.Order, side models.OrderSide) []models.LadderEntry {
	var entries []models.LadderEntry
	for _, ord := range orders {
		if ord.Side == side {
			entries = append(entries, ord.Ladder())
		}
	}
	return entries
}
