package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"

	"gridbot/internal/config"
	"gridbot/internal/engine"
	"gridbot/internal/exchange"
	"gridbot/internal/exchange/paper"
	"gridbot/internal/funds"
	"gridbot/internal/logger"
	"gridbot/internal/metrics"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})

	logger.Info("Бот запущен.")

	if cfg.Runtime.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.Runtime.MetricsAddr, mux); err != nil {
				logger.WithError(err).Error("Сервер метрик завершился с ошибкой.")
			}
		}()
	}

	var client exchange.Client
	if cfg.Runtime.DryRun {
		client = newPaperClient(cfg)
		logger.Info("Режим dry-run: используется бумажная биржа.")
	} else {
		logger.Fatal("Живая биржа не сконфигурирована, включите runtime.dry_run.")
	}

	supervisor := engine.NewSupervisor(cfg, client, funds.NewLedger(), logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := supervisor.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Ни одна сетка не запустилась.")
	}
	<-sigCh

	cancel()
	supervisor.Stop()

	logger.Info("Бот остановлен.")
}

// newPaperClient собирает бумажную биржу из конфигурации: правила пары с
// типовыми шагами и балансы в размере настроенных капов.
func newPaperClient(cfg *config.Config) *paper.Client {
	client := paper.New()
	for _, grid := range cfg.Grids {
		base, quote := splitSymbol(grid.Symbol)
		client.SetRules(grid.Symbol, exchange.InstrumentRules{
			TickSize:  decimal.New(1, -8),
			LotSize:   decimal.New(1, -8),
			MinQty:    decimal.New(1, -8),
			BaseCoin:  base,
			QuoteCoin: quote,
		})
		if grid.BuyFundsCap.IsPositive() {
			client.SetBalance(quote, grid.BuyFundsCap)
		}
		if grid.SellFundsCap.IsPositive() {
			client.SetBalance(base, grid.SellFundsCap)
		}
	}
	return client
}

func splitSymbol(symbol string) (base, quote string) {
	for _, suffix := range []string{"USDT", "USDC", "BUSD", "USD", "BTC", "ETH"} {
		if strings.HasSuffix(symbol, suffix) && len(symbol) > len(suffix) {
			return strings.TrimSuffix(symbol, suffix), suffix
		}
	}
	return symbol, "USDT"
}
