package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

type Config struct {
	Exchange ExchangeConfig
	Grids    []GridConfig
	Runtime  RuntimeConfig
}

type ExchangeConfig struct {
	AccountID string
	ApiKey    string
	Secret    string
}

type GridConfig struct {
	Symbol                string
	LowerBound            decimal.Decimal
	UpperBound            decimal.Decimal
	SpreadPercent         decimal.Decimal
	IncrementPercent      decimal.Decimal
	Mode                  string
	OperationalDepth      int
	MirrorDelay           time.Duration
	ReinvestProfits       bool
	BuyVolumePerOrder     decimal.Decimal
	SellVolumePerOrder    decimal.Decimal
	BuyFundsCap           decimal.Decimal
	SellFundsCap          decimal.Decimal
	UseExistingOrdersOnly bool
	HealthCheckInterval   time.Duration
}

type RuntimeConfig struct {
	DryRun      bool
	MetricsAddr string
	Log         LogConfig
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

func Load() (*Config, error) {

	cfg := &Config{}
	viper.AddConfigPath("configs")
	viper.SetConfigName("config")
	viper.ReadInConfig()

	cfg.Exchange = ExchangeConfig{
		AccountID: viper.GetString("exchange.account_id"),
		ApiKey:    envSub("exchange.api_key"),
		Secret:    envSub("exchange.secret"),
	}

	for _, raw := range cast.ToSlice(viper.Get("grids")) {
		item := cast.ToStringMap(raw)
		cfg.Grids = append(cfg.Grids, GridConfig{
			Symbol:                cast.ToString(item["symbol"]),
			LowerBound:            toDecimal(item["lower_bound"]),
			UpperBound:            toDecimal(item["upper_bound"]),
			SpreadPercent:         toDecimal(item["spread_percent"]),
			IncrementPercent:      toDecimal(item["increment_percent"]),
			Mode:                  cast.ToString(item["mode"]),
			OperationalDepth:      cast.ToInt(item["operational_depth"]),
			MirrorDelay:           time.Duration(cast.ToFloat64(item["mirror_order_delay"]) * float64(time.Second)),
			ReinvestProfits:       cast.ToBool(item["reinvest_profits"]),
			BuyVolumePerOrder:     toDecimal(item["buy_volume_per_order"]),
			SellVolumePerOrder:    toDecimal(item["sell_volume_per_order"]),
			BuyFundsCap:           toDecimal(item["buy_funds"]),
			SellFundsCap:          toDecimal(item["sell_funds"]),
			UseExistingOrdersOnly: cast.ToBool(item["use_existing_orders_only"]),
			HealthCheckInterval:   time.Duration(cast.ToFloat64(item["health_check_interval"]) * float64(time.Second)),
		})
	}

	cfg.Runtime = RuntimeConfig{
		DryRun:      viper.GetBool("runtime.dry_run"),
		MetricsAddr: viper.GetString("runtime.metrics_addr"),
		Log: LogConfig{
			Level:      viper.GetString("runtime.log.level"),
			Format:     viper.GetString("runtime.log.format"),
			File:       viper.GetString("runtime.log.file"),
			MaxSize:    viper.GetInt("runtime.log.max_size"),
			MaxBackups: viper.GetInt("runtime.log.max_backups"),
			MaxAge:     viper.GetInt("runtime.log.max_age"),
			Compress:   viper.GetBool("runtime.log.compress"),
		},
	}

	return cfg, nil
}

// Validate возвращает ошибку конфигурации пары. Пара с ошибкой пропускается,
// бот продолжает работу с остальными.
func (g GridConfig) Validate() error {
	if g.Symbol == "" {
		return fmt.Errorf("не задан symbol")
	}
	if !g.LowerBound.IsPositive() || g.LowerBound.GreaterThanOrEqual(g.UpperBound) {
		return fmt.Errorf("некорректные границы: lower_bound=%s upper_bound=%s", g.LowerBound, g.UpperBound)
	}
	if !g.IncrementPercent.IsPositive() {
		return fmt.Errorf("increment_percent должен быть положительным: %s", g.IncrementPercent)
	}
	if g.IncrementPercent.GreaterThanOrEqual(g.SpreadPercent) {
		return fmt.Errorf("increment_percent >= spread_percent: %s >= %s", g.IncrementPercent, g.SpreadPercent)
	}
	if g.OperationalDepth <= 0 {
		return fmt.Errorf("operational_depth должен быть положительным: %d", g.OperationalDepth)
	}
	return nil
}

func toDecimal(val interface{}) decimal.Decimal {
	s := strings.TrimSpace(cast.ToString(val))
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func envSub(key string) string {
	val := viper.GetString(key)
	if val == "" {
		return ""
	}

	re := regexp.MustCompile(`\$\{(\w+)\}`)
	return re.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}
