package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	chatTelegramENV   = "TELEGRAM_CHAT_ID"
	databaseDSN       = "DATABASE_DSN"
	okxAPIKeyENV      = "OKX_API_KEY"
	okxAPISecretENV   = "OKX_API_SECRET"
	okxPassphraseENV  = "OKX_PASSPHRASE"
)

// Config ...
type Config struct {
	Telegram struct {
		Token  string `mapstructure:"token"`
		ChatID int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`
	DB      string `mapstructure:"db_dsn"`
	Service struct {
		Host       string `mapstructure:"host"`
		PublicPort int    `mapstructure:"public_port"`
		// Origin деплоя. Нотификации реально уходят только когда
		// Origin == ProductionOrigin — стейджи молчат.
		Origin           string `mapstructure:"origin"`
		ProductionOrigin string `mapstructure:"production_origin"`
	} `mapstructure:"service"`

	OKX struct {
		APIKey     string `mapstructure:"api_key"`
		APISecret  string `mapstructure:"api_secret"`
		Passphrase string `mapstructure:"passphrase"`
	} `mapstructure:"okx"`

	Jaeger struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"jaeger"`

	// Цикл оценки
	TickInterval   time.Duration `mapstructure:"tick_interval"`   // дефолт 30s
	EvalWorkers    int           `mapstructure:"eval_workers"`    // ширина пула по символам
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // таймаут на любой I/O

	// Окно решения: ключ идемпотентности бакетится этим интервалом, чтобы
	// пере-оценка того же сигнала внутри окна не родила второй интент.
	DecisionWindow time.Duration `mapstructure:"decision_window"`

	// Гейты
	MaxOpenTrades      int           `mapstructure:"max_open_trades"`
	DefaultCooldown    time.Duration `mapstructure:"default_cooldown"`
	MinPriceChangePct  float64       `mapstructure:"min_price_change_pct"`
	DedupTTL           time.Duration `mapstructure:"dedup_ttl"` // секунды, антидубль на входе
	TradingEnabled     bool          `mapstructure:"trading_enabled"`
	MinNotionalUSD     float64       `mapstructure:"min_notional_usd"`

	// Оркестратор
	PlaceMaxAttempts int           `mapstructure:"place_max_attempts"`
	BackoffMin       time.Duration `mapstructure:"backoff_min"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`

	// Реконсилер / брекеты
	ReconcileInterval   time.Duration `mapstructure:"reconcile_interval"`
	ProtectGracePeriod  time.Duration `mapstructure:"protect_grace_period"`
	BracketMaxAttempts  int           `mapstructure:"bracket_max_attempts"`

	// Дефолты стратегии (файл правил может переопределить по ключу)
	StrategyRulesFile string  `mapstructure:"strategy_rules_file"`
	RSIBuyBelow       float64 `mapstructure:"rsi_buy_below"`
	RSISellAbove      float64 `mapstructure:"rsi_sell_above"`
	RSICrossLevel     float64 `mapstructure:"rsi_cross_level"`
	ATRMultSL         float64 `mapstructure:"atr_mult_sl"`
	FallbackSLPct     float64 `mapstructure:"fallback_sl_pct"`
	DefaultTPPct      float64 `mapstructure:"default_tp_pct"`
	TakeProfitRR      float64 `mapstructure:"take_profit_rr"`
	VolumeBoostFactor float64 `mapstructure:"volume_boost_factor"`
}

func NewConfig() (*Config, error) {
	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}

	v := viper.New()
	v.SetConfigFile("configs/" + configFileName)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configFileName, err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// секреты только из окружения, файл их не хранит
	if token := os.Getenv(tokenTelegramENV); token != "" {
		config.Telegram.Token = token
	}
	if chat := os.Getenv(chatTelegramENV); chat != "" {
		if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
			config.Telegram.ChatID = id
		}
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		config.DB = dsn
	}
	if key := os.Getenv(okxAPIKeyENV); key != "" {
		config.OKX.APIKey = key
	}
	if secret := os.Getenv(okxAPISecretENV); secret != "" {
		config.OKX.APISecret = secret
	}
	if pass := os.Getenv(okxPassphraseENV); pass != "" {
		config.OKX.Passphrase = pass
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.host", "0.0.0.0")
	v.SetDefault("service.public_port", 8080)
	v.SetDefault("service.origin", "local")
	v.SetDefault("service.production_origin", "prod")

	v.SetDefault("jaeger.host", "127.0.0.1")
	v.SetDefault("jaeger.port", 6831)

	v.SetDefault("tick_interval", "30s")
	v.SetDefault("eval_workers", 8)
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("decision_window", "30s")

	v.SetDefault("max_open_trades", 10)
	v.SetDefault("default_cooldown", "15m")
	v.SetDefault("min_price_change_pct", 0.2)
	v.SetDefault("dedup_ttl", "5s")
	v.SetDefault("trading_enabled", true)
	v.SetDefault("min_notional_usd", 5.0)

	v.SetDefault("place_max_attempts", 3)
	v.SetDefault("backoff_min", "500ms")
	v.SetDefault("backoff_max", "8s")

	v.SetDefault("reconcile_interval", "15s")
	v.SetDefault("protect_grace_period", "60s")
	v.SetDefault("bracket_max_attempts", 3)

	v.SetDefault("strategy_rules_file", "configs/strategies.yaml")
	v.SetDefault("rsi_buy_below", 30.0)
	v.SetDefault("rsi_sell_above", 70.0)
	v.SetDefault("rsi_cross_level", 50.0)
	v.SetDefault("atr_mult_sl", 1.5)
	v.SetDefault("fallback_sl_pct", 3.0)
	v.SetDefault("default_tp_pct", 3.0)
	v.SetDefault("take_profit_rr", 2.0)
	v.SetDefault("volume_boost_factor", 1.2)
}
