package models

import "time"

type SLTPMode string

const (
	SLTPConservative SLTPMode = "conservative"
	SLTPAggressive   SLTPMode = "aggressive"
)

// WatchlistEntry — строка конфигурации по символу. Владеет ею внешний CRUD,
// ядро каждый тик читает свежую копию из стора. Никаких кэшей между тиками:
// залипший in-memory флаг alert_enabled уже приводил к расхождению с тем,
// что оператор видит в интерфейсе.
type WatchlistEntry struct {
	ID         int64
	Symbol     string // формат OKX: "BTC-USDT-SWAP"
	ExchangeID string

	AlertEnabled     bool
	BuyAlertEnabled  bool
	SellAlertEnabled bool
	TradeEnabled     bool

	TradeAmountUSD float64
	Margin         bool
	Leverage       int

	// Override в процентах; nil => дефолты стратегии (ATR/RR).
	SLPercentage *float64
	TPPercentage *float64
	SLTPMode     SLTPMode

	// Целевая цена покупки; nil => вход по рынку без ценового фильтра.
	BuyTarget *float64

	StrategyKey string
	CooldownSec int

	UpdatedAt time.Time
}

func (w *WatchlistEntry) Cooldown() time.Duration {
	return time.Duration(w.CooldownSec) * time.Second
}
