package service

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"

	"signal_bot/internal/modules/config"
)

// Rules — пороги стратегии для одного ключа. Файл правил переопределяет
// дефолты из конфига по-полю, незаполненные поля наследуют дефолт.
type Rules struct {
	RSIBuyBelow   float64
	RSISellAbove  float64
	RSICrossLevel float64

	// TrendFilters включает строгие фильтры входа:
	// price > MA200, EMA10 > MA50, RSI >= cross_level, close > EMA10.
	TrendFilters bool

	ATRMultSL         float64
	FallbackSLPct     float64
	DefaultTPPct      float64
	TakeProfitRR      float64
	VolumeBoostFactor float64
}

// ruleOverride — yaml-слой поверх дефолтов. Числа с нулём наследуют дефолт,
// trend_filters указателем: nil значит "не трогать", а не "выключить".
type ruleOverride struct {
	RSIBuyBelow   float64 `yaml:"rsi_buy_below"`
	RSISellAbove  float64 `yaml:"rsi_sell_above"`
	RSICrossLevel float64 `yaml:"rsi_cross_level"`

	TrendFilters *bool `yaml:"trend_filters"`

	ATRMultSL         float64 `yaml:"atr_mult_sl"`
	FallbackSLPct     float64 `yaml:"fallback_sl_pct"`
	DefaultTPPct      float64 `yaml:"default_tp_pct"`
	TakeProfitRR      float64 `yaml:"take_profit_rr"`
	VolumeBoostFactor float64 `yaml:"volume_boost_factor"`
}

type rulesFile struct {
	Strategies map[string]ruleOverride `yaml:"strategies"`
}

// RuleSet отдаёт правила по ключу стратегии из watchlist-строки.
type RuleSet struct {
	defaults Rules
	byKey    map[string]Rules
}

func NewRuleSet(cfg *config.Config) (*RuleSet, error) {
	defaults := Rules{
		RSIBuyBelow:       cfg.RSIBuyBelow,
		RSISellAbove:      cfg.RSISellAbove,
		RSICrossLevel:     cfg.RSICrossLevel,
		TrendFilters:      true,
		ATRMultSL:         cfg.ATRMultSL,
		FallbackSLPct:     cfg.FallbackSLPct,
		DefaultTPPct:      cfg.DefaultTPPct,
		TakeProfitRR:      cfg.TakeProfitRR,
		VolumeBoostFactor: cfg.VolumeBoostFactor,
	}

	rs := &RuleSet{defaults: defaults, byKey: map[string]Rules{}}

	if cfg.StrategyRulesFile == "" {
		return rs, nil
	}
	data, err := os.ReadFile(cfg.StrategyRulesFile)
	if err != nil {
		if os.IsNotExist(err) {
			return rs, nil
		}
		return nil, fmt.Errorf("read strategy rules: %w", err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse strategy rules: %w", err)
	}

	for key, r := range f.Strategies {
		rs.byKey[key] = mergeRules(defaults, r)
	}
	return rs, nil
}

func (rs *RuleSet) Lookup(key string) Rules {
	if r, ok := rs.byKey[key]; ok {
		return r
	}
	return rs.defaults
}

func mergeRules(base Rules, over ruleOverride) Rules {
	out := base
	if over.RSIBuyBelow > 0 {
		out.RSIBuyBelow = over.RSIBuyBelow
	}
	if over.RSISellAbove > 0 {
		out.RSISellAbove = over.RSISellAbove
	}
	if over.RSICrossLevel > 0 {
		out.RSICrossLevel = over.RSICrossLevel
	}
	if over.TrendFilters != nil {
		out.TrendFilters = *over.TrendFilters
	}
	if over.ATRMultSL > 0 {
		out.ATRMultSL = over.ATRMultSL
	}
	if over.FallbackSLPct > 0 {
		out.FallbackSLPct = over.FallbackSLPct
	}
	if over.DefaultTPPct > 0 {
		out.DefaultTPPct = over.DefaultTPPct
	}
	if over.TakeProfitRR > 0 {
		out.TakeProfitRR = over.TakeProfitRR
	}
	if over.VolumeBoostFactor > 0 {
		out.VolumeBoostFactor = over.VolumeBoostFactor
	}
	return out
}
