package service

import (
	"os"
	"path/filepath"
	"testing"

	"signal_bot/internal/modules/config"
)

func boolOf(v bool) *bool { return &v }

func defaultsWithFilters() Rules {
	return Rules{
		RSIBuyBelow:       30,
		RSISellAbove:      70,
		RSICrossLevel:     50,
		TrendFilters:      true,
		ATRMultSL:         1.5,
		FallbackSLPct:     3.0,
		DefaultTPPct:      3.0,
		TakeProfitRR:      2.0,
		VolumeBoostFactor: 1.2,
	}
}

// Стратегия, не упоминающая trend_filters, наследует дефолт, а не молча
// выключает строгие фильтры.
func TestMergeRulesOmittedTrendFiltersInherits(t *testing.T) {
	got := mergeRules(defaultsWithFilters(), ruleOverride{RSIBuyBelow: 25})

	if !got.TrendFilters {
		t.Fatal("omitted trend_filters must inherit the enabled default")
	}
	if got.RSIBuyBelow != 25 {
		t.Errorf("rsi_buy_below = %v, want override 25", got.RSIBuyBelow)
	}
	if got.ATRMultSL != 1.5 {
		t.Errorf("atr_mult_sl = %v, want inherited 1.5", got.ATRMultSL)
	}
}

func TestMergeRulesExplicitTrendFilters(t *testing.T) {
	if got := mergeRules(defaultsWithFilters(), ruleOverride{TrendFilters: boolOf(false)}); got.TrendFilters {
		t.Fatal("explicit false must disable the filters")
	}

	base := defaultsWithFilters()
	base.TrendFilters = false
	if got := mergeRules(base, ruleOverride{TrendFilters: boolOf(true)}); !got.TrendFilters {
		t.Fatal("explicit true must enable the filters over a disabled default")
	}
}

func TestMergeRulesZeroNumbersInherit(t *testing.T) {
	got := mergeRules(defaultsWithFilters(), ruleOverride{})
	if got != defaultsWithFilters() {
		t.Fatalf("empty override must leave defaults intact, got %+v", got)
	}
}

func TestNewRuleSetFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	body := `strategies:
  conservative:
    rsi_buy_below: 25
  momentum:
    rsi_buy_below: 70
    trend_filters: false
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{StrategyRulesFile: path}
	cfg.RSIBuyBelow = 30
	cfg.RSISellAbove = 70
	cfg.RSICrossLevel = 50

	rs, err := NewRuleSet(cfg)
	if err != nil {
		t.Fatalf("rule set: %v", err)
	}

	if r := rs.Lookup("conservative"); !r.TrendFilters || r.RSIBuyBelow != 25 {
		t.Fatalf("conservative = %+v, want inherited filters and rsi 25", r)
	}
	if r := rs.Lookup("momentum"); r.TrendFilters {
		t.Fatal("momentum explicitly disables the filters")
	}
	if r := rs.Lookup("unknown-key"); !r.TrendFilters || r.RSIBuyBelow != 30 {
		t.Fatalf("unknown key must fall back to defaults, got %+v", r)
	}
}
