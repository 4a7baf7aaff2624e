package service

import (
	"strings"
	"testing"

	"signal_bot/internal/models"
)

func fp(v float64) *float64 { return &v }

func baseRules() Rules {
	return Rules{
		RSIBuyBelow:       30,
		RSISellAbove:      70,
		RSICrossLevel:     20,
		TrendFilters:      false,
		ATRMultSL:         1.5,
		FallbackSLPct:     3.0,
		DefaultTPPct:      3.0,
		TakeProfitRR:      2.0,
		VolumeBoostFactor: 1.2,
	}
}

func trendingSnapshot() models.IndicatorSnapshot {
	return models.IndicatorSnapshot{
		Symbol:    "BTC-USDT",
		Price:     100,
		RSI14:     fp(25),
		ATR14:     fp(2.0),
		EMA10:     fp(98),
		MA50:      fp(99),
		MA200:     fp(90),
		Volume:    fp(1000),
		AvgVolume: fp(1000),
	}
}

func TestEvaluateBuyWithATRLevels(t *testing.T) {
	g := NewGenerator()
	snap := trendingSnapshot()
	target := 101.0
	entry := models.WatchlistEntry{Symbol: "BTC-USDT", BuyTarget: &target}

	d := g.Evaluate(snap, entry, baseRules())

	if d.Side != models.SideBuy {
		t.Fatalf("side = %s, want BUY; rationale: %v", d.Side, d.Rationale)
	}
	if d.SLPrice != 97.0 {
		t.Errorf("SL = %v, want 97.0", d.SLPrice)
	}
	if d.TPPrice != 103.0 {
		t.Errorf("TP = %v, want 103.0", d.TPPrice)
	}
	if d.TPBoosted {
		t.Error("tp_boosted must be false without volume impulse")
	}
	if len(d.Rationale) == 0 {
		t.Error("rationale must not be empty")
	}
}

func TestEvaluateBuyTPBoostToResistance(t *testing.T) {
	g := NewGenerator()
	snap := trendingSnapshot()
	snap.RSI14 = fp(68)
	snap.Volume = fp(1500)
	snap.AvgVolume = fp(1000)
	snap.ResistanceUp = fp(106)

	rules := baseRules()
	rules.RSIBuyBelow = 70 // агрессивная стратегия пускает вход на импульсе

	d := g.Evaluate(snap, models.WatchlistEntry{Symbol: "BTC-USDT"}, rules)

	if d.Side != models.SideBuy {
		t.Fatalf("side = %s, want BUY; rationale: %v", d.Side, d.Rationale)
	}
	if !d.TPBoosted {
		t.Fatal("tp_boosted must be set")
	}
	if d.TPPrice != 106 {
		t.Errorf("TP = %v, want 106 (resistance above entry*1.05)", d.TPPrice)
	}
	found := false
	for _, r := range d.Rationale {
		if strings.Contains(r, "буст") {
			found = true
		}
	}
	if !found {
		t.Errorf("rationale must mention the boost, got %v", d.Rationale)
	}
}

func TestEvaluateBuyBoostFloorWithoutResistance(t *testing.T) {
	g := NewGenerator()
	snap := trendingSnapshot()
	snap.RSI14 = fp(68)
	snap.Volume = fp(1500)
	snap.AvgVolume = fp(1000)
	snap.ResistanceUp = nil

	rules := baseRules()
	rules.RSIBuyBelow = 70

	d := g.Evaluate(snap, models.WatchlistEntry{Symbol: "BTC-USDT"}, rules)
	if d.Side != models.SideBuy || !d.TPBoosted {
		t.Fatalf("want boosted BUY, got side=%s boosted=%v", d.Side, d.TPBoosted)
	}
	if d.TPPrice != 105 {
		t.Errorf("TP = %v, want 105 (entry*1.05 floor)", d.TPPrice)
	}
}

func TestEvaluateStrictTrendFilters(t *testing.T) {
	g := NewGenerator()
	snap := trendingSnapshot()
	snap.EMA10 = fp(99)
	snap.MA50 = fp(98) // импульсная конфигурация: EMA10 над MA50

	rules := baseRules()
	rules.TrendFilters = true

	d := g.Evaluate(snap, models.WatchlistEntry{Symbol: "BTC-USDT"}, rules)
	if d.Side != models.SideBuy {
		t.Fatalf("side = %s, want BUY with strict filters; rationale: %v", d.Side, d.Rationale)
	}

	// цена под MA200 валит строгий набор
	snap.MA200 = fp(150)
	d = g.Evaluate(snap, models.WatchlistEntry{Symbol: "BTC-USDT"}, rules)
	if d.Side != models.SideWait {
		t.Fatalf("side = %s, want WAIT when price below MA200", d.Side)
	}

	// RSI ниже уровня кросса тоже валит
	snap.MA200 = fp(90)
	snap.RSI14 = fp(15)
	d = g.Evaluate(snap, models.WatchlistEntry{Symbol: "BTC-USDT"}, rules)
	if d.Side != models.SideWait {
		t.Fatalf("side = %s, want WAIT when RSI below cross level", d.Side)
	}
}

func TestEvaluateSellOnOverbought(t *testing.T) {
	g := NewGenerator()
	snap := trendingSnapshot()
	snap.RSI14 = fp(78)
	snap.Volume = fp(500)
	snap.AvgVolume = fp(1000)

	d := g.Evaluate(snap, models.WatchlistEntry{Symbol: "BTC-USDT"}, baseRules())

	if d.Side != models.SideSell {
		t.Fatalf("side = %s, want SELL", d.Side)
	}
	if !d.Exhaustion {
		t.Error("exhaustion flag must be set: RSI > 70 on below-average volume")
	}
	if d.MA10WBreak {
		t.Error("ma10w_break must not be set on the RSI path")
	}
}

func TestEvaluateSellOnWeeklyBreak(t *testing.T) {
	g := NewGenerator()
	snap := trendingSnapshot()
	snap.RSI14 = fp(45)
	snap.MA10W = fp(105) // цена 100 ниже недельной MA10
	snap.Volume = fp(1500)
	snap.AvgVolume = fp(1000)

	d := g.Evaluate(snap, models.WatchlistEntry{Symbol: "BTC-USDT"}, baseRules())

	if d.Side != models.SideSell {
		t.Fatalf("side = %s, want SELL; rationale: %v", d.Side, d.Rationale)
	}
	if !d.MA10WBreak {
		t.Error("ma10w_break must be set")
	}
}

func TestEvaluateNoWeeklyBreakOnLowVolume(t *testing.T) {
	g := NewGenerator()
	snap := trendingSnapshot()
	snap.RSI14 = fp(45)
	snap.MA10W = fp(105)
	snap.Volume = fp(1100) // ниже 1.2x среднего
	snap.AvgVolume = fp(1000)

	d := g.Evaluate(snap, models.WatchlistEntry{Symbol: "BTC-USDT"}, baseRules())
	if d.Side != models.SideWait {
		t.Fatalf("side = %s, want WAIT", d.Side)
	}
}

func TestEvaluateMissingIndicatorBlocksBuy(t *testing.T) {
	g := NewGenerator()
	snap := trendingSnapshot()
	snap.RSI14 = nil

	d := g.Evaluate(snap, models.WatchlistEntry{Symbol: "BTC-USDT"}, baseRules())

	if d.Side != models.SideWait {
		t.Fatalf("side = %s, want WAIT on missing RSI", d.Side)
	}
	if !d.DataMissing {
		t.Fatal("data_missing must be set")
	}
	found := false
	for _, r := range d.Rationale {
		if strings.Contains(r, "RSI14") {
			found = true
		}
	}
	if !found {
		t.Errorf("rationale must name the missing indicator, got %v", d.Rationale)
	}
}

func TestEvaluateMissingMA200OnlyMattersWithTrendFilters(t *testing.T) {
	g := NewGenerator()
	snap := trendingSnapshot()
	snap.MA200 = nil

	rules := baseRules()
	rules.TrendFilters = false

	d := g.Evaluate(snap, models.WatchlistEntry{Symbol: "BTC-USDT"}, rules)
	if d.Side != models.SideBuy {
		t.Fatalf("side = %s, want BUY without trend filters; rationale: %v", d.Side, d.Rationale)
	}

	rules.TrendFilters = true
	d = g.Evaluate(snap, models.WatchlistEntry{Symbol: "BTC-USDT"}, rules)
	if d.Side != models.SideWait || !d.DataMissing {
		t.Fatalf("want blocked WAIT with trend filters on, got side=%s missing=%v", d.Side, d.DataMissing)
	}
}

func TestEvaluateBuyTargetBlocks(t *testing.T) {
	g := NewGenerator()
	snap := trendingSnapshot()
	target := 99.0 // цена 100 выше цели
	entry := models.WatchlistEntry{Symbol: "BTC-USDT", BuyTarget: &target}

	d := g.Evaluate(snap, entry, baseRules())
	if d.Side != models.SideWait {
		t.Fatalf("side = %s, want WAIT when price above buy target", d.Side)
	}
}

func TestEvaluateEmptySnapshot(t *testing.T) {
	g := NewGenerator()
	d := g.Evaluate(models.IndicatorSnapshot{Symbol: "BTC-USDT"}, models.WatchlistEntry{}, baseRules())
	if d.Side != models.SideWait || !d.DataMissing {
		t.Fatalf("want blocked WAIT on empty snapshot, got side=%s missing=%v", d.Side, d.DataMissing)
	}
}
