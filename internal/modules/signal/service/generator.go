package service

import (
	"fmt"

	"signal_bot/internal/models"
)

// Generator — чистая функция над снапшотом: никакого I/O, никакого состояния.
// Каждая сработавшая и каждая заблокировавшая проверка оставляет строку в
// rationale, по ней потом разбирают "почему не стрельнуло".
type Generator struct{}

func NewGenerator() *Generator { return &Generator{} }

func (g *Generator) Evaluate(snap models.IndicatorSnapshot, entry models.WatchlistEntry, rules Rules) models.SignalDecision {
	d := models.SignalDecision{
		Symbol: snap.Symbol,
		Side:   models.SideWait,
		Price:  snap.Price,
	}

	if snap.Price <= 0 {
		d.DataMissing = true
		d.Rationale = append(d.Rationale, "нет цены: снапшот пустой, сигнал заблокирован")
		return d
	}

	// SELL смотрим первым: перекупленность и слом тренда важнее входа
	if g.evaluateSell(snap, rules, &d) {
		return d
	}

	if g.evaluateBuy(snap, entry, rules, &d) {
		g.computeBuyLevels(snap, rules, &d)
	}
	return d
}

// evaluateSell: RSI > sellAbove, либо закрытие ниже недельной MA10 на
// повышенном объёме (структурный слом, помечается отдельным флагом).
func (g *Generator) evaluateSell(snap models.IndicatorSnapshot, rules Rules, d *models.SignalDecision) bool {
	if snap.RSI14 != nil && *snap.RSI14 > rules.RSISellAbove {
		d.Side = models.SideSell
		d.Rationale = append(d.Rationale,
			fmt.Sprintf("SELL: RSI %.1f > %.1f, перекупленность", *snap.RSI14, rules.RSISellAbove))
		g.markExhaustion(snap, d)
		return true
	}

	if snap.MA10W != nil && snap.Volume != nil && snap.AvgVolume != nil &&
		snap.Price < *snap.MA10W && *snap.Volume > rules.VolumeBoostFactor*(*snap.AvgVolume) {
		d.Side = models.SideSell
		d.MA10WBreak = true
		d.Rationale = append(d.Rationale,
			fmt.Sprintf("SELL: закрытие %.4f ниже MA10W %.4f на объёме %.0f > %.1fx среднего, слом тренда",
				snap.Price, *snap.MA10W, *snap.Volume, rules.VolumeBoostFactor))
		return true
	}
	return false
}

func (g *Generator) evaluateBuy(snap models.IndicatorSnapshot, entry models.WatchlistEntry, rules Rules, d *models.SignalDecision) bool {
	// обязательные индикаторы: отсутствие любого блокирует сигнал,
	// нулём не подменяем
	if snap.RSI14 == nil {
		d.DataMissing = true
		d.Rationale = append(d.Rationale, "BUY заблокирован: нет RSI14")
		return false
	}
	if snap.EMA10 == nil {
		d.DataMissing = true
		d.Rationale = append(d.Rationale, "BUY заблокирован: нет EMA10")
		return false
	}
	if snap.MA50 == nil {
		d.DataMissing = true
		d.Rationale = append(d.Rationale, "BUY заблокирован: нет MA50")
		return false
	}
	if rules.TrendFilters && snap.MA200 == nil {
		d.DataMissing = true
		d.Rationale = append(d.Rationale, "BUY заблокирован: нет MA200 при включённых трендовых фильтрах")
		return false
	}

	rsi := *snap.RSI14
	if rsi >= rules.RSIBuyBelow {
		d.Rationale = append(d.Rationale,
			fmt.Sprintf("BUY не прошёл: RSI %.1f >= %.1f", rsi, rules.RSIBuyBelow))
		return false
	}
	d.Rationale = append(d.Rationale,
		fmt.Sprintf("RSI %.1f < %.1f: перепроданность", rsi, rules.RSIBuyBelow))

	if entry.BuyTarget != nil {
		if snap.Price > *entry.BuyTarget {
			d.Rationale = append(d.Rationale,
				fmt.Sprintf("BUY не прошёл: цена %.4f выше цели %.4f", snap.Price, *entry.BuyTarget))
			return false
		}
		d.Rationale = append(d.Rationale,
			fmt.Sprintf("цена %.4f <= цели %.4f", snap.Price, *entry.BuyTarget))
	}

	// базовая структурная проверка и строгие фильтры взаимоисключающие:
	// при включённых фильтрах действует их набор целиком
	if !rules.TrendFilters {
		if *snap.MA50 <= *snap.EMA10 {
			d.Rationale = append(d.Rationale,
				fmt.Sprintf("BUY не прошёл: MA50 %.4f <= EMA10 %.4f, нет структурного аптренда", *snap.MA50, *snap.EMA10))
			return false
		}
		d.Rationale = append(d.Rationale,
			fmt.Sprintf("MA50 %.4f > EMA10 %.4f: структурный аптренд", *snap.MA50, *snap.EMA10))
	}

	if rules.TrendFilters {
		if snap.Price <= *snap.MA200 {
			d.Rationale = append(d.Rationale,
				fmt.Sprintf("BUY не прошёл: цена %.4f не выше MA200 %.4f", snap.Price, *snap.MA200))
			return false
		}
		if *snap.EMA10 <= *snap.MA50 {
			d.Rationale = append(d.Rationale,
				fmt.Sprintf("BUY не прошёл: EMA10 %.4f не выше MA50 %.4f", *snap.EMA10, *snap.MA50))
			return false
		}
		// по принятому решению проверка мгновенная, не истинный кросс
		if rsi < rules.RSICrossLevel {
			d.Rationale = append(d.Rationale,
				fmt.Sprintf("BUY не прошёл: RSI %.1f ниже уровня %.1f", rsi, rules.RSICrossLevel))
			return false
		}
		if snap.Price <= *snap.EMA10 {
			d.Rationale = append(d.Rationale,
				fmt.Sprintf("BUY не прошёл: закрытие %.4f не выше EMA10 %.4f", snap.Price, *snap.EMA10))
			return false
		}
		d.Rationale = append(d.Rationale, "трендовые фильтры пройдены")
	}

	d.Side = models.SideBuy
	return true
}

func (g *Generator) computeBuyLevels(snap models.IndicatorSnapshot, rules Rules, d *models.SignalDecision) {
	entry := snap.Price

	if snap.ATR14 != nil {
		d.SLPrice = entry - rules.ATRMultSL*(*snap.ATR14)
		d.Rationale = append(d.Rationale,
			fmt.Sprintf("SL %.4f = вход - %.1fxATR(%.4f)", d.SLPrice, rules.ATRMultSL, *snap.ATR14))
	} else {
		d.SLPrice = entry * (1 - rules.FallbackSLPct/100)
		d.Rationale = append(d.Rationale,
			fmt.Sprintf("SL %.4f = вход - %.1f%% (ATR нет, fallback)", d.SLPrice, rules.FallbackSLPct))
	}

	d.TPPrice = entry * (1 + rules.DefaultTPPct/100)
	d.Rationale = append(d.Rationale,
		fmt.Sprintf("TP %.4f = вход + %.1f%%", d.TPPrice, rules.DefaultTPPct))

	// буст TP: RSI в [65,75] на объёме выше среднего — импульс,
	// цель тянем к сопротивлению
	if snap.RSI14 != nil && *snap.RSI14 >= 65 && *snap.RSI14 <= 75 &&
		snap.Volume != nil && snap.AvgVolume != nil &&
		*snap.Volume > rules.VolumeBoostFactor*(*snap.AvgVolume) {
		boosted := entry * 1.05
		if snap.ResistanceUp != nil && *snap.ResistanceUp > boosted {
			boosted = *snap.ResistanceUp
		}
		d.TPPrice = boosted
		d.TPBoosted = true
		d.Rationale = append(d.Rationale,
			fmt.Sprintf("TP буст до %.4f: RSI %.1f в [65,75] на объёме > %.1fx среднего",
				boosted, *snap.RSI14, rules.VolumeBoostFactor))
	}

	g.markExhaustion(snap, d)
}

// markExhaustion — информационный флаг, ничего не блокирует.
func (g *Generator) markExhaustion(snap models.IndicatorSnapshot, d *models.SignalDecision) {
	if snap.RSI14 != nil && *snap.RSI14 > 70 &&
		snap.Volume != nil && snap.AvgVolume != nil && *snap.Volume < *snap.AvgVolume {
		d.Exhaustion = true
		d.Rationale = append(d.Rationale,
			fmt.Sprintf("истощение: RSI %.1f > 70 при объёме ниже среднего", *snap.RSI14))
	}
}
