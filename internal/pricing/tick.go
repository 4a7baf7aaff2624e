package pricing

import (
	"github.com/shopspring/decimal"
)

// Округление цен к шагу инструмента. Направление всегда задаёт вызывающий:
// BUY-лимитки и стоп-триггеры прижимаем вниз, цены исполнения TP — вверх.
// Возвращаем строку, отформатированную по tickSz: хвостовые нули, которых
// требует инструмент, обязаны сохраниться (биржа отклоняет "97.5" там, где
// ждёт "97.50").

func tickExponent(tickSz string) int32 {
	d, err := decimal.NewFromString(tickSz)
	if err != nil || d.IsZero() {
		return 0
	}
	return d.Exponent()
}

func RoundDownToTick(px float64, tickSz string) string {
	tick, err := decimal.NewFromString(tickSz)
	if err != nil || tick.IsZero() {
		return decimal.NewFromFloat(px).String()
	}
	p := decimal.NewFromFloat(px)
	steps := p.Div(tick).Floor()
	return steps.Mul(tick).StringFixed(-tickExponent(tickSz))
}

func RoundUpToTick(px float64, tickSz string) string {
	tick, err := decimal.NewFromString(tickSz)
	if err != nil || tick.IsZero() {
		return decimal.NewFromFloat(px).String()
	}
	p := decimal.NewFromFloat(px)
	steps := p.Div(tick).Ceil()
	return steps.Mul(tick).StringFixed(-tickExponent(tickSz))
}

// RoundSizeToLot — объём к шагу лота, всегда вниз.
func RoundSizeToLot(sz, lot float64) float64 {
	if lot <= 0 {
		return sz
	}
	l := decimal.NewFromFloat(lot)
	steps := decimal.NewFromFloat(sz).Div(l).Floor()
	f, _ := steps.Mul(l).Float64()
	return f
}
