package models

import "time"

// IndicatorSnapshot — срез рынка по символу на момент тика. Живёт один тик.
// Отсутствующий индикатор — это nil, а не ноль: генератор обязан различать
// "значения нет" и "значение нулевое".
type IndicatorSnapshot struct {
	Symbol string
	Price  float64

	RSI14        *float64
	ATR14        *float64
	Volume       *float64
	AvgVolume    *float64
	EMA10        *float64
	MA50         *float64
	MA200        *float64
	MA10W        *float64
	ResistanceUp *float64

	Timestamp time.Time
}
