package models

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideWait Side = "WAIT"
)

// SignalDecision — результат чистого прогона генератора по снапшоту.
// Создаётся один раз на тик на символ и не персистится сам по себе:
// дальше он входной параметр гейткипера.
type SignalDecision struct {
	Symbol  string
	Side    Side
	Price   float64 // цена входа на момент решения
	TPPrice float64
	SLPrice float64

	TPBoosted  bool
	Exhaustion bool
	MA10WBreak bool

	// DataMissing — обязательный индикатор отсутствовал; сигнал заблокирован
	// намеренно, а не вычислен по нулям.
	DataMissing bool

	// Rationale — упорядоченный список причин: каждая сработавшая и каждая
	// заблокировавшая проверка оставляет строку. Это основная поверхность
	// отладки, когда сигнал "почему-то не стрельнул".
	Rationale []string
}

func (d *SignalDecision) Actionable() bool {
	return d.Side == SideBuy || d.Side == SideSell
}
