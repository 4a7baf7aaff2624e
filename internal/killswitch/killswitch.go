package killswitch

import "sync/atomic"

// Switch — общий выключатель создания новых интентов. Гейткипер читает его
// в начале каждого прохода, диагностический эндпоинт переключает. Защита
// уже открытых позиций (реконсилер, брекеты, автозакрытие) его не слушает
// и не останавливается никогда.
type Switch struct {
	enabled atomic.Bool
}

func New(enabled bool) *Switch {
	s := &Switch{}
	s.enabled.Store(enabled)
	return s
}

func (s *Switch) TradingEnabled() bool { return s.enabled.Load() }

func (s *Switch) Set(enabled bool) { s.enabled.Store(enabled) }
