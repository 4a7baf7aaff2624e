package throttle

import (
	"sync"
	"time"
)

// Dedup — короткий антидубль на входе в оценку. Перекрывающиеся циклы
// опроса могут привести один и тот же символ на оценку почти одновременно;
// второй заход в пределах TTL отбрасывается ещё до генератора. Это
// независимый механизм от кулдауна: тот живёт в сторе и меряется минутами.
type Dedup struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		ttl:  ttl,
		seen: make(map[string]time.Time),
	}
}

// Acquire возвращает true, если символ свободен, и занимает его на TTL.
func (d *Dedup) Acquire(symbol string) bool {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[symbol]; ok && now.Sub(at) < d.ttl {
		return false
	}
	d.seen[symbol] = now

	// попутная уборка протухших записей, карта маленькая
	for s, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, s)
		}
	}
	return true
}
