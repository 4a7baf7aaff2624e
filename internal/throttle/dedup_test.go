package throttle

import (
	"testing"
	"time"
)

func TestDedupBlocksWithinTTL(t *testing.T) {
	d := NewDedup(50 * time.Millisecond)

	if !d.Acquire("BTC-USDT") {
		t.Fatal("first acquire must pass")
	}
	if d.Acquire("BTC-USDT") {
		t.Fatal("second acquire within TTL must be blocked")
	}
	if !d.Acquire("ETH-USDT") {
		t.Fatal("different symbol must not be affected")
	}

	time.Sleep(60 * time.Millisecond)
	if !d.Acquire("BTC-USDT") {
		t.Fatal("acquire after TTL must pass")
	}
}

func TestDedupConcurrentSingleWinner(t *testing.T) {
	d := NewDedup(time.Second)

	const n = 16
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() { wins <- d.Acquire("SOL-USDT") }()
	}

	got := 0
	for i := 0; i < n; i++ {
		if <-wins {
			got++
		}
	}
	if got != 1 {
		t.Fatalf("winners = %d, want exactly 1", got)
	}
}
