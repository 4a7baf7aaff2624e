package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"signal_bot/internal/killswitch"
	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/reason"
	"signal_bot/internal/store"
)

// BalanceSource — свободный баланс под заявку.
type BalanceSource interface {
	AvailableUSDT(ctx context.Context) (float64, error)
}

type WatchlistSource interface {
	GetBySymbol(ctx context.Context, symbol string) (models.WatchlistEntry, error)
}

type IntentCounter interface {
	CountOpenBySymbol(ctx context.Context, symbol string) (int, error)
	CountOpenTotal(ctx context.Context) (int, error)
}

type ThrottleSource interface {
	Get(ctx context.Context, symbol string) (models.ThrottleState, error)
}

// Verdict — результат прохода гейткипера. Пустой Reason значит "пропущено
// дальше, к оркестратору".
type Verdict struct {
	Reason  reason.Code
	Message string
}

func (v Verdict) Passed() bool { return v.Reason == "" }

// Gatekeeper — последовательные короткозамыкающие проверки поверх свежей
// строки watchlist. Никаких кэшей: каждая проверка читает стор заново,
// чтобы решение совпадало с тем, что оператор видит в интерфейсе прямо
// сейчас.
type Gatekeeper struct {
	cfg      *config.Config
	ks       *killswitch.Switch
	watch    WatchlistSource
	intents  IntentCounter
	throttle ThrottleSource
	balance  BalanceSource
}

func NewGatekeeper(
	cfg *config.Config,
	ks *killswitch.Switch,
	watch WatchlistSource,
	intents IntentCounter,
	throttle ThrottleSource,
	balance BalanceSource,
) *Gatekeeper {
	return &Gatekeeper{
		cfg:      cfg,
		ks:       ks,
		watch:    watch,
		intents:  intents,
		throttle: throttle,
		balance:  balance,
	}
}

// Check гоняет решение через все гейты. Свежая строка watchlist возвращается
// вызывающему: оркестратору нужны её суммы и override-проценты.
func (g *Gatekeeper) Check(ctx context.Context, d models.SignalDecision) (models.WatchlistEntry, Verdict, error) {
	// kill-switch первым: выключенная торговля короткозамыкает всё
	if !g.ks.TradingEnabled() {
		return models.WatchlistEntry{}, Verdict{
			Reason:  reason.GuardrailBlocked,
			Message: "торговля выключена глобальным kill-switch",
		}, nil
	}

	entry, err := g.watch.GetBySymbol(ctx, d.Symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.WatchlistEntry{}, Verdict{
				Reason:  reason.DataMissing,
				Message: "символ исчез из watchlist между снапшотом и решением",
			}, nil
		}
		return models.WatchlistEntry{}, Verdict{}, err
	}

	if d.DataMissing || d.Price <= 0 {
		return entry, Verdict{
			Reason:  reason.DataMissing,
			Message: "решение построено на неполном снапшоте",
		}, nil
	}

	if v := g.checkFlags(entry, d.Side); !v.Passed() {
		return entry, v, nil
	}

	if v, err := g.checkThrottle(ctx, entry, d.Price); err != nil {
		return entry, Verdict{}, err
	} else if !v.Passed() {
		return entry, v, nil
	}

	if v, err := g.checkOpenOrders(ctx, entry.Symbol); err != nil {
		return entry, Verdict{}, err
	} else if !v.Passed() {
		return entry, v, nil
	}

	if v := g.checkPriceRange(entry, d); !v.Passed() {
		return entry, v, nil
	}

	if v, err := g.checkFunds(ctx, entry); err != nil {
		return entry, Verdict{}, err
	} else if !v.Passed() {
		return entry, v, nil
	}

	return entry, Verdict{}, nil
}

func (g *Gatekeeper) checkFlags(entry models.WatchlistEntry, side models.Side) Verdict {
	if !entry.AlertEnabled {
		return Verdict{Reason: reason.AlertDisabled, Message: "алерты по символу выключены"}
	}
	if side == models.SideBuy && !entry.BuyAlertEnabled {
		return Verdict{Reason: reason.AlertDisabled, Message: "BUY-алерты по символу выключены"}
	}
	if side == models.SideSell && !entry.SellAlertEnabled {
		return Verdict{Reason: reason.AlertDisabled, Message: "SELL-алерты по символу выключены"}
	}
	if !entry.TradeEnabled {
		return Verdict{Reason: reason.TradeDisabled, Message: "торговля по символу выключена"}
	}
	return Verdict{}
}

func (g *Gatekeeper) checkThrottle(ctx context.Context, entry models.WatchlistEntry, price float64) (Verdict, error) {
	st, err := g.throttle.Get(ctx, entry.Symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Verdict{}, nil // первый сигнал по символу
		}
		return Verdict{}, err
	}

	cooldown := entry.Cooldown()
	if cooldown <= 0 {
		cooldown = g.cfg.DefaultCooldown
	}
	if since := time.Since(st.LastAlertAt); since < cooldown {
		return Verdict{
			Reason:  reason.CooldownActive,
			Message: fmt.Sprintf("кулдаун ещё %s из %s", (cooldown - since).Round(time.Second), cooldown),
		}, nil
	}

	// кулдаун вышел, но цена почти не сдвинулась: это тот же сетап
	if st.PreviousPrice > 0 && g.cfg.MinPriceChangePct > 0 {
		changePct := math.Abs(price-st.PreviousPrice) / st.PreviousPrice * 100
		if changePct < g.cfg.MinPriceChangePct {
			return Verdict{
				Reason: reason.ThrottledDuplicateAlert,
				Message: fmt.Sprintf("цена сдвинулась на %.2f%% < %.2f%% с прошлого алерта",
					changePct, g.cfg.MinPriceChangePct),
			}, nil
		}
	}
	return Verdict{}, nil
}

func (g *Gatekeeper) checkOpenOrders(ctx context.Context, symbol string) (Verdict, error) {
	n, err := g.intents.CountOpenBySymbol(ctx, symbol)
	if err != nil {
		return Verdict{}, err
	}
	if n > 0 {
		return Verdict{
			Reason:  reason.AlreadyHasOpenOrder,
			Message: fmt.Sprintf("по символу уже %d незакрытых интентов", n),
		}, nil
	}

	total, err := g.intents.CountOpenTotal(ctx)
	if err != nil {
		return Verdict{}, err
	}
	if total >= g.cfg.MaxOpenTrades {
		return Verdict{
			Reason:  reason.MaxOpenTradesReached,
			Message: fmt.Sprintf("открыто %d из %d позиций", total, g.cfg.MaxOpenTrades),
		}, nil
	}
	return Verdict{}, nil
}

// checkPriceRange перепроверяет ценовой фильтр по СВЕЖЕЙ строке: цель могла
// поменяться после прогона генератора.
func (g *Gatekeeper) checkPriceRange(entry models.WatchlistEntry, d models.SignalDecision) Verdict {
	if d.Side == models.SideBuy && entry.BuyTarget != nil && d.Price > *entry.BuyTarget {
		return Verdict{
			Reason:  reason.PriceNotInRange,
			Message: fmt.Sprintf("цена %.4f выше цели покупки %.4f", d.Price, *entry.BuyTarget),
		}
	}
	return Verdict{}
}

func (g *Gatekeeper) checkFunds(ctx context.Context, entry models.WatchlistEntry) (Verdict, error) {
	if entry.TradeAmountUSD <= 0 {
		return Verdict{
			Reason:  reason.InvalidTradeAmount,
			Message: fmt.Sprintf("сумма сделки %.2f USD невалидна", entry.TradeAmountUSD),
		}, nil
	}
	if entry.TradeAmountUSD < g.cfg.MinNotionalUSD {
		return Verdict{
			Reason:  reason.MinNotionalNotMet,
			Message: fmt.Sprintf("сумма %.2f USD ниже минимального нотионала %.2f", entry.TradeAmountUSD, g.cfg.MinNotionalUSD),
		}, nil
	}

	avail, err := g.balance.AvailableUSDT(ctx)
	if err != nil {
		return Verdict{}, err
	}
	if avail < entry.TradeAmountUSD {
		return Verdict{
			Reason:  reason.InsufficientAvailableBalance,
			Message: fmt.Sprintf("свободно %.2f USDT, нужно %.2f", avail, entry.TradeAmountUSD),
		}, nil
	}
	return Verdict{}, nil
}
