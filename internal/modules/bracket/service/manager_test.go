package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	okx "signal_bot/internal/modules/okx_client/service"
	"signal_bot/internal/notify"
	"signal_bot/internal/store"
	"signal_bot/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeExchange struct {
	meta models.Instrument

	algoCalls    int
	algoErrs     int // столько первых PlaceAlgo падает
	placedAlgos  []okx.AlgoOrderRequest
	cancelledIDs []string
	cancelErr    error

	closeCalls int
	closeErr   error
	closeQty   float64
}

func (f *fakeExchange) GetInstrumentMeta(_ context.Context, _ string) (models.Instrument, error) {
	return f.meta, nil
}

func (f *fakeExchange) PlaceAlgo(_ context.Context, r okx.AlgoOrderRequest) (string, error) {
	f.algoCalls++
	if f.algoCalls <= f.algoErrs {
		return "", errors.New("http 503: exchange down")
	}
	f.placedAlgos = append(f.placedAlgos, r)
	if r.IsTP {
		return "algo-tp", nil
	}
	return "algo-sl", nil
}

func (f *fakeExchange) CancelAlgo(_ context.Context, _, algoID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelledIDs = append(f.cancelledIDs, algoID)
	return nil
}

func (f *fakeExchange) CloseMarket(_ context.Context, _, _ string, qty float64, _ string) (string, error) {
	f.closeCalls++
	f.closeQty = qty
	if f.closeErr != nil {
		return "", f.closeErr
	}
	return "close-1", nil
}

type fakeWatchlist struct {
	entry models.WatchlistEntry
}

func (f *fakeWatchlist) GetBySymbol(_ context.Context, _ string) (models.WatchlistEntry, error) {
	return f.entry, nil
}

type fakeSnaps struct {
	atr *float64
}

func (f *fakeSnaps) Snapshot(_ context.Context, symbol string) (models.IndicatorSnapshot, error) {
	return models.IndicatorSnapshot{Symbol: symbol, Price: 100, ATR14: f.atr}, nil
}

type fakeOrders struct {
	rows     map[string]*models.ExchangeOrder
	inserted []models.ExchangeOrder
}

func newFakeOrders(rows ...models.ExchangeOrder) *fakeOrders {
	f := &fakeOrders{rows: map[string]*models.ExchangeOrder{}}
	for i := range rows {
		r := rows[i]
		f.rows[r.ExchangeOrderID] = &r
	}
	return f
}

func (f *fakeOrders) Insert(_ context.Context, o *models.ExchangeOrder) error {
	f.inserted = append(f.inserted, *o)
	f.rows[o.ExchangeOrderID] = o
	return nil
}

func (f *fakeOrders) ListUnprotectedFills(_ context.Context, _ time.Duration) ([]models.ExchangeOrder, error) {
	return nil, nil
}

func (f *fakeOrders) ListActiveLegs(_ context.Context, intentID int64) ([]models.ExchangeOrder, error) {
	var out []models.ExchangeOrder
	for _, r := range f.rows {
		if r.IntentID != intentID || r.Role == models.RoleEntry {
			continue
		}
		if r.Status == models.OrderNew || r.Status == models.OrderActive {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeOrders) UpdateStatusFresh(_ context.Context, id string, apply func(*models.ExchangeOrder)) error {
	r, ok := f.rows[id]
	if !ok {
		return store.ErrNotFound
	}
	apply(r)
	return nil
}

type fakeNotifier struct {
	events []notify.Event
}

func (f *fakeNotifier) Notify(_ context.Context, ev notify.Event) {
	f.events = append(f.events, ev)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ReconcileInterval = time.Second
	cfg.ProtectGracePeriod = time.Minute
	cfg.BracketMaxAttempts = 3
	cfg.ATRMultSL = 1.5
	cfg.FallbackSLPct = 3.0
	cfg.TakeProfitRR = 2.0
	return cfg
}

func filledEntry() models.ExchangeOrder {
	return models.ExchangeOrder{
		ExchangeOrderID:    "ord-1",
		IntentID:           1,
		Symbol:             "BTC-USDT",
		Side:               models.SideBuy,
		Status:             models.OrderFilled,
		Role:               models.RoleEntry,
		RequestedQuantity:  1.0,
		CumulativeQuantity: 1.0,
		AvgFillPrice:       100,
	}
}

func newTestManager(ex *fakeExchange, wl models.WatchlistEntry, atr *float64) (*Manager, *fakeOrders, *fakeNotifier) {
	if ex.meta.TickSz == "" {
		ex.meta = models.Instrument{InstID: "BTC-USDT", TickSz: "0.01", LotSz: 0.0001}
	}
	orders := newFakeOrders(filledEntry())
	notifier := &fakeNotifier{}
	m := NewManager(testConfig(), ex, &fakeWatchlist{entry: wl}, &fakeSnaps{atr: atr}, orders, notifier)
	return m, orders, notifier
}

func atrOf(v float64) *float64 { return &v }

func TestProtectPlacesBothLegs(t *testing.T) {
	ex := &fakeExchange{}
	m, orders, notifier := newTestManager(ex, models.WatchlistEntry{Symbol: "BTC-USDT"}, atrOf(2.0))

	m.Protect(context.Background(), filledEntry())

	if len(ex.placedAlgos) != 2 {
		t.Fatalf("placed %d algos, want SL+TP", len(ex.placedAlgos))
	}
	sl, tp := ex.placedAlgos[0], ex.placedAlgos[1]
	if sl.IsTP || !tp.IsTP {
		t.Fatal("SL must be placed first, then TP")
	}
	// SL = 100 - 1.5*2 = 97, вниз к тику; TP = 100 + 2*(100-97) = 106, вверх
	if sl.TriggerPx != "97.00" {
		t.Errorf("SL trigger = %q, want \"97.00\" with trailing zeros", sl.TriggerPx)
	}
	if tp.TriggerPx != "106.00" {
		t.Errorf("TP trigger = %q, want \"106.00\"", tp.TriggerPx)
	}
	if sl.Side != "sell" || tp.Side != "sell" {
		t.Error("close side for a long entry is sell")
	}

	if !orders.rows["ord-1"].Protected {
		t.Fatal("entry order must be marked protected")
	}
	if len(orders.inserted) != 2 {
		t.Fatalf("leg projections = %d, want 2", len(orders.inserted))
	}
	if len(notifier.events) != 1 || notifier.events[0].Severity != notify.SeverityInfo {
		t.Fatalf("want a single INFO about placed brackets, got %+v", notifier.events)
	}
	if ex.closeCalls != 0 {
		t.Fatal("no auto-close on the happy path")
	}
}

func TestProtectOverridesBeatDefaults(t *testing.T) {
	ex := &fakeExchange{}
	slPct, tpPct := 5.0, 10.0
	wl := models.WatchlistEntry{Symbol: "BTC-USDT", SLPercentage: &slPct, TPPercentage: &tpPct}
	m, _, _ := newTestManager(ex, wl, atrOf(2.0))

	m.Protect(context.Background(), filledEntry())

	if len(ex.placedAlgos) != 2 {
		t.Fatalf("placed %d algos", len(ex.placedAlgos))
	}
	if got := ex.placedAlgos[0].TriggerPx; got != "95.00" {
		t.Errorf("SL = %q, want \"95.00\" from the 5%% override", got)
	}
	if got := ex.placedAlgos[1].TriggerPx; got != "110.00" {
		t.Errorf("TP = %q, want \"110.00\" from the 10%% override", got)
	}
}

// Сценарий: три подряд неудачных попытки защиты. Итог: рыночное автозакрытие
// на весь залитый объём и ровно три CRITICAL (отказ, попытка, исход).
func TestProtectEscalatesToAutoClose(t *testing.T) {
	ex := &fakeExchange{algoErrs: 100} // защита не встаёт никогда
	m, _, notifier := newTestManager(ex, models.WatchlistEntry{Symbol: "BTC-USDT"}, atrOf(2.0))

	m.Protect(context.Background(), filledEntry())

	if ex.closeCalls != 1 {
		t.Fatalf("close calls = %d, want 1", ex.closeCalls)
	}
	if ex.closeQty != 1.0 {
		t.Errorf("close qty = %v, want full filled quantity", ex.closeQty)
	}

	if len(notifier.events) != 3 {
		t.Fatalf("CRITICAL stages = %d, want 3 (failure, attempt, outcome)", len(notifier.events))
	}
	for i, ev := range notifier.events {
		if ev.Severity != notify.SeverityCritical {
			t.Errorf("event %d severity = %s, want CRITICAL", i, ev.Severity)
		}
	}
	if notifier.events[0].ReasonCode != "UNPROTECTED_POSITION" {
		t.Errorf("first stage = %s", notifier.events[0].ReasonCode)
	}
	if notifier.events[2].ReasonCode != "AUTO_CLOSE_DONE" {
		t.Errorf("outcome stage = %s", notifier.events[2].ReasonCode)
	}
}

func TestProtectAutoCloseFailureKeepsUnprotected(t *testing.T) {
	ex := &fakeExchange{algoErrs: 100, closeErr: errors.New("http 503")}
	m, orders, notifier := newTestManager(ex, models.WatchlistEntry{Symbol: "BTC-USDT"}, atrOf(2.0))

	m.Protect(context.Background(), filledEntry())

	if orders.rows["ord-1"].Protected {
		t.Fatal("failed close must leave the order unprotected for the next sweep")
	}
	if len(notifier.events) != 3 {
		t.Fatalf("events = %d, want 3", len(notifier.events))
	}
	last := notifier.events[2]
	if last.ReasonCode != "AUTO_CLOSE_FAILED" || !strings.Contains(last.Message, "НЕ УДАЛОСЬ") {
		t.Errorf("outcome = %+v", last)
	}
}

// Полунога: SL встал, TP нет. Нога снимается перед следующей попыткой.
func TestProtectCancelsHalfBracket(t *testing.T) {
	ex := &fakeExchange{}
	m, _, _ := newTestManager(ex, models.WatchlistEntry{Symbol: "BTC-USDT"}, atrOf(2.0))

	// SL ок (вызов 1), TP падает (вызов 2), вторая пара проходит целиком
	calls := 0
	failing := &scriptedExchange{
		fakeExchange: ex,
		script: func(r okx.AlgoOrderRequest) error {
			calls++
			if calls == 2 {
				return errors.New("http 503: TP leg rejected")
			}
			return nil
		},
	}

	m.ex = failing
	m.Protect(context.Background(), filledEntry())

	if len(ex.cancelledIDs) != 1 || ex.cancelledIDs[0] != "algo-sl" {
		t.Fatalf("dangling SL leg must be cancelled, got %v", ex.cancelledIDs)
	}
	if ex.closeCalls != 0 {
		t.Fatal("retry must succeed without auto-close")
	}
}

// Шорт: уровни зеркальны лонгу. SL выше входа, TP ниже, закрытие покупкой.
func TestProtectShortEntryMirrorsLevels(t *testing.T) {
	ex := &fakeExchange{}
	m, orders, _ := newTestManager(ex, models.WatchlistEntry{Symbol: "BTC-USDT"}, atrOf(2.0))

	entry := filledEntry()
	entry.Side = models.SideSell
	m.Protect(context.Background(), entry)

	if len(ex.placedAlgos) != 2 {
		t.Fatalf("placed %d algos, want SL+TP", len(ex.placedAlgos))
	}
	sl, tp := ex.placedAlgos[0], ex.placedAlgos[1]
	// SL = 100 + 1.5*2 = 103, вверх к тику; TP = 100 + 2*(100-103) = 94, вниз
	if sl.TriggerPx != "103.00" {
		t.Errorf("short SL trigger = %q, want \"103.00\" above entry", sl.TriggerPx)
	}
	if tp.TriggerPx != "94.00" {
		t.Errorf("short TP trigger = %q, want \"94.00\" below entry", tp.TriggerPx)
	}
	if sl.Side != "buy" || tp.Side != "buy" {
		t.Error("closing a short is a buy")
	}
	if !orders.rows["ord-1"].Protected {
		t.Fatal("short entry must be marked protected")
	}
}

func TestProtectShortOverridesMirror(t *testing.T) {
	ex := &fakeExchange{}
	slPct, tpPct := 5.0, 10.0
	wl := models.WatchlistEntry{Symbol: "BTC-USDT", SLPercentage: &slPct, TPPercentage: &tpPct}
	m, _, _ := newTestManager(ex, wl, atrOf(2.0))

	entry := filledEntry()
	entry.Side = models.SideSell
	m.Protect(context.Background(), entry)

	if got := ex.placedAlgos[0].TriggerPx; got != "105.00" {
		t.Errorf("short SL = %q, want \"105.00\" from the 5%% override", got)
	}
	if got := ex.placedAlgos[1].TriggerPx; got != "90.00" {
		t.Errorf("short TP = %q, want \"90.00\" from the 10%% override", got)
	}
}

func regrownEntry() (models.ExchangeOrder, models.ExchangeOrder, models.ExchangeOrder) {
	entry := filledEntry()
	entry.RequestedQuantity = 2.0
	entry.CumulativeQuantity = 2.0
	entry.ProtectedQuantity = 1.0

	oldSL := models.ExchangeOrder{
		ExchangeOrderID: "algo-sl-old", IntentID: 1, Symbol: "BTC-USDT",
		Side: models.SideSell, Status: models.OrderActive, Role: models.RoleStopLoss,
	}
	oldTP := oldSL
	oldTP.ExchangeOrderID = "algo-tp-old"
	oldTP.Role = models.RoleTakeProfit
	return entry, oldSL, oldTP
}

// Долив после навески: старая пара снимается, новая ставится на полный объём.
func TestProtectRegrownFillReplacesLegs(t *testing.T) {
	ex := &fakeExchange{meta: models.Instrument{InstID: "BTC-USDT", TickSz: "0.01"}}
	entry, oldSL, oldTP := regrownEntry()
	orders := newFakeOrders(entry, oldSL, oldTP)
	m := NewManager(testConfig(), ex, &fakeWatchlist{}, &fakeSnaps{atr: atrOf(2.0)}, orders, &fakeNotifier{})

	m.Protect(context.Background(), entry)

	if len(ex.cancelledIDs) != 2 {
		t.Fatalf("cancelled = %v, want both stale legs", ex.cancelledIDs)
	}
	cancelled := map[string]bool{}
	for _, id := range ex.cancelledIDs {
		cancelled[id] = true
	}
	if !cancelled["algo-sl-old"] || !cancelled["algo-tp-old"] {
		t.Fatalf("cancelled = %v", ex.cancelledIDs)
	}
	if orders.rows["algo-sl-old"].Status != models.OrderCancelled {
		t.Error("stale SL projection must be cancelled")
	}

	if len(ex.placedAlgos) != 2 {
		t.Fatalf("placed %d algos, want a fresh pair", len(ex.placedAlgos))
	}
	if ex.placedAlgos[0].Sz != "2" {
		t.Errorf("new SL size = %q, want full cumulative quantity", ex.placedAlgos[0].Sz)
	}
	got := orders.rows["ord-1"]
	if !got.Protected || got.ProtectedQuantity != 2.0 {
		t.Fatalf("protected=%v qty=%v, want protection over the full fill", got.Protected, got.ProtectedQuantity)
	}
}

// Нога не снялась: новую пару не ставим, старая продолжает покрывать часть.
func TestProtectRegrownCancelFailureKeepsOldLegs(t *testing.T) {
	ex := &fakeExchange{
		meta:      models.Instrument{InstID: "BTC-USDT", TickSz: "0.01"},
		cancelErr: errors.New("http 503"),
	}
	entry, oldSL, oldTP := regrownEntry()
	orders := newFakeOrders(entry, oldSL, oldTP)
	m := NewManager(testConfig(), ex, &fakeWatchlist{}, &fakeSnaps{atr: atrOf(2.0)}, orders, &fakeNotifier{})

	m.Protect(context.Background(), entry)

	if len(ex.placedAlgos) != 0 {
		t.Fatalf("placed %d algos after a failed cancel, want none", len(ex.placedAlgos))
	}
	if ex.closeCalls != 0 {
		t.Fatal("failed leg cancel is not an escalation")
	}
	if orders.rows["algo-sl-old"].Status != models.OrderActive {
		t.Error("old leg must stay active until cancelled")
	}
}

// scriptedExchange подменяет исход PlaceAlgo по номеру вызова.
type scriptedExchange struct {
	*fakeExchange
	script func(r okx.AlgoOrderRequest) error
}

func (s *scriptedExchange) PlaceAlgo(ctx context.Context, r okx.AlgoOrderRequest) (string, error) {
	if err := s.script(r); err != nil {
		s.algoCalls++
		return "", err
	}
	return s.fakeExchange.PlaceAlgo(ctx, r)
}
