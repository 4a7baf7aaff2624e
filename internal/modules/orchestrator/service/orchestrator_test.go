package service

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	okx "signal_bot/internal/modules/okx_client/service"
	"signal_bot/internal/notify"
	"signal_bot/internal/reason"
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
	placeCalls int
	placeErrs  []error // очередь ошибок, потом успех
	orderID    string

	confirmedState okx.OrderState
	confirmExists  bool

	meta models.Instrument
}

func (f *fakeExchange) PlaceOrder(_ context.Context, _ okx.PlaceOrderRequest) (string, error) {
	f.placeCalls++
	if len(f.placeErrs) > 0 {
		err := f.placeErrs[0]
		f.placeErrs = f.placeErrs[1:]
		return "", err
	}
	return f.orderID, nil
}

func (f *fakeExchange) GetOrderByClientID(_ context.Context, _, _ string) (okx.OrderState, bool, error) {
	return f.confirmedState, f.confirmExists, nil
}

func (f *fakeExchange) GetInstrumentMeta(_ context.Context, _ string) (models.Instrument, error) {
	return f.meta, nil
}

type fakeIntents struct {
	byKey  map[string]*models.OrderIntent
	nextID int64

	placedID       int64
	placedOrderID  string
	failedID       int64
	failedCode     reason.Code
	failedSnippet  string
}

func newFakeIntents() *fakeIntents {
	return &fakeIntents{byKey: map[string]*models.OrderIntent{}}
}

func (f *fakeIntents) Insert(_ context.Context, in *models.OrderIntent) error {
	if _, ok := f.byKey[in.IdempotencyKey]; ok {
		return store.ErrDuplicateKey
	}
	f.nextID++
	in.ID = f.nextID
	f.byKey[in.IdempotencyKey] = in
	return nil
}

func (f *fakeIntents) MarkPlaced(_ context.Context, id int64, orderID string) error {
	f.placedID = id
	f.placedOrderID = orderID
	return nil
}

func (f *fakeIntents) MarkFailed(_ context.Context, id int64, code reason.Code, _, snippet string) error {
	f.failedID = id
	f.failedCode = code
	f.failedSnippet = snippet
	return nil
}

type fakeOrders struct {
	inserted []models.ExchangeOrder
}

func (f *fakeOrders) Insert(_ context.Context, o *models.ExchangeOrder) error {
	o.ID = int64(len(f.inserted) + 1)
	f.inserted = append(f.inserted, *o)
	return nil
}

type fakeThrottle struct {
	touched []string
}

func (f *fakeThrottle) Touch(_ context.Context, symbol string, _ float64) error {
	f.touched = append(f.touched, symbol)
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
	cfg.DecisionWindow = 30 * time.Second
	cfg.PlaceMaxAttempts = 3
	cfg.BackoffMin = time.Millisecond
	cfg.BackoffMax = 2 * time.Millisecond
	return cfg
}

func newTestOrchestrator(ex *fakeExchange) (*Orchestrator, *fakeIntents, *fakeOrders, *fakeThrottle, *fakeNotifier) {
	if ex.meta.LotSz == 0 {
		ex.meta = models.Instrument{InstID: "BTC-USDT", TickSz: "0.01", LotSz: 0.0001, MinSz: 0.0001}
	}
	intents := newFakeIntents()
	orders := &fakeOrders{}
	throttle := &fakeThrottle{}
	notifier := &fakeNotifier{}
	o := NewOrchestrator(testConfig(), ex, intents, orders, throttle, notifier)
	return o, intents, orders, throttle, notifier
}

func buyDecision() models.SignalDecision {
	return models.SignalDecision{
		Symbol:  "BTC-USDT",
		Side:    models.SideBuy,
		Price:   100,
		SLPrice: 97,
		TPPrice: 103,
	}
}

func entry() models.WatchlistEntry {
	return models.WatchlistEntry{Symbol: "BTC-USDT", TradeAmountUSD: 100}
}

func TestExecutePlacesOrder(t *testing.T) {
	ex := &fakeExchange{orderID: "okx-1"}
	o, intents, orders, throttle, notifier := newTestOrchestrator(ex)

	out, err := o.Execute(context.Background(), "sig-1", buyDecision(), entry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != models.IntentPlaced {
		t.Fatalf("status = %s, want PLACED", out.Status)
	}
	if intents.placedOrderID != "okx-1" {
		t.Errorf("intent must carry exchange order id, got %q", intents.placedOrderID)
	}
	if len(orders.inserted) != 1 || orders.inserted[0].Role != models.RoleEntry {
		t.Fatalf("one ENTRY order projection expected, got %+v", orders.inserted)
	}
	if len(throttle.touched) != 1 {
		t.Error("cooldown must be touched after placement")
	}
	if len(notifier.events) != 1 || notifier.events[0].SignalID != "sig-1" {
		t.Fatalf("placement notification with signal id expected, got %+v", notifier.events)
	}
}

// Идемпотентность: два исполнения одного сигнала в одном окне дают один
// PLACED и один DEDUP_SKIPPED, биржа вызвана ровно один раз.
func TestExecuteDedupWithinWindow(t *testing.T) {
	ex := &fakeExchange{orderID: "okx-1"}
	o, _, _, _, _ := newTestOrchestrator(ex)

	first, err := o.Execute(context.Background(), "sig-1", buyDecision(), entry())
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	second, err := o.Execute(context.Background(), "sig-1", buyDecision(), entry())
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}

	if first.Status != models.IntentPlaced {
		t.Errorf("first status = %s, want PLACED", first.Status)
	}
	if second.Status != models.IntentDedupSkipped {
		t.Errorf("second status = %s, want DEDUP_SKIPPED", second.Status)
	}
	if ex.placeCalls != 1 {
		t.Fatalf("exchange called %d times, want exactly 1", ex.placeCalls)
	}
}

// Таймаут с возможно-созданным ордером: перед ретраем статус-запрос находит
// ордер по clOrdId, слепого повтора нет.
func TestExecuteConfirmBeforeRetry(t *testing.T) {
	ex := &fakeExchange{
		placeErrs:      []error{errors.New("request TIMEOUT after 10s")},
		confirmExists:  true,
		confirmedState: okx.OrderState{OrdID: "okx-silent"},
	}
	o, intents, _, _, _ := newTestOrchestrator(ex)

	out, err := o.Execute(context.Background(), "sig-1", buyDecision(), entry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != models.IntentPlaced {
		t.Fatalf("status = %s, want PLACED via confirmation", out.Status)
	}
	if out.OrderID != "okx-silent" {
		t.Errorf("order id = %q, want the confirmed one", out.OrderID)
	}
	if ex.placeCalls != 1 {
		t.Fatalf("place called %d times, blind retry is forbidden", ex.placeCalls)
	}
	if intents.placedOrderID != "okx-silent" {
		t.Errorf("intent order id = %q", intents.placedOrderID)
	}
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	ex := &fakeExchange{
		placeErrs: []error{errors.New("429 TOO MANY requests")},
		orderID:   "okx-2",
	}
	o, _, _, _, _ := newTestOrchestrator(ex)

	out, err := o.Execute(context.Background(), "sig-1", buyDecision(), entry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != models.IntentPlaced {
		t.Fatalf("status = %s, want PLACED after retry", out.Status)
	}
	if ex.placeCalls != 2 {
		t.Fatalf("place called %d times, want 2", ex.placeCalls)
	}
}

// Auth не ретраится: первый же отказ терминален, нотификация несёт тот же
// reason_code, что записан в интент.
func TestExecuteAuthErrorFailsImmediately(t *testing.T) {
	ex := &fakeExchange{
		placeErrs: []error{
			errors.New("http 401: UNAUTHORIZED key"),
			errors.New("http 401: UNAUTHORIZED key"),
			errors.New("http 401: UNAUTHORIZED key"),
		},
	}
	o, intents, _, _, notifier := newTestOrchestrator(ex)

	out, err := o.Execute(context.Background(), "sig-1", buyDecision(), entry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != models.IntentFailed {
		t.Fatalf("status = %s, want FAILED", out.Status)
	}
	if out.Reason != reason.AuthenticationError {
		t.Fatalf("reason = %s, want AUTHENTICATION_ERROR", out.Reason)
	}
	if ex.placeCalls != 1 {
		t.Fatalf("place called %d times, auth errors must not be retried", ex.placeCalls)
	}
	if intents.failedCode != reason.AuthenticationError {
		t.Errorf("stored code = %s", intents.failedCode)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("exactly one failure notification expected, got %d", len(notifier.events))
	}
	if notifier.events[0].ReasonCode != string(reason.AuthenticationError) {
		t.Errorf("notification reason = %s, must match intent", notifier.events[0].ReasonCode)
	}
	if notifier.events[0].Severity != notify.SeverityWarn {
		t.Errorf("severity = %s", notifier.events[0].Severity)
	}
}

func TestExecuteExhaustsRetriesThenFails(t *testing.T) {
	ex := &fakeExchange{
		placeErrs: []error{
			errors.New("request TIMEOUT"),
			errors.New("request TIMEOUT"),
			errors.New("request TIMEOUT"),
		},
	}
	o, _, _, _, notifier := newTestOrchestrator(ex)

	out, err := o.Execute(context.Background(), "sig-1", buyDecision(), entry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != models.IntentFailed {
		t.Fatalf("status = %s, want FAILED after exhausted retries", out.Status)
	}
	if out.Reason != reason.Timeout {
		t.Fatalf("reason = %s, want TIMEOUT", out.Reason)
	}
	if ex.placeCalls != 3 {
		t.Fatalf("place called %d times, want max attempts 3", ex.placeCalls)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("failure notification expected")
	}
}

func TestExecuteTooSmallSizeFails(t *testing.T) {
	ex := &fakeExchange{
		orderID: "okx-3",
		meta:    models.Instrument{InstID: "BTC-USDT", TickSz: "0.01", LotSz: 1, MinSz: 5},
	}
	o, _, _, _, _ := newTestOrchestrator(ex)

	d := buyDecision()
	e := entry()
	e.TradeAmountUSD = 100 // 1 единица при min 5

	out, err := o.Execute(context.Background(), "sig-1", d, e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != models.IntentFailed || out.Reason != reason.MinNotionalNotMet {
		t.Fatalf("got %s/%s, want FAILED/MIN_NOTIONAL_NOT_MET", out.Status, out.Reason)
	}
	if ex.placeCalls != 0 {
		t.Fatal("no exchange order call for invalid size")
	}
}

func TestRecordSkipIdempotent(t *testing.T) {
	ex := &fakeExchange{}
	o, intents, _, _, _ := newTestOrchestrator(ex)

	d := buyDecision()
	if err := o.RecordSkip(context.Background(), "sig-1", d, reason.TradeDisabled, "выключено"); err != nil {
		t.Fatalf("first skip: %v", err)
	}
	if err := o.RecordSkip(context.Background(), "sig-2", d, reason.TradeDisabled, "выключено"); err != nil {
		t.Fatalf("duplicate skip must be silent: %v", err)
	}
	if len(intents.byKey) != 1 {
		t.Fatalf("intents = %d, want 1", len(intents.byKey))
	}
	for _, in := range intents.byKey {
		if in.Status != models.IntentSkipped || in.ReasonCode != reason.TradeDisabled {
			t.Fatalf("bad skip intent: %+v", in)
		}
	}
}

func TestClientOrderIDFormat(t *testing.T) {
	id := models.ClientOrderID("BTC-USDT:BUY:1725100000")
	if len(id) > 32 {
		t.Fatalf("clOrdId %q longer than 32", id)
	}
	for _, r := range id {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			t.Fatalf("clOrdId %q has non-alphanumeric %q", id, r)
		}
	}
	if id != models.ClientOrderID("BTC-USDT:BUY:1725100000") {
		t.Fatal("clOrdId must be deterministic")
	}
	if id == models.ClientOrderID("ETH-USDT:BUY:1725100000") {
		t.Fatal("different keys must map to different ids")
	}
}
