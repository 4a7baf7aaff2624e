package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"signal_bot/internal/metrics"
	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	okx "signal_bot/internal/modules/okx_client/service"
	"signal_bot/internal/notify"
	"signal_bot/internal/pricing"
	"signal_bot/internal/reason"
	"signal_bot/internal/store"
	"signal_bot/pkg/logger"
)

type Exchange interface {
	PlaceOrder(ctx context.Context, r okx.PlaceOrderRequest) (string, error)
	GetOrderByClientID(ctx context.Context, instID, clOrdID string) (okx.OrderState, bool, error)
	GetInstrumentMeta(ctx context.Context, instID string) (models.Instrument, error)
}

type IntentStore interface {
	Insert(ctx context.Context, in *models.OrderIntent) error
	MarkPlaced(ctx context.Context, id int64, exchangeOrderID string) error
	MarkFailed(ctx context.Context, id int64, code reason.Code, msg, snippet string) error
}

type OrderStore interface {
	Insert(ctx context.Context, o *models.ExchangeOrder) error
}

type ThrottleToucher interface {
	Touch(ctx context.Context, symbol string, price float64) error
}

// Outcome — чем закончилась попытка исполнения решения.
type Outcome struct {
	Status   models.IntentStatus
	Reason   reason.Code
	IntentID int64
	OrderID  string
}

// Orchestrator превращает одобренное решение в биржевой ордер. Порядок
// жёсткий: сначала строка интента под уникальным ключом, потом биржа.
// Проигрыш гонки за ключ завершает попытку как DEDUP_SKIPPED без второго
// похода на биржу.
type Orchestrator struct {
	cfg      *config.Config
	ex       Exchange
	intents  IntentStore
	orders   OrderStore
	throttle ThrottleToucher
	notifier notify.Notifier
}

func NewOrchestrator(
	cfg *config.Config,
	ex Exchange,
	intents IntentStore,
	orders OrderStore,
	throttle ThrottleToucher,
	notifier notify.Notifier,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		ex:       ex,
		intents:  intents,
		orders:   orders,
		throttle: throttle,
		notifier: notifier,
	}
}

func (o *Orchestrator) Execute(ctx context.Context, signalID string, d models.SignalDecision, entry models.WatchlistEntry) (Outcome, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "orchestrator.execute")
	defer span.Finish()
	span.SetTag("symbol", d.Symbol)
	span.SetTag("side", string(d.Side))

	corrID := uuid.NewString()
	key := models.IdempotencyKey(d.Symbol, d.Side, time.Now(), o.cfg.DecisionWindow)
	clOrdID := models.ClientOrderID(key)

	ctxJSON, err := sonic.Marshal(map[string]any{
		"price":            d.Price,
		"sl_price":         d.SLPrice,
		"tp_price":         d.TPPrice,
		"tp_boosted":       d.TPBoosted,
		"trade_amount_usd": entry.TradeAmountUSD,
		"correlation_id":   corrID,
		"client_order_id":  clOrdID,
	})
	if err != nil {
		return Outcome{}, errors.Wrap(err, "marshal intent context")
	}

	intent := &models.OrderIntent{
		IdempotencyKey: key,
		SignalID:       signalID,
		Symbol:         d.Symbol,
		Side:           d.Side,
		Status:         models.IntentPending,
		ContextJSON:    ctxJSON,
		CorrelationID:  corrID,
	}
	if err := o.intents.Insert(ctx, intent); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			// интент в этом окне уже есть, попытка гасится молча
			metrics.IntentsTotal.WithLabelValues(string(models.IntentDedupSkipped)).Inc()
			metrics.SkipsTotal.WithLabelValues(string(reason.DedupSkipped)).Inc()
			logger.Info("🔁 %s %s: дубль в окне решения, ключ %s", d.Symbol, d.Side, key)
			return Outcome{Status: models.IntentDedupSkipped, Reason: reason.DedupSkipped}, nil
		}
		return Outcome{}, err
	}

	sz, out, err := o.sizeOrder(ctx, intent, d, entry)
	if err != nil || out != nil {
		if out != nil {
			return *out, err
		}
		return Outcome{}, err
	}

	req := okx.PlaceOrderRequest{
		InstID:  d.Symbol,
		Side:    exchangeSide(d.Side),
		OrdType: "market",
		Sz:      sz,
		ClOrdID: clOrdID,
	}

	ordID, placeErr := o.placeConfirmed(ctx, req)
	if placeErr != nil {
		code := reason.Classify(placeErr)
		return o.fail(ctx, intent, code, placeErr), nil
	}

	return o.placed(ctx, intent, d, entry, ordID, sz), nil
}

// sizeOrder считает объём заявки из суммы сделки и шага лота. Невалидный
// объём — терминальный FAILED ещё до похода за ордером.
func (o *Orchestrator) sizeOrder(ctx context.Context, intent *models.OrderIntent, d models.SignalDecision, entry models.WatchlistEntry) (string, *Outcome, error) {
	meta, err := o.ex.GetInstrumentMeta(ctx, d.Symbol)
	if err != nil {
		code := reason.Classify(err)
		out := o.fail(ctx, intent, code, err)
		return "", &out, nil
	}

	qty := pricing.RoundSizeToLot(entry.TradeAmountUSD/d.Price, meta.LotSz)
	if qty <= 0 || (meta.MinSz > 0 && qty < meta.MinSz) {
		err := fmt.Errorf("объём %v ниже минимального %v для %s", qty, meta.MinSz, d.Symbol)
		out := o.fail(ctx, intent, reason.MinNotionalNotMet, err)
		return "", &out, nil
	}
	return strconv.FormatFloat(qty, 'f', -1, 64), nil, nil
}

// placeConfirmed — размещение с ограниченным ретраем. Слепой повтор
// возможно-успешной записи запрещён: перед каждым повтором статус-запросом
// подтверждаем, что ордер НЕ создался. Auth и подпись не ретраим вовсе,
// сами они не чинятся.
func (o *Orchestrator) placeConfirmed(ctx context.Context, req okx.PlaceOrderRequest) (string, error) {
	b := &backoff.Backoff{
		Min:    o.cfg.BackoffMin,
		Max:    o.cfg.BackoffMax,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.PlaceMaxAttempts; attempt++ {
		ordID, err := o.ex.PlaceOrder(ctx, req)
		if err == nil {
			return ordID, nil
		}
		lastErr = err

		code := reason.Classify(err)
		metrics.ExchangeErrorsTotal.WithLabelValues(string(code)).Inc()
		if !code.Retryable() {
			return "", err
		}

		// ордер мог создаться несмотря на таймаут
		if state, exists, qErr := o.ex.GetOrderByClientID(ctx, req.InstID, req.ClOrdID); qErr == nil && exists {
			logger.Warn("⚠️ %s: ордер %s нашёлся по clOrdId после ошибки, ретрай отменён", req.InstID, state.OrdID)
			return state.OrdID, nil
		}

		if attempt < o.cfg.PlaceMaxAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(b.Duration()):
			}
		}
	}

	// финальная сверка после исчерпания попыток
	if state, exists, qErr := o.ex.GetOrderByClientID(ctx, req.InstID, req.ClOrdID); qErr == nil && exists {
		return state.OrdID, nil
	}
	return "", lastErr
}

func (o *Orchestrator) placed(ctx context.Context, intent *models.OrderIntent, d models.SignalDecision, entry models.WatchlistEntry, ordID, sz string) Outcome {
	if err := o.intents.MarkPlaced(ctx, intent.ID, ordID); err != nil {
		logger.Error("интент %d: не записали PLACED: %v", intent.ID, err)
	}

	qty, _ := strconv.ParseFloat(sz, 64)
	order := &models.ExchangeOrder{
		ExchangeOrderID:   ordID,
		IntentID:          intent.ID,
		Symbol:            d.Symbol,
		Side:              d.Side,
		OrdType:           "market",
		Status:            models.OrderNew,
		Role:              models.RoleEntry,
		RequestedQuantity: qty,
		Price:             d.Price,
	}
	if err := o.orders.Insert(ctx, order); err != nil {
		logger.Error("ордер %s: не записали проекцию: %v", ordID, err)
	}

	if err := o.throttle.Touch(ctx, d.Symbol, d.Price); err != nil {
		logger.Error("кулдаун %s: %v", d.Symbol, err)
	}

	metrics.IntentsTotal.WithLabelValues(string(models.IntentPlaced)).Inc()
	logger.Info("✅ %s %s размещён: ордер %s, объём %s", d.Symbol, d.Side, ordID, sz)

	o.notifier.Notify(ctx, notify.Event{
		SignalID: intent.SignalID,
		Severity: notify.SeverityInfo,
		Message: fmt.Sprintf("📈 %s %s размещён\nЦена: %.4f\nОбъём: %s\nTP: %.4f / SL: %.4f",
			d.Symbol, d.Side, d.Price, sz, d.TPPrice, d.SLPrice),
	})

	return Outcome{Status: models.IntentPlaced, IntentID: intent.ID, OrderID: ordID}
}

// fail фиксирует терминальный FAILED и СИНХРОННО шлёт нотификацию с
// классифицированной причиной. Исход пишется до попытки доставки: упавший
// между ними процесс ничего не теряет, журнал доберёт.
func (o *Orchestrator) fail(ctx context.Context, intent *models.OrderIntent, code reason.Code, cause error) Outcome {
	msg := string(code)
	if hint := code.OperatorHint(); hint != "" {
		msg += ": " + hint
	}
	snippet := reason.Snippet(cause)

	if err := o.intents.MarkFailed(ctx, intent.ID, code, msg, snippet); err != nil {
		logger.Error("интент %d: не записали FAILED: %v", intent.ID, err)
	}

	metrics.IntentsTotal.WithLabelValues(string(models.IntentFailed)).Inc()
	logger.Error("❌ %s %s: %s (%s)", intent.Symbol, intent.Side, code, snippet)

	o.notifier.Notify(ctx, notify.Event{
		SignalID:   intent.SignalID,
		Severity:   notify.SeverityWarn,
		ReasonCode: string(code),
		Message: fmt.Sprintf("❌ %s %s не исполнен\nПричина: %s\n%s",
			intent.Symbol, intent.Side, msg, snippet),
	})

	return Outcome{Status: models.IntentFailed, Reason: code, IntentID: intent.ID}
}

// RecordSkip персистит SKIPPED-решение гейткипера. Биржевого вызова не было,
// нотификации не шлём, но строка интента обязана существовать: диагностика
// сверяет сигналы с интентами один-к-одному.
func (o *Orchestrator) RecordSkip(ctx context.Context, signalID string, d models.SignalDecision, code reason.Code, msg string) error {
	key := models.IdempotencyKey(d.Symbol, d.Side, time.Now(), o.cfg.DecisionWindow)
	intent := &models.OrderIntent{
		IdempotencyKey: key,
		SignalID:       signalID,
		Symbol:         d.Symbol,
		Side:           d.Side,
		Status:         models.IntentSkipped,
		DecisionType:   models.DecisionSkipped,
		ReasonCode:     code,
		ReasonMessage:  msg,
		CorrelationID:  uuid.NewString(),
	}
	err := o.intents.Insert(ctx, intent)
	if errors.Is(err, store.ErrDuplicateKey) {
		// скип в этом окне уже записан
		return nil
	}
	if err == nil {
		metrics.IntentsTotal.WithLabelValues(string(models.IntentSkipped)).Inc()
		metrics.SkipsTotal.WithLabelValues(string(code)).Inc()
	}
	return err
}

func exchangeSide(s models.Side) string {
	if s == models.SideSell {
		return "sell"
	}
	return "buy"
}
