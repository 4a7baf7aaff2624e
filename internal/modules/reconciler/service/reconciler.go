package service

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"signal_bot/internal/metrics"
	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	okx "signal_bot/internal/modules/okx_client/service"
	"signal_bot/internal/reason"
	"signal_bot/internal/store"
	"signal_bot/pkg/logger"
)

// fillEpsilon: залито не меньше 99.9% заявленного — считаем полным филлом,
// хвост это биржевое округление.
const fillEpsilon = 0.999

type Exchange interface {
	GetOrderHistory(ctx context.Context, instID string) ([]okx.OrderState, error)
	GetOpenOrders(ctx context.Context) ([]okx.OrderState, error)
	GetOrderByClientID(ctx context.Context, instID, clOrdID string) (okx.OrderState, bool, error)
}

type OrderStore interface {
	ListUnresolved(ctx context.Context) ([]models.ExchangeOrder, error)
	GetByExchangeID(ctx context.Context, exchangeOrderID string) (models.ExchangeOrder, error)
	Insert(ctx context.Context, o *models.ExchangeOrder) error
	UpdateStatusFresh(ctx context.Context, exchangeOrderID string, apply func(*models.ExchangeOrder)) error
}

type IntentStore interface {
	MarkFilled(ctx context.Context, exchangeOrderID string) error
	MarkPlaced(ctx context.Context, id int64, exchangeOrderID string) error
	MarkFailed(ctx context.Context, id int64, code reason.Code, msg, snippet string) error
	StuckPending(ctx context.Context, olderThan time.Duration) ([]models.OrderIntent, error)
}

// Protector получает залитые ENTRY-ордера под навеску SL/TP.
type Protector interface {
	Protect(ctx context.Context, o models.ExchangeOrder)
}

// Reconciler сверяет локальные проекции ордеров с биржей по своему
// расписанию. Между проходами никакого общего состояния: каждый проход
// собирает рабочий список заново и мутирует строки только через
// перечитывание.
type Reconciler struct {
	cfg       *config.Config
	ex        Exchange
	orders    OrderStore
	intents   IntentStore
	protector Protector
}

func NewReconciler(cfg *config.Config, ex Exchange, orders OrderStore, intents IntentStore, protector Protector) *Reconciler {
	return &Reconciler{
		cfg:       cfg,
		ex:        ex,
		orders:    orders,
		intents:   intents,
		protector: protector,
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.ReconcileInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.Pass(ctx); err != nil {
				logger.Error("реконсилер: %v", err)
			}
		}
	}
}

// Pass — один проход сверки. Порядок запросов принципиален: сначала история,
// потом открытые. История несёт терминальные филлы; если смотреть открытые
// первыми, только что исполнившийся ордер ещё виден там как live и уезжает
// в ложный CANCELLED — та самая пара противоречащих алертов
// "отменён, потом исполнен".
func (r *Reconciler) Pass(ctx context.Context) error {
	defer metrics.ReconcilePassesTotal.Inc()

	unresolved, err := r.orders.ListUnresolved(ctx)
	if err != nil {
		return err
	}

	if len(unresolved) > 0 {
		hist, open, err := r.fetchStates(ctx, unresolved)
		if err != nil {
			return err
		}
		for _, o := range unresolved {
			r.reconcileOne(ctx, o, hist, open)
		}
	}

	return r.recoverStuckPending(ctx)
}

// fetchStates: история ДО открытых, см. комментарий к Pass.
func (r *Reconciler) fetchStates(ctx context.Context, unresolved []models.ExchangeOrder) (hist, open map[string]okx.OrderState, err error) {
	hist = make(map[string]okx.OrderState)
	open = make(map[string]okx.OrderState)

	seen := make(map[string]struct{})
	for _, o := range unresolved {
		if _, ok := seen[o.Symbol]; ok {
			continue
		}
		seen[o.Symbol] = struct{}{}

		states, hErr := r.ex.GetOrderHistory(ctx, o.Symbol)
		if hErr != nil {
			return nil, nil, errors.Wrap(hErr, "order history")
		}
		for _, st := range states {
			hist[st.OrdID] = st
		}
	}

	states, oErr := r.ex.GetOpenOrders(ctx)
	if oErr != nil {
		return nil, nil, errors.Wrap(oErr, "open orders")
	}
	for _, st := range states {
		open[st.OrdID] = st
	}
	return hist, open, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, o models.ExchangeOrder, hist, open map[string]okx.OrderState) {
	st, found := hist[o.ExchangeOrderID]
	if !found {
		st, found = open[o.ExchangeOrderID]
	}
	if !found {
		// ни в истории, ни в открытых: не трогаем, следующий проход разберётся
		logger.Warn("ордер %s (%s) не найден на бирже, пропуск", o.ExchangeOrderID, o.Symbol)
		return
	}

	newStatus := ResolveStatus(st.State, st.AccFillSz, o.RequestedQuantity)
	prevStatus := o.Status

	err := r.orders.UpdateStatusFresh(ctx, o.ExchangeOrderID, func(fresh *models.ExchangeOrder) {
		fresh.Status = newStatus
		fresh.CumulativeQuantity = st.AccFillSz
		if st.AvgPx > 0 {
			fresh.AvgFillPrice = st.AvgPx
		}
		// долив после навески: ноги покрывают меньше залитого, снимаем флаг,
		// брекет-менеджер перекроет полный объём
		if regrown(fresh.Protected, fresh.ProtectedQuantity, st.AccFillSz) {
			fresh.Protected = false
		}
	})
	if err != nil {
		logger.Error("ордер %s: обновление статуса: %v", o.ExchangeOrderID, err)
		return
	}

	if newStatus != prevStatus {
		logger.Info("🔄 %s %s: %s -> %s (залито %v из %v)",
			o.Symbol, o.ExchangeOrderID, prevStatus, newStatus, st.AccFillSz, o.RequestedQuantity)
	}

	if o.Role == models.RoleEntry && filled(newStatus) {
		if err := r.intents.MarkFilled(ctx, o.ExchangeOrderID); err != nil {
			logger.Error("интент по ордеру %s: %v", o.ExchangeOrderID, err)
		}
		needsProtect := !o.Protected || regrown(o.Protected, o.ProtectedQuantity, st.AccFillSz)
		if needsProtect && r.protector != nil {
			updated := o
			updated.Status = newStatus
			updated.CumulativeQuantity = st.AccFillSz
			updated.Protected = false
			if st.AvgPx > 0 {
				updated.AvgFillPrice = st.AvgPx
			}
			r.protector.Protect(ctx, updated)
		}
	}
}

// regrown: залитый объём вырос сверх покрытого ногами больше, чем на
// биржевое округление.
func regrown(protected bool, protectedQty, cumQty float64) bool {
	return protected && protectedQty > 0 && cumQty*fillEpsilon > protectedQty
}

// ResolveStatus — правило разрешения статуса. Свидетельство количества
// сильнее любого сырого кода биржи: при cum > 0 статус принудительно FILLED
// или PARTIALLY_FILLED, немапленный код никогда не уходит дальше как UNKNOWN.
func ResolveStatus(rawState string, cumQty, reqQty float64) models.OrderStatus {
	if cumQty > 0 && reqQty > 0 {
		if cumQty >= fillEpsilon*reqQty {
			return models.OrderFilled
		}
		return models.OrderPartiallyFilled
	}

	switch rawState {
	case "live":
		return models.OrderActive
	case "partially_filled":
		return models.OrderPartiallyFilled
	case "filled":
		return models.OrderFilled
	case "canceled", "mmp_canceled":
		return models.OrderCancelled
	case "rejected":
		return models.OrderRejected
	}
	return models.OrderUnknown
}

func filled(s models.OrderStatus) bool {
	return s == models.OrderFilled || s == models.OrderPartiallyFilled
}

// recoverStuckPending добивает интенты, зависшие в PENDING: процесс упал
// между вставкой строки и ответом биржи. Машина состояний доигрывается из
// персистентного состояния, по clOrdId выясняем, был ли ордер.
func (r *Reconciler) recoverStuckPending(ctx context.Context) error {
	threshold := 2 * r.cfg.DecisionWindow
	stuck, err := r.intents.StuckPending(ctx, threshold)
	if err != nil {
		return err
	}

	for _, in := range stuck {
		clOrdID := models.ClientOrderID(in.IdempotencyKey)
		st, exists, err := r.ex.GetOrderByClientID(ctx, in.Symbol, clOrdID)
		if err != nil {
			logger.Error("зависший интент %d: статус-запрос: %v", in.ID, err)
			continue
		}

		if !exists {
			msg := "процесс прервался до ответа биржи, ордер не создан"
			if err := r.intents.MarkFailed(ctx, in.ID, reason.Timeout, msg, ""); err != nil {
				logger.Error("зависший интент %d: %v", in.ID, err)
			}
			continue
		}

		if err := r.intents.MarkPlaced(ctx, in.ID, st.OrdID); err != nil {
			logger.Error("зависший интент %d: %v", in.ID, err)
			continue
		}
		if _, err := r.orders.GetByExchangeID(ctx, st.OrdID); errors.Is(err, store.ErrNotFound) {
			order := &models.ExchangeOrder{
				ExchangeOrderID:   st.OrdID,
				IntentID:          in.ID,
				Symbol:            in.Symbol,
				Side:              in.Side,
				OrdType:           st.OrdType,
				Status:            models.OrderNew,
				Role:              models.RoleEntry,
				RequestedQuantity: st.Sz,
				Price:             st.Px,
			}
			if err := r.orders.Insert(ctx, order); err != nil {
				logger.Error("зависший интент %d: проекция ордера: %v", in.ID, err)
			}
		}
		logger.Warn("♻️ интент %d доигран из PENDING: ордер %s найден по clOrdId", in.ID, st.OrdID)
	}
	return nil
}
