package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"signal_bot/internal/metrics"
	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	okx "signal_bot/internal/modules/okx_client/service"
	"signal_bot/internal/notify"
	"signal_bot/internal/pricing"
	"signal_bot/pkg/logger"
)

type Exchange interface {
	GetInstrumentMeta(ctx context.Context, instID string) (models.Instrument, error)
	PlaceAlgo(ctx context.Context, r okx.AlgoOrderRequest) (string, error)
	CancelAlgo(ctx context.Context, instID, algoID string) error
	CloseMarket(ctx context.Context, instID, entrySide string, qty float64, clOrdID string) (string, error)
}

type WatchlistSource interface {
	GetBySymbol(ctx context.Context, symbol string) (models.WatchlistEntry, error)
}

type SnapshotSource interface {
	Snapshot(ctx context.Context, symbol string) (models.IndicatorSnapshot, error)
}

type OrderStore interface {
	Insert(ctx context.Context, o *models.ExchangeOrder) error
	ListUnprotectedFills(ctx context.Context, grace time.Duration) ([]models.ExchangeOrder, error)
	ListActiveLegs(ctx context.Context, intentID int64) ([]models.ExchangeOrder, error)
	UpdateStatusFresh(ctx context.Context, exchangeOrderID string, apply func(*models.ExchangeOrder)) error
}

// Manager навешивает SL/TP на залитые ENTRY-ордера. Если защита не встала,
// позиция НЕ остаётся голой: рыночное автозакрытие на весь залитый объём.
// Это самый приоритетный путь отказа в системе, каждая его стадия
// эскалируется как CRITICAL.
type Manager struct {
	cfg      *config.Config
	ex       Exchange
	watch    WatchlistSource
	snaps    SnapshotSource
	orders   OrderStore
	notifier notify.Notifier
}

func NewManager(
	cfg *config.Config,
	ex Exchange,
	watch WatchlistSource,
	snaps SnapshotSource,
	orders OrderStore,
	notifier notify.Notifier,
) *Manager {
	return &Manager{
		cfg:      cfg,
		ex:       ex,
		watch:    watch,
		snaps:    snaps,
		orders:   orders,
		notifier: notifier,
	}
}

// Run — страховочный обход: реконсилер передаёт филлы напрямую, но если
// процесс упал между филлом и защитой, их доберёт этот цикл по стору.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(m.cfg.ReconcileInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fills, err := m.orders.ListUnprotectedFills(ctx, m.cfg.ProtectGracePeriod)
			if err != nil {
				logger.Error("брекеты: обход незащищённых: %v", err)
				continue
			}
			for _, o := range fills {
				m.Protect(ctx, o)
			}
		}
	}
}

// Protect ставит SL/TP на залитый ENTRY. Любой исход фиксируется: либо
// protected=true с парой условных ордеров, либо автозакрытие.
func (m *Manager) Protect(ctx context.Context, o models.ExchangeOrder) {
	qty := o.CumulativeQuantity
	if qty <= 0 {
		return
	}
	entryPx := o.AvgFillPrice
	if entryPx <= 0 {
		entryPx = o.Price
	}
	if entryPx <= 0 {
		logger.Error("брекеты %s: нет цены входа, защита невозможна", o.ExchangeOrderID)
		return
	}

	// долив после уже навешенной защиты: старые ноги покрывают меньше
	// залитого, снимаем их и перекрываем полный объём
	if o.ProtectedQuantity > 0 {
		if !m.cancelStaleLegs(ctx, o) {
			return
		}
	}

	slPx, tpPx := m.levels(ctx, o.Symbol, entryPx, o.Side)

	meta, err := m.ex.GetInstrumentMeta(ctx, o.Symbol)
	if err != nil {
		logger.Error("брекеты %s: метаданные инструмента: %v", o.Symbol, err)
		m.escalate(ctx, o, qty, fmt.Errorf("метаданные инструмента: %w", err))
		return
	}

	// направленное округление: для лонга SL-триггер прижимаем вниз,
	// TP-триггер вверх; хвостовые нули тика сохраняются
	var slStr, tpStr string
	if o.Side == models.SideSell {
		slStr = pricing.RoundUpToTick(slPx, meta.TickSz)
		tpStr = pricing.RoundDownToTick(tpPx, meta.TickSz)
	} else {
		slStr = pricing.RoundDownToTick(slPx, meta.TickSz)
		tpStr = pricing.RoundUpToTick(tpPx, meta.TickSz)
	}
	szStr := strconv.FormatFloat(qty, 'f', -1, 64)
	closeSide := closeSideFor(o.Side)

	slID, tpID, err := m.placeBrackets(ctx, o, closeSide, szStr, slStr, tpStr)
	if err != nil {
		m.escalate(ctx, o, qty, err)
		return
	}

	m.recordProtection(ctx, o, slID, tpID, slStr, tpStr, qty)
	logger.Info("🛡 %s: защита встала, SL %s / TP %s на объём %s", o.Symbol, slStr, tpStr, szStr)
	m.notifier.Notify(ctx, notify.Event{
		Severity: notify.SeverityInfo,
		Message:  fmt.Sprintf("🛡 %s: SL %s / TP %s на объём %s", o.Symbol, slStr, tpStr, szStr),
	})
}

// levels: приоритет за override-процентами из watchlist, дальше дефолты
// стратегии: SL от ATR (свежий снапшот), TP от risk:reward. Для шорта
// зеркально: SL выше входа, TP ниже.
func (m *Manager) levels(ctx context.Context, symbol string, entryPx float64, side models.Side) (slPx, tpPx float64) {
	var slOverride, tpOverride *float64
	if entry, err := m.watch.GetBySymbol(ctx, symbol); err == nil {
		slOverride = entry.SLPercentage
		tpOverride = entry.TPPercentage
	}

	dir := 1.0
	if side == models.SideSell {
		dir = -1.0
	}

	if slOverride != nil {
		slPx = entryPx * (1 - dir*(*slOverride)/100)
	} else {
		slPx = entryPx * (1 - dir*m.cfg.FallbackSLPct/100)
		if m.snaps != nil {
			if snap, err := m.snaps.Snapshot(ctx, symbol); err == nil && snap.ATR14 != nil {
				slPx = entryPx - dir*m.cfg.ATRMultSL*(*snap.ATR14)
			}
		}
	}

	if tpOverride != nil {
		tpPx = entryPx * (1 + dir*(*tpOverride)/100)
	} else {
		tpPx = entryPx + m.cfg.TakeProfitRR*(entryPx-slPx)
	}
	return slPx, tpPx
}

// cancelStaleLegs снимает прежнюю пару перед перекрытием. Если какую-то ногу
// снять не удалось, новую пару не ставим: частичное покрытие старыми ногами
// лучше двойного, следующий обход попробует снова.
func (m *Manager) cancelStaleLegs(ctx context.Context, o models.ExchangeOrder) bool {
	legs, err := m.orders.ListActiveLegs(ctx, o.IntentID)
	if err != nil {
		logger.Error("брекеты %s: список старых ног: %v", o.Symbol, err)
		return false
	}
	for _, leg := range legs {
		if err := m.ex.CancelAlgo(ctx, leg.Symbol, leg.ExchangeOrderID); err != nil {
			logger.Error("брекеты %s: снятие ноги %s: %v", o.Symbol, leg.ExchangeOrderID, err)
			return false
		}
		err := m.orders.UpdateStatusFresh(ctx, leg.ExchangeOrderID, func(fresh *models.ExchangeOrder) {
			fresh.Status = models.OrderCancelled
		})
		if err != nil {
			logger.Error("брекеты %s: статус снятой ноги %s: %v", o.Symbol, leg.ExchangeOrderID, err)
		}
	}
	return true
}

// placeBrackets ставит пару с ограниченным числом попыток. Если вторая
// нога не встала, первую снимаем: полубрекет опаснее его отсутствия.
func (m *Manager) placeBrackets(ctx context.Context, o models.ExchangeOrder, closeSide, sz, slPx, tpPx string) (slID, tpID string, err error) {
	attempts := m.cfg.BracketMaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		slID, err = m.ex.PlaceAlgo(ctx, okx.AlgoOrderRequest{
			InstID:    o.Symbol,
			Side:      closeSide,
			Sz:        sz,
			TriggerPx: slPx,
			AlgoClOID: models.ClientOrderID("sl:" + o.ExchangeOrderID),
			IsTP:      false,
		})
		if err != nil {
			logger.Error("брекеты %s: SL попытка %d: %v", o.Symbol, attempt, err)
			continue
		}

		tpID, err = m.ex.PlaceAlgo(ctx, okx.AlgoOrderRequest{
			InstID:    o.Symbol,
			Side:      closeSide,
			Sz:        sz,
			TriggerPx: tpPx,
			AlgoClOID: models.ClientOrderID("tp:" + o.ExchangeOrderID),
			IsTP:      true,
		})
		if err == nil {
			return slID, tpID, nil
		}

		logger.Error("брекеты %s: TP попытка %d: %v", o.Symbol, attempt, err)
		if cErr := m.ex.CancelAlgo(ctx, o.Symbol, slID); cErr != nil {
			logger.Error("брекеты %s: снятие полуноги SL %s: %v", o.Symbol, slID, cErr)
		}
	}
	return "", "", err
}

// escalate — аварийный путь. Три CRITICAL-стадии: отказ защиты, попытка
// автозакрытия, исход. Торговый kill-switch на этот путь не влияет.
func (m *Manager) escalate(ctx context.Context, o models.ExchangeOrder, qty float64, cause error) {
	m.notifier.Notify(ctx, notify.Event{
		Severity:   notify.SeverityCritical,
		ReasonCode: "UNPROTECTED_POSITION",
		Message: fmt.Sprintf("🚨 %s: SL/TP не встали после %d попыток\nОрдер: %s\nОшибка: %v",
			o.Symbol, m.cfg.BracketMaxAttempts, o.ExchangeOrderID, cause),
	})

	m.notifier.Notify(ctx, notify.Event{
		Severity:   notify.SeverityCritical,
		ReasonCode: "AUTO_CLOSE_ATTEMPT",
		Message: fmt.Sprintf("🚨 %s: аварийное закрытие рынком на весь залитый объём %v",
			o.Symbol, qty),
	})

	metrics.AutoClosesTotal.Inc()
	closeID, err := m.ex.CloseMarket(ctx, o.Symbol, exchangeSide(o.Side), qty,
		models.ClientOrderID("close:"+o.ExchangeOrderID))

	if err != nil {
		// позиция всё ещё голая: protected не трогаем, следующий обход
		// зайдёт на эскалацию снова
		logger.Error("🚨 %s: автозакрытие не удалось: %v", o.Symbol, err)
		m.notifier.Notify(ctx, notify.Event{
			Severity:   notify.SeverityCritical,
			ReasonCode: "AUTO_CLOSE_FAILED",
			Message: fmt.Sprintf("🚨 %s: автозакрытие НЕ УДАЛОСЬ, позиция не защищена\nОшибка: %v",
				o.Symbol, err),
		})
		return
	}

	m.markProtected(ctx, o.ExchangeOrderID, qty)
	m.notifier.Notify(ctx, notify.Event{
		Severity:   notify.SeverityCritical,
		ReasonCode: "AUTO_CLOSE_DONE",
		Message: fmt.Sprintf("✅ %s: позиция аварийно закрыта, ордер %s", o.Symbol, closeID),
	})
}

func (m *Manager) recordProtection(ctx context.Context, o models.ExchangeOrder, slID, tpID, slPx, tpPx string, qty float64) {
	slPrice, _ := strconv.ParseFloat(slPx, 64)
	tpPrice, _ := strconv.ParseFloat(tpPx, 64)
	closeSide := models.SideSell
	if o.Side == models.SideSell {
		closeSide = models.SideBuy
	}

	for _, leg := range []struct {
		id    string
		role  models.OrderRole
		price float64
	}{
		{slID, models.RoleStopLoss, slPrice},
		{tpID, models.RoleTakeProfit, tpPrice},
	} {
		err := m.orders.Insert(ctx, &models.ExchangeOrder{
			ExchangeOrderID:   leg.id,
			IntentID:          o.IntentID,
			Symbol:            o.Symbol,
			Side:              closeSide,
			OrdType:           "conditional",
			Status:            models.OrderActive,
			Role:              leg.role,
			RequestedQuantity: qty,
			Price:             leg.price,
			Protected:         true,
		})
		if err != nil {
			logger.Error("брекеты %s: проекция %s: %v", o.Symbol, leg.role, err)
		}
	}

	m.markProtected(ctx, o.ExchangeOrderID, qty)
}

func (m *Manager) markProtected(ctx context.Context, exchangeOrderID string, qty float64) {
	err := m.orders.UpdateStatusFresh(ctx, exchangeOrderID, func(fresh *models.ExchangeOrder) {
		fresh.Protected = true
		fresh.ProtectedQuantity = qty
	})
	if err != nil {
		logger.Error("брекеты: protected для %s: %v", exchangeOrderID, err)
	}
}

func closeSideFor(s models.Side) string {
	if s == models.SideSell {
		return "buy"
	}
	return "sell"
}

func exchangeSide(s models.Side) string {
	if s == models.SideSell {
		return "sell"
	}
	return "buy"
}
