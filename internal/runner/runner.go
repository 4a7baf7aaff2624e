package runner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"signal_bot/internal/metrics"
	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	diag "signal_bot/internal/modules/diagnostics/service"
	gate "signal_bot/internal/modules/gatekeeper/service"
	orch "signal_bot/internal/modules/orchestrator/service"
	sig "signal_bot/internal/modules/signal/service"
	"signal_bot/internal/throttle"
	"signal_bot/pkg/logger"
)

type SnapshotSource interface {
	Snapshot(ctx context.Context, symbol string) (models.IndicatorSnapshot, error)
}

type Subscriber interface {
	EnsureSubscribed(instIDs []string)
}

type WatchlistSource interface {
	GetAll(ctx context.Context) ([]models.WatchlistEntry, error)
}

type SignalJournal interface {
	Insert(ctx context.Context, signalID string, d *models.SignalDecision, price float64) error
}

type Gate interface {
	Check(ctx context.Context, d models.SignalDecision) (models.WatchlistEntry, gate.Verdict, error)
}

// Runner — тикающий цикл оценки. Каждый тик: свежий watchlist из стора,
// снапшоты по символам через ограниченный пул воркеров, генератор,
// гейткипер, оркестратор. Между тиками никакого состояния по символам,
// вся правда в сторе.
type Runner struct {
	cfg      *config.Config
	watch    WatchlistSource
	signals  SignalJournal
	provider SnapshotSource
	stream   Subscriber
	rules    *sig.RuleSet
	gen      *sig.Generator
	gate     Gate
	orch     *orch.Orchestrator
	dedup    *throttle.Dedup
	health   *diag.State
}

func New(
	cfg *config.Config,
	watch WatchlistSource,
	signals SignalJournal,
	provider SnapshotSource,
	stream Subscriber,
	rules *sig.RuleSet,
	gen *sig.Generator,
	g Gate,
	o *orch.Orchestrator,
	health *diag.State,
) *Runner {
	return &Runner{
		cfg:      cfg,
		watch:    watch,
		signals:  signals,
		provider: provider,
		stream:   stream,
		rules:    rules,
		gen:      gen,
		gate:     g,
		orch:     o,
		dedup:    throttle.NewDedup(cfg.DedupTTL),
		health:   health,
	}
}

func (r *Runner) Run(ctx context.Context) {
	logger.Info("🚀 раннер запущен: тик %s, воркеров %d", r.cfg.TickInterval, r.cfg.EvalWorkers)

	t := time.NewTicker(r.cfg.TickInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("⏹ раннер остановлен")
			return
		case <-t.C:
			r.Tick(ctx)
		}
	}
}

// Tick — один проход по watchlist.
func (r *Runner) Tick(ctx context.Context) {
	r.health.TouchTick(time.Now())

	entries, err := r.watch.GetAll(ctx)
	if err != nil {
		logger.Error("раннер: watchlist: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	symbols := make([]string, 0, len(entries))
	for _, e := range entries {
		symbols = append(symbols, e.Symbol)
	}
	if r.stream != nil {
		r.stream.EnsureSubscribed(symbols)
	}

	workers := r.cfg.EvalWorkers
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan models.WatchlistEntry)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				r.evaluate(ctx, entry)
			}
		}()
	}

	for _, e := range entries {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case jobs <- e:
		}
	}
	close(jobs)
	wg.Wait()
}

func (r *Runner) evaluate(ctx context.Context, entry models.WatchlistEntry) {
	// антидубль на входе: перехлёст циклов опроса не должен родить
	// два решения за один тик
	if !r.dedup.Acquire(entry.Symbol) {
		logger.Info("⏭ %s: дубль оценки в пределах TTL, пропуск", entry.Symbol)
		return
	}

	snapCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	snap, err := r.provider.Snapshot(snapCtx, entry.Symbol)
	cancel()
	if err != nil {
		logger.Warn("📉 %s: снапшот не собрался: %v", entry.Symbol, err)
		return
	}

	d := r.gen.Evaluate(snap, entry, r.rules.Lookup(entry.StrategyKey))
	metrics.SignalsTotal.WithLabelValues(d.Symbol, string(d.Side)).Inc()

	signalID := uuid.NewString()
	if err := r.signals.Insert(ctx, signalID, &d, snap.Price); err != nil {
		logger.Error("раннер: журнал сигналов %s: %v", entry.Symbol, err)
		// решение без журнальной строки дальше не идёт: диагностика
		// сверяет сигналы с интентами один-к-одному
		return
	}

	if !d.Actionable() {
		return
	}
	logger.Info("📊 %s: %s по %.4f (%d причин)", d.Symbol, d.Side, d.Price, len(d.Rationale))

	fresh, verdict, err := r.gate.Check(ctx, d)
	if err != nil {
		logger.Error("раннер: гейткипер %s: %v", entry.Symbol, err)
		return
	}
	if !verdict.Passed() {
		logger.Info("🚫 %s: %s (%s)", d.Symbol, verdict.Reason, verdict.Message)
		if err := r.orch.RecordSkip(ctx, signalID, d, verdict.Reason, verdict.Message); err != nil {
			logger.Error("раннер: запись скипа %s: %v", entry.Symbol, err)
		}
		return
	}

	if _, err := r.orch.Execute(ctx, signalID, d, fresh); err != nil {
		logger.Error("раннер: оркестратор %s: %v", entry.Symbol, err)
	}
}
