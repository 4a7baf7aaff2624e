package store

import (
	"context"
	"signal_bot/internal/models"
	"signal_bot/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Watchlist читает конфигурацию по символам. Только чтение: CRUD живёт во
// внешнем дашборде. Каждая оценка ходит сюда заново — см. models.WatchlistEntry.
type Watchlist struct {
	db db.TxManager
}

func NewWatchlist(txm db.TxManager) *Watchlist {
	return &Watchlist{db: txm}
}

const watchlistColumns = `id, symbol, exchange_id, alert_enabled, buy_alert_enabled,
	sell_alert_enabled, trade_enabled, trade_amount_usd, margin, leverage,
	sl_percentage, tp_percentage, sl_tp_mode, buy_target, strategy_key,
	cooldown_sec, updated_at`

func (w *Watchlist) GetAll(ctx context.Context) (entries []models.WatchlistEntry, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Watchlist.GetAll")
		}
	}()

	rows, err := w.db.Conn().Query(ctx, `SELECT `+watchlistColumns+` FROM watchlist ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		e, scanErr := scanWatchlistEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetBySymbol — свежая строка конфигурации непосредственно перед решением.
func (w *Watchlist) GetBySymbol(ctx context.Context, symbol string) (entry models.WatchlistEntry, err error) {
	defer func() {
		if err != nil && !errors.Is(err, ErrNotFound) {
			err = errors.Wrap(err, "Watchlist.GetBySymbol")
		}
	}()

	rows, err := w.db.Conn().Query(ctx, `SELECT `+watchlistColumns+` FROM watchlist WHERE symbol = $1`, symbol)
	if err != nil {
		return models.WatchlistEntry{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		return models.WatchlistEntry{}, ErrNotFound
	}
	return scanWatchlistEntry(rows)
}

func scanWatchlistEntry(row pgx.Row) (models.WatchlistEntry, error) {
	var e models.WatchlistEntry
	var mode string
	err := row.Scan(
		&e.ID, &e.Symbol, &e.ExchangeID, &e.AlertEnabled, &e.BuyAlertEnabled,
		&e.SellAlertEnabled, &e.TradeEnabled, &e.TradeAmountUSD, &e.Margin, &e.Leverage,
		&e.SLPercentage, &e.TPPercentage, &mode, &e.BuyTarget, &e.StrategyKey,
		&e.CooldownSec, &e.UpdatedAt,
	)
	if err != nil {
		return models.WatchlistEntry{}, err
	}
	e.SLTPMode = models.SLTPMode(mode)
	return e, nil
}
