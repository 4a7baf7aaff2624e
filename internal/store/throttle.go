package store

import (
	"context"
	"signal_bot/internal/models"
	"signal_bot/pkg/db"

	"github.com/pkg/errors"
)

// Throttle — персистентный кулдаун по символу: когда последний раз алертили
// и по какой цене. Переживает рестарт, в отличие от in-memory антидубля.
type Throttle struct {
	db db.TxManager
}

func NewThrottle(txm db.TxManager) *Throttle {
	return &Throttle{db: txm}
}

func (s *Throttle) Get(ctx context.Context, symbol string) (st models.ThrottleState, err error) {
	defer func() {
		if err != nil && !errors.Is(err, ErrNotFound) {
			err = errors.Wrap(err, "Throttle.Get")
		}
	}()

	rows, err := s.db.Conn().Query(ctx,
		`SELECT symbol, last_alert_at, previous_price FROM throttle_state WHERE symbol = $1`, symbol)
	if err != nil {
		return models.ThrottleState{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		return models.ThrottleState{}, ErrNotFound
	}
	err = rows.Scan(&st.Symbol, &st.LastAlertAt, &st.PreviousPrice)
	return st, err
}

// Touch фиксирует принятый сигнал: сбрасывает окно кулдауна и запоминает цену.
func (s *Throttle) Touch(ctx context.Context, symbol string, price float64) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Throttle.Touch")
		}
	}()

	_, err = s.db.Conn().Exec(ctx, `
		INSERT INTO throttle_state (symbol, last_alert_at, previous_price)
		VALUES ($1, now(), $2)
		ON CONFLICT (symbol) DO UPDATE
		SET last_alert_at = now(), previous_price = $2`,
		symbol, price)
	return err
}
