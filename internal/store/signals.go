package store

import (
	"context"
	"signal_bot/internal/models"
	"signal_bot/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// Signals — журнал сгенерированных actionable-сигналов. Нужен диагностике:
// сигнал без единственного интента — нарушение инварианта.
type Signals struct {
	db db.TxManager
}

func NewSignals(txm db.TxManager) *Signals {
	return &Signals{db: txm}
}

func (s *Signals) Insert(ctx context.Context, signalID string, d *models.SignalDecision, price float64) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Signals.Insert")
		}
	}()

	rationale, err := sonic.Marshal(d.Rationale)
	if err != nil {
		return err
	}
	_, err = s.db.Conn().Exec(ctx, `
		INSERT INTO signals (signal_id, symbol, side, price, rationale)
		VALUES ($1,$2,$3,$4,$5)`,
		signalID, d.Symbol, string(d.Side), price, rationale)
	return err
}
