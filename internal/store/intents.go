package store

import (
	"context"
	"signal_bot/internal/models"
	"signal_bot/internal/reason"
	"signal_bot/pkg/db"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Intents — персистентная машина состояний OrderIntent.
// PENDING -> PLACED -> {FILLED, FAILED}; терминальные SKIPPED/DEDUP_SKIPPED.
// Вставка идёт до похода на биржу, гонки решает уникальный индекс.
type Intents struct {
	db db.TxManager
}

func NewIntents(txm db.TxManager) *Intents {
	return &Intents{db: txm}
}

// Insert создаёт строку интента. Конфликт по idempotency_key возвращается
// как ErrDuplicateKey — вызывающий обязан завершить попытку как DEDUP_SKIPPED
// и не ходить на биржу второй раз.
func (s *Intents) Insert(ctx context.Context, in *models.OrderIntent) (err error) {
	defer func() {
		if err != nil && !errors.Is(err, ErrDuplicateKey) {
			err = errors.Wrap(err, "Intents.Insert")
		}
	}()

	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctxTx, `
			INSERT INTO order_intents (
				idempotency_key, signal_id, symbol, side, status,
				decision_type, reason_code, reason_message, context_json,
				exchange_error_snippet, exchange_order_id, correlation_id
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			RETURNING id, created_at`,
			in.IdempotencyKey, in.SignalID, in.Symbol, string(in.Side), string(in.Status),
			nullStr(string(in.DecisionType)), nullStr(string(in.ReasonCode)), nullStr(in.ReasonMessage),
			in.ContextJSON, nullStr(in.ExchangeErrorSnippet), nullStr(in.ExchangeOrderID), in.CorrelationID,
		)
		scanErr := row.Scan(&in.ID, &in.CreatedAt)
		if scanErr != nil && isUniqueViolation(scanErr) {
			return ErrDuplicateKey
		}
		return scanErr
	})
}

// MarkPlaced переводит PENDING -> PLACED с биржевым id ордера.
func (s *Intents) MarkPlaced(ctx context.Context, id int64, exchangeOrderID string) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Intents.MarkPlaced")
		}
	}()

	_, err = s.db.Conn().Exec(ctx, `
		UPDATE order_intents
		SET status = $2, exchange_order_id = $3
		WHERE id = $1 AND status = $4`,
		id, string(models.IntentPlaced), exchangeOrderID, string(models.IntentPending))
	return err
}

// MarkFailed фиксирует терминальный FAILED с классифицированной причиной.
func (s *Intents) MarkFailed(ctx context.Context, id int64, code reason.Code, msg, snippet string) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Intents.MarkFailed")
		}
	}()

	_, err = s.db.Conn().Exec(ctx, `
		UPDATE order_intents
		SET status = $2, decision_type = $3, reason_code = $4,
		    reason_message = $5, exchange_error_snippet = $6
		WHERE id = $1`,
		id, string(models.IntentFailed), string(models.DecisionFailed),
		string(code), msg, snippet)
	return err
}

func (s *Intents) MarkFilled(ctx context.Context, exchangeOrderID string) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Intents.MarkFilled")
		}
	}()

	_, err = s.db.Conn().Exec(ctx, `
		UPDATE order_intents SET status = $2
		WHERE exchange_order_id = $1 AND status = $3`,
		exchangeOrderID, string(models.IntentFilled), string(models.IntentPlaced))
	return err
}

// CountOpenBySymbol — есть ли уже незакрытый интент по символу.
func (s *Intents) CountOpenBySymbol(ctx context.Context, symbol string) (n int, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Intents.CountOpenBySymbol")
		}
	}()

	row := s.db.Conn().QueryRow(ctx, `
		SELECT count(*) FROM order_intents
		WHERE symbol = $1 AND status IN ($2, $3)`,
		symbol, string(models.IntentPending), string(models.IntentPlaced))
	err = row.Scan(&n)
	return n, err
}

func (s *Intents) CountOpenTotal(ctx context.Context) (n int, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Intents.CountOpenTotal")
		}
	}()

	row := s.db.Conn().QueryRow(ctx, `
		SELECT count(*) FROM order_intents
		WHERE status IN ($1, $2)`,
		string(models.IntentPending), string(models.IntentPlaced))
	err = row.Scan(&n)
	return n, err
}

// StuckPending — интенты, зависшие в PENDING дольше порога: процесс упал
// между вставкой и ответом биржи. Реконсилер доигрывает их по истории.
func (s *Intents) StuckPending(ctx context.Context, olderThan time.Duration) (out []models.OrderIntent, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Intents.StuckPending")
		}
	}()

	rows, err := s.db.Conn().Query(ctx, `
		SELECT id, idempotency_key, signal_id, symbol, side, status,
		       coalesce(exchange_order_id, ''), correlation_id, created_at
		FROM order_intents
		WHERE status = $1 AND created_at < now() - $2::interval`,
		string(models.IntentPending), olderThan.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var in models.OrderIntent
		var side, status string
		if err = rows.Scan(&in.ID, &in.IdempotencyKey, &in.SignalID, &in.Symbol,
			&side, &status, &in.ExchangeOrderID, &in.CorrelationID, &in.CreatedAt); err != nil {
			return nil, err
		}
		in.Side = models.Side(side)
		in.Status = models.IntentStatus(status)
		out = append(out, in)
	}
	return out, rows.Err()
}
