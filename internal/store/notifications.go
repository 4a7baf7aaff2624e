package store

import (
	"context"
	"signal_bot/pkg/db"
	"time"

	"github.com/pkg/errors"
)

// NotificationRecord — строка журнала нотификаций.
type NotificationRecord struct {
	ID         int64
	SignalID   string
	Severity   string
	ReasonCode string
	Message    string
	Delivered  bool
	CreatedAt  time.Time
}

// Notifications — журнал исходящих алертов. Запись делается в том же
// логическом шаге, что и запись статуса интента, доставка — отдельно.
type Notifications struct {
	db db.TxManager
}

func NewNotifications(txm db.TxManager) *Notifications {
	return &Notifications{db: txm}
}

func (s *Notifications) Insert(ctx context.Context, rec *NotificationRecord) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Notifications.Insert")
		}
	}()

	row := s.db.Conn().QueryRow(ctx, `
		INSERT INTO notifications (signal_id, severity, reason_code, message, delivered)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at`,
		nullStr(rec.SignalID), rec.Severity, nullStr(rec.ReasonCode), rec.Message, rec.Delivered)
	return row.Scan(&rec.ID, &rec.CreatedAt)
}

func (s *Notifications) MarkDelivered(ctx context.Context, id int64) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Notifications.MarkDelivered")
		}
	}()

	_, err = s.db.Conn().Exec(ctx,
		`UPDATE notifications SET delivered = TRUE, delivered_at = now() WHERE id = $1`, id)
	return err
}

// ListUndelivered — хвост на доотправку фоновым ресендером.
func (s *Notifications) ListUndelivered(ctx context.Context, limit int) (out []NotificationRecord, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Notifications.ListUndelivered")
		}
	}()

	rows, err := s.db.Conn().Query(ctx, `
		SELECT id, coalesce(signal_id,''), severity, coalesce(reason_code,''), message, delivered, created_at
		FROM notifications WHERE NOT delivered ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r NotificationRecord
		if err = rows.Scan(&r.ID, &r.SignalID, &r.Severity, &r.ReasonCode, &r.Message, &r.Delivered, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
