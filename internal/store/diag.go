package store

import (
	"context"
	"signal_bot/pkg/db"
	"time"

	"github.com/pkg/errors"
)

// DiagReport — срез за окно времени для контрактной проверки инвариантов:
// каждый сигнал с нотификацией имеет ровно один интент, каждый FAILED
// доехал до телеграма.
type DiagReport struct {
	WindowFrom            time.Time `json:"window_from"`
	WindowTo              time.Time `json:"window_to"`
	TotalSignals          int       `json:"total_signals"`
	MissingIntent         int       `json:"missing_intent"`
	NullDecisions         int       `json:"null_decisions"`
	FailedWithoutTelegram int       `json:"failed_without_telegram"`
	Violations            []string  `json:"violations"`
}

type Diagnostics struct {
	db db.TxManager
}

func NewDiagnostics(txm db.TxManager) *Diagnostics {
	return &Diagnostics{db: txm}
}

func (s *Diagnostics) Report(ctx context.Context, from, to time.Time) (rep DiagReport, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Diagnostics.Report")
		}
	}()

	rep.WindowFrom, rep.WindowTo = from, to
	rep.Violations = []string{}
	conn := s.db.Conn()

	row := conn.QueryRow(ctx,
		`SELECT count(*) FROM signals WHERE created_at BETWEEN $1 AND $2`, from, to)
	if err = row.Scan(&rep.TotalSignals); err != nil {
		return rep, err
	}

	// сигналы, по которым уходила нотификация, но интента нет (или больше одного)
	rows, err := conn.Query(ctx, `
		SELECT n.signal_id, count(oi.id)
		FROM notifications n
		LEFT JOIN order_intents oi ON oi.signal_id = n.signal_id
		WHERE n.signal_id IS NOT NULL AND n.created_at BETWEEN $1 AND $2
		GROUP BY n.signal_id
		HAVING count(oi.id) <> 1`, from, to)
	if err != nil {
		return rep, err
	}
	for rows.Next() {
		var sigID string
		var cnt int
		if err = rows.Scan(&sigID, &cnt); err != nil {
			rows.Close()
			return rep, err
		}
		if cnt == 0 {
			rep.MissingIntent++
			rep.Violations = append(rep.Violations, "missing_intent: signal "+sigID)
		} else {
			rep.Violations = append(rep.Violations, "duplicate_intent: signal "+sigID)
		}
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return rep, err
	}

	// сигналы вообще без решения
	row = conn.QueryRow(ctx, `
		SELECT count(*)
		FROM signals s
		LEFT JOIN order_intents oi ON oi.signal_id = s.signal_id
		WHERE s.created_at BETWEEN $1 AND $2 AND oi.id IS NULL`, from, to)
	if err = row.Scan(&rep.NullDecisions); err != nil {
		return rep, err
	}

	// FAILED-интенты без нотификации с тем же reason_code
	rows, err = conn.Query(ctx, `
		SELECT oi.signal_id
		FROM order_intents oi
		LEFT JOIN notifications n
		  ON n.signal_id = oi.signal_id AND n.reason_code = oi.reason_code
		WHERE oi.status = 'FAILED' AND oi.created_at BETWEEN $1 AND $2 AND n.id IS NULL`, from, to)
	if err != nil {
		return rep, err
	}
	for rows.Next() {
		var sigID string
		if err = rows.Scan(&sigID); err != nil {
			rows.Close()
			return rep, err
		}
		rep.FailedWithoutTelegram++
		rep.Violations = append(rep.Violations, "failed_without_telegram: signal "+sigID)
	}
	rows.Close()
	return rep, rows.Err()
}
