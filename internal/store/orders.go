package store

import (
	"context"
	"signal_bot/internal/models"
	"signal_bot/pkg/db"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Orders — проекции биржевых ордеров. Пишет сюда оркестратор (создание)
// и реконсилер (статусы). Обновление всегда через перечитывание строки —
// см. UpdateStatusFresh.
type Orders struct {
	db db.TxManager
}

func NewOrders(txm db.TxManager) *Orders {
	return &Orders{db: txm}
}

const orderColumns = `id, exchange_order_id, intent_id, symbol, side, ord_type, status,
	order_role, requested_quantity, cumulative_quantity, price, avg_fill_price,
	protected, protected_quantity, created_at, updated_at`

func (s *Orders) Insert(ctx context.Context, o *models.ExchangeOrder) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Orders.Insert")
		}
	}()

	row := s.db.Conn().QueryRow(ctx, `
		INSERT INTO exchange_orders (
			exchange_order_id, intent_id, symbol, side, ord_type, status,
			order_role, requested_quantity, cumulative_quantity, price, avg_fill_price,
			protected, protected_quantity
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id, created_at, updated_at`,
		o.ExchangeOrderID, o.IntentID, o.Symbol, string(o.Side), o.OrdType, string(o.Status),
		string(o.Role), o.RequestedQuantity, o.CumulativeQuantity, o.Price, o.AvgFillPrice,
		o.Protected, o.ProtectedQuantity)
	return row.Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func (s *Orders) GetByExchangeID(ctx context.Context, exchangeOrderID string) (o models.ExchangeOrder, err error) {
	defer func() {
		if err != nil && !errors.Is(err, ErrNotFound) {
			err = errors.Wrap(err, "Orders.GetByExchangeID")
		}
	}()

	rows, err := s.db.Conn().Query(ctx,
		`SELECT `+orderColumns+` FROM exchange_orders WHERE exchange_order_id = $1`, exchangeOrderID)
	if err != nil {
		return models.ExchangeOrder{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		return models.ExchangeOrder{}, ErrNotFound
	}
	return scanOrder(rows)
}

// ListUnresolved — отслеживаемые ордера, по которым ещё ждём терминального
// статуса. Это рабочий список каждого прохода реконсилера; список собирается
// заново на каждый проход, между итерациями ничего не кэшируется.
func (s *Orders) ListUnresolved(ctx context.Context) (out []models.ExchangeOrder, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Orders.ListUnresolved")
		}
	}()

	rows, err := s.db.Conn().Query(ctx, `
		SELECT `+orderColumns+` FROM exchange_orders
		WHERE status IN ($1,$2,$3,$4)
		ORDER BY created_at`,
		string(models.OrderNew), string(models.OrderActive),
		string(models.OrderPartiallyFilled), string(models.OrderUnknown))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		o, scanErr := scanOrder(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListUnprotectedFills — залитые ENTRY без активной защиты. Самый горячий
// список в системе: по нему работает брекет-менеджер.
func (s *Orders) ListUnprotectedFills(ctx context.Context, grace time.Duration) (out []models.ExchangeOrder, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Orders.ListUnprotectedFills")
		}
	}()

	rows, err := s.db.Conn().Query(ctx, `
		SELECT `+orderColumns+` FROM exchange_orders
		WHERE order_role = $1 AND status IN ($2,$3)
		  AND NOT protected
		  AND updated_at < now() - $4::interval
		ORDER BY updated_at`,
		string(models.RoleEntry), string(models.OrderFilled),
		string(models.OrderPartiallyFilled), grace.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		o, scanErr := scanOrder(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListActiveLegs — живые SL/TP-ноги интента. Нужны брекет-менеджеру при
// перекрытии защиты после долива.
func (s *Orders) ListActiveLegs(ctx context.Context, intentID int64) (out []models.ExchangeOrder, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Orders.ListActiveLegs")
		}
	}()

	rows, err := s.db.Conn().Query(ctx, `
		SELECT `+orderColumns+` FROM exchange_orders
		WHERE intent_id = $1 AND order_role IN ($2,$3) AND status IN ($4,$5)
		ORDER BY created_at`,
		intentID, string(models.RoleStopLoss), string(models.RoleTakeProfit),
		string(models.OrderNew), string(models.OrderActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		o, scanErr := scanOrder(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateStatusFresh перечитывает строку в той же транзакции (FOR UPDATE)
// и только потом мутирует. Слепой overwrite возможно-протухшей in-memory
// копии — это как раз потерянные обновления при конкурентном поллинге.
func (s *Orders) UpdateStatusFresh(
	ctx context.Context,
	exchangeOrderID string,
	apply func(fresh *models.ExchangeOrder),
) (err error) {
	defer func() {
		if err != nil && !errors.Is(err, ErrNotFound) {
			err = errors.Wrap(err, "Orders.UpdateStatusFresh")
		}
	}()

	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		rows, qErr := tx.Query(ctxTx,
			`SELECT `+orderColumns+` FROM exchange_orders WHERE exchange_order_id = $1 FOR UPDATE`,
			exchangeOrderID)
		if qErr != nil {
			return qErr
		}
		if !rows.Next() {
			rows.Close()
			return ErrNotFound
		}
		fresh, scanErr := scanOrder(rows)
		rows.Close()
		if scanErr != nil {
			return scanErr
		}

		apply(&fresh)

		_, execErr := tx.Exec(ctxTx, `
			UPDATE exchange_orders
			SET status = $2, cumulative_quantity = $3, avg_fill_price = $4,
			    protected = $5, protected_quantity = $6, updated_at = now()
			WHERE exchange_order_id = $1`,
			exchangeOrderID, string(fresh.Status), fresh.CumulativeQuantity,
			fresh.AvgFillPrice, fresh.Protected, fresh.ProtectedQuantity)
		return execErr
	})
}

func scanOrder(row pgx.Row) (models.ExchangeOrder, error) {
	var o models.ExchangeOrder
	var side, status, role string
	err := row.Scan(
		&o.ID, &o.ExchangeOrderID, &o.IntentID, &o.Symbol, &side, &o.OrdType, &status,
		&role, &o.RequestedQuantity, &o.CumulativeQuantity, &o.Price, &o.AvgFillPrice,
		&o.Protected, &o.ProtectedQuantity, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return models.ExchangeOrder{}, err
	}
	o.Side = models.Side(side)
	o.Status = models.OrderStatus(status)
	o.Role = models.OrderRole(role)
	return o, nil
}
