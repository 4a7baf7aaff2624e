package models

import "time"

type OrderStatus string

const (
	OrderNew             OrderStatus = "NEW"
	OrderActive          OrderStatus = "ACTIVE"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderUnknown         OrderStatus = "UNKNOWN"
)

type OrderRole string

const (
	RoleEntry      OrderRole = "ENTRY"
	RoleStopLoss   OrderRole = "STOP_LOSS"
	RoleTakeProfit OrderRole = "TAKE_PROFIT"
)

// ExchangeOrder — локальная проекция биржевого ордера. Мутирует её только
// реконсилер, и только после повторного чтения строки из стора.
type ExchangeOrder struct {
	ID              int64
	ExchangeOrderID string
	IntentID        int64
	Symbol          string
	Side            Side
	OrdType         string // market / limit / conditional
	Status          OrderStatus
	Role            OrderRole

	RequestedQuantity  float64
	CumulativeQuantity float64
	Price              float64
	AvgFillPrice       float64

	// Protected выставляется, когда по ENTRY-ордеру стоят SL/TP
	// (или позиция аварийно закрыта). ProtectedQuantity — объём, который
	// эти ноги покрывают: долив сверх него снимает флаг и ведёт к перекрытию.
	Protected         bool
	ProtectedQuantity float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s OrderStatus) Resolved() bool {
	switch s {
	case OrderFilled, OrderPartiallyFilled, OrderCancelled, OrderRejected:
		return true
	}
	return false
}

// Instrument — метаданные инструмента с OKX. TickSz оставляем строкой:
// хвостовые нули из неё определяют формат цен в заявках.
type Instrument struct {
	InstID string
	TickSz string
	LotSz  float64
	MinSz  float64
	CtVal  float64
	LastPx float64
	State  string
}
