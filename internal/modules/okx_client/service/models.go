package service

// OrderState — состояние ордера по данным OKX (история или открытые).
// Числа уже распаршены из строковых полей ответа.
type OrderState struct {
	OrdID     string
	ClOrdID   string
	InstID    string
	Side      string // buy/sell
	OrdType   string
	State     string // live / partially_filled / filled / canceled / mmp_canceled ...
	Px        float64
	Sz        float64
	AccFillSz float64
	AvgPx     float64
}

type orderRow struct {
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	InstID    string `json:"instId"`
	Side      string `json:"side"`
	OrdType   string `json:"ordType"`
	State     string `json:"state"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
}

type ordersResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data []orderRow `json:"data"`
}

type instrumentRow struct {
	InstID string `json:"instId"`
	TickSz string `json:"tickSz"`
	LotSz  string `json:"lotSz"`
	MinSz  string `json:"minSz"`
	CtVal  string `json:"ctVal"`
	CtMult string `json:"ctMult"`
	State  string `json:"state"`
}
