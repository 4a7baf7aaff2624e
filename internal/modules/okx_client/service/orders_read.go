package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// GetOrderHistory — терминальные состояния (включая свежие филлы).
// Реконсилер обязан звать её ДО GetOpenOrders: история несёт филлы, и если
// сначала смотреть open-orders, только что исполнившийся ордер ещё висит
// там протухшим "live" и уедет в ложный CANCELLED.
func (c *Client) GetOrderHistory(ctx context.Context, instID string) ([]OrderState, error) {
	path := "/api/v5/trade/orders-history?instType=SPOT"
	if instID != "" {
		path += "&instId=" + url.QueryEscape(instID)
	}
	return c.fetchOrders(ctx, path, "GetOrderHistory")
}

func (c *Client) GetOpenOrders(ctx context.Context) ([]OrderState, error) {
	return c.fetchOrders(ctx, "/api/v5/trade/orders-pending?instType=SPOT", "GetOpenOrders")
}

// GetOrderByClientID — точечное подтверждение "создался ли ордер" по
// клиентскому id. Единственный легальный способ узнать это перед ретраем.
func (c *Client) GetOrderByClientID(ctx context.Context, instID, clOrdID string) (OrderState, bool, error) {
	path := "/api/v5/trade/order?instId=" + url.QueryEscape(instID) + "&clOrdId=" + url.QueryEscape(clOrdID)
	data, err := c.signedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return OrderState{}, false, fmt.Errorf("GetOrderByClientID: %w", err)
	}

	var resp ordersResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return OrderState{}, false, fmt.Errorf("GetOrderByClientID decode: %w", err)
	}
	// 51603 — ордер не существует; это штатный ответ, а не ошибка
	if resp.Code == "51603" {
		return OrderState{}, false, nil
	}
	if resp.Code != "0" {
		return OrderState{}, false, fmt.Errorf("okx error: code=%s msg=%s", resp.Code, resp.Msg)
	}
	if len(resp.Data) == 0 {
		return OrderState{}, false, nil
	}
	return parseOrderRow(resp.Data[0]), true, nil
}

func (c *Client) fetchOrders(ctx context.Context, path, op string) ([]OrderState, error) {
	data, err := c.signedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var resp ordersResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%s decode: %w", op, err)
	}
	if resp.Code != "0" {
		return nil, fmt.Errorf("okx error: code=%s msg=%s", resp.Code, resp.Msg)
	}

	out := make([]OrderState, 0, len(resp.Data))
	for _, row := range resp.Data {
		out = append(out, parseOrderRow(row))
	}
	return out, nil
}

func parseOrderRow(row orderRow) OrderState {
	px, _ := strconv.ParseFloat(row.Px, 64)
	sz, _ := strconv.ParseFloat(row.Sz, 64)
	fill, _ := strconv.ParseFloat(row.AccFillSz, 64)
	avg, _ := strconv.ParseFloat(row.AvgPx, 64)
	return OrderState{
		OrdID:     row.OrdID,
		ClOrdID:   row.ClOrdID,
		InstID:    row.InstID,
		Side:      row.Side,
		OrdType:   row.OrdType,
		State:     row.State,
		Px:        px,
		Sz:        sz,
		AccFillSz: fill,
		AvgPx:     avg,
	}
}
