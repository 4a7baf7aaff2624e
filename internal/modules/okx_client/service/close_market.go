package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
)

// CloseMarket — аварийное закрытие позиции рыночным ордером. Используется
// брекет-менеджером, когда защитные ордера так и не встали: лучше выйти
// сейчас, чем держать незащищённую позицию.
func (c *Client) CloseMarket(ctx context.Context, instID string, entrySide string, qty float64, clOrdID string) (string, error) {
	closeSide := "sell"
	if entrySide == "sell" {
		closeSide = "buy"
	}
	return c.PlaceOrder(ctx, PlaceOrderRequest{
		InstID:  instID,
		Side:    closeSide,
		OrdType: "market",
		Sz:      strconv.FormatFloat(qty, 'f', -1, 64),
		ClOrdID: clOrdID,
	})
}

// CancelOrder снимает обычный (не условный) ордер по бирже-id.
func (c *Client) CancelOrder(ctx context.Context, instID, ordID string) error {
	payload, err := sonic.Marshal(map[string]string{
		"instId": instID,
		"ordId":  ordID,
	})
	if err != nil {
		return fmt.Errorf("CancelOrder marshal: %w", err)
	}

	data, err := c.signedRequest(ctx, http.MethodPost, "/api/v5/trade/cancel-order", payload)
	if err != nil {
		return fmt.Errorf("CancelOrder: %w", err)
	}

	var resp struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("CancelOrder decode: %w", err)
	}
	if len(resp.Data) > 0 && resp.Data[0].SCode != "0" {
		return fmt.Errorf("okx cancel rejected: sCode=%s sMsg=%s", resp.Data[0].SCode, resp.Data[0].SMsg)
	}
	if resp.Code != "0" {
		return fmt.Errorf("okx error: code=%s msg=%s", resp.Code, resp.Msg)
	}
	return nil
}
