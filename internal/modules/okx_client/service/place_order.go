package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
)

// PlaceOrderRequest — заявка на вход. ClOrdID — ключ идемпотентности решения:
// по нему же потом подтверждаем "а создался ли ордер" перед любым ретраем.
type PlaceOrderRequest struct {
	InstID  string
	Side    string // "buy"/"sell"
	OrdType string // "market"/"limit"
	Sz      string // уже округлён к лоту
	Px      string // пусто для market
	ClOrdID string
	TdMode  string // "cash"/"cross"
}

func (c *Client) PlaceOrder(ctx context.Context, r PlaceOrderRequest) (string, error) {
	if r.Sz == "" {
		return "", fmt.Errorf("PlaceOrder: empty size")
	}

	tdMode := r.TdMode
	if tdMode == "" {
		tdMode = "cash"
	}

	body := map[string]string{
		"instId":  r.InstID,
		"tdMode":  tdMode,
		"side":    r.Side,
		"ordType": r.OrdType,
		"sz":      r.Sz,
		"clOrdId": r.ClOrdID,
	}
	if r.Px != "" {
		body["px"] = r.Px
	}

	payload, err := sonic.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("PlaceOrder marshal: %w", err)
	}

	data, err := c.signedRequest(ctx, http.MethodPost, "/api/v5/trade/order", payload)
	if err != nil {
		return "", fmt.Errorf("PlaceOrder: %w", err)
	}

	var resp struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			OrdID string `json:"ordId"`
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("PlaceOrder decode: %w; body=%s", err, string(data))
	}

	// детальный статус важнее общего кода
	if len(resp.Data) > 0 && resp.Data[0].SCode != "0" {
		return "", fmt.Errorf("okx order rejected: sCode=%s sMsg=%s", resp.Data[0].SCode, resp.Data[0].SMsg)
	}
	if resp.Code != "0" {
		return "", fmt.Errorf("okx error: code=%s msg=%s", resp.Code, resp.Msg)
	}
	if len(resp.Data) == 0 || resp.Data[0].OrdID == "" {
		return "", fmt.Errorf("PlaceOrder: empty ordId, body=%s", string(data))
	}
	return resp.Data[0].OrdID, nil
}
