package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
)

// AlgoOrderRequest — условный ордер (стоп или тейк). Цены приходят уже
// округлёнными к тику: SL вниз для лонга, TP вверх, сторона закрытия
// противоположна входу.
type AlgoOrderRequest struct {
	InstID    string
	Side      string // сторона закрытия
	Sz        string
	TriggerPx string
	OrderPx   string // "-1" для market-исполнения по триггеру
	AlgoClOID string
	IsTP      bool
}

// PlaceAlgo ставит один условный ордер и возвращает algoId.
func (c *Client) PlaceAlgo(ctx context.Context, r AlgoOrderRequest) (string, error) {
	orderPx := r.OrderPx
	if orderPx == "" {
		orderPx = "-1"
	}

	body := map[string]string{
		"instId":      r.InstID,
		"tdMode":      "cash",
		"side":        r.Side,
		"ordType":     "conditional",
		"sz":          r.Sz,
		"algoClOrdId": r.AlgoClOID,
	}
	if r.IsTP {
		body["tpTriggerPx"] = r.TriggerPx
		body["tpOrdPx"] = orderPx
	} else {
		body["slTriggerPx"] = r.TriggerPx
		body["slOrdPx"] = orderPx
	}

	payload, err := sonic.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("PlaceAlgo marshal: %w", err)
	}

	data, err := c.signedRequest(ctx, http.MethodPost, "/api/v5/trade/order-algo", payload)
	if err != nil {
		return "", fmt.Errorf("PlaceAlgo: %w", err)
	}

	var resp struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			AlgoID string `json:"algoId"`
			SCode  string `json:"sCode"`
			SMsg   string `json:"sMsg"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("PlaceAlgo decode: %w; body=%s", err, string(data))
	}

	if len(resp.Data) > 0 && resp.Data[0].SCode != "0" {
		return "", fmt.Errorf("okx algo rejected: sCode=%s sMsg=%s", resp.Data[0].SCode, resp.Data[0].SMsg)
	}
	if resp.Code != "0" {
		return "", fmt.Errorf("okx error: code=%s msg=%s", resp.Code, resp.Msg)
	}
	if len(resp.Data) == 0 || resp.Data[0].AlgoID == "" {
		return "", fmt.Errorf("PlaceAlgo: empty algoId, body=%s", string(data))
	}
	return resp.Data[0].AlgoID, nil
}

// CancelAlgo снимает условный ордер. Нужен при откате половины брекета,
// когда вторая нога не встала.
func (c *Client) CancelAlgo(ctx context.Context, instID, algoID string) error {
	payload, err := sonic.Marshal([]map[string]string{{
		"instId": instID,
		"algoId": algoID,
	}})
	if err != nil {
		return fmt.Errorf("CancelAlgo marshal: %w", err)
	}

	data, err := c.signedRequest(ctx, http.MethodPost, "/api/v5/trade/cancel-algos", payload)
	if err != nil {
		return fmt.Errorf("CancelAlgo: %w", err)
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
		return fmt.Errorf("CancelAlgo decode: %w", err)
	}
	if len(resp.Data) > 0 && resp.Data[0].SCode != "0" {
		return fmt.Errorf("okx cancel-algo rejected: sCode=%s sMsg=%s", resp.Data[0].SCode, resp.Data[0].SMsg)
	}
	if resp.Code != "0" {
		return fmt.Errorf("okx error: code=%s msg=%s", resp.Code, resp.Msg)
	}
	return nil
}
