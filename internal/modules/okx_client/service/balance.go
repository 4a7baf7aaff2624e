package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// AvailableUSDT — свободный остаток USDT торгового аккаунта.
// Гейткипер сверяет его с суммой сделки перед созданием интента.
func (c *Client) AvailableUSDT(ctx context.Context) (float64, error) {
	data, err := c.signedRequest(ctx, http.MethodGet, "/api/v5/account/balance?ccy=USDT", nil)
	if err != nil {
		return 0, fmt.Errorf("AvailableUSDT: %w", err)
	}

	var resp struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			Details []struct {
				Ccy      string `json:"ccy"`
				AvailBal string `json:"availBal"`
			} `json:"details"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("AvailableUSDT decode: %w", err)
	}
	if resp.Code != "0" {
		return 0, fmt.Errorf("okx error: code=%s msg=%s", resp.Code, resp.Msg)
	}

	for _, acc := range resp.Data {
		for _, d := range acc.Details {
			if d.Ccy == "USDT" {
				avail, err := strconv.ParseFloat(d.AvailBal, 64)
				if err != nil {
					return 0, fmt.Errorf("AvailableUSDT parse %q: %w", d.AvailBal, err)
				}
				return avail, nil
			}
		}
	}
	return 0, nil
}
