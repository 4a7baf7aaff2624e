package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"signal_bot/internal/models"
)

// GetInstrumentMeta — шаги цены и лота инструмента. TickSz оставляем строкой:
// округление цен работает на десятичных и обязано сохранять хвостовые нули.
func (c *Client) GetInstrumentMeta(ctx context.Context, instID string) (models.Instrument, error) {
	path := "/api/v5/public/instruments?instType=SPOT&instId=" + url.QueryEscape(instID)
	data, err := c.signedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return models.Instrument{}, fmt.Errorf("GetInstrumentMeta: %w", err)
	}

	var resp struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data []instrumentRow `json:"data"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return models.Instrument{}, fmt.Errorf("GetInstrumentMeta decode: %w", err)
	}
	if resp.Code != "0" {
		return models.Instrument{}, fmt.Errorf("okx error: code=%s msg=%s", resp.Code, resp.Msg)
	}
	if len(resp.Data) == 0 {
		return models.Instrument{}, fmt.Errorf("GetInstrumentMeta: instrument %s not found", instID)
	}

	row := resp.Data[0]
	lotSz, _ := strconv.ParseFloat(row.LotSz, 64)
	minSz, _ := strconv.ParseFloat(row.MinSz, 64)
	return models.Instrument{
		InstID: row.InstID,
		TickSz: row.TickSz,
		LotSz:  lotSz,
		MinSz:  minSz,
	}, nil
}
