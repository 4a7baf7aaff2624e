package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/markcheno/go-talib"

	"signal_bot/internal/models"
	"signal_bot/pkg/logger"
)

const (
	dailyLimit  = 250 // хватает на MA200 с запасом
	weeklyLimit = 20
	avgVolLen   = 20
	resistLen   = 30
)

// Provider собирает срез индикаторов по символу. Данные берём со спота
// Binance: глубокая история свечей там есть всегда, а исполнение всё равно
// живёт на другом клиенте. Любой недосчитанный индикатор остаётся nil,
// решает по нему генератор.
type Provider struct {
	client *binance.Client
	stream *Stream
}

func NewProvider(client *binance.Client, stream *Stream) *Provider {
	return &Provider{client: client, stream: stream}
}

// BinanceSymbol переводит "BTC-USDT" / "BTC-USDT-SWAP" в "BTCUSDT".
func BinanceSymbol(symbol string) string {
	s := strings.TrimSuffix(symbol, "-SWAP")
	return strings.ReplaceAll(s, "-", "")
}

func (p *Provider) Snapshot(ctx context.Context, symbol string) (models.IndicatorSnapshot, error) {
	binSym := BinanceSymbol(symbol)

	daily, err := p.klines(ctx, binSym, "1d", dailyLimit)
	if err != nil {
		return models.IndicatorSnapshot{}, fmt.Errorf("snapshot %s: %w", symbol, err)
	}
	if len(daily.closes) == 0 {
		return models.IndicatorSnapshot{}, fmt.Errorf("snapshot %s: no candles", symbol)
	}

	snap := models.IndicatorSnapshot{
		Symbol:    symbol,
		Price:     daily.closes[len(daily.closes)-1],
		Timestamp: time.Now().UTC(),
	}

	// живая цена точнее последнего клоуза, если стрим её видел
	if px, ok := p.stream.LastPrice(symbol); ok {
		snap.Price = px
	}

	if len(daily.closes) >= 15 {
		rsi := talib.Rsi(daily.closes, 14)
		snap.RSI14 = last(rsi)
		atr := talib.Atr(daily.highs, daily.lows, daily.closes, 14)
		snap.ATR14 = last(atr)
	}
	if len(daily.closes) >= 10 {
		ema := talib.Ema(daily.closes, 10)
		snap.EMA10 = last(ema)
	}
	if len(daily.closes) >= 50 {
		ma := talib.Sma(daily.closes, 50)
		snap.MA50 = last(ma)
	}
	if len(daily.closes) >= 200 {
		ma := talib.Sma(daily.closes, 200)
		snap.MA200 = last(ma)
	}

	if len(daily.volumes) > 0 {
		v := daily.volumes[len(daily.volumes)-1]
		snap.Volume = &v
	}
	if len(daily.volumes) >= avgVolLen {
		avg := talib.Sma(daily.volumes, avgVolLen)
		snap.AvgVolume = last(avg)
	}

	if hi := recentHigh(daily.highs, resistLen); hi > snap.Price {
		snap.ResistanceUp = &hi
	}

	// недельная MA10 считается отдельным запросом; её отсутствие не
	// валит весь снапшот
	weekly, err := p.klines(ctx, binSym, "1w", weeklyLimit)
	if err != nil {
		logger.Warn("📉 weekly klines %s: %v", symbol, err)
	} else if len(weekly.closes) >= 10 {
		ma := talib.Sma(weekly.closes, 10)
		snap.MA10W = last(ma)
	}

	return snap, nil
}

type series struct {
	closes  []float64
	highs   []float64
	lows    []float64
	volumes []float64
}

func (p *Provider) klines(ctx context.Context, symbol, interval string, limit int) (series, error) {
	kl, err := p.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return series{}, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
	}

	s := series{
		closes:  make([]float64, 0, len(kl)),
		highs:   make([]float64, 0, len(kl)),
		lows:    make([]float64, 0, len(kl)),
		volumes: make([]float64, 0, len(kl)),
	}
	for _, k := range kl {
		c, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			continue
		}
		h, _ := strconv.ParseFloat(k.High, 64)
		l, _ := strconv.ParseFloat(k.Low, 64)
		v, _ := strconv.ParseFloat(k.Volume, 64)
		s.closes = append(s.closes, c)
		s.highs = append(s.highs, h)
		s.lows = append(s.lows, l)
		s.volumes = append(s.volumes, v)
	}
	return s, nil
}

func last(vals []float64) *float64 {
	if len(vals) == 0 {
		return nil
	}
	v := vals[len(vals)-1]
	if v == 0 {
		// talib забивает разогрев нулями; ноль в хвосте значит "не досчитал"
		return nil
	}
	return &v
}

func recentHigh(highs []float64, n int) float64 {
	if len(highs) == 0 {
		return 0
	}
	start := len(highs) - n
	if start < 0 {
		start = 0
	}
	max := highs[start]
	for _, h := range highs[start+1:] {
		if h > max {
			max = h
		}
	}
	return max
}
