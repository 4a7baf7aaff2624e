package service

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signal_bot/pkg/logger"
)

const (
	tickersURL = "wss://ws.okx.com:8443/ws/v5/public"
	priceTTL   = 30 * time.Second
)

type pricePoint struct {
	px float64
	at time.Time
}

// Stream держит один WebSocket на канал tickers и кэширует последнюю цену
// по instId. Набор подписок задаёт раннер на каждом тике; при изменении
// набора соединение пересобирается.
type Stream struct {
	dialer *websocket.Dialer

	mu     sync.RWMutex
	prices map[string]pricePoint
	want   []string

	resub chan struct{}
}

func NewStream() *Stream {
	return &Stream{
		dialer: &websocket.Dialer{},
		prices: make(map[string]pricePoint),
		resub:  make(chan struct{}, 1),
	}
}

// LastPrice — последняя цена по инструменту, если она свежее priceTTL.
func (s *Stream) LastPrice(instID string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[instID]
	if !ok || time.Since(p.at) > priceTTL {
		return 0, false
	}
	return p.px, true
}

// EnsureSubscribed сверяет желаемый набор инструментов с текущим и при
// расхождении инициирует переподключение.
func (s *Stream) EnsureSubscribed(instIDs []string) {
	sorted := append([]string(nil), instIDs...)
	sort.Strings(sorted)

	s.mu.Lock()
	same := strings.Join(sorted, ",") == strings.Join(s.want, ",")
	if !same {
		s.want = sorted
	}
	s.mu.Unlock()

	if !same {
		select {
		case s.resub <- struct{}{}:
		default:
		}
	}
}

func (s *Stream) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		ids := append([]string(nil), s.want...)
		s.mu.RUnlock()

		if len(ids) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.resub:
			case <-time.After(time.Second):
			}
			continue
		}

		s.connectAndRead(ctx, ids)

		select {
		case <-ctx.Done():
			return
		default:
			time.Sleep(time.Second)
		}
	}
}

func (s *Stream) connectAndRead(ctx context.Context, ids []string) {
	logger.Info("📡 WS tickers: подключение, инструментов: %d", len(ids))
	conn, _, err := s.dialer.Dial(tickersURL, nil)
	if err != nil {
		logger.Warn("WS tickers dial: %v", err)
		return
	}
	defer conn.Close()

	args := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		args = append(args, map[string]string{
			"channel": "tickers",
			"instId":  id,
		})
	}
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		logger.Warn("WS tickers subscribe: %v", err)
		return
	}

	// keepalive ping каждые 20s, иначе OKX рвёт соединение
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		t := time.NewTicker(20 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopPing:
				return
			case <-t.C:
				_ = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			}
		}
	}()

	// отдельная горутина следит за отменой и сменой подписок,
	// read-loop разблокируется закрытием сокета
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-s.resub:
			logger.Info("📡 WS tickers: набор подписок изменился, переподключение")
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				logger.Warn("WS tickers read: %v", err)
			}
			return
		}

		var frame struct {
			Arg struct {
				Channel string `json:"channel"`
				InstID  string `json:"instId"`
			} `json:"arg"`
			Data []struct {
				Last string `json:"last"`
			} `json:"data"`
		}
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}
		if frame.Arg.Channel != "tickers" || len(frame.Data) == 0 {
			continue
		}

		px, err := strconv.ParseFloat(frame.Data[0].Last, 64)
		if err != nil || px <= 0 {
			continue
		}

		s.mu.Lock()
		s.prices[frame.Arg.InstID] = pricePoint{px: px, at: time.Now()}
		s.mu.Unlock()
	}
}
