package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"signal_bot/internal/reason"
)

type IntentStatus string

const (
	IntentPending      IntentStatus = "PENDING"
	IntentPlaced       IntentStatus = "PLACED"
	IntentFilled       IntentStatus = "FILLED"
	IntentFailed       IntentStatus = "FAILED"
	IntentSkipped      IntentStatus = "SKIPPED"
	IntentDedupSkipped IntentStatus = "DEDUP_SKIPPED"
)

type DecisionType string

const (
	DecisionSkipped DecisionType = "SKIPPED"
	DecisionFailed  DecisionType = "FAILED"
)

// OrderIntent — персистентная запись решения. Вставляется ДО похода на биржу
// под уникальным индексом по idempotency_key; после терминального статуса
// строка неизменяемая.
type OrderIntent struct {
	ID             int64
	IdempotencyKey string
	SignalID       string
	Symbol         string
	Side           Side
	Status         IntentStatus

	DecisionType  DecisionType
	ReasonCode    reason.Code
	ReasonMessage string

	// ContextJSON — числа и идентификаторы (цены, балансы, пороги),
	// достаточные, чтобы воспроизвести решение. Секретов тут не бывает.
	ContextJSON []byte

	ExchangeErrorSnippet string
	ExchangeOrderID      string
	CorrelationID        string
	CreatedAt            time.Time
}

// IdempotencyKey детерминирован по символу, стороне и грубому временному
// бакету: пере-оценка того же сигнала внутри окна даёт тот же ключ и
// упирается в уникальный индекс вместо второго интента.
func IdempotencyKey(symbol string, side Side, at time.Time, window time.Duration) string {
	if window <= 0 {
		window = 30 * time.Second
	}
	bucket := at.UTC().Truncate(window).Unix()
	return fmt.Sprintf("%s:%s:%d", symbol, side, bucket)
}

// ClientOrderID сводит ключ идемпотентности к формату clOrdId OKX
// (алфанумерик, до 32 символов). Детерминирован: по нему же подтверждается
// "создался ли ордер" перед ретраем и при добивке зависших PENDING.
func ClientOrderID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "sb" + hex.EncodeToString(sum[:])[:28]
}

func (s IntentStatus) Terminal() bool {
	switch s {
	case IntentPlaced, IntentFilled, IntentFailed, IntentSkipped, IntentDedupSkipped:
		return true
	}
	return false
}
