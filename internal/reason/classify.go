package reason

import (
	"context"
	"errors"
	"strings"
)

// Classify сводит сырую ошибку биржи к Code. Порядок проверок фиксирован —
// первое совпадение выигрывает, чтобы классификация была детерминированной
// при сообщениях, задевающих несколько групп токенов.
func Classify(err error) Code {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}

	msg := strings.ToUpper(err.Error())

	switch {
	case containsAny(msg, "401", "40101", "40103", "UNAUTHORIZED", "API KEY"):
		return AuthenticationError
	case containsAny(msg, "CODE=306", "CODE=609", "INSUFFICIENT", "BALANCE", "MARGIN"):
		return InsufficientFunds
	case containsAny(msg, "429", "RATE", "TOO MANY"):
		return RateLimit
	case containsAny(msg, "TIMEOUT", "DEADLINE", "TIMED OUT"):
		return Timeout
	case containsAny(msg, "MIN_NOTIONAL", "NOTIONAL"):
		return MinNotionalNotMet
	case containsAny(msg, "SIGNATURE", "SIGN"):
		return SignatureError
	case containsAny(msg, "REJECTED"):
		return ExchangeRejected
	}
	return ExchangeErrorUnknown
}

// Snippet — усечённый текст ошибки для reason_message/нотификаций.
// Никаких ключей и подписей в нём быть не должно — заголовки с кредами
// в тексты ошибок клиента не попадают, здесь просто режем длину.
func Snippet(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) > 240 {
		s = s[:240] + "..."
	}
	return s
}

func containsAny(s string, tokens ...string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
