package reason

// Code — единый перечень причин для SKIPPED/FAILED решений. Любое место,
// где обрабатывается ошибка биржи или срабатывает гейт, обязано говорить
// на этом словаре, а не на сырых строках.
type Code string

// Гейты (SKIPPED, до биржи дело не дошло).
const (
	TradeDisabled                Code = "TRADE_DISABLED"
	AlertDisabled                Code = "ALERT_DISABLED"
	CooldownActive               Code = "COOLDOWN_ACTIVE"
	AlreadyHasOpenOrder          Code = "ALREADY_HAS_OPEN_ORDER"
	MaxOpenTradesReached         Code = "MAX_OPEN_TRADES_REACHED"
	PriceNotInRange              Code = "PRICE_NOT_IN_RANGE"
	InsufficientAvailableBalance Code = "INSUFFICIENT_AVAILABLE_BALANCE"
	InvalidTradeAmount           Code = "INVALID_TRADE_AMOUNT"
	GuardrailBlocked             Code = "GUARDRAIL_BLOCKED"
	ThrottledDuplicateAlert      Code = "THROTTLED_DUPLICATE_ALERT"
	DataMissing                  Code = "DATA_MISSING"
)

// Классифицированные ошибки биржи (FAILED, вызов был и не удался).
const (
	AuthenticationError  Code = "AUTHENTICATION_ERROR"
	InsufficientFunds    Code = "INSUFFICIENT_FUNDS"
	RateLimit            Code = "RATE_LIMIT"
	Timeout              Code = "TIMEOUT"
	MinNotionalNotMet    Code = "MIN_NOTIONAL_NOT_MET"
	SignatureError       Code = "SIGNATURE_ERROR"
	ExchangeRejected     Code = "EXCHANGE_REJECTED"
	ExchangeErrorUnknown Code = "EXCHANGE_ERROR_UNKNOWN"
)

// Dedup — проигрыш гонки за idempotency_key.
const DedupSkipped Code = "DEDUP_SKIPPED"

// Retryable — можно ли повторять вызов. Повтор разрешён только для
// неидемпотентно-опасных сбоев связи, и то после подтверждения через
// статус-запрос, что ордер не создался. Auth/signature сами не чинятся.
func (c Code) Retryable() bool {
	switch c {
	case RateLimit, Timeout:
		return true
	}
	return false
}

// OperatorHint — подсказка в reason_message для неретраибельных ошибок.
func (c Code) OperatorHint() string {
	switch c {
	case AuthenticationError:
		return "проверьте OKX API key/secret/passphrase, ключ мог протухнуть"
	case SignatureError:
		return "подпись не сходится: проверьте secret и часы на хосте"
	case InsufficientFunds:
		return "недостаточно свободного баланса под заявку"
	}
	return ""
}
