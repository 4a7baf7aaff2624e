package notify

import (
	"context"
	"log"
	"signal_bot/internal/metrics"
	"signal_bot/internal/store"
	"signal_bot/pkg/logger"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jpillora/backoff"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityCritical Severity = "CRITICAL"
)

// Event — единица нотификации. ReasonCode обязателен для FAILED/CRITICAL,
// сырых секретов в Message быть не может — туда идёт только классифицированная
// причина и усечённый сниппет.
type Event struct {
	SignalID   string
	Severity   Severity
	ReasonCode string
	Message    string
}

type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Telegram — гейтвей с журналом. Сначала пишем событие в notifications
// (исход уже зафиксирован в сторе к этому моменту), затем пытаемся доставить;
// недоставленное добирает Resend. Реально отправляет только продовый origin.
type Telegram struct {
	bot     *tgbot.BotAPI
	chatID  int64
	armed   bool // origin == production_origin
	journal *store.Notifications
}

func NewTelegram(token string, chatID int64, origin, productionOrigin string, journal *store.Notifications) (*Telegram, error) {
	t := &Telegram{
		chatID:  chatID,
		armed:   origin == productionOrigin,
		journal: journal,
	}
	if token == "" {
		logger.Warn("телеграм-токен пуст, нотификации только в журнал")
		return t, nil
	}
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	t.bot = b
	return t, nil
}

func (t *Telegram) Notify(ctx context.Context, ev Event) {
	rec := &store.NotificationRecord{
		SignalID:   ev.SignalID,
		Severity:   string(ev.Severity),
		ReasonCode: ev.ReasonCode,
		Message:    ev.Message,
		// не-прод не отправляет: событие сразу считается обработанным,
		// чтобы ресендер не гонял его по кругу
		Delivered: !t.armed,
	}
	if err := t.journal.Insert(ctx, rec); err != nil {
		logger.Error("журнал нотификаций: %v", err)
		// доставить всё равно пытаемся — молча терять CRITICAL нельзя
	}

	if !t.armed {
		logger.Info("[%s] (origin не продовый, не отправляем) %s", ev.Severity, ev.Message)
		return
	}

	if t.deliver(ev) {
		if rec.ID != 0 {
			_ = t.journal.MarkDelivered(ctx, rec.ID)
		}
		return
	}
	metrics.NotifyFailuresTotal.Inc()
}

func (t *Telegram) deliver(ev Event) bool {
	if t.bot == nil || t.chatID == 0 {
		return false
	}
	text := ev.Message
	switch ev.Severity {
	case SeverityCritical:
		text = "🚨 CRITICAL\n" + text
	case SeverityWarn:
		text = "⚠️ " + text
	}
	_, err := t.bot.Send(tgbot.NewMessage(t.chatID, text))
	if err != nil {
		logger.Error("телеграм send: %v", err)
		return false
	}
	return true
}

// Resend — фоновая доотправка недоставленного. Доставка нотификаций
// ретраится независимо от основного потока решений.
func (t *Telegram) Resend(ctx context.Context) {
	b := &backoff.Backoff{
		Min:    5 * time.Second,
		Max:    2 * time.Minute,
		Jitter: true,
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.Duration()):
		}

		if !t.armed {
			continue
		}

		pending, err := t.journal.ListUndelivered(ctx, 50)
		if err != nil {
			logger.Error("ресендер: %v", err)
			continue
		}
		ok := true
		for _, rec := range pending {
			ev := Event{
				SignalID:   rec.SignalID,
				Severity:   Severity(rec.Severity),
				ReasonCode: rec.ReasonCode,
				Message:    rec.Message,
			}
			if !t.deliver(ev) {
				ok = false
				break // телеграм лежит, не долбим
			}
			_ = t.journal.MarkDelivered(ctx, rec.ID)
		}
		if ok {
			b.Reset()
		}
	}
}

// Stdout — заглушка для тестов и локалки: всё в лог.
type Stdout struct{}

func NewStdout() *Stdout { return &Stdout{} }

func (s *Stdout) Notify(_ context.Context, ev Event) {
	log.Printf("[%s] %s %s", ev.Severity, ev.ReasonCode, ev.Message)
}
