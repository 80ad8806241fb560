package notify

import (
	"context"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"webhook_trader/internal/models"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// StatusSource откуда бот берёт данные для команд /positions и /cycles.
type StatusSource interface {
	OpenedPositions(ctx context.Context, force bool) ([]models.Position, error)
	Snapshots() []models.CycleSnapshot
}

// Telegram: пассивный нотифайер + пара команд статуса.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	log    *zap.Logger
	status StatusSource
}

func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: chatID, log: log}, nil
}

func (t *Telegram) SetStatusSource(s StatusSource) { t.status = s }

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		t.log.Warn("telegram send failed", zap.Error(err))
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// /positions: открытые позиции с биржи
func (t *Telegram) handlePositions(ctx context.Context) {
	if t.status == nil {
		t.Send("❗️ Статус ещё не доступен")
		return
	}
	positions, err := t.status.OpenedPositions(ctx, true)
	if err != nil {
		t.Sendf("❗️ Ошибка получения позиций: %v", err)
		return
	}
	if len(positions) == 0 {
		t.Send("📭 Открытых позиций нет")
		return
	}

	var b strings.Builder
	b.WriteString("📊 Открытые позиции:\n")
	for _, p := range positions {
		fmt.Fprintf(&b, "- %s [%s] amt=%.4f @ %.4f mark=%.4f lev=%dx roe=%.2f%%\n",
			p.Symbol, p.PosSide, p.Amount, p.EntryPrice, p.MarkPrice, p.Leverage, p.ROE()*100)
	}
	t.Send(b.String())
}

// /cycles: состояние циклов по символам
func (t *Telegram) handleCycles() {
	if t.status == nil {
		t.Send("❗️ Статус ещё не доступен")
		return
	}
	snaps := t.status.Snapshots()
	if len(snaps) == 0 {
		t.Send("📭 Циклов нет")
		return
	}
	t.Send(FormatCycles(snaps))
}

func FormatCycles(snaps []models.CycleSnapshot) string {
	var b strings.Builder
	b.WriteString("🔁 Циклы:\n")
	for _, s := range snaps {
		fmt.Fprintf(&b, "- %s %s %v base=%.4f", s.Symbol, s.Stage, s.Cycle, s.Baseline)
		if s.SlTier >= 0 {
			fmt.Fprintf(&b, " sl=#%d", s.SlTier)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Start: long-polling для команд из нашего чата.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				if upd.Message == nil || upd.Message.Chat == nil ||
					upd.Message.Chat.ID != t.chatID || !upd.Message.IsCommand() {
					continue
				}
				switch upd.Message.Command() {
				case "positions":
					go t.handlePositions(ctx)
				case "cycles":
					t.handleCycles()
				}
			}
		}
	}()
	return nil
}

func (t *Telegram) Stop() {
	if t == nil || t.bot == nil {
		return
	}
	t.bot.StopReceivingUpdates()
}

// Log: заглушка без телеграма, всё пишет в лог.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log                { return &Log{log: log} }
func (l *Log) Send(msg string)                  { l.log.Info("notify", zap.String("msg", msg)) }
func (l *Log) Sendf(format string, args ...any) { l.Send(fmt.Sprintf(format, args...)) }
