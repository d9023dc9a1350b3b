// Package telegramNotifier delivers operational alerts (projection drift,
// consistency errors) to an ops chat. It is fire-and-forget: a failed delivery
// is logged, never propagated, so alerting can't break a reconciliation.
package telegramNotifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/vkuzmenko/holdings_engine/config"
	"github.com/vkuzmenko/holdings_engine/utils"
	tele "gopkg.in/telebot.v4"
)

type TelegramNotifier struct {
	bot       *tele.Bot
	opsChatID int64
}

func New(cfg *config.Config) *TelegramNotifier {
	settings := tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	bot, err := tele.NewBot(settings)
	if err != nil {
		slog.Error("failed on tele.NewBot")
		panic(err)
	}

	return &TelegramNotifier{bot: bot, opsChatID: cfg.Telegram.OpsChatID}
}

func (n *TelegramNotifier) SendAlert(ctx context.Context, text string) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "TelegramNotifier.SendAlert"

	_, err := n.bot.Send(&tele.Chat{ID: n.opsChatID}, text)
	if err != nil {
		slog.Error("failed to send alert", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return
	}

	slog.Debug("alert sent", slog.String("rqID", rqID), slog.String("op", op))
}
