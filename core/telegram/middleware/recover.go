package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	tele "gopkg.in/telebot.v4"

	"github.com/kompomir/servicebot/core/logger"
	tghelpers "github.com/kompomir/servicebot/core/telegram/helpers"
)

// Recover turns handler panics into errors so one update cannot stop the bot.
func Recover(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(tghelpers.BuildContext(c), logger.TG, "tg.panic",
					slog.String("status", "fail"),
					slog.Any("cause", r),
					slog.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("telegram: handler panic: %v", r)
			}
		}()
		return next(c)
	}
}
