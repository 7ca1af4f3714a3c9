package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	tele "gopkg.in/telebot.v4"

	"github.com/kompomir/servicebot/core/logger"
	"github.com/kompomir/servicebot/core/telegram/callbacks"
	tghelpers "github.com/kompomir/servicebot/core/telegram/helpers"
)

// seen remembers update ids for a short while so that the receipt line is
// written once even when the middleware runs on several branches.
var seen = cache.New(10*time.Second, time.Minute)

// Logger sets the request id and logs one receipt line per update.
func Logger(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		var userID, chatID int64
		if u := c.Sender(); u != nil {
			userID = u.ID
		}
		if ch := c.Chat(); ch != nil {
			chatID = ch.ID
		}
		rid := logger.BuildRID(upd.ID, chatID, userID)
		c.Set("rid", rid)
		c.Set("update_start", time.Now())
		ctx := tghelpers.BuildContext(c)

		if seen.Add(strconv.Itoa(upd.ID), struct{}{}, cache.DefaultExpiration) != nil {
			return next(c)
		}
		if !logger.ShouldSampleDebug() {
			return next(c)
		}
		attrs := []slog.Attr{slog.String("status", "ok")}
		if ch := c.Chat(); ch != nil {
			attrs = append(attrs, slog.String("chat_type", string(ch.Type)))
		}
		switch {
		case upd.Callback != nil:
			key, payload := callbacks.Parse(upd.Callback)
			attrs = append(attrs, slog.String("cb_key", logger.SanitizeLimit(key, 128)))
			if payload != "" {
				attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(payload, 256)))
			}
		case upd.Message != nil:
			attrs = append(attrs, slog.Int("text_len", len([]rune(c.Text()))))
		}
		logger.Debug(ctx, logger.TG, "update.received", attrs...)
		return next(c)
	}
}
