package router

import (
	"log/slog"

	tele "gopkg.in/telebot.v4"

	tg "github.com/kompomir/servicebot/core/telegram"
	"github.com/kompomir/servicebot/core/telegram/callbacks"
)

// CallbackRoute dispatches every button press through the registry by key.
// Unknown keys go to the registry's not-found handler.
func CallbackRoute(reg *tg.Registry) tg.Route {
	handler := func(c tele.Context) error {
		if c.Callback() == nil {
			return nil
		}
		key := callbacks.Key(c)
		h, ok := reg.Callback(key)
		if !ok {
			h = reg.CallbackNotFound()
		}
		extras := []slog.Attr{slog.String("cb_key", key)}
		if !ok {
			extras = append(extras, slog.String("cause", "not_found"))
		}
		return handleWithSummary(c, handlerName("callback.", key), func() error {
			return h(c)
		}, extras...)
	}
	return tg.Route{Endpoint: tele.OnCallback, Handler: handler}
}
