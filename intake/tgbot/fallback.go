package tgbot

import (
	tele "gopkg.in/telebot.v4"

	"github.com/kompomir/servicebot/core/telegram/helpers"
	"github.com/kompomir/servicebot/core/telegram/ui"
)

const (
	textUnsupported = "Я понимаю только текст и кнопки. Откройте меню: /start"
	textRateLimited = "Слишком быстро, попробуйте через секунду."
	textResend      = "Сообщение пришло слишком быстро и не было обработано. Отправьте его ещё раз."
	textAdminOnly   = "Команда доступна только оператору."
)

// Fallbacks answers updates no conversation handler accepts.
type Fallbacks struct{}

var _ ui.FallbackProvider = Fallbacks{}

// UnknownCallback answers presses of buttons from old messages.
func (Fallbacks) UnknownCallback() tele.HandlerFunc {
	return func(c tele.Context) error {
		return helpers.Ack(c, textStale)
	}
}

// Unsupported answers media messages.
func (Fallbacks) Unsupported() tele.HandlerFunc {
	return func(c tele.Context) error {
		if ch := c.Chat(); ch != nil && ch.Type != tele.ChatPrivate {
			return nil
		}
		return c.Send(textUnsupported)
	}
}

// RateLimited answers throttled updates. A throttled message is not
// processed, so the sender is asked to repeat it.
func (Fallbacks) RateLimited() tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Callback() != nil {
			return helpers.Ack(c, textRateLimited)
		}
		if ch := c.Chat(); ch != nil && ch.Type != tele.ChatPrivate {
			return nil
		}
		return c.Send(textResend)
	}
}

// AdminRejected answers operator commands sent by someone else.
func (Fallbacks) AdminRejected() tele.HandlerFunc {
	return func(c tele.Context) error {
		return c.Send(textAdminOnly)
	}
}
