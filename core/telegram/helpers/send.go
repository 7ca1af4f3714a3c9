package helpers

import (
	"errors"

	tele "gopkg.in/telebot.v4"
)

const editedKey = "reply_edited"

// Reply answers the current update. The first reply to a button press
// replaces the message that carried the button; later replies and replies to
// text messages are sent as new messages. A failed edit falls back to Send.
func Reply(c tele.Context, text string, markup *tele.ReplyMarkup) error {
	if c.Callback() != nil && c.Callback().Message != nil {
		if done, _ := c.Get(editedKey).(bool); !done {
			c.Set(editedKey, true)
			err := c.Edit(text, &tele.SendOptions{ReplyMarkup: copyMarkup(markup), DisableWebPagePreview: true})
			if err == nil || errors.Is(err, tele.ErrSameMessageContent) {
				return nil
			}
		}
	}
	return c.Send(text, &tele.SendOptions{ReplyMarkup: markup, DisableWebPagePreview: true})
}

// copyMarkup clones the inline rows; telebot rewrites button data in place
// when it serializes a markup.
func copyMarkup(m *tele.ReplyMarkup) *tele.ReplyMarkup {
	if m == nil {
		return nil
	}
	cp := *m
	cp.InlineKeyboard = make([][]tele.InlineButton, len(m.InlineKeyboard))
	for i, row := range m.InlineKeyboard {
		cp.InlineKeyboard[i] = append([]tele.InlineButton(nil), row...)
	}
	return &cp
}

// Ack answers a callback query so the client stops the loading spinner.
// It is a no-op for other updates and safe to call more than once.
func Ack(c tele.Context, text string) error {
	if c.Callback() == nil {
		return nil
	}
	if done, _ := c.Get("cb_acked").(bool); done {
		return nil
	}
	c.Set("cb_acked", true)
	return c.Respond(&tele.CallbackResponse{Text: text})
}
