package tgbot

import (
	"context"
	"errors"

	tele "gopkg.in/telebot.v4"

	"github.com/kompomir/servicebot/core/telegram/helpers"
	"github.com/kompomir/servicebot/core/telegram/sender"
	"github.com/kompomir/servicebot/intake/engine"
)

// Messenger is the subset of *tele.Bot used for unsolicited messages.
type Messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Responder delivers engine replies to users.
//
// While an update is being handled the reply goes through its telebot
// context, so a button press edits the message that carried the button.
// Replies without an update behind them are sent through the dispatcher.
type Responder struct {
	bot        Messenger
	dispatcher *sender.Dispatcher
	keyboards  *Keyboards
}

// NewResponder builds a responder.
func NewResponder(bot Messenger, dispatcher *sender.Dispatcher, keyboards *Keyboards) (*Responder, error) {
	switch {
	case bot == nil:
		return nil, errors.New("tgbot: responder needs a bot")
	case dispatcher == nil:
		return nil, errors.New("tgbot: responder needs a dispatcher")
	case keyboards == nil:
		return nil, errors.New("tgbot: responder needs keyboards")
	}
	return &Responder{bot: bot, dispatcher: dispatcher, keyboards: keyboards}, nil
}

// Prompt implements router.Responder.
func (r *Responder) Prompt(ctx context.Context, userID int64, text string, controls engine.Controls) error {
	if c, ok := helpers.TeleFrom(ctx); ok {
		if u := c.Sender(); u != nil && u.ID == userID {
			return helpers.Reply(c, text, r.keyboards.Markup(controls))
		}
	}
	return r.dispatcher.Do(ctx, "prompt", "sendMessage", func() error {
		_, err := r.bot.Send(&tele.User{ID: userID}, text, &tele.SendOptions{
			ReplyMarkup:           r.keyboards.Markup(controls),
			DisableWebPagePreview: true,
		})
		return err
	})
}

// Operator forwards submissions and chat messages to the operator chat.
type Operator struct {
	bot        Messenger
	dispatcher *sender.Dispatcher
}

// NewOperator builds an operator sink.
func NewOperator(bot Messenger, dispatcher *sender.Dispatcher) (*Operator, error) {
	if bot == nil || dispatcher == nil {
		return nil, errors.New("tgbot: operator sink needs a bot and a dispatcher")
	}
	return &Operator{bot: bot, dispatcher: dispatcher}, nil
}

// Forward implements router.OperatorSink. It waits for delivery, including
// retries, so a lost submission is reported to the caller.
func (o *Operator) Forward(ctx context.Context, operatorID int64, text string) error {
	return o.dispatcher.Do(ctx, "forward", "sendMessage", func() error {
		_, err := o.bot.Send(&tele.Chat{ID: operatorID}, text, &tele.SendOptions{DisableWebPagePreview: true})
		return err
	})
}
