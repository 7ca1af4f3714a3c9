package middleware

import tele "gopkg.in/telebot.v4"

const (
	keyMessages = "messages"
	keyKeyboard = "kb"
)

// countingContext counts replies sent while handling one update.
type countingContext struct{ tele.Context }

func (m countingContext) count(opts []interface{}, err error) error {
	if err != nil {
		return err
	}
	n, _ := m.Get(keyMessages).(int)
	m.Set(keyMessages, n+1)
	if withKeyboard(opts) {
		m.Set(keyKeyboard, true)
	}
	return nil
}

func withKeyboard(opts []interface{}) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		case *tele.ReplyMarkup:
			if v != nil {
				return true
			}
		}
	}
	return false
}

func (m countingContext) Send(what interface{}, opts ...interface{}) error {
	return m.count(opts, m.Context.Send(what, opts...))
}

func (m countingContext) Reply(what interface{}, opts ...interface{}) error {
	return m.count(opts, m.Context.Reply(what, opts...))
}

func (m countingContext) Edit(what interface{}, opts ...interface{}) error {
	return m.count(opts, m.Context.Edit(what, opts...))
}

func (m countingContext) EditOrSend(what interface{}, opts ...interface{}) error {
	return m.count(opts, m.Context.EditOrSend(what, opts...))
}

// MessageCounter wraps the context so that handler summaries can report how
// many messages an update produced.
func MessageCounter(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		c.Set(keyMessages, 0)
		c.Set(keyKeyboard, false)
		return next(countingContext{Context: c})
	}
}

// Counters returns the message count and whether any reply had a keyboard.
func Counters(c tele.Context) (int, bool) {
	n, _ := c.Get(keyMessages).(int)
	kb, _ := c.Get(keyKeyboard).(bool)
	return n, kb
}
