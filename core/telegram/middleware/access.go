package middleware

import tele "gopkg.in/telebot.v4"

// AdminOptions restricts handlers to the operator chat.
type AdminOptions struct {
	AdminID  int64
	OnReject tele.HandlerFunc
}

// IsAdmin reports whether the update comes from the configured admin.
func (o AdminOptions) IsAdmin(c tele.Context) bool {
	if o.AdminID == 0 {
		return false
	}
	if u := c.Sender(); u != nil && u.ID == o.AdminID {
		return true
	}
	chat := c.Chat()
	return chat != nil && chat.ID == o.AdminID
}

// AdminOnly passes only updates from the admin; others go to OnReject.
func AdminOnly(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if opts.IsAdmin(c) {
				return next(c)
			}
			if opts.OnReject != nil {
				return opts.OnReject(c)
			}
			return nil
		}
	}
}
