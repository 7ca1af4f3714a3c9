package router

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	tg "github.com/kompomir/servicebot/core/telegram"
	"github.com/kompomir/servicebot/core/telegram/middleware"
)

// TextOptions configures TextRoutes.
type TextOptions struct {
	// Conversation receives every text that is not a command.
	Conversation  tele.HandlerFunc
	// Unsupported answers media messages.
	Unsupported   tele.HandlerFunc
	AdminID       int64
	// OnAdminReject answers admin commands typed by other users.
	OnAdminReject tele.HandlerFunc
}

// TextRoutes routes plain text to the conversation handler. Texts that name
// a command or one of its aliases run that command instead.
func TextRoutes(reg *tg.Registry, opts TextOptions) []tg.Route {
	admin := middleware.AdminOnly(middleware.AdminOptions{AdminID: opts.AdminID, OnReject: opts.OnAdminReject})
	text := func(c tele.Context) error {
		if reg != nil && strings.HasPrefix(c.Text(), "/") {
			if name, cmd, ok := reg.LookupCommand(c.Text()); ok {
				h := commandHandler(name, cmd)
				if cmd.AdminOnly {
					h = admin(h)
				}
				return h(c)
			}
		}
		if opts.Conversation == nil {
			return nil
		}
		return handleWithSummary(c, "text", func() error {
			return opts.Conversation(c)
		})
	}
	media := func(c tele.Context) error {
		if opts.Unsupported == nil {
			return nil
		}
		return handleWithSummary(c, "unsupported", func() error {
			return opts.Unsupported(c)
		})
	}
	return []tg.Route{
		{Endpoint: tele.OnText, Handler: text},
		{Endpoint: tele.OnMedia, Handler: media},
	}
}
