package router

import (
	tele "gopkg.in/telebot.v4"

	tg "github.com/kompomir/servicebot/core/telegram"
	"github.com/kompomir/servicebot/core/telegram/middleware"
)

// CommandRouteOptions configures CommandRoutes.
type CommandRouteOptions struct {
	AdminID       int64
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes returns one route per registered command. Admin-only
// commands are guarded by the admin check.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	admin := middleware.AdminOnly(middleware.AdminOptions{AdminID: opts.AdminID, OnReject: opts.OnAdminReject})
	cmds := reg.Commands()
	routes := make([]tg.Route, 0, len(cmds))
	for name, cmd := range cmds {
		h := commandHandler(name, cmd)
		if cmd.AdminOnly {
			h = admin(h)
		}
		routes = append(routes, tg.Route{Endpoint: name, Handler: h})
	}
	return routes
}

func commandHandler(name string, cmd tg.Command) tele.HandlerFunc {
	return func(c tele.Context) error {
		return handleWithSummary(c, handlerName("command.", name), func() error {
			return cmd.Handler(c)
		})
	}
}
