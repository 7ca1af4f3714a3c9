// Package helpers bridges telebot contexts with context.Context and wraps
// common reply calls.
package helpers

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"github.com/kompomir/servicebot/core/logger"
)

const storeKey = "logger_ctx"

type teleKey struct{}

// StoreContext caches ctx on the telebot context.
func StoreContext(c tele.Context, ctx context.Context) {
	if c == nil || ctx == nil {
		return
	}
	c.Set(storeKey, ctx)
}

// ContextFrom returns the cached context if a middleware stored one.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	ctx, ok := c.Get(storeKey).(context.Context)
	return ctx, ok && ctx != nil
}

// BuildContext returns a context carrying the request id, update metadata and
// the telebot context itself. The result is cached on c.
func BuildContext(c tele.Context) context.Context {
	if ctx, ok := ContextFrom(c); ok {
		return ctx
	}
	upd := c.Update()
	var userID, chatID int64
	if u := c.Sender(); u != nil {
		userID = u.ID
	}
	if ch := c.Chat(); ch != nil {
		chatID = ch.ID
	}
	rid, _ := c.Get("rid").(string)
	if rid == "" {
		rid = logger.BuildRID(upd.ID, chatID, userID)
	}

	ctx := logger.WithRID(context.Background(), rid)
	ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
	ctx = context.WithValue(ctx, teleKey{}, c)
	StoreContext(c, ctx)
	return ctx
}

// WithHandler adds the endpoint name to the cached context.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler == "" {
		return ctx
	}
	ctx = logger.WithHandler(ctx, handler)
	StoreContext(c, ctx)
	return ctx
}

// TeleFrom returns the telebot context of the update behind ctx, if any.
func TeleFrom(ctx context.Context) (tele.Context, bool) {
	if ctx == nil {
		return nil, false
	}
	c, ok := ctx.Value(teleKey{}).(tele.Context)
	return c, ok && c != nil
}
