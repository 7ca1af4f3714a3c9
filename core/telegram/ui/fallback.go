// Package ui declares user-facing replies shared by the routers.
package ui

import tele "gopkg.in/telebot.v4"

// FallbackProvider answers updates that no route can serve.
type FallbackProvider interface {
	// UnknownCallback handles buttons of outdated keyboards.
	UnknownCallback() tele.HandlerFunc
	// Unsupported handles media the bot does not accept.
	Unsupported() tele.HandlerFunc
	// RateLimited is sent when a user writes too fast.
	RateLimited() tele.HandlerFunc
}
