package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/kompomir/servicebot/core/config"
	"github.com/kompomir/servicebot/core/logger"
	tghelpers "github.com/kompomir/servicebot/core/telegram/helpers"
)

// RateLimitOptions configures RateLimit.
type RateLimitOptions struct {
	Interval time.Duration
	// Exclude lists update kinds that bypass the limit, see UpdateKind.
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
}

// UpdateKind classifies an update for rate limit exclusions.
func UpdateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return coreconfig.UpdateCallback
	case upd.Message != nil:
		return coreconfig.UpdateMessage
	default:
		return "other"
	}
}

// RateLimit drops updates arriving from the same user faster than Interval.
func RateLimit(opts RateLimitOptions) tele.MiddlewareFunc {
	lastSeen := cache.New(opts.Interval, time.Minute)
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			if _, skip := opts.Exclude[UpdateKind(c.Update())]; skip {
				return next(c)
			}
			if lastSeen.Add(strconv.FormatInt(user.ID, 10), struct{}{}, cache.DefaultExpiration) == nil {
				return next(c)
			}
			logger.Warn(tghelpers.BuildContext(c), logger.TG, "tg.rate_limit",
				slog.String("status", "rate_limited"),
				slog.Int64("user_id", user.ID),
			)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}
