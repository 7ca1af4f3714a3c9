// Package app assembles the intake bot from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/kompomir/servicebot/core/config"
	"github.com/kompomir/servicebot/core/logger"
	tg "github.com/kompomir/servicebot/core/telegram"
	tgrouter "github.com/kompomir/servicebot/core/telegram/router"
	"github.com/kompomir/servicebot/core/telegram/sender"
	"github.com/kompomir/servicebot/intake/engine"
	"github.com/kompomir/servicebot/intake/flow"
	"github.com/kompomir/servicebot/intake/journal"
	"github.com/kompomir/servicebot/intake/metrics"
	"github.com/kompomir/servicebot/intake/router"
	"github.com/kompomir/servicebot/intake/session"
	"github.com/kompomir/servicebot/intake/tgbot"
)

// Options supplies the infrastructure built before the app.
type Options struct {
	Bot *tele.Bot
	// DB enables the submission journal when set.
	DB *sqlx.DB
	// Closer is released when the bot stops.
	Closer io.Closer
}

// App holds the wired intake components.
type App struct {
	cfg        *coreconfig.Config
	bot        *tele.Bot
	closer     io.Closer
	registry   *tg.Registry
	dispatcher *sender.Dispatcher
	fallbacks  tgbot.Fallbacks
	handlers   *tgbot.Handlers
	router     *router.Router
	sweeper    *session.Sweeper
	metrics    *metrics.Metrics
	server     *metrics.Server
}

// New builds every component; nothing is started until the bot runs.
func New(cfg *coreconfig.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if opts.Bot == nil {
		return nil, errors.New("app: bot is required")
	}

	flows, err := flow.Build(cfg.Intake.Flows)
	if err != nil {
		return nil, fmt.Errorf("app: flows: %w", err)
	}
	pages := map[string]string{}
	var pageKeys []string
	for _, p := range []struct{ key, text string }{
		{tgbot.PageContacts, cfg.Intake.ContactsText},
		{tgbot.PageSocial, cfg.Intake.SocialText},
	} {
		if strings.TrimSpace(p.text) != "" {
			pages[p.key] = p.text
			pageKeys = append(pageKeys, p.key)
		}
	}

	a := &App{
		cfg:        cfg,
		bot:        opts.Bot,
		closer:     opts.Closer,
		registry:   tg.NewRegistry(),
		dispatcher: sender.NewDispatcher(sender.Options{MaxRetries: 3}),
		metrics:    metrics.New(),
	}
	fail := func(err error) (*App, error) {
		a.dispatcher.Close()
		return nil, err
	}

	responder, err := tgbot.NewResponder(opts.Bot, a.dispatcher, tgbot.NewKeyboards(flows, pageKeys...))
	if err != nil {
		return fail(err)
	}
	operator, err := tgbot.NewOperator(opts.Bot, a.dispatcher)
	if err != nil {
		return fail(err)
	}

	var (
		rj      router.Journal
		counter tgbot.SubmissionCounter
	)
	if opts.DB != nil {
		j := journal.New(opts.DB)
		rj, counter = j, j
	}

	a.router, err = router.New(router.Options{
		Store: session.NewMemoryStore(),
		Engine: engine.New(flows, engine.Options{
			Timeout: cfg.Intake.SessionTimeout(),
			Pages:   pages,
		}),
		Responder:  responder,
		Operator:   operator,
		OperatorID: cfg.Intake.OperatorID,
		Journal:    rj,
		Metrics:    a.metrics,
	})
	if err != nil {
		return fail(err)
	}

	a.handlers, err = tgbot.New(tgbot.Options{Conversation: a.router, Flows: flows, Counter: counter})
	if err != nil {
		return fail(err)
	}
	if err := a.handlers.Register(a.registry); err != nil {
		return fail(fmt.Errorf("app: register handlers: %w", err))
	}
	a.registry.SetCallbackNotFound(a.fallbacks.UnknownCallback())

	a.sweeper = session.NewSweeper(a.router, cfg.Intake.SweepInterval())
	if listen := strings.TrimSpace(cfg.Metrics.Listen); listen != "" {
		a.server = metrics.NewServer(listen, cfg.Metrics.Path, a.metrics)
	}

	logger.Info(context.Background(), logger.Intake, "intake.wire",
		slog.String("status", "ok"),
		slog.Int("flows", len(flows.Keys())),
		slog.Int("pages", len(pages)),
		slog.Bool("journal", rj != nil),
		slog.Bool("metrics", a.server != nil),
		slog.Duration("timeout", cfg.Intake.SessionTimeout()),
	)
	return a, nil
}

// CoreConfig implements cmd.ConfigCarrier.
func (a *App) CoreConfig() *coreconfig.Config {
	return a.cfg
}

// Router exposes the conversation router.
func (a *App) Router() *router.Router {
	return a.router
}

// TelegramRunOptions implements cmd.TelegramApp.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	adminID := a.cfg.Intake.OperatorID
	reject := a.fallbacks.AdminRejected()

	routes := []tg.Route{tgrouter.CallbackRoute(a.registry)}
	routes = append(routes, tgrouter.CommandRoutes(a.registry, tgrouter.CommandRouteOptions{
		AdminID:       adminID,
		OnAdminReject: reject,
	})...)
	routes = append(routes, tgrouter.TextRoutes(a.registry, tgrouter.TextOptions{
		Conversation:  a.handlers.Text,
		Unsupported:   a.fallbacks.Unsupported(),
		AdminID:       adminID,
		OnAdminReject: reject,
	})...)

	return tg.RunOptions{
		Config:      a.cfg,
		Bot:         a.bot,
		Registry:    a.registry,
		Dispatcher:  a.dispatcher,
		Middlewares: tg.DefaultMiddlewares(a.cfg, a.fallbacks.RateLimited()),
		Routes:      routes,
		OnStart:     a.start,
		OnStop:      a.stop,
	}, nil
}

func (a *App) start(ctx context.Context, _ tg.Runtime) error {
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return err
		}
	}
	if err := a.sweeper.Start(ctx); err != nil {
		return err
	}
	return nil
}

func (a *App) stop(ctx context.Context, _ tg.Runtime) error {
	a.sweeper.Stop()
	var errs []error
	if a.server != nil {
		errs = append(errs, a.server.Stop(ctx))
	}
	if a.closer != nil {
		errs = append(errs, a.closer.Close())
	}
	return errors.Join(errs...)
}
