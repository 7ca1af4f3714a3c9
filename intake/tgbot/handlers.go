// Package tgbot connects the intake router to Telegram updates.
package tgbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/kompomir/servicebot/core/logger"
	tg "github.com/kompomir/servicebot/core/telegram"
	"github.com/kompomir/servicebot/core/telegram/helpers"
	"github.com/kompomir/servicebot/intake/engine"
	"github.com/kompomir/servicebot/intake/flow"
	"github.com/kompomir/servicebot/intake/journal"
	"github.com/kompomir/servicebot/intake/router"
	"github.com/kompomir/servicebot/intake/session"
)

// Static page keys served by the engine.
const (
	PageContacts = KeyContacts
	PageSocial   = KeySocial
)

const (
	textStale        = "Кнопка устарела, откройте меню: /start"
	statsWindow      = 24 * time.Hour
	statsQueryBudget = 3 * time.Second
)

// Conversation is the part of the router driven by updates.
type Conversation interface {
	Handle(ctx context.Context, in router.Inbound) error
	Stats() map[session.State]int
}

// SubmissionCounter reports journaled submissions.
type SubmissionCounter interface {
	CountSince(ctx context.Context, since time.Time) ([]journal.FlowCount, error)
}

// Options wires Handlers.
type Options struct {
	Conversation Conversation
	Flows        *flow.Registry
	// Counter is optional; /stats omits submission totals without it.
	Counter SubmissionCounter
	Now     func() time.Time
}

// Handlers maps Telegram updates to engine events.
type Handlers struct {
	conv    Conversation
	flows   *flow.Registry
	counter SubmissionCounter
	now     func() time.Time
}

// New validates options.
func New(opts Options) (*Handlers, error) {
	if opts.Conversation == nil {
		return nil, errors.New("tgbot: conversation is required")
	}
	if opts.Flows == nil {
		return nil, errors.New("tgbot: flow registry is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Handlers{conv: opts.Conversation, flows: opts.Flows, counter: opts.Counter, now: now}, nil
}

// Register adds the flow buttons, the control buttons and the commands.
func (h *Handlers) Register(reg *tg.Registry) error {
	var errs []error
	for _, key := range h.flows.Keys() {
		errs = append(errs, reg.RegisterCallback(key, h.on(engine.StartFlow{Key: key})))
	}
	controls := []struct {
		key string
		ev  engine.Event
	}{
		{KeyManager, engine.OperatorChat{}},
		{KeyConfirm, engine.Confirm{}},
		{KeyReject, engine.Reject{}},
		{KeyCancel, engine.Cancel{}},
		{KeyBack, engine.Back{}},
		{KeyMain, engine.Menu{}},
		{KeyContacts, engine.OpenPage{Page: PageContacts}},
		{KeySocial, engine.OpenPage{Page: PageSocial}},
	}
	for _, ctl := range controls {
		errs = append(errs, reg.RegisterCallback(ctl.key, h.on(ctl.ev)))
	}
	errs = append(errs,
		reg.RegisterCommand("/start", tg.Command{
			Description: "Главное меню",
			Aliases:     []string{"/menu"},
			Handler:     h.on(engine.Menu{}),
		}),
		reg.RegisterCommand("/stats", tg.Command{
			Description: "Статистика заявок",
			AdminOnly:   true,
			Handler:     h.Stats,
		}),
	)
	return errors.Join(errs...)
}

// Text feeds a private text message into the conversation.
func (h *Handlers) Text(c tele.Context) error {
	if ch := c.Chat(); ch != nil && ch.Type != tele.ChatPrivate {
		return nil
	}
	return h.dispatch(c, engine.Text{Raw: c.Text()})
}

func (h *Handlers) on(ev engine.Event) tele.HandlerFunc {
	return func(c tele.Context) error {
		return h.dispatch(c, ev)
	}
}

func (h *Handlers) dispatch(c tele.Context, ev engine.Event) error {
	u := c.Sender()
	if u == nil {
		return helpers.Ack(c, "")
	}
	ctx := helpers.BuildContext(c)
	err := h.conv.Handle(ctx, router.Inbound{
		UserID:  u.ID,
		Profile: router.Profile{FirstName: u.FirstName, Username: u.Username},
		Event:   ev,
	})
	if errors.Is(err, engine.ErrUnknownTransition) {
		return helpers.Ack(c, textStale)
	}
	if ackErr := helpers.Ack(c, ""); ackErr != nil {
		logger.Debug(ctx, logger.TG, "callback.ack",
			slog.String("status", "fail"),
			slog.String("err", ackErr.Error()),
		)
	}
	return err
}

// Stats answers the operator with active sessions and recent submissions.
func (h *Handlers) Stats(c tele.Context) error {
	ctx := helpers.BuildContext(c)
	var counts []journal.FlowCount
	if h.counter != nil {
		qctx, cancel := context.WithTimeout(ctx, statsQueryBudget)
		defer cancel()
		var err error
		if counts, err = h.counter.CountSince(qctx, h.now().Add(-statsWindow)); err != nil {
			logger.Warn(ctx, logger.Journal, "journal.count",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
			counts = nil
		}
	}
	return c.Send(StatsText(h.conv.Stats(), counts, h.counter != nil))
}

// StatsText renders the /stats answer.
func StatsText(active map[session.State]int, counts []journal.FlowCount, withJournal bool) string {
	var b strings.Builder
	b.WriteString("📊 Активные диалоги\n")
	states := []session.State{
		session.StateInFlow,
		session.StateAwaitingConfirmation,
		session.StateAwaitingOperatorChat,
	}
	total := 0
	for _, st := range states {
		fmt.Fprintf(&b, "%s: %d\n", st, active[st])
		total += active[st]
	}
	fmt.Fprintf(&b, "всего: %d\n", total)
	if !withJournal {
		return strings.TrimRight(b.String(), "\n")
	}

	b.WriteString("\n📨 Заявки за 24 ч\n")
	if len(counts) == 0 {
		b.WriteString("нет")
		return b.String()
	}
	sorted := append([]journal.FlowCount(nil), counts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Flow != sorted[j].Flow {
			return sorted[i].Flow < sorted[j].Flow
		}
		return sorted[i].Variant < sorted[j].Variant
	})
	lines := make([]string, 0, len(sorted))
	for _, fc := range sorted {
		lines = append(lines, fmt.Sprintf("%s/%s: %d", fc.Flow, fc.Variant, fc.Count))
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}
