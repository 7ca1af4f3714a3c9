// Package router feeds inbound events through the conversation engine and
// executes the resulting actions, one event at a time per user.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kompomir/servicebot/core/logger"
	"github.com/kompomir/servicebot/intake/engine"
	"github.com/kompomir/servicebot/intake/metrics"
	"github.com/kompomir/servicebot/intake/session"
)

const component = logger.Intake

// ErrConflict is returned when a session changed between load and commit.
var ErrConflict = errors.New("router: session changed concurrently")

// Responder delivers replies to the user.
type Responder interface {
	Prompt(ctx context.Context, userID int64, text string, controls engine.Controls) error
}

// OperatorSink delivers messages to the operator. Delivery is best effort.
type OperatorSink interface {
	Forward(ctx context.Context, operatorID int64, text string) error
}

// Journal records forwarded submissions.
type Journal interface {
	Record(ctx context.Context, sub engine.Submission) error
}

// Inbound is one event from a user.
type Inbound struct {
	UserID  int64
	Profile Profile
	Event   engine.Event
}

// DeliveryError reports actions that could not be delivered. The session
// transition that produced them is already committed.
type DeliveryError struct {
	UserID int64
	Errs   []error
}

func (e *DeliveryError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("router: delivery to user %d failed: %s", e.UserID, strings.Join(msgs, "; "))
}

func (e *DeliveryError) Unwrap() []error {
	return e.Errs
}

// Options wires a Router.
type Options struct {
	Store      session.Store
	Engine     *engine.Engine
	Responder  Responder
	Operator   OperatorSink
	OperatorID int64
	Journal    Journal
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Router dispatches events. It is safe for concurrent use.
type Router struct {
	store      session.Store
	engine     *engine.Engine
	responder  Responder
	operator   OperatorSink
	operatorID int64
	journal    Journal
	metrics    *metrics.Metrics
	now        func() time.Time
	queue      *userQueue
}

// New validates options and builds a router.
func New(opts Options) (*Router, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("router: store is required")
	case opts.Engine == nil:
		return nil, errors.New("router: engine is required")
	case opts.Responder == nil:
		return nil, errors.New("router: responder is required")
	case opts.Operator == nil:
		return nil, errors.New("router: operator sink is required")
	case opts.OperatorID == 0:
		return nil, errors.New("router: operator id is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		store:      opts.Store,
		engine:     opts.Engine,
		responder:  opts.Responder,
		operator:   opts.Operator,
		operatorID: opts.OperatorID,
		journal:    opts.Journal,
		metrics:    opts.Metrics,
		now:        now,
		queue:      newUserQueue(),
	}, nil
}

// Handle processes one event. Events of the same user are handled strictly in
// arrival order; different users proceed in parallel.
//
// engine.ErrUnknownTransition is returned for stray events and leaves the
// session untouched. A *DeliveryError means the transition committed but some
// replies were lost.
func (r *Router) Handle(ctx context.Context, in Inbound) error {
	_, err := r.handle(ctx, in)
	return err
}

// handle reports whether a transition was committed.
func (r *Router) handle(ctx context.Context, in Inbound) (bool, error) {
	if in.Event == nil {
		return false, fmt.Errorf("%w: nil event", engine.ErrUnknownTransition)
	}
	release, err := r.queue.acquire(ctx, in.UserID)
	if err != nil {
		return false, fmt.Errorf("router: wait for user %d: %w", in.UserID, err)
	}
	defer release()

	start := time.Now()
	name := in.Event.Name()
	cur := r.store.GetOrCreate(in.UserID)
	next, actions, err := r.engine.Transition(cur, in.Event, r.now())
	if err != nil {
		return false, r.rejected(ctx, in, cur, err, start)
	}

	committed, ok := r.store.CompareAndSwap(in.UserID, cur.Generation, next)
	if !ok {
		r.metrics.ObserveEvent(name, metrics.OutcomeRace, time.Since(start))
		logger.Warn(ctx, component, "intake.commit",
			slog.String("status", "fail"),
			slog.Int64("user_id", in.UserID),
			slog.String("op", name),
			slog.Uint64("generation", cur.Generation),
		)
		return false, ErrConflict
	}

	logger.Debug(ctx, component, "intake.transition",
		slog.String("status", "ok"),
		slog.Int64("user_id", in.UserID),
		slog.String("op", name),
		slog.String("state", string(committed.State)),
		slog.String("flow", string(committed.Flow)),
		slog.String("variant", committed.Variant),
		slog.Int("step", committed.Step),
		slog.Uint64("generation", committed.Generation),
		slog.Int("count", len(actions)),
	)

	deliveryErr := r.execute(ctx, in, actions)
	outcome := metrics.OutcomeOK
	if deliveryErr != nil {
		outcome = metrics.OutcomeError
		logger.Warn(ctx, component, "intake.deliver",
			slog.String("status", "fail"),
			slog.Int64("user_id", in.UserID),
			slog.String("op", name),
			slog.String("err", deliveryErr.Error()),
		)
	}
	r.metrics.ObserveEvent(name, outcome, time.Since(start))
	return true, deliveryErr
}

func (r *Router) rejected(ctx context.Context, in Inbound, cur session.Session, err error, start time.Time) error {
	name := in.Event.Name()
	switch {
	case errors.Is(err, engine.ErrStaleTimeout):
		r.metrics.ObserveEvent(name, metrics.OutcomeIgnored, time.Since(start))
		return nil
	case errors.Is(err, engine.ErrUnknownTransition):
		r.metrics.ObserveEvent(name, metrics.OutcomeIgnored, time.Since(start))
		logger.Debug(ctx, component, "intake.transition",
			slog.String("status", "skip"),
			slog.Int64("user_id", in.UserID),
			slog.String("op", name),
			slog.String("state", string(cur.State)),
			slog.String("flow", string(cur.Flow)),
			slog.Int("step", cur.Step),
			slog.String("cause", err.Error()),
		)
		return err
	default:
		r.metrics.ObserveEvent(name, metrics.OutcomeError, time.Since(start))
		logger.Error(ctx, component, "intake.transition",
			slog.String("status", "fail"),
			slog.Int64("user_id", in.UserID),
			slog.String("op", name),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("router: transition %s for user %d: %w", name, in.UserID, err)
	}
}

func (r *Router) execute(ctx context.Context, in Inbound, actions []engine.Action) error {
	var (
		errs []error
		// undelivered swaps the next success notice for TextUndelivered.
		undelivered bool
	)
	for _, a := range actions {
		switch a := a.(type) {
		case engine.Submit:
			sub := a.Submission
			if err := r.operator.Forward(ctx, r.operatorID, SubmissionMessage(sub, in.Profile)); err != nil {
				r.metrics.ObserveDeliveryFailure("operator")
				errs = append(errs, fmt.Errorf("forward submission %s: %w", sub.ID, err))
				undelivered = true
				continue
			}
			r.metrics.ObserveSubmission(string(sub.Flow), sub.Variant)
			logger.Info(ctx, component, "intake.submit",
				slog.String("status", "ok"),
				slog.Int64("user_id", in.UserID),
				slog.String("flow", string(sub.Flow)),
				slog.String("variant", sub.Variant),
				slog.String("submission_id", sub.ID.String()),
			)
			r.record(ctx, sub)
		case engine.Forward:
			if err := r.operator.Forward(ctx, r.operatorID, ChatMessage(in.UserID, in.Profile, a.Text)); err != nil {
				r.metrics.ObserveDeliveryFailure("operator")
				errs = append(errs, fmt.Errorf("forward chat message: %w", err))
				undelivered = true
			}
		case engine.Reply:
			if _, ok := a.(engine.Notify); ok && undelivered {
				a, undelivered = engine.Notify{Text: engine.TextUndelivered}, false
			}
			text, controls := a.Render()
			if err := r.responder.Prompt(ctx, in.UserID, text, controls); err != nil {
				r.metrics.ObserveDeliveryFailure("user")
				errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
			}
		default:
			errs = append(errs, fmt.Errorf("unsupported action %T", a))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &DeliveryError{UserID: in.UserID, Errs: errs}
}

func (r *Router) record(ctx context.Context, sub engine.Submission) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Record(ctx, sub); err != nil {
		r.metrics.ObserveJournalFailure()
		logger.Warn(ctx, component, "intake.journal",
			slog.String("status", "fail"),
			slog.String("submission_id", sub.ID.String()),
			slog.String("err", err.Error()),
		)
	}
}

// ExpireIdle resets every session idle for at least the engine timeout and
// returns how many were reset. Each reset goes through Handle so it is
// ordered with real user input.
func (r *Router) ExpireIdle(ctx context.Context, now time.Time) int {
	stale := r.store.Expired(now, r.engine.Timeout())
	expired := 0
	for _, s := range stale {
		if ctx.Err() != nil {
			break
		}
		committed, err := r.handle(ctx, Inbound{UserID: s.UserID, Event: engine.Timeout{Generation: s.Generation}})
		if err != nil {
			logger.Warn(ctx, logger.Sessions, "sessions.expire",
				slog.String("status", "fail"),
				slog.Int64("user_id", s.UserID),
				slog.String("err", err.Error()),
			)
			continue
		}
		if committed {
			expired++
		}
	}
	r.metrics.ObserveExpired(expired)
	r.publishStats()
	return expired
}

// Stats counts active sessions per state.
func (r *Router) Stats() map[session.State]int {
	return r.store.Stats()
}

func (r *Router) publishStats() {
	stats := r.store.Stats()
	counts := make(map[string]int, len(stats))
	for st, n := range stats {
		counts[string(st)] = n
	}
	r.metrics.SetSessions(counts,
		string(session.StateInFlow),
		string(session.StateAwaitingConfirmation),
		string(session.StateAwaitingOperatorChat),
	)
}
