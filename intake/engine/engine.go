// Package engine implements the intake conversation state machine.
//
// Transition is a pure function of the current session, the event and the
// clock. It never blocks and never talks to the outside world; the router
// commits the returned session and executes the returned actions.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kompomir/servicebot/intake/field"
	"github.com/kompomir/servicebot/intake/flow"
	"github.com/kompomir/servicebot/intake/session"
)

var (
	// ErrUnknownTransition is returned for an event that has no rule in the current state.
	// The session is left unchanged.
	ErrUnknownTransition = errors.New("engine: unknown transition")
	// ErrStaleTimeout is returned when a timeout no longer applies to the session.
	ErrStaleTimeout = errors.New("engine: stale timeout")
)

// DefaultTimeout is the idle period after which a session is reset.
const DefaultTimeout = 900 * time.Second

// Texts shown to the user.
const (
	TextMenu         = "👋 Привет! Выберите действие 👇"
	TextIdleHint     = "Выберите действие в меню ниже 👇"
	TextCancelled    = "❌ Заявка отменена."
	TextSubmitted    = "Спасибо! Мы получили Ваше сообщение и свяжемся в ближайшее время."
	TextOperatorChat = "✍️ Напишите ваш вопрос прямо сюда, менеджер скоро ответит."
	TextForwarded    = "✅ Сообщение отправлено менеджеру."
	TextConfirm      = "Всё верно? Подтвердите отправку заявки."
	// TextUndelivered replaces the success notice when the operator was not reached.
	TextUndelivered = "⚠️ Не удалось отправить сообщение менеджеру, попробуйте ещё раз позже."
)

// Options configures an Engine.
type Options struct {
	// Timeout is the idle period before a session is reset; zero selects DefaultTimeout.
	Timeout time.Duration
	// Pages maps static page keys to their text.
	Pages map[string]string
	// NewID generates submission ids; nil selects uuid.New.
	NewID func() uuid.UUID
}

// Engine drives sessions through the flows of a registry.
type Engine struct {
	flows   *flow.Registry
	timeout time.Duration
	pages   map[string]string
	newID   func() uuid.UUID
}

// New constructs an engine over the registry.
func New(flows *flow.Registry, opts Options) *Engine {
	e := &Engine{
		flows:   flows,
		timeout: opts.Timeout,
		pages:   make(map[string]string, len(opts.Pages)),
		newID:   opts.NewID,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.newID == nil {
		e.newID = uuid.New
	}
	for k, v := range opts.Pages {
		if strings.TrimSpace(v) != "" {
			e.pages[k] = v
		}
	}
	return e
}

// Timeout returns the configured idle timeout.
func (e *Engine) Timeout() time.Duration {
	return e.timeout
}

// Flows returns the registry the engine resolves flows from.
func (e *Engine) Flows() *flow.Registry {
	return e.flows
}

// Transition computes the next session and the actions for ev.
//
// On error the original session is returned with no actions. An accepted
// event refreshes LastActivity; the store assigns the new generation on commit.
func (e *Engine) Transition(s session.Session, ev Event, now time.Time) (session.Session, []Action, error) {
	var (
		next    session.Session
		actions []Action
		err     error
	)
	switch ev := ev.(type) {
	case Timeout:
		return e.expire(s, ev, now)
	case Menu:
		next, actions = e.menu(s)
	default:
		switch s.State {
		case session.StateIdle, "":
			next, actions, err = e.idle(s, ev)
		case session.StateInFlow:
			next, actions, err = e.inFlow(s, ev)
		case session.StateAwaitingConfirmation:
			next, actions, err = e.confirming(s, ev, now)
		case session.StateAwaitingOperatorChat:
			next, actions, err = e.operatorChat(s, ev)
		default:
			err = fmt.Errorf("%w: state %q", ErrUnknownTransition, s.State)
		}
	}
	if err != nil {
		return s, nil, err
	}
	next.LastActivity = now
	return next, actions, nil
}

func unknown(s session.Session, ev Event) error {
	return fmt.Errorf("%w: %s in %s", ErrUnknownTransition, ev.Name(), s.State)
}

func (e *Engine) expire(s session.Session, ev Timeout, now time.Time) (session.Session, []Action, error) {
	if s.IsIdle() || ev.Generation != s.Generation || now.Sub(s.LastActivity) < e.timeout {
		return s, nil, ErrStaleTimeout
	}
	return s.Reset(), nil, nil
}

func (e *Engine) menu(s session.Session) (session.Session, []Action) {
	switch s.State {
	case session.StateInFlow, session.StateAwaitingConfirmation:
		return s.Reset(), []Action{Notify{Text: TextCancelled}, ShowMenu{Text: TextMenu}}
	default:
		return s.Reset(), []Action{ShowMenu{Text: TextMenu}}
	}
}

func (e *Engine) idle(s session.Session, ev Event) (session.Session, []Action, error) {
	switch ev := ev.(type) {
	case StartFlow:
		entry, ok := e.flows.Resolve(ev.Key)
		if !ok {
			return s, nil, fmt.Errorf("%w: no flow for key %q", ErrUnknownTransition, ev.Key)
		}
		first, _ := entry.Flow.Step(0)
		next := session.Session{
			UserID:     s.UserID,
			State:      session.StateInFlow,
			Flow:       entry.Flow.ID,
			Variant:    entry.Variant.Key,
			Step:       0,
			Values:     make(map[string]string, entry.Flow.Len()),
			Generation: s.Generation,
		}
		return next, []Action{Prompt{Text: first.PromptText(), Controls: stepControls(0)}}, nil
	case OperatorChat:
		next := s.Reset()
		next.State = session.StateAwaitingOperatorChat
		return next, []Action{Prompt{Text: TextOperatorChat, Controls: ControlsCancelOnly}}, nil
	case OpenPage:
		text, ok := e.pages[ev.Page]
		if !ok {
			return s, nil, fmt.Errorf("%w: no page %q", ErrUnknownTransition, ev.Page)
		}
		return s.Reset(), []Action{ShowPage{Page: ev.Page, Text: text}}, nil
	case Text:
		return s.Reset(), []Action{ShowMenu{Text: TextIdleHint}}, nil
	default:
		return s, nil, unknown(s, ev)
	}
}

func (e *Engine) inFlow(s session.Session, ev Event) (session.Session, []Action, error) {
	def, ok := e.flows.Get(s.Flow)
	if !ok {
		return s, nil, fmt.Errorf("%w: flow %q is not registered", ErrUnknownTransition, s.Flow)
	}
	st, ok := def.Step(s.Step)
	if !ok {
		return s, nil, fmt.Errorf("%w: step %d out of range for %s", ErrUnknownTransition, s.Step, s.Flow)
	}

	switch ev := ev.(type) {
	case Text:
		value, err := st.Validator.Validate(ev.Raw)
		if err != nil {
			var rej *field.Rejection
			if !errors.As(err, &rej) {
				return s, nil, fmt.Errorf("validate %s.%s: %w", s.Flow, st.Key, err)
			}
			return s.Clone(), []Action{
				RejectInput{Text: rej.Message(), Reason: rej.Reason},
				Prompt{Text: st.PromptText(), Controls: stepControls(s.Step)},
			}, nil
		}
		next := s.Clone()
		if next.Values == nil {
			next.Values = make(map[string]string, def.Len())
		}
		next.Values[st.Key] = value
		next.Step++
		if next.Step == def.Len() {
			next.State = session.StateAwaitingConfirmation
			return next, []Action{Summary{Text: e.summary(def, next)}}, nil
		}
		following, _ := def.Step(next.Step)
		return next, []Action{Prompt{Text: following.PromptText(), Controls: stepControls(next.Step)}}, nil
	case Back:
		next := s.Clone()
		if next.Step > 0 {
			next.Step--
			prev, _ := def.Step(next.Step)
			delete(next.Values, prev.Key)
			st = prev
		}
		return next, []Action{Prompt{Text: st.PromptText(), Controls: stepControls(next.Step)}}, nil
	case Cancel:
		return s.Reset(), []Action{Notify{Text: TextCancelled}, ShowMenu{Text: TextMenu}}, nil
	default:
		return s, nil, unknown(s, ev)
	}
}

func (e *Engine) confirming(s session.Session, ev Event, now time.Time) (session.Session, []Action, error) {
	def, ok := e.flows.Get(s.Flow)
	if !ok {
		return s, nil, fmt.Errorf("%w: flow %q is not registered", ErrUnknownTransition, s.Flow)
	}
	switch ev.(type) {
	case Confirm:
		sub := Submission{
			ID:        e.newID(),
			UserID:    s.UserID,
			Flow:      def.ID,
			Variant:   s.Variant,
			Title:     def.Title(s.Variant),
			Fields:    def.Fields(s.Values),
			Summary:   def.RenderSummary(s.Variant, s.Values),
			CreatedAt: now,
		}
		return s.Reset(), []Action{Submit{Submission: sub}, Notify{Text: TextSubmitted}, ShowMenu{Text: TextMenu}}, nil
	case Reject, Cancel:
		return s.Reset(), []Action{Notify{Text: TextCancelled}, ShowMenu{Text: TextMenu}}, nil
	case Text:
		return s.Clone(), []Action{Summary{Text: e.summary(def, s)}}, nil
	default:
		return s, nil, unknown(s, ev)
	}
}

func (e *Engine) operatorChat(s session.Session, ev Event) (session.Session, []Action, error) {
	switch ev := ev.(type) {
	case Text:
		if strings.TrimSpace(ev.Raw) == "" {
			return s.Clone(), []Action{Prompt{Text: TextOperatorChat, Controls: ControlsCancelOnly}}, nil
		}
		return s.Reset(), []Action{Forward{Text: ev.Raw}, Notify{Text: TextForwarded}, ShowMenu{Text: TextMenu}}, nil
	case Cancel:
		return s.Reset(), []Action{ShowMenu{Text: TextMenu}}, nil
	default:
		return s, nil, unknown(s, ev)
	}
}

func (e *Engine) summary(def *flow.Definition, s session.Session) string {
	return def.RenderSummary(s.Variant, s.Values) + "\n\n" + TextConfirm
}

func stepControls(step int) Controls {
	if step == 0 {
		return ControlsCancelOnly
	}
	return ControlsBackCancel
}
