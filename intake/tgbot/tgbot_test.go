package tgbot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	tg "github.com/kompomir/servicebot/core/telegram"
	"github.com/kompomir/servicebot/core/telegram/helpers"
	"github.com/kompomir/servicebot/core/telegram/middleware"
	"github.com/kompomir/servicebot/core/telegram/sender"
	"github.com/kompomir/servicebot/intake/engine"
	"github.com/kompomir/servicebot/intake/flow"
	"github.com/kompomir/servicebot/intake/journal"
	"github.com/kompomir/servicebot/intake/router"
	"github.com/kompomir/servicebot/intake/session"
)

type fakeContext struct {
	tele.Context
	mu        sync.Mutex
	update    tele.Update
	store     map[string]interface{}
	sent      []string
	edited    []string
	markups   []*tele.ReplyMarkup
	responses []*tele.CallbackResponse
}

func newFakeContext(upd tele.Update) *fakeContext {
	return &fakeContext{update: upd, store: map[string]interface{}{}}
}

func (f *fakeContext) Update() tele.Update      { return f.update }
func (f *fakeContext) Callback() *tele.Callback { return f.update.Callback }

func (f *fakeContext) Sender() *tele.User {
	switch {
	case f.update.Callback != nil:
		return f.update.Callback.Sender
	case f.update.Message != nil:
		return f.update.Message.Sender
	}
	return nil
}

func (f *fakeContext) Chat() *tele.Chat {
	switch {
	case f.update.Message != nil:
		return f.update.Message.Chat
	case f.update.Callback != nil && f.update.Callback.Message != nil:
		return f.update.Callback.Message.Chat
	}
	return nil
}

func (f *fakeContext) Text() string {
	if f.update.Message != nil {
		return f.update.Message.Text
	}
	return ""
}

func (f *fakeContext) Get(key string) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store[key]
}

func (f *fakeContext) Set(key string, v interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[key] = v
}

func (f *fakeContext) Send(what interface{}, opts ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, fmt.Sprint(what))
	f.markups = append(f.markups, markupOf(opts))
	return nil
}

func (f *fakeContext) Edit(what interface{}, opts ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, fmt.Sprint(what))
	f.markups = append(f.markups, markupOf(opts))
	return nil
}

func (f *fakeContext) Respond(resp ...*tele.CallbackResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp...)
	return nil
}

func markupOf(opts []interface{}) *tele.ReplyMarkup {
	for _, o := range opts {
		if so, ok := o.(*tele.SendOptions); ok {
			return so.ReplyMarkup
		}
	}
	return nil
}

func privateChat(id int64) *tele.Chat {
	return &tele.Chat{ID: id, Type: tele.ChatPrivate}
}

func press(userID int64, key string) *fakeContext {
	return newFakeContext(tele.Update{ID: 7, Callback: &tele.Callback{
		Sender:  &tele.User{ID: userID, FirstName: "Иван", Username: "ivan"},
		Data:    "\f" + key,
		Message: &tele.Message{ID: 1, Chat: privateChat(userID)},
	}})
}

func message(userID int64, text string, chat *tele.Chat) *fakeContext {
	return newFakeContext(tele.Update{ID: 8, Message: &tele.Message{
		Text:   text,
		Sender: &tele.User{ID: userID, FirstName: "Иван"},
		Chat:   chat,
	}})
}

type fakeConversation struct {
	mu     sync.Mutex
	events []router.Inbound
	err    error
	stats  map[session.State]int
}

func (f *fakeConversation) Handle(_ context.Context, in router.Inbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, in)
	return f.err
}

func (f *fakeConversation) Stats() map[session.State]int { return f.stats }

type sentMessage struct {
	to   string
	text string
	opts []interface{}
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeMessenger) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sentMessage{to: to.Recipient(), text: fmt.Sprint(what), opts: opts})
	return &tele.Message{}, nil
}

func defaultFlows(t *testing.T) *flow.Registry {
	t.Helper()
	reg, err := flow.Build(nil)
	require.NoError(t, err)
	return reg
}

func newDispatcher(t *testing.T) *sender.Dispatcher {
	t.Helper()
	d := sender.NewDispatcher(sender.Options{Workers: 1, MaxRetries: 0, MaxDuration: time.Second})
	t.Cleanup(d.Close)
	return d
}

func uniques(m *tele.ReplyMarkup) [][]string {
	if m == nil {
		return nil
	}
	rows := make([][]string, 0, len(m.InlineKeyboard))
	for _, row := range m.InlineKeyboard {
		keys := make([]string, 0, len(row))
		for _, btn := range row {
			keys = append(keys, btn.Unique)
		}
		rows = append(rows, keys)
	}
	return rows
}

func TestKeyboardsMarkup(t *testing.T) {
	kb := NewKeyboards(defaultFlows(t), KeyContacts, KeySocial)

	assert.Nil(t, kb.Markup(engine.ControlsNone))
	assert.Equal(t, [][]string{{KeyCancel}}, uniques(kb.Markup(engine.ControlsCancelOnly)))
	assert.Equal(t, [][]string{{KeyBack, KeyCancel}}, uniques(kb.Markup(engine.ControlsBackCancel)))
	assert.Equal(t, [][]string{{KeyConfirm, KeyReject}}, uniques(kb.Markup(engine.ControlsConfirmCancel)))
	assert.Equal(t, [][]string{{KeyMain}}, uniques(kb.Markup(engine.ControlsBackToMenu)))

	menu := kb.Markup(engine.ControlsMenu)
	assert.Equal(t, [][]string{
		{"repair"}, {"sysadmin"}, {"courier"}, {"cartridge"},
		{KeyManager},
		{KeyContacts, KeySocial},
	}, uniques(menu))
	assert.Equal(t, "🧰 Записаться на ремонт", menu.InlineKeyboard[0][0].Text)
	assert.NotSame(t, menu, kb.Markup(engine.ControlsMenu))

	bare := NewKeyboards(defaultFlows(t), KeyContacts).Markup(engine.ControlsMenu)
	assert.Equal(t, [][]string{{KeyContacts}}, uniques(bare)[5:])
	assert.Len(t, uniques(NewKeyboards(defaultFlows(t)).Markup(engine.ControlsMenu)), 5)
}

func TestRegister(t *testing.T) {
	h, err := New(Options{Conversation: &fakeConversation{}, Flows: defaultFlows(t)})
	require.NoError(t, err)

	reg := tg.NewRegistry()
	require.NoError(t, h.Register(reg))
	assert.Equal(t, []string{
		"back", "cancel", "cartridge", "confirm", "contacts", "courier",
		"main", "manager", "reject", "repair", "social", "sysadmin",
	}, reg.CallbackKeys())

	name, cmd, ok := reg.LookupCommand("/menu")
	require.True(t, ok)
	assert.Equal(t, "/start", name)
	assert.False(t, cmd.AdminOnly)
	_, stats, ok := reg.LookupCommand("/stats")
	require.True(t, ok)
	assert.True(t, stats.AdminOnly)

	assert.Error(t, h.Register(reg), "second registration collides")
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{Flows: defaultFlows(t)})
	assert.Error(t, err)
	_, err = New(Options{Conversation: &fakeConversation{}})
	assert.Error(t, err)
}

func TestCallbackDispatch(t *testing.T) {
	conv := &fakeConversation{}
	h, err := New(Options{Conversation: conv, Flows: defaultFlows(t)})
	require.NoError(t, err)
	reg := tg.NewRegistry()
	require.NoError(t, h.Register(reg))

	cases := map[string]engine.Event{
		"repair":   engine.StartFlow{Key: "repair"},
		"sysadmin": engine.StartFlow{Key: "sysadmin"},
		KeyManager: engine.OperatorChat{},
		KeyConfirm: engine.Confirm{},
		KeyReject:  engine.Reject{},
		KeyCancel:  engine.Cancel{},
		KeyBack:    engine.Back{},
		KeyMain:    engine.Menu{},
		KeySocial:  engine.OpenPage{Page: PageSocial},
	}
	for key, want := range cases {
		t.Run(key, func(t *testing.T) {
			conv.events = nil
			cb, ok := reg.Callback(key)
			require.True(t, ok)
			c := press(5, key)
			require.NoError(t, cb(c))
			require.Len(t, conv.events, 1)
			in := conv.events[0]
			assert.Equal(t, int64(5), in.UserID)
			assert.Equal(t, router.Profile{FirstName: "Иван", Username: "ivan"}, in.Profile)
			assert.Equal(t, want, in.Event)
			require.Len(t, c.responses, 1)
			assert.Empty(t, c.responses[0].Text)
		})
	}
}

func TestStaleButtonIsAcknowledged(t *testing.T) {
	conv := &fakeConversation{err: fmt.Errorf("%w: confirm in idle", engine.ErrUnknownTransition)}
	h, err := New(Options{Conversation: conv, Flows: defaultFlows(t)})
	require.NoError(t, err)

	c := press(5, KeyConfirm)
	require.NoError(t, h.on(engine.Confirm{})(c))
	require.Len(t, c.responses, 1)
	assert.Equal(t, textStale, c.responses[0].Text)
}

func TestDeliveryErrorIsReturned(t *testing.T) {
	derr := &router.DeliveryError{UserID: 5, Errs: []error{errors.New("blocked")}}
	h, err := New(Options{Conversation: &fakeConversation{err: derr}, Flows: defaultFlows(t)})
	require.NoError(t, err)

	c := press(5, KeyCancel)
	err = h.on(engine.Cancel{})(c)
	var got *router.DeliveryError
	require.ErrorAs(t, err, &got)
	assert.Len(t, c.responses, 1)
}

func TestTextIgnoresGroupChats(t *testing.T) {
	conv := &fakeConversation{}
	h, err := New(Options{Conversation: conv, Flows: defaultFlows(t)})
	require.NoError(t, err)

	require.NoError(t, h.Text(message(5, "привет", &tele.Chat{ID: -100, Type: tele.ChatSuperGroup})))
	assert.Empty(t, conv.events)

	require.NoError(t, h.Text(message(5, "привет", privateChat(5))))
	require.Len(t, conv.events, 1)
	assert.Equal(t, engine.Text{Raw: "привет"}, conv.events[0].Event)
}

type fakeCounter struct {
	since  time.Time
	counts []journal.FlowCount
	err    error
}

func (f *fakeCounter) CountSince(_ context.Context, since time.Time) ([]journal.FlowCount, error) {
	f.since = since
	return f.counts, f.err
}

func TestStats(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	conv := &fakeConversation{stats: map[session.State]int{
		session.StateInFlow:               2,
		session.StateAwaitingOperatorChat: 1,
	}}
	counter := &fakeCounter{counts: []journal.FlowCount{
		{Flow: "repair", Variant: "sysadmin", Count: 1},
		{Flow: "courier", Variant: "courier", Count: 3},
	}}
	h, err := New(Options{Conversation: conv, Flows: defaultFlows(t), Counter: counter, Now: func() time.Time { return now }})
	require.NoError(t, err)

	c := message(1, "/stats", privateChat(1))
	require.NoError(t, h.Stats(c))
	assert.Equal(t, now.Add(-24*time.Hour), counter.since)
	require.Len(t, c.sent, 1)
	assert.Equal(t, "📊 Активные диалоги\n"+
		"in_flow: 2\n"+
		"awaiting_confirmation: 0\n"+
		"awaiting_operator_chat: 1\n"+
		"всего: 3\n"+
		"\n📨 Заявки за 24 ч\n"+
		"courier/courier: 3\n"+
		"repair/sysadmin: 1", c.sent[0])
}

func TestStatsTextWithoutJournal(t *testing.T) {
	text := StatsText(map[session.State]int{}, nil, false)
	assert.NotContains(t, text, "Заявки")
	assert.Contains(t, text, "всего: 0")

	assert.Contains(t, StatsText(nil, nil, true), "Заявки за 24 ч\nнет")
}

func TestResponderRepliesThroughUpdate(t *testing.T) {
	bot := &fakeMessenger{}
	r, err := NewResponder(bot, newDispatcher(t), NewKeyboards(defaultFlows(t)))
	require.NoError(t, err)

	c := press(5, "repair")
	ctx := helpers.BuildContext(c)
	require.NoError(t, r.Prompt(ctx, 5, "first", engine.ControlsCancelOnly))
	require.NoError(t, r.Prompt(ctx, 5, "second", engine.ControlsMenu))

	assert.Equal(t, []string{"first"}, c.edited)
	assert.Equal(t, []string{"second"}, c.sent)
	assert.Equal(t, [][]string{{KeyCancel}}, uniques(c.markups[0]))
	assert.Empty(t, bot.sent)
}

func TestResponderSendsWithoutUpdate(t *testing.T) {
	bot := &fakeMessenger{}
	r, err := NewResponder(bot, newDispatcher(t), NewKeyboards(defaultFlows(t)))
	require.NoError(t, err)

	require.NoError(t, r.Prompt(context.Background(), 42, "hello", engine.ControlsBackCancel))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, "42", bot.sent[0].to)
	assert.Equal(t, "hello", bot.sent[0].text)
	assert.Equal(t, [][]string{{KeyBack, KeyCancel}}, uniques(markupOf(bot.sent[0].opts)))

	// another user's update in ctx does not capture the reply
	c := press(5, "repair")
	require.NoError(t, r.Prompt(helpers.BuildContext(c), 42, "other", engine.ControlsNone))
	assert.Empty(t, c.edited)
	assert.Len(t, bot.sent, 2)
}

func TestOperatorForward(t *testing.T) {
	bot := &fakeMessenger{}
	op, err := NewOperator(bot, newDispatcher(t))
	require.NoError(t, err)

	require.NoError(t, op.Forward(context.Background(), -1001, "#repair Новая заявка"))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, "-1001", bot.sent[0].to)

	bot.err = errors.New("chat not found")
	assert.Error(t, op.Forward(context.Background(), -1001, "x"))

	_, err = NewOperator(nil, newDispatcher(t))
	assert.Error(t, err)
}

func TestFallbacks(t *testing.T) {
	fb := Fallbacks{}

	c := press(5, "gone")
	require.NoError(t, fb.UnknownCallback()(c))
	require.Len(t, c.responses, 1)
	assert.Equal(t, textStale, c.responses[0].Text)

	c = press(5, "repair")
	require.NoError(t, fb.RateLimited()(c))
	assert.Equal(t, textRateLimited, c.responses[0].Text)
	assert.Empty(t, c.sent)

	r := message(5, "Иван", privateChat(5))
	require.NoError(t, fb.RateLimited()(r))
	assert.Equal(t, []string{textResend}, r.sent)

	rg := message(5, "Иван", &tele.Chat{ID: -5, Type: tele.ChatGroup})
	require.NoError(t, fb.RateLimited()(rg))
	assert.Empty(t, rg.sent)

	m := message(5, "", privateChat(5))
	require.NoError(t, fb.Unsupported()(m))
	assert.Equal(t, []string{textUnsupported}, m.sent)

	g := message(5, "", &tele.Chat{ID: -5, Type: tele.ChatGroup})
	require.NoError(t, fb.Unsupported()(g))
	assert.Empty(t, g.sent)
}

func TestThrottledMessageAsksToResend(t *testing.T) {
	conv := &fakeConversation{}
	h, err := New(Options{Conversation: conv, Flows: defaultFlows(t)})
	require.NoError(t, err)
	limited := middleware.RateLimit(middleware.RateLimitOptions{
		Interval:  time.Minute,
		OnLimited: Fallbacks{}.RateLimited(),
	})(h.Text)

	first := message(42, "Иван", privateChat(42))
	require.NoError(t, limited(first))
	second := message(42, "+380501234567", privateChat(42))
	require.NoError(t, limited(second))

	assert.Len(t, conv.events, 1)
	assert.Empty(t, first.sent)
	assert.Equal(t, []string{textResend}, second.sent)
}

func TestConversationEndToEnd(t *testing.T) {
	flows := defaultFlows(t)
	bot := &fakeMessenger{}
	d := newDispatcher(t)
	kb := NewKeyboards(flows)
	resp, err := NewResponder(bot, d, kb)
	require.NoError(t, err)
	op, err := NewOperator(bot, d)
	require.NoError(t, err)
	rt, err := router.New(router.Options{
		Store:      session.NewMemoryStore(),
		Engine:     engine.New(flows, engine.Options{Pages: map[string]string{PageContacts: "Киев"}}),
		Responder:  resp,
		Operator:   op,
		OperatorID: -1001,
	})
	require.NoError(t, err)
	h, err := New(Options{Conversation: rt, Flows: flows})
	require.NoError(t, err)

	start := press(5, "repair")
	require.NoError(t, h.on(engine.StartFlow{Key: "repair"})(start))
	require.Len(t, start.edited, 1)
	assert.Equal(t, "👤 Как к Вам обращаться?", start.edited[0])
	assert.Equal(t, map[session.State]int{session.StateInFlow: 1}, rt.Stats())

	name := message(5, "Иван", privateChat(5))
	require.NoError(t, h.Text(name))
	require.Len(t, name.sent, 1)
	assert.Contains(t, name.sent[0], "телефон")
	assert.Equal(t, [][]string{{KeyBack, KeyCancel}}, uniques(name.markups[0]))

	cancel := press(5, KeyCancel)
	require.NoError(t, h.on(engine.Cancel{})(cancel))
	assert.Equal(t, []string{engine.TextCancelled}, cancel.edited)
	assert.Equal(t, []string{engine.TextMenu}, cancel.sent)
	assert.Empty(t, rt.Stats())

	contacts := press(5, KeyContacts)
	require.NoError(t, h.on(engine.OpenPage{Page: PageContacts})(contacts))
	assert.Equal(t, []string{"Киев"}, contacts.edited)

	manager := press(5, KeyManager)
	require.NoError(t, h.on(engine.OperatorChat{})(manager))
	question := message(5, "Когда откроетесь?", privateChat(5))
	require.NoError(t, h.Text(question))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, "-1001", bot.sent[0].to)
	assert.Contains(t, bot.sent[0].text, "Когда откроетесь?")
	assert.Equal(t, []string{engine.TextForwarded, engine.TextMenu}, question.sent)

	stale := press(5, KeyConfirm)
	require.NoError(t, h.on(engine.Confirm{})(stale))
	require.Len(t, stale.responses, 1)
	assert.Equal(t, textStale, stale.responses[0].Text)
}
