package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kompomir/servicebot/intake/engine"
	"github.com/kompomir/servicebot/intake/flow"
	"github.com/kompomir/servicebot/intake/metrics"
	"github.com/kompomir/servicebot/intake/session"
)

const operatorID = int64(555)

type reply struct {
	UserID   int64
	Text     string
	Controls engine.Controls
}

type fakeResponder struct {
	mu      sync.Mutex
	replies []reply
	fail    error
}

func (f *fakeResponder) Prompt(_ context.Context, userID int64, text string, controls engine.Controls) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.replies = append(f.replies, reply{UserID: userID, Text: text, Controls: controls})
	return nil
}

func (f *fakeResponder) all() []reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reply(nil), f.replies...)
}

type fakeOperator struct {
	mu   sync.Mutex
	msgs []string
	fail error
}

func (f *fakeOperator) Forward(_ context.Context, id int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != operatorID {
		return fmt.Errorf("unexpected operator %d", id)
	}
	if f.fail != nil {
		return f.fail
	}
	f.msgs = append(f.msgs, text)
	return nil
}

func (f *fakeOperator) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.msgs...)
}

type fakeJournal struct {
	mu   sync.Mutex
	subs []engine.Submission
	fail error
}

func (f *fakeJournal) Record(_ context.Context, sub engine.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.subs = append(f.subs, sub)
	return nil
}

type fixture struct {
	router    *Router
	store     session.Store
	responder *fakeResponder
	operator  *fakeOperator
	journal   *fakeJournal

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := flow.NewRegistry(flow.Defaults()...)
	require.NoError(t, err)

	f := &fixture{
		store:     session.NewMemoryStore(),
		responder: &fakeResponder{},
		operator:  &fakeOperator{},
		journal:   &fakeJournal{},
		now:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.router, err = New(Options{
		Store:      f.store,
		Engine:     engine.New(reg, engine.Options{Pages: map[string]string{"contacts": "📍 Днепр"}}),
		Responder:  f.responder,
		Operator:   f.operator,
		OperatorID: operatorID,
		Journal:    f.journal,
		Metrics:    metrics.New(),
		Now:        f.clock,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

var ivan = Profile{FirstName: "Ivan", Username: "ivan"}

func (f *fixture) send(t *testing.T, userID int64, ev engine.Event) {
	t.Helper()
	require.NoError(t, f.router.Handle(context.Background(), Inbound{UserID: userID, Profile: ivan, Event: ev}))
}

var repairAnswers = []string{"Ivan", "+380671234567", "ноутбук", "Lenovo", "ThinkPad T14", "не включается"}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestRepairSubmissionReachesOperator(t *testing.T) {
	f := newFixture(t)
	f.send(t, 1001, engine.StartFlow{Key: "repair"})
	for _, a := range repairAnswers {
		f.send(t, 1001, engine.Text{Raw: a})
	}
	assert.Equal(t, session.StateAwaitingConfirmation, f.store.GetOrCreate(1001).State)
	assert.Empty(t, f.operator.all())

	f.send(t, 1001, engine.Confirm{})

	msgs := f.operator.all()
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.True(t, strings.HasPrefix(msg, "#repair "))
	assert.Contains(t, msg, "От: Ivan (@ivan)")
	assert.Contains(t, msg, "ID: 1001")

	def := flow.Defaults()[0]
	last := -1
	for i, st := range def.Steps {
		line := st.Label + ": " + repairAnswers[i]
		idx := strings.Index(msg, line)
		require.GreaterOrEqualf(t, idx, 0, "missing %q", line)
		assert.Greater(t, idx, last)
		last = idx
	}

	assert.True(t, f.store.GetOrCreate(1001).IsIdle())
	require.Len(t, f.journal.subs, 1)
	assert.Equal(t, "#repair", f.journal.subs[0].Tag())

	replies := f.responder.all()
	assert.Equal(t, engine.ControlsMenu, replies[len(replies)-1].Controls)
}

func TestSysadminVariantTag(t *testing.T) {
	f := newFixture(t)
	f.send(t, 7, engine.StartFlow{Key: "sysadmin"})
	for _, a := range repairAnswers {
		f.send(t, 7, engine.Text{Raw: a})
	}
	f.send(t, 7, engine.Confirm{})
	msgs := f.operator.all()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0], "#sysadmin "))
	assert.Contains(t, msgs[0], "Вызов системного администратора")
}

func TestRepliesCarryControls(t *testing.T) {
	f := newFixture(t)
	f.send(t, 1, engine.StartFlow{Key: "courier"})
	f.send(t, 1, engine.Text{Raw: "Ivan"})
	f.send(t, 1, engine.Text{Raw: "abc"})

	replies := f.responder.all()
	require.Len(t, replies, 4)
	assert.Equal(t, engine.ControlsCancelOnly, replies[0].Controls)
	assert.Equal(t, engine.ControlsBackCancel, replies[1].Controls)
	assert.Equal(t, engine.ControlsNone, replies[2].Controls, "rejection text")
	assert.Equal(t, replies[1].Text, replies[3].Text, "same question again")
}

func TestDeliveryFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	f.responder.fail = errors.New("telegram down")

	err := f.router.Handle(context.Background(), Inbound{UserID: 3, Event: engine.StartFlow{Key: "cartridge"}})
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, int64(3), de.UserID)
	assert.Len(t, de.Errs, 1)

	s := f.store.GetOrCreate(3)
	assert.Equal(t, session.StateInFlow, s.State)
	assert.Equal(t, flow.Cartridge, s.Flow)
}

func TestOperatorFailureStillResetsSession(t *testing.T) {
	f := newFixture(t)
	f.send(t, 4, engine.StartFlow{Key: "repair"})
	for _, a := range repairAnswers {
		f.send(t, 4, engine.Text{Raw: a})
	}
	f.operator.fail = errors.New("operator chat blocked")

	err := f.router.Handle(context.Background(), Inbound{UserID: 4, Profile: ivan, Event: engine.Confirm{}})
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, f.operator.fail)
	assert.True(t, f.store.GetOrCreate(4).IsIdle())
	assert.Empty(t, f.journal.subs, "undelivered submissions are not journaled")

	replies := f.responder.all()
	require.GreaterOrEqual(t, len(replies), 2)
	tail := replies[len(replies)-2:]
	assert.Equal(t, engine.TextUndelivered, tail[0].Text)
	assert.Equal(t, engine.TextMenu, tail[1].Text)
	for _, rp := range replies {
		assert.NotEqual(t, engine.TextSubmitted, rp.Text)
	}
}

func TestOperatorChatFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.send(t, 6, engine.OperatorChat{})
	f.operator.fail = errors.New("operator chat blocked")

	err := f.router.Handle(context.Background(), Inbound{UserID: 6, Profile: ivan, Event: engine.Text{Raw: "Где мой заказ?"}})
	assert.ErrorIs(t, err, f.operator.fail)
	assert.True(t, f.store.GetOrCreate(6).IsIdle())

	replies := f.responder.all()
	require.GreaterOrEqual(t, len(replies), 2)
	tail := replies[len(replies)-2:]
	assert.Equal(t, engine.TextUndelivered, tail[0].Text)
	assert.Equal(t, engine.TextMenu, tail[1].Text)
	for _, rp := range replies {
		assert.NotEqual(t, engine.TextForwarded, rp.Text)
	}
}

func TestJournalFailureIsNotADeliveryError(t *testing.T) {
	f := newFixture(t)
	f.journal.fail = errors.New("db down")
	f.send(t, 5, engine.StartFlow{Key: "repair"})
	for _, a := range repairAnswers {
		f.send(t, 5, engine.Text{Raw: a})
	}
	f.send(t, 5, engine.Confirm{})
	assert.Len(t, f.operator.all(), 1)
}

func TestOperatorChatForward(t *testing.T) {
	f := newFixture(t)
	f.send(t, 8, engine.OperatorChat{})
	f.send(t, 8, engine.Text{Raw: "Есть ли у вас картриджи HP 85A?"})

	msgs := f.operator.all()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "От: Ivan (@ivan)")
	assert.True(t, strings.HasSuffix(msgs[0], "Есть ли у вас картриджи HP 85A?"))
	assert.True(t, f.store.GetOrCreate(8).IsIdle())
}

func TestStrayEventIsNoop(t *testing.T) {
	f := newFixture(t)
	err := f.router.Handle(context.Background(), Inbound{UserID: 9, Event: engine.Confirm{}})
	assert.ErrorIs(t, err, engine.ErrUnknownTransition)
	assert.Empty(t, f.responder.all())
	assert.True(t, f.store.GetOrCreate(9).IsIdle())

	err = f.router.Handle(context.Background(), Inbound{UserID: 9})
	assert.ErrorIs(t, err, engine.ErrUnknownTransition)
}

func TestExpireIdle(t *testing.T) {
	f := newFixture(t)
	f.send(t, 1, engine.StartFlow{Key: "repair"})
	f.send(t, 2, engine.OperatorChat{})
	f.advance(10 * time.Minute)
	f.send(t, 3, engine.StartFlow{Key: "courier"})
	before := len(f.responder.all())

	f.advance(5 * time.Minute)
	assert.Equal(t, 2, f.router.ExpireIdle(context.Background(), f.clock()))
	assert.True(t, f.store.GetOrCreate(1).IsIdle())
	assert.True(t, f.store.GetOrCreate(2).IsIdle())
	assert.Equal(t, session.StateInFlow, f.store.GetOrCreate(3).State)
	assert.Len(t, f.responder.all(), before, "expiry is silent")

	assert.Zero(t, f.router.ExpireIdle(context.Background(), f.clock()))
	assert.Equal(t, map[session.State]int{session.StateInFlow: 1}, f.router.Stats())
}

func TestConcurrentUsersAreIsolated(t *testing.T) {
	f := newFixture(t)
	const users = 40

	var wg sync.WaitGroup
	for u := 1; u <= users; u++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			ctx := context.Background()
			_ = f.router.Handle(ctx, Inbound{UserID: id, Event: engine.StartFlow{Key: "repair"}})
			for _, a := range repairAnswers {
				_ = f.router.Handle(ctx, Inbound{UserID: id, Event: engine.Text{Raw: a}})
			}
		}(int64(u))
	}
	wg.Wait()

	for u := 1; u <= users; u++ {
		s := f.store.GetOrCreate(int64(u))
		require.Equal(t, session.StateAwaitingConfirmation, s.State)
		assert.Equal(t, "не включается", s.Values["problem"])
		assert.Len(t, s.Values, 6)
	}
}

func TestSameUserEventsKeepArrivalOrder(t *testing.T) {
	f := newFixture(t)
	f.send(t, 11, engine.StartFlow{Key: "courier"})

	// Hold the user's turn so the answers queue up in a known order.
	release, err := f.router.queue.acquire(context.Background(), 11)
	require.NoError(t, err)

	answers := []string{"Ivan", "+380671234567", "принтер", "HP", "-", "-", "ул. Княгини Ольги, 1"}
	errs := make(chan error, len(answers))
	for i, a := range answers {
		go func(a string) {
			errs <- f.router.Handle(context.Background(), Inbound{UserID: 11, Event: engine.Text{Raw: a}})
		}(a)
		require.Eventually(t, func() bool { return waiting(f.router.queue, 11) == i+1 }, time.Second, time.Millisecond)
	}
	release()
	for range answers {
		require.NoError(t, <-errs)
	}

	s := f.store.GetOrCreate(11)
	require.Equal(t, session.StateAwaitingConfirmation, s.State)
	assert.Equal(t, "Ivan", s.Values["name"])
	assert.Equal(t, "+380671234567", s.Values["phone"])
	assert.Equal(t, "принтер", s.Values["equipment"])
	assert.Equal(t, "ул. Княгини Ольги, 1", s.Values["address"])
}

func waiting(q *userQueue, id int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.users[id]; ok {
		return t.waiting.Len()
	}
	return 0
}

func TestQueueCancelledWaiter(t *testing.T) {
	q := newUserQueue()
	release, err := q.acquire(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.acquire(ctx, 1)
		done <- err
	}()
	require.Eventually(t, func() bool { return waiting(q, 1) == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	release()
	assert.Zero(t, q.pending())

	release2, err := q.acquire(context.Background(), 1)
	require.NoError(t, err)
	release2()
}

func TestProfileSender(t *testing.T) {
	assert.Equal(t, "Ivan (@ivan)", Profile{FirstName: "Ivan", Username: "@ivan"}.Sender())
	assert.Equal(t, "Ivan (без @)", Profile{FirstName: "Ivan"}.Sender())
	assert.Equal(t, "Без имени (без @)", Profile{}.Sender())
}
