package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/kompomir/servicebot/core/config"
	tg "github.com/kompomir/servicebot/core/telegram"
)

type closeRecorder struct{ closed int }

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func offlineBot(t *testing.T) *tele.Bot {
	t.Helper()
	bot, err := tele.NewBot(tele.Settings{Token: "123:test", Offline: true})
	require.NoError(t, err)
	return bot
}

func testConfig() *coreconfig.Config {
	cfg := &coreconfig.Config{
		Telegram: coreconfig.TelegramConfig{Token: "123:test"},
		Intake: coreconfig.IntakeConfig{
			OperatorID:   -1001,
			ContactsText: "Днепр, ул. Княгини Ольги, 1",
		},
	}
	if err := coreconfig.Normalize(cfg); err != nil {
		panic(err)
	}
	return cfg
}

func TestNewRequiresBot(t *testing.T) {
	_, err := New(testConfig(), Options{})
	assert.Error(t, err)
	_, err = New(nil, Options{Bot: offlineBot(t)})
	assert.Error(t, err)
}

func TestNewRejectsBadFlows(t *testing.T) {
	cfg := testConfig()
	cfg.Intake.Flows = []coreconfig.FlowConfig{{
		ID:       "repair",
		Variants: []coreconfig.VariantConfig{{Key: "cancel", Title: "x"}},
		Steps:    []coreconfig.StepConfig{{Key: "name", Prompt: "?", Validator: "non_empty"}},
	}}
	_, err := New(cfg, Options{Bot: offlineBot(t)})
	assert.Error(t, err)
}

func TestRunOptions(t *testing.T) {
	a, err := New(testConfig(), Options{Bot: offlineBot(t)})
	require.NoError(t, err)

	opts, err := a.TelegramRunOptions()
	require.NoError(t, err)
	assert.Same(t, a.bot, opts.Bot)
	assert.Same(t, a.dispatcher, opts.Dispatcher)

	endpoints := make([]any, 0, len(opts.Routes))
	for _, r := range opts.Routes {
		endpoints = append(endpoints, r.Endpoint)
	}
	assert.Contains(t, endpoints, tele.OnCallback)
	assert.Contains(t, endpoints, tele.OnText)
	assert.Contains(t, endpoints, tele.OnMedia)
	assert.Contains(t, endpoints, "/start")
	assert.Contains(t, endpoints, "/stats")

	names := make([]string, 0, len(opts.Middlewares))
	for _, mw := range opts.Middlewares {
		names = append(names, mw.Name)
	}
	assert.Equal(t, []string{"recover", "logger", "counter"}, names)

	_, ok := a.registry.Callback("contacts")
	assert.True(t, ok)
	assert.Empty(t, a.Router().Stats())
	opts.Dispatcher.Close()
}

func TestStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Listen = "127.0.0.1:0"
	closer := &closeRecorder{}
	a, err := New(cfg, Options{Bot: offlineBot(t), Closer: closer})
	require.NoError(t, err)
	t.Cleanup(a.dispatcher.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.start(ctx, tg.Runtime{}))
	assert.True(t, a.sweeper.IsRunning())
	assert.NotNil(t, a.server.Addr())

	require.NoError(t, a.stop(context.Background(), tg.Runtime{}))
	assert.False(t, a.sweeper.IsRunning())
	assert.Equal(t, 1, closer.closed)
}
