package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cajuassist/router/internal/cache"
	"github.com/cajuassist/router/internal/classifier"
	"github.com/cajuassist/router/internal/db"
	"github.com/cajuassist/router/internal/experiment"
	"github.com/cajuassist/router/internal/llm"
	"github.com/cajuassist/router/internal/metrics"
	"github.com/cajuassist/router/internal/session"
)

func newTestEngine(t *testing.T, mock *llm.MockProvider) *Engine {
	return newTestEngineOpts(t, mock, Options{})
}

func newTestEngineOpts(t *testing.T, mock *llm.MockProvider, opts Options) *Engine {
	t.Helper()

	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	framework, err := experiment.NewFramework(context.Background(), database)
	require.NoError(t, err)

	results := cache.New[classifier.Result](100, 5*time.Minute)
	aggregator := metrics.NewAggregator(database, prometheus.NewRegistry())
	cls := classifier.New(mock, results, classifier.WithExperiments(framework), classifier.WithMetrics(aggregator))
	sessions := session.NewManager(database, 30*time.Minute)

	e := New(sessions, cls, results, aggregator, framework, opts)
	t.Cleanup(e.Close)
	return e
}

func financialMock() *llm.MockProvider {
	mock := llm.NewMockProvider("mock")
	mock.Response = &llm.CompletionResponse{
		Content: `{"primary_intent":"financial","secondary_intent":"record_transaction","urgency":"medium","conversation_context":"initial","confidence":0.9,"reasoning":"expense"}`,
		Model:   "mock-model",
	}
	return mock
}

func TestRouteEndToEnd(t *testing.T) {
	e := newTestEngine(t, financialMock())

	dec, err := e.Route(context.Background(), "Preciso registrar uma despesa de R$ 500", "user-1", "whatsapp")
	require.NoError(t, err)

	assert.NotEmpty(t, dec.SessionID)
	assert.Equal(t, "finance-agent", dec.AgentID)
	assert.Equal(t, 1, dec.Priority)
	assert.Equal(t, classifier.IntentFinancial, dec.Classification.PrimaryIntent)
	assert.True(t, dec.Success)
	assert.False(t, dec.CacheHit)
	assert.Greater(t, dec.Classification.Confidence, 0.5)
}

func TestRoutePersistsConversation(t *testing.T) {
	mock := financialMock()
	e := newTestEngine(t, mock)

	first, err := e.Route(context.Background(), "quanto gastei esse mês?", "user-1", "whatsapp")
	require.NoError(t, err)

	second, err := e.Route(context.Background(), "e no mês passado?", "user-1", "whatsapp")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID, "same user+channel stays in one session")

	convCtx, err := e.ConversationContext(context.Background(), first.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, convCtx.RecentMessages, 2)
	assert.Equal(t, "quanto gastei esse mês?", convCtx.RecentMessages[0].Content)

	// Second classification sees the first message as history.
	require.Equal(t, 2, mock.CallCount())
	prompt := mock.Calls[1].Messages[len(mock.Calls[1].Messages)-1].Content
	assert.Contains(t, prompt, "user: quanto gastei esse mês?")
}

func TestContextWindowDefault(t *testing.T) {
	e := newTestEngine(t, financialMock())
	assert.Equal(t, 10, e.ContextWindow())
}

func TestRouteHonorsContextWindow(t *testing.T) {
	mock := financialMock()
	e := newTestEngineOpts(t, mock, Options{MaxContextMessages: 1})

	for _, msg := range []string{"primeira mensagem", "segunda mensagem", "terceira mensagem"} {
		_, err := e.Route(context.Background(), msg, "user-1", "whatsapp")
		require.NoError(t, err)
	}

	require.Equal(t, 3, mock.CallCount())
	prompt := mock.Calls[2].Messages[len(mock.Calls[2].Messages)-1].Content
	assert.Contains(t, prompt, "user: segunda mensagem")
	assert.NotContains(t, prompt, "primeira mensagem")
}

func TestRouteDegradesToFallback(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.Err = errors.New("provider unavailable")
	e := newTestEngine(t, mock)

	dec, err := e.Route(context.Background(), "URGENTE: pagamento falhou!", "user-1", "whatsapp")
	require.NoError(t, err)

	assert.False(t, dec.Success)
	assert.Equal(t, classifier.UrgencyCritical, dec.Classification.Urgency)
	assert.Equal(t, 3, dec.Priority)
	assert.Equal(t, "finance-agent", dec.AgentID)
}

func TestRouteDistinctChannels(t *testing.T) {
	e := newTestEngine(t, financialMock())

	a, err := e.Route(context.Background(), "oi", "user-1", "whatsapp")
	require.NoError(t, err)
	b, err := e.Route(context.Background(), "oi", "user-1", "telegram")
	require.NoError(t, err)

	assert.NotEqual(t, a.SessionID, b.SessionID)
}

func TestCloseSessionThenRouteAgain(t *testing.T) {
	e := newTestEngine(t, financialMock())

	first, err := e.Route(context.Background(), "oi", "user-1", "whatsapp")
	require.NoError(t, err)

	require.NoError(t, e.CloseSession(context.Background(), first.SessionID))
	require.NoError(t, e.CloseSession(context.Background(), first.SessionID), "close is idempotent")

	second, err := e.Route(context.Background(), "oi de novo", "user-1", "whatsapp")
	require.NoError(t, err)
	assert.NotEmpty(t, second.SessionID)
}

func TestCacheAdmin(t *testing.T) {
	e := newTestEngine(t, financialMock())

	_, err := e.Route(context.Background(), "registrar despesa", "user-1", "whatsapp")
	require.NoError(t, err)

	stats := e.CacheStats()
	assert.Equal(t, 1, stats.Size)

	e.ClearCache()
	assert.Equal(t, 0, e.CacheStats().Size)
}

func TestStartAndCloseIdempotent(t *testing.T) {
	e := newTestEngine(t, financialMock())
	require.NoError(t, e.Start())
	e.Close()
	e.Close()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	e := newTestEngine(t, financialMock())
	e.opts.CleanupSchedule = "not a schedule"
	err := e.Start()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "scheduling session cleanup"))
}
