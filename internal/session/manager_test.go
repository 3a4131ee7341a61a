package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cajuassist/router/internal/db"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewManager(database, 30*time.Minute)
}

func TestGetOrCreateNewSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.GetOrCreateActiveSession(ctx, "user-1", "chan-1")
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "user-1", sess.UserID)
	assert.Equal(t, "chan-1", sess.ChannelID)
	assert.True(t, sess.IsActive)
	assert.Zero(t, sess.MessageCount)
	assert.Equal(t, DefaultAgent, sess.AgentID)
}

func TestSessionReuseWithinIdleWindow(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	base := time.Now().UTC()
	m.now = func() time.Time { return base }

	first, err := m.GetOrCreateActiveSession(ctx, "user-1", "chan-1")
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(10 * time.Minute) }

	second, err := m.GetOrCreateActiveSession(ctx, "user-1", "chan-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "session should be reused within the idle window")
	assert.True(t, second.LastActivity.After(first.LastActivity),
		"second call must bump last activity")
}

func TestSessionIdleExpiry(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	base := time.Now().UTC()
	m.now = func() time.Time { return base }

	first, err := m.GetOrCreateActiveSession(ctx, "user-1", "chan-1")
	require.NoError(t, err)

	// 31 minutes of silence: a new session must be created.
	m.now = func() time.Time { return base.Add(31 * time.Minute) }

	second, err := m.GetOrCreateActiveSession(ctx, "user-1", "chan-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID, "idle session must not be reused")
	assert.True(t, second.IsActive)
}

func TestSessionsAreScopedPerPair(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	a, err := m.GetOrCreateActiveSession(ctx, "user-1", "chan-1")
	require.NoError(t, err)
	b, err := m.GetOrCreateActiveSession(ctx, "user-1", "chan-2")
	require.NoError(t, err)
	c, err := m.GetOrCreateActiveSession(ctx, "user-2", "chan-1")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	assert.NotEqual(t, b.ID, c.ID)
}

func TestConcurrentGetOrCreateConverges(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			sess, err := m.GetOrCreateActiveSession(ctx, "user-1", "chan-1")
			if err == nil {
				ids[i] = sess.ID
			}
		}(i)
	}
	wg.Wait()

	var ref string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if ref == "" {
			ref = id
		}
		assert.Equal(t, ref, id, "all concurrent calls must converge on one session")
	}
	require.NotEmpty(t, ref, "at least one call must succeed")
}

func TestAddMessageBumpsCountAndActivity(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.GetOrCreateActiveSession(ctx, "user-1", "")
	require.NoError(t, err)

	require.NoError(t, m.AddMessage(ctx, sess.ID, "user", "Qual meu saldo?"))
	require.NoError(t, m.AddMessage(ctx, sess.ID, "assistant", "Seu saldo é R$ 100."))

	reloaded, err := m.loadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.MessageCount)
}

func TestGetConversationContext(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.GetOrCreateActiveSession(ctx, "user-1", "")
	require.NoError(t, err)

	base := time.Now().UTC()
	for i, msg := range []struct{ role, content string }{
		{"user", "Quero registrar uma despesa"},
		{"assistant", "Claro, qual o valor?"},
		{"user", "R$ 200 de material"},
	} {
		m.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		require.NoError(t, m.AddMessage(ctx, sess.ID, msg.role, msg.content))
	}

	cc, err := m.GetConversationContext(ctx, sess.ID, 10)
	require.NoError(t, err)

	require.Len(t, cc.RecentMessages, 3)
	assert.Equal(t, "Quero registrar uma despesa", cc.RecentMessages[0].Content, "messages must be chronological")
	assert.Equal(t, "R$ 200 de material", cc.RecentMessages[2].Content)
}

func TestGetConversationContextBoundsMessages(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.GetOrCreateActiveSession(ctx, "user-1", "")
	require.NoError(t, err)

	base := time.Now().UTC()
	for i := 0; i < 20; i++ {
		i := i
		m.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		require.NoError(t, m.AddMessage(ctx, sess.ID, "user", "mensagem"))
	}

	cc, err := m.GetConversationContext(ctx, sess.ID, 5)
	require.NoError(t, err)
	assert.Len(t, cc.RecentMessages, 5)
}

func TestCurrentTopicHint(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	tests := []struct {
		content string
		topic   string
	}{
		{"Preciso ver minha despesa de ontem", "financial"},
		{"Como melhorar minha campanha no Instagram?", "marketing"},
		{"Vou contratar um funcionário novo", "hr"},
		{"Bom dia, tudo bem?", "general"},
	}

	for _, tt := range tests {
		sess, err := m.GetOrCreateActiveSession(ctx, "user-"+tt.topic, "")
		require.NoError(t, err)
		require.NoError(t, m.AddMessage(ctx, sess.ID, "user", tt.content))

		cc, err := m.GetConversationContext(ctx, sess.ID, 10)
		require.NoError(t, err)
		assert.Equal(t, tt.topic, cc.CurrentTopic, "message %q", tt.content)
	}
}

func TestEmptyContext(t *testing.T) {
	m := newTestManager(t)

	cc, err := m.GetConversationContext(context.Background(), "nope", 10)
	require.NoError(t, err)
	assert.Empty(t, cc.RecentMessages)
	assert.Empty(t, cc.CurrentTopic)
}

func TestCloseSessionIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.GetOrCreateActiveSession(ctx, "user-1", "")
	require.NoError(t, err)

	require.NoError(t, m.CloseSession(ctx, sess.ID))
	require.NoError(t, m.CloseSession(ctx, sess.ID))

	reloaded, err := m.loadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsActive)
}

func TestCleanupOldSessions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	base := time.Now().UTC()

	m.now = func() time.Time { return base.Add(-time.Hour) }
	stale, err := m.GetOrCreateActiveSession(ctx, "user-old", "")
	require.NoError(t, err)

	m.now = func() time.Time { return base }
	fresh, err := m.GetOrCreateActiveSession(ctx, "user-new", "")
	require.NoError(t, err)

	n, err := m.CleanupOldSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	staleReloaded, err := m.loadSession(ctx, stale.ID)
	require.NoError(t, err)
	assert.False(t, staleReloaded.IsActive)

	freshReloaded, err := m.loadSession(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, freshReloaded.IsActive)
}

func TestSessionIDDeterministic(t *testing.T) {
	now := time.Now()
	a := sessionID("u", "c", now, 30*time.Minute)
	b := sessionID("u", "c", now, 30*time.Minute)
	assert.Equal(t, a, b)

	c := sessionID("u", "c2", now, 30*time.Minute)
	assert.NotEqual(t, a, c)
}
