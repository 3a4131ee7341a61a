// Package session owns conversation lifetime: finding or creating the active
// session for a (user, channel) pair, tracking activity, expiring idle
// sessions, and rebuilding recent-message context for classification.
package session

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cajuassist/router/internal/db"
)

// DefaultAgent is assigned to sessions before the first classification.
const DefaultAgent = "default-agent"

// Manager manages persistence and lifecycle of sessions and their messages.
type Manager struct {
	db          *db.DB
	idleTimeout time.Duration
	now         func() time.Time
	metrics     *Metrics
	log         *logrus.Entry
}

// NewManager creates a session manager. Sessions idle for longer than
// idleTimeout are considered expired and never vended again.
func NewManager(database *db.DB, idleTimeout time.Duration) *Manager {
	return &Manager{
		db:          database,
		idleTimeout: idleTimeout,
		now:         time.Now,
		log:         logrus.WithField("component", "session"),
	}
}

// SetMetrics attaches an operation telemetry collector. Optional.
func (m *Manager) SetMetrics(metrics *Metrics) {
	m.metrics = metrics
}

// Metrics returns the attached telemetry collector, or nil.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// observe reports one operation outcome to the collector, if attached.
// Durations use the wall clock, not the injectable test clock.
func (m *Manager) observe(op Operation, start time.Time, err error) {
	if m.metrics != nil {
		m.metrics.Observe(op, time.Since(start), err)
	}
}

// GetOrCreateActiveSession returns the active session for (userID, channelID)
// if it saw activity within the idle timeout, bumping its last activity.
// Otherwise it creates a new session. Session ids for new sessions are
// derived deterministically from the pair and a time bucket so that
// concurrent creates converge on the same row.
func (m *Manager) GetOrCreateActiveSession(ctx context.Context, userID, channelID string) (s *Session, err error) {
	start := time.Now()
	op := OpCreate
	defer func() { m.observe(op, start, err) }()

	now := m.now().UTC()

	sess, err := m.findActive(ctx, userID, channelID, now)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		op = OpUpdate
		if _, err := m.db.ExecContext(ctx,
			`UPDATE sessions SET last_activity = ? WHERE id = ?`, now, sess.ID); err != nil {
			return nil, fmt.Errorf("updating session activity: %w", err)
		}
		sess.LastActivity = now
		return sess, nil
	}

	// Expire whatever is still flagged active for this pair; it is past the
	// idle timeout or it would have been found above.
	if _, err := m.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0 WHERE user_id = ? AND channel_id = ? AND is_active = 1`,
		userID, channelID); err != nil {
		return nil, fmt.Errorf("deactivating stale sessions: %w", err)
	}

	id := sessionID(userID, channelID, now, m.idleTimeout)
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, channel_id, agent_id, is_active, message_count, last_activity, created_at)
		 VALUES (?, ?, ?, ?, 1, 0, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET last_activity = excluded.last_activity, is_active = 1`,
		id, userID, channelID, DefaultAgent, now, now)
	if err != nil {
		// A concurrent create for the same pair may have won the partial
		// unique index race; fall back to reading the winner.
		if winner, ferr := m.findActive(ctx, userID, channelID, now); ferr == nil && winner != nil {
			return winner, nil
		}
		return nil, fmt.Errorf("creating session: %w", err)
	}

	m.log.WithFields(logrus.Fields{"session_id": id, "user_id": userID}).Debug("created session")

	return m.loadSession(ctx, id)
}

// findActive returns the most recently active non-expired session for the
// pair, or nil when none qualifies.
func (m *Manager) findActive(ctx context.Context, userID, channelID string, now time.Time) (*Session, error) {
	cutoff := now.Add(-m.idleTimeout)

	var s Session
	err := m.db.QueryRowContext(ctx,
		`SELECT id, user_id, channel_id, agent_id, is_active, message_count, last_activity, created_at
		 FROM sessions
		 WHERE user_id = ? AND channel_id = ? AND is_active = 1 AND last_activity >= ?
		 ORDER BY last_activity DESC LIMIT 1`,
		userID, channelID, cutoff,
	).Scan(&s.ID, &s.UserID, &s.ChannelID, &s.AgentID, &s.IsActive, &s.MessageCount, &s.LastActivity, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding active session: %w", err)
	}
	return &s, nil
}

// loadSession reads one session by id.
func (m *Manager) loadSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := m.db.QueryRowContext(ctx,
		`SELECT id, user_id, channel_id, agent_id, is_active, message_count, last_activity, created_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.UserID, &s.ChannelID, &s.AgentID, &s.IsActive, &s.MessageCount, &s.LastActivity, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return &s, nil
}

// GetConversationContext loads up to maxMessages most recent messages in
// chronological order and derives a topic hint from the newest one.
func (m *Manager) GetConversationContext(ctx context.Context, sessionID string, maxMessages int) (*Context, error) {
	if maxMessages <= 0 {
		maxMessages = 10
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages
		 WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`,
		sessionID, maxMessages)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []ContextMessage
	for rows.Next() {
		var msg ContextMessage
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}

	// Newest-first from the query; flip to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return &Context{
		SessionID:      sessionID,
		RecentMessages: msgs,
		CurrentTopic:   extractTopic(msgs),
	}, nil
}

// AddMessage appends a message to the session and bumps its activity.
func (m *Manager) AddMessage(ctx context.Context, sessionID, role, content string) (err error) {
	start := time.Now()
	defer func() { m.observe(OpUpdate, start, err) }()

	now := m.now().UTC()

	if _, err := m.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), sessionID, role, content, now); err != nil {
		return fmt.Errorf("adding message: %w", err)
	}

	if _, err := m.db.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count + 1, last_activity = ? WHERE id = ?`,
		now, sessionID); err != nil {
		return fmt.Errorf("updating session counters: %w", err)
	}
	return nil
}

// SetAgent records the agent a session's messages are being routed to.
func (m *Manager) SetAgent(ctx context.Context, sessionID, agentID string) (err error) {
	start := time.Now()
	defer func() { m.observe(OpUpdate, start, err) }()

	if _, err := m.db.ExecContext(ctx,
		`UPDATE sessions SET agent_id = ? WHERE id = ?`, agentID, sessionID); err != nil {
		return fmt.Errorf("updating session agent: %w", err)
	}
	return nil
}

// CloseSession marks a session inactive. Idempotent.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) (err error) {
	start := time.Now()
	defer func() { m.observe(OpClose, start, err) }()

	if _, err := m.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0 WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	return nil
}

// CleanupOldSessions soft-expires every active session past the idle timeout
// and returns how many were affected. Safe to run concurrently with
// GetOrCreateActiveSession.
func (m *Manager) CleanupOldSessions(ctx context.Context) (n int, err error) {
	start := time.Now()
	defer func() { m.observe(OpCleanup, start, err) }()

	cutoff := m.now().UTC().Add(-m.idleTimeout)

	res, err := m.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0 WHERE is_active = 1 AND last_activity < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting cleaned sessions: %w", err)
	}
	if affected > 0 {
		m.log.WithField("count", affected).Info("expired idle sessions")
	}
	return int(affected), nil
}

// sessionID derives a deterministic id from the pair and a time bucket sized
// by the idle timeout, so concurrent creates inside one bucket converge.
// Expiry itself is driven only by last_activity, never by the bucket.
func sessionID(userID, channelID string, now time.Time, idleTimeout time.Duration) string {
	bucket := now.Unix() / int64(idleTimeout.Seconds())
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", userID, channelID, bucket)))
	return hex.EncodeToString(sum[:16])
}

// topicKeywords drives the currentTopic hint. The hint feeds the classifier
// prompt only; it is never a routing decision on its own.
var topicKeywords = map[string][]string{
	"financial": {"receita", "despesa", "saldo", "dinheiro", "orçamento", "orcamento", "pagamento", "fatura", "relatório financeiro"},
	"marketing": {"venda", "cliente", "campanha", "promoção", "promocao", "instagram", "divulga", "anúncio", "anuncio"},
	"hr":        {"funcionário", "funcionario", "equipe", "contratar", "contratação", "contratacao", "salário", "salario", "demiss"},
}

// extractTopic keyword-matches the most recent message.
func extractTopic(msgs []ContextMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	content := strings.ToLower(msgs[len(msgs)-1].Content)
	for _, topic := range []string{"financial", "marketing", "hr"} {
		for _, kw := range topicKeywords[topic] {
			if strings.Contains(content, kw) {
				return topic
			}
		}
	}
	return "general"
}
