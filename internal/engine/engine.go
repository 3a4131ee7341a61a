// Package engine wires the classifier, session manager, cache, metrics and
// experiment framework into one routing service and owns the background
// jobs that keep them healthy.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/cajuassist/router/internal/cache"
	"github.com/cajuassist/router/internal/classifier"
	"github.com/cajuassist/router/internal/experiment"
	"github.com/cajuassist/router/internal/metrics"
	"github.com/cajuassist/router/internal/session"
)

// RouteDecision is the engine's answer for one incoming message.
type RouteDecision struct {
	SessionID         string            `json:"session_id"`
	AgentID           string            `json:"agent_id"`
	Priority          int               `json:"priority"`
	Classification    classifier.Result `json:"classification"`
	CacheHit          bool              `json:"cache_hit"`
	Success           bool              `json:"success"`
	ResponseTime      time.Duration     `json:"response_time"`
	ExperimentVariant string            `json:"experiment_variant,omitempty"`
}

// Options tune the engine's background jobs and context handling.
type Options struct {
	CleanupSchedule    string        // cron spec for session cleanup
	SweepInterval      time.Duration // cache sweep interval
	MaxContextMessages int           // recent messages fed to the classifier
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		CleanupSchedule:    "@every 5m",
		SweepInterval:      time.Minute,
		MaxContextMessages: 10,
	}
}

// Engine routes messages to agents. Construct with New, start background
// jobs with Start, release with Close.
type Engine struct {
	sessions    *session.Manager
	classifier  *classifier.Classifier
	results     *cache.Cache[classifier.Result]
	aggregator  *metrics.Aggregator
	experiments *experiment.Framework

	opts      Options
	scheduler *cron.Cron
	closeOnce sync.Once
	log       *logrus.Entry
}

// New assembles an engine from already-constructed components.
func New(sessions *session.Manager, cls *classifier.Classifier, results *cache.Cache[classifier.Result], aggregator *metrics.Aggregator, experiments *experiment.Framework, opts Options) *Engine {
	if opts.CleanupSchedule == "" {
		opts.CleanupSchedule = DefaultOptions().CleanupSchedule
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultOptions().SweepInterval
	}
	if opts.MaxContextMessages <= 0 {
		opts.MaxContextMessages = DefaultOptions().MaxContextMessages
	}
	return &Engine{
		sessions:    sessions,
		classifier:  cls,
		results:     results,
		aggregator:  aggregator,
		experiments: experiments,
		opts:        opts,
		scheduler:   cron.New(),
		log:         logrus.WithField("component", "engine"),
	}
}

// Start launches the session cleanup schedule and the cache sweeper.
func (e *Engine) Start() error {
	_, err := e.scheduler.AddFunc(e.opts.CleanupSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := e.sessions.CleanupOldSessions(ctx)
		if err != nil {
			e.log.WithError(err).Warn("session cleanup failed")
			return
		}
		if n > 0 {
			e.log.WithField("closed", n).Info("expired idle sessions")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling session cleanup: %w", err)
	}
	e.scheduler.Start()
	e.results.StartSweeper(e.opts.SweepInterval)
	return nil
}

// Route resolves the session for (userID, channelID), classifies the message
// against the recent conversation, persists the message and returns the
// routing decision. Classification itself never fails; session persistence
// errors propagate.
func (e *Engine) Route(ctx context.Context, message, userID, channelID string) (*RouteDecision, error) {
	sess, err := e.sessions.GetOrCreateActiveSession(ctx, userID, channelID)
	if err != nil {
		return nil, fmt.Errorf("resolving session: %w", err)
	}

	convCtx, err := e.sessions.GetConversationContext(ctx, sess.ID, e.opts.MaxContextMessages)
	if err != nil {
		return nil, fmt.Errorf("loading conversation context: %w", err)
	}
	history := make([]string, 0, len(convCtx.RecentMessages))
	for _, m := range convCtx.RecentMessages {
		history = append(history, m.Role+": "+m.Content)
	}

	out := e.classifier.Classify(ctx, message, history, userID)

	if err := e.sessions.AddMessage(ctx, sess.ID, "user", message); err != nil {
		return nil, fmt.Errorf("persisting message: %w", err)
	}
	if err := e.sessions.SetAgent(ctx, sess.ID, out.AgentID); err != nil {
		e.log.WithError(err).WithField("session", sess.ID).Warn("annotating session agent")
	}

	return &RouteDecision{
		SessionID:         sess.ID,
		AgentID:           out.AgentID,
		Priority:          out.Priority,
		Classification:    out.Result,
		CacheHit:          out.CacheHit,
		Success:           out.Success,
		ResponseTime:      out.ResponseTime,
		ExperimentVariant: out.ExperimentVariant,
	}, nil
}

// CloseSession deactivates a session. Closing an already-closed session is
// a no-op.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) error {
	return e.sessions.CloseSession(ctx, sessionID)
}

// ConversationContext returns the recent-message window for a session.
func (e *Engine) ConversationContext(ctx context.Context, sessionID string, maxMessages int) (*session.Context, error) {
	return e.sessions.GetConversationContext(ctx, sessionID, maxMessages)
}

// ContextWindow returns the configured recent-message window size.
func (e *Engine) ContextWindow() int {
	return e.opts.MaxContextMessages
}

// SessionMetrics exposes the session operation telemetry, or nil when the
// session manager is not instrumented.
func (e *Engine) SessionMetrics() *session.Metrics {
	return e.sessions.Metrics()
}

// CacheStats reports hit/miss/size counters for the result cache.
func (e *Engine) CacheStats() cache.Stats {
	return e.results.Stats()
}

// ClearCache drops all cached classification results.
func (e *Engine) ClearCache() {
	e.results.Clear()
}

// Metrics exposes the aggregator for reporting endpoints.
func (e *Engine) Metrics() *metrics.Aggregator {
	return e.aggregator
}

// Experiments exposes the experiment framework for admin endpoints.
func (e *Engine) Experiments() *experiment.Framework {
	return e.experiments
}

// Close stops the background jobs. Safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		ctx := e.scheduler.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			e.log.Warn("cleanup job did not finish before shutdown")
		}
		e.results.Stop()
	})
}
