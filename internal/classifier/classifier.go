// Package classifier performs multi-layer intent classification of incoming
// messages and turns the result into a routing decision.
package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cajuassist/router/internal/cache"
	"github.com/cajuassist/router/internal/experiment"
	"github.com/cajuassist/router/internal/llm"
	"github.com/cajuassist/router/internal/metrics"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultTemperature = 0.3
	defaultTimeout     = 5 * time.Second
	maxCompletionSize  = 512
)

// Classifier runs the classification pipeline: cache lookup, experiment
// variant selection, provider call, fallback, metrics recording.
type Classifier struct {
	provider    llm.Provider
	model       string
	temperature float64
	timeout     time.Duration

	results     *cache.Cache[Result]
	experiments *experiment.Framework
	aggregator  *metrics.Aggregator
	log         *logrus.Entry
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithModel overrides the default provider model.
func WithModel(model string) Option {
	return func(c *Classifier) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTemperature overrides the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Classifier) { c.temperature = t }
}

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithExperiments wires an experiment framework for variant-driven
// parameter overrides. Optional.
func WithExperiments(f *experiment.Framework) Option {
	return func(c *Classifier) { c.experiments = f }
}

// WithMetrics wires a metrics aggregator. Optional.
func WithMetrics(a *metrics.Aggregator) Option {
	return func(c *Classifier) { c.aggregator = a }
}

// New builds a Classifier over the given provider and result cache.
func New(provider llm.Provider, results *cache.Cache[Result], opts ...Option) *Classifier {
	c := &Classifier{
		provider:    provider,
		model:       defaultModel,
		temperature: defaultTemperature,
		timeout:     defaultTimeout,
		results:     results,
		log:         logrus.WithField("component", "classifier"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify runs the full pipeline for one message. It is total: provider or
// parse failures degrade to the keyword fallback, never to an error. The
// subjectID (typically the user id) keeps experiment variant assignment
// stable per subject-ish draw stream and is recorded with results.
func (c *Classifier) Classify(ctx context.Context, message string, history []string, subjectID string) *Outcome {
	start := time.Now()

	key := cacheKey(message, history)
	if res, ok := c.results.Get(key); ok {
		out := c.outcome(res, true, true, "", time.Since(start))
		c.record(message, out)
		return out
	}

	model, temperature, variantID := c.variantParams(subjectID)

	res, err := c.complete(ctx, message, history, model, temperature)
	if err != nil {
		c.log.WithError(err).Warn("classification failed, using fallback")
		out := c.outcome(Fallback(message, history), false, false, variantID, time.Since(start))
		c.record(message, out)
		return out
	}

	c.results.Set(key, res, 0)
	out := c.outcome(res, false, true, variantID, time.Since(start))
	c.record(message, out)
	c.recordExperiment(variantID, subjectID, res.Confidence, out.ResponseTime)
	return out
}

func (c *Classifier) outcome(res Result, cacheHit, success bool, variantID string, elapsed time.Duration) *Outcome {
	return &Outcome{
		Result:            res,
		AgentID:           res.PrimaryIntent.Agent(),
		Priority:          res.Urgency.Priority(),
		CacheHit:          cacheHit,
		Success:           success,
		ResponseTime:      elapsed,
		ExperimentVariant: variantID,
	}
}

// variantParams resolves the active experiment variant, if any, and applies
// its parameter overrides on top of the configured defaults.
func (c *Classifier) variantParams(subjectID string) (model string, temperature float64, variantID string) {
	model, temperature = c.model, c.temperature
	if c.experiments == nil {
		return model, temperature, ""
	}
	exp := c.experiments.ActiveExperiment()
	if exp == nil {
		return model, temperature, ""
	}
	variant, err := c.experiments.GetVariant(exp.ID, subjectID)
	if err != nil {
		c.log.WithError(err).WithField("experiment", exp.ID).Warn("variant selection failed")
		return model, temperature, ""
	}
	if v, ok := variant.Parameters["model"].(string); ok && v != "" {
		model = v
	}
	if v, ok := variant.Parameters["temperature"].(float64); ok {
		temperature = v
	}
	return model, temperature, variant.ID
}

func (c *Classifier) complete(ctx context.Context, message string, history []string, model string, temperature float64) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: classifySystemPrompt},
			{Role: llm.RoleUser, Content: buildClassifyPrompt(message, history)},
		},
		MaxTokens:   maxCompletionSize,
		Temperature: temperature,
		JSONMode:    true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("completing classification: %w", err)
	}
	return parseResult(resp.Content, history)
}

// parseResult extracts and validates the JSON object from provider output.
// An unusable primary intent is an error; the remaining layers are repaired
// in place so a sloppy but mostly-correct completion still counts.
func parseResult(content string, history []string) (Result, error) {
	raw := content
	if i := strings.Index(raw, "{"); i >= 0 {
		raw = raw[i:]
	}
	if i := strings.LastIndex(raw, "}"); i >= 0 {
		raw = raw[:i+1]
	}

	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return Result{}, fmt.Errorf("parsing classification: %w", err)
	}
	if !res.PrimaryIntent.Valid() {
		return Result{}, fmt.Errorf("unknown primary intent %q", res.PrimaryIntent)
	}
	if !validSecondary(res.PrimaryIntent, res.SecondaryIntent) {
		res.SecondaryIntent = SecondaryOther
	}
	if !res.Urgency.Valid() {
		res.Urgency = UrgencyMedium
	}
	if !res.Stage.Valid() {
		if len(history) > 0 {
			res.Stage = StageContinuation
		} else {
			res.Stage = StageInitial
		}
	}
	if res.Confidence < 0 {
		res.Confidence = 0
	} else if res.Confidence > 1 {
		res.Confidence = 1
	}
	return res, nil
}

func (c *Classifier) record(message string, out *Outcome) {
	if c.aggregator == nil {
		return
	}
	c.aggregator.Record(context.Background(), metrics.Record{
		Query:             message,
		AgentID:           out.AgentID,
		Confidence:        out.Result.Confidence,
		Reasoning:         out.Result.Reasoning,
		ResponseTime:      out.ResponseTime,
		CacheHit:          out.CacheHit,
		Success:           out.Success,
		PrimaryIntent:     string(out.Result.PrimaryIntent),
		Urgency:           string(out.Result.Urgency),
		ExperimentVariant: out.ExperimentVariant,
	})
}

func (c *Classifier) recordExperiment(variantID, subjectID string, confidence float64, elapsed time.Duration) {
	if c.experiments == nil || variantID == "" {
		return
	}
	exp := c.experiments.ActiveExperiment()
	if exp == nil {
		return
	}
	err := c.experiments.RecordResult(context.Background(), exp.ID, variantID, subjectID, map[string]float64{
		"confidence":       confidence,
		"response_time_ms": float64(elapsed.Milliseconds()),
	})
	if err != nil {
		c.log.WithError(err).Warn("recording experiment result")
	}
}

// cacheKey fingerprints a message plus its bounded history so identical
// inputs in the same conversational state share one cache entry.
func cacheKey(message string, history []string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(message))))
	tail := history
	if len(tail) > maxHistoryLines {
		tail = tail[len(tail)-maxHistoryLines:]
	}
	for _, line := range tail {
		h.Write([]byte{0})
		h.Write([]byte(line))
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
