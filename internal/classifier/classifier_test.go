package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cajuassist/router/internal/cache"
	"github.com/cajuassist/router/internal/db"
	"github.com/cajuassist/router/internal/experiment"
	"github.com/cajuassist/router/internal/llm"
	"github.com/cajuassist/router/internal/metrics"
)

func newTestClassifier(t *testing.T, provider llm.Provider, opts ...Option) *Classifier {
	t.Helper()
	results := cache.New[Result](100, 5*time.Minute)
	t.Cleanup(results.Stop)
	return New(provider, results, opts...)
}

func financialResponse() *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content: `{"primary_intent":"financial","secondary_intent":"record_transaction","urgency":"medium","conversation_context":"initial","confidence":0.92,"reasoning":"expense recording request"}`,
		Model:   "mock-model",
	}
}

func TestClassifySuccess(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.Response = financialResponse()
	c := newTestClassifier(t, mock)

	out := c.Classify(context.Background(), "Preciso registrar uma despesa de R$ 500", nil, "user-1")

	assert.True(t, out.Success)
	assert.False(t, out.CacheHit)
	assert.Equal(t, IntentFinancial, out.Result.PrimaryIntent)
	assert.Equal(t, "record_transaction", out.Result.SecondaryIntent)
	assert.Equal(t, "finance-agent", out.AgentID)
	assert.Equal(t, 1, out.Priority)
	assert.InDelta(t, 0.92, out.Result.Confidence, 1e-9)
}

func TestClassifyCachesResult(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.Response = financialResponse()
	c := newTestClassifier(t, mock)

	first := c.Classify(context.Background(), "quanto gastei esse mês?", nil, "user-1")
	second := c.Classify(context.Background(), "quanto gastei esse mês?", nil, "user-1")

	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.True(t, second.Success)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, 1, mock.CallCount(), "cache hit must not call the provider")
}

func TestClassifyCacheKeyedByHistory(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.Response = financialResponse()
	c := newTestClassifier(t, mock)

	c.Classify(context.Background(), "e o saldo?", nil, "user-1")
	out := c.Classify(context.Background(), "e o saldo?", []string{"user: registrei uma venda"}, "user-1")

	assert.False(t, out.CacheHit, "different history must miss the cache")
	assert.Equal(t, 2, mock.CallCount())
}

func TestClassifyFallsBackOnProviderError(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.Err = errors.New("provider unavailable")
	c := newTestClassifier(t, mock)

	out := c.Classify(context.Background(), "Preciso registrar uma despesa de R$ 500", nil, "user-1")

	assert.False(t, out.Success)
	assert.False(t, out.CacheHit)
	assert.Equal(t, IntentFinancial, out.Result.PrimaryIntent)
	assert.Equal(t, "finance-agent", out.AgentID)
	assert.Greater(t, out.Result.Confidence, 0.5)
}

func TestClassifyFailureNotCached(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.Err = errors.New("provider unavailable")
	c := newTestClassifier(t, mock)

	c.Classify(context.Background(), "qual o saldo?", nil, "user-1")
	c.Classify(context.Background(), "qual o saldo?", nil, "user-1")

	assert.Equal(t, 2, mock.CallCount(), "fallback results must not be cached")
}

func TestClassifyCriticalUrgency(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.Err = errors.New("provider unavailable")
	c := newTestClassifier(t, mock)

	out := c.Classify(context.Background(), "URGENTE: pagamento falhou!", nil, "user-1")

	assert.Equal(t, UrgencyCritical, out.Result.Urgency)
	assert.Equal(t, 3, out.Priority)
}

func TestClassifyContinuationAfterHistory(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.Err = errors.New("provider unavailable")
	c := newTestClassifier(t, mock)

	history := []string{"user: como registro uma venda?", "assistant: basta informar o valor e a categoria."}
	out := c.Classify(context.Background(), "obrigado pela ajuda", history, "user-1")

	assert.Equal(t, StageContinuation, out.Result.Stage)
}

func TestFallbackIsTotal(t *testing.T) {
	tests := []struct {
		name    string
		message string
		history []string
		intent  Intent
		stage   Stage
	}{
		{"empty message", "", nil, IntentGeneral, StageInitial},
		{"financial keywords", "meu fluxo de caixa está apertado", nil, IntentFinancial, StageInitial},
		{"marketing keywords", "quero criar uma campanha no instagram", nil, IntentMarketing, StageInitial},
		{"hr keywords", "como dar feedback para um funcionário?", nil, IntentHR, StageInitial},
		{"unmatched", "bom dia!", nil, IntentGeneral, StageInitial},
		{"clarification", "não entendi, pode explicar?", []string{"assistant: ..."}, IntentGeneral, StageClarification},
		{"correction", "não é isso que eu quis dizer", []string{"assistant: ..."}, IntentGeneral, StageCorrection},
		{"deepening", "quero mais detalhes sobre isso", []string{"assistant: ..."}, IntentGeneral, StageDeepening},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Fallback(tt.message, tt.history)
			assert.Equal(t, tt.intent, res.PrimaryIntent)
			assert.Equal(t, tt.stage, res.Stage)
			assert.Equal(t, SecondaryOther, res.SecondaryIntent)
			assert.LessOrEqual(t, res.Confidence, 0.6)
			assert.Greater(t, res.Confidence, 0.0)
		})
	}
}

func TestParseResultDefensive(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(t *testing.T, res Result)
	}{
		{
			name:    "json wrapped in prose",
			content: "Here is the classification:\n```json\n{\"primary_intent\":\"marketing\",\"secondary_intent\":\"create_campaign\",\"urgency\":\"low\",\"conversation_context\":\"initial\",\"confidence\":0.8,\"reasoning\":\"x\"}\n```",
			check: func(t *testing.T, res Result) {
				assert.Equal(t, IntentMarketing, res.PrimaryIntent)
			},
		},
		{
			name:    "invalid secondary repaired",
			content: `{"primary_intent":"hr","secondary_intent":"record_transaction","urgency":"high","conversation_context":"initial","confidence":0.7,"reasoning":"x"}`,
			check: func(t *testing.T, res Result) {
				assert.Equal(t, SecondaryOther, res.SecondaryIntent)
			},
		},
		{
			name:    "invalid urgency repaired",
			content: `{"primary_intent":"general","secondary_intent":"other","urgency":"extreme","conversation_context":"initial","confidence":0.7,"reasoning":"x"}`,
			check: func(t *testing.T, res Result) {
				assert.Equal(t, UrgencyMedium, res.Urgency)
			},
		},
		{
			name:    "confidence clamped",
			content: `{"primary_intent":"general","secondary_intent":"other","urgency":"low","conversation_context":"initial","confidence":1.7,"reasoning":"x"}`,
			check: func(t *testing.T, res Result) {
				assert.Equal(t, 1.0, res.Confidence)
			},
		},
		{
			name:    "unknown primary intent",
			content: `{"primary_intent":"legal","secondary_intent":"other","urgency":"low","conversation_context":"initial","confidence":0.7,"reasoning":"x"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			content: "I cannot classify this message.",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parseResult(tt.content, nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, res)
		})
	}
}

func TestParseResultStageFromHistory(t *testing.T) {
	content := `{"primary_intent":"general","secondary_intent":"other","urgency":"low","conversation_context":"later","confidence":0.5,"reasoning":"x"}`

	res, err := parseResult(content, nil)
	require.NoError(t, err)
	assert.Equal(t, StageInitial, res.Stage)

	res, err = parseResult(content, []string{"user: oi"})
	require.NoError(t, err)
	assert.Equal(t, StageContinuation, res.Stage)
}

func TestVariantParameterOverrides(t *testing.T) {
	database, err := db.OpenMemory()
	require.NoError(t, err)
	defer database.Close()

	framework, err := experiment.NewFramework(context.Background(), database)
	require.NoError(t, err)

	expID, err := framework.CreateExperiment(context.Background(), experiment.Experiment{
		Name: "prompt tuning",
		Variants: []experiment.Variant{
			{ID: "hot", Name: "hot", Weight: 1.0, Parameters: map[string]interface{}{
				"model":       "gpt-4o",
				"temperature": 0.9,
			}},
		},
		Metrics: []string{"confidence"},
	})
	require.NoError(t, err)

	mock := llm.NewMockProvider("mock")
	mock.Response = financialResponse()
	c := newTestClassifier(t, mock, WithExperiments(framework))

	out := c.Classify(context.Background(), "registrar despesa", nil, "user-1")

	require.Equal(t, 1, mock.CallCount())
	req := mock.Calls[0]
	assert.Equal(t, "gpt-4o", req.Model)
	assert.InDelta(t, 0.9, req.Temperature, 1e-9)
	assert.Equal(t, "hot", out.ExperimentVariant)

	analysis, err := framework.Analyze(context.Background(), expID)
	require.NoError(t, err)
	assert.Equal(t, 1, analysis.TotalParticipants)
}

func TestClassifyRecordsMetrics(t *testing.T) {
	database, err := db.OpenMemory()
	require.NoError(t, err)
	defer database.Close()

	aggregator := metrics.NewAggregator(database, prometheus.NewRegistry())

	mock := llm.NewMockProvider("mock")
	mock.Response = financialResponse()
	c := newTestClassifier(t, mock, WithMetrics(aggregator))

	c.Classify(context.Background(), "registrar despesa", nil, "user-1")
	c.Classify(context.Background(), "registrar despesa", nil, "user-1")

	snap, err := aggregator.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.TotalClassifications)
	assert.InDelta(t, 0.5, snap.CacheHitRate, 1e-9)
	assert.InDelta(t, 1.0, snap.AccuracyRate, 1e-9)
}

func TestCacheKeyNormalization(t *testing.T) {
	assert.Equal(t, cacheKey("Olá  ", nil), cacheKey("olá", nil))
	assert.NotEqual(t, cacheKey("olá", nil), cacheKey("olá", []string{"user: oi"}))
}
