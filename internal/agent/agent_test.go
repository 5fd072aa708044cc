package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/liliang-cn/policyagent/internal/classifier"
	"github.com/liliang-cn/policyagent/internal/config"
	"github.com/liliang-cn/policyagent/internal/domain"
	"github.com/liliang-cn/policyagent/internal/llm"
	"github.com/liliang-cn/policyagent/internal/memory"
	"github.com/liliang-cn/policyagent/internal/prompt"
	"github.com/liliang-cn/policyagent/internal/retrieval"
	"github.com/liliang-cn/policyagent/internal/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const groundedAnswer = "Employees receive ten days of paid sick leave per year."

// scriptedModel answers classification prompts with label and every other
// prompt with groundedAnswer. Texts mentioning "sick" embed to {1, 0}, the
// rest to {0, 1}.
func scriptedModel(label string) *llm.MockClient {
	m := llm.NewMockClient()
	m.GenerateFunc = func(p string, opts llm.GenerateOptions) (string, error) {
		if strings.HasSuffix(p, "Category:") {
			return label, nil
		}
		return groundedAnswer, nil
	}
	m.EmbedFunc = func(text string) ([]float32, error) {
		if strings.Contains(strings.ToLower(text), "sick") {
			return []float32{1, 0}, nil
		}
		return []float32{0, 1}, nil
	}
	return m
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: config.EnvLocal,
		Session:     config.SessionConfig{Timeout: time.Hour, MaxConversationHistory: 10},
		RAG:         config.RAGConfig{TopKResults: 5, SimilarityThreshold: 0.5},
		LLM:         config.LLMConfig{Temperature: 0.7, MaxTokens: 1000, TopP: 0.9},
	}
}

type fixture struct {
	agent  *Agent
	model  *llm.MockClient
	memory *memory.Store
	index  *vectorindex.FlatIndex
}

func newFixture(t *testing.T, model *llm.MockClient, cfg *config.Config) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	logger := zap.NewNop()
	idx := vectorindex.NewFlatIndex(2, nil, logger)
	store := memory.NewStore(cfg.Session.MaxConversationHistory, cfg.Session.Timeout)

	a := New(cfg, Deps{
		LLM:        model,
		Memory:     store,
		Classifier: classifier.New(model, nil, logger),
		Retriever:  retrieval.New(model, idx, cfg.RAG.TopKResults, cfg.RAG.SimilarityThreshold, nil, logger),
		Index:      idx,
		Logger:     logger,
	})
	return &fixture{agent: a, model: model, memory: store, index: idx}
}

func (f *fixture) addPolicyDocs(t *testing.T) {
	t.Helper()
	require.NoError(t, f.index.Add(context.Background(),
		[][]float32{{1, 0}, {1, 0}, {0, 1}},
		[]domain.ChunkRecord{
			{ID: "1", Content: "Sick leave: ten paid days per year.", Metadata: map[string]any{domain.MetadataKeySource: "leave_policy.pdf", domain.MetadataKeyPage: 2}},
			{ID: "2", Content: "Sick leave requires a doctor's note after three days.", Metadata: map[string]any{domain.MetadataKeySource: "leave_policy.pdf", domain.MetadataKeyPage: 2}},
			{ID: "3", Content: "Laptops are replaced every three years.", Metadata: map[string]any{domain.MetadataKeySource: "it_policy.md"}},
		},
	))
}

func TestGeneralQueryAnsweredDirectly(t *testing.T) {
	// the default mock answers classification with unparseable text, so the
	// keyword fallback decides
	f := newFixture(t, llm.NewMockClient(), nil)

	resp := f.agent.ProcessQuery(context.Background(), "What is the capital of France?", "")

	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, []string{}, resp.Source)
	assert.Equal(t, "GENERAL", resp.Metadata[domain.MetaQueryType])
	assert.Equal(t, "direct", resp.Metadata[domain.MetaMethod])
	assert.Equal(t, classifier.ByKeyword, resp.Metadata[domain.MetaClassifiedBy])
	assert.Equal(t, "mock", resp.Metadata[domain.MetaProvider])
	assert.Equal(t, config.EnvLocal, resp.Metadata[domain.MetaEnvironment])
	assert.Contains(t, resp.Metadata, domain.MetaProcessingTime)
	assert.False(t, resp.Failed())
	assert.Equal(t, "Mock response to: What is the capital of France?", resp.Answer)
	assert.Equal(t, 1, f.model.Calls("generate_with_history"))
	assert.Equal(t, 0, f.model.Calls("generate_embedding"))
}

func TestPolicyQueryUsesRetrievedDocuments(t *testing.T) {
	f := newFixture(t, scriptedModel("POLICY"), nil)
	f.addPolicyDocs(t)

	resp := f.agent.ProcessQuery(context.Background(), "What is the sick leave policy?", "")

	assert.Equal(t, "POLICY", resp.Metadata[domain.MetaQueryType])
	assert.Equal(t, "rag", resp.Metadata[domain.MetaMethod])
	assert.Equal(t, classifier.ByLLM, resp.Metadata[domain.MetaClassifiedBy])
	assert.Equal(t, 2, resp.Metadata[domain.MetaRetrievedDocuments])
	assert.Equal(t, []string{"leave_policy.pdf (Page 2)"}, resp.Source)
	require.Len(t, resp.Details, 1)
	assert.Equal(t, "1", resp.Details[0].ChunkID)
	require.NotNil(t, resp.Details[0].Page)
	assert.Equal(t, 2, *resp.Details[0].Page)
	assert.InDelta(t, 1.0, *resp.Details[0].RelevanceScore, 1e-9)
	assert.NotContains(t, resp.Answer, "I don't have information")
	assert.Equal(t, groundedAnswer, resp.Answer)

	prompts := f.model.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "[Document 1: leave_policy.pdf (Page 2)]")
	assert.NotContains(t, prompts[1], "Laptops")
}

func TestPolicyQueryUsesRerankingWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.RAG.Rerank = true
	f := newFixture(t, scriptedModel("POLICY"), cfg)
	f.addPolicyDocs(t)

	resp := f.agent.ProcessQuery(context.Background(), "sick leave doctor's note", "")
	assert.Equal(t, "rag", resp.Metadata[domain.MetaMethod])
	assert.Equal(t, []string{"leave_policy.pdf (Page 2)"}, resp.Source)

	// the chunk mentioning the doctor's note now comes first
	prompts := f.model.Prompts()
	assert.Contains(t, prompts[len(prompts)-1], "[Document 1: leave_policy.pdf (Page 2)]\nSick leave requires")
}

func TestClarificationMakesNoModelCalls(t *testing.T) {
	f := newFixture(t, scriptedModel("banana"), nil)

	resp := f.agent.ProcessQuery(context.Background(), "huh?", "")

	assert.Equal(t, prompt.ClarificationAnswer, resp.Answer)
	assert.Equal(t, "CLARIFICATION", resp.Metadata[domain.MetaQueryType])
	assert.Equal(t, "direct", resp.Metadata[domain.MetaMethod])
	assert.Equal(t, []string{}, resp.Source)
	// only the classification call
	assert.Equal(t, 1, f.model.TotalCalls())
	assert.Equal(t, 1, f.model.Calls("generate"))
}

func TestPolicyQueryWithoutMatchesReturnsCannedAnswer(t *testing.T) {
	f := newFixture(t, scriptedModel("POLICY"), nil)

	resp := f.agent.ProcessQuery(context.Background(), "What is the sick leave policy?", "")

	assert.Equal(t, prompt.NoInformationAnswer, resp.Answer)
	assert.Equal(t, "rag", resp.Metadata[domain.MetaMethod])
	assert.Equal(t, []string{}, resp.Source)
	assert.NotContains(t, resp.Metadata, domain.MetaRetrievedDocuments)
	assert.Equal(t, 1, f.model.Calls("generate"))
}

func TestGenerationFailureReturnsApology(t *testing.T) {
	model := scriptedModel("GENERAL")
	model.HistoryFunc = func([]llm.ChatMessage, llm.GenerateOptions) (string, error) {
		return "", errors.New("upstream exploded")
	}
	f := newFixture(t, model, nil)

	resp := f.agent.ProcessQuery(context.Background(), "Tell me a joke", "s-1")

	assert.Equal(t, prompt.ApologyAnswer, resp.Answer)
	assert.Equal(t, "s-1", resp.SessionID)
	assert.Equal(t, []string{}, resp.Source)
	assert.True(t, resp.Failed())
	assert.Contains(t, resp.Metadata[domain.MetaError], "upstream exploded")
	assert.Contains(t, resp.Metadata, domain.MetaProcessingTime)
	assert.NotContains(t, resp.Metadata, domain.MetaQueryType)
	assert.NotContains(t, resp.Metadata, domain.MetaMethod)

	history := f.memory.History("s-1", 0)
	require.Len(t, history, 2)
	assert.Equal(t, domain.RoleUser, history[0].Role)
	assert.Equal(t, prompt.ApologyAnswer, history[1].Content)
}

func TestFailureIsSanitisedInProduction(t *testing.T) {
	cfg := testConfig()
	cfg.Environment = config.EnvProduction
	model := scriptedModel("GENERAL")
	model.HistoryFunc = func([]llm.ChatMessage, llm.GenerateOptions) (string, error) {
		return "", errors.New("key sk-secret rejected")
	}
	f := newFixture(t, model, cfg)

	resp := f.agent.ProcessQuery(context.Background(), "Tell me a joke", "")
	assert.Equal(t, sanitisedError, resp.Metadata[domain.MetaError])
}

func TestPanicIsRecovered(t *testing.T) {
	model := scriptedModel("GENERAL")
	model.HistoryFunc = func([]llm.ChatMessage, llm.GenerateOptions) (string, error) {
		panic("nil map")
	}
	f := newFixture(t, model, nil)

	var resp *domain.AgentResponse
	require.NotPanics(t, func() {
		resp = f.agent.ProcessQuery(context.Background(), "Tell me a joke", "")
	})
	assert.Equal(t, prompt.ApologyAnswer, resp.Answer)
	assert.Contains(t, resp.Metadata[domain.MetaError], "nil map")
}

func TestConversationHistoryIsPassedToModel(t *testing.T) {
	model := scriptedModel("GENERAL")
	var seen [][]llm.ChatMessage
	var systems []string
	model.HistoryFunc = func(msgs []llm.ChatMessage, opts llm.GenerateOptions) (string, error) {
		seen = append(seen, msgs)
		systems = append(systems, opts.SystemPrompt)
		return "answer " + msgs[len(msgs)-1].Content, nil
	}
	f := newFixture(t, model, nil)

	first := f.agent.ProcessQuery(context.Background(), "What is the capital of France?", "")
	second := f.agent.ProcessQuery(context.Background(), "And of Germany?", first.SessionID)
	assert.Equal(t, first.SessionID, second.SessionID)

	require.Len(t, seen, 2)
	assert.Equal(t, []llm.ChatMessage{{Role: "user", Content: "What is the capital of France?"}}, seen[0])
	assert.Equal(t, []llm.ChatMessage{
		{Role: "user", Content: "What is the capital of France?"},
		{Role: "assistant", Content: "answer What is the capital of France?"},
		{Role: "user", Content: "And of Germany?"},
	}, seen[1])
	assert.Equal(t, prompt.SystemAgent, systems[0])
}

func TestHistoryWindowIsCapped(t *testing.T) {
	cfg := testConfig()
	cfg.Session.MaxConversationHistory = 2
	model := scriptedModel("GENERAL")
	var last []llm.ChatMessage
	model.HistoryFunc = func(msgs []llm.ChatMessage, opts llm.GenerateOptions) (string, error) {
		last = msgs
		return "ok", nil
	}
	f := newFixture(t, model, cfg)

	id := ""
	for _, q := range []string{"q1", "q2", "q3", "q4"} {
		id = f.agent.ProcessQuery(context.Background(), q, id).SessionID
	}
	// two prior messages plus the new query
	require.Len(t, last, 3)
	assert.Equal(t, "q3", last[0].Content)
	assert.Equal(t, "q4", last[2].Content)
}

func TestUnknownSessionIDIsAdopted(t *testing.T) {
	f := newFixture(t, llm.NewMockClient(), nil)
	resp := f.agent.ProcessQuery(context.Background(), "hello", "client-chosen")
	assert.Equal(t, "client-chosen", resp.SessionID)
	assert.True(t, f.memory.Exists("client-chosen"))
}

func TestSessionInfoAfterFourTurns(t *testing.T) {
	f := newFixture(t, llm.NewMockClient(), nil)

	id := ""
	for i := 0; i < 4; i++ {
		id = f.agent.ProcessQuery(context.Background(), "hello there", id).SessionID
	}

	info, err := f.agent.SessionInfo(id)
	require.NoError(t, err)
	assert.Equal(t, 8, info.MessageCount)
	assert.Equal(t, id, info.SessionID)

	_, err = f.agent.SessionInfo("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t, llm.NewMockClient(), nil)
	id := f.agent.ProcessQuery(context.Background(), "hello", "").SessionID

	require.NoError(t, f.agent.DeleteSession(context.Background(), id))
	assert.ErrorIs(t, f.agent.DeleteSession(context.Background(), id), domain.ErrNotFound)
}

func TestStats(t *testing.T) {
	f := newFixture(t, llm.NewMockClient(), nil)
	f.addPolicyDocs(t)
	f.agent.ProcessQuery(context.Background(), "hello", "")

	stats := f.agent.Stats()
	assert.Equal(t, domain.MemoryStats{TotalSessions: 1, TotalMessages: 2, ActiveSessions: 1}, stats.Memory)
	assert.Equal(t, "mock", stats.Provider)
	assert.Equal(t, config.EnvLocal, stats.Environment)
	assert.Equal(t, vectorindex.KindL2, stats.VectorStore)
	assert.Equal(t, 3, stats.IndexedChunks)
}

func TestValidateQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{name: "normal", query: "What is the leave policy?"},
		{name: "empty", query: "", wantErr: true},
		{name: "blank", query: "   \n", wantErr: true},
		{name: "at limit", query: strings.Repeat("é", MaxQueryLength)},
		{name: "over limit", query: strings.Repeat("a", MaxQueryLength+1), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuery(tt.query)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidRequest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 1.23, seconds(1234*time.Millisecond))
	assert.Equal(t, 0.0, seconds(time.Millisecond))
}
