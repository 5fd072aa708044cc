// Package agent answers one conversational turn: it classifies the query,
// routes it to a direct or grounded answer and records the exchange.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/liliang-cn/policyagent/internal/classifier"
	"github.com/liliang-cn/policyagent/internal/config"
	"github.com/liliang-cn/policyagent/internal/domain"
	"github.com/liliang-cn/policyagent/internal/llm"
	"github.com/liliang-cn/policyagent/internal/memory"
	"github.com/liliang-cn/policyagent/internal/metrics"
	"github.com/liliang-cn/policyagent/internal/prompt"
	"github.com/liliang-cn/policyagent/internal/retrieval"
	"github.com/liliang-cn/policyagent/internal/vectorindex"
	"go.uber.org/zap"
)

// MaxQueryLength is the longest accepted query, in characters
const MaxQueryLength = 1000

// sanitisedError replaces error details outside local environments
const sanitisedError = "internal error"

// Deps are the collaborators of an Agent
type Deps struct {
	LLM        llm.Capability
	Memory     *memory.Store
	Classifier *classifier.Classifier
	Retriever  *retrieval.Retriever
	Index      vectorindex.Index
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Agent is the query orchestrator
type Agent struct {
	cfg        *config.Config
	llm        llm.Capability
	memory     *memory.Store
	classifier *classifier.Classifier
	retriever  *retrieval.Retriever
	index      vectorindex.Index
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// New creates an agent
func New(cfg *config.Config, deps Deps) *Agent {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		cfg:        cfg,
		llm:        deps.LLM,
		memory:     deps.Memory,
		classifier: deps.Classifier,
		retriever:  deps.Retriever,
		index:      deps.Index,
		metrics:    deps.Metrics,
		logger:     logger.Named("agent"),
		now:        time.Now,
	}
}

// turn is the outcome of a routed query
type turn struct {
	answer       string
	sources      []string
	method       domain.Method
	queryType    domain.QueryType
	classifiedBy string
	retrieved    int
	details      []domain.SourceDetail
}

// ValidateQuery checks a query before it reaches the agent
func ValidateQuery(query string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(query))
	if n == 0 {
		return fmt.Errorf("%w: query must not be empty", domain.ErrInvalidRequest)
	}
	if n > MaxQueryLength {
		return fmt.Errorf("%w: query must be at most %d characters", domain.ErrInvalidRequest, MaxQueryLength)
	}
	return nil
}

// resolveSession returns sessionID when it is known, otherwise a new
// session's id. An unknown id is adopted as the new session's id.
func (a *Agent) resolveSession(sessionID string) string {
	if sessionID != "" && a.memory.Exists(sessionID) {
		return sessionID
	}
	return a.memory.CreateSession(sessionID)
}

// ProcessQuery answers query within the session. It never fails: internal
// errors produce an apology with the error recorded in the metadata.
func (a *Agent) ProcessQuery(ctx context.Context, query, sessionID string) *domain.AgentResponse {
	start := a.now()

	sessionID = a.resolveSession(sessionID)
	a.logger.Info("Processing query",
		zap.String("session_id", sessionID),
		zap.String("query", truncate(query, 100)),
	)

	// history is captured before the new query is recorded
	history := a.memory.FormattedHistory(sessionID, a.cfg.Session.MaxConversationHistory)
	a.memory.AddMessage(sessionID, domain.RoleUser, query, nil)

	t, err := a.safeRoute(ctx, query, history)
	if err == nil {
		err = a.record(sessionID, t.answer, t.sources)
	}
	elapsed := a.now().Sub(start)

	if err != nil {
		return a.failure(sessionID, err, elapsed)
	}

	a.metrics.ObserveQuery(string(t.queryType), string(t.method), elapsed)
	metadata := map[string]any{
		domain.MetaQueryType:      string(t.queryType),
		domain.MetaMethod:         string(t.method),
		domain.MetaProcessingTime: seconds(elapsed),
		domain.MetaProvider:       a.llm.Provider(),
		domain.MetaEnvironment:    a.cfg.Environment,
		domain.MetaClassifiedBy:   t.classifiedBy,
	}
	if t.retrieved > 0 {
		metadata[domain.MetaRetrievedDocuments] = t.retrieved
	}

	return &domain.AgentResponse{
		Answer:    t.answer,
		Source:    nonNil(t.sources),
		SessionID: sessionID,
		Metadata:  metadata,
		Details:   t.details,
	}
}

// safeRoute turns a panic anywhere in routing into an error
func (a *Agent) safeRoute(ctx context.Context, query string, history []llm.ChatMessage) (t turn, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing query: %v", r)
		}
	}()
	return a.route(ctx, query, history)
}

func (a *Agent) route(ctx context.Context, query string, history []llm.ChatMessage) (turn, error) {
	res := a.classifier.Classify(ctx, query)
	t := turn{queryType: res.Type, classifiedBy: res.By}

	switch res.Type {
	case domain.QueryTypeGeneral:
		answer, err := a.direct(ctx, query, history)
		if err != nil {
			return t, err
		}
		t.answer, t.method = answer, domain.MethodDirect

	case domain.QueryTypePolicy:
		chunks := a.retrieve(ctx, query)
		t.method = domain.MethodRAG
		if len(chunks) == 0 {
			a.logger.Warn("No relevant documents found")
			t.answer = prompt.NoInformationAnswer
			return t, nil
		}
		answer, err := a.llm.Generate(ctx, prompt.RAG(query, chunks), a.generateOptions(prompt.SystemRAG))
		if err != nil {
			return t, fmt.Errorf("grounded generation: %w", err)
		}
		t.answer = answer
		t.details = retrieval.SourceDetails(chunks)
		t.sources = documents(t.details)
		t.retrieved = len(chunks)

	case domain.QueryTypeClarification:
		t.answer, t.method = prompt.ClarificationAnswer, domain.MethodDirect

	default:
		return t, fmt.Errorf("unknown query type %q", res.Type)
	}
	return t, nil
}

// conversation is the prior history followed by the new query
func conversation(query string, history []llm.ChatMessage) []llm.ChatMessage {
	messages := make([]llm.ChatMessage, 0, len(history)+1)
	messages = append(messages, history...)
	return append(messages, llm.ChatMessage{Role: string(domain.RoleUser), Content: query})
}

func (a *Agent) direct(ctx context.Context, query string, history []llm.ChatMessage) (string, error) {
	answer, err := a.llm.GenerateWithHistory(ctx, conversation(query, history), a.generateOptions(prompt.SystemAgent))
	if err != nil {
		return "", fmt.Errorf("direct generation: %w", err)
	}
	return answer, nil
}

func (a *Agent) retrieve(ctx context.Context, query string) []domain.RetrievedChunk {
	if a.cfg.RAG.Rerank {
		return a.retriever.RetrieveWithReranking(ctx, query, a.cfg.RAG.TopKResults, a.cfg.RAG.SimilarityThreshold)
	}
	return a.retriever.Retrieve(ctx, query, a.cfg.RAG.TopKResults, a.cfg.RAG.SimilarityThreshold)
}

func (a *Agent) generateOptions(system string) llm.GenerateOptions {
	return llm.GenerateOptions{
		SystemPrompt: system,
		Temperature:  a.cfg.LLM.Temperature,
		MaxTokens:    a.cfg.LLM.MaxTokens,
		TopP:         a.cfg.LLM.TopP,
	}
}

// record appends the assistant message; a panicking store is reported as
// an error.
func (a *Agent) record(sessionID, answer string, sources []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while recording answer: %v", r)
		}
	}()
	a.memory.AddMessage(sessionID, domain.RoleAssistant, answer, sources)
	return nil
}

func (a *Agent) failure(sessionID string, err error, elapsed time.Duration) *domain.AgentResponse {
	a.logger.Error("Error processing query", zap.String("session_id", sessionID), zap.Error(err))
	a.metrics.ObserveError(elapsed)

	if recErr := a.record(sessionID, prompt.ApologyAnswer, nil); recErr != nil {
		a.logger.Error("Failed to record apology", zap.Error(recErr))
	}

	return &domain.AgentResponse{
		Answer:    prompt.ApologyAnswer,
		Source:    []string{},
		SessionID: sessionID,
		Metadata: map[string]any{
			domain.MetaError:          a.errorText(err),
			domain.MetaProcessingTime: seconds(elapsed),
		},
	}
}

// errorText hides details outside local environments
func (a *Agent) errorText(err error) string {
	if a.cfg.IsProduction() {
		if errors.Is(err, context.DeadlineExceeded) {
			return "upstream timeout"
		}
		return sanitisedError
	}
	return err.Error()
}

// SessionInfo summarises a session
func (a *Agent) SessionInfo(sessionID string) (domain.SessionInfo, error) {
	info, ok := a.memory.Info(sessionID)
	if !ok {
		return domain.SessionInfo{}, domain.ErrNotFound
	}
	return info, nil
}

// DeleteSession drops a session from memory
func (a *Agent) DeleteSession(ctx context.Context, sessionID string) error {
	if !a.memory.Delete(ctx, sessionID) {
		return domain.ErrNotFound
	}
	return nil
}

// Stats reports memory totals and the configured backends
func (a *Agent) Stats() domain.Stats {
	stats := domain.Stats{
		Memory:      a.memory.Stats(),
		Provider:    a.llm.Provider(),
		Environment: a.cfg.Environment,
		VectorStore: a.cfg.VectorStoreKind(),
	}
	if a.index != nil {
		stats.IndexedChunks = a.index.Count()
	}
	return stats
}

// Provider names the model provider in use
func (a *Agent) Provider() string {
	return a.llm.Provider()
}

// seconds rounds to two decimals
func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func documents(details []domain.SourceDetail) []string {
	out := make([]string, len(details))
	for i, d := range details {
		out[i] = d.Document
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
