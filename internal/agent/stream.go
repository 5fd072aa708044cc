package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/liliang-cn/policyagent/internal/domain"
	"github.com/liliang-cn/policyagent/internal/llm"
	"github.com/liliang-cn/policyagent/internal/prompt"
	"github.com/liliang-cn/policyagent/internal/retrieval"
	"go.uber.org/zap"
)

// StreamQuery is ProcessQuery with the answer delivered incrementally. The
// channel ends with a done or an error chunk and is closed afterwards. The
// exchange is recorded in the session as with ProcessQuery.
func (a *Agent) StreamQuery(ctx context.Context, query, sessionID string) (<-chan domain.StreamChunk, string) {
	start := a.now()
	sessionID = a.resolveSession(sessionID)
	history := a.memory.FormattedHistory(sessionID, a.cfg.Session.MaxConversationHistory)
	a.memory.AddMessage(sessionID, domain.RoleUser, query, nil)

	ch := make(chan domain.StreamChunk, 100)
	go func() {
		defer close(ch)

		send := func(c domain.StreamChunk) {
			select {
			case ch <- c:
			case <-ctx.Done():
			}
		}

		t, err := a.safeStream(ctx, query, history, send)
		if err == nil {
			err = a.record(sessionID, t.answer, t.sources)
		}
		elapsed := a.now().Sub(start)

		if err != nil {
			resp := a.failure(sessionID, err, elapsed)
			send(domain.StreamChunk{Type: domain.ChunkError, Content: resp.Answer, SessionID: sessionID, Metadata: resp.Metadata})
			return
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
		send(domain.StreamChunk{Type: domain.ChunkDone, SessionID: sessionID, Metadata: metadata})
	}()

	return ch, sessionID
}

func (a *Agent) safeStream(ctx context.Context, query string, history []llm.ChatMessage, send func(domain.StreamChunk)) (t turn, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while streaming answer: %v", r)
		}
	}()

	res := a.classifier.Classify(ctx, query)
	t = turn{queryType: res.Type, classifiedBy: res.By, method: domain.MethodDirect}

	var generated strings.Builder
	emit := func(s string) {
		generated.WriteString(s)
		send(domain.StreamChunk{Type: domain.ChunkContent, Content: s})
	}

	switch res.Type {
	case domain.QueryTypeGeneral:
		err = a.llm.StreamGenerateWithHistory(ctx, conversation(query, history), a.generateOptions(prompt.SystemAgent), emit)
		if err != nil {
			return t, fmt.Errorf("direct generation: %w", err)
		}

	case domain.QueryTypePolicy:
		t.method = domain.MethodRAG
		chunks := a.retrieve(ctx, query)
		if len(chunks) == 0 {
			emit(prompt.NoInformationAnswer)
			break
		}
		t.sources = retrieval.FormatSources(chunks)
		t.retrieved = len(chunks)
		send(domain.StreamChunk{Type: domain.ChunkSources, Sources: t.sources})

		err = a.llm.StreamGenerate(ctx, prompt.RAG(query, chunks), a.generateOptions(prompt.SystemRAG), emit)
		if err != nil {
			return t, fmt.Errorf("grounded generation: %w", err)
		}

	default:
		emit(prompt.ClarificationAnswer)
	}

	t.answer = strings.TrimSpace(generated.String())
	if t.answer == "" {
		return t, domain.ErrEmptyResponse
	}
	a.logger.Debug("Streamed answer", zap.Int("length", len(t.answer)))
	return t, nil
}
