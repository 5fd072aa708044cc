package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/policyagent/internal/agent"
	"github.com/liliang-cn/policyagent/internal/api/query"
	"github.com/liliang-cn/policyagent/internal/classifier"
	"github.com/liliang-cn/policyagent/internal/config"
	"github.com/liliang-cn/policyagent/internal/domain"
	"github.com/liliang-cn/policyagent/internal/llm"
	"github.com/liliang-cn/policyagent/internal/memory"
	"github.com/liliang-cn/policyagent/internal/metrics"
	"github.com/liliang-cn/policyagent/internal/retrieval"
	"github.com/liliang-cn/policyagent/internal/vectorindex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	cfg := &config.Config{
		Environment: config.EnvLocal,
		Session:     config.SessionConfig{Timeout: time.Hour, MaxConversationHistory: 10},
		RAG:         config.RAGConfig{TopKResults: 5, SimilarityThreshold: 0.7},
	}
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	model := llm.NewMockClient()
	idx := vectorindex.NewFlatIndex(0, nil, logger)

	a := agent.New(cfg, agent.Deps{
		LLM:        model,
		Memory:     memory.NewStore(cfg.Session.MaxConversationHistory, cfg.Session.Timeout),
		Classifier: classifier.New(model, m, logger),
		Retriever:  retrieval.New(model, idx, cfg.RAG.TopKResults, cfg.RAG.SimilarityThreshold, m, logger),
		Index:      idx,
		Metrics:    m,
		Logger:     logger,
	})

	return SetupRouter(query.NewHandler(a, false, logger), RouterConfig{
		AllowOrigins: []string{"*"},
		Environment:  cfg.Environment,
		Provider:     model.Provider(),
		VectorStore:  cfg.VectorStoreKind(),
		Gatherer:     reg,
		Logger:       logger,
	})
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthAndReady(t *testing.T) {
	r := newTestRouter(t)

	w := get(r, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "mock", health["llm_provider"])
	assert.Equal(t, "flat_l2", health["vector_store"])
	assert.NotEmpty(t, health["timestamp"])

	w = get(r, "/ready")
	assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())

	w = get(r, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "policyagent")
}

func TestAskThroughRouter(t *testing.T) {
	r := newTestRouter(t)

	body := bytes.NewBufferString(`{"query":"What is the capital of France?"}`)
	req := httptest.NewRequest(http.MethodPost, "/ask", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp domain.AgentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{}, resp.Source)
	assert.Equal(t, "direct", resp.Metadata["method"])

	w = get(r, "/session/"+resp.SessionID)
	require.Equal(t, http.StatusOK, w.Code)
	var info domain.SessionInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, 2, info.MessageCount)

	w = get(r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `policyagent_queries_total{method="direct",query_type="GENERAL"} 1`)
	assert.Contains(t, w.Body.String(), `policyagent_classifications_total{classified_by="keyword"} 1`)
}
