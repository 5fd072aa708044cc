// Package query serves the question answering endpoints.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/policyagent/internal/agent"
	"github.com/liliang-cn/policyagent/internal/api/middleware"
	"github.com/liliang-cn/policyagent/internal/domain"
	"go.uber.org/zap"
)

// Agent is what the handlers need from the orchestrator
type Agent interface {
	ProcessQuery(ctx context.Context, query, sessionID string) *domain.AgentResponse
	StreamQuery(ctx context.Context, query, sessionID string) (<-chan domain.StreamChunk, string)
	SessionInfo(sessionID string) (domain.SessionInfo, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Stats() domain.Stats
}

// Handler handles query API requests
type Handler struct {
	agent      Agent
	production bool
	logger     *zap.Logger
}

// NewHandler creates a new query handler. production hides error details.
func NewHandler(a Agent, production bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{agent: a, production: production, logger: logger.Named("api")}
}

// RegisterRoutes registers query routes
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/ask", h.Ask)
	r.POST("/ask/detailed", h.AskDetailed)
	r.POST("/ask/stream", h.AskStream)
	r.GET("/session/:id", h.GetSession)
	r.DELETE("/session/:id", h.DeleteSession)
	r.GET("/stats", h.GetStats)
}

func (h *Handler) bind(c *gin.Context) (*domain.AskRequest, bool) {
	var req domain.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err))
		return nil, false
	}
	if err := agent.ValidateQuery(req.Query); err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return &req, true
}

// Ask answers a query
func (h *Handler) Ask(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.agent.ProcessQuery(c.Request.Context(), req.Query, req.SessionID))
}

// AskDetailed answers a query with method and timing lifted out of the
// metadata
func (h *Handler) AskDetailed(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}

	resp := h.agent.ProcessQuery(c.Request.Context(), req.Query, req.SessionID)

	sources := resp.Details
	if sources == nil || len(sources) != len(resp.Source) {
		sources = make([]domain.SourceDetail, len(resp.Source))
		for i, s := range resp.Source {
			sources[i] = domain.SourceDetail{Document: s}
		}
	}

	method, _ := resp.Metadata[domain.MetaMethod].(string)
	if method == "" {
		method = "unknown"
	}
	elapsed, _ := resp.Metadata[domain.MetaProcessingTime].(float64)

	c.JSON(http.StatusOK, domain.DetailedAskResponse{
		Answer:         resp.Answer,
		Sources:        sources,
		SessionID:      resp.SessionID,
		Method:         method,
		ProcessingTime: elapsed,
		Metadata:       resp.Metadata,
	})
}

// AskStream answers a query as server-sent events
func (h *Handler) AskStream(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	stream, sessionID := h.agent.StreamQuery(c.Request.Context(), req.Query, req.SessionID)
	c.Header(middleware.SessionHeader, sessionID)

	c.Stream(func(w io.Writer) bool {
		chunk, ok := <-stream
		if !ok {
			return false
		}
		writeSSE(w, chunk)
		return true
	})
}

func writeSSE(w io.Writer, chunk domain.StreamChunk) {
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", chunk.Type, data)
}

// GetSession returns session info
func (h *Handler) GetSession(c *gin.Context) {
	info, err := h.agent.SessionInfo(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// DeleteSession drops a session
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.agent.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// GetStats returns agent statistics
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.agent.Stats())
}

// writeError maps domain errors to HTTP statuses
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		if h.production {
			msg = "internal server error"
		}
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}
