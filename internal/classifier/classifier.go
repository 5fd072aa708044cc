// Package classifier routes a query to GENERAL, POLICY or CLARIFICATION.
package classifier

import (
	"context"
	"strings"

	"github.com/liliang-cn/policyagent/internal/domain"
	"github.com/liliang-cn/policyagent/internal/llm"
	"github.com/liliang-cn/policyagent/internal/metrics"
	"github.com/liliang-cn/policyagent/internal/prompt"
	"go.uber.org/zap"
)

// Paths that can produce a classification
const (
	ByLLM     = "llm"
	ByKeyword = "keyword"
)

// Sampling for the classification call
const (
	classifyTemperature = 0.1
	classifyMaxTokens   = 10
)

// Result is a classification and the path that produced it
type Result struct {
	Type domain.QueryType
	By   string
}

// Classifier asks the model first and falls back to keywords
type Classifier struct {
	llm     llm.Capability
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a classifier
func New(capability llm.Capability, m *metrics.Metrics, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{llm: capability, metrics: m, logger: logger.Named("classifier")}
}

// Classify always returns one of the three query types
func (c *Classifier) Classify(ctx context.Context, query string) Result {
	res := c.classify(ctx, query)
	c.metrics.ObserveClassification(res.By)
	c.logger.Info("Query classified",
		zap.String("query_type", string(res.Type)),
		zap.String("classified_by", res.By),
	)
	return res
}

func (c *Classifier) classify(ctx context.Context, query string) Result {
	if qt, ok := c.classifyWithLLM(ctx, query); ok {
		return Result{Type: qt, By: ByLLM}
	}
	return Result{Type: Fallback(query), By: ByKeyword}
}

// classifyWithLLM reports ok=false when the call fails or the answer names
// no known category.
func (c *Classifier) classifyWithLLM(ctx context.Context, query string) (domain.QueryType, bool) {
	if c.llm == nil {
		return "", false
	}
	raw, err := c.llm.Generate(ctx, prompt.Intent(query), llm.GenerateOptions{
		Temperature: classifyTemperature,
		MaxTokens:   classifyMaxTokens,
	})
	if err != nil {
		c.logger.Warn("Classification call failed, using keyword fallback", zap.Error(err))
		return "", false
	}

	qt, ok := Parse(raw)
	if !ok {
		c.logger.Warn("Unrecognised classification, using keyword fallback", zap.String("raw", raw))
	}
	return qt, ok
}

// Parse extracts a query type from model output. Categories are checked in
// the order GENERAL, POLICY, CLARIFICATION.
func Parse(raw string) (domain.QueryType, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, label := range []string{"CATEGORY:", "CLASSIFICATION:"} {
		if strings.HasPrefix(s, label) {
			s = strings.TrimSpace(strings.TrimPrefix(s, label))
			break
		}
	}

	for _, qt := range []domain.QueryType{domain.QueryTypeGeneral, domain.QueryTypePolicy, domain.QueryTypeClarification} {
		if strings.Contains(s, string(qt)) {
			return qt, true
		}
	}
	return "", false
}
