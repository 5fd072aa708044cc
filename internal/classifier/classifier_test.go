package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/liliang-cn/policyagent/internal/domain"
	"github.com/liliang-cn/policyagent/internal/llm"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func answering(text string, err error) *llm.MockClient {
	m := llm.NewMockClient()
	m.GenerateFunc = func(prompt string, opts llm.GenerateOptions) (string, error) {
		return text, err
	}
	return m
}

func TestParse(t *testing.T) {
	tests := []struct {
		raw    string
		want   domain.QueryType
		wantOK bool
	}{
		{raw: "GENERAL", want: domain.QueryTypeGeneral, wantOK: true},
		{raw: "  policy\n", want: domain.QueryTypePolicy, wantOK: true},
		{raw: "Category: clarification", want: domain.QueryTypeClarification, wantOK: true},
		{raw: "CLASSIFICATION: POLICY", want: domain.QueryTypePolicy, wantOK: true},
		{raw: "POLICY or GENERAL", want: domain.QueryTypeGeneral, wantOK: true},
		{raw: "POLICY / CLARIFICATION", want: domain.QueryTypePolicy, wantOK: true},
		{raw: "I am not sure", wantOK: false},
		{raw: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := Parse(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestClassifyUsesModelAnswer(t *testing.T) {
	m := answering("Category: GENERAL", nil)
	c := New(m, nil, zap.NewNop())

	res := c.Classify(context.Background(), "What is the sick leave policy?")
	assert.Equal(t, Result{Type: domain.QueryTypeGeneral, By: ByLLM}, res)
	assert.Equal(t, 1, m.Calls("generate"))
}

func TestClassifySendsLowTemperatureSmallBudget(t *testing.T) {
	m := llm.NewMockClient()
	var got llm.GenerateOptions
	m.GenerateFunc = func(prompt string, opts llm.GenerateOptions) (string, error) {
		got = opts
		assert.Contains(t, prompt, "Query: hello there")
		return "GENERAL", nil
	}

	New(m, nil, nil).Classify(context.Background(), "hello there")
	assert.InDelta(t, 0.1, got.Temperature, 1e-9)
	assert.Equal(t, 10, got.MaxTokens)
}

func TestClassifyFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		model *llm.MockClient
	}{
		{name: "generation error", model: answering("", errors.New("timeout"))},
		{name: "unparseable answer", model: answering("banana", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.model, nil, zap.NewNop())
			res := c.Classify(context.Background(), "huh?")
			assert.Equal(t, Result{Type: domain.QueryTypeClarification, By: ByKeyword}, res)
		})
	}

	res := New(nil, nil, nil).Classify(context.Background(), "How many vacation days do I get?")
	assert.Equal(t, Result{Type: domain.QueryTypePolicy, By: ByKeyword}, res)
}

func TestFallback(t *testing.T) {
	tests := []struct {
		query string
		want  domain.QueryType
	}{
		{query: "What is the sick leave policy?", want: domain.QueryTypePolicy},
		{query: "How do I request PTO?", want: domain.QueryTypePolicy},
		{query: "Are travel expenses reimbursed?", want: domain.QueryTypePolicy},
		{query: "What BENEFITS do we have", want: domain.QueryTypePolicy},
		{query: "Hello!", want: domain.QueryTypeGeneral},
		{query: "good morning", want: domain.QueryTypeGeneral},
		{query: "What is the capital of France?", want: domain.QueryTypeGeneral},
		{query: "Explain recursion to me please", want: domain.QueryTypeGeneral},
		{query: "huh?", want: domain.QueryTypeClarification},
		{query: "and then", want: domain.QueryTypeClarification},
		{query: "", want: domain.QueryTypeClarification},
		{query: "Can I bring my dog tomorrow", want: domain.QueryTypePolicy},
		{query: "this laptop is slow", want: domain.QueryTypePolicy},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, Fallback(tt.query))
		})
	}
}

func TestFallbackMatchesWordStarts(t *testing.T) {
	// "pto" inside "laptop" and "hi" inside "this" are not matches
	assert.Equal(t, domain.QueryTypeClarification, Fallback("laptop"))
	assert.Equal(t, domain.QueryTypeClarification, Fallback("this"))
}

func TestClassifyIsTotalAndDeterministic(t *testing.T) {
	inputs := []string{
		"", " ", "?", "日本の首都は?", "a b c d e f", "\x00\xff", "POLICY",
		"What is the dress code?", "thanks", "tell me about golang",
	}
	c := New(answering("", errors.New("down")), nil, zap.NewNop())
	for _, in := range inputs {
		first := c.Classify(context.Background(), in)
		assert.True(t, first.Type.Valid(), "input %q", in)
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, c.Classify(context.Background(), in))
		}
	}
}
