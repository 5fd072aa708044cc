package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// MockDimension is the embedding size produced by MockClient
const MockDimension = 64

// MockClient is a deterministic in-process Capability for offline runs and
// tests. Embeddings are hashed bags of words, so texts sharing vocabulary
// land close together. Hooks override the default behaviour.
type MockClient struct {
	GenerateFunc func(prompt string, opts GenerateOptions) (string, error)
	HistoryFunc  func(messages []ChatMessage, opts GenerateOptions) (string, error)
	EmbedFunc    func(text string) ([]float32, error)

	mu     sync.Mutex
	calls  map[string]int
	prompt []string
}

// NewMockClient returns a MockClient with default behaviour
func NewMockClient() *MockClient {
	return &MockClient{calls: make(map[string]int)}
}

// Provider implements Capability
func (m *MockClient) Provider() string {
	return "mock"
}

func (m *MockClient) record(op, prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[op]++
	if prompt != "" {
		m.prompt = append(m.prompt, prompt)
	}
}

// Calls returns how many times op was invoked
func (m *MockClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of calls of any kind
func (m *MockClient) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// Prompts returns the prompts seen by Generate in call order
func (m *MockClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompt...)
}

// Generate implements Capability
func (m *MockClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	m.record("generate", prompt)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.GenerateFunc != nil {
		return m.GenerateFunc(prompt, opts)
	}
	return "This is a mock response.", nil
}

// GenerateWithHistory implements Capability
func (m *MockClient) GenerateWithHistory(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (string, error) {
	m.record("generate_with_history", "")
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.HistoryFunc != nil {
		return m.HistoryFunc(messages, opts)
	}
	last := ""
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	return "Mock response to: " + last, nil
}

// StreamGenerate emits the Generate result word by word
func (m *MockClient) StreamGenerate(ctx context.Context, prompt string, opts GenerateOptions, onChunk func(string)) error {
	text, err := m.Generate(ctx, prompt, opts)
	if err != nil {
		return err
	}
	emitWords(text, onChunk)
	return nil
}

// StreamGenerateWithHistory emits the GenerateWithHistory result word by word
func (m *MockClient) StreamGenerateWithHistory(ctx context.Context, messages []ChatMessage, opts GenerateOptions, onChunk func(string)) error {
	text, err := m.GenerateWithHistory(ctx, messages, opts)
	if err != nil {
		return err
	}
	emitWords(text, onChunk)
	return nil
}

func emitWords(text string, onChunk func(string)) {
	for i, w := range strings.Fields(text) {
		if i > 0 {
			w = " " + w
		}
		onChunk(w)
	}
}

// GenerateEmbedding implements Capability
func (m *MockClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	m.record("generate_embedding", "")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.EmbedFunc != nil {
		return m.EmbedFunc(text)
	}
	return HashEmbedding(text), nil
}

// GenerateEmbeddingsBatch implements Capability
func (m *MockClient) GenerateEmbeddingsBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := m.GenerateEmbedding(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// HashEmbedding maps text to a unit vector by hashing lower-cased words
// into MockDimension buckets.
func HashEmbedding(text string) []float32 {
	vec := make([]float32, MockDimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%MockDimension]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
