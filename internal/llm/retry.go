package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/liliang-cn/policyagent/internal/domain"
	"go.uber.org/zap"
)

// RetryPolicy bounds every upstream call
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Timeout         time.Duration // per attempt
}

// Retrying decorates a Capability with exponential backoff and a per-attempt
// timeout. Exhausted retries surface the last error to the caller.
type Retrying struct {
	next   Capability
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetrying wraps next with the given policy
func NewRetrying(next Capability, policy RetryPolicy, logger *zap.Logger) *Retrying {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = 2 * time.Second
	}
	if policy.MaxInterval < policy.InitialInterval {
		policy.MaxInterval = policy.InitialInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, policy: policy, logger: logger.Named("llm")}
}

func (r *Retrying) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.policy.MaxAttempts-1)), ctx)
}

func (r *Retrying) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.policy.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.policy.Timeout)
}

func retryValue[T any](ctx context.Context, r *Retrying, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		actx, cancel := r.attemptContext(ctx)
		defer cancel()

		v, err := fn(actx)
		if err != nil {
			if errors.Is(err, domain.ErrUnsupported) || errors.Is(err, domain.ErrProviderNotConfigured) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v
		return nil
	}, r.backOff(ctx), func(err error, wait time.Duration) {
		r.logger.Warn("Upstream call failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		r.logger.Error("Upstream call failed",
			zap.String("operation", op),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
	}
	return result, err
}

// Generate implements Capability
func (r *Retrying) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return retryValue(ctx, r, "generate", func(ctx context.Context) (string, error) {
		return r.next.Generate(ctx, prompt, opts)
	})
}

// GenerateWithHistory implements Capability
func (r *Retrying) GenerateWithHistory(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (string, error) {
	return retryValue(ctx, r, "generate_with_history", func(ctx context.Context) (string, error) {
		return r.next.GenerateWithHistory(ctx, messages, opts)
	})
}

// GenerateEmbedding implements Capability
func (r *Retrying) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return retryValue(ctx, r, "generate_embedding", func(ctx context.Context) ([]float32, error) {
		return r.next.GenerateEmbedding(ctx, text)
	})
}

// GenerateEmbeddingsBatch embeds texts batch by batch. A batch that still
// fails after retries is embedded one text at a time before giving up.
func (r *Retrying) GenerateEmbeddingsBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, batch := range batches(texts, batchSize) {
		vecs, err := retryValue(ctx, r, "generate_embeddings_batch", func(ctx context.Context) ([][]float32, error) {
			return r.next.GenerateEmbeddingsBatch(ctx, batch, len(batch))
		})
		if err != nil {
			r.logger.Info("Falling back to individual embeddings for batch", zap.Int("size", len(batch)))
			vecs = make([][]float32, 0, len(batch))
			for _, text := range batch {
				v, err := r.GenerateEmbedding(ctx, text)
				if err != nil {
					return nil, err
				}
				vecs = append(vecs, v)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// StreamGenerate retries only while nothing has been emitted yet
func (r *Retrying) StreamGenerate(ctx context.Context, prompt string, opts GenerateOptions, onChunk func(string)) error {
	return r.stream(ctx, "stream_generate", onChunk, func(ctx context.Context, emit func(string)) error {
		return r.next.StreamGenerate(ctx, prompt, opts, emit)
	})
}

// StreamGenerateWithHistory retries like StreamGenerate
func (r *Retrying) StreamGenerateWithHistory(ctx context.Context, messages []ChatMessage, opts GenerateOptions, onChunk func(string)) error {
	return r.stream(ctx, "stream_generate_with_history", onChunk, func(ctx context.Context, emit func(string)) error {
		return r.next.StreamGenerateWithHistory(ctx, messages, opts, emit)
	})
}

func (r *Retrying) stream(ctx context.Context, op string, onChunk func(string), fn func(ctx context.Context, emit func(string)) error) error {
	emitted := false
	_, err := retryValue(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		err := fn(ctx, func(s string) {
			emitted = true
			onChunk(s)
		})
		if err != nil && emitted {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	})
	return err
}

// Provider implements Capability
func (r *Retrying) Provider() string {
	return r.next.Provider()
}
