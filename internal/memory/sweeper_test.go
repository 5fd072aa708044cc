package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSweeperSweep(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(10, time.Minute, WithClock(clock.Now))
	s.CreateSession("a")
	clock.Advance(2 * time.Minute)

	w := NewSweeper(s, time.Hour, nil, zap.NewNop())
	assert.Equal(t, 1, w.Sweep(context.Background()))
	assert.False(t, s.Exists("a"))
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(10, time.Minute, WithClock(clock.Now))
	s.CreateSession("a")
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(s, 5*time.Millisecond, nil, nil).Run(ctx) }()

	assert.Eventually(t, func() bool { return !s.Exists("a") }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
