package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream 503")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testBreaker(threshold int) (*Breaker, *clock) {
	c := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	b := NewBreaker("anthropic", BreakerConfig{FailureThreshold: threshold, Cooldown: time.Minute})
	b.now = c.now
	return b, c
}

func fail(context.Context) error { return errUpstream }
func pass(context.Context) error { return nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := testBreaker(3)
	ctx := context.Background()

	for range 2 {
		assert.ErrorIs(t, b.Execute(ctx, fail), errUpstream)
	}
	assert.Equal(t, CircuitClosed, b.State())

	assert.ErrorIs(t, b.Execute(ctx, fail), errUpstream)
	assert.Equal(t, CircuitOpen, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := testBreaker(2)
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, fail))
	require.NoError(t, b.Execute(ctx, pass))
	require.Error(t, b.Execute(ctx, fail))
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	b, c := testBreaker(1)
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, fail))
	assert.Equal(t, CircuitOpen, b.State())

	c.advance(59 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, pass), ErrCircuitOpen)

	c.advance(time.Second)
	assert.Equal(t, CircuitHalfOpen, b.State())
	require.NoError(t, b.Execute(ctx, pass))
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, c := testBreaker(1)
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, fail))
	c.advance(time.Minute)
	require.ErrorIs(t, b.Execute(ctx, fail), errUpstream)
	assert.Equal(t, CircuitOpen, b.State())

	c.advance(30 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, pass), ErrCircuitOpen)
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	b, c := testBreaker(1)
	ctx := context.Background()
	require.Error(t, b.Execute(ctx, fail))
	c.advance(time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, b.Execute(ctx, pass), ErrCircuitOpen)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_ShouldTripFiltersErrors(t *testing.T) {
	errAuth := errors.New("401")
	b := NewBreaker("perplexity", BreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       func(err error) bool { return !errors.Is(err, errAuth) },
	})

	for range 5 {
		assert.ErrorIs(t, b.Execute(context.Background(), func(context.Context) error { return errAuth }), errAuth)
	}
	assert.Equal(t, CircuitClosed, b.State())
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker("x", BreakerConfig{})
	assert.Equal(t, 5, b.cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, b.cfg.Cooldown)
	assert.NotNil(t, b.cfg.ShouldTrip)
}

func TestBreakers_GetAndSnapshot(t *testing.T) {
	r := NewBreakers(BreakerConfig{FailureThreshold: 1})
	assert.Empty(t, r.Snapshot())

	a := r.Get("anthropic")
	assert.Same(t, a, r.Get("anthropic"))
	require.Error(t, a.Execute(context.Background(), fail))
	r.Get("perplexity")

	assert.Equal(t, map[string]string{"anthropic": "open", "perplexity": "closed"}, r.Snapshot())
}

func TestBreakers_ConcurrentGet(t *testing.T) {
	r := NewBreakers(DefaultBreakerConfig())
	var wg sync.WaitGroup
	got := make([]*Breaker, 16)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = r.Get("anthropic")
			_ = got[i].Execute(context.Background(), pass)
		}()
	}
	wg.Wait()
	for _, b := range got {
		assert.Same(t, got[0], b)
	}
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
