package render

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framesync/internal/frameslot"
)

// fakeClock lets tests drive Run's absolute-deadline scheduling without
// real wall-clock waits: sleep resolves instantly and advances the clock by
// exactly the requested duration, so ticks land deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if d > 0 {
		c.mu.Lock()
		c.now = c.now.Add(d)
		c.mu.Unlock()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func collectN(t *testing.T, slot *frameslot.Slot, fallback frameslot.Frame, fps, n int) []Sample {
	t.Helper()

	clock := newFakeClock()
	var samples []Sample
	var mu sync.Mutex

	push := func(ctx context.Context, s Sample) error {
		mu.Lock()
		samples = append(samples, s)
		done := len(samples) >= n
		mu.Unlock()
		if done {
			return ErrFlowStopped
		}
		return nil
	}

	l := NewLoop(slot, fallback, fps, push)
	l.now = clock.Now
	l.sleep = clock.Sleep

	err := l.Run(context.Background())
	require.NoError(t, err)

	return samples
}

func TestLoop_RepeatsFallbackWhenSlotEmpty(t *testing.T) {
	slot := frameslot.New()
	fallback := frameslot.FallbackFrame(4, 2)

	samples := collectN(t, slot, fallback, 10, 3)

	require.Len(t, samples, 3)
	for _, s := range samples {
		assert.Equal(t, fallback.Data, s.Frame.Data)
	}
}

func TestLoop_PTSIncreasesByFrameDuration(t *testing.T) {
	slot := frameslot.New()
	fallback := frameslot.FallbackFrame(2, 2)

	samples := collectN(t, slot, fallback, 25, 4)

	frameDur := (time.Second / 25).Nanoseconds()
	for n, s := range samples {
		assert.Equal(t, int64(n)*frameDur, s.PTS)
		assert.Equal(t, s.PTS, s.DTS)
	}
}

func TestLoop_UsesFreshFrameWhenAvailable(t *testing.T) {
	slot := frameslot.New()
	fallback := frameslot.FallbackFrame(2, 2)
	fresh := []byte{9, 9, 9, 9, 9, 9}
	slot.Replace(fresh, frameslot.Caps{Width: 2, Height: 2, Format: "yuv420p"})

	samples := collectN(t, slot, fallback, 10, 1)

	require.Len(t, samples, 1)
	assert.Equal(t, fresh, samples[0].Frame.Data)
}

func TestLoop_FramesRepeatedCountsStaleAndDuplicateSeq(t *testing.T) {
	slot := frameslot.New()
	fallback := frameslot.FallbackFrame(2, 2)

	var mu sync.Mutex
	var out []Sample
	push := func(ctx context.Context, s Sample) error {
		mu.Lock()
		out = append(out, s)
		n := len(out)
		mu.Unlock()
		// The push that returns ErrFlowStopped ends the loop uncounted, so
		// stopping on the fourth push leaves three counted frames.
		if n > 3 {
			return ErrFlowStopped
		}
		return nil
	}

	clock := newFakeClock()
	l := NewLoop(slot, fallback, 10, push)
	l.now = clock.Now
	l.sleep = clock.Sleep

	err := l.Run(context.Background())
	require.NoError(t, err)

	stats := l.Stats()
	assert.Equal(t, uint64(3), stats.FramesOut)
	// Slot was never written to, so every tick falls back: all repeats.
	assert.Equal(t, uint64(3), stats.FramesRepeated)
}

func TestLoop_StopsCleanlyOnFlowStopped(t *testing.T) {
	slot := frameslot.New()
	fallback := frameslot.FallbackFrame(2, 2)

	push := func(ctx context.Context, s Sample) error {
		return ErrFlowStopped
	}

	clock := newFakeClock()
	l := NewLoop(slot, fallback, 10, push)
	l.now = clock.Now
	l.sleep = clock.Sleep

	err := l.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), l.Stats().FramesOut)
}

func TestLoop_ContextCancelStopsLoop(t *testing.T) {
	slot := frameslot.New()
	fallback := frameslot.FallbackFrame(2, 2)

	push := func(ctx context.Context, s Sample) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := NewLoop(slot, fallback, 10, push)
	err := l.Run(ctx)
	assert.Error(t, err)
}
