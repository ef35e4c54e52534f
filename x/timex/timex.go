package timex

import (
	"context"
	"time"
)

// NowFunc is injected where tests need to control elapsed time.
type NowFunc func() time.Time

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// Stopwatch measures one phase.
type Stopwatch struct {
	now   NowFunc
	start time.Time
}

// Start begins a measurement. A nil now uses time.Now.
func Start(now NowFunc) Stopwatch {
	if now == nil {
		now = time.Now
	}
	return Stopwatch{now: now, start: now()}
}

// Elapsed never reports a negative duration.
func (s Stopwatch) Elapsed() time.Duration {
	d := s.now().Sub(s.start)
	if d < 0 {
		return 0
	}
	return d
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
