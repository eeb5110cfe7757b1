package executor

import (
	"context"
	"time"
)

const maxBackoff = 5 * time.Second

// backoff returns base * 2^attempt capped at maxBackoff. attempt starts at 0.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		return maxBackoff
	}
	d := base * time.Duration(1<<attempt)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
