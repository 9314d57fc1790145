package concurrent

import "context"

// Limiter bounds the number of callers working at the same time.
type Limiter interface {
	// Add blocks until a working slot is free or ctx is done.
	Add(ctx context.Context) error
	// Done releases a slot taken by Add.
	Done()
}

type limiter struct {
	working chan struct{}
}

func NewLimiter(maxConcurrency int) Limiter {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &limiter{
		working: make(chan struct{}, maxConcurrency),
	}
}

func (in *limiter) Add(ctx context.Context) error {
	select {
	case in.working <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (in *limiter) Done() {
	<-in.working
}
