package identity

import (
	"context"
	"time"
)

// WithLatency wraps store so every call first waits d, the way a round trip
// to a remote identity provider would. The wait honours ctx cancellation.
// A non-positive d returns store unchanged.
func WithLatency(store Store, d time.Duration) Store {
	if d <= 0 {
		return store
	}
	return &latencyStore{next: store, delay: d}
}

type latencyStore struct {
	next  Store
	delay time.Duration
}

func (l *latencyStore) wait(ctx context.Context) error {
	t := time.NewTimer(l.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *latencyStore) FindByEmail(ctx context.Context, email string) (*Record, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.next.FindByEmail(ctx, email)
}

func (l *latencyStore) Verify(ctx context.Context, email, secret string) (*Identity, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Verify(ctx, email, secret)
}

func (l *latencyStore) Create(ctx context.Context, email, secret, displayName string) (*Identity, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Create(ctx, email, secret, displayName)
}
