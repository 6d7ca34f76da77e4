package location

import (
	"context"
	"sync"
	"time"

	"github.com/hpungsan/mileage/internal/trip"
)

// DefaultMaxAge is how long a pushed sample counts as a current fix.
const DefaultMaxAge = 30 * time.Second

// Feed is a provider driven by Push. A client (phone app, web page, MCP
// caller) reports positions and the tracker consumes them.
// At most one subscription is active at a time.
type Feed struct {
	Authorizer

	// MaxAge bounds how old the last pushed sample may be for CurrentSample.
	MaxAge time.Duration

	// Now defaults to time.Now.
	Now func() time.Time

	mu       sync.Mutex
	sub      *feedSub
	latest   *trip.GeoSample
	pushedAt time.Time
	waiters  []chan trip.GeoSample
}

type feedSub struct {
	ch  chan trip.GeoSample
	ctx context.Context
}

// NewFeed creates a feed with default settings.
func NewFeed() *Feed {
	return &Feed{MaxAge: DefaultMaxAge}
}

func (f *Feed) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// Subscribe starts delivering pushed samples. The subscription ends when ctx
// is done; the returned channel is never closed.
func (f *Feed) Subscribe(ctx context.Context) (<-chan trip.GeoSample, error) {
	sub := &feedSub{ch: make(chan trip.GeoSample), ctx: ctx}

	f.mu.Lock()
	f.sub = sub
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		if f.sub == sub {
			f.sub = nil
		}
		f.mu.Unlock()
	}()

	return sub.ch, nil
}

// CurrentSample returns the last pushed sample if it is fresh, otherwise
// waits for the next Push until ctx is done.
func (f *Feed) CurrentSample(ctx context.Context) (trip.GeoSample, error) {
	f.mu.Lock()
	maxAge := f.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if f.latest != nil && f.now().Sub(f.pushedAt) <= maxAge {
		s := *f.latest
		f.mu.Unlock()
		return s, nil
	}
	w := make(chan trip.GeoSample, 1)
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	select {
	case s := <-w:
		return s, nil
	case <-ctx.Done():
		f.removeWaiter(w)
		return trip.GeoSample{}, ctx.Err()
	}
}

func (f *Feed) removeWaiter(w chan trip.GeoSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.waiters {
		if c == w {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return
		}
	}
}

// Push records s as the latest fix, wakes any CurrentSample callers, and
// hands s to the active subscription. It reports whether a subscriber
// received the sample; it blocks until the subscriber takes it or ctx or
// the subscription ends.
func (f *Feed) Push(ctx context.Context, s trip.GeoSample) bool {
	if s.Timestamp.IsZero() {
		s.Timestamp = f.now()
	}

	f.mu.Lock()
	latest := s
	f.latest = &latest
	f.pushedAt = f.now()
	waiters := f.waiters
	f.waiters = nil
	sub := f.sub
	f.mu.Unlock()

	for _, w := range waiters {
		w <- s
	}

	if sub == nil {
		return false
	}
	select {
	case sub.ch <- s:
		return true
	case <-sub.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

// Subscribed reports whether a tracking session is consuming the feed.
func (f *Feed) Subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sub != nil
}
