package repository

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	usersCollection         = "users"
	usernamesCollection     = "usernames"
	postsCollection         = "posts"
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	liveSessionsCollection  = "liveSessions"
)

// Clock issues creation timestamps in Unix nanoseconds.
type Clock interface {
	Now() int64
}

// MonotonicClock never returns the same or a smaller value twice, even when
// the wall clock stalls or steps back.
type MonotonicClock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{now: time.Now}
}

func (c *MonotonicClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UnixNano()
	if t <= c.last {
		t = c.last + 1
	}
	c.last = t
	return t
}

// ViewerCounter reports the audience of a live session.
type ViewerCounter interface {
	Viewers(ctx context.Context, sessionID string) int64
}

// RandomViewers is a stand-in until real viewer tracking exists.
type RandomViewers struct{}

func (RandomViewers) Viewers(context.Context, string) int64 {
	return rand.Int64N(1000) + 1
}

type options struct {
	clock   Clock
	viewers ViewerCounter
}

type Option func(*options)

// WithClock shares one clock between repositories on the same store so that
// timestamps are ordered across them.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func WithViewerCounter(v ViewerCounter) Option {
	return func(o *options) {
		o.viewers = v
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:   NewMonotonicClock(),
		viewers: RandomViewers{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
