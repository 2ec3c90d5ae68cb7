// Package dispatch fronts the query executor with a ticketed asynchronous
// pipeline: clients push requests onto an inbox queue, a single manager
// serializes writes and forwards reads, workers execute queries with a
// fingerprint-keyed result cache, and replies land on per-ticket queues.
package dispatch

import (
	"context"
	"errors"
	"time"
)

// ErrPopTimeout is returned by BLPop when the timeout elapses with no
// element available.
var ErrPopTimeout = errors.New("queue pop timed out")

// Queue is the job-queue capability: blocking FIFO lists plus a TTL'd
// key-value cache. Redis lists implement it in production; tests use an
// in-memory queue.
type Queue interface {
	// Push appends payload to the named queue.
	Push(ctx context.Context, queue string, payload []byte) error
	// BLPop pops the head of the named queue, blocking up to timeout.
	// A zero timeout blocks until the context is done.
	BLPop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)

	// CacheGet returns the cached payload for key, if present.
	CacheGet(ctx context.Context, key string) ([]byte, bool, error)
	// CacheSet stores payload under key for ttl.
	CacheSet(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	// CacheFlush drops every cached result. Called after a mutation; the
	// store has changed under every fingerprint.
	CacheFlush(ctx context.Context) error
}
