package dispatch

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	rtdebug "runtime/debug"
	"time"

	"github.com/standardbeagle/bikidata/internal/config"
	"github.com/standardbeagle/bikidata/internal/debug"
)

// Queue names. The manager owns the inbox; workers own the ready queue.
const (
	InboxQueue = "bikidata:queries"
	ReadyQueue = "bikidata:queries_ready"
)

// ErrTimeout is returned by Submit when no reply lands on the ticket within
// the receive timeout. The server-side job still runs to completion; its
// eventual reply is discarded.
var ErrTimeout = errors.New("query timed out")

// QueryFunc executes a query request given its decoded options.
type QueryFunc func(ctx context.Context, opts map[string]any) (any, error)

// MutateFunc applies an insert or delete action.
type MutateFunc func(ctx context.Context, opts map[string]any) (any, error)

// Dispatcher wires the queue capability to the executor and the store
// mutators.
type Dispatcher struct {
	queue          Queue
	runQuery       QueryFunc
	insert         MutateFunc
	delete         MutateFunc
	cacheTTL       time.Duration
	receiveTimeout time.Duration
}

// New builds a dispatcher. insert and delete may be nil on read-only
// deployments; those actions then fail with an error reply.
func New(queue Queue, runQuery QueryFunc, insert, delete MutateFunc, cfg config.Dispatch) *Dispatcher {
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = config.DefaultCacheTTL
	}
	receiveTimeout := cfg.ReceiveTimeout
	if receiveTimeout <= 0 {
		receiveTimeout = config.DefaultReceiveTimeout
	}
	return &Dispatcher{
		queue:          queue,
		runQuery:       runQuery,
		insert:         insert,
		delete:         delete,
		cacheTTL:       cacheTTL,
		receiveTimeout: receiveTimeout,
	}
}

// Fingerprint is the cache key of a request: md5 over its canonical JSON.
// Map keys marshal in sorted order, so equal requests fingerprint equally
// regardless of field order on the wire.
func Fingerprint(opts map[string]any) string {
	canonical, err := json.Marshal(opts)
	if err != nil {
		// Opts always decode from JSON, so they re-encode; fall back to a
		// never-matching key rather than failing the request.
		return fmt.Sprintf("unfingerprintable-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", md5.Sum(canonical))
}

// NewTicket returns a unique per-request reply-queue name.
func NewTicket() string {
	return fmt.Sprintf("%.6f-%d", float64(time.Now().UnixMicro())/1e6, rand.IntN(1000000))
}

// Submit pushes one request onto the inbox and blocks for its reply. The
// returned bytes are the worker's JSON result (which may carry an "error"
// field when processing failed).
func (d *Dispatcher) Submit(ctx context.Context, opts map[string]any) (json.RawMessage, error) {
	queryHash := Fingerprint(opts)
	ticket := NewTicket()
	opts["query_ticket"] = ticket
	opts["query_hash"] = queryHash

	payload, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if err := d.queue.Push(ctx, InboxQueue, payload); err != nil {
		return nil, err
	}
	reply, err := d.queue.BLPop(ctx, ticket, d.receiveTimeout)
	if errors.Is(err, ErrPopTimeout) {
		return nil, ErrTimeout
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(reply), nil
}

// Manager runs the single write-serializing loop: insert/delete actions are
// applied inline, everything else is handed to the ready queue. Returns when
// the context is cancelled.
func (d *Dispatcher) Manager(ctx context.Context) error {
	debug.LogDispatch("manager loop started\n")
	for {
		payload, err := d.queue.BLPop(ctx, InboxQueue, 0)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrPopTimeout) {
				continue
			}
			return err
		}
		d.manageOne(ctx, payload)
	}
}

func (d *Dispatcher) manageOne(ctx context.Context, payload []byte) {
	var opts map[string]any
	if err := json.Unmarshal(payload, &opts); err != nil {
		debug.Errorf("manager: undecodable request: %v\n", err)
		return
	}
	ticket, _ := opts["query_ticket"].(string)
	action, _ := opts["action"].(string)

	switch action {
	case "insert", "delete":
		handler := d.insert
		if action == "delete" {
			handler = d.delete
		}
		var result any
		var err error
		if handler == nil {
			err = fmt.Errorf("no %s handler configured", action)
		} else {
			result, err = handler(ctx, opts)
		}
		if err != nil {
			debug.Errorf("manager: %s failed: %v\n", action, err)
			d.reply(ctx, ticket, errorPayload(err))
			return
		}
		// the store changed; cached results are stale
		if err := d.queue.CacheFlush(ctx); err != nil {
			debug.Errorf("manager: cache flush failed: %v\n", err)
		}
		d.reply(ctx, ticket, mustJSON(result))
	default:
		if err := d.queue.Push(ctx, ReadyQueue, payload); err != nil {
			debug.Errorf("manager: forward to ready queue failed: %v\n", err)
			d.reply(ctx, ticket, errorPayload(err))
		}
	}
}

// Worker runs one query-executing loop against the ready queue. Returns
// when the context is cancelled.
func (d *Dispatcher) Worker(ctx context.Context) error {
	debug.LogDispatch("worker loop started, queue %s\n", ReadyQueue)
	for {
		payload, err := d.queue.BLPop(ctx, ReadyQueue, 0)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrPopTimeout) {
				continue
			}
			return err
		}
		d.workOne(ctx, payload)
	}
}

func (d *Dispatcher) workOne(ctx context.Context, payload []byte) {
	var opts map[string]any
	if err := json.Unmarshal(payload, &opts); err != nil {
		debug.Errorf("worker: undecodable request: %v\n", err)
		return
	}
	ticket, _ := opts["query_ticket"].(string)
	if ticket == "" {
		debug.Errorf("worker: no query ticket found in request\n")
		return
	}
	queryHash, _ := opts["query_hash"].(string)

	useCache := true
	if v, ok := opts["use_cache"].(bool); ok {
		useCache = v
	}

	if useCache && queryHash != "" {
		if cached, ok, err := d.queue.CacheGet(ctx, queryHash); err == nil && ok {
			debug.LogDispatch("cache hit for ticket %s\n", ticket)
			d.reply(ctx, ticket, cached)
			return
		}
	}

	debug.LogDispatch("processing ticket %s\n", ticket)
	result, err := d.runQuery(ctx, opts)
	if err != nil {
		d.reply(ctx, ticket, errorPayload(err))
		return
	}
	encoded := mustJSON(result)
	if queryHash != "" {
		if err := d.queue.CacheSet(ctx, queryHash, encoded, d.cacheTTL); err != nil {
			debug.Errorf("worker: cache set failed: %v\n", err)
		}
	}
	d.reply(ctx, ticket, encoded)
}

func (d *Dispatcher) reply(ctx context.Context, ticket string, payload []byte) {
	if ticket == "" {
		return
	}
	if err := d.queue.Push(ctx, ticket, payload); err != nil {
		debug.Errorf("reply to ticket %s failed: %v\n", ticket, err)
	}
}

// errorPayload encodes a processing failure as the reply JSON: an error
// message plus the server-side stack.
func errorPayload(err error) []byte {
	payload, merr := json.Marshal(map[string]string{
		"error": err.Error(),
		"trace": string(rtdebug.Stack()),
	})
	if merr != nil {
		return []byte(`{"error":"failed to encode error"}`)
	}
	return payload
}

func mustJSON(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		return errorPayload(fmt.Errorf("encode result: %w", err))
	}
	return payload
}
