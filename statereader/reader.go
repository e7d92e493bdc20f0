package statereader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/statefetch/reader/pkg/log"
)

// Binding identifies the single (computation, key, work token) context a
// Reader serves. Every Handle obtained from a Reader resolves against
// exactly this binding; a response whose envelope names a different
// computation or key is a fatal error.
type Binding struct {
	Computation string
	Key         []byte
	WorkToken   int64
}

func (b Binding) String() string {
	return fmt.Sprintf("%s/%x@%d", b.Computation, b.Key, b.WorkToken)
}

// DataFetcher performs the single round trip a flush needs: send a
// composite WireRequest, get back a composite WireResponse. Implementations
// live in package transport; tests supply their own in-memory fake.
type DataFetcher interface {
	GetData(ctx context.Context, req *WireRequest) (*WireResponse, error)
}

// Reader is a per-(computation, key, work token) deferred state reader. A
// single Reader is not safe for use by more than one work item; callers
// that process many keys hold one Reader per key, discarding it once the
// work item completes.
type Reader struct {
	binding Binding
	fetcher DataFetcher

	registry *HandleRegistry
	pending  *pendingQueue

	flushMu sync.Mutex

	metrics *Metrics
}

// Option configures optional Reader behavior.
type Option func(*Reader)

// WithMetrics attaches a Metrics set created by NewMetrics. Without one, the
// Reader records nothing.
func WithMetrics(m *Metrics) Option {
	return func(r *Reader) { r.metrics = m }
}

// New constructs a Reader bound to one (computation, key, work token),
// fetching through fetcher.
func New(binding Binding, fetcher DataFetcher, opts ...Option) *Reader {
	r := &Reader{
		binding:  binding,
		fetcher:  fetcher,
		registry: newHandleRegistry(),
		pending:  newPendingQueue(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// obtain implements the shared half of the three public handle factories
// below: register-or-reuse a handle for tk, enqueueing it for the next
// flush only the first time it is registered.
func obtain(r *Reader, tk TagKey, decoderBox any) *handle {
	h, wasNew := r.registry.register(r, tk, decoderBox)
	if wasNew {
		r.pending.enqueue(tk)
	}
	return h
}

// ValueHandle returns a deferred handle for a single VALUE-kind cell,
// decoded with decoder the first time this TagKey is flushed. Calling this
// again for the same tag on the same Reader returns the same Handle and
// does not register a second decoder.
func ValueHandle[T any](r *Reader, tag []byte, decoder Decoder[T]) Handle[Optional[T]] {
	tk := newTagKey(KindValue, tag)
	h := obtain(r, tk, valueBox[T]{fn: decoder})
	return Handle[Optional[T]]{h: h}
}

// ListHandle returns a deferred handle for a LIST-kind cell: every entry
// ever appended under tag, decoded element-wise with elemDecoder and
// returned in storage order.
func ListHandle[T any](r *Reader, tag []byte, elemDecoder Decoder[T]) Handle[[]T] {
	tk := newTagKey(KindList, tag)
	h := obtain(r, tk, listBox[T]{fn: elemDecoder})
	return Handle[[]T]{h: h}
}

// WatermarkHandle returns a deferred handle for a WATERMARK-kind cell: the
// minimum timestamp (in milliseconds) across the cell's entries, or absent
// if the cell has never been written.
func WatermarkHandle(r *Reader, tag []byte) Handle[Optional[int64]] {
	tk := newTagKey(KindWatermark, tag)
	h := obtain(r, tk, nil)
	return Handle[Optional[int64]]{h: h}
}

// Flush forces a round trip for every handle registered so far, even if no
// caller has awaited one yet. Most callers never need this directly: the
// first Await on any handle triggers it implicitly. It is exported for
// callers that want to prefetch ahead of the goroutine that will eventually
// await the result.
func (r *Reader) Flush(ctx context.Context) error {
	return r.flush(ctx)
}

// flush drains the pending queue and performs at most one backing-store
// round trip for whatever was pending at the moment it acquired flushMu.
// Concurrent callers serialize on flushMu; a caller that arrives after
// another flush already drained the queue simply finds nothing left to
// send and returns immediately without a network call.
func (r *Reader) flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	tags := r.pending.drain()
	if len(tags) == 0 {
		return nil
	}

	byTag := make(map[string]TagKey, len(tags))
	for _, tk := range tags {
		byTag[tk.Tag] = tk
	}

	req := buildRequest(r.binding, tags)
	keyFetch := req.Computations[0].Keys[0]

	start := time.Now()
	log.Debugf("statereader: flushing %d value fetch(es) and %d list fetch(es) for %s",
		len(keyFetch.ValueFetches), len(keyFetch.ListFetches), r.binding)
	resp, err := r.fetcher.GetData(ctx, req)
	dur := time.Since(start)

	if err != nil || resp == nil {
		ferr := fatalf(ErrTransportFailure, "%v", err)
		log.Warnf("statereader: flush for %s failed with %v in flight: %v", r.binding, tags, ferr)
		r.failDrained(tags, ferr)
		r.metrics.observeFlush(len(tags), dur, ferr)
		return ferr
	}

	key, verr := validateEnvelope(resp, r.binding)
	if verr != nil {
		log.Warnf("statereader: flush for %s failed with %v in flight: %v", r.binding, tags, verr)
		r.failDrained(tags, verr)
		r.metrics.observeFlush(len(tags), dur, verr)
		return verr
	}

	cerr := consumeResponse(key, byTag, r.registry, r.metrics)
	if cerr != nil {
		// Whatever remains in byTag was never routed; fail it with the
		// same error that aborted consumption.
		log.Warnf("statereader: flush for %s failed with %v in flight: %v", r.binding, tags, cerr)
		r.failRemaining(byTag, cerr)
		r.metrics.observeFlush(len(tags), dur, cerr)
		return cerr
	}

	r.metrics.observeFlush(len(tags), dur, nil)
	return nil
}

func (r *Reader) failDrained(tags []TagKey, err error) {
	for _, tk := range tags {
		if h, ok := r.registry.getHandle(tk); ok {
			h.fail(err)
		}
	}
}

func (r *Reader) failRemaining(byTag map[string]TagKey, err error) {
	for _, tk := range byTag {
		if h, ok := r.registry.getHandle(tk); ok {
			h.fail(err)
		}
	}
}
