package statereader

import (
	"context"
	"fmt"
	"sync"
)

type handleState int32

const (
	stateUnresolved handleState = iota
	stateResolved
	stateFailed
)

// handle is the type-erased, single-assignment future behind every typed
// Handle[T]. It transitions exactly once, from Unresolved to either
// Resolved or Failed.
type handle struct {
	mu    sync.Mutex
	state handleState
	value any
	err   error
	owner *Reader
}

func newHandle(owner *Reader) *handle {
	return &handle{owner: owner}
}

// resolve and fail are idempotent: once the handle has left Unresolved, a
// later call is a no-op. This is what makes a repeat delivery against an
// already-done handle harmless instead of corrupting its outcome.
func (h *handle) resolve(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != stateUnresolved {
		return
	}
	h.value = v
	h.state = stateResolved
}

func (h *handle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != stateUnresolved {
		return
	}
	h.err = err
	h.state = stateFailed
}

func (h *handle) terminal() (any, error, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == stateUnresolved {
		return nil, nil, false
	}
	return h.value, h.err, true
}

// await triggers exactly one flush on the owning Reader if the handle is
// still unresolved, then returns the terminal outcome. A handle that is
// already done never triggers a flush.
func (h *handle) await(ctx context.Context) (any, error) {
	if v, err, ok := h.terminal(); ok {
		return v, err
	}

	if ferr := h.owner.flush(ctx); ferr != nil {
		if v, err, ok := h.terminal(); ok {
			return v, err
		}
		return nil, ferr
	}

	v, err, ok := h.terminal()
	if !ok {
		return nil, fmt.Errorf("statereader: handle for %s was not resolved by its flush", h.owner.binding)
	}
	return v, err
}

// Optional represents a value that may be absent: the VALUE and WATERMARK
// kinds both resolve to "no data stored" rather than an error.
type Optional[T any] struct {
	Present bool
	Value   T
}

// Handle is the deferred result object returned to callers by the Reader's
// handle factories. The zero value is not usable; obtain one from
// ValueHandle, ListHandle or WatermarkHandle.
type Handle[T any] struct {
	h *handle
}

// Await blocks until the handle is resolved or failed, triggering the
// reader's batched flush on the first call across all handles that share
// its Reader. Concurrent callers awaiting the same Handle all observe the
// same outcome.
func (h Handle[T]) Await(ctx context.Context) (T, error) {
	var zero T
	v, err := h.h.await(ctx)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("statereader: handle resolved with unexpected type %T", v)
	}
	return t, nil
}

// Done reports whether the handle has already reached a terminal state,
// without triggering a flush.
func (h Handle[T]) Done() bool {
	_, _, ok := h.h.terminal()
	return ok
}
