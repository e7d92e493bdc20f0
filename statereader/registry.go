package statereader

import "sync"

// HandleRegistry maps a TagKey to its pending/resolved Handle and, for the
// kinds that need one, the decoder supplied on first registration. Install
// is check-then-set under a single mutex, so only the goroutine that
// actually installs a fresh handle is told wasNew=true.
type HandleRegistry struct {
	mu       sync.Mutex
	handles  map[TagKey]*handle
	decoders map[TagKey]any
}

func newHandleRegistry() *HandleRegistry {
	return &HandleRegistry{
		handles:  make(map[TagKey]*handle),
		decoders: make(map[TagKey]any),
	}
}

// register returns the Handle for tk, creating one if none exists yet.
// wasNew is true only for the caller that actually installed it; only that
// caller should enqueue tk onto the PendingQueue.
func (reg *HandleRegistry) register(owner *Reader, tk TagKey, decoderBox any) (*handle, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if h, ok := reg.handles[tk]; ok {
		return h, false
	}

	h := newHandle(owner)
	reg.handles[tk] = h
	if decoderBox != nil {
		reg.decoders[tk] = decoderBox
	}
	return h, true
}

func (reg *HandleRegistry) getHandle(tk TagKey) (*handle, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	h, ok := reg.handles[tk]
	return h, ok
}

func (reg *HandleRegistry) getDecoder(tk TagKey) (any, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	d, ok := reg.decoders[tk]
	return d, ok
}

// forgetDecoder drops the decoder recorded for tk once it will never be
// consulted again (an empty LIST response never invokes the element
// decoder).
func (reg *HandleRegistry) forgetDecoder(tk TagKey) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.decoders, tk)
}
