package transport

import (
	"context"
	"sync"

	"github.com/statefetch/reader/statereader"
)

// FakeFetcher is an in-memory statereader.DataFetcher for tests. Construct
// one with NewFakeFetcher and a handler function, then hand the FakeFetcher
// to statereader.New; each call to GetData invokes handler and records the
// request it was given for later assertions.
type FakeFetcher struct {
	mu       sync.Mutex
	handler  func(*statereader.WireRequest) (*statereader.WireResponse, error)
	requests []*statereader.WireRequest
}

// NewFakeFetcher constructs a FakeFetcher that calls handler for every
// GetData invocation.
func NewFakeFetcher(handler func(*statereader.WireRequest) (*statereader.WireResponse, error)) *FakeFetcher {
	return &FakeFetcher{handler: handler}
}

// GetData implements statereader.DataFetcher.
func (f *FakeFetcher) GetData(_ context.Context, req *statereader.WireRequest) (*statereader.WireResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.handler(req)
}

// Requests returns every request GetData has received so far, in order.
func (f *FakeFetcher) Requests() []*statereader.WireRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*statereader.WireRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// CallCount reports how many times GetData has been invoked.
func (f *FakeFetcher) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
