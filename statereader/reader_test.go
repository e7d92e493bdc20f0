package statereader_test

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statefetch/reader/statereader"
)

func testBinding() statereader.Binding {
	return statereader.Binding{Computation: "comp-a", Key: []byte("job-42"), WorkToken: 7}
}

// fetcher is a minimal in-package DataFetcher fake; it intentionally
// avoids depending on package transport so these tests exercise the core
// in isolation (transport.FakeFetcher has its own tests in package
// transport).
type fetcher struct {
	mu       sync.Mutex
	calls    int
	requests []*statereader.WireRequest
	handler  func(*statereader.WireRequest) (*statereader.WireResponse, error)
}

func (f *fetcher) GetData(_ context.Context, req *statereader.WireRequest) (*statereader.WireResponse, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.handler(req)
}

func (f *fetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func varintBytes(v int64) []byte {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutVarint(buf, v)
	return buf[:n]
}

func prefixed(v int64) []byte {
	return append([]byte{0}, varintBytes(v)...)
}

func decodeInt(b []byte) (int64, error) {
	v, _ := binary.Varint(b)
	return v, nil
}

func echoEnvelope(b statereader.Binding) statereader.ComputationResponse {
	return statereader.ComputationResponse{
		ComputationID: b.Computation,
		Keys:          []statereader.KeyResponse{{Key: b.Key}},
	}
}

func TestLazyTransmission(t *testing.T) {
	f := &fetcher{handler: func(*statereader.WireRequest) (*statereader.WireResponse, error) {
		t.Fatal("backing store must not be called without an await")
		return nil, nil
	}}
	r := statereader.New(testBinding(), f)

	statereader.ValueHandle(r, []byte("a"), decodeInt)
	statereader.ListHandle(r, []byte("b"), decodeInt)
	statereader.WatermarkHandle(r, []byte("c"))

	assert.Equal(t, 0, f.callCount())
}

func TestSingleListRead(t *testing.T) {
	binding := testBinding()
	f := &fetcher{handler: func(req *statereader.WireRequest) (*statereader.WireResponse, error) {
		resp := echoEnvelope(binding)
		resp.Keys[0].Lists = []statereader.ListItem{
			{Tag: []byte("key1"), Entries: []statereader.ItemPayload{
				{Data: prefixed(5)},
				{Data: prefixed(6)},
			}},
		}
		return &statereader.WireResponse{Computations: []statereader.ComputationResponse{resp}}, nil
	}}
	r := statereader.New(binding, f)

	h := statereader.ListHandle(r, []byte("key1"), decodeInt)
	got, err := h.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6}, got)
}

func TestSingleValueRead(t *testing.T) {
	binding := testBinding()
	f := &fetcher{handler: func(req *statereader.WireRequest) (*statereader.WireResponse, error) {
		require.Len(t, req.Computations[0].Keys[0].ValueFetches, 1)
		resp := echoEnvelope(binding)
		resp.Keys[0].Values = []statereader.ValueItem{
			{Tag: []byte("key1"), Payload: &statereader.ItemPayload{Data: varintBytes(8)}},
		}
		return &statereader.WireResponse{Computations: []statereader.ComputationResponse{resp}}, nil
	}}
	r := statereader.New(binding, f)

	h := statereader.ValueHandle(r, []byte("key1"), decodeInt)
	got, err := h.Await(context.Background())
	require.NoError(t, err)
	require.True(t, got.Present)
	assert.Equal(t, int64(8), got.Value)
}

func TestSingleWatermarkRead(t *testing.T) {
	binding := testBinding()
	f := &fetcher{handler: func(req *statereader.WireRequest) (*statereader.WireResponse, error) {
		resp := echoEnvelope(binding)
		resp.Keys[0].Lists = []statereader.ListItem{
			{Tag: []byte("key1"), Entries: []statereader.ItemPayload{
				{Data: []byte{1}, Timestamp: 6000 * 1000},
				{Data: []byte{1}, Timestamp: 5000 * 1000},
			}},
		}
		return &statereader.WireResponse{Computations: []statereader.ComputationResponse{resp}}, nil
	}}
	r := statereader.New(binding, f)

	h := statereader.WatermarkHandle(r, []byte("key1"))
	got, err := h.Await(context.Background())
	require.NoError(t, err)
	require.True(t, got.Present)
	assert.EqualValues(t, 5000, got.Value)
}

func TestBatchedMixedRead(t *testing.T) {
	binding := testBinding()
	f := &fetcher{handler: func(req *statereader.WireRequest) (*statereader.WireResponse, error) {
		keyFetch := req.Computations[0].Keys[0]
		require.Len(t, keyFetch.ListFetches, 2)
		tags := map[string]bool{}
		for _, lf := range keyFetch.ListFetches {
			tags[string(lf.Tag)] = true
			assert.EqualValues(t, 1<<63-1, lf.EndTimestamp)
		}
		assert.True(t, tags["key1"] && tags["key2"])

		resp := echoEnvelope(binding)
		resp.Keys[0].Lists = []statereader.ListItem{
			{Tag: []byte("key2"), Entries: []statereader.ItemPayload{{Data: []byte{1}, Timestamp: 5000 * 1000}}},
			{Tag: []byte("key1"), Entries: []statereader.ItemPayload{{Data: prefixed(6)}}},
		}
		return &statereader.WireResponse{Computations: []statereader.ComputationResponse{resp}}, nil
	}}
	r := statereader.New(binding, f)

	watermark := statereader.WatermarkHandle(r, []byte("key2"))
	list := statereader.ListHandle(r, []byte("key1"), decodeInt)

	w, err := watermark.Await(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5000, w.Value)
	assert.Equal(t, 1, f.callCount())

	l, err := list.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{6}, l)
	assert.Equal(t, 1, f.callCount(), "awaiting an already-done handle must not flush again")
}

func TestIntraBatchDeduplication(t *testing.T) {
	binding := testBinding()
	f := &fetcher{handler: func(req *statereader.WireRequest) (*statereader.WireResponse, error) {
		require.Len(t, req.Computations[0].Keys[0].ListFetches, 1)
		resp := echoEnvelope(binding)
		resp.Keys[0].Lists = []statereader.ListItem{
			{Tag: []byte("key1"), Entries: []statereader.ItemPayload{{Data: []byte{1}, Timestamp: 1000}}},
		}
		return &statereader.WireResponse{Computations: []statereader.ComputationResponse{resp}}, nil
	}}
	r := statereader.New(binding, f)

	h1 := statereader.WatermarkHandle(r, []byte("key1"))
	h2 := statereader.WatermarkHandle(r, []byte("key1"))

	_, err := h1.Await(context.Background())
	require.NoError(t, err)
	_, err = h2.Await(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.callCount())
}

func TestAbsentValue(t *testing.T) {
	binding := testBinding()
	decoderCalled := false
	decoder := func(b []byte) (int64, error) {
		decoderCalled = true
		return decodeInt(b)
	}

	f := &fetcher{handler: func(req *statereader.WireRequest) (*statereader.WireResponse, error) {
		resp := echoEnvelope(binding)
		resp.Keys[0].Values = []statereader.ValueItem{{Tag: []byte("key1")}}
		return &statereader.WireResponse{Computations: []statereader.ComputationResponse{resp}}, nil
	}}
	r := statereader.New(binding, f)

	h := statereader.ValueHandle(r, []byte("key1"), decoder)
	got, err := h.Await(context.Background())
	require.NoError(t, err)
	assert.False(t, got.Present)
	assert.False(t, decoderCalled)
}

func TestEnvelopeMismatch(t *testing.T) {
	binding := testBinding()
	f := &fetcher{handler: func(req *statereader.WireRequest) (*statereader.WireResponse, error) {
		resp := statereader.ComputationResponse{
			ComputationID: "wrong-computation",
			Keys:          []statereader.KeyResponse{{Key: binding.Key}},
		}
		return &statereader.WireResponse{Computations: []statereader.ComputationResponse{resp}}, nil
	}}
	r := statereader.New(binding, f)

	h := statereader.ValueHandle(r, []byte("key1"), decodeInt)
	_, err := h.Await(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, statereader.ErrEnvelopeMismatch)
}

func TestTransportFailure(t *testing.T) {
	f := &fetcher{handler: func(req *statereader.WireRequest) (*statereader.WireResponse, error) {
		return nil, assert.AnError
	}}
	r := statereader.New(testBinding(), f)

	h := statereader.ValueHandle(r, []byte("key1"), decodeInt)
	_, err := h.Await(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, statereader.ErrTransportFailure)
}

func TestIncompleteResponseFailsOtherHandles(t *testing.T) {
	binding := testBinding()
	f := &fetcher{handler: func(req *statereader.WireRequest) (*statereader.WireResponse, error) {
		resp := echoEnvelope(binding)
		resp.Keys[0].Values = []statereader.ValueItem{
			{Tag: []byte("a"), Payload: &statereader.ItemPayload{Data: varintBytes(1)}},
		}
		// "b" is never delivered.
		return &statereader.WireResponse{Computations: []statereader.ComputationResponse{resp}}, nil
	}}
	r := statereader.New(binding, f)

	ha := statereader.ValueHandle(r, []byte("a"), decodeInt)
	hb := statereader.ValueHandle(r, []byte("b"), decodeInt)

	// "a" was routed before the fatal error was found, so it keeps its
	// value; only the undelivered "b" is failed.
	a, err := ha.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Value)

	assert.True(t, hb.Done())
	_, err = hb.Await(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, statereader.ErrIncompleteResponse)
	assert.Equal(t, 1, f.callCount(), "the second await must not re-flush")
}

func TestDecodeErrorIsScopedToItsHandle(t *testing.T) {
	binding := testBinding()
	boom := assert.AnError
	failingDecoder := func([]byte) (int64, error) { return 0, boom }

	f := &fetcher{handler: func(req *statereader.WireRequest) (*statereader.WireResponse, error) {
		resp := echoEnvelope(binding)
		resp.Keys[0].Values = []statereader.ValueItem{
			{Tag: []byte("bad"), Payload: &statereader.ItemPayload{Data: varintBytes(1)}},
			{Tag: []byte("good"), Payload: &statereader.ItemPayload{Data: varintBytes(2)}},
		}
		return &statereader.WireResponse{Computations: []statereader.ComputationResponse{resp}}, nil
	}}
	r := statereader.New(binding, f)

	bad := statereader.ValueHandle(r, []byte("bad"), failingDecoder)
	good := statereader.ValueHandle(r, []byte("good"), decodeInt)

	_, err := bad.Await(context.Background())
	require.Error(t, err)
	var decErr *statereader.DecodeError
	require.ErrorAs(t, err, &decErr)

	g, err := good.Await(context.Background())
	require.NoError(t, err)
	require.True(t, g.Present)
	assert.Equal(t, int64(2), g.Value)
}

func TestConcurrentAwaitSharesOneFlush(t *testing.T) {
	binding := testBinding()
	f := &fetcher{handler: func(req *statereader.WireRequest) (*statereader.WireResponse, error) {
		resp := echoEnvelope(binding)
		resp.Keys[0].Values = []statereader.ValueItem{
			{Tag: []byte("key1"), Payload: &statereader.ItemPayload{Data: varintBytes(42)}},
		}
		return &statereader.WireResponse{Computations: []statereader.ComputationResponse{resp}}, nil
	}}
	r := statereader.New(binding, f)
	h := statereader.ValueHandle(r, []byte("key1"), decodeInt)

	const n = 20
	var wg sync.WaitGroup
	results := make([]int64, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := h.Await(context.Background())
			if err == nil {
				results[i] = v.Value
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(42), results[i])
	}
	assert.Equal(t, 1, f.callCount())
}
