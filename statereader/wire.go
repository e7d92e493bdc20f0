package statereader

import "math"

// maxEndTimestamp is the upper-bound timestamp stamped on every list fetch:
// a list is always read whole, never paginated.
const maxEndTimestamp int64 = math.MaxInt64

// WireRequest is the single composite fetch built from one flush's drained
// TagKeys. It always carries exactly one ComputationRequest with exactly
// one KeyFetch.
type WireRequest struct {
	Computations []ComputationRequest `json:"computations"`
}

// ComputationRequest is the `{ computationId, [key-block] }` block.
type ComputationRequest struct {
	ComputationID string     `json:"computationId"`
	Keys          []KeyFetch `json:"keys"`
}

// KeyFetch is the `{ key, workToken, valueFetches[], listFetches[] }`
// key-block.
type KeyFetch struct {
	Key          []byte       `json:"key"`
	WorkToken    int64        `json:"workToken"`
	ValueFetches []ValueFetch `json:"valueFetches,omitempty"`
	ListFetches  []ListFetch  `json:"listFetches,omitempty"`
}

// ValueFetch requests a single VALUE-kind cell.
type ValueFetch struct {
	Tag []byte `json:"tag"`
}

// ListFetch requests a LIST- or WATERMARK-kind cell (both travel on the
// wire as list fetches; only the caller's recorded Kind tells them apart).
type ListFetch struct {
	Tag          []byte `json:"tag"`
	EndTimestamp int64  `json:"endTimestamp"`
}

// WireResponse mirrors WireRequest's shape.
type WireResponse struct {
	Computations []ComputationResponse `json:"computations"`
}

// ComputationResponse is the `{ computationId, [key-block] }` response
// block.
type ComputationResponse struct {
	ComputationID string        `json:"computationId"`
	Keys          []KeyResponse `json:"keys"`
}

// KeyResponse is the `{ key, values[], lists[] }` response key-block.
type KeyResponse struct {
	Key    []byte      `json:"key"`
	Values []ValueItem `json:"values"`
	Lists  []ListItem  `json:"lists"`
}

// ValueItem is one returned VALUE-kind item.
type ValueItem struct {
	Tag     []byte       `json:"tag"`
	Payload *ItemPayload `json:"payload,omitempty"`
}

// ListItem is one returned LIST- or WATERMARK-kind item.
type ListItem struct {
	Tag     []byte        `json:"tag"`
	Entries []ItemPayload `json:"entries"`
}

// ItemPayload is `{ data?, timestamp? }`. Data is opaque bytes interpreted
// by the caller's decoder; for LIST entries that represent a present
// element, Data is prefixed with one zero byte that the decode path must
// strip. Timestamp is microseconds since epoch.
type ItemPayload struct {
	Data      []byte `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// buildRequest converts one flush's drained TagKeys into a single
// WireRequest. VALUE tags become value fetches; LIST and WATERMARK tags
// both become list fetches carrying the max representable end timestamp.
func buildRequest(binding Binding, tags []TagKey) *WireRequest {
	key := KeyFetch{
		Key:       binding.Key,
		WorkToken: binding.WorkToken,
	}

	for _, tk := range tags {
		switch tk.Kind {
		case KindValue:
			key.ValueFetches = append(key.ValueFetches, ValueFetch{Tag: []byte(tk.Tag)})
		case KindList, KindWatermark:
			key.ListFetches = append(key.ListFetches, ListFetch{
				Tag:          []byte(tk.Tag),
				EndTimestamp: maxEndTimestamp,
			})
		}
	}

	return &WireRequest{
		Computations: []ComputationRequest{
			{
				ComputationID: binding.Computation,
				Keys:          []KeyFetch{key},
			},
		},
	}
}
