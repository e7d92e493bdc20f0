// Package varint decodes the small varint-encoded integer payloads used by the
// simplest state cells: a counter VALUE, or a LIST of int64 samples.
package varint

import (
	"encoding/binary"
	"fmt"
)

// Int64 decodes payload as a single zigzag/varint-encoded int64, the shape
// encoding/binary.Varint itself expects. It is a statereader.Decoder[int64].
func Int64(payload []byte) (int64, error) {
	v, n := binary.Varint(payload)
	if n <= 0 {
		return 0, fmt.Errorf("codecs/varint: invalid varint payload (%d bytes)", len(payload))
	}
	if n != len(payload) {
		return 0, fmt.Errorf("codecs/varint: %d trailing byte(s) after varint", len(payload)-n)
	}
	return v, nil
}
