// Package avro decodes structured state-cell payloads that were written as
// single Avro binary records, reusing the same goavro codec the checkpoint
// writer in the original store used for its on-disk format.
package avro

import (
	"fmt"

	"github.com/linkedin/goavro/v2"
)

// RecordDecoder decodes a single Avro-encoded binary record per call,
// against one fixed schema, and hands back the decoded fields as a
// map[string]any the way goavro itself represents records.
type RecordDecoder struct {
	codec *goavro.Codec
}

// NewRecordDecoder compiles schema (an Avro JSON schema string) once; the
// returned decoder is safe for concurrent use since goavro.Codec itself is
// immutable after construction.
func NewRecordDecoder(schema string) (*RecordDecoder, error) {
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, fmt.Errorf("codecs/avro: compiling schema: %w", err)
	}
	return &RecordDecoder{codec: codec}, nil
}

// Decode implements the statereader.Decoder[map[string]any] contract: it
// decodes exactly one binary record from payload and rejects any trailing
// bytes, since a state-cell entry is never more than one record.
func (d *RecordDecoder) Decode(payload []byte) (map[string]any, error) {
	native, remainder, err := d.codec.NativeFromBinary(payload)
	if err != nil {
		return nil, fmt.Errorf("codecs/avro: decoding record: %w", err)
	}
	if len(remainder) != 0 {
		return nil, fmt.Errorf("codecs/avro: %d trailing byte(s) after record", len(remainder))
	}
	record, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("codecs/avro: decoded value is %T, not a record", native)
	}
	return record, nil
}
