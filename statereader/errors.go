package statereader

import (
	"errors"
	"fmt"
)

// Fatal flush errors. Any of these abort the whole flush: every handle that
// had not yet been routed when the error was discovered is failed with the
// same error.
var (
	// ErrTransportFailure is reported when the backing-store call itself
	// failed or returned a nil response.
	ErrTransportFailure = errors.New("statereader: backing store call failed")

	// ErrEnvelopeMismatch is reported when the response's computation or
	// key block does not match the Reader's binding, or when the number
	// of computation/key blocks in the response is not exactly one.
	ErrEnvelopeMismatch = errors.New("statereader: response envelope does not match request binding")

	// ErrUnknownTag is reported when a response item's tag bytes do not
	// correspond to any TagKey drained for this flush.
	ErrUnknownTag = errors.New("statereader: response contains unknown tag")

	// ErrMissingHandle is reported when a drained TagKey has no Handle in
	// the registry at consumption time. This indicates an internal bug:
	// every drained TagKey must have been registered first.
	ErrMissingHandle = errors.New("statereader: no handle recorded for tag")

	// ErrKindMismatch is reported when an item is routed against a TagKey
	// of a different Kind than the item's wire shape implies.
	ErrKindMismatch = errors.New("statereader: response item kind does not match registered TagKey kind")

	// ErrMissingDecoder is reported when a TagKey of a kind that requires
	// a decoder (VALUE, LIST) has none recorded at consumption time. This
	// indicates an internal bug, never user input.
	ErrMissingDecoder = errors.New("statereader: no decoder recorded for tag")

	// ErrIncompleteResponse is reported when, after routing every item in
	// the response, one or more drained TagKeys were never matched.
	ErrIncompleteResponse = errors.New("statereader: backing store response is missing entries for requested tags")
)

// DecodeError wraps a decoder failure for a single handle. It fails only
// that handle; the rest of the flush's handles resolve normally.
type DecodeError struct {
	Tag TagKey
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("statereader: decode %s %q: %v", e.Tag.Kind, e.Tag.Tag, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FatalFlushError wraps one of the sentinel fatal errors above with the
// detail that made it fatal, so callers can log something actionable while
// still being able to errors.Is against the sentinel.
type FatalFlushError struct {
	Sentinel error
	Detail   string
}

func (e *FatalFlushError) Error() string {
	if e.Detail == "" {
		return e.Sentinel.Error()
	}
	return fmt.Sprintf("%s: %s", e.Sentinel.Error(), e.Detail)
}

func (e *FatalFlushError) Unwrap() error { return e.Sentinel }

func fatalf(sentinel error, format string, args ...interface{}) *FatalFlushError {
	return &FatalFlushError{Sentinel: sentinel, Detail: fmt.Sprintf(format, args...)}
}
