package sample

import (
	"errors"
	"fmt"
)

// Sample is one timestamped reading captured from the device. It is
// created by Decode and never mutated afterwards.
type Sample struct {
	Timestamp int64  `json:"timestamp"` // ms since the Unix epoch
	Data      Object `json:"data"`
}

// Numeric returns the field as a float when it holds a JSON number.
func (s Sample) Numeric(key string) (float64, bool) {
	v, ok := s.Data.Get(key)
	if !ok {
		return 0, false
	}
	return v.Float()
}

// ---------------------------------------------------------------------------
// Decode errors
// ---------------------------------------------------------------------------

var (
	// ErrMalformedJSON matches decode failures where the line is not JSON.
	ErrMalformedJSON = errors.New("sample: malformed JSON")

	// ErrUnexpectedShape matches lines that are valid JSON but not an object.
	ErrUnexpectedShape = errors.New("sample: unexpected shape")
)

// DecodeErrorKind classifies a DecodeError.
type DecodeErrorKind int

const (
	MalformedJSON DecodeErrorKind = iota + 1
	UnexpectedShape
)

func (k DecodeErrorKind) String() string {
	switch k {
	case MalformedJSON:
		return "malformed_json"
	case UnexpectedShape:
		return "unexpected_shape"
	default:
		return "unknown"
	}
}

// DecodeError reports a line that could not become a Sample. It is never
// fatal to the stream.
type DecodeError struct {
	Kind DecodeErrorKind
	Line string
	Got  Kind  // for UnexpectedShape
	Err  error // parser error for MalformedJSON
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case UnexpectedShape:
		return fmt.Sprintf("sample: expected JSON object, got %s", e.Got)
	default:
		return fmt.Sprintf("sample: malformed JSON: %v", e.Err)
	}
}

// Unwrap lets errors.Is match the sentinel for the kind as well as the
// underlying parser error.
func (e *DecodeError) Unwrap() []error {
	sentinel := ErrMalformedJSON
	if e.Kind == UnexpectedShape {
		sentinel = ErrUnexpectedShape
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// ---------------------------------------------------------------------------
// Decode
// ---------------------------------------------------------------------------

// Decode parses one framed line. Any JSON object is accepted; field names
// and values are not validated.
func Decode(line string, capturedAt int64) (Sample, error) {
	v, err := parse([]byte(line))
	if err != nil {
		return Sample{}, &DecodeError{Kind: MalformedJSON, Line: line, Err: err}
	}
	obj, ok := v.Object()
	if !ok {
		return Sample{}, &DecodeError{Kind: UnexpectedShape, Line: line, Got: v.Kind()}
	}
	return Sample{Timestamp: capturedAt, Data: obj}, nil
}
