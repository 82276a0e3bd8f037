package message

import (
	"errors"
	"fmt"

	"github.com/danmuck/twinctl/internal/protocol/envelope"
)

var (
	ErrEmptyBuffer          = errors.New("message: empty buffer")
	ErrUnsupportedVersion   = errors.New("message: unsupported schema version")
	ErrMultipleVariants     = errors.New("message: more than one request variant set")
	ErrMultipleAlternatives = errors.New("message: more than one number alternative set")
	ErrMissingStep          = errors.New("message: advance carries no step")
	ErrLengthMismatch       = errors.New("message: identifiers and values length mismatch")
	ErrUnknownReturnCode    = errors.New("message: unknown return code")
)

// DecodeError reports a payload that could not be turned into a message. It always
// classifies as envelope.ErrMalformed so callers can treat schema and envelope failures alike.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("message: decode %s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == envelope.ErrMalformed
}

func decodeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DecodeError{Op: op, Err: err}
}
