package message

import (
	"fmt"

	"github.com/danmuck/twinctl/internal/protocol/envelope"
)

type ReturnCode uint32

const (
	CodeSuccess ReturnCode = iota
	CodeError
	CodeInvalidState
	CodeDecodeFailure
	CodeUnknownOption
	CodeInvalidOption
)

func (c ReturnCode) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeError:
		return "error"
	case CodeInvalidState:
		return "invalid_state"
	case CodeDecodeFailure:
		return "decode_failure"
	case CodeUnknownOption:
		return "unknown_option"
	case CodeInvalidOption:
		return "invalid_option"
	default:
		return fmt.Sprintf("code(%d)", uint32(c))
	}
}

func (c ReturnCode) Valid() bool {
	return c <= CodeInvalidOption
}

// Response answers exactly one request. Payload is nil when the operation returns nothing.
type Response struct {
	Code    ReturnCode
	Message string
	Payload *envelope.Envelope
}

func (r Response) OK() bool {
	return r.Code == CodeSuccess
}

func Success(payload *envelope.Envelope) Response {
	return Response{Code: CodeSuccess, Payload: payload}
}

func Failure(code ReturnCode, format string, args ...any) Response {
	return Response{Code: code, Message: fmt.Sprintf(format, args...)}
}
