package twin

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/twinctl/internal/protocol/message"
)

// Host performs the simulation work behind the protocol. Values passed in and returned
// are registry values: message numbers and lists or protobuf messages. Calls for one
// session never overlap.
type Host interface {
	Initialize(ctx context.Context, req message.Initialize) error
	Start(ctx context.Context, req message.Start) error
	Stop(ctx context.Context, req message.Stop) error
	Advance(ctx context.Context, step message.Step) error
	SetInput(ctx context.Context, name string, value any) error
	GetOutput(ctx context.Context, name string) (any, error)
	SetParameter(ctx context.Context, name string, value any) error
	GetParameter(ctx context.Context, name string) (any, error)
	Describe(ctx context.Context) (message.ModelInfo, error)
}

// HostError lets a host choose the response code for a rejected operation.
type HostError struct {
	Code    message.ReturnCode
	Message string
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host: %s: %s", e.Code, e.Message)
}

func NewHostError(code message.ReturnCode, format string, args ...any) *HostError {
	return &HostError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// hostFailure maps a host error to a response. Plain errors and host codes outside the
// protocol's range become CodeError.
func hostFailure(err error) message.Response {
	var he *HostError
	if errors.As(err, &he) && he.Code != message.CodeSuccess {
		if !he.Code.Valid() {
			return message.Failure(message.CodeError, "host code %d: %s", uint32(he.Code), he.Message)
		}
		return message.Response{Code: he.Code, Message: he.Message}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return message.Response{Code: message.CodeError, Message: "host call timed out"}
	}
	return message.Response{Code: message.CodeError, Message: err.Error()}
}
