package message

import "github.com/danmuck/twinctl/internal/protocol/envelope"

// Full names of the message package's own envelope types.
const (
	nameNumber32    = "twinctl.v1.Number32"
	nameNumber64    = "twinctl.v1.Number64"
	nameIdentifiers = "twinctl.v1.Identifiers"
	nameValueList   = "twinctl.v1.ValueList"
)

func typeURL(name string) string {
	return envelope.TypeURLPrefix + name
}

var (
	TypeURLNumber32    = typeURL(nameNumber32)
	TypeURLNumber64    = typeURL(nameNumber64)
	TypeURLIdentifiers = typeURL(nameIdentifiers)
	TypeURLValueList   = typeURL(nameValueList)
)
