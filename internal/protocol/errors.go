package protocol

import "errors"

// ErrSerialization is the class every decode failure belongs to; callers can
// test for it with errors.Is regardless of the specific cause.
var ErrSerialization = errors.New("protocol: serialization error")

var (
	ErrTruncated     = serializationError("truncated payload")
	ErrTrailingData  = serializationError("trailing bytes after message")
	ErrUnknownKind   = serializationError("unknown message kind")
	ErrInvalidPeerID = serializationError("peer id 0 is reserved")
	ErrStringTooLong = serializationError("string exceeds 65535 bytes")
	ErrInvalidUTF8   = serializationError("string is not valid UTF-8")
	ErrNilMessage    = errors.New("protocol: nil message")
)

type codecError struct {
	msg string
}

func serializationError(msg string) error {
	return &codecError{msg: msg}
}

func (e *codecError) Error() string { return "protocol: " + e.msg }

func (e *codecError) Is(target error) bool { return target == ErrSerialization }
