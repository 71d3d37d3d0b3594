package client

import "fmt"

// Kind classifies failures so callers can map them to exit behavior without
// string matching.
type Kind string

const (
	// KindArgument is a malformed URL, data flag or header flag.
	KindArgument Kind = "argument"
	// KindTransport is a network or HTTP-level delivery failure.
	KindTransport Kind = "transport"
	// KindAuth is a credential acquisition or refresh failure.
	KindAuth Kind = "auth"
	// KindProtocol is a JSON-RPC error returned by the server.
	KindProtocol Kind = "protocol"
)

// Error is the classified failure surface of Execute. ProtocolCode is set
// only for KindProtocol.
type Error struct {
	Kind         Kind
	Message      string
	ProtocolCode int
}

func (e *Error) Error() string {
	return e.Message
}

func argumentError(err error) *Error {
	return &Error{Kind: KindArgument, Message: err.Error()}
}

func transportError(err error) *Error {
	return &Error{Kind: KindTransport, Message: err.Error()}
}

func authError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuth, Message: fmt.Sprintf(format, args...)}
}

func protocolError(code int, message string) *Error {
	return &Error{
		Kind:         KindProtocol,
		Message:      fmt.Sprintf("server returned error %d: %s", code, message),
		ProtocolCode: code,
	}
}
