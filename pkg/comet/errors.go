package comet

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("comet session closed")
	// ErrSessionFailed is returned after the live connection failed and
	// redialing is disabled. It wraps the transport error.
	ErrSessionFailed = errors.New("comet session failed")
	// ErrNoResolver is returned when a session has no target source.
	ErrNoResolver = errors.New("comet session has no resolver")
	// ErrNoHandler reports a notification for a method nobody handles.
	ErrNoHandler = errors.New("comet notification has no handler")
	// ErrUnknownReply reports a reply whose id matches no pending request.
	ErrUnknownReply = errors.New("comet reply has no pending request")
	// ErrPending is returned by Future.Result before the future completes.
	ErrPending = errors.New("comet call still pending")

	errConnReplaced = errors.New("connection replaced before the request was registered")
)

// RemoteError carries the error value a server put on a reply.
type RemoteError struct {
	ID     uint64
	Method string
	Data   json.RawMessage
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("comet call %s (id %d) failed: %s", e.Method, e.ID, string(e.Data))
}

// Decode unmarshals the server error value into v.
func (e *RemoteError) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}
