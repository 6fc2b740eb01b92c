package relay

import (
	"errors"
	"fmt"
)

// Messages carried by the final error event when the relay itself fails.
const (
	msgConnectionError   = "WebSocket connection error"
	msgConnectionTimeout = "WebSocket connection timeout"
	msgConnectFailed     = "Failed to connect to ChatKit WebSocket"
	msgUnknownProvider   = "Unknown error from ChatKit"
)

var (
	// ErrTransport means the socket failed or closed before the response completed.
	ErrTransport = errors.New("chatkit socket closed before completion")
	// ErrCallerGone means the output stream went away mid-relay.
	ErrCallerGone = errors.New("caller disconnected")
	// ErrTimeout means AuthAck did not arrive before the connect deadline.
	ErrTimeout = errors.New("chatkit session not authenticated before deadline")
)

// ProviderError is an error reported by the provider over the session socket.
type ProviderError struct {
	Message string
	Code    string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return "chatkit provider error: " + e.Message
	}
	return fmt.Sprintf("chatkit provider error (%s): %s", e.Code, e.Message)
}
