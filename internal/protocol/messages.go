package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// EventName identifies server-sent event variants delivered to the caller.
type EventName string

const (
	EventSession      EventName = "session"
	EventChunk        EventName = "chunk"
	EventTextDone     EventName = "text_done"
	EventResponseDone EventName = "response_done"
	EventError        EventName = "error"
	EventDone         EventName = "done"
)

// DefaultUserID is used when the caller identifies neither a user nor a device.
const DefaultUserID = "anonymous"

var (
	ErrInvalidJSON    = errors.New("invalid JSON in request body")
	ErrMissingMessage = errors.New("message is required")
)

// Event is one unit of the normalized outbound stream.
type Event interface {
	Name() EventName
}

type SessionEvent struct {
	SessionID  string `json:"sessionId"`
	UserID     string `json:"userId"`
	WorkflowID string `json:"workflowId"`
}

type ChunkEvent struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
}

type TextDoneEvent struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
}

type ResponseDoneEvent struct {
	SessionID string          `json:"sessionId"`
	Response  json.RawMessage `json:"response,omitempty"`
}

type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type DoneEvent struct {
	SessionID string `json:"sessionId"`
}

func (SessionEvent) Name() EventName      { return EventSession }
func (ChunkEvent) Name() EventName        { return EventChunk }
func (TextDoneEvent) Name() EventName     { return EventTextDone }
func (ResponseDoneEvent) Name() EventName { return EventResponseDone }
func (ErrorEvent) Name() EventName        { return EventError }
func (DoneEvent) Name() EventName         { return EventDone }

// EncodeSSE renders ev as a single server-sent event frame:
// "event: <name>\ndata: <json>\n\n".
func EncodeSSE(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Name(), err)
	}
	var buf bytes.Buffer
	buf.Grow(len(data) + len(ev.Name()) + 16)
	buf.WriteString("event: ")
	buf.WriteString(string(ev.Name()))
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// WriteSSE encodes ev and writes the frame to w.
func WriteSSE(w io.Writer, ev Event) error {
	frame, err := EncodeSSE(ev)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// CallerMessage is the parsed inbound relay request.
type CallerMessage struct {
	Text   string
	UserID string
	Stream bool
}

type callerRequest struct {
	Message  string `json:"message"`
	User     string `json:"user"`
	DeviceID string `json:"deviceId"`
	Stream   *bool  `json:"stream"`
}

// ParseCallerMessage decodes a relay request body. An empty body is treated
// as an empty object so the missing message is reported instead.
func ParseCallerMessage(raw []byte) (CallerMessage, error) {
	var req callerRequest
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			return CallerMessage{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
	}
	if req.Message == "" {
		return CallerMessage{}, ErrMissingMessage
	}

	userID := req.User
	if userID == "" {
		userID = req.DeviceID
	}
	if strings.TrimSpace(userID) == "" {
		userID = DefaultUserID
	}

	stream := true
	if req.Stream != nil {
		stream = *req.Stream
	}

	return CallerMessage{
		Text:   req.Message,
		UserID: userID,
		Stream: stream,
	}, nil
}
