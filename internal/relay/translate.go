package relay

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/ent0n29/healthrelay/internal/chatkit"
	"github.com/ent0n29/healthrelay/internal/protocol"
)

// Translation is what one provider message means for the caller.
type Translation struct {
	// Type is the provider message type, empty when the message was not JSON.
	Type    string
	AuthAck bool
	Events  []protocol.Event
	// Complete marks a finished response; Events then ends with done.
	Complete bool
	Err      *ProviderError
}

// Translate maps one raw provider message to caller events. Unknown types
// and malformed messages translate to nothing.
func Translate(raw []byte, sessionID string) Translation {
	if !gjson.ValidBytes(raw) {
		return Translation{}
	}
	msg := gjson.ParseBytes(raw)
	t := Translation{Type: msg.Get("type").String()}

	switch t.Type {
	case chatkit.TypeSessionUpdated:
		t.AuthAck = true
	case chatkit.TypeResponseTextDelta:
		t.Events = []protocol.Event{protocol.ChunkEvent{
			Text:      msg.Get("delta").String(),
			SessionID: sessionID,
		}}
	case chatkit.TypeResponseTextDone:
		t.Events = []protocol.Event{protocol.TextDoneEvent{
			Text:      msg.Get("text").String(),
			SessionID: sessionID,
		}}
	case chatkit.TypeResponseDone:
		done := protocol.ResponseDoneEvent{SessionID: sessionID}
		if res := msg.Get("response"); res.Exists() {
			done.Response = json.RawMessage(res.Raw)
		}
		t.Events = []protocol.Event{done, protocol.DoneEvent{SessionID: sessionID}}
		t.Complete = true
	case chatkit.TypeError:
		perr := &ProviderError{
			Message: msg.Get("error.message").String(),
			Code:    msg.Get("error.code").String(),
		}
		if perr.Message == "" {
			perr.Message = msgUnknownProvider
		}
		t.Err = perr
		t.Events = []protocol.Event{protocol.ErrorEvent{Message: perr.Message, Code: perr.Code}}
	}
	return t
}
