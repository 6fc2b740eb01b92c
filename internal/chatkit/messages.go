package chatkit

// Provider message types received over the session socket.
const (
	TypeSessionUpdated    = "session.updated"
	TypeResponseTextDelta = "response.text.delta"
	TypeResponseTextDone  = "response.text.done"
	TypeResponseDone      = "response.done"
	TypeError             = "error"
)

// Provider message types sent over the session socket.
const (
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
)

type ConversationItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ResponseCreate struct {
	Type string `json:"type"`
}

// UserMessage builds the conversation item carrying the caller's text.
func UserMessage(text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type: "message",
			Role: "user",
			Content: []ContentPart{
				{Type: "input_text", Text: text},
			},
		},
	}
}

// GenerateResponse asks the session to produce a response for the conversation so far.
func GenerateResponse() ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate}
}
