package wetty

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a server-reported error.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wetty: server returned %d: %s", e.Status, e.Message)
}

// ID is a server-assigned 64-bit identifier carried as a JSON string so it
// survives JavaScript clients. The server accepts and emits both forms, so
// decoding tolerates a bare number too.
type ID string

// ProvisionalID is the sentinel identifier of a message that has not been
// confirmed by the server yet.
const ProvisionalID ID = "0"

func (id ID) String() string { return string(id) }

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// ============================================================================
// Messages
// ============================================================================

// Message is the canonical unit of conversation content.
//
// A message composed locally starts life with ID == ProvisionalID and is
// correlated with its server-confirmed copy through ClientGeneratedID, which
// is set once at creation time and never reused.
type Message struct {
	ID                ID            `json:"id"`
	Body              *string       `json:"message"`
	Kind              string        `json:"message_type"`
	ReplyToID         *ID           `json:"reply_to_id,omitempty"`
	ReplyRootID       *ID           `json:"reply_root_id,omitempty"`
	ClientGeneratedID string        `json:"client_generated_id"`
	SenderUID         int           `json:"sender_uid"`
	ChatID            ID            `json:"chat_id"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         *time.Time    `json:"updated_at,omitempty"`
	DeletedAt         *time.Time    `json:"deleted_at,omitempty"`
	HasAttachments    bool          `json:"has_attachments"`
	ReplyTo           *ReplyPreview `json:"reply_to_message,omitempty"`
}

// Confirmed reports whether the message carries a real server identifier.
func (m *Message) Confirmed() bool {
	return m.ID != ProvisionalID && m.ID != ""
}

// Deleted reports whether the message carries a tombstone.
func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}

// ReplyPreview is the trimmed copy of a replied-to message that the server
// inlines on list and send responses.
type ReplyPreview struct {
	ID        ID         `json:"id"`
	Body      *string    `json:"message"`
	SenderUID int        `json:"sender_uid"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// ListMessagesResponse is one page of chat history, newest first.
// NextCursor is nil when no older history remains.
type ListMessagesResponse struct {
	Messages   []Message `json:"messages"`
	NextCursor *ID       `json:"next_cursor"`
}

// ListMessagesOptions narrows a history page request.
type ListMessagesOptions struct {
	// Before restricts the page to messages strictly older than this id.
	Before ID
	// Max caps the page size; the server applies its own ceiling.
	Max int
}

// SendMessageOptions carries a message send request.
type SendMessageOptions struct {
	Body              *string `json:"message"`
	Kind              string  `json:"message_type"`
	ClientGeneratedID string  `json:"client_generated_id"`
	ReplyToID         *ID     `json:"reply_to_id,omitempty"`
	ReplyRootID       *ID     `json:"reply_root_id,omitempty"`
}

// ============================================================================
// Chats and members
// ============================================================================

// Chat is a conversation the user participates in.
type Chat struct {
	ID          ID        `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Avatar      *string   `json:"avatar,omitempty"`
	Visibility  string    `json:"visibility"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateChatOptions carries a chat creation request.
type CreateChatOptions struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Visibility  string  `json:"visibility,omitempty"`
}

// Member is a chat participant.
type Member struct {
	UID      int       `json:"uid"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// ============================================================================
// Push channel wire format
// ============================================================================

// Frame types delivered over the push channel.
const (
	FramePong           = "pong"
	FrameMessage        = "message"
	FrameMessageUpdated = "message_updated"
	FrameMessageDeleted = "message_deleted"
)

// Envelope is the wire format of every push-channel frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
