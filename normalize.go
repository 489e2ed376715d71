package wetty

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// errRejectPayload marks an inbound payload that cannot be coerced into a
// Message. Callers drop the frame; the push channel stays up.
var errRejectPayload = errors.New("wetty: unusable message payload")

// normalizeMessage coerces an untrusted push payload into a well-formed
// Message. It rejects payloads that are not objects or that carry no chat
// identifier; every other field is independently defaulted so an evolving
// server payload shape degrades to harmless zero values instead of a dropped
// connection.
func normalizeMessage(payload json.RawMessage) (*Message, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil || raw == nil {
		return nil, errRejectPayload
	}

	chatID := idOr(raw, "chat_id", "")
	if chatID == "" {
		return nil, errRejectPayload
	}

	m := &Message{
		ID:                idOr(raw, "id", ProvisionalID),
		Body:              strPtr(raw, "message"),
		Kind:              strOr(raw, "message_type", "text"),
		ClientGeneratedID: strOr(raw, "client_generated_id", ""),
		SenderUID:         intOr(raw, "sender_uid", 0),
		ChatID:            chatID,
		CreatedAt:         timeOr(raw, "created_at", time.Now().UTC()),
		UpdatedAt:         timePtr(raw, "updated_at"),
		DeletedAt:         timePtr(raw, "deleted_at"),
		HasAttachments:    boolOr(raw, "has_attachments"),
	}
	if v := idOr(raw, "reply_to_id", ""); v != "" {
		m.ReplyToID = &v
	}
	if v := idOr(raw, "reply_root_id", ""); v != "" {
		m.ReplyRootID = &v
	}
	return m, nil
}

// ── Field coercion helpers ───────────────────────────────

func strOr(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func strPtr(m map[string]any, key string) *string {
	if v, ok := m[key].(string); ok {
		return &v
	}
	return nil
}

func intOr(m map[string]any, key string, fallback int) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return fallback
}

func boolOr(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

// idOr accepts the server's string form and the bare-number form.
func idOr(m map[string]any, key string, fallback ID) ID {
	switch v := m[key].(type) {
	case string:
		if v != "" {
			return ID(v)
		}
	case float64:
		return ID(strconv.FormatInt(int64(v), 10))
	}
	return fallback
}

func timeOr(m map[string]any, key string, fallback time.Time) time.Time {
	if t := timePtr(m, key); t != nil {
		return *t
	}
	return fallback
}

func timePtr(m map[string]any, key string) *time.Time {
	v, ok := m[key].(string)
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}
