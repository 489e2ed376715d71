package wetty

import (
	"sync"
	"time"
)

// Store is the authoritative in-memory copy of each chat's message window.
//
// Messages are ordered oldest first. Within a chat a client_generated_id is
// live at most once: either as the provisional copy or as the confirmed copy,
// never both. All operations are safe for concurrent use; mutations on the
// same chat are serialized behind one mutex because append, confirm and
// prepend are not commutative with respect to duplicate detection.
type Store struct {
	mu     sync.Mutex
	chats  map[ID]*chatWindow
	notify func(chatID ID)
}

type chatWindow struct {
	messages []Message
	cursor   *ID
}

// NewStore creates an empty message store.
func NewStore() *Store {
	return &Store{chats: make(map[ID]*chatWindow)}
}

// OnChange registers the advisory change callback. It fires after every
// mutation with the affected chat id, outside the store lock. A nil callback
// disables notifications.
func (s *Store) OnChange(fn func(chatID ID)) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

func (s *Store) window(chatID ID) *chatWindow {
	w := s.chats[chatID]
	if w == nil {
		w = &chatWindow{}
		s.chats[chatID] = w
	}
	return w
}

func (s *Store) changed(chatID ID) {
	fn := s.notify
	s.mu.Unlock()
	if fn != nil {
		fn(chatID)
	}
}

// ReplaceAll establishes the full visible window for a chat, oldest first.
func (s *Store) ReplaceAll(chatID ID, messages []Message) {
	s.mu.Lock()
	w := s.window(chatID)
	w.messages = append([]Message(nil), messages...)
	s.changed(chatID)
}

// Append adds a message at the tail. It is a no-op when an entry with the
// same client_generated_id already exists (a racing confirmation) or, among
// confirmed entries, the same id (a duplicate push).
func (s *Store) Append(m Message) {
	s.mu.Lock()
	w := s.window(m.ChatID)
	if w.contains(&m) {
		s.mu.Unlock()
		return
	}
	w.messages = append(w.messages, m)
	s.changed(m.ChatID)
}

// Prepend inserts a batch of older history, oldest first, before the current
// head. Entries already present in the window are skipped defensively even
// though pagination batches are disjoint by contract.
func (s *Store) Prepend(chatID ID, messages []Message) {
	s.mu.Lock()
	w := s.window(chatID)
	fresh := make([]Message, 0, len(messages))
	for i := range messages {
		if !w.contains(&messages[i]) {
			fresh = append(fresh, messages[i])
		}
	}
	if len(fresh) == 0 {
		s.mu.Unlock()
		return
	}
	w.messages = append(fresh, w.messages...)
	s.changed(chatID)
}

// ConfirmPending replaces the provisional entry matching
// confirmed.ClientGeneratedID in place, preserving its position. It reports
// whether a provisional entry was found; false means the provisional copy was
// already superseded and the call was a no-op.
func (s *Store) ConfirmPending(chatID ID, confirmed Message) bool {
	s.mu.Lock()
	w := s.window(chatID)
	for i := range w.messages {
		e := &w.messages[i]
		if !e.Confirmed() && e.ClientGeneratedID != "" && e.ClientGeneratedID == confirmed.ClientGeneratedID {
			w.messages[i] = confirmed
			s.changed(chatID)
			return true
		}
	}
	s.mu.Unlock()
	return false
}

// MarkEdited mutates an existing entry's body in place.
func (s *Store) MarkEdited(chatID, messageID ID, body *string, updatedAt *time.Time) {
	s.mu.Lock()
	w := s.window(chatID)
	for i := range w.messages {
		if w.messages[i].ID == messageID {
			w.messages[i].Body = body
			w.messages[i].UpdatedAt = updatedAt
			s.changed(chatID)
			return
		}
	}
	s.mu.Unlock()
}

// MarkDeleted tombstones an existing entry in place.
func (s *Store) MarkDeleted(chatID, messageID ID, deletedAt time.Time) {
	s.mu.Lock()
	w := s.window(chatID)
	for i := range w.messages {
		if w.messages[i].ID == messageID {
			w.messages[i].DeletedAt = &deletedAt
			w.messages[i].Body = nil
			s.changed(chatID)
			return
		}
	}
	s.mu.Unlock()
}

// RemoveByClientID rolls back a provisional entry whose send failed.
func (s *Store) RemoveByClientID(chatID ID, clientGeneratedID string) {
	s.mu.Lock()
	w := s.window(chatID)
	for i := range w.messages {
		if w.messages[i].ClientGeneratedID == clientGeneratedID {
			w.messages = append(w.messages[:i], w.messages[i+1:]...)
			s.changed(chatID)
			return
		}
	}
	s.mu.Unlock()
}

// Reset clears a chat's window and cursor.
func (s *Store) Reset(chatID ID) {
	s.mu.Lock()
	delete(s.chats, chatID)
	s.changed(chatID)
}

// HasProvisional reports whether a provisional entry with the given
// client_generated_id is currently live in the chat.
func (s *Store) HasProvisional(chatID ID, clientGeneratedID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.chats[chatID]
	if w == nil {
		return false
	}
	for i := range w.messages {
		e := &w.messages[i]
		if !e.Confirmed() && e.ClientGeneratedID == clientGeneratedID {
			return true
		}
	}
	return false
}

// Messages returns a snapshot copy of a chat's window, oldest first.
func (s *Store) Messages(chatID ID) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.chats[chatID]
	if w == nil {
		return nil
	}
	return append([]Message(nil), w.messages...)
}

// Len returns the number of loaded messages for a chat.
func (s *Store) Len(chatID ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.chats[chatID]
	if w == nil {
		return 0
	}
	return len(w.messages)
}

// SetCursor records the pagination cursor for a chat; nil means the start of
// history has been reached.
func (s *Store) SetCursor(chatID ID, cursor *ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window(chatID).cursor = cursor
}

// Cursor returns the pagination cursor for a chat, nil when no older history
// remains (or nothing has been loaded).
func (s *Store) Cursor(chatID ID) *ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.chats[chatID]
	if w == nil {
		return nil
	}
	return w.cursor
}

// contains reports whether an equivalent entry is already live: same
// client_generated_id, or same id among confirmed entries.
func (w *chatWindow) contains(m *Message) bool {
	for i := range w.messages {
		e := &w.messages[i]
		if m.ClientGeneratedID != "" && e.ClientGeneratedID == m.ClientGeneratedID {
			return true
		}
		if m.Confirmed() && e.ID == m.ID {
			return true
		}
	}
	return false
}
