package wetty

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultFallbackDelay is how long the session waits for a push-driven
	// confirmation before reconciling a provisional message from the HTTP
	// response instead. Push is the primary confirmation path; the response
	// is the fallback when the push is lost or delayed.
	DefaultFallbackDelay = 15 * time.Second
	// DefaultPageSize is the history page size requested on loads.
	DefaultPageSize = 50
)

// Observer receives advisory change notifications. Both callbacks are
// optional; consumers pull current state through Session.Messages rather
// than receiving payloads in the event.
type Observer struct {
	OnConversationChanged func(chatID ID)
	OnConnectivityChanged func(connected bool)
}

// SendOptions carries optional fields of an outgoing message.
type SendOptions struct {
	Kind        string
	ReplyToID   *ID
	ReplyRootID *ID
}

// Session binds the API client, the push channel and the message store into
// one synchronization engine for a single user session. Construct it after
// login, Close it on logout; a user switch means a fresh Session.
type Session struct {
	client   *Client
	store    *Store
	realtime *RealtimeClient
	log      *slog.Logger

	fallbackDelay time.Duration
	pageSize      int

	mu        sync.Mutex
	observers map[int]Observer
	nextToken int
	fallbacks map[string]*time.Timer
	closed    bool
}

type SessionOption func(*Session)

// WithFallbackDelay overrides the response-fallback reconciliation delay.
func WithFallbackDelay(d time.Duration) SessionOption {
	return func(s *Session) { s.fallbackDelay = d }
}

// WithPageSize overrides the history page size.
func WithPageSize(n int) SessionOption {
	return func(s *Session) { s.pageSize = n }
}

// WithRealtimeConfig overrides the push-channel configuration.
func WithRealtimeConfig(cfg RealtimeConfig) SessionOption {
	return func(s *Session) {
		cfg.defaults()
		s.realtime = NewRealtimeClient(s.client.WSURL(), cfg)
	}
}

// NewSession creates a synchronization session on top of an API client.
func NewSession(client *Client, opts ...SessionOption) *Session {
	s := &Session{
		client:        client,
		store:         NewStore(),
		log:           client.log,
		fallbackDelay: DefaultFallbackDelay,
		pageSize:      DefaultPageSize,
		observers:     make(map[int]Observer),
		fallbacks:     make(map[string]*time.Timer),
	}
	s.realtime = NewRealtimeClient(client.WSURL(), RealtimeConfig{Logger: client.log})
	for _, opt := range opts {
		opt(s)
	}

	s.store.OnChange(s.notifyConversation)
	s.realtime.OnEnvelope(s.handleEnvelope)
	s.realtime.OnConnectivity(s.notifyConnectivity)
	return s
}

// Start opens the push channel and keeps it alive until Close.
func (s *Session) Start(ctx context.Context) {
	s.realtime.Connect(ctx)
}

// Close tears the session down: the push channel stops reconnecting and all
// pending fallback timers are cancelled so none fires on stale state.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, t := range s.fallbacks {
		t.Stop()
		delete(s.fallbacks, id)
	}
	s.mu.Unlock()

	s.realtime.Close()
}

// Store exposes the underlying message store.
func (s *Session) Store() *Store { return s.store }

// Messages returns a snapshot of a chat's loaded window, oldest first.
func (s *Session) Messages(chatID ID) []Message {
	return s.store.Messages(chatID)
}

// Connected reports whether the push channel is live.
func (s *Session) Connected() bool {
	return s.realtime.Connected()
}

// ============================================================================
// Observers
// ============================================================================

// Subscribe registers an observer and returns a token for Unsubscribe.
func (s *Session) Subscribe(obs Observer) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextToken++
	s.observers[s.nextToken] = obs
	return s.nextToken
}

// Unsubscribe removes a previously registered observer.
func (s *Session) Unsubscribe(token int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, token)
}

func (s *Session) notifyConversation(chatID ID) {
	for _, obs := range s.snapshotObservers() {
		if obs.OnConversationChanged != nil {
			obs.OnConversationChanged(chatID)
		}
	}
}

func (s *Session) notifyConnectivity(connected bool) {
	for _, obs := range s.snapshotObservers() {
		if obs.OnConnectivityChanged != nil {
			obs.OnConnectivityChanged(connected)
		}
	}
}

func (s *Session) snapshotObservers() []Observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Observer, 0, len(s.observers))
	for _, obs := range s.observers {
		out = append(out, obs)
	}
	return out
}

// ============================================================================
// Send protocol (optimistic)
// ============================================================================

// Send appends a provisional copy of the message immediately, then issues
// the request/response send. On failure the provisional entry is rolled back
// and the error returned so the caller can restore the composed text. On
// success a delayed fallback reconciliation is armed; if the push-driven
// confirmation arrives first the fallback is a no-op.
func (s *Session) Send(ctx context.Context, chatID ID, body string, opts *SendOptions) (*Message, error) {
	cgid := uuid.NewString()
	kind := "text"
	var replyTo, replyRoot *ID
	if opts != nil {
		if opts.Kind != "" {
			kind = opts.Kind
		}
		replyTo = opts.ReplyToID
		replyRoot = opts.ReplyRootID
	}

	text := body
	provisional := Message{
		ID:                ProvisionalID,
		Body:              &text,
		Kind:              kind,
		ReplyToID:         replyTo,
		ReplyRootID:       replyRoot,
		ClientGeneratedID: cgid,
		SenderUID:         s.client.UID(),
		ChatID:            chatID,
		CreatedAt:         time.Now().UTC(),
	}
	s.store.Append(provisional)

	confirmed, err := s.client.SendMessage(ctx, chatID, &SendMessageOptions{
		Body:              &text,
		Kind:              kind,
		ClientGeneratedID: cgid,
		ReplyToID:         replyTo,
		ReplyRootID:       replyRoot,
	})
	if err != nil {
		s.store.RemoveByClientID(chatID, cgid)
		return nil, fmt.Errorf("wetty: send failed: %w", err)
	}

	s.armFallback(chatID, cgid, *confirmed)
	return confirmed, nil
}

func (s *Session) armFallback(chatID ID, cgid string, confirmed Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.fallbacks[cgid]; ok {
		t.Stop()
	}
	s.fallbacks[cgid] = time.AfterFunc(s.fallbackDelay, func() {
		s.mu.Lock()
		delete(s.fallbacks, cgid)
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		if s.store.ConfirmPending(chatID, confirmed) {
			s.log.Debug("wetty: reconciled from response fallback", "chat", chatID, "cgid", cgid)
		}
	})
}

func (s *Session) cancelFallback(cgid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.fallbacks[cgid]; ok {
		t.Stop()
		delete(s.fallbacks, cgid)
	}
}

// ============================================================================
// Receive protocol
// ============================================================================

func (s *Session) handleEnvelope(env Envelope) {
	m, err := normalizeMessage(env.Payload)
	if err != nil {
		s.log.Debug("wetty: dropping push payload", "type", env.Type)
		return
	}

	switch env.Type {
	case FrameMessage:
		s.apply(*m)
	case FrameMessageUpdated:
		if m.Deleted() {
			s.store.MarkDeleted(m.ChatID, m.ID, *m.DeletedAt)
		} else {
			s.store.MarkEdited(m.ChatID, m.ID, m.Body, m.UpdatedAt)
		}
	case FrameMessageDeleted:
		deletedAt := time.Now().UTC()
		if m.DeletedAt != nil {
			deletedAt = *m.DeletedAt
		}
		s.store.MarkDeleted(m.ChatID, m.ID, deletedAt)
	}
}

// apply routes a pushed message: confirmation of a provisional entry when
// the client_generated_id matches, a genuinely new message otherwise.
// Append itself suppresses duplicates, so a redelivered frame is a no-op.
func (s *Session) apply(m Message) {
	if m.ClientGeneratedID != "" && s.store.ConfirmPending(m.ChatID, m) {
		s.cancelFallback(m.ClientGeneratedID)
		return
	}
	s.store.Append(m)
}

// ============================================================================
// Pagination protocol
// ============================================================================

// LoadInitial fetches the most recent history page and establishes the
// visible window. On failure the chat's cache is reset to empty.
func (s *Session) LoadInitial(ctx context.Context, chatID ID) error {
	resp, err := s.client.ListMessages(ctx, chatID, &ListMessagesOptions{Max: s.pageSize})
	if err != nil {
		s.store.Reset(chatID)
		return fmt.Errorf("wetty: initial load failed: %w", err)
	}
	s.store.ReplaceAll(chatID, reversed(resp.Messages))
	s.store.SetCursor(chatID, resp.NextCursor)
	return nil
}

// LoadOlder fetches the page strictly before the current cursor and prepends
// it. It reports whether further history remains. With no cursor (start of
// history already reached, or nothing loaded) it is a no-op. On failure the
// window is left untouched.
func (s *Session) LoadOlder(ctx context.Context, chatID ID) (bool, error) {
	cursor := s.store.Cursor(chatID)
	if cursor == nil {
		return false, nil
	}
	resp, err := s.client.ListMessages(ctx, chatID, &ListMessagesOptions{Before: *cursor, Max: s.pageSize})
	if err != nil {
		return true, fmt.Errorf("wetty: load older failed: %w", err)
	}
	s.store.Prepend(chatID, reversed(resp.Messages))
	s.store.SetCursor(chatID, resp.NextCursor)
	return resp.NextCursor != nil, nil
}

// reversed returns a newest-first server page in cache order, oldest first.
func reversed(in []Message) []Message {
	out := make([]Message, len(in))
	for i := range in {
		out[len(in)-1-i] = in[i]
	}
	return out
}

// ============================================================================
// Edit / delete
// ============================================================================

// Edit replaces a message's body. The cache mutates only after the server
// confirms, so a failed edit leaves local state untouched.
func (s *Session) Edit(ctx context.Context, chatID, messageID ID, body string) (*Message, error) {
	updated, err := s.client.EditMessage(ctx, chatID, messageID, body)
	if err != nil {
		return nil, fmt.Errorf("wetty: edit failed: %w", err)
	}
	s.store.MarkEdited(chatID, messageID, updated.Body, updated.UpdatedAt)
	return updated, nil
}

// Delete soft-deletes a message. The local tombstone applies only after the
// server confirms.
func (s *Session) Delete(ctx context.Context, chatID, messageID ID) error {
	if err := s.client.DeleteMessage(ctx, chatID, messageID); err != nil {
		return fmt.Errorf("wetty: delete failed: %w", err)
	}
	s.store.MarkDeleted(chatID, messageID, time.Now().UTC())
	return nil
}
