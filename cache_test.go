package wetty

import (
	"fmt"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

func confirmedMsg(chatID, id ID, body string) Message {
	b := body
	return Message{
		ID:        id,
		Body:      &b,
		Kind:      "text",
		SenderUID: 7,
		ChatID:    chatID,
		CreatedAt: time.Now().UTC(),
	}
}

func provisionalMsg(chatID ID, cgid, body string) Message {
	m := confirmedMsg(chatID, ProvisionalID, body)
	m.ClientGeneratedID = cgid
	return m
}

func bodies(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		if m.Body != nil {
			out[i] = *m.Body
		}
	}
	return out
}

func assertBodies(t *testing.T, got []Message, want ...string) {
	t.Helper()
	gb := bodies(got)
	if len(gb) != len(want) {
		t.Fatalf("got %d messages %v, want %d %v", len(gb), gb, len(want), want)
	}
	for i := range want {
		if gb[i] != want[i] {
			t.Fatalf("message %d = %q, want %q (all: %v)", i, gb[i], want[i], gb)
		}
	}
}

// ============================================================================
// Append / dedup
// ============================================================================

func TestStoreAppend(t *testing.T) {
	t.Run("keeps arrival order", func(t *testing.T) {
		s := NewStore()
		s.Append(confirmedMsg("1", "10", "a"))
		s.Append(confirmedMsg("1", "11", "b"))
		s.Append(confirmedMsg("2", "12", "other chat"))

		assertBodies(t, s.Messages("1"), "a", "b")
		assertBodies(t, s.Messages("2"), "other chat")
	})

	t.Run("duplicate confirmed id is a no-op", func(t *testing.T) {
		s := NewStore()
		s.Append(confirmedMsg("1", "10", "a"))
		s.Append(confirmedMsg("1", "10", "a redelivered"))

		assertBodies(t, s.Messages("1"), "a")
	})

	t.Run("duplicate client_generated_id is a no-op", func(t *testing.T) {
		s := NewStore()
		s.Append(provisionalMsg("1", "cg1", "hi"))

		// The confirmed copy arriving through Append instead of
		// ConfirmPending must still not create a second entry.
		m := confirmedMsg("1", "42", "hi")
		m.ClientGeneratedID = "cg1"
		s.Append(m)

		if n := s.Len("1"); n != 1 {
			t.Fatalf("got %d entries, want 1", n)
		}
	})

	t.Run("provisional entries never collide on sentinel id", func(t *testing.T) {
		s := NewStore()
		s.Append(provisionalMsg("1", "cg1", "first"))
		s.Append(provisionalMsg("1", "cg2", "second"))

		assertBodies(t, s.Messages("1"), "first", "second")
	})
}

// ============================================================================
// Confirmation
// ============================================================================

func TestStoreConfirmPending(t *testing.T) {
	t.Run("replaces in place and preserves position", func(t *testing.T) {
		s := NewStore()
		s.Append(confirmedMsg("1", "40", "before"))
		s.Append(provisionalMsg("1", "cg1", "hi"))
		s.Append(confirmedMsg("1", "41", "after"))

		confirmed := confirmedMsg("1", "42", "hi")
		confirmed.ClientGeneratedID = "cg1"
		if !s.ConfirmPending("1", confirmed) {
			t.Fatal("ConfirmPending returned false for a live provisional entry")
		}

		msgs := s.Messages("1")
		assertBodies(t, msgs, "before", "hi", "after")
		if msgs[1].ID != "42" {
			t.Fatalf("confirmed id = %s, want 42", msgs[1].ID)
		}
		if !msgs[1].Confirmed() {
			t.Fatal("entry still provisional after confirmation")
		}
	})

	t.Run("second confirmation is a no-op", func(t *testing.T) {
		s := NewStore()
		s.Append(provisionalMsg("1", "cg1", "hi"))

		confirmed := confirmedMsg("1", "42", "hi")
		confirmed.ClientGeneratedID = "cg1"
		if !s.ConfirmPending("1", confirmed) {
			t.Fatal("first confirmation failed")
		}
		if s.ConfirmPending("1", confirmed) {
			t.Fatal("second confirmation reported success; the fallback path must be a no-op after push wins")
		}
		if n := s.Len("1"); n != 1 {
			t.Fatalf("got %d entries, want 1", n)
		}
	})

	t.Run("unknown client_generated_id does nothing", func(t *testing.T) {
		s := NewStore()
		s.Append(confirmedMsg("1", "10", "a"))

		confirmed := confirmedMsg("1", "42", "hi")
		confirmed.ClientGeneratedID = "not-here"
		if s.ConfirmPending("1", confirmed) {
			t.Fatal("ConfirmPending matched a missing entry")
		}
		assertBodies(t, s.Messages("1"), "a")
	})
}

// Push confirmation and a duplicate push of the same confirmed message, in
// either order, must leave exactly one live entry.
func TestStoreConfirmThenDuplicatePush(t *testing.T) {
	confirmed := confirmedMsg("1", "42", "hi")
	confirmed.ClientGeneratedID = "cg1"

	t.Run("confirm then append", func(t *testing.T) {
		s := NewStore()
		s.Append(provisionalMsg("1", "cg1", "hi"))
		s.ConfirmPending("1", confirmed)
		s.Append(confirmed)
		if n := s.Len("1"); n != 1 {
			t.Fatalf("got %d entries, want 1", n)
		}
	})

	t.Run("duplicate without client id dedups on id", func(t *testing.T) {
		s := NewStore()
		s.Append(provisionalMsg("1", "cg1", "hi"))
		s.ConfirmPending("1", confirmed)

		// Some redeliveries drop the client_generated_id.
		bare := confirmedMsg("1", "42", "hi")
		s.Append(bare)
		if n := s.Len("1"); n != 1 {
			t.Fatalf("got %d entries, want 1", n)
		}
	})
}

// ============================================================================
// Pagination
// ============================================================================

func TestStorePrepend(t *testing.T) {
	t.Run("inserts older history before the head", func(t *testing.T) {
		s := NewStore()
		s.ReplaceAll("1", []Message{
			confirmedMsg("1", "20", "c"),
			confirmedMsg("1", "21", "d"),
		})
		s.Prepend("1", []Message{
			confirmedMsg("1", "10", "a"),
			confirmedMsg("1", "11", "b"),
		})

		assertBodies(t, s.Messages("1"), "a", "b", "c", "d")
	})

	t.Run("skips entries already present", func(t *testing.T) {
		s := NewStore()
		s.ReplaceAll("1", []Message{
			confirmedMsg("1", "11", "b"),
			confirmedMsg("1", "20", "c"),
		})
		s.Prepend("1", []Message{
			confirmedMsg("1", "10", "a"),
			confirmedMsg("1", "11", "b overlapping"),
		})

		assertBodies(t, s.Messages("1"), "a", "b", "c")
	})

	t.Run("fully overlapping batch does not notify", func(t *testing.T) {
		s := NewStore()
		s.ReplaceAll("1", []Message{confirmedMsg("1", "10", "a")})

		fired := 0
		s.OnChange(func(ID) { fired++ })
		s.Prepend("1", []Message{confirmedMsg("1", "10", "a")})
		if fired != 0 {
			t.Fatalf("change fired %d times for a no-op prepend", fired)
		}
	})
}

func TestStoreCursor(t *testing.T) {
	s := NewStore()
	if s.Cursor("1") != nil {
		t.Fatal("fresh chat has a cursor")
	}
	cur := ID("10")
	s.SetCursor("1", &cur)
	if got := s.Cursor("1"); got == nil || *got != "10" {
		t.Fatalf("cursor = %v, want 10", got)
	}
	s.SetCursor("1", nil)
	if s.Cursor("1") != nil {
		t.Fatal("cursor survived nil reset")
	}
}

// ============================================================================
// Edit / delete / rollback / reset
// ============================================================================

func TestStoreMarkEdited(t *testing.T) {
	s := NewStore()
	s.Append(confirmedMsg("1", "10", "original"))

	body := "edited"
	at := time.Now().UTC()
	s.MarkEdited("1", "10", &body, &at)

	msgs := s.Messages("1")
	assertBodies(t, msgs, "edited")
	if msgs[0].UpdatedAt == nil || !msgs[0].UpdatedAt.Equal(at) {
		t.Fatalf("updated_at = %v, want %v", msgs[0].UpdatedAt, at)
	}
}

func TestStoreMarkDeleted(t *testing.T) {
	s := NewStore()
	s.Append(confirmedMsg("1", "10", "secret"))

	at := time.Now().UTC()
	s.MarkDeleted("1", "10", at)

	msgs := s.Messages("1")
	if len(msgs) != 1 {
		t.Fatalf("got %d entries, want 1 tombstone", len(msgs))
	}
	if !msgs[0].Deleted() {
		t.Fatal("entry not tombstoned")
	}
	if msgs[0].Body != nil {
		t.Fatalf("deleted message retained body %q", *msgs[0].Body)
	}
}

func TestStoreRemoveByClientID(t *testing.T) {
	s := NewStore()
	s.Append(confirmedMsg("1", "10", "a"))
	s.Append(provisionalMsg("1", "cg1", "failed send"))

	s.RemoveByClientID("1", "cg1")
	assertBodies(t, s.Messages("1"), "a")

	// Unknown id is harmless.
	s.RemoveByClientID("1", "cg9")
	assertBodies(t, s.Messages("1"), "a")
}

func TestStoreReset(t *testing.T) {
	s := NewStore()
	s.Append(confirmedMsg("1", "10", "a"))
	cur := ID("10")
	s.SetCursor("1", &cur)

	s.Reset("1")
	if s.Len("1") != 0 {
		t.Fatal("window survived reset")
	}
	if s.Cursor("1") != nil {
		t.Fatal("cursor survived reset")
	}
}

func TestStoreHasProvisional(t *testing.T) {
	s := NewStore()
	s.Append(provisionalMsg("1", "cg1", "hi"))
	if !s.HasProvisional("1", "cg1") {
		t.Fatal("provisional entry not visible")
	}

	confirmed := confirmedMsg("1", "42", "hi")
	confirmed.ClientGeneratedID = "cg1"
	s.ConfirmPending("1", confirmed)
	if s.HasProvisional("1", "cg1") {
		t.Fatal("entry still provisional after confirmation")
	}
}

// ============================================================================
// Notifications
// ============================================================================

func TestStoreOnChange(t *testing.T) {
	s := NewStore()
	var events []ID
	s.OnChange(func(chatID ID) { events = append(events, chatID) })

	s.Append(confirmedMsg("1", "10", "a"))
	s.Append(confirmedMsg("2", "11", "b"))
	s.Append(confirmedMsg("1", "10", "a duplicate"))

	if len(events) != 2 || events[0] != "1" || events[1] != "2" {
		t.Fatalf("events = %v, want [1 2]", events)
	}
}

// The callback must run outside the store lock so observers can read back.
func TestStoreOnChangeReentrant(t *testing.T) {
	s := NewStore()
	done := make(chan int, 1)
	s.OnChange(func(chatID ID) {
		done <- s.Len(chatID)
	})
	s.Append(confirmedMsg("1", "10", "a"))

	select {
	case n := <-done:
		if n != 1 {
			t.Fatalf("observer saw %d entries, want 1", n)
		}
	case <-time.After(time.Second):
		t.Fatal("observer deadlocked reading the store")
	}
}

func TestStoreSnapshotIsolation(t *testing.T) {
	s := NewStore()
	s.Append(confirmedMsg("1", "10", "a"))

	snap := s.Messages("1")
	mutated := "mutated"
	snap[0].Body = &mutated

	assertBodies(t, s.Messages("1"), "a")
}

func TestStoreManyChats(t *testing.T) {
	s := NewStore()
	for i := 0; i < 5; i++ {
		chat := ID(fmt.Sprintf("%d", i))
		s.Append(confirmedMsg(chat, ID(fmt.Sprintf("%d", 100+i)), "m"))
	}
	for i := 0; i < 5; i++ {
		if n := s.Len(ID(fmt.Sprintf("%d", i))); n != 1 {
			t.Fatalf("chat %d has %d entries, want 1", i, n)
		}
	}
}
