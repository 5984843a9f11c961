package history

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

// fillStore appends 25 user messages to sess-1 over chunks of 10 and
// returns the store. Message i has content "message i", 1-based.
func fillStore(t *testing.T) *Store {
	t.Helper()
	store, _ := newTestStore(t, Config{MaxMessagesPerChunk: 10})
	fill(t, store, "sess-1", 25)
	return store
}

// contents projects messages onto their content strings for comparison.
func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

// wantMessages builds the expected contents for the inclusive ordinal range
// [from, to].
func wantMessages(from, to int) []string {
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("message %d", i))
	}
	return out
}

func assertContents(t *testing.T, got []Message, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d messages %v, want %d %v", len(got), contents(got), len(want), want)
	}
	for i := range want {
		if got[i].Content != want[i] {
			t.Errorf("message[%d] = %q, want %q", i, got[i].Content, want[i])
		}
	}
}

// ============================================================================
// Full Reconstruction Tests
// ============================================================================

func TestConversation(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown session yields empty", func(t *testing.T) {
		store, _ := newTestStore(t, Config{})
		msgs, err := store.Conversation(ctx, "no-such-session")
		if err != nil {
			t.Fatalf("Conversation() error = %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("messages = %v, want empty", msgs)
		}
	})

	t.Run("returns all messages across chunks in order", func(t *testing.T) {
		store := fillStore(t)
		msgs, err := store.Conversation(ctx, "sess-1")
		if err != nil {
			t.Fatalf("Conversation() error = %v", err)
		}
		assertContents(t, msgs, wantMessages(1, 25))
	})

	t.Run("skips missing chunks", func(t *testing.T) {
		store := fillStore(t)
		docs := store.docs
		if err := docs.Delete(ctx, "sess-1", "sess-1_chunk_2"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}

		msgs, err := store.Conversation(ctx, "sess-1")
		if err != nil {
			t.Fatalf("Conversation() error = %v", err)
		}
		want := append(wantMessages(1, 10), wantMessages(21, 25)...)
		assertContents(t, msgs, want)
	})

	t.Run("re-sorts by timestamp across chunks", func(t *testing.T) {
		store, docs := newTestStore(t, Config{MaxMessagesPerChunk: 10})
		if _, err := store.CreateSession(ctx, "sess-1", "farmer-1"); err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}

		// Write two chunks directly with interleaved timestamps, as two
		// racing writers could leave behind.
		base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
		mkChunk := func(number int, offsets ...int) *Chunk {
			c := newChunk("sess-1", number, 1)
			for _, o := range offsets {
				c.Messages = append(c.Messages, Message{
					ID:        uuid.New(),
					Role:      RoleUser,
					Content:   fmt.Sprintf("t+%d", o),
					Timestamp: base.Add(time.Duration(o) * time.Second),
				})
			}
			c.MessageCount = len(c.Messages)
			return c
		}
		for _, c := range []*Chunk{mkChunk(1, 0, 3), mkChunk(2, 1, 2)} {
			body, _ := json.Marshal(c)
			if _, err := docs.Create(ctx, "sess-1", c.ID, body); err != nil {
				t.Fatalf("Create(%s) error = %v", c.ID, err)
			}
			if _, err := store.updateSession(ctx, "sess-1", func(se *Session) {
				se.Chunks = append(se.Chunks, c.ID)
				se.CurrentChunk = c.ID
			}); err != nil {
				t.Fatalf("updateSession() error = %v", err)
			}
		}

		msgs, err := store.Conversation(ctx, "sess-1")
		if err != nil {
			t.Fatalf("Conversation() error = %v", err)
		}
		assertContents(t, msgs, []string{"t+0", "t+1", "t+2", "t+3"})
	})
}

// ============================================================================
// Tail Window Tests
// ============================================================================

func TestLastN(t *testing.T) {
	ctx := context.Background()
	store := fillStore(t)

	tests := []struct {
		name string
		n    int
		want []string
	}{
		{"zero yields empty", 0, nil},
		{"negative yields empty", -3, nil},
		{"tail within last chunk", 3, wantMessages(23, 25)},
		{"tail spanning chunk boundary", 6, wantMessages(20, 25)},
		{"tail spanning all chunks", 22, wantMessages(4, 25)},
		{"n beyond total returns everything", 100, wantMessages(1, 25)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := store.LastN(ctx, "sess-1", tt.n)
			if err != nil {
				t.Fatalf("LastN(%d) error = %v", tt.n, err)
			}
			assertContents(t, msgs, tt.want)
		})
	}

	t.Run("unknown session yields empty", func(t *testing.T) {
		msgs, err := store.LastN(ctx, "no-such-session", 6)
		if err != nil {
			t.Fatalf("LastN() error = %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("messages = %v, want empty", msgs)
		}
	})
}

// ============================================================================
// Pagination Tests
// ============================================================================

func TestPage(t *testing.T) {
	ctx := context.Background()
	store := fillStore(t)

	tests := []struct {
		name   string
		offset int
		limit  int
		want   []string
	}{
		{"most recent page", 0, 10, wantMessages(16, 25)},
		{"one page back", 10, 10, wantMessages(6, 15)},
		{"clipped first page", 20, 10, wantMessages(1, 5)},
		{"offset at total yields empty", 25, 10, nil},
		{"offset beyond total yields empty", 40, 10, nil},
		{"limit beyond total returns everything", 0, 100, wantMessages(1, 25)},
		{"negative offset yields empty", -1, 10, nil},
		{"zero limit yields empty", 0, 0, nil},
		{"negative limit yields empty", 0, -5, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := store.Page(ctx, "sess-1", tt.offset, tt.limit)
			if err != nil {
				t.Fatalf("Page(%d, %d) error = %v", tt.offset, tt.limit, err)
			}
			assertContents(t, msgs, tt.want)
		})
	}

	t.Run("consecutive pages tile the history", func(t *testing.T) {
		var all []Message
		for offset := 20; offset >= 0; offset -= 10 {
			page, err := store.Page(ctx, "sess-1", offset, 10)
			if err != nil {
				t.Fatalf("Page(%d, 10) error = %v", offset, err)
			}
			all = append(all, page...)
		}
		assertContents(t, all, wantMessages(1, 25))
	})

	t.Run("unknown session yields empty", func(t *testing.T) {
		msgs, err := store.Page(ctx, "no-such-session", 0, 10)
		if err != nil {
			t.Fatalf("Page() error = %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("messages = %v, want empty", msgs)
		}
	})
}
