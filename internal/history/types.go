package history

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role constants define valid message roles for type safety.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Document type discriminators, stored alongside the payload so session and
// chunk documents sharing a partition stay distinguishable.
const (
	docTypeSession = "session"
	docTypeChunk   = "chunk"
)

// Attachment references an uploaded artifact (image, audio clip) carried by
// a message. The blob itself lives elsewhere; only the reference is stored.
type Attachment struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Message is a single conversation turn. Messages are immutable once
// appended; the store never edits or deletes them.
type Message struct {
	ID          uuid.UUID    `json:"id"`
	Role        string       `json:"role"` // "user" | "assistant"
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"` // UTC
	Attachments []Attachment `json:"attachments"`
}

// Chunk is a bounded, ordered segment of a session's messages and the unit
// of storage-level partitioning. Chunk ids follow "<session>_chunk_<n>" with
// n contiguous from 1.
type Chunk struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	SessionID    string    `json:"session_id"`
	ChunkNumber  int       `json:"chunk_number"`
	MessageCount int       `json:"message_count"`
	MessageRange string    `json:"message_range"` // "<first>-<last>", 1-based ordinals; display only
	Messages     []Message `json:"messages"`
}

// Session is the metadata record for one conversation: which chunks hold its
// messages and where the next append goes.
type Session struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	UserID       string    `json:"user_id"`
	MessageCount int       `json:"message_count"`
	Chunks       []string  `json:"chunks"`        // chunk ids in allocation order
	CurrentChunk string    `json:"current_chunk"` // "" = no chunk yet, else last of Chunks
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// chunkID builds the storage id for chunk n of a session.
func chunkID(sessionID string, n int) string {
	return fmt.Sprintf("%s_chunk_%d", sessionID, n)
}

// newSession builds a fresh session document.
func newSession(sessionID, userID string, now time.Time) *Session {
	return &Session{
		ID:        sessionID,
		Type:      docTypeSession,
		UserID:    userID,
		Chunks:    []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// newChunk builds an empty chunk. rangeStart is the 1-based ordinal of the
// first message the chunk is expected to hold, used to seed MessageRange.
func newChunk(sessionID string, number, rangeStart int) *Chunk {
	return &Chunk{
		ID:           chunkID(sessionID, number),
		Type:         docTypeChunk,
		SessionID:    sessionID,
		ChunkNumber:  number,
		MessageRange: fmt.Sprintf("%d-%d", rangeStart, rangeStart),
		Messages:     []Message{},
	}
}

// validate checks the chunk's structural invariants after decoding.
func (c *Chunk) validate(maxPerChunk int) error {
	if c.ChunkNumber < 1 {
		return fmt.Errorf("%w: chunk %s has number %d", ErrCorruptDocument, c.ID, c.ChunkNumber)
	}
	if c.MessageCount != len(c.Messages) {
		return fmt.Errorf("%w: chunk %s count %d != %d messages",
			ErrCorruptDocument, c.ID, c.MessageCount, len(c.Messages))
	}
	if maxPerChunk > 0 && c.MessageCount > maxPerChunk {
		return fmt.Errorf("%w: chunk %s holds %d messages, capacity %d",
			ErrCorruptDocument, c.ID, c.MessageCount, maxPerChunk)
	}
	return nil
}

// validate checks the session's structural invariants after decoding.
func (s *Session) validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: session with empty id", ErrCorruptDocument)
	}
	if s.CurrentChunk != "" {
		if len(s.Chunks) == 0 || s.Chunks[len(s.Chunks)-1] != s.CurrentChunk {
			return fmt.Errorf("%w: session %s current chunk %q is not the last allocated",
				ErrCorruptDocument, s.ID, s.CurrentChunk)
		}
	}
	return nil
}
