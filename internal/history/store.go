package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agrovoice/agrovoice/internal/docstore"
)

// Defaults mirror the internal/config package so a zero Config behaves like
// a default deployment.
const (
	// DefaultMaxMessagesPerChunk is the default chunk capacity.
	DefaultMaxMessagesPerChunk = 10

	// DefaultWriteAttempts is the default session-write budget: one
	// optimistic write plus one retry after re-reading.
	DefaultWriteAttempts = 2
)

// Config carries the store's tunables.
type Config struct {
	// MaxMessagesPerChunk is the chunk capacity; a chunk at capacity rolls
	// over to a fresh one on the next append. Zero means
	// DefaultMaxMessagesPerChunk.
	MaxMessagesPerChunk int

	// WriteAttempts bounds the optimistic-concurrency loop on session
	// metadata writes. Zero means DefaultWriteAttempts.
	WriteAttempts int
}

// Store persists conversation history as session and chunk documents in a
// document store. See the package documentation for the storage layout and
// concurrency discipline.
//
// Store is safe for concurrent use by multiple goroutines; all state lives
// in the document store.
type Store struct {
	docs   docstore.Store
	cfg    Config
	logger *slog.Logger
}

// New creates a history Store on top of the given document store.
func New(docs docstore.Store, cfg Config, logger *slog.Logger) (*Store, error) {
	if docs == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if cfg.MaxMessagesPerChunk <= 0 {
		cfg.MaxMessagesPerChunk = DefaultMaxMessagesPerChunk
	}
	if cfg.WriteAttempts <= 0 {
		cfg.WriteAttempts = DefaultWriteAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{docs: docs, cfg: cfg, logger: logger}, nil
}

// CreateSession creates the metadata document for a conversation.
//
// Creation is idempotent: calling it for an existing session id returns the
// stored session untouched, never resetting counters or chunk references.
// Losing a creation race to a concurrent writer is likewise treated as
// success.
func (s *Store) CreateSession(ctx context.Context, sessionID, userID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}

	existing, _, err := s.readSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	sess := newSession(sessionID, userID, time.Now().UTC())
	body, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", sessionID, err)
	}

	_, err = s.docs.Create(ctx, sessionID, sessionID, body)
	if errors.Is(err, docstore.ErrExists) {
		// Concurrent writer created it first; adopt theirs.
		adopted, _, readErr := s.readSession(ctx, sessionID)
		if readErr != nil {
			return nil, readErr
		}
		if adopted == nil {
			return nil, fmt.Errorf("session %s vanished after create collision: %w",
				sessionID, docstore.ErrNotFound)
		}
		return adopted, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("session created", "session_id", sessionID, "user_id", userID)
	return sess, nil
}

// Session returns the session metadata, or (nil, nil) when the session does
// not exist. Absence is a normal result, not an error.
func (s *Store) Session(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	sess, _, err := s.readSession(ctx, sessionID)
	return sess, err
}

// AddMessage appends one message to the session, creating the session and
// allocating chunks as needed.
//
// The returned message id is valid whenever the chunk write succeeded, even
// when the returned error is non-nil: ErrConflictExhausted (and any error
// from the metadata write) means only the session's denormalized counter is
// stale, never that the message was lost. Store.Recount repairs the counter.
func (s *Store) AddMessage(ctx context.Context, sessionID, role, content, userID string, attachments []Attachment) (uuid.UUID, error) {
	if sessionID == "" {
		return uuid.Nil, ErrEmptySessionID
	}
	if role != RoleUser && role != RoleAssistant {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	sess, err := s.Session(ctx, sessionID)
	if err != nil {
		return uuid.Nil, err
	}
	if sess == nil {
		if sess, err = s.CreateSession(ctx, sessionID, userID); err != nil {
			return uuid.Nil, err
		}
	}

	chunk, err := s.resolveWritableChunk(ctx, sess)
	if err != nil {
		return uuid.Nil, err
	}

	if attachments == nil {
		attachments = []Attachment{}
	}
	msg := Message{
		ID:          uuid.New(),
		Role:        role,
		Content:     content,
		Timestamp:   time.Now().UTC(),
		Attachments: attachments,
	}

	chunk.Messages = append(chunk.Messages, msg)
	chunk.MessageCount = len(chunk.Messages)
	chunk.MessageRange = advanceRange(chunk)

	body, err := json.Marshal(chunk)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode chunk %s: %w", chunk.ID, err)
	}
	// Full replace, unconditional: append order within a chunk only holds
	// per writer, and readers re-sort by timestamp anyway.
	if _, err := s.docs.Replace(ctx, sessionID, chunk.ID, body, ""); err != nil {
		return uuid.Nil, fmt.Errorf("persist chunk %s: %w", chunk.ID, err)
	}

	// The message is durable from here on; metadata failures below must not
	// discard the id.
	if _, err := s.updateSession(ctx, sessionID, func(se *Session) {
		se.MessageCount++
	}); err != nil {
		s.logger.Warn("session counter update failed; message is durable",
			"session_id", sessionID, "message_id", msg.ID, "error", err)
		return msg.ID, err
	}

	s.logger.Debug("message appended",
		"session_id", sessionID, "chunk", chunk.ID, "role", role)
	return msg.ID, nil
}

// Recount recomputes the session's message count from actual chunk contents
// and writes it back, repairing drift left behind by exhausted metadata
// writes. Returns (nil, nil) for an unknown session.
//
// Recount races with concurrent appends like any other metadata write; run
// it when the session is quiet.
func (s *Store) Recount(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.Session(ctx, sessionID)
	if err != nil || sess == nil {
		return nil, err
	}

	total := 0
	for _, id := range sess.Chunks {
		chunk, err := s.readChunk(ctx, sess.ID, id)
		if errors.Is(err, docstore.ErrNotFound) {
			s.logger.Warn("chunk missing during recount, skipping",
				"session_id", sessionID, "chunk", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		total += len(chunk.Messages)
	}

	updated, err := s.updateSession(ctx, sessionID, func(se *Session) {
		se.MessageCount = total
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("session recounted",
		"session_id", sessionID, "message_count", total)
	return updated, nil
}

// resolveWritableChunk returns the chunk the next append goes into,
// allocating the first chunk or rolling over a full one as needed.
//
// Allocation is create-or-adopt: when a concurrent writer created the target
// chunk id first, the existing chunk is adopted instead of failing. An
// adopted chunk can itself already be full, in which case the session is
// re-read and the rollover decision is repeated, bounded by WriteAttempts.
func (s *Store) resolveWritableChunk(ctx context.Context, sess *Session) (*Chunk, error) {
	for attempt := 0; attempt <= s.cfg.WriteAttempts; attempt++ {
		if attempt > 0 {
			fresh, _, err := s.readSession(ctx, sess.ID)
			if err != nil {
				return nil, err
			}
			if fresh == nil {
				return nil, fmt.Errorf("session %s vanished during rollover: %w",
					sess.ID, docstore.ErrNotFound)
			}
			sess = fresh
		}

		var (
			chunk *Chunk
			err   error
		)
		switch {
		case sess.CurrentChunk == "":
			chunk, sess, err = s.allocateAndRegister(ctx, sess, 1, 1)
		default:
			chunk, err = s.readChunk(ctx, sess.ID, sess.CurrentChunk)
			if errors.Is(err, docstore.ErrNotFound) {
				// Registered but never created: a writer died between the
				// session update and the chunk write. Re-create it in place.
				chunk, sess, err = s.allocateAndRegister(ctx, sess, len(sess.Chunks), sess.MessageCount+1)
			}
		}
		if err != nil {
			return nil, err
		}

		if chunk.MessageCount < s.cfg.MaxMessagesPerChunk {
			return chunk, nil
		}

		// Current chunk is full: roll over to the next number.
		next, _, err := s.allocateAndRegister(ctx, sess,
			len(sess.Chunks)+1, rangeEnd(chunk)+1)
		if err != nil {
			return nil, err
		}
		if next.MessageCount < s.cfg.MaxMessagesPerChunk {
			s.logger.Debug("chunk rolled over",
				"session_id", sess.ID, "from", chunk.ID, "to", next.ID)
			return next, nil
		}
		// Adopted an already-full chunk; loop with a fresh session view.
	}
	return nil, ErrConflictExhausted
}

// allocateAndRegister creates chunk `number` (or adopts the existing one on
// id collision) and records it in the session's chunk list.
func (s *Store) allocateAndRegister(ctx context.Context, sess *Session, number, rangeStart int) (*Chunk, *Session, error) {
	chunk := newChunk(sess.ID, number, rangeStart)

	body, err := json.Marshal(chunk)
	if err != nil {
		return nil, nil, fmt.Errorf("encode chunk %s: %w", chunk.ID, err)
	}

	_, err = s.docs.Create(ctx, sess.ID, chunk.ID, body)
	switch {
	case errors.Is(err, docstore.ErrExists):
		// Allocation is idempotent by id: adopt the winner's chunk.
		s.logger.Debug("chunk already exists, adopting",
			"session_id", sess.ID, "chunk", chunk.ID)
		if chunk, err = s.readChunk(ctx, sess.ID, chunk.ID); err != nil {
			return nil, nil, err
		}
	case err != nil:
		return nil, nil, err
	}

	updated, err := s.updateSession(ctx, sess.ID, func(se *Session) {
		if !slices.Contains(se.Chunks, chunk.ID) {
			se.Chunks = append(se.Chunks, chunk.ID)
		}
		se.CurrentChunk = se.Chunks[len(se.Chunks)-1]
	})
	if err != nil {
		return nil, nil, err
	}
	return chunk, updated, nil
}

// updateSession is the bounded compare-and-swap on the session document:
// read, apply mutate, write conditionally on the observed ETag, and retry
// from a fresh read when a concurrent writer got there first. mutate runs
// once per attempt and must therefore be idempotent against re-reads.
func (s *Store) updateSession(ctx context.Context, sessionID string, mutate func(*Session)) (*Session, error) {
	for attempt := 1; attempt <= s.cfg.WriteAttempts; attempt++ {
		sess, etag, err := s.readSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return nil, fmt.Errorf("session %s does not exist: %w", sessionID, docstore.ErrNotFound)
		}

		mutate(sess)
		sess.UpdatedAt = time.Now().UTC()

		body, err := json.Marshal(sess)
		if err != nil {
			return nil, fmt.Errorf("encode session %s: %w", sessionID, err)
		}

		_, err = s.docs.Replace(ctx, sessionID, sessionID, body, etag)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, docstore.ErrPrecondition) {
			return nil, err
		}
		s.logger.Debug("session write conflict, retrying",
			"session_id", sessionID, "attempt", attempt)
	}
	return nil, ErrConflictExhausted
}

// readSession loads and decodes the session document. A missing document is
// returned as (nil, "", nil).
func (s *Store) readSession(ctx context.Context, sessionID string) (*Session, string, error) {
	doc, err := s.docs.Read(ctx, sessionID, sessionID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	var sess Session
	if err := json.Unmarshal(doc.Body, &sess); err != nil {
		return nil, "", fmt.Errorf("%w: session %s: %v", ErrCorruptDocument, sessionID, err)
	}
	if err := sess.validate(); err != nil {
		return nil, "", err
	}
	return &sess, doc.ETag, nil
}

// readChunk loads and decodes one chunk document.
func (s *Store) readChunk(ctx context.Context, sessionID, id string) (*Chunk, error) {
	doc, err := s.docs.Read(ctx, sessionID, id)
	if err != nil {
		return nil, err
	}

	var chunk Chunk
	if err := json.Unmarshal(doc.Body, &chunk); err != nil {
		return nil, fmt.Errorf("%w: chunk %s: %v", ErrCorruptDocument, id, err)
	}
	// Capacity is not enforced on read: an adopted chunk may legitimately
	// sit at capacity while a rollover is in flight.
	if err := chunk.validate(0); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// advanceRange keeps the range start and moves the end to cover the current
// message count. The range is operator-facing display, not load-bearing.
func advanceRange(c *Chunk) string {
	start := rangeStartOrdinal(c)
	return fmt.Sprintf("%d-%d", start, start+len(c.Messages)-1)
}

// rangeStartOrdinal parses the 1-based session ordinal of the chunk's first
// message out of MessageRange.
func rangeStartOrdinal(c *Chunk) int {
	if first, _, ok := strings.Cut(c.MessageRange, "-"); ok {
		if n, err := strconv.Atoi(first); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

// rangeEnd parses the end ordinal of the chunk's range, falling back to the
// start plus the held message count.
func rangeEnd(c *Chunk) int {
	if _, last, ok := strings.Cut(c.MessageRange, "-"); ok {
		if n, err := strconv.Atoi(last); err == nil && n > 0 {
			return n
		}
	}
	return rangeStartOrdinal(c) + len(c.Messages) - 1
}
