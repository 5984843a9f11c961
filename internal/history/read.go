package history

import (
	"context"
	"errors"
	"slices"

	"github.com/agrovoice/agrovoice/internal/docstore"
)

// Conversation returns the full message history of a session in timestamp
// order. An unknown session yields an empty slice, and chunks that are
// referenced by the session but missing from the store are skipped with a
// warning rather than failing the whole read.
func (s *Store) Conversation(ctx context.Context, sessionID string) ([]Message, error) {
	sess, err := s.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return []Message{}, nil
	}

	msgs := make([]Message, 0, sess.MessageCount)
	for _, id := range sess.Chunks {
		chunk, err := s.readChunk(ctx, sess.ID, id)
		if errors.Is(err, docstore.ErrNotFound) {
			s.logger.Warn("chunk missing, skipping",
				"session_id", sessionID, "chunk", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, chunk.Messages...)
	}

	sortByTimestamp(msgs)
	return msgs, nil
}

// LastN returns the most recent n messages in timestamp order. Chunks are
// walked newest-first so that a long history only costs as many reads as
// there are chunks covering the tail.
func (s *Store) LastN(ctx context.Context, sessionID string, n int) ([]Message, error) {
	if n <= 0 {
		return []Message{}, nil
	}

	sess, err := s.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return []Message{}, nil
	}

	msgs := make([]Message, 0, n)
	for i := len(sess.Chunks) - 1; i >= 0; i-- {
		chunk, err := s.readChunk(ctx, sess.ID, sess.Chunks[i])
		if errors.Is(err, docstore.ErrNotFound) {
			s.logger.Warn("chunk missing, skipping",
				"session_id", sessionID, "chunk", sess.Chunks[i])
			continue
		}
		if err != nil {
			return nil, err
		}
		msgs = append(slices.Clone(chunk.Messages), msgs...)
		if len(msgs) >= n {
			break
		}
	}

	sortByTimestamp(msgs)
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

// Page returns a window of messages addressed from the end of the history:
// offset 0 is the most recent page, and growing offsets walk backwards in
// time. The window is [total-offset-limit, total-offset), clipped at the
// start; results stay in timestamp order. A window entirely before the
// first message, a negative offset, or a non-positive limit all yield an
// empty slice.
func (s *Store) Page(ctx context.Context, sessionID string, offset, limit int) ([]Message, error) {
	if offset < 0 || limit <= 0 {
		return []Message{}, nil
	}

	all, err := s.Conversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	end := len(all) - offset
	if end <= 0 {
		return []Message{}, nil
	}
	start := max(end-limit, 0)
	return slices.Clone(all[start:end]), nil
}

func sortByTimestamp(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}
