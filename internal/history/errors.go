package history

import "errors"

// Sentinel errors for history operations. These are part of the Store's
// public API and should be checked with errors.Is().
//
// Absent sessions are NOT an error: Store.Session returns (nil, nil) and the
// readers return empty slices, because asking about an unknown conversation
// is a normal outcome for callers.
var (
	// ErrConflictExhausted indicates the session-metadata write lost its
	// optimistic-concurrency race on every configured attempt. For
	// AddMessage the message itself is already durable when this is
	// returned; only the session's denormalized counter is stale, and
	// Store.Recount repairs it.
	ErrConflictExhausted = errors.New("session write conflict: retries exhausted")

	// ErrInvalidRole indicates a role other than "user" or "assistant".
	ErrInvalidRole = errors.New("invalid message role")

	// ErrEmptySessionID indicates a blank session id was passed.
	ErrEmptySessionID = errors.New("session id is empty")

	// ErrCorruptDocument indicates a stored document violates a structural
	// invariant (count mismatch, broken chunk ordering). This signals data
	// damage, not a recoverable condition.
	ErrCorruptDocument = errors.New("corrupt history document")
)
