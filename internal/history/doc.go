// Package history persists conversation history as chunked JSON documents
// in a document store.
//
// A session represents one conversation between a farmer and the assistant.
// Messages are not stored on the session itself: they live in fixed-capacity
// chunk documents ("<session_id>_chunk_<n>", 1-based), and the session
// document carries only metadata, the ordered chunk id list, a pointer to
// the chunk currently accepting writes, and a denormalized message count.
// When the current chunk reaches capacity the next append rolls over to a
// freshly allocated chunk.
//
// Key operations:
//
//   - Session lifecycle: [Store.CreateSession], [Store.Session]
//   - Message persistence: [Store.AddMessage]
//   - Reading: [Store.Conversation], [Store.LastN], [Store.Page]
//   - Repair: [Store.Recount]
//
// # Concurrency
//
// Store is safe for concurrent use. All state lives in the document store;
// no shared Go-side state exists. Session metadata writes use optimistic
// concurrency: a conditional replace on the document's ETag, retried from a
// fresh read up to [Config.WriteAttempts] times and surfacing
// [ErrConflictExhausted] when the budget runs out. Chunk allocation is
// create-or-adopt, so two writers racing to allocate the same chunk number
// converge on one document instead of failing.
//
// A consequence of bounded retries is that the session's message count can
// drift below the true total while every message remains durable in its
// chunk. [Store.Recount] recomputes the counter from chunk contents.
//
// # Local State
//
// [SaveCurrentSessionID] and [LoadCurrentSessionID] persist the active
// session to ~/.agrovoice/current_session using atomic writes (temp file +
// rename) with file locking via [github.com/gofrs/flock].
package history
