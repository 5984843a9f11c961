// Package docstore abstracts the document container that conversation
// history is persisted in.
//
// Documents are opaque JSON bodies grouped by a partition key and addressed
// by id within that partition. Every successful write mints a fresh ETag;
// Replace can be made conditional on the ETag last observed, which is the
// only concurrency primitive the history store relies on.
//
// Two backends exist: an in-memory store used by tests and embedded mode
// (memory.go) and a PostgreSQL store over a single documents table
// (postgres.go). Both are safe for concurrent use.
package docstore

import (
	"context"
	"errors"
)

// Sentinel errors for document operations. Callers check these with
// errors.Is; they describe expected outcomes (a missing document, an id
// collision, a stale ETag), not I/O failures.
var (
	// ErrNotFound indicates the addressed document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrExists indicates Create was called for an id that is already taken.
	ErrExists = errors.New("document already exists")

	// ErrPrecondition indicates a conditional Replace lost: the document
	// changed since the caller read it.
	ErrPrecondition = errors.New("document etag mismatch")
)

// Document is a stored JSON document together with its addressing and
// concurrency metadata.
type Document struct {
	ID        string
	Partition string
	ETag      string
	Body      []byte
}

// Store is the document container contract.
//
// All methods perform a bounded number of round trips and honor ctx
// cancellation. Implementations must be safe for concurrent use.
type Store interface {
	// Read returns the document at (partition, id), or ErrNotFound.
	Read(ctx context.Context, partition, id string) (Document, error)

	// Create stores a new document and returns it with its first ETag.
	// Returns ErrExists when the id is already taken within the partition.
	Create(ctx context.Context, partition, id string, body []byte) (Document, error)

	// Replace overwrites an existing document. When ifMatch is non-empty the
	// write succeeds only if the stored ETag still equals ifMatch, otherwise
	// ErrPrecondition. Returns ErrNotFound when the document is absent.
	Replace(ctx context.Context, partition, id string, body []byte, ifMatch string) (Document, error)

	// Upsert stores the document unconditionally, creating or overwriting.
	Upsert(ctx context.Context, partition, id string, body []byte) (Document, error)

	// Delete removes the document, or returns ErrNotFound.
	Delete(ctx context.Context, partition, id string) error
}
