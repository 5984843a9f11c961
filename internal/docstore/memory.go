package docstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-memory Store. It backs unit tests and the embedded mode
// of the CLI; all state is lost on process exit.
//
// Memory is safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	partitions map[string]map[string]Document
}

// NewMemory creates an empty in-memory document store.
func NewMemory() *Memory {
	return &Memory{
		partitions: make(map[string]map[string]Document),
	}
}

var _ Store = (*Memory)(nil)

// Read returns the document at (partition, id), or ErrNotFound.
func (m *Memory) Read(ctx context.Context, partition, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.partitions[partition][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return cloneDoc(doc), nil
}

// Create stores a new document, or returns ErrExists on id collision.
func (m *Memory) Create(ctx context.Context, partition, id string, body []byte) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.partitions[partition][id]; ok {
		return Document{}, ErrExists
	}
	return m.put(partition, id, body), nil
}

// Replace overwrites an existing document, honoring ifMatch when non-empty.
func (m *Memory) Replace(ctx context.Context, partition, id string, body []byte, ifMatch string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.partitions[partition][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	if ifMatch != "" && current.ETag != ifMatch {
		return Document{}, ErrPrecondition
	}
	return m.put(partition, id, body), nil
}

// Upsert stores the document unconditionally.
func (m *Memory) Upsert(ctx context.Context, partition, id string, body []byte) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.put(partition, id, body), nil
}

// Delete removes the document, or returns ErrNotFound.
func (m *Memory) Delete(ctx context.Context, partition, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.partitions[partition][id]; !ok {
		return ErrNotFound
	}
	delete(m.partitions[partition], id)
	return nil
}

// put writes the document with a fresh ETag. Caller must hold mu.
func (m *Memory) put(partition, id string, body []byte) Document {
	doc := Document{
		ID:        id,
		Partition: partition,
		ETag:      uuid.NewString(),
		Body:      append([]byte(nil), body...),
	}
	if m.partitions[partition] == nil {
		m.partitions[partition] = make(map[string]Document)
	}
	m.partitions[partition][id] = doc
	return cloneDoc(doc)
}

// cloneDoc copies the body so callers cannot mutate stored state.
func cloneDoc(doc Document) Document {
	doc.Body = append([]byte(nil), doc.Body...)
	return doc
}
