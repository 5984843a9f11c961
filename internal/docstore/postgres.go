package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE raised when an INSERT hits the documents
// primary key; it maps to ErrExists.
const uniqueViolation = "23505"

const documentCols = `partition, id, body, etag`

// Postgres stores documents in a single documents table, one row per
// document, body as JSONB and the ETag as a uuid column rotated on every
// write. The table is created by the db package migrations.
//
// Postgres is safe for concurrent use.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres creates a Postgres document store.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

var _ Store = (*Postgres)(nil)

// Read returns the document at (partition, id), or ErrNotFound.
func (p *Postgres) Read(ctx context.Context, partition, id string) (Document, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+documentCols+` FROM documents WHERE partition = $1 AND id = $2`,
		partition, id)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("read document %s/%s: %w", partition, id, err)
	}
	return doc, nil
}

// Create stores a new document, or returns ErrExists on id collision.
func (p *Postgres) Create(ctx context.Context, partition, id string, body []byte) (Document, error) {
	etag := uuid.New()

	_, err := p.pool.Exec(ctx,
		`INSERT INTO documents (partition, id, body, etag) VALUES ($1, $2, $3, $4)`,
		partition, id, body, etag)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Document{}, ErrExists
		}
		return Document{}, fmt.Errorf("create document %s/%s: %w", partition, id, err)
	}

	return Document{ID: id, Partition: partition, ETag: etag.String(), Body: body}, nil
}

// Replace overwrites an existing document, honoring ifMatch when non-empty.
//
// The conditional write is a single UPDATE filtered on the stored etag; a
// zero-row result is disambiguated with a follow-up point read so callers
// can tell a missing document from a lost race.
func (p *Postgres) Replace(ctx context.Context, partition, id string, body []byte, ifMatch string) (Document, error) {
	etag := uuid.New()

	var (
		tag pgconn.CommandTag
		err error
	)
	if ifMatch == "" {
		tag, err = p.pool.Exec(ctx,
			`UPDATE documents SET body = $3, etag = $4, updated_at = now()
			 WHERE partition = $1 AND id = $2`,
			partition, id, body, etag)
	} else {
		tag, err = p.pool.Exec(ctx,
			`UPDATE documents SET body = $3, etag = $4, updated_at = now()
			 WHERE partition = $1 AND id = $2 AND etag = $5`,
			partition, id, body, etag, ifMatch)
	}
	if err != nil {
		return Document{}, fmt.Errorf("replace document %s/%s: %w", partition, id, err)
	}

	if tag.RowsAffected() == 0 {
		if _, readErr := p.Read(ctx, partition, id); errors.Is(readErr, ErrNotFound) {
			return Document{}, ErrNotFound
		}
		p.logger.Debug("conditional replace lost", "partition", partition, "id", id)
		return Document{}, ErrPrecondition
	}

	return Document{ID: id, Partition: partition, ETag: etag.String(), Body: body}, nil
}

// Upsert stores the document unconditionally.
func (p *Postgres) Upsert(ctx context.Context, partition, id string, body []byte) (Document, error) {
	etag := uuid.New()

	_, err := p.pool.Exec(ctx,
		`INSERT INTO documents (partition, id, body, etag) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (partition, id) DO UPDATE SET body = $3, etag = $4, updated_at = now()`,
		partition, id, body, etag)
	if err != nil {
		return Document{}, fmt.Errorf("upsert document %s/%s: %w", partition, id, err)
	}

	return Document{ID: id, Partition: partition, ETag: etag.String(), Body: body}, nil
}

// Delete removes the document, or returns ErrNotFound.
func (p *Postgres) Delete(ctx context.Context, partition, id string) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM documents WHERE partition = $1 AND id = $2`,
		partition, id)
	if err != nil {
		return fmt.Errorf("delete document %s/%s: %w", partition, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanDocument reads one documents row.
func scanDocument(row pgx.Row) (Document, error) {
	var (
		doc  Document
		etag uuid.UUID
	)
	if err := row.Scan(&doc.Partition, &doc.ID, &doc.Body, &etag); err != nil {
		return Document{}, err
	}
	doc.ETag = etag.String()
	return doc, nil
}
