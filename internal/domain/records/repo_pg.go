package records

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hdx/bridge/internal/platform/db"
)

var ErrNotFound = errors.New("document not found")

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const cols = `id, reference, hi_type, content, created_at, updated_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.Reference, &d.HIType, &d.Content, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repoPG) GetByReference(ctx context.Context, reference string) (*Document, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM record_documents WHERE reference = $1`, reference)
	return scanDocument(row)
}

func (r *repoPG) Upsert(ctx context.Context, d *Document) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO record_documents (id, reference, hi_type, content)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (reference) DO UPDATE SET
			hi_type = EXCLUDED.hi_type,
			content = EXCLUDED.content,
			updated_at = now()
		RETURNING `+cols,
		d.ID, d.Reference, d.HIType, d.Content)
	updated, err := scanDocument(row)
	if err != nil {
		return err
	}
	*d = *updated
	return nil
}
