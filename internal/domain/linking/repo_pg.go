package linking

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hdx/bridge/internal/platform/db"
)

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

const cols = `id, subject_id, reference, display, hi_type, created_at`

func (r *repoPG) UpsertCareContexts(ctx context.Context, subjectID uuid.UUID, contexts []CareContextInput) error {
	for _, cc := range contexts {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO care_contexts (id, subject_id, reference, display, hi_type)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (subject_id, reference) DO UPDATE SET
				display = EXCLUDED.display,
				hi_type = EXCLUDED.hi_type`,
			uuid.New(), subjectID, cc.Reference, cc.Display, cc.HIType)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]*CareContext, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+cols+` FROM care_contexts WHERE subject_id = $1 ORDER BY created_at`,
		subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*CareContext
	for rows.Next() {
		var cc CareContext
		if err := rows.Scan(&cc.ID, &cc.SubjectID, &cc.Reference, &cc.Display, &cc.HIType, &cc.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &cc)
	}
	return items, rows.Err()
}
