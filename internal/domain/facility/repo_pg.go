package facility

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hdx/bridge/internal/platform/db"
)

// ErrNotFound is returned when no facility matches the lookup.
var ErrNotFound = errors.New("facility not found")

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

const cols = `id, facility_id, hf_id, name, registered, created_at, updated_at`

func scanFacility(row pgx.Row) (*HealthFacility, error) {
	var f HealthFacility
	err := row.Scan(&f.ID, &f.FacilityID, &f.HFID, &f.Name, &f.Registered, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *repoPG) GetByHFID(ctx context.Context, hfID string) (*HealthFacility, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM health_facilities WHERE hf_id = $1`, hfID)
	return scanFacility(row)
}

func (r *repoPG) GetByFacilityID(ctx context.Context, facilityID uuid.UUID) (*HealthFacility, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM health_facilities WHERE facility_id = $1`, facilityID)
	return scanFacility(row)
}

func (r *repoPG) Upsert(ctx context.Context, f *HealthFacility) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO health_facilities (id, facility_id, hf_id, name, registered)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (hf_id) DO UPDATE SET
			facility_id = EXCLUDED.facility_id,
			name = EXCLUDED.name,
			registered = EXCLUDED.registered,
			updated_at = now()
		RETURNING `+cols,
		f.ID, f.FacilityID, f.HFID, f.Name, f.Registered)
	updated, err := scanFacility(row)
	if err != nil {
		return err
	}
	*f = *updated
	return nil
}

func (r *repoPG) List(ctx context.Context) ([]*HealthFacility, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+cols+` FROM health_facilities ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*HealthFacility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}
