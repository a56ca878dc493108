package dataflow

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hdx/bridge/internal/platform/db"
)

var ErrNotFound = errors.New("health information not found")

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

const cols = `id, transaction_id, artefact_id, care_context_reference, content, created_at`

func (r *repoPG) CreateReceived(ctx context.Context, rec *ReceivedInformation) error {
	rec.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO received_health_information
			(id, transaction_id, artefact_id, care_context_reference, content)
		VALUES ($1,$2,$3,$4,$5)`,
		rec.ID, rec.TransactionID, rec.ArtefactID, rec.CareContextReference, rec.Content)
	return err
}

func (r *repoPG) list(ctx context.Context, where string, arg any) ([]*ReceivedInformation, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+cols+` FROM received_health_information WHERE `+where+` ORDER BY created_at`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ReceivedInformation
	for rows.Next() {
		var rec ReceivedInformation
		if err := rows.Scan(&rec.ID, &rec.TransactionID, &rec.ArtefactID,
			&rec.CareContextReference, &rec.Content, &rec.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &rec)
	}
	return items, rows.Err()
}

func (r *repoPG) ListByReference(ctx context.Context, careContextReference string) ([]*ReceivedInformation, error) {
	return r.list(ctx, `care_context_reference = $1`, careContextReference)
}

func (r *repoPG) ListByTransaction(ctx context.Context, transactionID string) ([]*ReceivedInformation, error) {
	return r.list(ctx, `transaction_id = $1`, transactionID)
}
