package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hdx/bridge/internal/platform/db"
)

var ErrNotFound = errors.New("identity not found")

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

func (r *repoPG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

const identityCols = `id, number, address, name, gender, year_of_birth, mobile,
	address_line, district, state, pincode, subject_id, created_at, updated_at, deleted_at`

const subjectCols = `id, name, gender, phone, year_of_birth, date_of_birth,
	address_line, district, state, pincode, created_at, updated_at`

func scanIdentity(row pgx.Row) (*ExchangeIdentity, error) {
	var i ExchangeIdentity
	err := row.Scan(&i.ID, &i.Number, &i.Address, &i.Name, &i.Gender, &i.YearOfBirth,
		&i.Mobile, &i.AddressLine, &i.District, &i.State, &i.Pincode,
		&i.SubjectID, &i.CreatedAt, &i.UpdatedAt, &i.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func scanSubject(row pgx.Row) (*Subject, error) {
	var s Subject
	err := row.Scan(&s.ID, &s.Name, &s.Gender, &s.Phone, &s.YearOfBirth, &s.DateOfBirth,
		&s.AddressLine, &s.District, &s.State, &s.Pincode, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) GetIdentity(ctx context.Context, id uuid.UUID) (*ExchangeIdentity, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+identityCols+` FROM exchange_identities WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanIdentity(row)
}

func (r *repoPG) GetIdentityByAddress(ctx context.Context, address string) (*ExchangeIdentity, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+identityCols+` FROM exchange_identities WHERE address = $1 AND deleted_at IS NULL`, address)
	return scanIdentity(row)
}

func (r *repoPG) GetIdentityByNumberOrAddress(ctx context.Context, number, address string) (*ExchangeIdentity, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+identityCols+` FROM exchange_identities
		WHERE (number = $1 OR address = $2) AND deleted_at IS NULL
		LIMIT 1`, number, address)
	return scanIdentity(row)
}

func (r *repoPG) CreateIdentity(ctx context.Context, i *ExchangeIdentity) error {
	i.ID = uuid.New()
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO exchange_identities
			(id, number, address, name, gender, year_of_birth, mobile,
			 address_line, district, state, pincode, subject_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING `+identityCols,
		i.ID, i.Number, i.Address, i.Name, i.Gender, i.YearOfBirth, i.Mobile,
		i.AddressLine, i.District, i.State, i.Pincode, i.SubjectID)
	created, err := scanIdentity(row)
	if err != nil {
		return err
	}
	*i = *created
	return nil
}

func (r *repoPG) LinkSubject(ctx context.Context, identityID, subjectID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE exchange_identities SET subject_id = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, identityID, subjectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) GetSubject(ctx context.Context, id uuid.UUID) (*Subject, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+subjectCols+` FROM subjects WHERE id = $1`, id)
	return scanSubject(row)
}

func (r *repoPG) CreateSubject(ctx context.Context, s *Subject) error {
	s.ID = uuid.New()
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO subjects
			(id, name, gender, phone, year_of_birth, date_of_birth,
			 address_line, district, state, pincode)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING `+subjectCols,
		s.ID, s.Name, s.Gender, s.Phone, s.YearOfBirth, s.DateOfBirth,
		s.AddressLine, s.District, s.State, s.Pincode)
	created, err := scanSubject(row)
	if err != nil {
		return err
	}
	*s = *created
	return nil
}

// FuzzyMatchSubject needs the pg_trgm extension for similarity().
func (r *repoPG) FuzzyMatchSubject(ctx context.Context, q DiscoveryQuery) (*Subject, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+subjectCols+` FROM subjects
		WHERE similarity(name, $1) > 0.3
		  AND (phone = $2 OR phone = '+91' || $2 OR '+91' || phone = $2)
		  AND year_of_birth BETWEEN $3 - 5 AND $3 + 5
		  AND gender = $4
		ORDER BY similarity(name, $1) DESC
		LIMIT 1`,
		q.Name, q.Phone, q.YearOfBirth, q.Gender)
	return scanSubject(row)
}
