package consent

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hdx/bridge/internal/platform/db"
)

var ErrNotFound = errors.New("consent not found")

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

const requestCols = `id, request_id, facility_id, patient_address, purpose_code,
	requester_name, requester_username, hi_types, access_mode,
	date_from, date_to, data_erase_at,
	frequency_unit, frequency_value, frequency_repeats,
	status, created_at, updated_at`

const artefactCols = `id, artefact_id, consent_request_id, status, patient_address,
	care_contexts, hi_types, access_mode,
	date_from, date_to, data_erase_at,
	frequency_unit, frequency_value, frequency_repeats,
	hip_id, cm_id, purpose_code, signature,
	data_request_id, key_private, key_public, key_nonce,
	created_at, updated_at`

func scanRequest(row pgx.Row) (*ConsentRequest, error) {
	var r ConsentRequest
	err := row.Scan(&r.ID, &r.RequestID, &r.FacilityID, &r.PatientAddress, &r.PurposeCode,
		&r.RequesterName, &r.RequesterUsername, &r.HITypes, &r.AccessMode,
		&r.DateFrom, &r.DateTo, &r.DataEraseAt,
		&r.FrequencyUnit, &r.FrequencyValue, &r.FrequencyRepeats,
		&r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanArtefact(row pgx.Row) (*ConsentArtefact, error) {
	var a ConsentArtefact
	err := row.Scan(&a.ID, &a.ArtefactID, &a.ConsentRequestID, &a.Status, &a.PatientAddress,
		&a.CareContexts, &a.HITypes, &a.AccessMode,
		&a.DateFrom, &a.DateTo, &a.DataEraseAt,
		&a.FrequencyUnit, &a.FrequencyValue, &a.FrequencyRepeats,
		&a.HIPID, &a.CMID, &a.PurposeCode, &a.Signature,
		&a.DataRequestID, &a.KeyPrivate, &a.KeyPublic, &a.KeyNonce,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) CreateRequest(ctx context.Context, req *ConsentRequest) error {
	req.ID = uuid.New()
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consent_requests
			(id, request_id, facility_id, patient_address, purpose_code,
			 requester_name, requester_username, hi_types, access_mode,
			 date_from, date_to, data_erase_at,
			 frequency_unit, frequency_value, frequency_repeats, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING `+requestCols,
		req.ID, req.RequestID, req.FacilityID, req.PatientAddress, req.PurposeCode,
		req.RequesterName, req.RequesterUsername, req.HITypes, req.AccessMode,
		req.DateFrom, req.DateTo, req.DataEraseAt,
		req.FrequencyUnit, req.FrequencyValue, req.FrequencyRepeats, req.Status)
	created, err := scanRequest(row)
	if err != nil {
		return err
	}
	*req = *created
	return nil
}

func (r *repoPG) GetRequestByID(ctx context.Context, id uuid.UUID) (*ConsentRequest, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestCols+` FROM consent_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (r *repoPG) GetRequestByRequestID(ctx context.Context, requestID string) (*ConsentRequest, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestCols+` FROM consent_requests WHERE request_id = $1`, requestID)
	return scanRequest(row)
}

func (r *repoPG) ListRequests(ctx context.Context, f RequestFilter) ([]*ConsentRequest, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if f.PatientAddress != "" {
		args = append(args, f.PatientAddress)
		where += ` AND patient_address = $` + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += ` AND status = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM consent_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit)
	limitPos := strconv.Itoa(len(args))
	args = append(args, f.Offset)
	offsetPos := strconv.Itoa(len(args))
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+requestCols+` FROM consent_requests`+where+
			` ORDER BY created_at DESC LIMIT $`+limitPos+` OFFSET $`+offsetPos, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ConsentRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, req)
	}
	return items, total, rows.Err()
}

func (r *repoPG) UpdateRequestStatus(ctx context.Context, requestID string, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent_requests SET status = $2, updated_at = now()
		WHERE request_id = $1`, requestID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) UpsertArtefact(ctx context.Context, a *ConsentArtefact) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consent_artefacts
			(id, artefact_id, consent_request_id, status, patient_address,
			 care_contexts, hi_types, access_mode,
			 date_from, date_to, data_erase_at,
			 frequency_unit, frequency_value, frequency_repeats,
			 hip_id, cm_id, purpose_code, signature)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (artefact_id) DO UPDATE SET
			consent_request_id = COALESCE(EXCLUDED.consent_request_id, consent_artefacts.consent_request_id),
			status = EXCLUDED.status,
			patient_address = EXCLUDED.patient_address,
			care_contexts = EXCLUDED.care_contexts,
			hi_types = EXCLUDED.hi_types,
			access_mode = EXCLUDED.access_mode,
			date_from = EXCLUDED.date_from,
			date_to = EXCLUDED.date_to,
			data_erase_at = EXCLUDED.data_erase_at,
			frequency_unit = EXCLUDED.frequency_unit,
			frequency_value = EXCLUDED.frequency_value,
			frequency_repeats = EXCLUDED.frequency_repeats,
			hip_id = EXCLUDED.hip_id,
			cm_id = EXCLUDED.cm_id,
			purpose_code = EXCLUDED.purpose_code,
			signature = COALESCE(EXCLUDED.signature, consent_artefacts.signature),
			updated_at = now()
		RETURNING `+artefactCols,
		a.ID, a.ArtefactID, a.ConsentRequestID, a.Status, a.PatientAddress,
		a.CareContexts, a.HITypes, a.AccessMode,
		a.DateFrom, a.DateTo, a.DataEraseAt,
		a.FrequencyUnit, a.FrequencyValue, a.FrequencyRepeats,
		a.HIPID, a.CMID, a.PurposeCode, a.Signature)
	updated, err := scanArtefact(row)
	if err != nil {
		return err
	}
	*a = *updated
	return nil
}

func (r *repoPG) GetArtefactByArtefactID(ctx context.Context, artefactID string) (*ConsentArtefact, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+artefactCols+` FROM consent_artefacts WHERE artefact_id = $1`, artefactID)
	return scanArtefact(row)
}

func (r *repoPG) GetArtefactByDataRequestID(ctx context.Context, dataRequestID string) (*ConsentArtefact, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+artefactCols+` FROM consent_artefacts WHERE data_request_id = $1`, dataRequestID)
	return scanArtefact(row)
}

func (r *repoPG) ListArtefactsByRequest(ctx context.Context, consentRequestID uuid.UUID) ([]*ConsentArtefact, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+artefactCols+` FROM consent_artefacts WHERE consent_request_id = $1 ORDER BY created_at`,
		consentRequestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ConsentArtefact
	for rows.Next() {
		a, err := scanArtefact(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) UpdateArtefactStatus(ctx context.Context, artefactID string, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent_artefacts SET status = $2, updated_at = now()
		WHERE artefact_id = $1`, artefactID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) SetArtefactDataRequest(ctx context.Context, artefactID, dataRequestID, keyPrivate, keyPublic, keyNonce string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent_artefacts
		SET data_request_id = $2, key_private = $3, key_public = $4, key_nonce = $5, updated_at = now()
		WHERE artefact_id = $1`,
		artefactID, dataRequestID, keyPrivate, keyPublic, keyNonce)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
