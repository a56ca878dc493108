package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service validates and writes ledger rows.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "ledger").Logger()}
}

// Record writes one ledger row. metadata may be nil for types that carry
// none; otherwise it is marshalled and checked against the type's shape
// before anything touches the database.
func (s *Service) Record(ctx context.Context, t TransactionType, referenceID string, metadata any, actor *uuid.UUID) error {
	if !t.Valid() {
		return fmt.Errorf("unknown transaction type %q", t)
	}
	if referenceID == "" {
		return fmt.Errorf("reference id is required")
	}

	var raw json.RawMessage
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		raw = b
	}
	if err := validateMetadata(t, raw); err != nil {
		return fmt.Errorf("%s: %w", t, err)
	}

	tx := &Transaction{
		ReferenceID: referenceID,
		Type:        t,
		Metadata:    raw,
		CreatedBy:   actor,
	}
	if err := s.repo.Create(ctx, tx); err != nil {
		return fmt.Errorf("create ledger row: %w", err)
	}
	s.logger.Info().
		Str("type", string(t)).
		Str("reference_id", referenceID).
		Msg("ledger row recorded")
	return nil
}

// ListByReference returns the rows for one network request or transaction id
// in write order.
func (s *Service) ListByReference(ctx context.Context, referenceID string) ([]*Transaction, error) {
	if referenceID == "" {
		return nil, fmt.Errorf("reference id is required")
	}
	return s.repo.ListByReference(ctx, referenceID)
}

// List pages over the whole ledger, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Transaction, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}
