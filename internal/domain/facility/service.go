package facility

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service answers facility lookups for the callback and linking paths.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "facility").Logger()}
}

// GetByHFID returns the facility registered under the given exchange id.
func (s *Service) GetByHFID(ctx context.Context, hfID string) (*HealthFacility, error) {
	if hfID == "" {
		return nil, fmt.Errorf("hf id is required")
	}
	return s.repo.GetByHFID(ctx, hfID)
}

// IsKnown reports whether the hf id belongs to a facility this bridge
// serves. Inbound callbacks that name an unknown facility are rejected.
func (s *Service) IsKnown(ctx context.Context, hfID string) (bool, error) {
	_, err := s.repo.GetByHFID(ctx, hfID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HIPID resolves the exchange provider id for a local facility.
func (s *Service) HIPID(ctx context.Context, facilityID uuid.UUID) (string, error) {
	f, err := s.repo.GetByFacilityID(ctx, facilityID)
	if err != nil {
		return "", err
	}
	if !f.Registered {
		return "", fmt.Errorf("facility %s is not registered on the exchange", f.Name)
	}
	return f.HFID, nil
}

// Register records (or refreshes) a facility's registry identifiers.
func (s *Service) Register(ctx context.Context, f *HealthFacility) error {
	if f.HFID == "" {
		return fmt.Errorf("hf id is required")
	}
	if f.Name == "" {
		return fmt.Errorf("name is required")
	}
	if err := s.repo.Upsert(ctx, f); err != nil {
		return fmt.Errorf("upsert facility: %w", err)
	}
	s.logger.Info().Str("hf_id", f.HFID).Str("name", f.Name).Msg("facility registered")
	return nil
}

func (s *Service) List(ctx context.Context) ([]*HealthFacility, error) {
	return s.repo.List(ctx)
}
