package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrSkip tells a transfer to leave an entry out without failing the whole
// session: the document is missing or its type is not covered by the grant.
var ErrSkip = errors.New("entry not transferable")

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "records").Logger()}
}

// Store saves (or replaces) the document for a care context reference.
func (s *Service) Store(ctx context.Context, reference, hiType string, content json.RawMessage) (*Document, error) {
	if reference == "" {
		return nil, fmt.Errorf("reference is required")
	}
	if !ValidHIType(hiType) {
		return nil, fmt.Errorf("unknown health-information type %q", hiType)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("content is required")
	}
	d := &Document{Reference: reference, HIType: hiType, Content: content}
	if err := s.repo.Upsert(ctx, d); err != nil {
		return nil, fmt.Errorf("upsert document: %w", err)
	}
	return d, nil
}

// Get returns the stored document for a care context reference.
func (s *Service) Get(ctx context.Context, reference string) (*Document, error) {
	return s.repo.GetByReference(ctx, reference)
}

// Encode returns the payload for one care context reference, restricted to
// the health-information types a consent grants. Missing documents and
// documents of a non-granted type return ErrSkip.
func (s *Service) Encode(ctx context.Context, reference string, allowedHITypes []string) (json.RawMessage, error) {
	d, err := s.repo.GetByReference(ctx, reference)
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn().Str("reference", reference).Msg("no document for care context")
		return nil, ErrSkip
	}
	if err != nil {
		return nil, err
	}
	if !allowed(d.HIType, allowedHITypes) {
		s.logger.Warn().
			Str("reference", reference).
			Str("hi_type", d.HIType).
			Msg("document type outside consent grant")
		return nil, ErrSkip
	}
	return d.Content, nil
}

func allowed(hiType string, granted []string) bool {
	for _, g := range granted {
		if g == hiType {
			return true
		}
	}
	return false
}
