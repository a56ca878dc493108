package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNoMatch is returned when no subject answers a discovery query.
var ErrNoMatch = errors.New("no matching subject")

// ShareProfile is the demographic payload delivered by a scan-and-share
// notification.
type ShareProfile struct {
	Number      string
	Address     string
	Name        string
	Gender      string
	YearOfBirth *int
	DateOfBirth *string
	Mobile      string
	AddressLine string
	District    string
	State       string
	Pincode     string
}

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "identity").Logger()}
}

// Resolve runs the discovery matcher chain. Verified identifiers are tried
// first: an exchange number or address that is already linked to a subject
// is an exact match. Failing that, demographics are matched fuzzily. The
// returned string names the identifier type that matched.
func (s *Service) Resolve(ctx context.Context, q DiscoveryQuery) (*Subject, *ExchangeIdentity, string, error) {
	if q.Number != "" || q.Address != "" {
		ident, err := s.repo.GetIdentityByNumberOrAddress(ctx, q.Number, q.Address)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, nil, "", err
		}
		if ident != nil && ident.SubjectID != nil {
			subj, err := s.repo.GetSubject(ctx, *ident.SubjectID)
			if err != nil {
				return nil, nil, "", err
			}
			return subj, ident, IdentifierABHANumber, nil
		}
	}

	if q.Name != "" && q.Phone != "" && q.Gender != "" && q.YearOfBirth > 0 {
		subj, err := s.repo.FuzzyMatchSubject(ctx, q)
		if errors.Is(err, ErrNotFound) {
			return nil, nil, "", ErrNoMatch
		}
		if err != nil {
			return nil, nil, "", err
		}
		return subj, nil, IdentifierMobile, nil
	}

	return nil, nil, "", ErrNoMatch
}

// GetByAddress returns the identity enrolled under an exchange address.
func (s *Service) GetByAddress(ctx context.Context, address string) (*ExchangeIdentity, error) {
	if address == "" {
		return nil, fmt.Errorf("address is required")
	}
	return s.repo.GetIdentityByAddress(ctx, address)
}

// GetSubject returns a subject by its local id.
func (s *Service) GetSubject(ctx context.Context, id uuid.UUID) (*Subject, error) {
	return s.repo.GetSubject(ctx, id)
}

// CreateFromShare enrolls the person behind a scan-and-share profile. If the
// exchange identity is already on file the existing record is returned and
// the second result is true; otherwise a subject and a linked identity are
// created.
func (s *Service) CreateFromShare(ctx context.Context, p ShareProfile) (*ExchangeIdentity, bool, error) {
	if p.Address == "" {
		return nil, false, fmt.Errorf("exchange address is required")
	}

	existing, err := s.repo.GetIdentityByNumberOrAddress(ctx, p.Number, p.Address)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}

	subj := &Subject{
		Name:        p.Name,
		Gender:      p.Gender,
		YearOfBirth: p.YearOfBirth,
		DateOfBirth: p.DateOfBirth,
	}
	if p.Mobile != "" {
		subj.Phone = &p.Mobile
	}
	setIfPresent(&subj.AddressLine, p.AddressLine)
	setIfPresent(&subj.District, p.District)
	setIfPresent(&subj.State, p.State)
	setIfPresent(&subj.Pincode, p.Pincode)

	ident := &ExchangeIdentity{
		Address:     p.Address,
		Name:        p.Name,
		Gender:      p.Gender,
		YearOfBirth: p.YearOfBirth,
	}
	if p.Number != "" {
		ident.Number = &p.Number
	}
	if p.Mobile != "" {
		ident.Mobile = &p.Mobile
	}
	setIfPresent(&ident.AddressLine, p.AddressLine)
	setIfPresent(&ident.District, p.District)
	setIfPresent(&ident.State, p.State)
	setIfPresent(&ident.Pincode, p.Pincode)

	// Subject and identity land together or not at all; a failed identity
	// insert must not leave an orphan subject behind.
	err = s.repo.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateSubject(ctx, subj); err != nil {
			return fmt.Errorf("create subject: %w", err)
		}
		ident.SubjectID = &subj.ID
		if err := s.repo.CreateIdentity(ctx, ident); err != nil {
			return fmt.Errorf("create identity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	s.logger.Info().Str("address", p.Address).Msg("identity enrolled from share")
	return ident, false, nil
}

func setIfPresent(dst **string, v string) {
	if v != "" {
		*dst = &v
	}
}
