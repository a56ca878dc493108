package identity

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// InTx runs fn with every repository call inside it joined to one
	// transaction; fn returning an error rolls the whole set back.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetIdentity(ctx context.Context, id uuid.UUID) (*ExchangeIdentity, error)
	GetIdentityByAddress(ctx context.Context, address string) (*ExchangeIdentity, error)
	GetIdentityByNumberOrAddress(ctx context.Context, number, address string) (*ExchangeIdentity, error)
	CreateIdentity(ctx context.Context, i *ExchangeIdentity) error
	LinkSubject(ctx context.Context, identityID, subjectID uuid.UUID) error

	GetSubject(ctx context.Context, id uuid.UUID) (*Subject, error)
	CreateSubject(ctx context.Context, s *Subject) error

	// FuzzyMatchSubject finds the best demographic match: trigram name
	// similarity above 0.3, same phone (with or without country prefix),
	// birth year within five years, exact gender. Best similarity wins.
	FuzzyMatchSubject(ctx context.Context, q DiscoveryQuery) (*Subject, error)
}
