package records

import "context"

type Repository interface {
	GetByReference(ctx context.Context, reference string) (*Document, error)
	Upsert(ctx context.Context, d *Document) error
}
