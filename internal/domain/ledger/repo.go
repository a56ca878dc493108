package ledger

import "context"

// Repository persists ledger rows. There is deliberately no update or
// delete.
type Repository interface {
	Create(ctx context.Context, t *Transaction) error
	ListByReference(ctx context.Context, referenceID string) ([]*Transaction, error)
	List(ctx context.Context, limit, offset int) ([]*Transaction, int, error)
}
