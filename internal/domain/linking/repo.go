package linking

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// UpsertCareContexts stores the batch for a subject; re-linking an
	// existing reference refreshes its display and type instead of
	// duplicating it.
	UpsertCareContexts(ctx context.Context, subjectID uuid.UUID, contexts []CareContextInput) error
	ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]*CareContext, error)
}
