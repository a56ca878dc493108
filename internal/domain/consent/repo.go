package consent

import (
	"context"

	"github.com/google/uuid"
)

// RequestFilter narrows a consent-request listing.
type RequestFilter struct {
	PatientAddress string
	Status         Status
	Limit          int
	Offset         int
}

type Repository interface {
	CreateRequest(ctx context.Context, r *ConsentRequest) error
	GetRequestByID(ctx context.Context, id uuid.UUID) (*ConsentRequest, error)
	GetRequestByRequestID(ctx context.Context, requestID string) (*ConsentRequest, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]*ConsentRequest, int, error)
	UpdateRequestStatus(ctx context.Context, requestID string, status Status) error

	// UpsertArtefact inserts or refreshes the row keyed by ArtefactID.
	UpsertArtefact(ctx context.Context, a *ConsentArtefact) error
	GetArtefactByArtefactID(ctx context.Context, artefactID string) (*ConsentArtefact, error)
	GetArtefactByDataRequestID(ctx context.Context, dataRequestID string) (*ConsentArtefact, error)
	ListArtefactsByRequest(ctx context.Context, consentRequestID uuid.UUID) ([]*ConsentArtefact, error)
	UpdateArtefactStatus(ctx context.Context, artefactID string, status Status) error
	SetArtefactDataRequest(ctx context.Context, artefactID, dataRequestID, keyPrivate, keyPublic, keyNonce string) error
}
