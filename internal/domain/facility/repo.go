package facility

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetByHFID(ctx context.Context, hfID string) (*HealthFacility, error)
	GetByFacilityID(ctx context.Context, facilityID uuid.UUID) (*HealthFacility, error)
	Upsert(ctx context.Context, f *HealthFacility) error
	List(ctx context.Context) ([]*HealthFacility, error)
}
