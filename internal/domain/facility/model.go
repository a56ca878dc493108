// Package facility tracks the health facilities this bridge serves on the
// exchange and their registry identifiers.
package facility

import (
	"time"

	"github.com/google/uuid"
)

// HealthFacility maps to the health_facilities table. HFID is the
// facility's registry-issued identifier and doubles as the provider id on
// every network call made on the facility's behalf.
type HealthFacility struct {
	ID         uuid.UUID `db:"id" json:"id"`
	FacilityID uuid.UUID `db:"facility_id" json:"facility_id"`
	HFID       string    `db:"hf_id" json:"hf_id"`
	Name       string    `db:"name" json:"name"`
	Registered bool      `db:"registered" json:"registered"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
