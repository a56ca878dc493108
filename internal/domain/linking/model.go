// Package linking implements the care-context linking handshake with the
// exchange: provider-initiated pushes under a link token, and the
// patient-initiated discover/init/confirm flow.
package linking

import (
	"time"

	"github.com/google/uuid"
)

// CareContext maps to the care_contexts table: one linkable clinical
// reference belonging to a local subject. Reference is a versioned typed
// string such as "v2::medication_request::2026-08-01".
type CareContext struct {
	ID        uuid.UUID `db:"id" json:"id"`
	SubjectID uuid.UUID `db:"subject_id" json:"subject_id"`
	Reference string    `db:"reference" json:"reference"`
	Display   string    `db:"display" json:"display"`
	HIType    string    `db:"hi_type" json:"hi_type"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CareContextInput is one reference in a link batch.
type CareContextInput struct {
	Reference string `json:"reference"`
	Display   string `json:"display"`
	HIType    string `json:"hi_type"`
}

// LinkBatch is a provider-initiated request to link care contexts for one
// enrolled exchange address.
type LinkBatch struct {
	FacilityID     uuid.UUID          `json:"facility_id"`
	PatientAddress string             `json:"patient_address"`
	CareContexts   []CareContextInput `json:"care_contexts"`
}

// otpSession is the cached state of one patient-initiated linking attempt,
// alive between the init and confirm callbacks.
type otpSession struct {
	ReferenceID      string
	OTP              string
	Address          string
	SubjectReference string
	References       []string
}
