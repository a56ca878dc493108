// Package records stores the clinical documents the bridge can hand over
// during a health-information transfer. Each document is keyed by the care
// context reference it belongs to.
package records

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Health-information types the exchange recognises.
const (
	HITypePrescription     = "Prescription"
	HITypeDiagnosticReport = "DiagnosticReport"
	HITypeOPConsultation   = "OPConsultation"
	HITypeDischargeSummary = "DischargeSummary"
	HITypeImmunization     = "ImmunizationRecord"
	HITypeHealthDocument   = "HealthDocumentRecord"
	HITypeWellnessRecord   = "WellnessRecord"
	HITypeInvoice          = "Invoice"
)

// ValidHIType reports whether t is one of the exchange's document types.
func ValidHIType(t string) bool {
	switch t {
	case HITypePrescription, HITypeDiagnosticReport, HITypeOPConsultation,
		HITypeDischargeSummary, HITypeImmunization, HITypeHealthDocument,
		HITypeWellnessRecord, HITypeInvoice:
		return true
	}
	return false
}

// Document maps to the record_documents table. Reference is the care
// context reference the document was linked under; Content is the
// serialized clinical bundle.
type Document struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Reference string          `db:"reference" json:"reference"`
	HIType    string          `db:"hi_type" json:"hi_type"`
	Content   json.RawMessage `db:"content" json:"content"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}
