// Package consent implements the exchange's consent lifecycle: requests
// raised by this bridge acting as data requester, and artefacts notified to
// it in either role.
package consent

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a consent request or artefact.
type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusGranted   Status = "GRANTED"
	StatusDenied    Status = "DENIED"
	StatusExpired   Status = "EXPIRED"
	StatusRevoked   Status = "REVOKED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusGranted, StatusDenied, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// Purpose codes from the network contract, with their display text.
var purposeLabels = map[string]string{
	"CAREMGT": "Care Management",
	"BTG":     "Break the Glass",
	"PUBHLTH": "Public Health",
	"HPAYMT":  "Healthcare Payment",
	"DSRCH":   "Disease Specific Healthcare Research",
	"PATRQT":  "Self Requested",
}

// PurposeLabel returns the display text for a purpose code, or "" when the
// code is unknown.
func PurposeLabel(code string) string {
	return purposeLabels[code]
}

// Access modes a consent can grant.
const (
	AccessView   = "VIEW"
	AccessStore  = "STORE"
	AccessQuery  = "QUERY"
	AccessStream = "STREAM"
)

func ValidAccessMode(m string) bool {
	switch m {
	case AccessView, AccessStore, AccessQuery, AccessStream:
		return true
	}
	return false
}

// Frequency units for the informational access cap.
const (
	FrequencyHour  = "HOUR"
	FrequencyDay   = "DAY"
	FrequencyWeek  = "WEEK"
	FrequencyMonth = "MONTH"
	FrequencyYear  = "YEAR"
)

func ValidFrequencyUnit(u string) bool {
	switch u {
	case FrequencyHour, FrequencyDay, FrequencyWeek, FrequencyMonth, FrequencyYear:
		return true
	}
	return false
}

// ConsentRequest maps to the consent_requests table. RequestID is the id
// this bridge used on the init call and is how the network refers back to
// the request.
type ConsentRequest struct {
	ID                uuid.UUID `db:"id" json:"id"`
	RequestID         string    `db:"request_id" json:"request_id"`
	FacilityID        uuid.UUID `db:"facility_id" json:"facility_id"`
	PatientAddress    string    `db:"patient_address" json:"patient_address"`
	PurposeCode       string    `db:"purpose_code" json:"purpose_code"`
	RequesterName     string    `db:"requester_name" json:"requester_name"`
	RequesterUsername string    `db:"requester_username" json:"requester_username"`
	HITypes           []string  `db:"hi_types" json:"hi_types"`
	AccessMode        string    `db:"access_mode" json:"access_mode"`
	DateFrom          time.Time `db:"date_from" json:"date_from"`
	DateTo            time.Time `db:"date_to" json:"date_to"`
	DataEraseAt       time.Time `db:"data_erase_at" json:"data_erase_at"`
	FrequencyUnit     string    `db:"frequency_unit" json:"frequency_unit"`
	FrequencyValue    int       `db:"frequency_value" json:"frequency_value"`
	FrequencyRepeats  int       `db:"frequency_repeats" json:"frequency_repeats"`
	Status            Status    `db:"status" json:"status"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// CareContextRef is one granted care context as it appears inside an
// artefact.
type CareContextRef struct {
	PatientReference     string `json:"patientReference"`
	CareContextReference string `json:"careContextReference"`
}

// ConsentArtefact maps to the consent_artefacts table. ArtefactID is the
// network's consent id and is the idempotency key for notifications.
// DataRequestID correlates the artefact with an outgoing data-flow request;
// the Key* fields hold this bridge's half of that session's key material.
type ConsentArtefact struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	ArtefactID       string           `db:"artefact_id" json:"artefact_id"`
	ConsentRequestID *uuid.UUID       `db:"consent_request_id" json:"consent_request_id,omitempty"`
	Status           Status           `db:"status" json:"status"`
	PatientAddress   string           `db:"patient_address" json:"patient_address"`
	CareContexts     []CareContextRef `db:"care_contexts" json:"care_contexts"`
	HITypes          []string         `db:"hi_types" json:"hi_types"`
	AccessMode       string           `db:"access_mode" json:"access_mode"`
	DateFrom         time.Time        `db:"date_from" json:"date_from"`
	DateTo           time.Time        `db:"date_to" json:"date_to"`
	DataEraseAt      time.Time        `db:"data_erase_at" json:"data_erase_at"`
	FrequencyUnit    string           `db:"frequency_unit" json:"frequency_unit"`
	FrequencyValue   int              `db:"frequency_value" json:"frequency_value"`
	FrequencyRepeats int              `db:"frequency_repeats" json:"frequency_repeats"`
	HIPID            string           `db:"hip_id" json:"hip_id"`
	CMID             string           `db:"cm_id" json:"cm_id"`
	PurposeCode      string           `db:"purpose_code" json:"purpose_code"`
	Signature        *string          `db:"signature" json:"-"`
	DataRequestID    *string          `db:"data_request_id" json:"data_request_id,omitempty"`
	KeyPrivate       *string          `db:"key_private" json:"-"`
	KeyPublic        *string          `db:"key_public" json:"-"`
	KeyNonce         *string          `db:"key_nonce" json:"-"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}
