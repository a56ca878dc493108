// Package ledger is the append-only record of every exchange the bridge
// takes part in. Rows are written at protocol milestones and never updated
// or deleted.
package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TransactionType tags a ledger row with the protocol milestone it records.
type TransactionType string

const (
	TypeIdentityLink    TransactionType = "identity-link"
	TypeAddressCreation TransactionType = "address-creation"
	TypeShareTokenIssue TransactionType = "share-token-issue"
	TypeCareContextLink TransactionType = "care-context-link"
	TypeDataExchange    TransactionType = "data-exchange"
	TypeInternalAccess  TransactionType = "internal-access"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeIdentityLink, TypeAddressCreation, TypeShareTokenIssue,
		TypeCareContextLink, TypeDataExchange, TypeInternalAccess:
		return true
	}
	return false
}

// Transaction maps to the exchange_transactions table. ReferenceID equals
// the network's request or transaction id when one exists.
type Transaction struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	ReferenceID string          `db:"reference_id" json:"reference_id"`
	Type        TransactionType `db:"type" json:"type"`
	Metadata    json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedBy   *uuid.UUID      `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// IdentityLinkMetadata records how an exchange identity came to be linked to
// a local subject.
type IdentityLinkMetadata struct {
	IdentityID string `json:"identity_id"`
	Method     string `json:"method"`
}

// AddressCreationMetadata records the enrollment of a new exchange address.
type AddressCreationMetadata struct {
	IdentityID string `json:"identity_id"`
}

// ShareTokenIssueMetadata records a scan-and-share token grant.
type ShareTokenIssueMetadata struct {
	IdentityID        string `json:"identity_id"`
	IsExistingSubject bool   `json:"is_existing_subject"`
	Token             string `json:"token"`
}

// CareContextLinkMetadata records a batch of care contexts pushed to the
// network.
type CareContextLinkMetadata struct {
	IdentityID   string   `json:"identity_id"`
	LinkType     string   `json:"type"`
	CareContexts []string `json:"care_contexts"`
}

const (
	LinkTypeHIPInitiated     = "hip_initiated_linking"
	LinkTypePatientInitiated = "patient_initiated_linking"
)

// DataExchangeMetadata records a health-information transfer session.
type DataExchangeMetadata struct {
	ConsentArtefact string `json:"consent_artefact"`
	IsIncoming      bool   `json:"is_incoming"`
}
