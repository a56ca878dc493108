// Package dataflow orchestrates health-information transfer sessions:
// raising requests as data requester, serving them as data provider, and
// receiving pushed payloads.
package dataflow

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hdx/bridge/internal/platform/gateway"
)

// ReceivedInformation maps to the received_health_information table: one
// decrypted document pushed to this bridge as data requester.
type ReceivedInformation struct {
	ID                   uuid.UUID       `db:"id" json:"id"`
	TransactionID        string          `db:"transaction_id" json:"transaction_id"`
	ArtefactID           string          `db:"artefact_id" json:"artefact_id"`
	CareContextReference string          `db:"care_context_reference" json:"care_context_reference"`
	Content              json.RawMessage `db:"content" json:"content"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
}

// HIRequest is an inbound health-information request callback (HIP side).
type HIRequest struct {
	TransactionID  string
	ReplyRequestID string
	ConsentID      string
	DateFrom       time.Time
	DateTo         time.Time
	DataPushURL    string
	KeyMaterial    gateway.KeyMaterial
}

// TransferEntryIn is one pushed document before decryption.
type TransferEntryIn struct {
	Content              string
	CareContextReference string
}

// TransferPayload is an inbound data push (HIU side). The key material is
// the sender's public half.
type TransferPayload struct {
	TransactionID string
	Entries       []TransferEntryIn
	KeyMaterial   gateway.KeyMaterial
}
