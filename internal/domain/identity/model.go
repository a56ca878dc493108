// Package identity holds the bridge-local subject registry and the exchange
// identities (national health addresses) linked to it. Discovery matching
// and scan-and-share enrollment both live here.
package identity

import (
	"time"

	"github.com/google/uuid"
)

// Subject is a person known to the local clinical system.
type Subject struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Gender      string    `db:"gender" json:"gender"`
	Phone       *string   `db:"phone" json:"phone,omitempty"`
	YearOfBirth *int      `db:"year_of_birth" json:"year_of_birth,omitempty"`
	DateOfBirth *string   `db:"date_of_birth" json:"date_of_birth,omitempty"`
	AddressLine *string   `db:"address_line" json:"address_line,omitempty"`
	District    *string   `db:"district" json:"district,omitempty"`
	State       *string   `db:"state" json:"state,omitempty"`
	Pincode     *string   `db:"pincode" json:"pincode,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ExchangeIdentity is a national health account tied to a local subject.
// Address is the human-readable alias; Number is the 14-digit account
// number when known.
type ExchangeIdentity struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Number      *string    `db:"number" json:"number,omitempty"`
	Address     string     `db:"address" json:"address"`
	Name        string     `db:"name" json:"name"`
	Gender      string     `db:"gender" json:"gender"`
	YearOfBirth *int       `db:"year_of_birth" json:"year_of_birth,omitempty"`
	Mobile      *string    `db:"mobile" json:"mobile,omitempty"`
	AddressLine *string    `db:"address_line" json:"address_line,omitempty"`
	District    *string    `db:"district" json:"district,omitempty"`
	State       *string    `db:"state" json:"state,omitempty"`
	Pincode     *string    `db:"pincode" json:"pincode,omitempty"`
	SubjectID   *uuid.UUID `db:"subject_id" json:"subject_id,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt   *time.Time `db:"deleted_at" json:"-"`
}

// DiscoveryQuery carries the demographics a discovery request matches
// against.
type DiscoveryQuery struct {
	Number      string
	Address     string
	Name        string
	Gender      string
	Phone       string
	YearOfBirth int
}

// Identifier types the exchange uses in discovery requests.
const (
	IdentifierABHANumber  = "ABHA_NUMBER"
	IdentifierMobile      = "MOBILE"
	IdentifierMR          = "MR"
	IdentifierABHAAddress = "abhaAddress"
)
