package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var linkMethods = map[string]bool{
	"create_via_enrollment": true,
	"link_via_otp":          true,
	"scan_and_pull":         true,
}

// validateMetadata checks a row's metadata against the fixed shape for its
// type. Unknown fields and missing required fields are hard failures; a row
// that fails here is never persisted. Internal-access rows carry no
// metadata.
func validateMetadata(t TransactionType, metadata json.RawMessage) error {
	switch t {
	case TypeInternalAccess:
		if len(metadata) > 0 && !bytes.Equal(metadata, []byte("null")) {
			return fmt.Errorf("internal-access rows carry no metadata")
		}
		return nil
	case TypeIdentityLink:
		var m IdentityLinkMetadata
		if err := strictDecode(metadata, &m); err != nil {
			return err
		}
		if m.IdentityID == "" {
			return fmt.Errorf("identity_id is required")
		}
		if !linkMethods[m.Method] {
			return fmt.Errorf("unknown identity link method %q", m.Method)
		}
	case TypeAddressCreation:
		var m AddressCreationMetadata
		if err := strictDecode(metadata, &m); err != nil {
			return err
		}
		if m.IdentityID == "" {
			return fmt.Errorf("identity_id is required")
		}
	case TypeShareTokenIssue:
		var m ShareTokenIssueMetadata
		if err := strictDecode(metadata, &m); err != nil {
			return err
		}
		if m.IdentityID == "" {
			return fmt.Errorf("identity_id is required")
		}
		if m.Token == "" {
			return fmt.Errorf("token is required")
		}
	case TypeCareContextLink:
		var m CareContextLinkMetadata
		if err := strictDecode(metadata, &m); err != nil {
			return err
		}
		if m.IdentityID == "" {
			return fmt.Errorf("identity_id is required")
		}
		if m.LinkType != LinkTypeHIPInitiated && m.LinkType != LinkTypePatientInitiated {
			return fmt.Errorf("unknown link type %q", m.LinkType)
		}
		if len(m.CareContexts) == 0 {
			return fmt.Errorf("care_contexts must not be empty")
		}
	case TypeDataExchange:
		var m DataExchangeMetadata
		if err := strictDecode(metadata, &m); err != nil {
			return err
		}
		if m.ConsentArtefact == "" {
			return fmt.Errorf("consent_artefact is required")
		}
	default:
		return fmt.Errorf("unknown transaction type %q", t)
	}
	return nil
}

func strictDecode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("metadata is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid metadata: %w", err)
	}
	return nil
}
