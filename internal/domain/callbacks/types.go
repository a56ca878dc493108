// Package callbacks receives the exchange gateway's asynchronous callbacks,
// validates their shape, and dispatches them to the owning domain services.
package callbacks

import "time"

type responseRef struct {
	RequestID string `json:"requestId"`
}

// tokenCallbackRequest is the reply to a link-token request.
type tokenCallbackRequest struct {
	AbhaAddress string      `json:"abhaAddress"`
	LinkToken   string      `json:"linkToken"`
	Response    responseRef `json:"response"`
}

func (r tokenCallbackRequest) valid() bool {
	return r.AbhaAddress != "" && r.LinkToken != "" && r.Response.RequestID != ""
}

type wireIdentifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// discoverRequest asks this bridge to find a patient by demographics.
type discoverRequest struct {
	TransactionID string `json:"transactionId"`
	Patient       struct {
		ID                    string           `json:"id"`
		Name                  string           `json:"name"`
		Gender                string           `json:"gender"`
		YearOfBirth           int              `json:"yearOfBirth"`
		VerifiedIdentifiers   []wireIdentifier `json:"verifiedIdentifiers"`
		UnverifiedIdentifiers []wireIdentifier `json:"unverifiedIdentifiers"`
	} `json:"patient"`
}

func (r discoverRequest) valid() bool {
	return r.TransactionID != "" && r.Patient.ID != ""
}

// linkInitRequest proposes discovered care contexts for OTP verification.
type linkInitRequest struct {
	TransactionID string `json:"transactionId"`
	AbhaAddress   string `json:"abhaAddress"`
	Patient       []struct {
		ReferenceNumber string `json:"referenceNumber"`
		CareContexts    []struct {
			ReferenceNumber string `json:"referenceNumber"`
		} `json:"careContexts"`
		HIType string `json:"hiType"`
		Count  int    `json:"count"`
	} `json:"patient"`
}

func (r linkInitRequest) valid() bool {
	return r.TransactionID != "" && len(r.Patient) > 0
}

// linkConfirmRequest carries the patient's verification code.
type linkConfirmRequest struct {
	Confirmation struct {
		LinkRefNumber string `json:"linkRefNumber"`
		Token         string `json:"token"`
	} `json:"confirmation"`
}

func (r linkConfirmRequest) valid() bool {
	return r.Confirmation.LinkRefNumber != "" && r.Confirmation.Token != ""
}

type wireDateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// hipNotifyRequest delivers a consent artefact to this bridge as data
// provider.
type hipNotifyRequest struct {
	Notification struct {
		Status        string `json:"status"`
		ConsentID     string `json:"consentId"`
		ConsentDetail *struct {
			Patient struct {
				ID string `json:"id"`
			} `json:"patient"`
			CareContexts []struct {
				PatientReference     string `json:"patientReference"`
				CareContextReference string `json:"careContextReference"`
			} `json:"careContexts"`
			HITypes    []string `json:"hiTypes"`
			Permission struct {
				AccessMode  string        `json:"accessMode"`
				DateRange   wireDateRange `json:"dateRange"`
				DataEraseAt string        `json:"dataEraseAt"`
				Frequency   struct {
					Unit    string `json:"unit"`
					Value   int    `json:"value"`
					Repeats int    `json:"repeats"`
				} `json:"frequency"`
			} `json:"permission"`
			HIP struct {
				ID string `json:"id"`
			} `json:"hip"`
			ConsentManager struct {
				ID string `json:"id"`
			} `json:"consentManager"`
			Purpose struct {
				Code string `json:"code"`
			} `json:"purpose"`
		} `json:"consentDetail"`
		Signature string `json:"signature"`
	} `json:"notification"`
}

func (r hipNotifyRequest) valid() bool {
	return r.Notification.ConsentID != "" && r.Notification.Status != ""
}

// hiuNotifyRequest reports the outcome of a consent request this bridge
// raised.
type hiuNotifyRequest struct {
	Notification struct {
		Status           string `json:"status"`
		ConsentRequestID string `json:"consentRequestId"`
		ConsentArtefacts []struct {
			ID string `json:"id"`
		} `json:"consentArtefacts"`
	} `json:"notification"`
}

func (r hiuNotifyRequest) valid() bool {
	return r.Notification.ConsentRequestID != "" && r.Notification.Status != ""
}

// hiRequestCallback asks this bridge to transfer health information under a
// granted artefact.
type hiRequestCallback struct {
	TransactionID string `json:"transactionId"`
	HIRequest     struct {
		Consent struct {
			ID string `json:"id"`
		} `json:"consent"`
		DateRange   wireDateRange `json:"dateRange"`
		DataPushURL string        `json:"dataPushUrl"`
		KeyMaterial struct {
			CryptoAlg   string `json:"cryptoAlg"`
			Curve       string `json:"curve"`
			DHPublicKey struct {
				Expiry     string `json:"expiry"`
				Parameters string `json:"parameters"`
				KeyValue   string `json:"keyValue"`
			} `json:"dhPublicKey"`
			Nonce string `json:"nonce"`
		} `json:"keyMaterial"`
	} `json:"hiRequest"`
}

func (r hiRequestCallback) valid() bool {
	return r.TransactionID != "" && r.HIRequest.Consent.ID != "" &&
		r.HIRequest.DataPushURL != "" && r.HIRequest.KeyMaterial.DHPublicKey.KeyValue != ""
}

// patientShareRequest delivers a scanned profile for token issuance.
type patientShareRequest struct {
	Intent struct {
		Type string `json:"type"`
	} `json:"intent"`
	MetaData struct {
		HipID     string `json:"hipId"`
		Context   string `json:"context"`
		HprID     string `json:"hprId"`
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
	} `json:"metaData"`
	Profile struct {
		Patient struct {
			AbhaNumber   string `json:"abhaNumber"`
			AbhaAddress  string `json:"abhaAddress"`
			Name         string `json:"name"`
			Gender       string `json:"gender"`
			DayOfBirth   int    `json:"dayOfBirth"`
			MonthOfBirth int    `json:"monthOfBirth"`
			YearOfBirth  int    `json:"yearOfBirth"`
			Address      struct {
				Line     string `json:"line"`
				District string `json:"district"`
				State    string `json:"state"`
				Pincode  string `json:"pincode"`
			} `json:"address"`
			PhoneNumber string `json:"phoneNumber"`
		} `json:"patient"`
	} `json:"profile"`
}

func (r patientShareRequest) valid() bool {
	return r.Intent.Type == "PROFILE_SHARE" && r.MetaData.HipID != "" &&
		r.Profile.Patient.AbhaAddress != ""
}

// parseTime accepts the gateway's millisecond timestamps as well as plain
// RFC 3339.
func parseTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02T15:04:05.000Z",
		time.RFC3339,
		"2006-01-02T15:04:05Z",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
