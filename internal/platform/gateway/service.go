package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/hdx/bridge/internal/config"
)

// Service exposes one method per outbound protocol step. Each method builds
// the step's fixed payload, posts it through the Client, and checks the
// endpoint's expected status: 202 for asynchronous acknowledgements, 200 for
// the synchronous-style calls. Anything else surfaces as *Error carrying the
// remote message.
type Service struct {
	client *Client
	cmID   string
}

func NewService(client *Client, cfg *config.Config) *Service {
	return &Service{client: client, cmID: cfg.GatewayCMID}
}

func (s *Service) headers(requestID string, extra map[string]string) map[string]string {
	h := map[string]string{
		"REQUEST-ID": requestID,
		"TIMESTAMP":  Timestamp(),
		"X-CM-ID":    s.cmID,
	}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func (s *Service) post(ctx context.Context, path string, payload any, headers map[string]string, expected int) (*Response, error) {
	resp, err := s.client.Post(ctx, path, payload, headers)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != expected {
		return nil, &Error{Path: path, Status: resp.StatusCode, Message: ExtractMessage(resp.Body)}
	}
	return resp, nil
}

// TokenGenerateToken asks the gateway for a link token for the subject. The
// token arrives later on the on-generate-token callback correlated by
// p.RequestID.
func (s *Service) TokenGenerateToken(ctx context.Context, p TokenGenerateTokenParams) error {
	payload := map[string]any{
		"abhaNumber":  p.Number,
		"abhaAddress": p.Address,
		"name":        p.Name,
		"gender":      p.Gender,
		"yearOfBirth": p.YearOfBirth,
	}
	_, err := s.post(ctx, "/v3/token/generate-token", payload, s.headers(p.RequestID, map[string]string{
		"X-HIP-ID": p.HIPID,
	}), http.StatusAccepted)
	return err
}

// LinkCareContext pushes a grouped batch of care contexts under a valid link
// token.
func (s *Service) LinkCareContext(ctx context.Context, p LinkCareContextParams) error {
	payload := map[string]any{
		"abhaNumber":  p.Number,
		"abhaAddress": p.Address,
		"patient":     GroupByHIType(p.Subject),
	}
	_, err := s.post(ctx, "/hip/v3/link/carecontext", payload, s.headers(p.RequestID, map[string]string{
		"X-HIP-ID":     p.HIPID,
		"X-LINK-TOKEN": p.LinkToken,
	}), http.StatusAccepted)
	return err
}

// OnDiscover replies to a discovery callback with either the matched
// subject's grouped care contexts or the protocol's patient-not-found error.
func (s *Service) OnDiscover(ctx context.Context, p OnDiscoverParams) error {
	payload := map[string]any{
		"transactionId": p.TransactionID,
		"response":      map[string]string{"requestId": p.ReplyRequestID},
	}
	if p.Subject != nil {
		payload["patient"] = GroupByHIType(*p.Subject)
		payload["matchedBy"] = p.MatchedBy
	} else {
		payload["error"] = map[string]string{
			"code":    "ABDM-1010",
			"message": "Patient not found",
		}
	}
	_, err := s.post(ctx, "/user-initiated-linking/v3/patient/care-context/on-discover",
		payload, s.headers(NewRequestID(), nil), http.StatusAccepted)
	return err
}

// OnInit acknowledges a user-initiated link init with the link reference and
// the OTP delivery meta.
func (s *Service) OnInit(ctx context.Context, p OnInitParams) error {
	payload := map[string]any{
		"transactionId": p.TransactionID,
		"link": map[string]any{
			"referenceNumber":    p.LinkReference,
			"authenticationType": "DIRECT",
			"meta": map[string]string{
				"communicationMedium": "MOBILE",
				"communicationHint":   "OTP",
				"communicationExpiry": FormatTime(p.OTPExpiry),
			},
		},
		"response": map[string]string{"requestId": p.ReplyRequestID},
	}
	_, err := s.post(ctx, "/user-initiated-linking/v3/link/care-context/on-init",
		payload, s.headers(NewRequestID(), nil), http.StatusAccepted)
	return err
}

// OnConfirm finalizes a user-initiated link with the confirmed subset of
// care contexts.
func (s *Service) OnConfirm(ctx context.Context, p OnConfirmParams) error {
	payload := map[string]any{
		"response": map[string]string{"requestId": p.ReplyRequestID},
	}
	if p.Subject != nil && len(p.Subject.CareContexts) > 0 {
		payload["patient"] = GroupByHIType(*p.Subject)
	}
	_, err := s.post(ctx, "/user-initiated-linking/v3/link/care-context/on-confirm",
		payload, s.headers(p.RequestID, nil), http.StatusAccepted)
	return err
}

// ConsentHipOnNotify acknowledges a consent notification on the provider
// side.
func (s *Service) ConsentHipOnNotify(ctx context.Context, p ConsentHipOnNotifyParams) error {
	payload := map[string]any{
		"acknowledgement": map[string]string{
			"status":    "ok",
			"consentId": p.ConsentID,
		},
		"response": map[string]string{"requestId": p.ReplyRequestID},
	}
	_, err := s.post(ctx, "/consent/v3/request/hip/on-notify",
		payload, s.headers(NewRequestID(), nil), http.StatusAccepted)
	return err
}

// ConsentInit submits a new consent request to the network.
func (s *Service) ConsentInit(ctx context.Context, p ConsentInitParams) error {
	payload := map[string]any{
		"consent": map[string]any{
			"purpose": map[string]string{
				"text":   p.PurposeText,
				"code":   p.PurposeCode,
				"refUri": "http://terminology.hl7.org/ValueSet/v3-PurposeOfUse",
			},
			"patient": map[string]string{"id": p.PatientAddress},
			"hiu":     map[string]string{"id": p.HIUID},
			"requester": map[string]any{
				"name": p.RequesterName,
				"identifier": map[string]string{
					"type":   "Bridge Username",
					"value":  p.RequesterUsername,
					"system": p.RequesterSystem,
				},
			},
			"hiTypes": p.HITypes,
			"permission": map[string]any{
				"accessMode": p.AccessMode,
				"dateRange": map[string]string{
					"from": FormatTime(p.From),
					"to":   FormatTime(p.To),
				},
				"dataEraseAt": FormatTime(p.DataEraseAt),
				"frequency": map[string]any{
					"unit":    p.FrequencyUnit,
					"value":   p.FrequencyValue,
					"repeats": p.FrequencyRepeats,
				},
			},
		},
	}
	_, err := s.post(ctx, "/consent/v3/request/init", payload, s.headers(p.RequestID, map[string]string{
		"X-HIU-ID": p.HIUID,
	}), http.StatusAccepted)
	return err
}

// ConsentStatus polls the network for a consent request's status; the answer
// arrives on its own callback.
func (s *Service) ConsentStatus(ctx context.Context, p ConsentStatusParams) error {
	payload := map[string]string{"consentRequestId": p.ConsentRequestID}
	_, err := s.post(ctx, "/consent/v3/request/status", payload, s.headers(NewRequestID(), map[string]string{
		"X-HIU-ID": p.HIUID,
	}), http.StatusAccepted)
	return err
}

// ConsentHiuOnNotify acknowledges a consent grant on the consumer side, one
// entry per artefact.
func (s *Service) ConsentHiuOnNotify(ctx context.Context, p ConsentHiuOnNotifyParams) error {
	acks := make([]map[string]string, 0, len(p.ArtefactIDs))
	for _, id := range p.ArtefactIDs {
		acks = append(acks, map[string]string{
			"consentId": id,
			"status":    "OK",
		})
	}
	payload := map[string]any{
		"acknowledgement": acks,
		"response":        map[string]string{"requestId": p.ReplyRequestID},
	}
	_, err := s.post(ctx, "/consent/v3/request/hiu/on-notify",
		payload, s.headers(NewRequestID(), nil), http.StatusAccepted)
	return err
}

// ConsentFetch asks the network for an artefact's detail.
func (s *Service) ConsentFetch(ctx context.Context, p ConsentFetchParams) error {
	payload := map[string]string{"consentId": p.ArtefactID}
	_, err := s.post(ctx, "/consent/v3/fetch", payload, s.headers(NewRequestID(), map[string]string{
		"X-HIU-ID": p.HIUID,
	}), http.StatusAccepted)
	return err
}

// DataFlowRequest opens a health-information session for a granted
// artefact, announcing the push URL and the consumer's public key material.
func (s *Service) DataFlowRequest(ctx context.Context, p DataFlowRequestParams) error {
	payload := map[string]any{
		"hiRequest": map[string]any{
			"consent": map[string]string{"id": p.ArtefactID},
			"dateRange": map[string]string{
				"from": FormatTime(p.From),
				"to":   FormatTime(p.To),
			},
			"dataPushUrl": p.DataPushURL,
			"keyMaterial": keyMaterialPayload(p.KeyMaterial),
		},
	}
	_, err := s.post(ctx, "/data-flow/v3/health-information/request", payload, s.headers(p.RequestID, map[string]string{
		"X-HIU-ID": p.HIUID,
	}), http.StatusAccepted)
	return err
}

// DataFlowHipOnRequest acknowledges receipt of a health-information request
// on the provider side. The gateway answers this one synchronously.
func (s *Service) DataFlowHipOnRequest(ctx context.Context, p DataFlowHipOnRequestParams) error {
	payload := map[string]any{
		"hiRequest": map[string]string{
			"transactionId": p.TransactionID,
			"sessionStatus": "ACKNOWLEDGED",
		},
		"response": map[string]string{"requestId": p.ReplyRequestID},
	}
	_, err := s.post(ctx, "/data-flow/v3/health-information/hip/on-request",
		payload, s.headers(NewRequestID(), nil), http.StatusOK)
	return err
}

// DataFlowTransfer pushes the encrypted entries straight to the requester's
// push URL, tagged with the sender's key material.
func (s *Service) DataFlowTransfer(ctx context.Context, p DataFlowTransferParams) error {
	entries := make([]map[string]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		entries = append(entries, map[string]string{
			"content":              e.Content,
			"media":                e.Media,
			"checksum":             e.Checksum,
			"careContextReference": e.CareContextReference,
		})
	}
	payload := map[string]any{
		"pageNumber":    1,
		"pageCount":     1,
		"transactionId": p.TransactionID,
		"entries":       entries,
		"keyMaterial":   keyMaterialPayload(p.KeyMaterial),
	}
	_, err := s.post(ctx, p.PushURL, payload, nil, http.StatusAccepted)
	return err
}

// DataFlowNotify reports the terminal status of a transfer session. FAILED
// sessions are reported the same way as TRANSFERRED ones.
func (s *Service) DataFlowNotify(ctx context.Context, p DataFlowNotifyParams) error {
	hiStatus := "FAILED"
	if p.Status == "TRANSFERRED" {
		hiStatus = "DELIVERED"
	}
	responses := make([]map[string]string, 0, len(p.CareContextReferences))
	for _, ref := range p.CareContextReferences {
		responses = append(responses, map[string]string{
			"careContextReference": ref,
			"hiStatus":             hiStatus,
			"description":          p.Status,
		})
	}
	payload := map[string]any{
		"notification": map[string]any{
			"consentId":     p.ConsentID,
			"transactionId": p.TransactionID,
			"doneAt":        Timestamp(),
			"notifier": map[string]string{
				"type": p.NotifierType,
				"id":   p.NotifierID,
			},
			"statusNotification": map[string]any{
				"sessionStatus":   p.Status,
				"hipId":           p.HIPID,
				"statusResponses": responses,
			},
		},
	}
	_, err := s.post(ctx, "/data-flow/v3/health-information/notify",
		payload, s.headers(NewRequestID(), nil), http.StatusAccepted)
	return err
}

// PatientShareOnShare acknowledges a scan-and-share callback with the issued
// token number, or a FAILED status.
func (s *Service) PatientShareOnShare(ctx context.Context, p PatientShareOnShareParams) error {
	payload := map[string]any{
		"acknowledgement": map[string]any{
			"status":      p.Status,
			"abhaAddress": p.Address,
			"profile": map[string]any{
				"context":     p.Context,
				"tokenNumber": p.TokenNumber,
				"expiry":      p.ExpirySeconds,
			},
		},
		"response": map[string]string{"requestId": p.ReplyRequestID},
	}
	_, err := s.post(ctx, "/patient-share/v3/on-share",
		payload, s.headers(NewRequestID(), nil), http.StatusAccepted)
	return err
}

// IdentityAuthentication performs a demographic identity check. Unlike the
// rest of the surface the gateway answers it synchronously with 200 and a
// body.
func (s *Service) IdentityAuthentication(ctx context.Context, p IdentityAuthenticationParams) (map[string]any, error) {
	payload := map[string]any{
		"scope": "DEMO",
		"parameters": map[string]any{
			"abhaNumber":  p.Number,
			"abhaAddress": p.Address,
			"name":        p.Name,
			"gender":      p.Gender,
			"yearOfBirth": p.YearOfBirth,
		},
	}
	resp, err := s.post(ctx, "/identity/authentication", payload, s.headers(NewRequestID(), map[string]string{
		"REQUESTER-ID": p.RequesterID,
	}), http.StatusOK)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func keyMaterialPayload(km KeyMaterial) map[string]any {
	return map[string]any{
		"cryptoAlg": km.CryptoAlg,
		"curve":     km.Curve,
		"dhPublicKey": map[string]string{
			"expiry":     FormatTime(km.Expiry),
			"parameters": km.Curve + "/32byte random key",
			"keyValue":   km.PublicKey,
		},
		"nonce": km.Nonce,
	}
}

// KeyExpiry is the validity the consumer advertises for freshly generated
// key material.
func KeyExpiry() time.Time {
	return time.Now().Add(48 * time.Hour)
}
