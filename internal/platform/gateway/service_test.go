package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/hdx/bridge/internal/config"
)

func newTestService(t *testing.T, handler http.Handler) *Service {
	t.Helper()
	client, _, srv := newTestClient(t, handler)
	cfg := &config.Config{GatewayURL: srv.URL, GatewayCMID: "sbx"}
	return NewService(client, cfg)
}

func withSession(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("/v0.5/sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"accessToken": "t", "expiresIn": 600})
	})
	return mux
}

func TestTokenGenerateToken_Headers(t *testing.T) {
	var gotHeaders http.Header
	var gotBody map[string]any

	mux := withSession(http.NewServeMux())
	mux.HandleFunc("/v3/token/generate-token", func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	})

	svc := newTestService(t, mux)
	err := svc.TokenGenerateToken(context.Background(), TokenGenerateTokenParams{
		RequestID:   "req-1",
		HIPID:       "HF001",
		Number:      "91123456789012",
		Address:     "subject@hdx",
		Name:        "Jan Kirti",
		Gender:      "F",
		YearOfBirth: 1988,
	})
	if err != nil {
		t.Fatalf("TokenGenerateToken() error: %v", err)
	}

	if gotHeaders.Get("REQUEST-ID") != "req-1" {
		t.Errorf("REQUEST-ID = %q", gotHeaders.Get("REQUEST-ID"))
	}
	if gotHeaders.Get("X-HIP-ID") != "HF001" {
		t.Errorf("X-HIP-ID = %q", gotHeaders.Get("X-HIP-ID"))
	}
	if gotHeaders.Get("X-CM-ID") != "sbx" {
		t.Errorf("X-CM-ID = %q", gotHeaders.Get("X-CM-ID"))
	}
	if gotHeaders.Get("TIMESTAMP") == "" {
		t.Error("expected TIMESTAMP header")
	}
	if gotBody["abhaAddress"] != "subject@hdx" {
		t.Errorf("unexpected payload: %v", gotBody)
	}
}

func TestLinkCareContext_GroupsByHIType(t *testing.T) {
	var gotBody map[string]any

	mux := withSession(http.NewServeMux())
	mux.HandleFunc("/hip/v3/link/carecontext", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		if r.Header.Get("X-LINK-TOKEN") != "link-token" {
			t.Errorf("X-LINK-TOKEN = %q", r.Header.Get("X-LINK-TOKEN"))
		}
		w.WriteHeader(http.StatusAccepted)
	})

	svc := newTestService(t, mux)
	err := svc.LinkCareContext(context.Background(), LinkCareContextParams{
		RequestID: "req-2",
		HIPID:     "HF001",
		LinkToken: "link-token",
		Number:    "91123456789012",
		Address:   "subject@hdx",
		Subject: SubjectEntry{
			Reference: "subj-ext-1",
			Display:   "Jan Kirti",
			CareContexts: []CareContext{
				{Reference: "v1::encounter::e1", Display: "Encounter 1", HIType: "OPConsultation"},
				{Reference: "v1::encounter::e2", Display: "Encounter 2", HIType: "OPConsultation"},
				{Reference: "v2::medication_request::2026-01-05", Display: "Medication", HIType: "Prescription"},
			},
		},
	})
	if err != nil {
		t.Fatalf("LinkCareContext() error: %v", err)
	}

	patient, ok := gotBody["patient"].([]any)
	if !ok || len(patient) != 2 {
		t.Fatalf("expected 2 grouped entries, got %v", gotBody["patient"])
	}
	first := patient[0].(map[string]any)
	if first["hiType"] != "OPConsultation" || first["count"] != float64(2) {
		t.Errorf("unexpected first group: %v", first)
	}
	if first["referenceNumber"] != "subj-ext-1" || first["display"] != "Jan Kirti" {
		t.Errorf("unexpected subject fields: %v", first)
	}
}

func TestOnDiscover_NotFound(t *testing.T) {
	var gotBody map[string]any

	mux := withSession(http.NewServeMux())
	mux.HandleFunc("/user-initiated-linking/v3/patient/care-context/on-discover", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	})

	svc := newTestService(t, mux)
	err := svc.OnDiscover(context.Background(), OnDiscoverParams{
		TransactionID:  "txn-1",
		ReplyRequestID: "req-3",
	})
	if err != nil {
		t.Fatalf("OnDiscover() error: %v", err)
	}

	errBody, ok := gotBody["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error payload, got %v", gotBody)
	}
	if errBody["code"] != "ABDM-1010" || errBody["message"] != "Patient not found" {
		t.Errorf("unexpected error body: %v", errBody)
	}
	if _, present := gotBody["patient"]; present {
		t.Error("patient must be absent on a miss")
	}
}

func TestDataFlowHipOnRequest_Expects200(t *testing.T) {
	mux := withSession(http.NewServeMux())
	mux.HandleFunc("/data-flow/v3/health-information/hip/on-request", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	svc := newTestService(t, mux)
	err := svc.DataFlowHipOnRequest(context.Background(), DataFlowHipOnRequestParams{
		TransactionID:  "txn-1",
		ReplyRequestID: "req-4",
	})

	var gwErr *Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *Error for unexpected status, got %v", err)
	}
	if gwErr.Status != http.StatusAccepted {
		t.Errorf("expected recorded status 202, got %d", gwErr.Status)
	}
}

func TestDataFlowTransfer_AbsoluteURL(t *testing.T) {
	var gotBody map[string]any
	var gotPath string

	mux := withSession(http.NewServeMux())
	mux.HandleFunc("/push/here", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusAccepted)
	})

	client, _, srv := newTestClient(t, mux)
	svc := NewService(client, &config.Config{GatewayURL: srv.URL, GatewayCMID: "sbx"})

	err := svc.DataFlowTransfer(context.Background(), DataFlowTransferParams{
		PushURL:       srv.URL + "/push/here",
		TransactionID: "txn-2",
		Entries: []TransferEntry{
			{Content: "ciphertext", Media: "application/fhir+json", CareContextReference: "v1::encounter::e1"},
		},
		KeyMaterial: KeyMaterial{
			CryptoAlg: "ECDH",
			Curve:     "Curve25519",
			PublicKey: "pub",
			Nonce:     "nonce",
			Expiry:    time.Now().Add(48 * time.Hour),
		},
	})
	if err != nil {
		t.Fatalf("DataFlowTransfer() error: %v", err)
	}
	if gotPath != "/push/here" {
		t.Errorf("expected push to absolute URL, got %q", gotPath)
	}
	km := gotBody["keyMaterial"].(map[string]any)
	if km["cryptoAlg"] != "ECDH" || km["nonce"] != "nonce" {
		t.Errorf("unexpected key material: %v", km)
	}
	if gotBody["pageNumber"] != float64(1) {
		t.Errorf("expected single page push, got %v", gotBody["pageNumber"])
	}
}

func TestDataFlowNotify_FailedStatus(t *testing.T) {
	var gotBody map[string]any

	mux := withSession(http.NewServeMux())
	mux.HandleFunc("/data-flow/v3/health-information/notify", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	})

	svc := newTestService(t, mux)
	err := svc.DataFlowNotify(context.Background(), DataFlowNotifyParams{
		ConsentID:             "consent-1",
		TransactionID:         "txn-3",
		NotifierType:          "HIP",
		NotifierID:            "HF001",
		Status:                "FAILED",
		HIPID:                 "HF001",
		CareContextReferences: []string{"v1::encounter::e1"},
	})
	if err != nil {
		t.Fatalf("DataFlowNotify() error: %v", err)
	}

	notification := gotBody["notification"].(map[string]any)
	statusNotification := notification["statusNotification"].(map[string]any)
	if statusNotification["sessionStatus"] != "FAILED" {
		t.Errorf("unexpected session status: %v", statusNotification["sessionStatus"])
	}
	responses := statusNotification["statusResponses"].([]any)
	if responses[0].(map[string]any)["hiStatus"] != "FAILED" {
		t.Errorf("expected FAILED hiStatus, got %v", responses[0])
	}
}

func TestConsentHiuOnNotify_OneAckPerArtefact(t *testing.T) {
	var gotBody map[string]any

	mux := withSession(http.NewServeMux())
	mux.HandleFunc("/consent/v3/request/hiu/on-notify", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	})

	svc := newTestService(t, mux)
	err := svc.ConsentHiuOnNotify(context.Background(), ConsentHiuOnNotifyParams{
		ReplyRequestID: "req-5",
		ArtefactIDs:    []string{"art-1", "art-2", "art-3"},
	})
	if err != nil {
		t.Fatalf("ConsentHiuOnNotify() error: %v", err)
	}

	acks := gotBody["acknowledgement"].([]any)
	if len(acks) != 3 {
		t.Fatalf("expected 3 acknowledgements, got %d", len(acks))
	}
	if acks[0].(map[string]any)["consentId"] != "art-1" {
		t.Errorf("unexpected ack: %v", acks[0])
	}
}

func TestIdentityAuthentication_ReturnsBody(t *testing.T) {
	mux := withSession(http.NewServeMux())
	mux.HandleFunc("/identity/authentication", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("REQUESTER-ID") != "HF001" {
			t.Errorf("REQUESTER-ID = %q", r.Header.Get("REQUESTER-ID"))
		}
		json.NewEncoder(w).Encode(map[string]any{"authenticated": true})
	})

	svc := newTestService(t, mux)
	body, err := svc.IdentityAuthentication(context.Background(), IdentityAuthenticationParams{
		RequesterID: "HF001",
		Number:      "91123456789012",
		Address:     "subject@hdx",
		Name:        "Jan Kirti",
		Gender:      "F",
		YearOfBirth: 1988,
	})
	if err != nil {
		t.Fatalf("IdentityAuthentication() error: %v", err)
	}
	if body["authenticated"] != true {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestExtractMessage(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nested error", map[string]any{"error": map[string]any{"message": "inner"}}, "inner"},
		{"flat message", map[string]any{"message": "flat"}, "flat"},
		{"bare string", "just text", "just text"},
		{"list", []any{map[string]any{"message": "first"}}, "first"},
		{"field map", map[string]any{"code": "x", "timestamp": "y", "field": "bad value"}, "bad value"},
		{"empty", map[string]any{}, genericErrorMessage},
		{"nil", nil, genericErrorMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractMessage(tt.in); got != tt.want {
				t.Errorf("ExtractMessage(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
