package dataflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hdx/bridge/internal/domain/consent"
	"github.com/hdx/bridge/internal/domain/ledger"
	"github.com/hdx/bridge/internal/domain/records"
	"github.com/hdx/bridge/internal/platform/envelope"
	"github.com/hdx/bridge/internal/platform/gateway"
)

const (
	cryptoAlg = "ECDH"
	curve     = "Curve25519"

	statusTransferred = "TRANSFERRED"
	statusFailed      = "FAILED"
)

// ErrNotGranted marks a data request against an artefact that is not in the
// GRANTED state.
var ErrNotGranted = errors.New("consent artefact is not granted")

type gatewayAPI interface {
	DataFlowRequest(ctx context.Context, p gateway.DataFlowRequestParams) error
	DataFlowHipOnRequest(ctx context.Context, p gateway.DataFlowHipOnRequestParams) error
	DataFlowTransfer(ctx context.Context, p gateway.DataFlowTransferParams) error
	DataFlowNotify(ctx context.Context, p gateway.DataFlowNotifyParams) error
}

type consentStore interface {
	GetArtefact(ctx context.Context, artefactID string) (*consent.ConsentArtefact, error)
	GetArtefactByDataRequest(ctx context.Context, dataRequestID string) (*consent.ConsentArtefact, error)
	SetArtefactDataRequest(ctx context.Context, artefactID, dataRequestID, keyPrivate, keyPublic, keyNonce string) error
}

type hiuResolver interface {
	HIPID(ctx context.Context, facilityID uuid.UUID) (string, error)
}

type ledgerWriter interface {
	Record(ctx context.Context, t ledger.TransactionType, referenceID string, metadata any, actor *uuid.UUID) error
}

// RecordEncoder resolves a care context reference into the document to
// transfer, restricted to the granted health-information types. It returns
// records.ErrSkip for references that cannot be served.
type RecordEncoder interface {
	Encode(ctx context.Context, reference string, allowedHITypes []string) (json.RawMessage, error)
}

type Service struct {
	repo        Repository
	consents    consentStore
	gw          gatewayAPI
	facilities  hiuResolver
	encoder     RecordEncoder
	ledger      ledgerWriter
	dataPushURL string
	logger      zerolog.Logger
}

func NewService(repo Repository, consents consentStore, gw gatewayAPI, facilities hiuResolver,
	encoder RecordEncoder, lw ledgerWriter, dataPushURL string, logger zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		consents:    consents,
		gw:          gw,
		facilities:  facilities,
		encoder:     encoder,
		ledger:      lw,
		dataPushURL: dataPushURL,
		logger:      logger.With().Str("component", "dataflow").Logger(),
	}
}

// RequestHealthInformation raises a data-flow request for a granted
// artefact. Fresh key material is generated for the session; the request id
// and the private half are stored on the artefact only after the gateway
// accepts the request.
func (s *Service) RequestHealthInformation(ctx context.Context, artefactID string, facilityID uuid.UUID) (string, error) {
	a, err := s.consents.GetArtefact(ctx, artefactID)
	if err != nil {
		return "", err
	}
	if a.Status != consent.StatusGranted {
		return "", fmt.Errorf("%w: artefact %s is %s", ErrNotGranted, artefactID, a.Status)
	}
	hiuID, err := s.facilities.HIPID(ctx, facilityID)
	if err != nil {
		return "", fmt.Errorf("resolve requesting facility: %w", err)
	}
	km, err := envelope.Generate()
	if err != nil {
		return "", fmt.Errorf("generate key material: %w", err)
	}

	requestID := gateway.NewRequestID()
	err = s.gw.DataFlowRequest(ctx, gateway.DataFlowRequestParams{
		RequestID:   requestID,
		HIUID:       hiuID,
		ArtefactID:  artefactID,
		From:        a.DateFrom,
		To:          a.DateTo,
		DataPushURL: s.dataPushURL + "?requestId=" + requestID,
		KeyMaterial: gateway.KeyMaterial{
			CryptoAlg: cryptoAlg,
			Curve:     curve,
			PublicKey: km.PublicKey,
			Nonce:     km.Nonce,
			Expiry:    gateway.KeyExpiry(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("data-flow request: %w", err)
	}
	if err := s.consents.SetArtefactDataRequest(ctx, artefactID, requestID, km.PrivateKey, km.PublicKey, km.Nonce); err != nil {
		return "", fmt.Errorf("store session on artefact: %w", err)
	}
	s.logger.Info().Str("artefact_id", artefactID).Str("request_id", requestID).Msg("health information requested")
	return requestID, nil
}

// HandleRequest serves an inbound health-information request: acknowledge
// first, then run the transfer in the background. A transfer failure is
// reported to the network, never surfaced to the caller.
func (s *Service) HandleRequest(ctx context.Context, req HIRequest) error {
	a, err := s.consents.GetArtefact(ctx, req.ConsentID)
	if err != nil {
		return err
	}
	if err := s.gw.DataFlowHipOnRequest(ctx, gateway.DataFlowHipOnRequestParams{
		TransactionID:  req.TransactionID,
		ReplyRequestID: req.ReplyRequestID,
	}); err != nil {
		return fmt.Errorf("acknowledge data request: %w", err)
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		if err := s.Transfer(bg, a, req); err != nil {
			s.logger.Error().Err(err).Str("transaction_id", req.TransactionID).Msg("health information transfer failed")
		}
	}()
	return nil
}

// Transfer encodes, encrypts, and pushes the artefact's care contexts, then
// notifies the outcome. Entries the encoder cannot serve are skipped; any
// hard error notifies FAILED and is returned.
func (s *Service) Transfer(ctx context.Context, a *consent.ConsentArtefact, req HIRequest) error {
	km, err := envelope.Generate()
	if err != nil {
		return s.failTransfer(ctx, a, req, fmt.Errorf("generate key material: %w", err))
	}

	var entries []gateway.TransferEntry
	var refs []string
	for _, cc := range a.CareContexts {
		content, err := s.encoder.Encode(ctx, cc.CareContextReference, a.HITypes)
		if errors.Is(err, records.ErrSkip) {
			continue
		}
		if err != nil {
			return s.failTransfer(ctx, a, req, fmt.Errorf("encode %s: %w", cc.CareContextReference, err))
		}
		ciphertext, err := envelope.Encrypt(km.PrivateKey, km.Nonce,
			req.KeyMaterial.PublicKey, req.KeyMaterial.Nonce, content)
		if err != nil {
			return s.failTransfer(ctx, a, req, fmt.Errorf("encrypt %s: %w", cc.CareContextReference, err))
		}
		sum := sha256.Sum256(content)
		entries = append(entries, gateway.TransferEntry{
			Content:              ciphertext,
			Media:                "application/fhir+json",
			Checksum:             hex.EncodeToString(sum[:]),
			CareContextReference: cc.CareContextReference,
		})
		refs = append(refs, cc.CareContextReference)
	}

	err = s.gw.DataFlowTransfer(ctx, gateway.DataFlowTransferParams{
		PushURL:       req.DataPushURL,
		TransactionID: req.TransactionID,
		Entries:       entries,
		KeyMaterial: gateway.KeyMaterial{
			CryptoAlg: cryptoAlg,
			Curve:     curve,
			PublicKey: km.PublicKey,
			Nonce:     km.Nonce,
			Expiry:    gateway.KeyExpiry(),
		},
	})
	if err != nil {
		return s.failTransfer(ctx, a, req, fmt.Errorf("push health information: %w", err))
	}

	if err := s.ledger.Record(ctx, ledger.TypeDataExchange, req.TransactionID, ledger.DataExchangeMetadata{
		ConsentArtefact: a.ArtefactID,
		IsIncoming:      false,
	}, nil); err != nil {
		return s.failTransfer(ctx, a, req, err)
	}

	if err := s.notify(ctx, a, req, statusTransferred, refs); err != nil {
		return err
	}
	s.logger.Info().
		Str("transaction_id", req.TransactionID).
		Int("entries", len(entries)).
		Int("skipped", len(a.CareContexts)-len(entries)).
		Msg("health information transferred")
	return nil
}

func (s *Service) failTransfer(ctx context.Context, a *consent.ConsentArtefact, req HIRequest, cause error) error {
	if err := s.notify(ctx, a, req, statusFailed, nil); err != nil {
		s.logger.Error().Err(err).Str("transaction_id", req.TransactionID).Msg("failure notification failed")
	}
	return cause
}

func (s *Service) notify(ctx context.Context, a *consent.ConsentArtefact, req HIRequest, status string, refs []string) error {
	return s.gw.DataFlowNotify(ctx, gateway.DataFlowNotifyParams{
		ConsentID:             a.ArtefactID,
		TransactionID:         req.TransactionID,
		NotifierType:          "HIP",
		NotifierID:            a.HIPID,
		Status:                status,
		HIPID:                 a.HIPID,
		CareContextReferences: refs,
	})
}

// ReceiveTransfer stores a data push addressed to one of this bridge's
// outstanding requests, decrypting each entry with the artefact's session
// key material.
func (s *Service) ReceiveTransfer(ctx context.Context, dataRequestID string, p TransferPayload) error {
	if dataRequestID == "" {
		return fmt.Errorf("request id is required")
	}
	a, err := s.consents.GetArtefactByDataRequest(ctx, dataRequestID)
	if err != nil {
		return err
	}
	if a.KeyPrivate == nil || a.KeyNonce == nil {
		return fmt.Errorf("artefact %s has no session key material", a.ArtefactID)
	}

	for _, entry := range p.Entries {
		plaintext, err := envelope.Decrypt(*a.KeyPrivate, *a.KeyNonce,
			p.KeyMaterial.PublicKey, p.KeyMaterial.Nonce, entry.Content)
		if err != nil {
			return fmt.Errorf("decrypt %s: %w", entry.CareContextReference, err)
		}
		if err := s.repo.CreateReceived(ctx, &ReceivedInformation{
			TransactionID:        p.TransactionID,
			ArtefactID:           a.ArtefactID,
			CareContextReference: entry.CareContextReference,
			Content:              plaintext,
		}); err != nil {
			return fmt.Errorf("store received entry: %w", err)
		}
	}

	if err := s.ledger.Record(ctx, ledger.TypeDataExchange, p.TransactionID, ledger.DataExchangeMetadata{
		ConsentArtefact: a.ArtefactID,
		IsIncoming:      true,
	}, nil); err != nil {
		return err
	}
	s.logger.Info().
		Str("transaction_id", p.TransactionID).
		Int("entries", len(p.Entries)).
		Msg("health information received")
	return nil
}

// DeliverLocalPayload hands previously received documents to a local
// viewer. Every delivery is recorded as an internal access.
func (s *Service) DeliverLocalPayload(ctx context.Context, careContextReference string, actor *uuid.UUID) ([]*ReceivedInformation, error) {
	items, err := s.repo.ListByReference(ctx, careContextReference)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	if err := s.ledger.Record(ctx, ledger.TypeInternalAccess, careContextReference, nil, actor); err != nil {
		return nil, err
	}
	return items, nil
}
