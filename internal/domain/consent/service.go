package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hdx/bridge/internal/domain/identity"
	"github.com/hdx/bridge/internal/domain/records"
	"github.com/hdx/bridge/internal/platform/gateway"
)

var (
	// ErrPatientUnknown marks a notification naming an exchange address this
	// bridge has never enrolled.
	ErrPatientUnknown = errors.New("patient not known to this bridge")
	// ErrGrantExceedsRequest marks an artefact that grants more than its
	// request asked for.
	ErrGrantExceedsRequest = errors.New("artefact grant exceeds the consent request")
)

type gatewayAPI interface {
	ConsentInit(ctx context.Context, p gateway.ConsentInitParams) error
	ConsentStatus(ctx context.Context, p gateway.ConsentStatusParams) error
	ConsentFetch(ctx context.Context, p gateway.ConsentFetchParams) error
	ConsentHipOnNotify(ctx context.Context, p gateway.ConsentHipOnNotifyParams) error
	ConsentHiuOnNotify(ctx context.Context, p gateway.ConsentHiuOnNotifyParams) error
}

type hiuResolver interface {
	HIPID(ctx context.Context, facilityID uuid.UUID) (string, error)
}

type identityDirectory interface {
	GetByAddress(ctx context.Context, address string) (*identity.ExchangeIdentity, error)
}

type Service struct {
	repo       Repository
	gw         gatewayAPI
	facilities hiuResolver
	identities identityDirectory
	logger     zerolog.Logger
}

func NewService(repo Repository, gw gatewayAPI, facilities hiuResolver, identities identityDirectory, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		gw:         gw,
		facilities: facilities,
		identities: identities,
		logger:     logger.With().Str("component", "consent").Logger(),
	}
}

// CreateParams is the API-facing shape for raising a consent request.
type CreateParams struct {
	FacilityID        uuid.UUID
	PatientAddress    string
	PurposeCode       string
	RequesterName     string
	RequesterUsername string
	HITypes           []string
	AccessMode        string
	DateFrom          time.Time
	DateTo            time.Time
	DataEraseAt       time.Time
	FrequencyUnit     string
	FrequencyValue    int
	FrequencyRepeats  int
}

func (p CreateParams) validate() error {
	if p.PatientAddress == "" {
		return fmt.Errorf("patient address is required")
	}
	if PurposeLabel(p.PurposeCode) == "" {
		return fmt.Errorf("unknown purpose code %q", p.PurposeCode)
	}
	if p.RequesterName == "" {
		return fmt.Errorf("requester name is required")
	}
	if len(p.HITypes) == 0 {
		return fmt.Errorf("at least one health-information type is required")
	}
	for _, t := range p.HITypes {
		if !records.ValidHIType(t) {
			return fmt.Errorf("unknown health-information type %q", t)
		}
	}
	if !ValidAccessMode(p.AccessMode) {
		return fmt.Errorf("unknown access mode %q", p.AccessMode)
	}
	if !p.DateTo.After(p.DateFrom) {
		return fmt.Errorf("date range is empty")
	}
	if p.FrequencyUnit != "" && !ValidFrequencyUnit(p.FrequencyUnit) {
		return fmt.Errorf("unknown frequency unit %q", p.FrequencyUnit)
	}
	return nil
}

// Init raises a consent request on the network. The row is persisted only
// after the gateway accepts the request: a rejected or failed call leaves no
// local trace.
func (s *Service) Init(ctx context.Context, p CreateParams) (*ConsentRequest, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	hiuID, err := s.facilities.HIPID(ctx, p.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("resolve requesting facility: %w", err)
	}

	requestID := gateway.NewRequestID()
	err = s.gw.ConsentInit(ctx, gateway.ConsentInitParams{
		RequestID:         requestID,
		HIUID:             hiuID,
		PurposeCode:       p.PurposeCode,
		PurposeText:       PurposeLabel(p.PurposeCode),
		PatientAddress:    p.PatientAddress,
		RequesterName:     p.RequesterName,
		RequesterUsername: p.RequesterUsername,
		HITypes:           p.HITypes,
		AccessMode:        p.AccessMode,
		From:              p.DateFrom,
		To:                p.DateTo,
		DataEraseAt:       p.DataEraseAt,
		FrequencyUnit:     p.FrequencyUnit,
		FrequencyValue:    p.FrequencyValue,
		FrequencyRepeats:  p.FrequencyRepeats,
	})
	if err != nil {
		return nil, fmt.Errorf("consent init: %w", err)
	}

	req := &ConsentRequest{
		RequestID:         requestID,
		FacilityID:        p.FacilityID,
		PatientAddress:    p.PatientAddress,
		PurposeCode:       p.PurposeCode,
		RequesterName:     p.RequesterName,
		RequesterUsername: p.RequesterUsername,
		HITypes:           p.HITypes,
		AccessMode:        p.AccessMode,
		DateFrom:          p.DateFrom,
		DateTo:            p.DateTo,
		DataEraseAt:       p.DataEraseAt,
		FrequencyUnit:     p.FrequencyUnit,
		FrequencyValue:    p.FrequencyValue,
		FrequencyRepeats:  p.FrequencyRepeats,
		Status:            StatusRequested,
	}
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("persist consent request: %w", err)
	}
	s.logger.Info().Str("request_id", requestID).Str("patient", p.PatientAddress).Msg("consent request raised")
	return req, nil
}

// RequestStatus asks the network for the current state of a request.
func (s *Service) RequestStatus(ctx context.Context, requestID string) error {
	req, err := s.repo.GetRequestByRequestID(ctx, requestID)
	if err != nil {
		return err
	}
	hiuID, err := s.facilities.HIPID(ctx, req.FacilityID)
	if err != nil {
		return err
	}
	return s.gw.ConsentStatus(ctx, gateway.ConsentStatusParams{
		ConsentRequestID: requestID,
		HIUID:            hiuID,
	})
}

// Fetch asks the network for an artefact's full detail.
func (s *Service) Fetch(ctx context.Context, artefactID string, facilityID uuid.UUID) error {
	hiuID, err := s.facilities.HIPID(ctx, facilityID)
	if err != nil {
		return err
	}
	return s.gw.ConsentFetch(ctx, gateway.ConsentFetchParams{
		ArtefactID: artefactID,
		HIUID:      hiuID,
	})
}

// NotificationDetail is the artefact body inside a consent notification.
type NotificationDetail struct {
	PatientAddress   string
	CareContexts     []CareContextRef
	HITypes          []string
	AccessMode       string
	DateFrom         time.Time
	DateTo           time.Time
	DataEraseAt      time.Time
	FrequencyUnit    string
	FrequencyValue   int
	FrequencyRepeats int
	HIPID            string
	CMID             string
	PurposeCode      string
}

// HipNotification is a consent notification delivered to this bridge as
// data provider.
type HipNotification struct {
	ReplyRequestID string
	ConsentID      string
	Status         Status
	Signature      *string
	Detail         *NotificationDetail
}

// HandleHipNotify records a granted (or later revoked/expired) artefact and
// acknowledges it. Repeated delivery of the same consent id updates the
// existing row rather than duplicating it.
func (s *Service) HandleHipNotify(ctx context.Context, n HipNotification) error {
	if n.ConsentID == "" {
		return fmt.Errorf("consent id is required")
	}
	if !n.Status.Valid() {
		return fmt.Errorf("unknown consent status %q", n.Status)
	}

	if n.Detail != nil {
		if _, err := s.identities.GetByAddress(ctx, n.Detail.PatientAddress); err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				return ErrPatientUnknown
			}
			return err
		}
		for _, t := range n.Detail.HITypes {
			if !records.ValidHIType(t) {
				return fmt.Errorf("%w: unknown health-information type %q", ErrGrantExceedsRequest, t)
			}
		}
		// When the artefact descends from a request this bridge raised, the
		// grant must stay inside what that request asked for.
		if prior, err := s.repo.GetArtefactByArtefactID(ctx, n.ConsentID); err == nil && prior.ConsentRequestID != nil {
			req, err := s.repo.GetRequestByID(ctx, *prior.ConsentRequestID)
			if err != nil {
				return err
			}
			if err := ValidateGrant(req, n.Detail); err != nil {
				return err
			}
		}
		a := &ConsentArtefact{
			ArtefactID:       n.ConsentID,
			Status:           n.Status,
			PatientAddress:   n.Detail.PatientAddress,
			CareContexts:     n.Detail.CareContexts,
			HITypes:          n.Detail.HITypes,
			AccessMode:       n.Detail.AccessMode,
			DateFrom:         n.Detail.DateFrom,
			DateTo:           n.Detail.DateTo,
			DataEraseAt:      n.Detail.DataEraseAt,
			FrequencyUnit:    n.Detail.FrequencyUnit,
			FrequencyValue:   n.Detail.FrequencyValue,
			FrequencyRepeats: n.Detail.FrequencyRepeats,
			HIPID:            n.Detail.HIPID,
			CMID:             n.Detail.CMID,
			PurposeCode:      n.Detail.PurposeCode,
			Signature:        n.Signature,
		}
		if err := s.repo.UpsertArtefact(ctx, a); err != nil {
			return fmt.Errorf("upsert artefact: %w", err)
		}
	} else {
		// Status-only notification (revoke, expiry) for an artefact we must
		// already hold.
		if err := s.repo.UpdateArtefactStatus(ctx, n.ConsentID, n.Status); err != nil {
			return err
		}
	}

	if err := s.gw.ConsentHipOnNotify(ctx, gateway.ConsentHipOnNotifyParams{
		ConsentID:      n.ConsentID,
		ReplyRequestID: n.ReplyRequestID,
	}); err != nil {
		return fmt.Errorf("acknowledge consent notify: %w", err)
	}
	s.logger.Info().Str("consent_id", n.ConsentID).Str("status", string(n.Status)).Msg("consent notification handled")
	return nil
}

// HiuNotification is a consent-status notification delivered to this bridge
// as data requester.
type HiuNotification struct {
	ReplyRequestID   string
	ConsentRequestID string
	Status           Status
	ArtefactIDs      []string
}

// HandleHiuNotify moves a locally raised request to its notified status,
// records the artefact ids granted under it, and sends one acknowledgement
// entry per artefact.
func (s *Service) HandleHiuNotify(ctx context.Context, n HiuNotification) error {
	if !n.Status.Valid() {
		return fmt.Errorf("unknown consent status %q", n.Status)
	}
	req, err := s.repo.GetRequestByRequestID(ctx, n.ConsentRequestID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateRequestStatus(ctx, req.RequestID, n.Status); err != nil {
		return err
	}
	for _, artefactID := range n.ArtefactIDs {
		a := &ConsentArtefact{
			ArtefactID:       artefactID,
			ConsentRequestID: &req.ID,
			Status:           n.Status,
			PatientAddress:   req.PatientAddress,
			HITypes:          req.HITypes,
			AccessMode:       req.AccessMode,
			DateFrom:         req.DateFrom,
			DateTo:           req.DateTo,
			DataEraseAt:      req.DataEraseAt,
			FrequencyUnit:    req.FrequencyUnit,
			FrequencyValue:   req.FrequencyValue,
			FrequencyRepeats: req.FrequencyRepeats,
			PurposeCode:      req.PurposeCode,
		}
		if err := s.repo.UpsertArtefact(ctx, a); err != nil {
			return fmt.Errorf("upsert artefact %s: %w", artefactID, err)
		}
	}
	if len(n.ArtefactIDs) > 0 {
		if err := s.gw.ConsentHiuOnNotify(ctx, gateway.ConsentHiuOnNotifyParams{
			ReplyRequestID: n.ReplyRequestID,
			ArtefactIDs:    n.ArtefactIDs,
		}); err != nil {
			return fmt.Errorf("acknowledge consent status: %w", err)
		}
	}
	s.logger.Info().
		Str("request_id", n.ConsentRequestID).
		Str("status", string(n.Status)).
		Int("artefacts", len(n.ArtefactIDs)).
		Msg("consent status notification handled")
	return nil
}

// ValidateGrant checks that an artefact grants no more than its request
// asked for: health-information types must be a subset and the permission
// window must sit inside the requested one.
func ValidateGrant(req *ConsentRequest, d *NotificationDetail) error {
	requested := make(map[string]bool, len(req.HITypes))
	for _, t := range req.HITypes {
		requested[t] = true
	}
	for _, t := range d.HITypes {
		if !requested[t] {
			return fmt.Errorf("%w: type %s not requested", ErrGrantExceedsRequest, t)
		}
	}
	if d.DateFrom.Before(req.DateFrom) || d.DateTo.After(req.DateTo) {
		return fmt.Errorf("%w: permission window outside requested range", ErrGrantExceedsRequest)
	}
	return nil
}

// GetArtefact returns an artefact by its network consent id.
func (s *Service) GetArtefact(ctx context.Context, artefactID string) (*ConsentArtefact, error) {
	return s.repo.GetArtefactByArtefactID(ctx, artefactID)
}

// GetArtefactByDataRequest correlates an inbound data push with the
// artefact whose request raised it.
func (s *Service) GetArtefactByDataRequest(ctx context.Context, dataRequestID string) (*ConsentArtefact, error) {
	return s.repo.GetArtefactByDataRequestID(ctx, dataRequestID)
}

// SetArtefactDataRequest records an accepted data-flow request and this
// bridge's half of the session key material on the artefact.
func (s *Service) SetArtefactDataRequest(ctx context.Context, artefactID, dataRequestID, keyPrivate, keyPublic, keyNonce string) error {
	return s.repo.SetArtefactDataRequest(ctx, artefactID, dataRequestID, keyPrivate, keyPublic, keyNonce)
}

// GetRequest returns a locally raised request with its artefacts.
func (s *Service) GetRequest(ctx context.Context, requestID string) (*ConsentRequest, []*ConsentArtefact, error) {
	req, err := s.repo.GetRequestByRequestID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	artefacts, err := s.repo.ListArtefactsByRequest(ctx, req.ID)
	if err != nil {
		return nil, nil, err
	}
	return req, artefacts, nil
}

// ListRequests pages over locally raised requests.
func (s *Service) ListRequests(ctx context.Context, f RequestFilter) ([]*ConsentRequest, int, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("unknown consent status %q", f.Status)
	}
	return s.repo.ListRequests(ctx, f)
}
