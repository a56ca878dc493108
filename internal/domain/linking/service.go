package linking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hdx/bridge/internal/domain/identity"
	"github.com/hdx/bridge/internal/domain/ledger"
	"github.com/hdx/bridge/internal/domain/records"
	"github.com/hdx/bridge/internal/platform/cache"
	"github.com/hdx/bridge/internal/platform/gateway"
)

var (
	// ErrCorrelationExpired marks a callback whose cached counterpart is gone.
	ErrCorrelationExpired = errors.New("correlation expired or unknown")
	// ErrInvalidOTP marks a confirm with the wrong code; the session stays
	// alive for another attempt.
	ErrInvalidOTP = errors.New("invalid verification code")
	// ErrNotEnrolled marks a link batch for an address with no local identity.
	ErrNotEnrolled = errors.New("exchange address not enrolled")
)

const (
	deferredBatchTTL = 5 * time.Minute
	linkTokenTTL     = 30 * time.Minute
	otpSessionTTL    = 5 * time.Minute
)

type gatewayAPI interface {
	TokenGenerateToken(ctx context.Context, p gateway.TokenGenerateTokenParams) error
	LinkCareContext(ctx context.Context, p gateway.LinkCareContextParams) error
	OnDiscover(ctx context.Context, p gateway.OnDiscoverParams) error
	OnInit(ctx context.Context, p gateway.OnInitParams) error
	OnConfirm(ctx context.Context, p gateway.OnConfirmParams) error
}

type identityDirectory interface {
	GetByAddress(ctx context.Context, address string) (*identity.ExchangeIdentity, error)
	GetSubject(ctx context.Context, id uuid.UUID) (*identity.Subject, error)
	Resolve(ctx context.Context, q identity.DiscoveryQuery) (*identity.Subject, *identity.ExchangeIdentity, string, error)
}

type hipResolver interface {
	HIPID(ctx context.Context, facilityID uuid.UUID) (string, error)
}

type ledgerWriter interface {
	Record(ctx context.Context, t ledger.TransactionType, referenceID string, metadata any, actor *uuid.UUID) error
}

// OTPGenerator produces the code sent to the patient during
// patient-initiated linking.
type OTPGenerator func() string

// RandomOTP is the production generator: a uniformly random 6-digit code.
func RandomOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("%06d", n.Int64())
}

type Service struct {
	repo       Repository
	store      cache.Store
	gw         gatewayAPI
	identities identityDirectory
	facilities hipResolver
	ledger     ledgerWriter
	otp        OTPGenerator
	logger     zerolog.Logger
}

func NewService(repo Repository, store cache.Store, gw gatewayAPI, identities identityDirectory,
	facilities hipResolver, lw ledgerWriter, otp OTPGenerator, logger zerolog.Logger) *Service {
	if otp == nil {
		otp = RandomOTP
	}
	return &Service{
		repo:       repo,
		store:      store,
		gw:         gw,
		identities: identities,
		facilities: facilities,
		ledger:     lw,
		otp:        otp,
		logger:     logger.With().Str("component", "linking").Logger(),
	}
}

func (b LinkBatch) validate() error {
	if b.PatientAddress == "" {
		return fmt.Errorf("patient address is required")
	}
	if len(b.CareContexts) == 0 {
		return fmt.Errorf("at least one care context is required")
	}
	for _, cc := range b.CareContexts {
		if cc.Reference == "" {
			return fmt.Errorf("care context reference is required")
		}
		if !records.ValidHIType(cc.HIType) {
			return fmt.Errorf("unknown health-information type %q", cc.HIType)
		}
	}
	return nil
}

// LinkCareContexts pushes a batch of care contexts to the exchange. With a
// cached link token the push happens immediately; otherwise the batch is
// parked under a fresh correlation id and a token is requested, and the
// token callback replays it.
func (s *Service) LinkCareContexts(ctx context.Context, batch LinkBatch) error {
	if err := batch.validate(); err != nil {
		return err
	}
	ident, err := s.identities.GetByAddress(ctx, batch.PatientAddress)
	if errors.Is(err, identity.ErrNotFound) {
		return ErrNotEnrolled
	}
	if err != nil {
		return err
	}
	if ident.SubjectID == nil {
		return fmt.Errorf("%w: identity has no local subject", ErrNotEnrolled)
	}
	if err := s.repo.UpsertCareContexts(ctx, *ident.SubjectID, batch.CareContexts); err != nil {
		return fmt.Errorf("persist care contexts: %w", err)
	}
	hipID, err := s.facilities.HIPID(ctx, batch.FacilityID)
	if err != nil {
		return fmt.Errorf("resolve facility: %w", err)
	}

	if v, ok := s.store.Get(cache.PrefixLinkToken + batch.PatientAddress); ok {
		token, _ := v.(string)
		return s.push(ctx, ident, hipID, token, batch.CareContexts, gateway.NewRequestID())
	}

	requestID := gateway.NewRequestID()
	s.store.Set(cache.PrefixLinkCareContext+requestID, batch, deferredBatchTTL)
	err = s.gw.TokenGenerateToken(ctx, gateway.TokenGenerateTokenParams{
		RequestID:   requestID,
		HIPID:       hipID,
		Number:      deref(ident.Number),
		Address:     ident.Address,
		Name:        ident.Name,
		Gender:      ident.Gender,
		YearOfBirth: derefInt(ident.YearOfBirth),
	})
	if err != nil {
		s.store.Delete(cache.PrefixLinkCareContext + requestID)
		return fmt.Errorf("request link token: %w", err)
	}
	s.logger.Info().Str("address", batch.PatientAddress).Str("request_id", requestID).Msg("link batch deferred pending token")
	return nil
}

func (s *Service) push(ctx context.Context, ident *identity.ExchangeIdentity, hipID, token string,
	contexts []CareContextInput, requestID string) error {
	subject := gateway.SubjectEntry{
		Reference:    ident.SubjectID.String(),
		Display:      ident.Name,
		CareContexts: toGatewayContexts(contexts),
	}
	err := s.gw.LinkCareContext(ctx, gateway.LinkCareContextParams{
		RequestID: requestID,
		HIPID:     hipID,
		LinkToken: token,
		Number:    deref(ident.Number),
		Address:   ident.Address,
		Subject:   subject,
	})
	if err != nil {
		return fmt.Errorf("link care contexts: %w", err)
	}
	refs := make([]string, 0, len(contexts))
	for _, cc := range contexts {
		refs = append(refs, cc.Reference)
	}
	if err := s.ledger.Record(ctx, ledger.TypeCareContextLink, requestID, ledger.CareContextLinkMetadata{
		IdentityID:   ident.ID.String(),
		LinkType:     ledger.LinkTypeHIPInitiated,
		CareContexts: refs,
	}, nil); err != nil {
		return err
	}
	s.logger.Info().Str("address", ident.Address).Int("count", len(refs)).Msg("care contexts linked")
	return nil
}

// TokenCallback is the asynchronous reply to a token request.
type TokenCallback struct {
	ReplyRequestID string
	AbhaAddress    string
	LinkToken      string
}

// HandleTokenCallback caches the issued link token and replays the deferred
// batch that requested it.
func (s *Service) HandleTokenCallback(ctx context.Context, cb TokenCallback) error {
	key := cache.PrefixLinkCareContext + cb.ReplyRequestID
	v, ok := s.store.Get(key)
	if !ok {
		return ErrCorrelationExpired
	}
	s.store.Set(cache.PrefixLinkToken+cb.AbhaAddress, cb.LinkToken, linkTokenTTL)
	s.store.Delete(key)

	batch, ok := v.(LinkBatch)
	if !ok || len(batch.CareContexts) == 0 {
		return nil
	}
	ident, err := s.identities.GetByAddress(ctx, cb.AbhaAddress)
	if err != nil {
		return err
	}
	hipID, err := s.facilities.HIPID(ctx, batch.FacilityID)
	if err != nil {
		return err
	}
	return s.push(ctx, ident, hipID, cb.LinkToken, batch.CareContexts, gateway.NewRequestID())
}

// DiscoverRequest is an inbound patient-discovery callback.
type DiscoverRequest struct {
	TransactionID  string
	ReplyRequestID string
	Query          identity.DiscoveryQuery
}

// Discover runs the matcher chain and replies on-discover: the matched
// subject's care contexts grouped by type, or the protocol's patient-not-
// found error.
func (s *Service) Discover(ctx context.Context, req DiscoverRequest) error {
	subj, _, matchedBy, err := s.identities.Resolve(ctx, req.Query)
	if errors.Is(err, identity.ErrNoMatch) {
		s.logger.Info().Str("transaction_id", req.TransactionID).Msg("discovery found no subject")
		return s.gw.OnDiscover(ctx, gateway.OnDiscoverParams{
			TransactionID:  req.TransactionID,
			ReplyRequestID: req.ReplyRequestID,
		})
	}
	if err != nil {
		return err
	}

	contexts, err := s.repo.ListBySubject(ctx, subj.ID)
	if err != nil {
		return err
	}
	entry := subjectEntry(subj, contexts)
	return s.gw.OnDiscover(ctx, gateway.OnDiscoverParams{
		TransactionID:  req.TransactionID,
		ReplyRequestID: req.ReplyRequestID,
		Subject:        &entry,
		MatchedBy:      []string{matchedBy},
	})
}

// InitRequest is an inbound link-init callback proposing references to
// verify.
type InitRequest struct {
	TransactionID    string
	ReplyRequestID   string
	AbhaAddress      string
	SubjectReference string
	References       []string
}

// HandleInit opens an OTP session for the proposed references and replies
// on-init with the link reference and expiry.
func (s *Service) HandleInit(ctx context.Context, req InitRequest) error {
	if len(req.References) == 0 {
		return fmt.Errorf("no care context references proposed")
	}
	linkRef := uuid.NewString()
	code := s.otp()
	s.store.Set(cache.PrefixUserLinking+linkRef, otpSession{
		ReferenceID:      linkRef,
		OTP:              code,
		Address:          req.AbhaAddress,
		SubjectReference: req.SubjectReference,
		References:       req.References,
	}, otpSessionTTL)

	// The code itself goes to the patient out of band; only the session
	// reference travels back through the gateway.
	s.logger.Info().Str("link_ref", linkRef).Str("address", req.AbhaAddress).Msg("linking OTP session opened")
	return s.gw.OnInit(ctx, gateway.OnInitParams{
		TransactionID:  req.TransactionID,
		LinkReference:  linkRef,
		ReplyRequestID: req.ReplyRequestID,
		OTPExpiry:      time.Now().UTC().Add(otpSessionTTL),
	})
}

// ConfirmRequest is an inbound link-confirm callback carrying the patient's
// code.
type ConfirmRequest struct {
	ReplyRequestID string
	LinkRefNumber  string
	Token          string
}

// HandleConfirm verifies the code and replies on-confirm with the session's
// references, filtered to those actually on file for the subject. A wrong
// code leaves the session intact for another attempt.
func (s *Service) HandleConfirm(ctx context.Context, req ConfirmRequest) error {
	key := cache.PrefixUserLinking + req.LinkRefNumber
	v, ok := s.store.Get(key)
	if !ok {
		return ErrCorrelationExpired
	}
	sess, ok := v.(otpSession)
	if !ok {
		return ErrCorrelationExpired
	}
	if sess.OTP != req.Token {
		return ErrInvalidOTP
	}

	subjectID, err := uuid.Parse(sess.SubjectReference)
	if err != nil {
		return fmt.Errorf("bad subject reference in session: %w", err)
	}
	subj, err := s.identities.GetSubject(ctx, subjectID)
	if err != nil {
		return err
	}
	contexts, err := s.repo.ListBySubject(ctx, subjectID)
	if err != nil {
		return err
	}
	proposed := make(map[string]bool, len(sess.References))
	for _, ref := range sess.References {
		proposed[ref] = true
	}
	var filtered []*CareContext
	for _, cc := range contexts {
		if proposed[cc.Reference] {
			filtered = append(filtered, cc)
		}
	}

	entry := subjectEntry(subj, filtered)
	if err := s.gw.OnConfirm(ctx, gateway.OnConfirmParams{
		RequestID:      gateway.NewRequestID(),
		ReplyRequestID: req.ReplyRequestID,
		Subject:        &entry,
	}); err != nil {
		return err
	}
	s.store.Delete(key)

	refs := make([]string, 0, len(filtered))
	for _, cc := range filtered {
		refs = append(refs, cc.Reference)
	}
	if ident, err := s.identities.GetByAddress(ctx, sess.Address); err == nil && len(refs) > 0 {
		if err := s.ledger.Record(ctx, ledger.TypeCareContextLink, req.ReplyRequestID, ledger.CareContextLinkMetadata{
			IdentityID:   ident.ID.String(),
			LinkType:     ledger.LinkTypePatientInitiated,
			CareContexts: refs,
		}, nil); err != nil {
			return err
		}
	} else if err != nil {
		s.logger.Warn().Str("address", sess.Address).Msg("confirmed linking for address without local identity")
	}
	s.logger.Info().Str("link_ref", req.LinkRefNumber).Int("count", len(refs)).Msg("patient-initiated linking confirmed")
	return nil
}

// ListCareContexts returns everything linked for a subject.
func (s *Service) ListCareContexts(ctx context.Context, subjectID uuid.UUID) ([]*CareContext, error) {
	return s.repo.ListBySubject(ctx, subjectID)
}

func subjectEntry(subj *identity.Subject, contexts []*CareContext) gateway.SubjectEntry {
	entry := gateway.SubjectEntry{
		Reference: subj.ID.String(),
		Display:   subj.Name,
	}
	for _, cc := range contexts {
		entry.CareContexts = append(entry.CareContexts, gateway.CareContext{
			Reference: cc.Reference,
			Display:   cc.Display,
			HIType:    cc.HIType,
		})
	}
	return entry
}

func toGatewayContexts(contexts []CareContextInput) []gateway.CareContext {
	out := make([]gateway.CareContext, 0, len(contexts))
	for _, cc := range contexts {
		out = append(out, gateway.CareContext{
			Reference: cc.Reference,
			Display:   cc.Display,
			HIType:    cc.HIType,
		})
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
