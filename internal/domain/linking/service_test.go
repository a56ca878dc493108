package linking

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hdx/bridge/internal/domain/identity"
	"github.com/hdx/bridge/internal/domain/ledger"
	"github.com/hdx/bridge/internal/domain/records"
	"github.com/hdx/bridge/internal/platform/cache"
	"github.com/hdx/bridge/internal/platform/gateway"
)

type mockRepo struct {
	bySubject map[uuid.UUID][]*CareContext
}

func newMockRepo() *mockRepo {
	return &mockRepo{bySubject: make(map[uuid.UUID][]*CareContext)}
}

func (m *mockRepo) UpsertCareContexts(ctx context.Context, subjectID uuid.UUID, contexts []CareContextInput) error {
	existing := make(map[string]*CareContext)
	for _, cc := range m.bySubject[subjectID] {
		existing[cc.Reference] = cc
	}
	for _, in := range contexts {
		if cc, ok := existing[in.Reference]; ok {
			cc.Display = in.Display
			cc.HIType = in.HIType
			continue
		}
		m.bySubject[subjectID] = append(m.bySubject[subjectID], &CareContext{
			ID:        uuid.New(),
			SubjectID: subjectID,
			Reference: in.Reference,
			Display:   in.Display,
			HIType:    in.HIType,
		})
	}
	return nil
}

func (m *mockRepo) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]*CareContext, error) {
	return m.bySubject[subjectID], nil
}

type mockGateway struct {
	tokenCalls    []gateway.TokenGenerateTokenParams
	linkCalls     []gateway.LinkCareContextParams
	discoverCalls []gateway.OnDiscoverParams
	initCalls     []gateway.OnInitParams
	confirmCalls  []gateway.OnConfirmParams
}

func (m *mockGateway) TokenGenerateToken(ctx context.Context, p gateway.TokenGenerateTokenParams) error {
	m.tokenCalls = append(m.tokenCalls, p)
	return nil
}

func (m *mockGateway) LinkCareContext(ctx context.Context, p gateway.LinkCareContextParams) error {
	m.linkCalls = append(m.linkCalls, p)
	return nil
}

func (m *mockGateway) OnDiscover(ctx context.Context, p gateway.OnDiscoverParams) error {
	m.discoverCalls = append(m.discoverCalls, p)
	return nil
}

func (m *mockGateway) OnInit(ctx context.Context, p gateway.OnInitParams) error {
	m.initCalls = append(m.initCalls, p)
	return nil
}

func (m *mockGateway) OnConfirm(ctx context.Context, p gateway.OnConfirmParams) error {
	m.confirmCalls = append(m.confirmCalls, p)
	return nil
}

type mockIdentities struct {
	byAddress map[string]*identity.ExchangeIdentity
	subjects  map[uuid.UUID]*identity.Subject
	resolved  *identity.Subject
	matchedBy string
}

func newMockIdentities() *mockIdentities {
	return &mockIdentities{
		byAddress: make(map[string]*identity.ExchangeIdentity),
		subjects:  make(map[uuid.UUID]*identity.Subject),
	}
}

func (m *mockIdentities) GetByAddress(ctx context.Context, address string) (*identity.ExchangeIdentity, error) {
	ident, ok := m.byAddress[address]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return ident, nil
}

func (m *mockIdentities) GetSubject(ctx context.Context, id uuid.UUID) (*identity.Subject, error) {
	subj, ok := m.subjects[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return subj, nil
}

func (m *mockIdentities) Resolve(ctx context.Context, q identity.DiscoveryQuery) (*identity.Subject, *identity.ExchangeIdentity, string, error) {
	if m.resolved == nil {
		return nil, nil, "", identity.ErrNoMatch
	}
	return m.resolved, nil, m.matchedBy, nil
}

type mockFacilities struct{}

func (mockFacilities) HIPID(ctx context.Context, facilityID uuid.UUID) (string, error) {
	return "IN0410000123", nil
}

type mockLedger struct {
	rows []ledger.TransactionType
	meta []any
}

func (m *mockLedger) Record(ctx context.Context, t ledger.TransactionType, referenceID string, metadata any, actor *uuid.UUID) error {
	m.rows = append(m.rows, t)
	m.meta = append(m.meta, metadata)
	return nil
}

type fixture struct {
	svc      *Service
	repo     *mockRepo
	store    *cache.InMemoryStore
	gw       *mockGateway
	idents   *mockIdentities
	ledger   *mockLedger
	subject  *identity.Subject
	identity *identity.ExchangeIdentity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMockRepo()
	store := cache.NewInMemoryStore()
	gw := &mockGateway{}
	idents := newMockIdentities()
	lw := &mockLedger{}

	subjID := uuid.New()
	subj := &identity.Subject{ID: subjID, Name: "Asha Rao", Gender: "F"}
	idents.subjects[subjID] = subj
	ident := &identity.ExchangeIdentity{
		ID:        uuid.New(),
		Address:   "asha@hdx",
		Name:      "Asha Rao",
		Gender:    "F",
		SubjectID: &subjID,
	}
	idents.byAddress["asha@hdx"] = ident

	svc := NewService(repo, store, gw, idents, mockFacilities{}, lw,
		func() string { return "123456" }, zerolog.Nop())
	return &fixture{svc: svc, repo: repo, store: store, gw: gw, idents: idents, ledger: lw, subject: subj, identity: ident}
}

func testBatch() LinkBatch {
	return LinkBatch{
		FacilityID:     uuid.New(),
		PatientAddress: "asha@hdx",
		CareContexts: []CareContextInput{
			{Reference: "v2::medication_request::2026-08-01", Display: "Medications on 2026-08-01", HIType: records.HITypePrescription},
			{Reference: "v2::diagnostic_report::2026-08-02", Display: "Lab report", HIType: records.HITypeDiagnosticReport},
		},
	}
}

func TestLinkCareContexts_WithCachedToken(t *testing.T) {
	f := newFixture(t)
	f.store.Set(cache.PrefixLinkToken+"asha@hdx", "token-abc", linkTokenTTL)

	if err := f.svc.LinkCareContexts(context.Background(), testBatch()); err != nil {
		t.Fatalf("LinkCareContexts: %v", err)
	}
	if len(f.gw.linkCalls) != 1 {
		t.Fatalf("link calls = %d, want 1", len(f.gw.linkCalls))
	}
	if f.gw.linkCalls[0].LinkToken != "token-abc" {
		t.Errorf("link token = %q", f.gw.linkCalls[0].LinkToken)
	}
	if len(f.gw.tokenCalls) != 0 {
		t.Error("token requested despite cached token")
	}
	if len(f.ledger.rows) != 1 || f.ledger.rows[0] != ledger.TypeCareContextLink {
		t.Fatal("expected one care-context-link ledger row")
	}
	meta := f.ledger.meta[0].(ledger.CareContextLinkMetadata)
	if meta.LinkType != ledger.LinkTypeHIPInitiated {
		t.Errorf("link type = %q", meta.LinkType)
	}
	if len(f.repo.bySubject[f.subject.ID]) != 2 {
		t.Error("care contexts not persisted")
	}
}

func TestLinkCareContexts_DefersWithoutToken(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.LinkCareContexts(context.Background(), testBatch()); err != nil {
		t.Fatalf("LinkCareContexts: %v", err)
	}
	if len(f.gw.tokenCalls) != 1 {
		t.Fatalf("token calls = %d, want 1", len(f.gw.tokenCalls))
	}
	if len(f.gw.linkCalls) != 0 {
		t.Error("push happened without a token")
	}
	if keys := f.store.Keys(cache.PrefixLinkCareContext); len(keys) != 1 {
		t.Fatalf("deferred batches = %d, want 1", len(keys))
	}
}

func TestLinkCareContexts_NotEnrolled(t *testing.T) {
	f := newFixture(t)
	batch := testBatch()
	batch.PatientAddress = "stranger@hdx"

	err := f.svc.LinkCareContexts(context.Background(), batch)
	if !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("err = %v, want ErrNotEnrolled", err)
	}
}

func TestLinkCareContexts_Validation(t *testing.T) {
	f := newFixture(t)
	batch := testBatch()
	batch.CareContexts[0].HIType = "Horoscope"

	if err := f.svc.LinkCareContexts(context.Background(), batch); err == nil {
		t.Fatal("expected error for unknown hi type")
	}
}

func TestHandleTokenCallback_ReplaysDeferredBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.LinkCareContexts(ctx, testBatch()); err != nil {
		t.Fatal(err)
	}
	requestID := f.gw.tokenCalls[0].RequestID

	err := f.svc.HandleTokenCallback(ctx, TokenCallback{
		ReplyRequestID: requestID,
		AbhaAddress:    "asha@hdx",
		LinkToken:      "token-xyz",
	})
	if err != nil {
		t.Fatalf("HandleTokenCallback: %v", err)
	}
	if len(f.gw.linkCalls) != 1 {
		t.Fatalf("link calls = %d, want 1", len(f.gw.linkCalls))
	}
	if f.gw.linkCalls[0].LinkToken != "token-xyz" {
		t.Errorf("replayed with token %q", f.gw.linkCalls[0].LinkToken)
	}
	if _, ok := f.store.Get(cache.PrefixLinkToken + "asha@hdx"); !ok {
		t.Error("link token not cached")
	}
	if _, ok := f.store.Get(cache.PrefixLinkCareContext + requestID); ok {
		t.Error("deferred batch not consumed")
	}
}

func TestHandleTokenCallback_UnknownCorrelation(t *testing.T) {
	f := newFixture(t)
	err := f.svc.HandleTokenCallback(context.Background(), TokenCallback{
		ReplyRequestID: uuid.NewString(),
		AbhaAddress:    "asha@hdx",
		LinkToken:      "token-xyz",
	})
	if !errors.Is(err, ErrCorrelationExpired) {
		t.Fatalf("err = %v, want ErrCorrelationExpired", err)
	}
}

func TestDiscover_Match(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.idents.resolved = f.subject
	f.idents.matchedBy = identity.IdentifierMobile
	if err := f.repo.UpsertCareContexts(ctx, f.subject.ID, testBatch().CareContexts); err != nil {
		t.Fatal(err)
	}

	err := f.svc.Discover(ctx, DiscoverRequest{
		TransactionID:  "txn-1",
		ReplyRequestID: uuid.NewString(),
		Query:          identity.DiscoveryQuery{Name: "Asha", Gender: "F", Phone: "9876543210", YearOfBirth: 1990},
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(f.gw.discoverCalls) != 1 {
		t.Fatal("no on-discover reply")
	}
	reply := f.gw.discoverCalls[0]
	if reply.Subject == nil || len(reply.Subject.CareContexts) != 2 {
		t.Error("subject care contexts missing from reply")
	}
	if len(reply.MatchedBy) != 1 || reply.MatchedBy[0] != identity.IdentifierMobile {
		t.Errorf("matchedBy = %v", reply.MatchedBy)
	}
}

func TestDiscover_NoMatch(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Discover(context.Background(), DiscoverRequest{
		TransactionID:  "txn-2",
		ReplyRequestID: uuid.NewString(),
		Query:          identity.DiscoveryQuery{Name: "Nobody", Gender: "M", Phone: "0", YearOfBirth: 1970},
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(f.gw.discoverCalls) != 1 || f.gw.discoverCalls[0].Subject != nil {
		t.Fatal("expected a not-found reply")
	}
}

func startOTPSession(t *testing.T, f *fixture) string {
	t.Helper()
	ctx := context.Background()
	if err := f.repo.UpsertCareContexts(ctx, f.subject.ID, testBatch().CareContexts); err != nil {
		t.Fatal(err)
	}
	err := f.svc.HandleInit(ctx, InitRequest{
		TransactionID:    "txn-3",
		ReplyRequestID:   uuid.NewString(),
		AbhaAddress:      "asha@hdx",
		SubjectReference: f.subject.ID.String(),
		References:       []string{"v2::medication_request::2026-08-01", "v2::unknown::ref"},
	})
	if err != nil {
		t.Fatalf("HandleInit: %v", err)
	}
	if len(f.gw.initCalls) != 1 {
		t.Fatal("no on-init reply")
	}
	return f.gw.initCalls[0].LinkReference
}

func TestHandleConfirm_Success(t *testing.T) {
	f := newFixture(t)
	linkRef := startOTPSession(t, f)

	err := f.svc.HandleConfirm(context.Background(), ConfirmRequest{
		ReplyRequestID: uuid.NewString(),
		LinkRefNumber:  linkRef,
		Token:          "123456",
	})
	if err != nil {
		t.Fatalf("HandleConfirm: %v", err)
	}
	if len(f.gw.confirmCalls) != 1 {
		t.Fatal("no on-confirm reply")
	}
	subject := f.gw.confirmCalls[0].Subject
	if subject == nil || len(subject.CareContexts) != 1 {
		t.Fatalf("expected exactly the one proposed reference on file, got %+v", subject)
	}
	if subject.CareContexts[0].Reference != "v2::medication_request::2026-08-01" {
		t.Errorf("confirmed reference = %q", subject.CareContexts[0].Reference)
	}
	if len(f.ledger.rows) != 1 || f.ledger.rows[0] != ledger.TypeCareContextLink {
		t.Fatal("expected a patient-initiated ledger row")
	}
	meta := f.ledger.meta[0].(ledger.CareContextLinkMetadata)
	if meta.LinkType != ledger.LinkTypePatientInitiated {
		t.Errorf("link type = %q", meta.LinkType)
	}

	// The session is consumed: a replay misses.
	err = f.svc.HandleConfirm(context.Background(), ConfirmRequest{
		LinkRefNumber: linkRef,
		Token:         "123456",
	})
	if !errors.Is(err, ErrCorrelationExpired) {
		t.Errorf("replayed confirm: err = %v, want ErrCorrelationExpired", err)
	}
}

func TestHandleConfirm_WrongCodeKeepsSession(t *testing.T) {
	f := newFixture(t)
	linkRef := startOTPSession(t, f)
	ctx := context.Background()

	err := f.svc.HandleConfirm(ctx, ConfirmRequest{LinkRefNumber: linkRef, Token: "999999"})
	if !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("err = %v, want ErrInvalidOTP", err)
	}
	if len(f.gw.confirmCalls) != 0 {
		t.Error("on-confirm sent for wrong code")
	}

	// Session is intact; the right code still works.
	err = f.svc.HandleConfirm(ctx, ConfirmRequest{ReplyRequestID: uuid.NewString(), LinkRefNumber: linkRef, Token: "123456"})
	if err != nil {
		t.Fatalf("retry with right code: %v", err)
	}
}

func TestHandleConfirm_UnknownSession(t *testing.T) {
	f := newFixture(t)
	err := f.svc.HandleConfirm(context.Background(), ConfirmRequest{LinkRefNumber: uuid.NewString(), Token: "123456"})
	if !errors.Is(err, ErrCorrelationExpired) {
		t.Fatalf("err = %v, want ErrCorrelationExpired", err)
	}
}

func TestRandomOTP(t *testing.T) {
	for i := 0; i < 20; i++ {
		code := RandomOTP()
		if len(code) != 6 {
			t.Fatalf("code %q is not 6 digits", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("code %q contains non-digit", code)
			}
		}
	}
}
