package identity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockRepo struct {
	identities        []*ExchangeIdentity
	subjects          map[uuid.UUID]*Subject
	fuzzyHit          *Subject
	createIdentityErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{subjects: make(map[uuid.UUID]*Subject)}
}

// InTx snapshots both tables and restores them when fn fails, standing in
// for the real rollback.
func (m *mockRepo) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	idents := append([]*ExchangeIdentity(nil), m.identities...)
	subjects := make(map[uuid.UUID]*Subject, len(m.subjects))
	for k, v := range m.subjects {
		subjects[k] = v
	}
	if err := fn(ctx); err != nil {
		m.identities = idents
		m.subjects = subjects
		return err
	}
	return nil
}

func (m *mockRepo) GetIdentity(ctx context.Context, id uuid.UUID) (*ExchangeIdentity, error) {
	for _, i := range m.identities {
		if i.ID == id {
			return i, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) GetIdentityByAddress(ctx context.Context, address string) (*ExchangeIdentity, error) {
	for _, i := range m.identities {
		if i.Address == address {
			return i, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) GetIdentityByNumberOrAddress(ctx context.Context, number, address string) (*ExchangeIdentity, error) {
	for _, i := range m.identities {
		if (number != "" && i.Number != nil && *i.Number == number) ||
			(address != "" && i.Address == address) {
			return i, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) CreateIdentity(ctx context.Context, i *ExchangeIdentity) error {
	if m.createIdentityErr != nil {
		return m.createIdentityErr
	}
	i.ID = uuid.New()
	m.identities = append(m.identities, i)
	return nil
}

func (m *mockRepo) LinkSubject(ctx context.Context, identityID, subjectID uuid.UUID) error {
	for _, i := range m.identities {
		if i.ID == identityID {
			i.SubjectID = &subjectID
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockRepo) GetSubject(ctx context.Context, id uuid.UUID) (*Subject, error) {
	s, ok := m.subjects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *mockRepo) CreateSubject(ctx context.Context, s *Subject) error {
	s.ID = uuid.New()
	m.subjects[s.ID] = s
	return nil
}

func (m *mockRepo) FuzzyMatchSubject(ctx context.Context, q DiscoveryQuery) (*Subject, error) {
	if m.fuzzyHit == nil {
		return nil, ErrNotFound
	}
	// Crude stand-in for trigram matching: prefix overlap plus the hard
	// filters the real query applies.
	if !strings.HasPrefix(strings.ToLower(m.fuzzyHit.Name), strings.ToLower(q.Name[:3])) {
		return nil, ErrNotFound
	}
	if m.fuzzyHit.Gender != q.Gender {
		return nil, ErrNotFound
	}
	return m.fuzzyHit, nil
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestResolve_VerifiedIdentifier(t *testing.T) {
	repo := newMockRepo()
	subj := &Subject{Name: "Asha Rao", Gender: "F"}
	if err := repo.CreateSubject(context.Background(), subj); err != nil {
		t.Fatal(err)
	}
	repo.identities = append(repo.identities, &ExchangeIdentity{
		ID:        uuid.New(),
		Number:    strPtr("12345678901234"),
		Address:   "asha@hdx",
		Name:      "Asha Rao",
		Gender:    "F",
		SubjectID: &subj.ID,
	})
	svc := NewService(repo, zerolog.Nop())

	got, ident, matchedBy, err := svc.Resolve(context.Background(), DiscoveryQuery{Number: "12345678901234"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if matchedBy != IdentifierABHANumber {
		t.Errorf("matchedBy = %q, want %q", matchedBy, IdentifierABHANumber)
	}
	if got.ID != subj.ID {
		t.Error("wrong subject returned")
	}
	if ident == nil || ident.Address != "asha@hdx" {
		t.Error("identity not returned alongside subject")
	}
}

func TestResolve_FallsBackToFuzzy(t *testing.T) {
	repo := newMockRepo()
	repo.fuzzyHit = &Subject{
		ID:          uuid.New(),
		Name:        "Asha Rao",
		Gender:      "F",
		Phone:       strPtr("9876543210"),
		YearOfBirth: intPtr(1990),
	}
	svc := NewService(repo, zerolog.Nop())

	got, _, matchedBy, err := svc.Resolve(context.Background(), DiscoveryQuery{
		Name:        "Asha R",
		Gender:      "F",
		Phone:       "9876543210",
		YearOfBirth: 1991,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if matchedBy != IdentifierMobile {
		t.Errorf("matchedBy = %q, want %q", matchedBy, IdentifierMobile)
	}
	if got.ID != repo.fuzzyHit.ID {
		t.Error("wrong subject returned")
	}
}

func TestResolve_NoMatch(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())

	_, _, _, err := svc.Resolve(context.Background(), DiscoveryQuery{
		Name:        "Nobody Here",
		Gender:      "M",
		Phone:       "0000000000",
		YearOfBirth: 1970,
	})
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
}

func TestResolve_UnlinkedIdentityDoesNotMatch(t *testing.T) {
	repo := newMockRepo()
	repo.identities = append(repo.identities, &ExchangeIdentity{
		ID:      uuid.New(),
		Address: "orphan@hdx",
		Name:    "Orphan",
		Gender:  "M",
	})
	svc := NewService(repo, zerolog.Nop())

	_, _, _, err := svc.Resolve(context.Background(), DiscoveryQuery{Address: "orphan@hdx"})
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch for identity without a subject", err)
	}
}

func TestCreateFromShare_NewEnrollment(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())

	ident, existing, err := svc.CreateFromShare(context.Background(), ShareProfile{
		Number:      "12345678901234",
		Address:     "ravi@hdx",
		Name:        "Ravi Kumar",
		Gender:      "M",
		YearOfBirth: intPtr(1985),
		Mobile:      "9876501234",
		District:    "Pune",
		State:       "Maharashtra",
	})
	if err != nil {
		t.Fatalf("CreateFromShare: %v", err)
	}
	if existing {
		t.Error("expected a fresh enrollment")
	}
	if ident.SubjectID == nil {
		t.Fatal("identity not linked to a subject")
	}
	subj, err := repo.GetSubject(context.Background(), *ident.SubjectID)
	if err != nil {
		t.Fatalf("subject not created: %v", err)
	}
	if subj.Name != "Ravi Kumar" || subj.Phone == nil || *subj.Phone != "9876501234" {
		t.Error("subject demographics not copied from profile")
	}
}

func TestCreateFromShare_ExistingIdentity(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())

	first, _, err := svc.CreateFromShare(context.Background(), ShareProfile{
		Address: "ravi@hdx", Name: "Ravi Kumar", Gender: "M",
	})
	if err != nil {
		t.Fatal(err)
	}

	second, existing, err := svc.CreateFromShare(context.Background(), ShareProfile{
		Address: "ravi@hdx", Name: "Ravi Kumar", Gender: "M",
	})
	if err != nil {
		t.Fatalf("CreateFromShare: %v", err)
	}
	if !existing {
		t.Error("expected existing identity to be reported")
	}
	if second.ID != first.ID {
		t.Error("a duplicate identity was created")
	}
	if len(repo.identities) != 1 {
		t.Errorf("identities = %d, want 1", len(repo.identities))
	}
}

func TestCreateFromShare_NoOrphanSubjectOnIdentityFailure(t *testing.T) {
	repo := newMockRepo()
	repo.createIdentityErr = errors.New("duplicate key value violates unique constraint")
	svc := NewService(repo, zerolog.Nop())

	_, _, err := svc.CreateFromShare(context.Background(), ShareProfile{
		Address: "ravi@hdx", Name: "Ravi Kumar", Gender: "M",
	})
	if err == nil {
		t.Fatal("expected error from identity insert")
	}
	if len(repo.subjects) != 0 {
		t.Errorf("subjects = %d, want 0: subject survived the failed enrollment", len(repo.subjects))
	}
	if len(repo.identities) != 0 {
		t.Errorf("identities = %d, want 0", len(repo.identities))
	}
}

func TestCreateFromShare_RequiresAddress(t *testing.T) {
	svc := NewService(newMockRepo(), zerolog.Nop())
	if _, _, err := svc.CreateFromShare(context.Background(), ShareProfile{Name: "X"}); err == nil {
		t.Fatal("expected error for missing address")
	}
}
