package ledger

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

type mockRepo struct {
	created []*Transaction
	byRef   map[string][]*Transaction
}

func newMockRepo() *mockRepo {
	return &mockRepo{byRef: make(map[string][]*Transaction)}
}

func (m *mockRepo) Create(ctx context.Context, t *Transaction) error {
	m.created = append(m.created, t)
	m.byRef[t.ReferenceID] = append(m.byRef[t.ReferenceID], t)
	return nil
}

func (m *mockRepo) ListByReference(ctx context.Context, referenceID string) ([]*Transaction, error) {
	return m.byRef[referenceID], nil
}

func (m *mockRepo) List(ctx context.Context, limit, offset int) ([]*Transaction, int, error) {
	return m.created, len(m.created), nil
}

func newTestService(repo Repository) *Service {
	return NewService(repo, zerolog.Nop())
}

func TestRecord_ValidRows(t *testing.T) {
	cases := []struct {
		name     string
		txType   TransactionType
		metadata any
	}{
		{"identity link", TypeIdentityLink, IdentityLinkMetadata{IdentityID: "id-1", Method: "link_via_otp"}},
		{"address creation", TypeAddressCreation, AddressCreationMetadata{IdentityID: "id-1"}},
		{"share token", TypeShareTokenIssue, ShareTokenIssueMetadata{IdentityID: "id-1", IsExistingSubject: true, Token: "42"}},
		{"care context link", TypeCareContextLink, CareContextLinkMetadata{
			IdentityID:   "id-1",
			LinkType:     LinkTypeHIPInitiated,
			CareContexts: []string{"visit-001"},
		}},
		{"data exchange", TypeDataExchange, DataExchangeMetadata{ConsentArtefact: "artefact-1", IsIncoming: true}},
		{"internal access", TypeInternalAccess, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMockRepo()
			svc := newTestService(repo)
			if err := svc.Record(context.Background(), tc.txType, "req-1", tc.metadata, nil); err != nil {
				t.Fatalf("Record: %v", err)
			}
			if len(repo.created) != 1 {
				t.Fatalf("expected 1 row, got %d", len(repo.created))
			}
			if repo.created[0].Type != tc.txType {
				t.Errorf("type = %q, want %q", repo.created[0].Type, tc.txType)
			}
		})
	}
}

func TestRecord_InvalidMetadataNeverPersisted(t *testing.T) {
	cases := []struct {
		name     string
		txType   TransactionType
		metadata any
	}{
		{"identity link missing id", TypeIdentityLink, IdentityLinkMetadata{Method: "link_via_otp"}},
		{"identity link bad method", TypeIdentityLink, IdentityLinkMetadata{IdentityID: "id-1", Method: "teleport"}},
		{"identity link nil metadata", TypeIdentityLink, nil},
		{"address creation missing id", TypeAddressCreation, AddressCreationMetadata{}},
		{"share token missing token", TypeShareTokenIssue, ShareTokenIssueMetadata{IdentityID: "id-1"}},
		{"care context bad type", TypeCareContextLink, CareContextLinkMetadata{
			IdentityID:   "id-1",
			LinkType:     "osmosis",
			CareContexts: []string{"visit-001"},
		}},
		{"care context empty batch", TypeCareContextLink, CareContextLinkMetadata{
			IdentityID: "id-1",
			LinkType:   LinkTypePatientInitiated,
		}},
		{"data exchange missing artefact", TypeDataExchange, DataExchangeMetadata{IsIncoming: true}},
		{"internal access with metadata", TypeInternalAccess, map[string]string{"why": "curiosity"}},
		{"unknown extra field", TypeAddressCreation, map[string]string{"identity_id": "id-1", "extra": "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMockRepo()
			svc := newTestService(repo)
			if err := svc.Record(context.Background(), tc.txType, "req-1", tc.metadata, nil); err == nil {
				t.Fatal("expected validation error")
			}
			if len(repo.created) != 0 {
				t.Fatalf("invalid row was persisted")
			}
		})
	}
}

func TestRecord_UnknownType(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	if err := svc.Record(context.Background(), TransactionType("made-up"), "req-1", nil, nil); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if len(repo.created) != 0 {
		t.Fatal("row persisted for unknown type")
	}
}

func TestRecord_MissingReference(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	err := svc.Record(context.Background(), TypeInternalAccess, "", nil, nil)
	if err == nil {
		t.Fatal("expected error for empty reference id")
	}
}

func TestListByReference(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	meta := CareContextLinkMetadata{
		IdentityID:   "id-1",
		LinkType:     LinkTypeHIPInitiated,
		CareContexts: []string{"visit-001", "visit-002"},
	}
	if err := svc.Record(ctx, TypeCareContextLink, "req-9", meta, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := svc.Record(ctx, TypeInternalAccess, "req-9", nil, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}

	rows, err := svc.ListByReference(ctx, "req-9")
	if err != nil {
		t.Fatalf("ListByReference: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	if _, _, err := svc.List(context.Background(), -5, -1); err != nil {
		t.Fatalf("List: %v", err)
	}
}
