package store

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/hearthhub/hearthhub/internal/domain"
	"github.com/hearthhub/hearthhub/pkg/testutil"
)

func seedHouseholds(t *testing.T, f *fixture, s *HouseholdStore, households ...domain.Household) {
	t.Helper()
	f.server.Handle(http.MethodGet, "/api/households", http.StatusOK, households)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestHouseholdCreateAddsCreatorAsOwner(t *testing.T) {
	f := newFixture(t)
	s := NewHouseholdStore(f.deps)
	s.Reset("user-1")

	f.server.HandleFunc(http.MethodPost, "/api/households", func(w http.ResponseWriter, r *http.Request) {
		var sent domain.Household
		_ = json.NewDecoder(r.Body).Decode(&sent)
		if len(sent.Members) != 1 || sent.Members[0].Role != domain.RoleOwner || sent.Members[0].UserID != "user-1" {
			t.Errorf("sent members = %+v, want creator as owner", sent.Members)
		}
		created := sent
		created.ID = "h-1"
		created.InviteCode = "JOIN42"
		testutil.WriteData(w, http.StatusCreated, created, nil)
	})

	created, err := s.Create(context.Background(), "Maple Street")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID != "h-1" || created.InviteCode != "JOIN42" {
		t.Errorf("created = %+v", created)
	}
	if len(s.Households()) != 1 {
		t.Errorf("households = %d, want 1", len(s.Households()))
	}

	if _, err := s.Create(context.Background(), "  "); !domain.IsCode(err, domain.CodeValidation) {
		t.Errorf("blank name error = %v, want VALIDATION_ERROR", err)
	}
}

func TestHouseholdJoinIsConfirmFirst(t *testing.T) {
	f := newFixture(t)
	s := NewHouseholdStore(f.deps)
	s.Reset("user-1")

	f.server.HandleError(http.MethodPost, "/api/households/join", http.StatusNotFound, string(domain.CodeNotFound), "invite code not found")

	if _, err := s.Join(context.Background(), "BADCODE"); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("Join() error = %v, want NOT_FOUND", err)
	}
	if len(s.Households()) != 0 {
		t.Error("failed join left a household behind")
	}

	if _, err := s.Join(context.Background(), " "); !domain.IsCode(err, domain.CodeValidation) {
		t.Errorf("blank code error = %v, want VALIDATION_ERROR", err)
	}
}

func TestAddMemberOptimisticRollback(t *testing.T) {
	f := newFixture(t)
	s := NewHouseholdStore(f.deps)
	s.Reset("user-1")
	seedHouseholds(t, f, s, domain.Household{
		Base: domain.Base{ID: "h-1"},
		Name: "Maple Street",
		Members: []domain.Member{
			{UserID: "user-1", Role: domain.RoleOwner},
		},
	})

	f.server.HandleError(http.MethodPost, "/api/households/{id}/members", http.StatusForbidden, string(domain.CodeForbidden), "owners only")

	_, err := s.AddMember(context.Background(), "h-1", domain.Member{UserID: "user-2", Name: "Sam"})
	if !domain.IsCode(err, domain.CodeForbidden) {
		t.Fatalf("AddMember() error = %v, want FORBIDDEN", err)
	}
	got, _ := s.Get("h-1")
	if len(got.Members) != 1 {
		t.Errorf("members = %d after rollback, want 1", len(got.Members))
	}

	// Adding an existing member is rejected locally.
	if _, err := s.AddMember(context.Background(), "h-1", domain.Member{UserID: "user-1"}); !domain.IsCode(err, domain.CodeConflict) {
		t.Errorf("duplicate member error = %v, want CONFLICT", err)
	}
}

func TestRemoveMemberWaitsForConfirmation(t *testing.T) {
	f := newFixture(t)
	s := NewHouseholdStore(f.deps)
	s.Reset("user-1")
	seedHouseholds(t, f, s, domain.Household{
		Base: domain.Base{ID: "h-1"},
		Name: "Maple Street",
		Members: []domain.Member{
			{UserID: "user-1", Role: domain.RoleOwner},
			{UserID: "user-2", Role: domain.RoleMember},
		},
	})

	f.server.HandleFunc(http.MethodDelete, "/api/households/{id}/members/{user}", func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteData(w, http.StatusOK, domain.Household{
			Base:    domain.Base{ID: "h-1"},
			Name:    "Maple Street",
			Members: []domain.Member{{UserID: "user-1", Role: domain.RoleOwner}},
		}, nil)
	})

	updated, err := s.RemoveMember(context.Background(), "h-1", "user-2")
	if err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	if len(updated.Members) != 1 {
		t.Errorf("members = %d, want 1", len(updated.Members))
	}

	if _, err := s.RemoveMember(context.Background(), "h-1", "user-9"); !domain.IsCode(err, domain.CodeNotFound) {
		t.Errorf("unknown member error = %v, want NOT_FOUND", err)
	}
}

func TestHouseholdsSortedByName(t *testing.T) {
	f := newFixture(t)
	s := NewHouseholdStore(f.deps)
	s.Reset("user-1")
	seedHouseholds(t, f, s,
		domain.Household{Base: domain.Base{ID: "h-2"}, Name: "Willow Lane"},
		domain.Household{Base: domain.Base{ID: "h-1"}, Name: "Maple Street"},
	)

	households := s.Households()
	if households[0].Name != "Maple Street" {
		t.Errorf("first = %q, want Maple Street", households[0].Name)
	}
}
