package store

import (
	"context"
	"net/http"
	"testing"

	"github.com/hearthhub/hearthhub/internal/domain"
	"github.com/hearthhub/hearthhub/internal/realtime"
	"github.com/hearthhub/hearthhub/pkg/testutil"
)

// seedHub registers empty list endpoints plus the given households.
func seedHub(f *fixture, households []domain.Household) {
	f.server.Handle(http.MethodGet, "/api/households", http.StatusOK, households)
	f.server.Handle(http.MethodGet, "/api/notifications", http.StatusOK, []domain.Notification{})
	f.server.Handle(http.MethodGet, "/api/tasks", http.StatusOK, []domain.Task{})
	f.server.Handle(http.MethodGet, "/api/bills", http.StatusOK, []domain.Bill{})
	f.server.Handle(http.MethodGet, "/api/messages", http.StatusOK, []domain.Message{})
}

func TestHubStartSelectsFirstHousehold(t *testing.T) {
	f := newFixture(t)
	seedHub(f, []domain.Household{
		{Base: domain.Base{ID: "h-2"}, Name: "Willow Lane"},
		{Base: domain.Base{ID: "h-1"}, Name: "Maple Street"},
	})

	hub := NewHub(f.deps)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer hub.Close()

	// No persisted selection: first household by name wins.
	if got := hub.CurrentHousehold(); got != "h-1" {
		t.Errorf("CurrentHousehold() = %q, want h-1", got)
	}
}

func TestHubStartRestoresPersistedSelection(t *testing.T) {
	f := newFixture(t)
	seedHub(f, []domain.Household{
		{Base: domain.Base{ID: "h-1"}, Name: "Maple Street"},
		{Base: domain.Base{ID: "h-2"}, Name: "Willow Lane"},
	})
	if err := f.local.Set(selectedHouseholdKey, "h-2"); err != nil {
		t.Fatal(err)
	}

	hub := NewHub(f.deps)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer hub.Close()

	if got := hub.CurrentHousehold(); got != "h-2" {
		t.Errorf("CurrentHousehold() = %q, want persisted h-2", got)
	}
}

func TestHubStartIgnoresStaleSelection(t *testing.T) {
	f := newFixture(t)
	seedHub(f, []domain.Household{
		{Base: domain.Base{ID: "h-1"}, Name: "Maple Street"},
	})
	// Selection points at a household the user no longer belongs to.
	if err := f.local.Set(selectedHouseholdKey, "h-9"); err != nil {
		t.Fatal(err)
	}

	hub := NewHub(f.deps)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer hub.Close()

	if got := hub.CurrentHousehold(); got != "h-1" {
		t.Errorf("CurrentHousehold() = %q, want fallback h-1", got)
	}
}

func TestHubStartWithNoHouseholds(t *testing.T) {
	f := newFixture(t)
	seedHub(f, []domain.Household{})

	hub := NewHub(f.deps)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer hub.Close()

	if got := hub.CurrentHousehold(); got != "" {
		t.Errorf("CurrentHousehold() = %q, want empty", got)
	}
}

func TestSwitchHousehold(t *testing.T) {
	f := newFixture(t)
	seedHub(f, []domain.Household{
		{Base: domain.Base{ID: "h-1"}, Name: "Maple Street"},
		{Base: domain.Base{ID: "h-2"}, Name: "Willow Lane"},
	})

	hub := NewHub(f.deps)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer hub.Close()

	if err := hub.SwitchHousehold(context.Background(), "h-2"); err != nil {
		t.Fatalf("SwitchHousehold() error = %v", err)
	}
	if got := hub.CurrentHousehold(); got != "h-2" {
		t.Errorf("CurrentHousehold() = %q, want h-2", got)
	}

	var persisted string
	if !f.local.Get(selectedHouseholdKey, &persisted) || persisted != "h-2" {
		t.Errorf("persisted selection = %q, want h-2", persisted)
	}

	if err := hub.SwitchHousehold(context.Background(), "h-9"); !domain.IsCode(err, domain.CodeNotFound) {
		t.Errorf("SwitchHousehold(unknown) = %v, want NOT_FOUND", err)
	}
}

func TestChannelDeleteOfActiveHouseholdClearsSelection(t *testing.T) {
	f := newFixture(t)
	seedHub(f, []domain.Household{
		{Base: domain.Base{ID: "h-1"}, Name: "Maple Street"},
		{Base: domain.Base{ID: "h-2"}, Name: "Willow Lane"},
	})

	hub := NewHub(f.deps)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer hub.Close()

	// Another member deletes the household we are looking at.
	f.conn.Push("user:user-1", "households", realtime.EventDelete, nil,
		map[string]any{"id": "h-1"})

	waitFor(t, "selection cleared", func() bool { return hub.CurrentHousehold() == "" })
	if _, ok := hub.Households.Get("h-1"); ok {
		t.Error("deleted household still in collection")
	}
	if f.local.Has(selectedHouseholdKey) {
		t.Error("persisted selection survived the delete")
	}
	if err := hub.Tasks.Load(context.Background()); !domain.IsCode(err, domain.CodeValidation) {
		t.Errorf("Tasks.Load() after delete = %v, want VALIDATION_ERROR (store unbound)", err)
	}

	// The other household is untouched and still selectable.
	if err := hub.SwitchHousehold(context.Background(), "h-2"); err != nil {
		t.Fatalf("SwitchHousehold(h-2) error = %v", err)
	}
}

func TestChannelDeleteOfOtherHouseholdKeepsSelection(t *testing.T) {
	f := newFixture(t)
	seedHub(f, []domain.Household{
		{Base: domain.Base{ID: "h-1"}, Name: "Maple Street"},
		{Base: domain.Base{ID: "h-2"}, Name: "Willow Lane"},
	})

	hub := NewHub(f.deps)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer hub.Close()

	f.conn.Push("user:user-1", "households", realtime.EventDelete, nil,
		map[string]any{"id": "h-2"})

	waitFor(t, "household removed", func() bool {
		_, ok := hub.Households.Get("h-2")
		return !ok
	})
	if got := hub.CurrentHousehold(); got != "h-1" {
		t.Errorf("CurrentHousehold() = %q, want h-1 untouched", got)
	}
}

func TestConfirmedRemoveOfActiveHouseholdClearsSelection(t *testing.T) {
	f := newFixture(t)
	seedHub(f, []domain.Household{
		{Base: domain.Base{ID: "h-1"}, Name: "Maple Street"},
	})
	f.server.HandleFunc(http.MethodDelete, "/api/households/h-1", func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteData(w, http.StatusOK, nil, nil)
	})

	hub := NewHub(f.deps)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer hub.Close()

	if err := hub.Households.Remove(context.Background(), "h-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if got := hub.CurrentHousehold(); got != "" {
		t.Errorf("CurrentHousehold() = %q after remove, want empty", got)
	}
	if f.local.Has(selectedHouseholdKey) {
		t.Error("persisted selection survived the remove")
	}
}

func TestViewModePersistedPerHousehold(t *testing.T) {
	f := newFixture(t)
	seedHub(f, []domain.Household{
		{Base: domain.Base{ID: "h-1"}, Name: "Maple Street"},
		{Base: domain.Base{ID: "h-2"}, Name: "Willow Lane"},
	})

	hub := NewHub(f.deps)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer hub.Close()

	if hub.ViewMode() != ViewList {
		t.Errorf("default ViewMode() = %s, want list", hub.ViewMode())
	}
	if err := hub.SetViewMode(ViewBoard); err != nil {
		t.Fatalf("SetViewMode() error = %v", err)
	}
	if hub.ViewMode() != ViewBoard {
		t.Errorf("ViewMode() = %s, want board", hub.ViewMode())
	}

	// The preference is per household.
	if err := hub.SwitchHousehold(context.Background(), "h-2"); err != nil {
		t.Fatal(err)
	}
	if hub.ViewMode() != ViewList {
		t.Errorf("ViewMode() for h-2 = %s, want default list", hub.ViewMode())
	}
	if err := hub.SwitchHousehold(context.Background(), "h-1"); err != nil {
		t.Fatal(err)
	}
	if hub.ViewMode() != ViewBoard {
		t.Errorf("ViewMode() back on h-1 = %s, want board", hub.ViewMode())
	}
}

func TestHubCloseUnbindsStores(t *testing.T) {
	f := newFixture(t)
	seedHub(f, []domain.Household{
		{Base: domain.Base{ID: "h-1"}, Name: "Maple Street"},
	})

	hub := NewHub(f.deps)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	hub.Close()

	if got := hub.CurrentHousehold(); got != "" {
		t.Errorf("CurrentHousehold() = %q after Close, want empty", got)
	}
	if err := hub.Tasks.Load(context.Background()); !domain.IsCode(err, domain.CodeValidation) {
		t.Errorf("Tasks.Load() after Close = %v, want VALIDATION_ERROR", err)
	}
	// The selection stays persisted for the next session.
	var persisted string
	if !f.local.Get(selectedHouseholdKey, &persisted) || persisted != "h-1" {
		t.Errorf("persisted selection = %q, want h-1", persisted)
	}
}
