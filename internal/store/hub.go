package store

import (
	"context"
	"sync"

	"github.com/hearthhub/hearthhub/internal/domain"
)

const selectedHouseholdKey = "selected_household"

func viewModeKey(householdID string) string { return "view:" + householdID }

// ViewMode is the persisted list presentation preference.
type ViewMode string

const (
	ViewList  ViewMode = "list"
	ViewBoard ViewMode = "board"
)

// Hub owns the domain stores and the active household selection.
// Switching households tears down the old per-household subscriptions,
// discards those collections, and reloads against the new selection.
type Hub struct {
	deps Deps

	Households    *HouseholdStore
	Tasks         *TaskStore
	Bills         *BillStore
	Chat          *ChatStore
	Notifications *NotificationStore

	mu       sync.Mutex
	selected string
}

// NewHub creates the store family. Start binds it to the session.
func NewHub(deps Deps) *Hub {
	h := &Hub{
		deps:          deps,
		Households:    NewHouseholdStore(deps),
		Tasks:         NewTaskStore(deps),
		Bills:         NewBillStore(deps),
		Chat:          NewChatStore(deps),
		Notifications: NewNotificationStore(deps),
	}
	h.Households.OnRemoved(h.householdRemoved)
	return h
}

// householdRemoved clears the active selection when its household is
// deleted, whether by this client or by another member over the
// channel. The per-household stores unbind; the UI picks the next
// selection.
func (h *Hub) householdRemoved(id string) {
	h.mu.Lock()
	if h.selected != id {
		h.mu.Unlock()
		return
	}
	h.selected = ""
	h.mu.Unlock()

	if h.deps.Local != nil {
		_ = h.deps.Local.Remove(selectedHouseholdKey)
	}
	h.Tasks.Reset("")
	h.Bills.Reset("")
	h.Chat.Reset("")
}

// Start binds the user-scoped stores, loads households and
// notifications, and restores the persisted household selection when it
// still exists. With no valid persisted selection the first household
// (by name) is selected; with no households at all the per-household
// stores stay unbound.
func (h *Hub) Start(ctx context.Context) error {
	h.Households.Reset(h.deps.UserID)
	h.Notifications.Reset(h.deps.UserID)

	if err := h.Households.Load(ctx); err != nil {
		return err
	}
	if err := h.Notifications.Load(ctx); err != nil {
		return err
	}

	target := ""
	if h.deps.Local != nil {
		var persisted string
		if h.deps.Local.Get(selectedHouseholdKey, &persisted) {
			if _, ok := h.Households.Get(persisted); ok {
				target = persisted
			}
		}
	}
	if target == "" {
		if households := h.Households.Households(); len(households) > 0 {
			target = households[0].ID
		}
	}
	if target == "" {
		return nil
	}
	return h.SwitchHousehold(ctx, target)
}

// SwitchHousehold makes householdID the active selection: the selection
// is persisted, the per-household stores are rebound (old subscriptions
// removed, collections discarded, generations bumped), and fresh pages
// are loaded.
func (h *Hub) SwitchHousehold(ctx context.Context, householdID string) error {
	if _, ok := h.Households.Get(householdID); !ok {
		return domain.NewError(domain.CodeNotFound, "household not found")
	}

	h.mu.Lock()
	h.selected = householdID
	h.mu.Unlock()

	if h.deps.Local != nil {
		if err := h.deps.Local.Set(selectedHouseholdKey, householdID); err != nil {
			return err
		}
	}

	h.Tasks.Reset(householdID)
	h.Bills.Reset(householdID)
	h.Chat.Reset(householdID)

	if err := h.Tasks.Load(ctx); err != nil {
		return err
	}
	if err := h.Bills.Load(ctx); err != nil {
		return err
	}
	return h.Chat.Load(ctx)
}

// CurrentHousehold returns the active selection, or "".
func (h *Hub) CurrentHousehold() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.selected
}

// SetViewMode persists the list presentation preference for the active
// household.
func (h *Hub) SetViewMode(mode ViewMode) error {
	householdID := h.CurrentHousehold()
	if h.deps.Local == nil || householdID == "" {
		return nil
	}
	return h.deps.Local.Set(viewModeKey(householdID), mode)
}

// ViewMode returns the persisted preference for the active household,
// defaulting to the list view.
func (h *Hub) ViewMode() ViewMode {
	householdID := h.CurrentHousehold()
	if h.deps.Local == nil || householdID == "" {
		return ViewList
	}
	mode := ViewList
	h.deps.Local.Get(viewModeKey(householdID), &mode)
	return mode
}

// Close unbinds every store. Called on logout; the selection stays
// persisted for the next session.
func (h *Hub) Close() {
	h.Tasks.Reset("")
	h.Bills.Reset("")
	h.Chat.Reset("")
	h.Notifications.Reset("")
	h.Households.Reset("")

	h.mu.Lock()
	h.selected = ""
	h.mu.Unlock()
}
