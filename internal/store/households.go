package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hearthhub/hearthhub/internal/apiclient"
	"github.com/hearthhub/hearthhub/internal/domain"
	"github.com/hearthhub/hearthhub/internal/realtime"
)

// HouseholdPatch is a partial household update.
type HouseholdPatch struct {
	Name *string `json:"name,omitempty"`
}

// HouseholdStore holds the authenticated user's households. Like the
// notification store it follows the auth session, not the household
// selection.
type HouseholdStore struct {
	base
	coll *Collection[domain.Household]

	mu      sync.Mutex
	userID  string
	removed func(id string)
}

// NewHouseholdStore creates an unbound household store.
func NewHouseholdStore(deps Deps) *HouseholdStore {
	return &HouseholdStore{
		base: newBase(deps, "households"),
		coll: NewCollection[domain.Household](),
	}
}

// Reset binds the store to a user and registers its subscription.
func (s *HouseholdStore) Reset(userID string) {
	s.reset()
	s.coll.Apply(ReplaceAll[domain.Household](nil))

	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()

	if userID == "" {
		return
	}

	unsub := s.deps.Channel.Subscribe("user:"+userID, "households", realtime.EventAll, s.handleEvent)
	s.addUnsub(unsub)
}

func (s *HouseholdStore) handleEvent(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventInsert, realtime.EventUpdate:
		var h domain.Household
		if err := ev.Record(&h); err != nil || h.ID == "" {
			s.log.Warn().Err(err).Msg("undecodable household event")
			return
		}
		if ev.Type == realtime.EventInsert {
			s.coll.Apply(RemoteInsert(h))
		} else {
			s.coll.Apply(Upsert(h))
		}
	case realtime.EventDelete:
		var h domain.Household
		if err := ev.Record(&h); err != nil || h.ID == "" {
			return
		}
		s.coll.Apply(Remove[domain.Household](h.ID))
		s.notifyRemoved(h.ID)
	}
}

// OnRemoved registers a hook fired after a household leaves the
// collection, whether by confirmed delete or by channel event.
func (s *HouseholdStore) OnRemoved(fn func(id string)) {
	s.mu.Lock()
	s.removed = fn
	s.mu.Unlock()
}

func (s *HouseholdStore) notifyRemoved(id string) {
	s.mu.Lock()
	fn := s.removed
	s.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

// Load fetches the user's households.
func (s *HouseholdStore) Load(ctx context.Context) error {
	gen := s.generation()
	households, _, err := apiclient.Get[[]domain.Household](ctx, s.deps.API, "/api/households", nil)
	if err != nil {
		return err
	}
	if !s.current(gen) {
		return errStaleGeneration()
	}

	s.coll.Apply(ReplaceAll(households))
	return nil
}

// Create creates a household, optimistically.
func (s *HouseholdStore) Create(ctx context.Context, name string) (domain.Household, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Household{}, domain.NewError(domain.CodeValidation, "household name is required").WithDetail("name", "required")
	}

	now := s.deps.now()
	household := domain.Household{
		Base: domain.Base{
			ID:        domain.NewTempID(),
			ClientRef: domain.NewClientRef(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		Name:      name,
		CreatedBy: s.deps.UserID,
		Members: []domain.Member{{
			UserID:   s.deps.UserID,
			Role:     domain.RoleOwner,
			JoinedAt: now,
		}},
	}

	sig := "create:" + name
	if err := s.beginCreate(sig); err != nil {
		return domain.Household{}, err
	}
	defer s.endCreate(sig)

	s.coll.Apply(InsertOptimistic(household))
	gen := s.generation()

	created, err := apiclient.Post[domain.Household](ctx, s.deps.API, "/api/households", household)
	if !s.current(gen) {
		return domain.Household{}, errStaleGeneration()
	}
	if err != nil {
		s.coll.Apply(Rollback[domain.Household](household.ClientRef))
		return domain.Household{}, err
	}

	s.coll.Apply(Reconcile(household.ClientRef, created))
	return created, nil
}

// Update renames a household, optimistically.
func (s *HouseholdStore) Update(ctx context.Context, id string, patch HouseholdPatch) (domain.Household, error) {
	prior, ok := s.coll.Get(id)
	if !ok {
		return domain.Household{}, domain.NewError(domain.CodeNotFound, "household not found")
	}

	next := prior
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return domain.Household{}, domain.NewError(domain.CodeValidation, "household name is required").WithDetail("name", "required")
		}
		next.Name = *patch.Name
	}
	next.UpdatedAt = s.deps.now()

	s.coll.Apply(Upsert(next))
	gen := s.generation()

	updated, err := apiclient.Put[domain.Household](ctx, s.deps.API, "/api/households/"+id, patch)
	if !s.current(gen) {
		return domain.Household{}, errStaleGeneration()
	}
	if err != nil {
		s.coll.Apply(Upsert(prior))
		return domain.Household{}, err
	}

	s.coll.Apply(Upsert(updated))
	return updated, nil
}

// Remove deletes a household after server confirmation.
func (s *HouseholdStore) Remove(ctx context.Context, id string) error {
	if _, ok := s.coll.Get(id); !ok {
		return domain.NewError(domain.CodeNotFound, "household not found")
	}

	gen := s.generation()
	if err := apiclient.Delete(ctx, s.deps.API, "/api/households/"+id); err != nil {
		return err
	}
	if !s.current(gen) {
		return errStaleGeneration()
	}

	s.coll.Apply(Remove[domain.Household](id))
	s.notifyRemoved(id)
	return nil
}

// Join joins a household by invite code. Membership is server-granted;
// there is nothing sensible to show optimistically.
func (s *HouseholdStore) Join(ctx context.Context, inviteCode string) (domain.Household, error) {
	if strings.TrimSpace(inviteCode) == "" {
		return domain.Household{}, domain.NewError(domain.CodeValidation, "invite code is required").WithDetail("invite_code", "required")
	}

	gen := s.generation()
	joined, err := apiclient.Post[domain.Household](ctx, s.deps.API, "/api/households/join",
		map[string]string{"invite_code": inviteCode})
	if !s.current(gen) {
		return domain.Household{}, errStaleGeneration()
	}
	if err != nil {
		return domain.Household{}, err
	}

	s.coll.Apply(Upsert(joined))
	return joined, nil
}

// AddMember adds a member, optimistically.
func (s *HouseholdStore) AddMember(ctx context.Context, householdID string, member domain.Member) (domain.Household, error) {
	prior, ok := s.coll.Get(householdID)
	if !ok {
		return domain.Household{}, domain.NewError(domain.CodeNotFound, "household not found")
	}
	for _, m := range prior.Members {
		if m.UserID == member.UserID {
			return domain.Household{}, domain.NewError(domain.CodeConflict, "user is already a member")
		}
	}

	now := s.deps.now()
	if member.JoinedAt.IsZero() {
		member.JoinedAt = now
	}
	if member.Role == "" {
		member.Role = domain.RoleMember
	}
	next := prior
	next.Members = append(append([]domain.Member(nil), prior.Members...), member)
	next.UpdatedAt = now

	s.coll.Apply(Upsert(next))
	gen := s.generation()

	updated, err := apiclient.Post[domain.Household](ctx, s.deps.API, "/api/households/"+householdID+"/members", member)
	if !s.current(gen) {
		return domain.Household{}, errStaleGeneration()
	}
	if err != nil {
		s.coll.Apply(Upsert(prior))
		return domain.Household{}, err
	}

	s.coll.Apply(Upsert(updated))
	return updated, nil
}

// RemoveMember removes a member after server confirmation; silently
// un-removing a person would be jarring.
func (s *HouseholdStore) RemoveMember(ctx context.Context, householdID, userID string) (domain.Household, error) {
	prior, ok := s.coll.Get(householdID)
	if !ok {
		return domain.Household{}, domain.NewError(domain.CodeNotFound, "household not found")
	}
	found := false
	for _, m := range prior.Members {
		if m.UserID == userID {
			found = true
			break
		}
	}
	if !found {
		return domain.Household{}, domain.NewError(domain.CodeNotFound, "member not found")
	}

	gen := s.generation()
	updated, err := apiclient.DeleteAs[domain.Household](ctx, s.deps.API, "/api/households/"+householdID+"/members/"+userID)
	if !s.current(gen) {
		return domain.Household{}, errStaleGeneration()
	}
	if err != nil {
		return domain.Household{}, err
	}

	s.coll.Apply(Upsert(updated))
	return updated, nil
}

// Households returns the collection sorted by name.
func (s *HouseholdStore) Households() []domain.Household {
	households := s.coll.Snapshot()
	sort.Slice(households, func(i, j int) bool {
		a, b := households[i], households[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return households
}

// Get returns one household by id.
func (s *HouseholdStore) Get(id string) (domain.Household, bool) {
	return s.coll.Get(id)
}
