package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hearthhub/hearthhub/internal/apiclient"
	"github.com/hearthhub/hearthhub/internal/domain"
	"github.com/hearthhub/hearthhub/internal/realtime"
)

// BillFilter is the persisted per-household bill list filter.
type BillFilter struct {
	Status    string `json:"status,omitempty"` // "", "open", "settled"
	SortBy    string `json:"sort_by,omitempty"`
	SortOrder string `json:"sort_order,omitempty"`
}

// BillInput is the payload for creating a bill.
type BillInput struct {
	Title   string             `json:"title"`
	Total   float64            `json:"total"`
	PaidBy  string             `json:"paid_by"`
	DueDate *time.Time         `json:"due_date,omitempty"`
	Splits  []domain.BillSplit `json:"splits"`
}

// BillPatch is a partial bill update; nil fields are left unchanged.
// Split updates are re-validated exactly like creations.
type BillPatch struct {
	Title   *string             `json:"title,omitempty"`
	Total   *float64            `json:"total,omitempty"`
	PaidBy  *string             `json:"paid_by,omitempty"`
	DueDate *time.Time          `json:"due_date,omitempty"`
	Splits  *[]domain.BillSplit `json:"splits,omitempty"`
}

// BillStore holds the bill collection for the active household.
type BillStore struct {
	base
	coll *Collection[domain.Bill]

	mu          sync.Mutex
	householdID string
	filter      BillFilter
	meta        domain.ListMeta
}

// NewBillStore creates an unbound bill store.
func NewBillStore(deps Deps) *BillStore {
	return &BillStore{
		base: newBase(deps, "bills"),
		coll: NewCollection[domain.Bill](),
	}
}

func billFilterKey(householdID string) string { return "bills:filter:" + householdID }

// Reset binds the store to a household. See TaskStore.Reset.
func (s *BillStore) Reset(householdID string) {
	s.reset()
	s.coll.Apply(ReplaceAll[domain.Bill](nil))

	s.mu.Lock()
	s.householdID = householdID
	s.filter = BillFilter{}
	s.meta = domain.ListMeta{}
	s.mu.Unlock()

	if householdID == "" {
		return
	}

	if s.deps.Local != nil {
		s.mu.Lock()
		s.deps.Local.Get(billFilterKey(householdID), &s.filter)
		s.mu.Unlock()
	}

	unsub := s.deps.Channel.Subscribe("household:"+householdID, "bills", realtime.EventAll, s.handleEvent)
	s.addUnsub(unsub)
}

func (s *BillStore) handleEvent(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventInsert, realtime.EventUpdate:
		var b domain.Bill
		if err := ev.Record(&b); err != nil || b.ID == "" {
			s.log.Warn().Err(err).Msg("undecodable bill event")
			return
		}
		if ev.Type == realtime.EventInsert {
			s.coll.Apply(RemoteInsert(b))
		} else {
			s.coll.Apply(Upsert(b))
		}
	case realtime.EventDelete:
		var b domain.Bill
		if err := ev.Record(&b); err != nil || b.ID == "" {
			return
		}
		s.coll.Apply(Remove[domain.Bill](b.ID))
	}
}

// Load fetches the first page of bills for the active household.
func (s *BillStore) Load(ctx context.Context) error {
	s.mu.Lock()
	householdID := s.householdID
	filter := s.filter
	s.mu.Unlock()
	if householdID == "" {
		return domain.NewError(domain.CodeValidation, "no household selected")
	}

	q := domain.ListQuery{
		Page:      1,
		Limit:     50,
		SortBy:    filter.SortBy,
		SortOrder: filter.SortOrder,
		Filters:   map[string]string{"household_id": householdID},
	}
	if filter.Status != "" {
		q.Filters["status"] = filter.Status
	}

	gen := s.generation()
	bills, meta, err := apiclient.Get[[]domain.Bill](ctx, s.deps.API, "/api/bills", q.Values())
	if err != nil {
		return err
	}
	if !s.current(gen) {
		return errStaleGeneration()
	}

	s.coll.Apply(ReplaceAll(bills))
	s.mu.Lock()
	if meta != nil {
		s.meta = *meta
	}
	s.mu.Unlock()
	return nil
}

// Create validates the bill locally, inserts it optimistically, then
// reconciles with the server record. The split invariant is enforced
// before any REST call is made.
func (s *BillStore) Create(ctx context.Context, in BillInput) (domain.Bill, error) {
	s.mu.Lock()
	householdID := s.householdID
	s.mu.Unlock()
	if householdID == "" {
		return domain.Bill{}, domain.NewError(domain.CodeValidation, "no household selected")
	}

	now := s.deps.now()
	bill := domain.Bill{
		Base: domain.Base{
			ID:        domain.NewTempID(),
			ClientRef: domain.NewClientRef(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		HouseholdID: householdID,
		Title:       in.Title,
		Total:       in.Total,
		PaidBy:      in.PaidBy,
		DueDate:     in.DueDate,
		Splits:      in.Splits,
	}
	if err := domain.ValidateBill(bill); err != nil {
		return domain.Bill{}, err
	}

	sig := "create:" + in.Title
	if err := s.beginCreate(sig); err != nil {
		return domain.Bill{}, err
	}
	defer s.endCreate(sig)

	s.coll.Apply(InsertOptimistic(bill))
	gen := s.generation()

	created, err := apiclient.Post[domain.Bill](ctx, s.deps.API, "/api/bills", bill)
	if !s.current(gen) {
		return domain.Bill{}, errStaleGeneration()
	}
	if err != nil {
		s.coll.Apply(Rollback[domain.Bill](bill.ClientRef))
		return domain.Bill{}, err
	}

	s.coll.Apply(Reconcile(bill.ClientRef, created))
	return created, nil
}

// Update applies a patch optimistically. Any patch that touches the
// total or the splits re-runs the split invariant before the REST call.
func (s *BillStore) Update(ctx context.Context, id string, patch BillPatch) (domain.Bill, error) {
	prior, ok := s.coll.Get(id)
	if !ok {
		return domain.Bill{}, domain.NewError(domain.CodeNotFound, "bill not found")
	}

	next := prior
	if patch.Title != nil {
		next.Title = *patch.Title
	}
	if patch.Total != nil {
		next.Total = *patch.Total
	}
	if patch.PaidBy != nil {
		next.PaidBy = *patch.PaidBy
	}
	if patch.DueDate != nil {
		next.DueDate = patch.DueDate
	}
	if patch.Splits != nil {
		next.Splits = *patch.Splits
	}
	next.UpdatedAt = s.deps.now()
	if err := domain.ValidateBill(next); err != nil {
		return domain.Bill{}, err
	}

	s.coll.Apply(Upsert(next))
	gen := s.generation()

	updated, err := apiclient.Put[domain.Bill](ctx, s.deps.API, "/api/bills/"+id, patch)
	if !s.current(gen) {
		return domain.Bill{}, errStaleGeneration()
	}
	if err != nil {
		s.coll.Apply(Upsert(prior))
		return domain.Bill{}, err
	}

	s.coll.Apply(Upsert(updated))
	return updated, nil
}

// Remove deletes a bill after server confirmation.
func (s *BillStore) Remove(ctx context.Context, id string) error {
	if _, ok := s.coll.Get(id); !ok {
		return domain.NewError(domain.CodeNotFound, "bill not found")
	}

	gen := s.generation()
	if err := apiclient.Delete(ctx, s.deps.API, "/api/bills/"+id); err != nil {
		return err
	}
	if !s.current(gen) {
		return errStaleGeneration()
	}

	s.coll.Apply(Remove[domain.Bill](id))
	return nil
}

// RecordPayment marks a member's split as paid, optimistically.
func (s *BillStore) RecordPayment(ctx context.Context, billID, userID string) (domain.Bill, error) {
	prior, ok := s.coll.Get(billID)
	if !ok {
		return domain.Bill{}, domain.NewError(domain.CodeNotFound, "bill not found")
	}

	now := s.deps.now()
	next := prior
	next.Splits = make([]domain.BillSplit, len(prior.Splits))
	copy(next.Splits, prior.Splits)
	found := false
	for i := range next.Splits {
		if next.Splits[i].UserID == userID {
			if next.Splits[i].Paid {
				return prior, nil
			}
			next.Splits[i].Paid = true
			next.Splits[i].PaidAt = &now
			found = true
		}
	}
	if !found {
		return domain.Bill{}, domain.NewError(domain.CodeValidation, "user has no split on this bill").WithDetail("user_id", userID)
	}
	next.UpdatedAt = now

	s.coll.Apply(Upsert(next))
	gen := s.generation()

	updated, err := apiclient.Post[domain.Bill](ctx, s.deps.API, "/api/bills/"+billID+"/payments",
		map[string]string{"user_id": userID})
	if !s.current(gen) {
		return domain.Bill{}, errStaleGeneration()
	}
	if err != nil {
		s.coll.Apply(Upsert(prior))
		return domain.Bill{}, err
	}

	s.coll.Apply(Upsert(updated))
	return updated, nil
}

// SetFilter stores and persists the filter for the active household.
func (s *BillStore) SetFilter(filter BillFilter) error {
	s.mu.Lock()
	s.filter = filter
	householdID := s.householdID
	s.mu.Unlock()

	if s.deps.Local != nil && householdID != "" {
		return s.deps.Local.Set(billFilterKey(householdID), filter)
	}
	return nil
}

// Filter returns the active filter.
func (s *BillStore) Filter() BillFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// Bills returns the collection sorted by due date, then creation time.
func (s *BillStore) Bills() []domain.Bill {
	bills := s.coll.Snapshot()
	sort.Slice(bills, func(i, j int) bool {
		a, b := bills[i], bills[j]
		switch {
		case a.DueDate == nil && b.DueDate != nil:
			return false
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return bills
}

// Get returns one bill by id.
func (s *BillStore) Get(id string) (domain.Bill, bool) {
	return s.coll.Get(id)
}

// Balances is a derived view: each member's net position across all
// unpaid splits, recomputed from the collection on every call. Positive
// means the household owes the member money.
func (s *BillStore) Balances() map[string]float64 {
	balances := make(map[string]float64)
	for _, bill := range s.coll.Snapshot() {
		for _, split := range bill.Splits {
			if split.Paid || split.UserID == bill.PaidBy {
				continue
			}
			share := split.Share(bill.Total)
			balances[bill.PaidBy] += share
			balances[split.UserID] -= share
		}
	}
	return balances
}
