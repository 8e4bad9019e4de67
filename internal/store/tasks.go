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

// TaskFilter is the persisted per-household task list filter.
type TaskFilter struct {
	Status     string `json:"status,omitempty"`
	AssignedTo string `json:"assigned_to,omitempty"`
	SortBy     string `json:"sort_by,omitempty"`
	SortOrder  string `json:"sort_order,omitempty"`
}

// TaskInput is the payload for creating a task.
type TaskInput struct {
	Title      string            `json:"title"`
	Notes      string            `json:"notes,omitempty"`
	AssignedTo string            `json:"assigned_to,omitempty"`
	DueDate    *time.Time        `json:"due_date,omitempty"`
	Recurrence domain.Recurrence `json:"recurrence,omitempty"`
}

// TaskPatch is a partial task update; nil fields are left unchanged.
type TaskPatch struct {
	Title      *string            `json:"title,omitempty"`
	Notes      *string            `json:"notes,omitempty"`
	AssignedTo *string            `json:"assigned_to,omitempty"`
	DueDate    *time.Time         `json:"due_date,omitempty"`
	Recurrence *domain.Recurrence `json:"recurrence,omitempty"`
}

// TaskStore holds the task collection for the active household.
type TaskStore struct {
	base
	coll *Collection[domain.Task]

	mu          sync.Mutex
	householdID string
	filter      TaskFilter
	meta        domain.ListMeta
}

// NewTaskStore creates an unbound task store. Reset binds it to a
// household.
func NewTaskStore(deps Deps) *TaskStore {
	return &TaskStore{
		base: newBase(deps, "tasks"),
		coll: NewCollection[domain.Task](),
	}
}

func taskFilterKey(householdID string) string { return "tasks:filter:" + householdID }

// Reset binds the store to a household: old subscriptions are removed,
// the collection is discarded, the persisted filter is merged over
// defaults, and a fresh subscription is registered. An empty household
// id leaves the store unbound.
func (s *TaskStore) Reset(householdID string) {
	s.reset()
	s.coll.Apply(ReplaceAll[domain.Task](nil))

	s.mu.Lock()
	s.householdID = householdID
	s.filter = TaskFilter{}
	s.meta = domain.ListMeta{}
	s.mu.Unlock()

	if householdID == "" {
		return
	}

	if s.deps.Local != nil {
		s.mu.Lock()
		s.deps.Local.Get(taskFilterKey(householdID), &s.filter)
		s.mu.Unlock()
	}

	unsub := s.deps.Channel.Subscribe("household:"+householdID, "tasks", realtime.EventAll, s.handleEvent)
	s.addUnsub(unsub)
}

// handleEvent reconciles one external-origin change notification.
func (s *TaskStore) handleEvent(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventInsert, realtime.EventUpdate:
		var t domain.Task
		if err := ev.Record(&t); err != nil || t.ID == "" {
			s.log.Warn().Err(err).Msg("undecodable task event")
			return
		}
		if ev.Type == realtime.EventInsert {
			s.coll.Apply(RemoteInsert(t))
		} else {
			s.coll.Apply(Upsert(t))
		}
	case realtime.EventDelete:
		var t domain.Task
		if err := ev.Record(&t); err != nil || t.ID == "" {
			return
		}
		s.coll.Apply(Remove[domain.Task](t.ID))
	}
}

// Load fetches the first page of tasks for the active household using
// the current filter.
func (s *TaskStore) Load(ctx context.Context) error {
	s.mu.Lock()
	householdID := s.householdID
	filter := s.filter
	s.mu.Unlock()
	if householdID == "" {
		return domain.NewError(domain.CodeValidation, "no household selected")
	}

	gen := s.generation()
	tasks, meta, err := apiclient.Get[[]domain.Task](ctx, s.deps.API, "/api/tasks", s.queryParams(householdID, filter, 1))
	if err != nil {
		return err
	}
	if !s.current(gen) {
		return errStaleGeneration()
	}

	s.coll.Apply(ReplaceAll(tasks))
	s.mu.Lock()
	if meta != nil {
		s.meta = *meta
	}
	s.mu.Unlock()
	return nil
}

// LoadMore fetches the next page and merges it into the collection.
func (s *TaskStore) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	householdID := s.householdID
	filter := s.filter
	meta := s.meta
	s.mu.Unlock()
	if householdID == "" {
		return domain.NewError(domain.CodeValidation, "no household selected")
	}
	if !meta.HasMore {
		return nil
	}

	gen := s.generation()
	tasks, nextMeta, err := apiclient.Get[[]domain.Task](ctx, s.deps.API, "/api/tasks", s.queryParams(householdID, filter, meta.Page+1))
	if err != nil {
		return err
	}
	if !s.current(gen) {
		return errStaleGeneration()
	}

	s.coll.Apply(MergePage(tasks))
	s.mu.Lock()
	if nextMeta != nil {
		s.meta = *nextMeta
	}
	s.mu.Unlock()
	return nil
}

func (s *TaskStore) queryParams(householdID string, filter TaskFilter, page int) map[string]string {
	q := domain.ListQuery{
		Page:      page,
		Limit:     50,
		SortBy:    filter.SortBy,
		SortOrder: filter.SortOrder,
		Filters:   map[string]string{"household_id": householdID},
	}
	if filter.Status != "" {
		q.Filters["status"] = filter.Status
	}
	if filter.AssignedTo != "" {
		q.Filters["assigned_to"] = filter.AssignedTo
	}
	return q.Values()
}

// Create inserts an optimistic task immediately, then reconciles it
// against the server-assigned record or rolls it back on failure.
func (s *TaskStore) Create(ctx context.Context, in TaskInput) (domain.Task, error) {
	s.mu.Lock()
	householdID := s.householdID
	s.mu.Unlock()
	if householdID == "" {
		return domain.Task{}, domain.NewError(domain.CodeValidation, "no household selected")
	}

	now := s.deps.now()
	task := domain.Task{
		Base: domain.Base{
			ID:        domain.NewTempID(),
			ClientRef: domain.NewClientRef(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		HouseholdID: householdID,
		Title:       in.Title,
		Notes:       in.Notes,
		AssignedTo:  in.AssignedTo,
		Status:      domain.TaskPending,
		DueDate:     in.DueDate,
		Recurrence:  in.Recurrence,
	}
	if err := domain.ValidateTask(task); err != nil {
		return domain.Task{}, err
	}

	sig := "create:" + in.Title
	if err := s.beginCreate(sig); err != nil {
		return domain.Task{}, err
	}
	defer s.endCreate(sig)

	s.coll.Apply(InsertOptimistic(task))
	gen := s.generation()

	created, err := apiclient.Post[domain.Task](ctx, s.deps.API, "/api/tasks", task)
	if !s.current(gen) {
		return domain.Task{}, errStaleGeneration()
	}
	if err != nil {
		s.coll.Apply(Rollback[domain.Task](task.ClientRef))
		return domain.Task{}, err
	}

	s.coll.Apply(Reconcile(task.ClientRef, created))
	return created, nil
}

// Update applies a patch optimistically and reconciles with the server
// record; on failure the prior snapshot is restored.
func (s *TaskStore) Update(ctx context.Context, id string, patch TaskPatch) (domain.Task, error) {
	prior, ok := s.coll.Get(id)
	if !ok {
		return domain.Task{}, domain.NewError(domain.CodeNotFound, "task not found")
	}

	next := prior
	if patch.Title != nil {
		next.Title = *patch.Title
	}
	if patch.Notes != nil {
		next.Notes = *patch.Notes
	}
	if patch.AssignedTo != nil {
		next.AssignedTo = *patch.AssignedTo
	}
	if patch.DueDate != nil {
		next.DueDate = patch.DueDate
	}
	if patch.Recurrence != nil {
		next.Recurrence = *patch.Recurrence
	}
	next.UpdatedAt = s.deps.now()
	if err := domain.ValidateTask(next); err != nil {
		return domain.Task{}, err
	}

	s.coll.Apply(Upsert(next))
	gen := s.generation()

	updated, err := apiclient.Put[domain.Task](ctx, s.deps.API, "/api/tasks/"+id, patch)
	if !s.current(gen) {
		return domain.Task{}, errStaleGeneration()
	}
	if err != nil {
		s.coll.Apply(Upsert(prior))
		return domain.Task{}, err
	}

	s.coll.Apply(Upsert(updated))
	return updated, nil
}

// Remove deletes a task. Deletion waits for server confirmation; a
// rolled-back vanish-and-reappear would be jarring.
func (s *TaskStore) Remove(ctx context.Context, id string) error {
	if _, ok := s.coll.Get(id); !ok {
		return domain.NewError(domain.CodeNotFound, "task not found")
	}

	gen := s.generation()
	if err := apiclient.Delete(ctx, s.deps.API, "/api/tasks/"+id); err != nil {
		return err
	}
	if !s.current(gen) {
		return errStaleGeneration()
	}

	s.coll.Apply(Remove[domain.Task](id))
	return nil
}

// CompleteTask marks a task completed optimistically.
func (s *TaskStore) CompleteTask(ctx context.Context, id string) (domain.Task, error) {
	prior, ok := s.coll.Get(id)
	if !ok {
		return domain.Task{}, domain.NewError(domain.CodeNotFound, "task not found")
	}
	if prior.Status == domain.TaskCompleted {
		return prior, nil
	}

	now := s.deps.now()
	next := prior
	next.Status = domain.TaskCompleted
	next.CompletedAt = &now
	next.CompletedBy = s.deps.UserID
	next.UpdatedAt = now

	s.coll.Apply(Upsert(next))
	gen := s.generation()

	updated, err := apiclient.Post[domain.Task](ctx, s.deps.API, "/api/tasks/"+id+"/complete", nil)
	if !s.current(gen) {
		return domain.Task{}, errStaleGeneration()
	}
	if err != nil {
		s.coll.Apply(Upsert(prior))
		return domain.Task{}, err
	}

	s.coll.Apply(Upsert(updated))
	return updated, nil
}

// ReassignTask moves a task to another member optimistically.
func (s *TaskStore) ReassignTask(ctx context.Context, id, userID string) (domain.Task, error) {
	return s.Update(ctx, id, TaskPatch{AssignedTo: &userID})
}

// SetFilter stores the filter and persists it for the active household.
// Callers reload afterwards.
func (s *TaskStore) SetFilter(filter TaskFilter) error {
	s.mu.Lock()
	s.filter = filter
	householdID := s.householdID
	s.mu.Unlock()

	if s.deps.Local != nil && householdID != "" {
		return s.deps.Local.Set(taskFilterKey(householdID), filter)
	}
	return nil
}

// Filter returns the active filter.
func (s *TaskStore) Filter() TaskFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// Meta returns the pagination state of the last load.
func (s *TaskStore) Meta() domain.ListMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// Tasks returns the collection sorted by due date, then creation time.
func (s *TaskStore) Tasks() []domain.Task {
	tasks := s.coll.Snapshot()
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
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
	return tasks
}

// Get returns one task by id.
func (s *TaskStore) Get(id string) (domain.Task, bool) {
	return s.coll.Get(id)
}

// OverdueTasks is a derived view: incomplete tasks past their due date,
// recomputed from the collection on every call.
func (s *TaskStore) OverdueTasks() []domain.Task {
	now := s.deps.now()
	var overdue []domain.Task
	for _, t := range s.Tasks() {
		if t.Overdue(now) {
			overdue = append(overdue, t)
		}
	}
	return overdue
}
