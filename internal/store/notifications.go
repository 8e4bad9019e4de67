package store

import (
	"context"
	"sort"
	"sync"

	"github.com/hearthhub/hearthhub/internal/apiclient"
	"github.com/hearthhub/hearthhub/internal/domain"
	"github.com/hearthhub/hearthhub/internal/realtime"
)

// NotificationStore holds the authenticated user's notifications.
// Unlike the household-scoped stores its lifecycle follows the auth
// session, not the household selection.
type NotificationStore struct {
	base
	coll *Collection[domain.Notification]

	mu     sync.Mutex
	userID string
	meta   domain.ListMeta
}

// NewNotificationStore creates an unbound notification store.
func NewNotificationStore(deps Deps) *NotificationStore {
	return &NotificationStore{
		base: newBase(deps, "notifications"),
		coll: NewCollection[domain.Notification](),
	}
}

// Reset binds the store to a user and registers its subscription. An
// empty user id unbinds the store (logout).
func (s *NotificationStore) Reset(userID string) {
	s.reset()
	s.coll.Apply(ReplaceAll[domain.Notification](nil))

	s.mu.Lock()
	s.userID = userID
	s.meta = domain.ListMeta{}
	s.mu.Unlock()

	if userID == "" {
		return
	}

	unsub := s.deps.Channel.Subscribe("user:"+userID, "notifications", realtime.EventAll, s.handleEvent)
	s.addUnsub(unsub)
}

func (s *NotificationStore) handleEvent(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventInsert, realtime.EventUpdate:
		var n domain.Notification
		if err := ev.Record(&n); err != nil || n.ID == "" {
			s.log.Warn().Err(err).Msg("undecodable notification event")
			return
		}
		if ev.Type == realtime.EventInsert {
			s.coll.Apply(RemoteInsert(n))
		} else {
			s.coll.Apply(Upsert(n))
		}
	case realtime.EventDelete:
		var n domain.Notification
		if err := ev.Record(&n); err != nil || n.ID == "" {
			return
		}
		s.coll.Apply(Remove[domain.Notification](n.ID))
	}
}

// Load fetches the first page of notifications.
func (s *NotificationStore) Load(ctx context.Context) error {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()
	if userID == "" {
		return domain.NewError(domain.CodeUnauthorized, "no active session")
	}

	q := domain.ListQuery{
		Page:      1,
		Limit:     50,
		SortBy:    "created_at",
		SortOrder: "desc",
	}

	gen := s.generation()
	notifications, meta, err := apiclient.Get[[]domain.Notification](ctx, s.deps.API, "/api/notifications", q.Values())
	if err != nil {
		return err
	}
	if !s.current(gen) {
		return errStaleGeneration()
	}

	s.coll.Apply(ReplaceAll(notifications))
	s.mu.Lock()
	if meta != nil {
		s.meta = *meta
	}
	s.mu.Unlock()
	return nil
}

// MarkRead marks one notification read, optimistically; marking read is
// cheap to roll back.
func (s *NotificationStore) MarkRead(ctx context.Context, id string) (domain.Notification, error) {
	prior, ok := s.coll.Get(id)
	if !ok {
		return domain.Notification{}, domain.NewError(domain.CodeNotFound, "notification not found")
	}
	if prior.Read {
		return prior, nil
	}

	now := s.deps.now()
	next := prior
	next.Read = true
	next.ReadAt = &now
	next.UpdatedAt = now

	s.coll.Apply(Upsert(next))
	gen := s.generation()

	updated, err := apiclient.Post[domain.Notification](ctx, s.deps.API, "/api/notifications/"+id+"/read", nil)
	if !s.current(gen) {
		return domain.Notification{}, errStaleGeneration()
	}
	if err != nil {
		s.coll.Apply(Upsert(prior))
		return domain.Notification{}, err
	}

	s.coll.Apply(Upsert(updated))
	return updated, nil
}

// MarkAllRead marks every unread notification read, optimistically. On
// failure the prior snapshots are restored.
func (s *NotificationStore) MarkAllRead(ctx context.Context) error {
	now := s.deps.now()
	var priors []domain.Notification
	for _, n := range s.coll.Snapshot() {
		if n.Read {
			continue
		}
		priors = append(priors, n)
		next := n
		next.Read = true
		next.ReadAt = &now
		next.UpdatedAt = now
		s.coll.Apply(Upsert(next))
	}
	if len(priors) == 0 {
		return nil
	}

	gen := s.generation()
	_, err := apiclient.Post[struct{}](ctx, s.deps.API, "/api/notifications/read-all", nil)
	if !s.current(gen) {
		return errStaleGeneration()
	}
	if err != nil {
		for _, prior := range priors {
			s.coll.Apply(Upsert(prior))
		}
		return err
	}
	return nil
}

// Remove deletes a notification after server confirmation.
func (s *NotificationStore) Remove(ctx context.Context, id string) error {
	if _, ok := s.coll.Get(id); !ok {
		return domain.NewError(domain.CodeNotFound, "notification not found")
	}

	gen := s.generation()
	if err := apiclient.Delete(ctx, s.deps.API, "/api/notifications/"+id); err != nil {
		return err
	}
	if !s.current(gen) {
		return errStaleGeneration()
	}

	s.coll.Apply(Remove[domain.Notification](id))
	return nil
}

// Notifications returns the collection newest first.
func (s *NotificationStore) Notifications() []domain.Notification {
	notifications := s.coll.Snapshot()
	sort.Slice(notifications, func(i, j int) bool {
		a, b := notifications[i], notifications[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return notifications
}

// UnreadCount is a derived view recomputed from the collection on
// every call.
func (s *NotificationStore) UnreadCount() int {
	count := 0
	for _, n := range s.coll.Snapshot() {
		if !n.Read {
			count++
		}
	}
	return count
}
