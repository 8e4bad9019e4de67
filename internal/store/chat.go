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

// ChatStore holds the chat message collection (polls included) for the
// active household and the persisted draft text.
type ChatStore struct {
	base
	coll *Collection[domain.Message]

	mu          sync.Mutex
	householdID string
	meta        domain.ListMeta
}

// NewChatStore creates an unbound chat store.
func NewChatStore(deps Deps) *ChatStore {
	return &ChatStore{
		base: newBase(deps, "chat"),
		coll: NewCollection[domain.Message](),
	}
}

func chatDraftKey(householdID string) string { return "chat:draft:" + householdID }

// Reset binds the store to a household. See TaskStore.Reset.
func (s *ChatStore) Reset(householdID string) {
	s.reset()
	s.coll.Apply(ReplaceAll[domain.Message](nil))

	s.mu.Lock()
	s.householdID = householdID
	s.meta = domain.ListMeta{}
	s.mu.Unlock()

	if householdID == "" {
		return
	}

	unsub := s.deps.Channel.Subscribe("household:"+householdID, "messages", realtime.EventAll, s.handleEvent)
	s.addUnsub(unsub)
}

func (s *ChatStore) handleEvent(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventInsert, realtime.EventUpdate:
		var m domain.Message
		if err := ev.Record(&m); err != nil || m.ID == "" {
			s.log.Warn().Err(err).Msg("undecodable message event")
			return
		}
		if ev.Type == realtime.EventInsert {
			s.coll.Apply(RemoteInsert(m))
		} else {
			s.coll.Apply(Upsert(m))
		}
	case realtime.EventDelete:
		var m domain.Message
		if err := ev.Record(&m); err != nil || m.ID == "" {
			return
		}
		s.coll.Apply(Remove[domain.Message](m.ID))
	}
}

// Load fetches the most recent page of messages.
func (s *ChatStore) Load(ctx context.Context) error {
	s.mu.Lock()
	householdID := s.householdID
	s.mu.Unlock()
	if householdID == "" {
		return domain.NewError(domain.CodeValidation, "no household selected")
	}

	q := domain.ListQuery{
		Page:      1,
		Limit:     50,
		SortBy:    "created_at",
		SortOrder: "desc",
		Filters:   map[string]string{"household_id": householdID},
	}

	gen := s.generation()
	messages, meta, err := apiclient.Get[[]domain.Message](ctx, s.deps.API, "/api/messages", q.Values())
	if err != nil {
		return err
	}
	if !s.current(gen) {
		return errStaleGeneration()
	}

	s.coll.Apply(ReplaceAll(messages))
	s.mu.Lock()
	if meta != nil {
		s.meta = *meta
	}
	s.mu.Unlock()
	return nil
}

// LoadMore fetches the next (older) page of messages.
func (s *ChatStore) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	householdID := s.householdID
	meta := s.meta
	s.mu.Unlock()
	if householdID == "" {
		return domain.NewError(domain.CodeValidation, "no household selected")
	}
	if !meta.HasMore {
		return nil
	}

	q := domain.ListQuery{
		Page:      meta.Page + 1,
		Limit:     50,
		SortBy:    "created_at",
		SortOrder: "desc",
		Filters:   map[string]string{"household_id": householdID},
	}

	gen := s.generation()
	messages, nextMeta, err := apiclient.Get[[]domain.Message](ctx, s.deps.API, "/api/messages", q.Values())
	if err != nil {
		return err
	}
	if !s.current(gen) {
		return errStaleGeneration()
	}

	s.coll.Apply(MergePage(messages))
	s.mu.Lock()
	if nextMeta != nil {
		s.meta = *nextMeta
	}
	s.mu.Unlock()
	return nil
}

// SendMessage posts a chat message optimistically. A successful send
// clears the persisted draft.
func (s *ChatStore) SendMessage(ctx context.Context, body string) (domain.Message, error) {
	return s.send(ctx, body, nil)
}

// CreatePoll posts a message carrying a poll.
func (s *ChatStore) CreatePoll(ctx context.Context, question string, options []string, expiresAt *time.Time) (domain.Message, error) {
	poll := &domain.Poll{
		ID:        domain.NewTempID(),
		Question:  question,
		Options:   options,
		ExpiresAt: expiresAt,
	}
	return s.send(ctx, "", poll)
}

func (s *ChatStore) send(ctx context.Context, body string, poll *domain.Poll) (domain.Message, error) {
	s.mu.Lock()
	householdID := s.householdID
	s.mu.Unlock()
	if householdID == "" {
		return domain.Message{}, domain.NewError(domain.CodeValidation, "no household selected")
	}

	now := s.deps.now()
	msg := domain.Message{
		Base: domain.Base{
			ID:        domain.NewTempID(),
			ClientRef: domain.NewClientRef(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		HouseholdID: householdID,
		UserID:      s.deps.UserID,
		Body:        body,
		Poll:        poll,
	}
	if err := domain.ValidateMessage(msg); err != nil {
		return domain.Message{}, err
	}

	sig := "send:" + body
	if poll != nil {
		sig = "poll:" + poll.Question
	}
	if err := s.beginCreate(sig); err != nil {
		return domain.Message{}, err
	}
	defer s.endCreate(sig)

	s.coll.Apply(InsertOptimistic(msg))
	gen := s.generation()

	created, err := apiclient.Post[domain.Message](ctx, s.deps.API, "/api/messages", msg)
	if !s.current(gen) {
		return domain.Message{}, errStaleGeneration()
	}
	if err != nil {
		s.coll.Apply(Rollback[domain.Message](msg.ClientRef))
		return domain.Message{}, err
	}

	s.coll.Apply(Reconcile(msg.ClientRef, created))
	if s.deps.Local != nil {
		_ = s.deps.Local.Remove(chatDraftKey(householdID))
	}
	return created, nil
}

// VoteOnPoll casts or replaces the current user's vote, optimistically.
// A user holds at most one active vote; re-voting replaces the prior
// vote before counts are recomputed.
func (s *ChatStore) VoteOnPoll(ctx context.Context, messageID string, selected []int) (domain.Message, error) {
	prior, ok := s.coll.Get(messageID)
	if !ok {
		return domain.Message{}, domain.NewError(domain.CodeNotFound, "message not found")
	}
	if prior.Poll == nil {
		return domain.Message{}, domain.NewError(domain.CodeValidation, "message carries no poll")
	}

	now := s.deps.now()
	if err := domain.ValidatePollVote(*prior.Poll, selected, now); err != nil {
		return domain.Message{}, err
	}

	next := prior
	nextPoll := *prior.Poll
	nextPoll.Votes = replaceVote(prior.Poll.Votes, domain.PollVote{
		UserID:          s.deps.UserID,
		SelectedOptions: selected,
		CastAt:          now,
	})
	next.Poll = &nextPoll
	next.UpdatedAt = now

	s.coll.Apply(Upsert(next))
	gen := s.generation()

	updated, err := apiclient.Post[domain.Message](ctx, s.deps.API, "/api/messages/"+messageID+"/poll/votes",
		map[string]any{"selected_options": selected})
	if !s.current(gen) {
		return domain.Message{}, errStaleGeneration()
	}
	if err != nil {
		s.coll.Apply(Upsert(prior))
		return domain.Message{}, err
	}

	s.coll.Apply(Upsert(updated))
	return updated, nil
}

// replaceVote swaps the user's prior vote for the new one, keeping one
// vote per user.
func replaceVote(votes []domain.PollVote, vote domain.PollVote) []domain.PollVote {
	out := make([]domain.PollVote, 0, len(votes)+1)
	for _, v := range votes {
		if v.UserID != vote.UserID {
			out = append(out, v)
		}
	}
	return append(out, vote)
}

// Remove deletes a message after server confirmation.
func (s *ChatStore) Remove(ctx context.Context, id string) error {
	if _, ok := s.coll.Get(id); !ok {
		return domain.NewError(domain.CodeNotFound, "message not found")
	}

	gen := s.generation()
	if err := apiclient.Delete(ctx, s.deps.API, "/api/messages/"+id); err != nil {
		return err
	}
	if !s.current(gen) {
		return errStaleGeneration()
	}

	s.coll.Apply(Remove[domain.Message](id))
	return nil
}

// SaveDraft persists the in-progress message text for the active
// household. It survives reloads and household switches.
func (s *ChatStore) SaveDraft(text string) error {
	s.mu.Lock()
	householdID := s.householdID
	s.mu.Unlock()
	if s.deps.Local == nil || householdID == "" {
		return nil
	}
	if text == "" {
		return s.deps.Local.Remove(chatDraftKey(householdID))
	}
	return s.deps.Local.Set(chatDraftKey(householdID), text)
}

// Draft returns the persisted draft text for the active household.
func (s *ChatStore) Draft() string {
	s.mu.Lock()
	householdID := s.householdID
	s.mu.Unlock()
	if s.deps.Local == nil || householdID == "" {
		return ""
	}
	var text string
	s.deps.Local.Get(chatDraftKey(householdID), &text)
	return text
}

// Messages returns the collection in chronological order.
func (s *ChatStore) Messages() []domain.Message {
	messages := s.coll.Snapshot()
	sort.Slice(messages, func(i, j int) bool {
		a, b := messages[i], messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return messages
}

// Get returns one message by id.
func (s *ChatStore) Get(id string) (domain.Message, bool) {
	return s.coll.Get(id)
}
