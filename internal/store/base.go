package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearthhub/hearthhub/internal/apiclient"
	"github.com/hearthhub/hearthhub/internal/domain"
	"github.com/hearthhub/hearthhub/internal/localstore"
	"github.com/hearthhub/hearthhub/internal/realtime"
)

// Deps are the process-wide collaborators injected into every domain
// store. Stores never construct these themselves.
type Deps struct {
	API     *apiclient.Client
	Channel *realtime.Manager
	Local   *localstore.Store
	Logger  zerolog.Logger
	// UserID is the authenticated user, used for vote identity and
	// notification scoping.
	UserID string
	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func (d Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

// base carries the lifecycle state shared by all domain stores: the
// generation counter guarding late responses, owned subscriptions, and
// the in-flight creation set.
type base struct {
	deps Deps
	log  zerolog.Logger

	gen atomic.Int64

	mu       sync.Mutex
	unsubs   []func()
	inflight map[string]struct{}
}

func newBase(deps Deps, component string) base {
	return base{
		deps:     deps,
		log:      deps.Logger.With().Str("component", component).Logger(),
		inflight: make(map[string]struct{}),
	}
}

// generation returns the current store generation. A command captures
// it before suspending at network I/O and checks it afterwards.
func (b *base) generation() int64 {
	return b.gen.Load()
}

// current reports whether gen is still the live generation. A late
// response from a torn-down generation is discarded, not applied.
func (b *base) current(gen int64) bool {
	return b.gen.Load() == gen
}

// reset bumps the generation, removes owned subscriptions exactly once,
// and clears the in-flight creation set. Returns the new generation.
func (b *base) reset() int64 {
	next := b.gen.Add(1)

	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.inflight = make(map[string]struct{})
	b.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	return next
}

// addUnsub records a subscription teardown owned by this store.
func (b *base) addUnsub(fn func()) {
	b.mu.Lock()
	b.unsubs = append(b.unsubs, fn)
	b.mu.Unlock()
}

// beginCreate claims the in-flight slot for a logical creation. A second
// identical command before the first resolves is rejected rather than
// duplicated.
func (b *base) beginCreate(signature string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, busy := b.inflight[signature]; busy {
		return domain.NewError(domain.CodeConflict, "an identical creation is already in flight")
	}
	b.inflight[signature] = struct{}{}
	return nil
}

// endCreate releases the in-flight slot.
func (b *base) endCreate(signature string) {
	b.mu.Lock()
	delete(b.inflight, signature)
	b.mu.Unlock()
}

// errStaleGeneration is returned when a command resolves after its
// store generation was torn down (e.g. a household switch mid-flight).
func errStaleGeneration() error {
	return domain.NewError(domain.CodeConflict, "store was reset while the command was in flight")
}
