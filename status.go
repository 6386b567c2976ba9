package offlinekit

import (
	"sync"
	"time"
)

// State names the coordinator's position in its push/pull cycle.
type State string

const (
	StateIdle    State = "idle"
	StatePushing State = "pushing"
	StatePulling State = "pulling"
	StateOffline State = "offline"
)

// SyncStatus is the process-wide connectivity and progress signal observed
// by callers. The coordinator is its sole writer; readers receive snapshots
// and never mutate it.
type SyncStatus struct {
	// Online reflects the connectivity signal fed in via SetOnline.
	Online bool

	// Syncing is true while a push/pull cycle is running.
	Syncing bool

	// State is the coordinator's current state.
	State State

	// LastSyncedAt is when the last cycle completed without error.
	LastSyncedAt time.Time

	// PendingCount is the number of outbox entries awaiting
	// acknowledgement.
	PendingCount int

	// LastError holds the most recent sync failure, cleared on the next
	// successful cycle. Degraded-state reporting only; callers never see
	// raw adapter errors.
	LastError string
}

// statusSignal holds the current SyncStatus and fans snapshots out to
// subscribers. Only the coordinator mutates it.
type statusSignal struct {
	mu   sync.RWMutex
	cur  SyncStatus
	subs []func(SyncStatus)
}

func newStatusSignal() *statusSignal {
	return &statusSignal{cur: SyncStatus{State: StateOffline}}
}

func (s *statusSignal) get() SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// update applies fn to the current status under lock, then notifies
// subscribers with the new snapshot outside of it.
func (s *statusSignal) update(fn func(*SyncStatus)) {
	s.mu.Lock()
	fn(&s.cur)
	snapshot := s.cur
	subs := make([]func(SyncStatus), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		go func(h func(SyncStatus)) {
			defer func() {
				recover() // a panicking subscriber must not take down the coordinator
			}()
			h(snapshot)
		}(sub)
	}
}

func (s *statusSignal) subscribe(fn func(SyncStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}
