package tracker

import (
	"sync"
	"time"
)

// DefaultGraceWindow is how long a user may look invalid before their open
// session is closed. Brief gateway flicker (reconnects, region moves) stays
// inside the window and never fragments a session.
const DefaultGraceWindow = 30 * time.Second

// Decision is the debouncer's verdict for one activity observation.
type Decision int

const (
	// DecisionNone means the observation changes nothing right now.
	DecisionNone Decision = iota
	// DecisionOpen means the user is validly active; open a session if none is.
	DecisionOpen
	// DecisionClose means the user has been invalid past the grace window;
	// close the open session.
	DecisionClose
)

// Key identifies one member of one space.
type Key struct {
	SpaceID string
	UserID  string
}

// Debouncer filters noisy activity-state transitions. Per (space, user) it is
// a two-state machine: quiet, or pending-invalid since some timestamp. A
// session only closes once a continuous invalid stretch outlives the grace
// window.
type Debouncer struct {
	grace time.Duration
	clock Clock

	mu      sync.Mutex
	pending map[Key]time.Time // first time the user was observed invalid
}

// NewDebouncer creates a debouncer with the given grace window.
func NewDebouncer(grace time.Duration, clock Clock) *Debouncer {
	if grace == 0 {
		grace = DefaultGraceWindow
	}
	return &Debouncer{
		grace:   grace,
		clock:   clock,
		pending: make(map[Key]time.Time),
	}
}

// Observe feeds one activity-state observation through the state machine.
func (d *Debouncer) Observe(spaceID, userID string, valid bool) Decision {
	key := Key{SpaceID: spaceID, UserID: userID}

	d.mu.Lock()
	defer d.mu.Unlock()

	if valid {
		delete(d.pending, key)
		return DecisionOpen
	}

	marker, exists := d.pending[key]
	if !exists {
		d.pending[key] = d.clock.Now()
		return DecisionNone
	}

	if d.clock.Now().Sub(marker) > d.grace {
		delete(d.pending, key)
		return DecisionClose
	}
	return DecisionNone
}

// Expired returns and clears every pending-invalid marker older than the
// grace window. The scheduler sweeps these so a user whose final event was
// the flicker itself still gets their session closed.
func (d *Debouncer) Expired() []Key {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	var keys []Key
	for key, marker := range d.pending {
		if now.Sub(marker) > d.grace {
			delete(d.pending, key)
			keys = append(keys, key)
		}
	}
	return keys
}

// Forget drops any pending marker for the user. Called when their session is
// closed through another path.
func (d *Debouncer) Forget(spaceID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, Key{SpaceID: spaceID, UserID: userID})
}
