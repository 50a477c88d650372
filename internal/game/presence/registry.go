package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/cory-johannsen/massgravity/internal/identity"
)

// Entry is a connected player and the channel of their live connection.
type Entry struct {
	Identity    identity.Identity
	Channel     Channel
	ConnectedAt time.Time
}

// Registry maps player ids to their current live connection.
// All methods are safe for concurrent use.
//
// Invariant: at most one Entry exists per player id.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]Entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]Entry)}
}

// Connect stores ch as the player's live channel, replacing any prior entry.
// A replaced channel is closed so no further events reach the dead connection.
//
// Precondition: id must be authenticated; ch must be non-nil.
// Postcondition: Returns the replaced channel (nil if none) and whether the
// registry was empty before the call.
func (r *Registry) Connect(id identity.Identity, ch Channel, now time.Time) (replaced Channel, wasEmpty bool) {
	r.mu.Lock()
	wasEmpty = len(r.entries) == 0
	if prev, ok := r.entries[id.PlayerID]; ok && prev.Channel.ID() != ch.ID() {
		replaced = prev.Channel
	}
	r.entries[id.PlayerID] = Entry{Identity: id, Channel: ch, ConnectedAt: now}
	r.mu.Unlock()

	if replaced != nil {
		_ = replaced.Close()
	}
	return replaced, wasEmpty
}

// Disconnect removes the player's entry if ch is still their live channel.
// A disconnect from a connection that has already been replaced is a no-op.
//
// Postcondition: Returns whether an entry was removed and whether the
// registry is now empty.
func (r *Registry) Disconnect(playerID int64, ch Channel) (removed, nowEmpty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[playerID]
	if ok && (ch == nil || entry.Channel.ID() == ch.ID()) {
		delete(r.entries, playerID)
		removed = true
	}
	return removed, len(r.entries) == 0
}

// ChannelFor returns the player's live channel.
func (r *Registry) ChannelFor(playerID int64) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[playerID]
	if !ok {
		return nil, false
	}
	return entry.Channel, true
}

// Lookup returns the player's entry.
func (r *Registry) Lookup(playerID int64) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[playerID]
	return entry, ok
}

// IsOnline reports whether the player has a live connection.
func (r *Registry) IsOnline(playerID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[playerID]
	return ok
}

// IsCurrent reports whether ch is the player's live channel.
func (r *Registry) IsCurrent(playerID int64, ch Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[playerID]
	return ok && ch != nil && entry.Channel.ID() == ch.ID()
}

// Snapshot returns a stable copy of all entries ordered by player id.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity.PlayerID < out[j].Identity.PlayerID
	})
	return out
}

// Count returns the number of connected players.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
