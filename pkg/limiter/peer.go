package limiter

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces the opaque id an instance announces on the
// coordination channel. Identifier generation is an external collaborator
// per this package's design; the default generator uses a random UUID.
type IDGenerator func() string

// DefaultIDGenerator returns a random UUID string.
func DefaultIDGenerator() string {
	return uuid.NewString()
}

// peerRegistry tracks the other instances discovered on a coordination
// channel. selfID is tracked implicitly and is never a member of peers.
type peerRegistry struct {
	selfID string
	peers  map[string]time.Time // id -> lastHeardAt
}

func newPeerRegistry(selfID string) *peerRegistry {
	return &peerRegistry{
		selfID: selfID,
		peers:  make(map[string]time.Time),
	}
}

// see records (or refreshes) a peer's heartbeat. It reports whether the
// peer was previously unknown, so the caller can decide whether to answer
// with a WELCOME.
func (r *peerRegistry) see(id string, now time.Time) (isNew bool) {
	if id == r.selfID {
		return false
	}
	_, known := r.peers[id]
	r.peers[id] = now
	return !known
}

// remove evicts a peer immediately, e.g. on an explicit GOODBYE.
func (r *peerRegistry) remove(id string) {
	delete(r.peers, id)
}

// evictExpired drops every peer whose lastHeardAt is older than the expiry
// horizon. It reports whether the membership changed.
func (r *peerRegistry) evictExpired(now time.Time, expiryHorizon time.Duration) bool {
	changed := false
	cutoff := now.Add(-expiryHorizon)
	for id, lastHeard := range r.peers {
		if lastHeard.Before(cutoff) {
			delete(r.peers, id)
			changed = true
		}
	}
	return changed
}

// groupSize is |peers| + 1, self included.
func (r *peerRegistry) groupSize() int {
	return len(r.peers) + 1
}

// ids returns the full group's ids (self included), sorted for stable
// hashing input.
func (r *peerRegistry) ids() []string {
	ids := make([]string, 0, len(r.peers)+1)
	ids = append(ids, r.selfID)
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
