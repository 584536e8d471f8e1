package state

import "sync"

// Store is the PR State Store: an in-memory map of PR number to
// PullRequestState, owned by exactly one repository controller. Only that
// controller's tick may mutate entries (single-writer discipline); the
// RWMutex exists so a status endpoint or dashboard can take a consistent
// read snapshot concurrently, not to allow concurrent writers.
type Store struct {
	mu    sync.RWMutex
	pulls map[int64]*PullRequestState
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{pulls: make(map[int64]*PullRequestState)}
}

// Get returns the PR record for number, or nil if absent.
func (s *Store) Get(number int64) *PullRequestState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.pulls[number]
}

// Put inserts or replaces a PR record.
func (s *Store) Put(pr *PullRequestState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pulls[pr.Number] = pr
}

// Remove deletes a PR record. No-op if absent.
func (s *Store) Remove(number int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pulls, number)
}

// Len returns the number of PRs currently tracked.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.pulls)
}

// Snapshot returns a shallow copy of all tracked PRs, safe for a reader to
// range over without holding the store's lock. The engine itself never
// calls this mid-tick — it holds the per-repo mutex instead (see
// controller.Controller) and accesses pulls directly via Queued/Get.
func (s *Store) Snapshot() []*PullRequestState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*PullRequestState, 0, len(s.pulls))
	for _, p := range s.pulls {
		out = append(out, p)
	}

	return out
}

// Queued returns every PR currently in Queued status. Order is unspecified;
// callers that need the engine's ordering invariant must sort it themselves
// (see queue.selectNextHead).
func (s *Store) Queued() []*PullRequestState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*PullRequestState
	for _, p := range s.pulls {
		if p.Status.IsQueued() {
			out = append(out, p)
		}
	}

	return out
}

// TestingCount returns the number of PRs currently in Testing status.
// Used by invariant checks (P1, single-tester).
func (s *Store) TestingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.pulls {
		if p.Status.IsTesting() {
			n++
		}
	}

	return n
}
