// Package position tracks each team's signed position per instrument in
// memory. Grounded on spec.md §4.8 and original_source's
// domain/exchange/position (PositionService: update, get, get_all,
// total_absolute, initialize), durability explicitly out of scope.
package position

import "sync"

// Store is the single-mutex-guarded position book for every
// team. The position tracker pipeline stage is the sole writer; HTTP
// handlers are readers.
type Store struct {
	mu  sync.Mutex
	pos map[string]map[string]int64 // team_id -> instrument_id -> signed qty
}

// NewStore builds an empty position store.
func NewStore() *Store {
	return &Store{pos: make(map[string]map[string]int64)}
}

// Initialize ensures team has an entry, idempotently.
func (s *Store) Initialize(teamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureTeam(teamID)
}

func (s *Store) ensureTeam(teamID string) map[string]int64 {
	team, ok := s.pos[teamID]
	if !ok {
		team = make(map[string]int64)
		s.pos[teamID] = team
	}
	return team
}

// Update applies delta to team's position in instrument, initialising a
// missing entry to zero first.
func (s *Store) Update(teamID, instrumentID string, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	team := s.ensureTeam(teamID)
	team[instrumentID] += delta
}

// Get returns team's position in one instrument (zero if absent).
func (s *Store) Get(teamID, instrumentID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos[teamID][instrumentID]
}

// GetAll returns an independent copy of team's full position map.
func (s *Store) GetAll(teamID string) map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.pos[teamID]))
	for instrumentID, qty := range s.pos[teamID] {
		out[instrumentID] = qty
	}
	return out
}

// TotalAbsolute returns the sum of |position| across every instrument for
// team.
func (s *Store) TotalAbsolute(teamID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, qty := range s.pos[teamID] {
		if qty < 0 {
			qty = -qty
		}
		total += qty
	}
	return total
}
