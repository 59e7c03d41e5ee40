// Package teams is the minimal in-memory API-key -> team identity registry
// the HTTP layer authenticates against. Grounded on spec.md's framing of
// the team/API-key registry as an external collaborator (§1 EXPANSION) and,
// for the lookup-table shape, on the teacher's ClientSession map in
// internal/net.Server.
package teams

import "sync"

// Team is one registered trading participant.
type Team struct {
	ID     string
	APIKey string
	Role   string
}

// Registry maps API keys to teams and team ids to roles, both read far
// more often than written, so a single RWMutex suffices.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]Team
	byID  map[string]Team
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Team), byID: make(map[string]Team)}
}

// Add registers a team, keyed by both its API key and its id.
func (r *Registry) Add(team Team) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[team.APIKey] = team
	r.byID[team.ID] = team
}

// Authenticate resolves an API key to its team.
func (r *Registry) Authenticate(apiKey string) (Team, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	team, ok := r.byKey[apiKey]
	return team, ok
}

// RoleFor resolves a team id to its role, used by the trade publisher
// stage to rate a counterparty's fee even though the counterparty isn't
// the order currently flowing through the pipeline.
func (r *Registry) RoleFor(teamID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	team, ok := r.byID[teamID]
	return team.Role, ok
}
