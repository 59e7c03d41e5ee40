package teams_test

import (
	"testing"

	"optionex/internal/teams"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_AuthenticateAndRoleLookup(t *testing.T) {
	r := teams.NewRegistry()
	r.Add(teams.Team{ID: "TEAM_A", APIKey: "key-a", Role: "market_maker"})

	team, ok := r.Authenticate("key-a")
	assert.True(t, ok)
	assert.Equal(t, "TEAM_A", team.ID)

	role, ok := r.RoleFor("TEAM_A")
	assert.True(t, ok)
	assert.Equal(t, "market_maker", role)
}

func TestRegistry_UnknownKeyFails(t *testing.T) {
	r := teams.NewRegistry()
	_, ok := r.Authenticate("ghost")
	assert.False(t, ok)
}
