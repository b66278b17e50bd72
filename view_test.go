package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNames() map[PlayerID]string {
	return map[PlayerID]string{
		"mafia":     "Mallory",
		"detective": "Dana",
		"doctor":    "Drew",
		"vil1":      "Avery",
		"vil2":      "Blake",
	}
}

func TestProjectGameShowsOnlyOwnRole(t *testing.T) {
	g := fiveTownGame(t)
	require.True(t, g.submitNightAction("detective", ActionCheck, "mafia"))
	_, _ = g.resolveNight()

	msg := projectGame(g, testNames(), "vil1", false)

	assert.Equal(t, "game_state", msg.Type)
	assert.Equal(t, RoleVillager, msg.Role)
	assert.Empty(t, msg.Investigations, "another player's checks stay hidden")
	assert.Nil(t, msg.ActionCount)
	assert.Nil(t, msg.VoteCount)

	require.Len(t, msg.Roster, 5)
	for _, entry := range msg.Roster {
		assert.NotEmpty(t, entry.Name)
	}
}

func TestProjectGameDeliversDetectiveResults(t *testing.T) {
	g := fiveTownGame(t)
	require.True(t, g.submitNightAction("detective", ActionCheck, "mafia"))
	_, _ = g.resolveNight()

	msg := projectGame(g, testNames(), "detective", false)

	assert.Equal(t, RoleDetective, msg.Role)
	require.Len(t, msg.Investigations, 1)
	assert.Equal(t, PlayerID("mafia"), msg.Investigations[0].Target)
	assert.True(t, msg.Investigations[0].IsMafia)
}

func TestProjectGameHostSeesAggregatesOnly(t *testing.T) {
	g := fiveTownGame(t)
	require.True(t, g.submitNightAction("mafia", ActionKill, "vil1"))

	msg := projectGame(g, testNames(), "host", true)

	assert.Empty(t, msg.Role, "the host holds no role")
	assert.Empty(t, msg.Investigations)
	require.NotNil(t, msg.ActionCount)
	assert.Equal(t, 1, *msg.ActionCount)
	require.NotNil(t, msg.VoteCount)
	assert.Equal(t, 0, *msg.VoteCount)
}

func TestProjectGameCountsOnlyLivingVotes(t *testing.T) {
	g := fiveTownGame(t)
	g.phase = PhaseVote
	require.True(t, g.submitVote("vil1", "mafia"))
	require.True(t, g.submitVote("vil2", "mafia"))
	g.alive["vil2"] = false

	msg := projectGame(g, testNames(), "host", true)

	require.NotNil(t, msg.VoteCount)
	assert.Equal(t, 1, *msg.VoteCount)
}

func TestProjectGameNilProjectsLobby(t *testing.T) {
	names := map[PlayerID]string{"b": "Blake", "a": "Avery"}

	msg := projectGame(nil, names, "a", false)

	assert.Equal(t, PhaseLobby, msg.Phase)
	assert.Empty(t, msg.Role)
	require.Len(t, msg.Roster, 2)
	assert.Equal(t, "Avery", msg.Roster[0].Name, "roster sorted by name")
	assert.True(t, msg.Roster[0].Alive)
}

func TestProjectGameCarriesResolutionAndWinner(t *testing.T) {
	g := fiveTownGame(t)
	require.True(t, g.submitNightAction("mafia", ActionKill, "vil1"))
	res, _ := g.resolveNight()
	require.NotNil(t, res)

	msg := projectGame(g, testNames(), "vil2", false)

	require.NotNil(t, msg.Resolution)
	assert.Equal(t, "night", msg.Resolution.Kind)
	require.NotNil(t, msg.Resolution.Died)
	assert.Equal(t, PlayerID("vil1"), *msg.Resolution.Died)
}

func TestAllRoles(t *testing.T) {
	g := fiveTownGame(t)
	g.alive["vil1"] = false

	msg := allRoles(g, testNames())

	assert.Equal(t, "all_roles", msg.Type)
	require.Len(t, msg.Roles, 5)

	byID := make(map[PlayerID]RoleEntry)
	for _, entry := range msg.Roles {
		byID[entry.ID] = entry
	}
	assert.Equal(t, RoleMafia, byID["mafia"].Role)
	assert.False(t, byID["vil1"].Alive)
	assert.Equal(t, "Avery", byID["vil1"].Name)
}
