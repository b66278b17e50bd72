package main

import (
	"cmp"
	"slices"
)

// GameStateMessage is the per-viewer projection of a room's game. Public
// fields are identical for everyone; Role and Investigations are filled
// only for the matching viewer, and the aggregate counts only for the
// host. Nobody ever sees another player's role, target, or vote.
type GameStateMessage struct {
	Type           string              `json:"type"` // "game_state"
	Phase          Phase               `json:"phase"`
	Round          int                 `json:"round"`
	Roster         []RosterEntry       `json:"roster"`
	Resolution     *Resolution         `json:"resolution,omitempty"`
	Winner         Team                `json:"winner,omitempty"`
	Role           Role                `json:"role,omitempty"`
	Investigations []InvestigationView `json:"investigations,omitempty"`
	ActionCount    *int                `json:"action_count,omitempty"`
	VoteCount      *int                `json:"vote_count,omitempty"`
}

type RosterEntry struct {
	ID    PlayerID `json:"id"`
	Name  string   `json:"name"`
	Alive bool     `json:"alive"`
}

type InvestigationView struct {
	Target  PlayerID `json:"target"`
	IsMafia bool     `json:"is_mafia"`
}

// projectGame computes the redacted view of g for one viewer. It is a
// pure function of the canonical state; a nil game projects the lobby.
func projectGame(g *Game, names map[PlayerID]string, viewer PlayerID, isHost bool) GameStateMessage {
	if g == nil {
		return lobbyView(names)
	}

	roster := make([]RosterEntry, 0, len(g.roles))
	for id := range g.roles {
		roster = append(roster, RosterEntry{
			ID:    id,
			Name:  names[id],
			Alive: g.alive[id],
		})
	}
	sortRoster(roster)

	msg := GameStateMessage{
		Type:       "game_state",
		Phase:      g.phase,
		Round:      g.round,
		Roster:     roster,
		Resolution: g.lastResolution,
		Winner:     g.winner,
	}

	if role, ok := g.roles[viewer]; ok {
		msg.Role = role
	}

	for _, inv := range g.investigations[viewer] {
		msg.Investigations = append(msg.Investigations, InvestigationView{
			Target:  inv.target,
			IsMafia: inv.isMafia,
		})
	}

	if isHost {
		actions := len(g.selections)
		votes := 0
		for voter := range g.votes {
			if g.alive[voter] {
				votes++
			}
		}
		msg.ActionCount = &actions
		msg.VoteCount = &votes
	}

	return msg
}

func lobbyView(names map[PlayerID]string) GameStateMessage {
	roster := make([]RosterEntry, 0, len(names))
	for id, name := range names {
		roster = append(roster, RosterEntry{ID: id, Name: name, Alive: true})
	}
	sortRoster(roster)

	return GameStateMessage{
		Type:   "game_state",
		Phase:  PhaseLobby,
		Roster: roster,
	}
}

func sortRoster(roster []RosterEntry) {
	slices.SortFunc(roster, func(a, b RosterEntry) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// allRoles builds the dev-mode full reveal.
func allRoles(g *Game, names map[PlayerID]string) AllRolesMessage {
	entries := make([]RoleEntry, 0, len(g.roles))
	for id, role := range g.roles {
		entries = append(entries, RoleEntry{
			ID:    id,
			Name:  names[id],
			Role:  role,
			Alive: g.alive[id],
		})
	}
	slices.SortFunc(entries, func(a, b RoleEntry) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	return AllRolesMessage{Type: "all_roles", Roles: entries}
}
