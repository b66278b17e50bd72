// Mobrule Mafia Game
//
// A room's host display starts a game of mafia once enough phone-connected
// players have joined and readied up. Each player is secretly dealt a role:
// the mafia pick someone to kill each night, the doctor picks someone to
// protect, and the detective checks whether someone is mafia. Days alternate
// with nights: the group discusses, then votes someone out. Town wins when
// no mafia remain; mafia win once they match the living town headcount.

package main

import (
	"math/rand"
)

// PlayerID is the stable client-supplied identity a player keeps across
// reconnects. Connections come and go; the ID does not.
type PlayerID string

type Phase string

const (
	PhaseLobby      Phase = "lobby"
	PhaseRoleReveal Phase = "role_reveal"
	PhaseNight      Phase = "night"
	PhaseDay        Phase = "day_discussion"
	PhaseVote       Phase = "vote"
	PhaseResolution Phase = "resolution"
	PhaseEnded      Phase = "ended"
)

type Role string

const (
	RoleMafia     Role = "mafia"
	RoleDetective Role = "detective"
	RoleDoctor    Role = "doctor"
	RoleVillager  Role = "villager"
)

func (r Role) valid() bool {
	switch r {
	case RoleMafia, RoleDetective, RoleDoctor, RoleVillager:
		return true
	}
	return false
}

type Team string

const (
	TeamMafia Team = "mafia"
	TeamTown  Team = "town"
)

func (r Role) team() Team {
	if r == RoleMafia {
		return TeamMafia
	}
	return TeamTown
}

type NightAction string

const (
	ActionKill  NightAction = "kill"
	ActionSave  NightAction = "save"
	ActionCheck NightAction = "check"
)

func (a NightAction) valid() bool {
	switch a {
	case ActionKill, ActionSave, ActionCheck:
		return true
	}
	return false
}

// role returns the role allowed to perform the action.
func (a NightAction) role() Role {
	switch a {
	case ActionKill:
		return RoleMafia
	case ActionSave:
		return RoleDoctor
	default:
		return RoleDetective
	}
}

var nightActions = []NightAction{ActionKill, ActionSave, ActionCheck}

// Resolution is the public summary of the most recent night or day.
type Resolution struct {
	Kind       string    `json:"kind"` // "night" or "day"
	Died       *PlayerID `json:"died,omitempty"`
	Eliminated *PlayerID `json:"eliminated,omitempty"`
	Tie        bool      `json:"tie,omitempty"`
}

// selection records who chose which target for a night action. The kill
// slot is shared between mafia members; last write wins for everyone.
type selection struct {
	actor  PlayerID
	target PlayerID
}

// investigation is a completed detective check, attributed to the
// detective who performed it.
type investigation struct {
	target  PlayerID
	isMafia bool
}

// Game is the single active game instance of a room. All access happens
// on the owning room's command loop, so there is no locking here.
type Game struct {
	phase          Phase
	round          int
	roles          map[PlayerID]Role
	alive          map[PlayerID]bool
	selections     map[NightAction]selection
	votes          map[PlayerID]PlayerID
	investigations map[PlayerID][]investigation
	lastResolution *Resolution
	winner         Team // "" until decided, terminal once set
}

// mafiaCountFor derives the mafia headcount from the player count.
func mafiaCountFor(count int) int {
	if count <= 3 {
		return 1
	}
	return max(1, (count-1)/3)
}

// rolesFor builds the unshuffled role list: the derived number of mafia,
// one detective and one doctor when three or more play and slots remain,
// villagers for the rest.
func rolesFor(count int) []Role {
	roles := make([]Role, 0, count)
	for i := 0; i < mafiaCountFor(count); i++ {
		roles = append(roles, RoleMafia)
	}
	if count >= 3 {
		if len(roles) < count {
			roles = append(roles, RoleDetective)
		}
		if len(roles) < count {
			roles = append(roles, RoleDoctor)
		}
	}
	for len(roles) < count {
		roles = append(roles, RoleVillager)
	}
	return roles
}

// newGame deals roles uniformly at random to the given players and
// freezes them as the participant set for the whole game.
func newGame(ids []PlayerID) *Game {
	roles := rolesFor(len(ids))
	rand.Shuffle(len(roles), func(i, j int) {
		roles[i], roles[j] = roles[j], roles[i]
	})

	g := &Game{
		phase:          PhaseRoleReveal,
		round:          1,
		roles:          make(map[PlayerID]Role, len(ids)),
		alive:          make(map[PlayerID]bool, len(ids)),
		selections:     make(map[NightAction]selection),
		votes:          make(map[PlayerID]PlayerID),
		investigations: make(map[PlayerID][]investigation),
	}
	for i, id := range ids {
		g.roles[id] = roles[i]
		g.alive[id] = true
	}
	return g
}

// roleAlive reports whether any living player holds the role.
func (g *Game) roleAlive(role Role) bool {
	for id, alive := range g.alive {
		if alive && g.roles[id] == role {
			return true
		}
	}
	return false
}

// submitNightAction records a night target. Resubmission overwrites.
// The doctor may protect themself; mafia and detective may not
// self-target.
func (g *Game) submitNightAction(actor PlayerID, action NightAction, target PlayerID) bool {
	if g.phase != PhaseNight {
		return false
	}
	if !g.alive[actor] || !g.alive[target] {
		return false
	}
	if g.roles[actor] != action.role() {
		return false
	}
	if actor == target && action != ActionSave {
		return false
	}

	g.selections[action] = selection{actor: actor, target: target}
	return true
}

// nightComplete reports whether every role with a living member has a
// selection recorded, at which point the night resolves automatically.
func (g *Game) nightComplete() bool {
	if g.phase != PhaseNight {
		return false
	}
	for _, action := range nightActions {
		if !g.roleAlive(action.role()) {
			continue
		}
		if _, ok := g.selections[action]; !ok {
			return false
		}
	}
	return true
}

// resolveNight applies the collected selections: a save matching the
// kill target prevents the death, any other kill target dies, and a
// recorded check becomes a private investigation result for the
// detective who made it. Returns nil outside the night phase.
func (g *Game) resolveNight() (*Resolution, *selection) {
	if g.phase != PhaseNight {
		return nil, nil
	}

	res := &Resolution{Kind: "night"}

	kill, hasKill := g.selections[ActionKill]
	save, hasSave := g.selections[ActionSave]
	if hasKill && g.alive[kill.target] && !(hasSave && save.target == kill.target) {
		g.alive[kill.target] = false
		died := kill.target
		res.Died = &died
	}

	var checked *selection
	if check, ok := g.selections[ActionCheck]; ok {
		g.investigations[check.actor] = append(g.investigations[check.actor], investigation{
			target:  check.target,
			isMafia: g.roles[check.target].team() == TeamMafia,
		})
		checked = &check
	}

	g.selections = make(map[NightAction]selection)
	g.lastResolution = res

	if !g.checkWin() {
		g.phase = PhaseDay
	}

	return res, checked
}

// submitVote records an elimination vote. Revoting overwrites. Dead
// players, dead targets, self-votes, and non-participants are rejected.
func (g *Game) submitVote(voter, target PlayerID) bool {
	if g.phase != PhaseVote {
		return false
	}
	if !g.alive[voter] || !g.alive[target] || voter == target {
		return false
	}

	g.votes[voter] = target
	return true
}

// votesComplete reports whether every living player has voted.
func (g *Game) votesComplete() bool {
	if g.phase != PhaseVote {
		return false
	}
	for id, alive := range g.alive {
		if !alive {
			continue
		}
		if _, ok := g.votes[id]; !ok {
			return false
		}
	}
	return true
}

// voteCounts tallies votes cast by living voters against living targets.
func (g *Game) voteCounts() map[PlayerID]int {
	counts := make(map[PlayerID]int)
	for voter, target := range g.votes {
		if g.alive[voter] && g.alive[target] {
			counts[target]++
		}
	}
	return counts
}

// resolveDay tallies the vote under strict plurality: a unique top count
// eliminates that player, any tie at the top eliminates nobody. Returns
// nil outside the vote phase.
func (g *Game) resolveDay() *Resolution {
	if g.phase != PhaseVote {
		return nil
	}

	var top PlayerID
	best := 0
	tie := false
	for id, n := range g.voteCounts() {
		switch {
		case n > best:
			best, top, tie = n, id, false
		case n == best:
			tie = true
		}
	}

	res := &Resolution{Kind: "day"}
	switch {
	case best > 0 && !tie:
		g.alive[top] = false
		eliminated := top
		res.Eliminated = &eliminated
	case tie:
		res.Tie = true
	}

	g.lastResolution = res

	if !g.checkWin() {
		g.phase = PhaseResolution
	}

	return res
}

// advance moves the host-driven transitions: role reveal into the first
// night, discussion into the vote, and the resolution pause into the
// next night with a fresh round.
func (g *Game) advance() bool {
	switch g.phase {
	case PhaseRoleReveal:
		g.phase = PhaseNight
	case PhaseDay:
		g.phase = PhaseVote
	case PhaseResolution:
		g.round++
		g.votes = make(map[PlayerID]PlayerID)
		g.phase = PhaseNight
	default:
		return false
	}
	return true
}

// checkWin splits the living by team and decides the game: no mafia left
// means town wins, mafia matching or outnumbering the living town means
// mafia win. Once a winner is set it never changes.
func (g *Game) checkWin() bool {
	if g.winner != "" {
		g.phase = PhaseEnded
		return true
	}

	var mafia, town int
	for id, alive := range g.alive {
		if !alive {
			continue
		}
		if g.roles[id].team() == TeamMafia {
			mafia++
		} else {
			town++
		}
	}

	switch {
	case mafia == 0:
		g.winner = TeamTown
	case mafia >= town:
		g.winner = TeamMafia
	default:
		return false
	}

	g.phase = PhaseEnded
	return true
}

// setRole overrides a participant's role. Dev mode only; the caller is
// responsible for re-emitting that player's private role view.
func (g *Game) setRole(target PlayerID, role Role) bool {
	if g.phase == PhaseEnded || !role.valid() {
		return false
	}
	if _, ok := g.roles[target]; !ok {
		return false
	}
	g.roles[target] = role
	return true
}

// toggleAlive flips a participant's alive flag and re-runs the win
// check. Dev mode only.
func (g *Game) toggleAlive(target PlayerID) bool {
	if g.phase == PhaseEnded {
		return false
	}
	if _, ok := g.roles[target]; !ok {
		return false
	}
	g.alive[target] = !g.alive[target]
	g.checkWin()
	return true
}
