package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func testCfg() *Config {
	return &Config{
		minPlayers: 2,
		hostGrace:  time.Minute,
	}
}

// newTestRoom spins up a room with a running command loop, registered
// under a fixed code so registry-driven destruction works.
func newTestRoom(t *testing.T, cfg *Config) (*Registry, *Room) {
	t.Helper()

	reg := &Registry{rooms: make(map[string]*Room), cfg: cfg}
	room := newRoom("TEST", "host", reg)
	reg.rooms[room.code] = room
	go room.run(cfg)

	t.Cleanup(func() { reg.Destroy(room.code, "test over") })

	return reg, room
}

// testClient builds a connectionless client; tests read its send channel
// directly in place of a websocket write pump.
func testClient(id string) *Client {
	return &Client{
		send:     make(chan any, 256),
		playerID: PlayerID(id),
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

// waitFor reads the client's send channel, discarding messages until one
// of the wanted type arrives.
func waitFor[T any](t *testing.T, c *Client) T {
	t.Helper()

	var zero T
	deadline := time.After(waitTimeout)
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				t.Fatalf("send channel closed while waiting for %T", zero)
			}
			if v, ok := msg.(T); ok {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %T", zero)
		}
	}
}

// waitForPhase discards game states until one in the wanted phase
// arrives.
func waitForPhase(t *testing.T, c *Client, phase Phase) GameStateMessage {
	t.Helper()

	for {
		msg := waitFor[GameStateMessage](t, c)
		if msg.Phase == phase {
			return msg
		}
	}
}

// roomStateNow requests a fresh snapshot through the loop. Because the
// loop is serialized, the reply reflects everything submitted before it.
func roomStateNow(t *testing.T, room *Room, c *Client) RoomStateMessage {
	t.Helper()

	drain(c)
	room.submit(request{client: c, cmd: getRoomStateCmd{}})
	return waitFor[RoomStateMessage](t, c)
}

func attachHost(t *testing.T, room *Room) *Client {
	t.Helper()

	c := testClient("host")
	room.attach(c)
	waitFor[HubStateMessage](t, c)
	return c
}

func joinPlayer(t *testing.T, room *Room, id, name string) *Client {
	t.Helper()

	c := testClient(id)
	room.attach(c)
	room.submit(request{client: c, cmd: joinCmd{name: name}})
	waitFor[HubStateMessage](t, c)
	return c
}

func readyUp(room *Room, clients ...*Client) {
	for _, c := range clients {
		room.submit(request{client: c, cmd: setReadyCmd{ready: true}})
	}
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestJoinAndReady(t *testing.T) {
	_, room := newTestRoom(t, testCfg())
	host := attachHost(t, room)
	p1 := joinPlayer(t, room, "p1", "Avery")

	state := roomStateNow(t, room, host)
	require.Len(t, state.Players, 1)
	assert.Equal(t, "Avery", state.Players[0].Name)
	assert.False(t, state.Players[0].Ready)
	assert.True(t, state.Players[0].Connected)
	assert.True(t, state.HostConnected)

	readyUp(room, p1)

	state = roomStateNow(t, room, host)
	require.Len(t, state.Players, 1)
	assert.True(t, state.Players[0].Ready)
}

func TestJoinRejectsTakenName(t *testing.T) {
	_, room := newTestRoom(t, testCfg())
	attachHost(t, room)
	joinPlayer(t, room, "p1", "Avery")

	c2 := testClient("p2")
	room.attach(c2)
	room.submit(request{client: c2, cmd: joinCmd{name: "Avery"}})

	errMsg := waitFor[*ErrorMessage](t, c2)
	assert.Equal(t, errNameTaken, errMsg.Code)

	// A different name still works, and a rejoin may rename.
	room.submit(request{client: c2, cmd: joinCmd{name: "Blake"}})
	waitFor[HubStateMessage](t, c2)
	room.submit(request{client: c2, cmd: joinCmd{name: "Casey"}})
	waitFor[HubStateMessage](t, c2)

	state := roomStateNow(t, room, c2)
	require.Len(t, state.Players, 2)
	assert.Equal(t, "Casey", state.Players[1].Name)
}

func TestHostCannotJoinAsPlayer(t *testing.T) {
	_, room := newTestRoom(t, testCfg())
	host := attachHost(t, room)

	room.submit(request{client: host, cmd: joinCmd{name: "Hosty"}})

	state := roomStateNow(t, room, host)
	assert.Empty(t, state.Players)
}

func TestStartGameRequiresMinPlayers(t *testing.T) {
	cfg := testCfg()
	cfg.minPlayers = 5
	_, room := newTestRoom(t, cfg)
	host := attachHost(t, room)
	p1 := joinPlayer(t, room, "p1", "Avery")
	p2 := joinPlayer(t, room, "p2", "Blake")
	readyUp(room, p1, p2)

	drain(host)
	room.submit(request{client: host, cmd: startGameCmd{}})

	errMsg := waitFor[*ErrorMessage](t, host)
	assert.Equal(t, errNeedMinPlayers, errMsg.Code)
	assert.Equal(t, 5, errMsg.MinPlayers)
}

func TestStartGameRequiresAllReady(t *testing.T) {
	_, room := newTestRoom(t, testCfg())
	host := attachHost(t, room)
	p1 := joinPlayer(t, room, "p1", "Avery")
	joinPlayer(t, room, "p2", "Blake")
	readyUp(room, p1)

	drain(host)
	room.submit(request{client: host, cmd: startGameCmd{}})

	errMsg := waitFor[*ErrorMessage](t, host)
	assert.Equal(t, errNotAllReady, errMsg.Code)
}

func TestStartGameRejectsNonHost(t *testing.T) {
	_, room := newTestRoom(t, testCfg())
	attachHost(t, room)
	p1 := joinPlayer(t, room, "p1", "Avery")

	drain(p1)
	room.submit(request{client: p1, cmd: startGameCmd{}})

	errMsg := waitFor[*ErrorMessage](t, p1)
	assert.Equal(t, errNotHost, errMsg.Code)
}

func TestStartGameDealsPrivateRoles(t *testing.T) {
	_, room := newTestRoom(t, testCfg())
	host := attachHost(t, room)
	p1 := joinPlayer(t, room, "p1", "Avery")
	p2 := joinPlayer(t, room, "p2", "Blake")
	readyUp(room, p1, p2)

	drain(host)
	room.submit(request{client: host, cmd: startGameCmd{}})

	r1 := waitFor[RoleMessage](t, p1)
	r2 := waitFor[RoleMessage](t, p2)

	roles := map[Role]int{r1.Role: 1}
	roles[r2.Role]++
	assert.Equal(t, map[Role]int{RoleMafia: 1, RoleVillager: 1}, roles)

	hostView := waitForPhase(t, host, PhaseRoleReveal)
	assert.Empty(t, hostView.Role)
	require.NotNil(t, hostView.ActionCount)

	playerView := waitForPhase(t, p1, PhaseRoleReveal)
	assert.Equal(t, r1.Role, playerView.Role)
	assert.Nil(t, playerView.ActionCount)
}

func TestDevOpsIgnoredOutsideDevMode(t *testing.T) {
	_, room := newTestRoom(t, testCfg())
	host := attachHost(t, room)
	p1 := joinPlayer(t, room, "p1", "Avery")
	p2 := joinPlayer(t, room, "p2", "Blake")
	readyUp(room, p1, p2)
	room.submit(request{client: host, cmd: startGameCmd{}})
	waitForPhase(t, host, PhaseRoleReveal)

	drain(host)
	room.submit(request{client: host, cmd: revealRolesCmd{}})
	room.submit(request{client: host, cmd: getRoomStateCmd{}})

	// The reveal is processed before the snapshot request; if it had
	// produced anything it would arrive first.
	deadline := time.After(waitTimeout)
	for {
		select {
		case msg := <-host.send:
			switch msg.(type) {
			case AllRolesMessage:
				t.Fatal("roles revealed without dev mode")
			case RoomStateMessage:
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for the room snapshot")
		}
	}
}

func TestDevModeRevealsRolesToHostOnly(t *testing.T) {
	_, room := newTestRoom(t, testCfg())
	host := attachHost(t, room)
	p1 := joinPlayer(t, room, "p1", "Avery")
	p2 := joinPlayer(t, room, "p2", "Blake")

	room.submit(request{client: host, cmd: setDevModeCmd{enable: true}})
	readyUp(room, p1, p2)
	room.submit(request{client: host, cmd: startGameCmd{}})
	waitForPhase(t, host, PhaseRoleReveal)

	room.submit(request{client: host, cmd: revealRolesCmd{}})

	reveal := waitFor[AllRolesMessage](t, host)
	require.Len(t, reveal.Roles, 2)

	// A player asking for the reveal is silently ignored.
	drain(p1)
	room.submit(request{client: p1, cmd: revealRolesCmd{}})
	room.submit(request{client: p1, cmd: getRoomStateCmd{}})

	deadline := time.After(waitTimeout)
	for {
		select {
		case msg := <-p1.send:
			switch msg.(type) {
			case AllRolesMessage:
				t.Fatal("roles revealed to a non-host")
			case RoomStateMessage:
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for the room snapshot")
		}
	}
}

func TestReattachResyncsPrivateState(t *testing.T) {
	_, room := newTestRoom(t, testCfg())
	host := attachHost(t, room)
	p1 := joinPlayer(t, room, "p1", "Avery")
	p2 := joinPlayer(t, room, "p2", "Blake")
	readyUp(room, p1, p2)
	room.submit(request{client: host, cmd: startGameCmd{}})

	role := waitFor[RoleMessage](t, p1)

	room.detach(p1)

	state := roomStateNow(t, room, host)
	for _, p := range state.Players {
		if p.ID == "p1" {
			assert.False(t, p.Connected)
		}
	}

	// Same identity, fresh connection: full resync including the
	// private projection.
	p1b := testClient("p1")
	room.attach(p1b)

	waitFor[RoomStateMessage](t, p1b)
	waitFor[HubStateMessage](t, p1b)
	view := waitFor[GameStateMessage](t, p1b)
	assert.Equal(t, role.Role, view.Role)
}

func TestLeaveRemovesPlayer(t *testing.T) {
	_, room := newTestRoom(t, testCfg())
	host := attachHost(t, room)
	p1 := joinPlayer(t, room, "p1", "Avery")
	joinPlayer(t, room, "p2", "Blake")

	room.submit(request{client: p1, cmd: leaveCmd{}})

	state := roomStateNow(t, room, host)
	require.Len(t, state.Players, 1)
	assert.Equal(t, "Blake", state.Players[0].Name)
}

func TestHostGraceZeroDestroysImmediately(t *testing.T) {
	cfg := testCfg()
	cfg.hostGrace = 0
	reg, room := newTestRoom(t, cfg)
	host := attachHost(t, room)
	p1 := joinPlayer(t, room, "p1", "Avery")

	room.detach(host)

	closedMsg := waitFor[RoomClosedMessage](t, p1)
	assert.Equal(t, "host_left", closedMsg.Reason)

	require.Eventually(t, func() bool { return closed(room.done) },
		waitTimeout, 5*time.Millisecond)

	_, ok := reg.Lookup(room.code)
	assert.False(t, ok)
}

func TestHostGraceExpiryDestroysRoom(t *testing.T) {
	cfg := testCfg()
	cfg.hostGrace = 30 * time.Millisecond
	reg, room := newTestRoom(t, cfg)
	host := attachHost(t, room)

	room.detach(host)

	require.Eventually(t, func() bool { return closed(room.done) },
		waitTimeout, 5*time.Millisecond)

	_, ok := reg.Lookup(room.code)
	assert.False(t, ok)
}

func TestHostReattachCancelsGrace(t *testing.T) {
	cfg := testCfg()
	cfg.hostGrace = 50 * time.Millisecond
	_, room := newTestRoom(t, cfg)
	host := attachHost(t, room)

	room.detach(host)
	hostB := attachHost(t, room)

	time.Sleep(150 * time.Millisecond)

	assert.False(t, closed(room.done), "room survives once the host is back")
	state := roomStateNow(t, room, hostB)
	assert.True(t, state.HostConnected)
}

func TestFullGameAwardsScoresAndHistory(t *testing.T) {
	_, room := newTestRoom(t, testCfg())
	host := attachHost(t, room)
	p1 := joinPlayer(t, room, "p1", "Avery")
	p2 := joinPlayer(t, room, "p2", "Blake")
	readyUp(room, p1, p2)

	room.submit(request{client: host, cmd: startGameCmd{}})

	r1 := waitFor[RoleMessage](t, p1)
	mafia, victim := p1, p2
	if r1.Role != RoleMafia {
		mafia, victim = p2, p1
	}

	room.submit(request{client: host, cmd: advancePhaseCmd{}})
	waitForPhase(t, mafia, PhaseNight)

	// With no doctor or detective alive, the lone kill resolves the
	// night, and with the last villager dead the mafia win outright.
	room.submit(request{client: mafia, cmd: nightActionCmd{action: ActionKill, target: victim.playerID}})

	final := waitForPhase(t, mafia, PhaseEnded)
	assert.Equal(t, TeamMafia, final.Winner)
	require.NotNil(t, final.Resolution)
	require.NotNil(t, final.Resolution.Died)
	assert.Equal(t, victim.playerID, *final.Resolution.Died)

	drain(mafia)
	room.submit(request{client: mafia, cmd: getHubStateCmd{}})
	hub := waitFor[HubStateMessage](t, mafia)

	require.Len(t, hub.History, 1)
	assert.Equal(t, gameKeyMafia, hub.History[0].Game)
	assert.Equal(t, TeamMafia, hub.History[0].Winner)
	assert.Equal(t, 1, hub.History[0].Rounds)

	scores := make(map[PlayerID]int)
	for _, entry := range hub.Scoreboard {
		scores[entry.ID] = entry.Score
	}
	assert.Equal(t, 1, scores[mafia.playerID])
	assert.Equal(t, 0, scores[victim.playerID])

	// Back to the lobby: game cleared, ready flags reset, scores kept.
	room.submit(request{client: host, cmd: backToLobbyCmd{}})

	state := roomStateNow(t, room, host)
	assert.False(t, state.InGame)
	for _, p := range state.Players {
		assert.False(t, p.Ready)
	}
}

func TestVoteFlowThroughResolutionPause(t *testing.T) {
	_, room := newTestRoom(t, testCfg())
	host := attachHost(t, room)
	clients := []*Client{
		joinPlayer(t, room, "p1", "Avery"),
		joinPlayer(t, room, "p2", "Blake"),
		joinPlayer(t, room, "p3", "Casey"),
		joinPlayer(t, room, "p4", "Drew"),
		joinPlayer(t, room, "p5", "Emery"),
	}
	readyUp(room, clients...)

	room.submit(request{client: host, cmd: startGameCmd{}})

	byRole := make(map[Role][]*Client)
	for _, c := range clients {
		role := waitFor[RoleMessage](t, c)
		byRole[role.Role] = append(byRole[role.Role], c)
	}
	require.Len(t, byRole[RoleMafia], 1)
	mafia := byRole[RoleMafia][0]

	room.submit(request{client: host, cmd: advancePhaseCmd{}})
	waitForPhase(t, host, PhaseNight)

	// Skip the night entirely; the host can force it along.
	room.submit(request{client: host, cmd: forceResolveNightCmd{}})
	waitForPhase(t, host, PhaseDay)

	room.submit(request{client: host, cmd: advancePhaseCmd{}})
	waitForPhase(t, host, PhaseVote)

	// Everyone piles on the mafia except the mafia themself.
	for _, c := range clients {
		target := mafia.playerID
		if c == mafia {
			target = clients[0].playerID
			if mafia == clients[0] {
				target = clients[1].playerID
			}
		}
		room.submit(request{client: c, cmd: voteCmd{target: target}})
	}

	// Four votes against one: the mafia are voted out and town wins.
	final := waitForPhase(t, host, PhaseEnded)
	assert.Equal(t, TeamTown, final.Winner)
	require.NotNil(t, final.Resolution)
	require.NotNil(t, final.Resolution.Eliminated)
	assert.Equal(t, mafia.playerID, *final.Resolution.Eliminated)
}

func TestDroppedSlowClientDoesNotKillLoop(t *testing.T) {
	_, room := newTestRoom(t, testCfg())
	host := attachHost(t, room)

	// A one-slot buffer fills on attach; the room-state broadcast that
	// follows finds it full and drops the client.
	slow := &Client{send: make(chan any, 1), playerID: "p1"}
	room.attach(slow)

	// The dropped client's reader has not noticed yet and keeps
	// submitting; direct replies to it must be discarded, not panic the
	// loop on its closed send channel.
	room.submit(request{client: slow, cmd: joinCmd{name: "Avery"}})
	room.submit(request{client: slow, cmd: getRoomStateCmd{}})
	room.submit(request{client: slow, cmd: startGameCmd{}})

	state := roomStateNow(t, room, host)
	require.Len(t, state.Players, 1, "the room is still serving requests")
	assert.Equal(t, "Avery", state.Players[0].Name)

	<-slow.send
	_, ok := <-slow.send
	assert.False(t, ok, "the dropped client's channel is closed")
}

func TestSetCurrentGameRejectsUnknownKeys(t *testing.T) {
	_, room := newTestRoom(t, testCfg())
	host := attachHost(t, room)

	room.submit(request{client: host, cmd: setCurrentGameCmd{game: "charades"}})

	state := roomStateNow(t, room, host)
	assert.Equal(t, gameKeyMafia, state.CurrentGame)
}
