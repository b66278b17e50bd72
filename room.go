package main

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

const (
	gameKeyMafia  = "mafia"
	devMinPlayers = 2
)

// Player is a room member. The ID survives reconnects; the client handle
// is nulled on disconnect and only the player's explicit leave removes
// the entry. Score accumulates across games.
type Player struct {
	ID     PlayerID
	Name   string
	Ready  bool
	Score  int
	client *Client
}

// request pairs a validated command with the connection that issued it.
// Internal events (like the host grace timer firing) carry a nil client.
type request struct {
	client *Client
	cmd    command
}

// Room is one isolated session. All state below the channels is owned by
// the run loop: every mutation happens there, one command at a time, so
// rooms are serialized internally and fully independent of each other.
type Room struct {
	code      string
	hostID    PlayerID
	createdAt time.Time

	registry *Registry

	register chan *Client
	unreg    chan *Client
	requests chan request
	closing  chan string
	done     chan struct{}

	clients     map[*Client]bool
	players     map[PlayerID]*Player
	hostClient  *Client
	devMode     bool
	currentGame string
	history     []HistoryEntry
	game        *Game
	graceTimer  *time.Timer

	mu         sync.RWMutex // guards lastActive for the reaper
	lastActive time.Time
}

func newRoom(code string, hostID PlayerID, reg *Registry) *Room {
	now := time.Now()
	return &Room{
		code:        code,
		hostID:      hostID,
		createdAt:   now,
		registry:    reg,
		register:    make(chan *Client),
		unreg:       make(chan *Client),
		requests:    make(chan request),
		closing:     make(chan string, 1),
		done:        make(chan struct{}),
		clients:     make(map[*Client]bool),
		players:     make(map[PlayerID]*Player),
		currentGame: gameKeyMafia,
		lastActive:  now,
	}
}

func (r *Room) run(cfg *Config) {
	for {
		select {
		case c := <-r.register:
			r.handleAttach(cfg, c)
		case c := <-r.unreg:
			r.handleDetach(cfg, c)
		case req := <-r.requests:
			r.handleRequest(cfg, req)
		case reason := <-r.closing:
			r.handleClose(cfg, reason)
			return
		}
	}
}

// attach, detach, submit and shutdown are the only entry points from
// other goroutines; each gives up if the room has already closed.
func (r *Room) attach(c *Client) {
	select {
	case r.register <- c:
	case <-r.done:
	}
}

func (r *Room) detach(c *Client) {
	select {
	case r.unreg <- c:
	case <-r.done:
	}
}

func (r *Room) submit(req request) {
	select {
	case r.requests <- req:
	case <-r.done:
	}
}

func (r *Room) shutdown(reason string) {
	select {
	case r.closing <- reason:
	case <-r.done:
	}
}

func (r *Room) touch() {
	r.mu.Lock()
	r.lastActive = time.Now()
	r.mu.Unlock()
}

func (r *Room) idleSince() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActive
}

func (r *Room) minPlayers(cfg *Config) int {
	if r.devMode {
		return devMinPlayers
	}
	return cfg.minPlayers
}

func (r *Room) isHost(c *Client) bool {
	return c != nil && r.hostID != "" && c.playerID == r.hostID
}

func (r *Room) names() map[PlayerID]string {
	m := make(map[PlayerID]string, len(r.players))
	for id, p := range r.players {
		m[id] = p.Name
	}
	return m
}

// handleAttach rebinds a known identity to a new connection and pushes a
// full resync to it: room state, hub state, and that identity's
// projected game view (which carries its private data, and nobody
// else's). Unknown identities only get the room snapshot so they can
// join. A host reattach cancels any pending grace destruction.
func (r *Room) handleAttach(cfg *Config, c *Client) {
	r.touch()
	r.clients[c] = true

	known := false
	switch {
	case r.isHost(c):
		old := r.hostClient
		r.hostClient = c
		if r.graceTimer != nil {
			r.graceTimer.Stop()
			r.graceTimer = nil
		}
		if old != nil && old != c {
			r.closeClient(old)
		}
		known = true
		logf(cfg, "ROOMS: Host reattached to %s", r.code)

	default:
		if p, ok := r.players[c.playerID]; ok {
			old := p.client
			p.client = c
			if old != nil && old != c {
				r.closeClient(old)
			}
			known = true
		}
	}

	r.sendTo(c, r.roomState(cfg))
	if known {
		r.sendTo(c, r.hubState())
		r.sendTo(c, projectGame(r.game, r.names(), c.playerID, r.isHost(c)))
	}

	r.broadcastRoomState(cfg)
}

// handleDetach nulls the connection handle for whichever identity owned
// it. The identity stays a full participant: the game never waits on a
// disconnected player, it just never hears from them.
func (r *Room) handleDetach(cfg *Config, c *Client) {
	r.touch()
	r.clientGone(cfg, c)
	r.broadcastRoomState(cfg)
}

func (r *Room) clientGone(cfg *Config, c *Client) {
	r.closeClient(c)

	if r.hostClient == c {
		r.hostClient = nil
		r.scheduleHostGrace(cfg)
		logf(cfg, "ROOMS: Host disconnected from %s", r.code)
	}
	for _, p := range r.players {
		if p.client == c {
			p.client = nil
		}
	}
}

func (r *Room) closeClient(c *Client) {
	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

// scheduleHostGrace arms the host-absence timer. The callback only posts
// an event back into the command loop, so a reattach that lands first
// simply finds hostClient rebound and the expiry becomes a no-op.
func (r *Room) scheduleHostGrace(cfg *Config) {
	if cfg.hostGrace <= 0 {
		r.registry.Destroy(r.code, "host_left")
		return
	}
	if r.graceTimer != nil {
		r.graceTimer.Stop()
	}
	r.graceTimer = time.AfterFunc(cfg.hostGrace, func() {
		r.submit(request{cmd: hostGraceExpiredCmd{}})
	})
}

func (r *Room) handleRequest(cfg *Config, req request) {
	r.touch()
	c := req.client

	switch cmd := req.cmd.(type) {
	case joinCmd:
		r.handleJoin(cfg, c, cmd)

	case setReadyCmd:
		if c == nil {
			return
		}
		if p, ok := r.players[c.playerID]; ok {
			p.Ready = cmd.ready
			r.broadcastRoomState(cfg)
		}

	case leaveCmd:
		if c == nil || r.isHost(c) {
			return
		}
		if p, ok := r.players[c.playerID]; ok {
			delete(r.players, c.playerID)
			logf(cfg, "ROOMS: Player %q left %s", p.Name, r.code)
			r.broadcastRoomState(cfg)
			r.broadcastGameState()
		}

	case getRoomStateCmd:
		if c != nil {
			r.sendTo(c, r.roomState(cfg))
		}

	case getHubStateCmd:
		if c != nil {
			r.sendTo(c, r.hubState())
		}

	case setDevModeCmd:
		if !r.requireHost(c) {
			return
		}
		r.devMode = cmd.enable
		logf(cfg, "ROOMS: Dev mode %t in %s", cmd.enable, r.code)
		r.broadcastRoomState(cfg)

	case setCurrentGameCmd:
		if !r.requireHost(c) {
			return
		}
		if cmd.game != gameKeyMafia {
			return
		}
		r.currentGame = cmd.game
		r.broadcastHubState()

	case startGameCmd:
		r.handleStartGame(cfg, c)

	case advancePhaseCmd:
		if !r.requireHost(c) || r.game == nil {
			return
		}
		if r.game.advance() {
			r.broadcastGameState()
		}

	case forceResolveNightCmd:
		if !r.requireHost(c) {
			return
		}
		r.resolveNightNow(cfg)

	case forceResolveDayCmd:
		if !r.requireHost(c) {
			return
		}
		r.resolveDayNow(cfg)

	case backToLobbyCmd:
		if !r.requireHost(c) || r.game == nil {
			return
		}
		r.game = nil
		for _, p := range r.players {
			p.Ready = false
		}
		logf(cfg, "GAMES: %s returned to lobby", r.code)
		r.broadcastRoomState(cfg)
		r.broadcastGameState()

	case nightActionCmd:
		if c == nil || r.game == nil {
			return
		}
		if !r.game.submitNightAction(c.playerID, cmd.action, cmd.target) {
			return
		}
		if r.game.nightComplete() {
			r.resolveNightNow(cfg)
		} else {
			r.broadcastGameState()
		}

	case voteCmd:
		if c == nil || r.game == nil {
			return
		}
		if !r.game.submitVote(c.playerID, cmd.target) {
			return
		}
		if r.game.votesComplete() {
			r.resolveDayNow(cfg)
		} else {
			r.broadcastGameState()
		}

	case revealRolesCmd:
		if !r.devAllowed(c) {
			return
		}
		r.sendTo(c, allRoles(r.game, r.names()))

	case setRoleCmd:
		if !r.devAllowed(c) {
			return
		}
		if r.game.setRole(cmd.target, cmd.role) {
			if p, ok := r.players[cmd.target]; ok && p.client != nil {
				r.sendTo(p.client, RoleMessage{Type: "role", Role: cmd.role, Team: cmd.role.team()})
			}
			r.broadcastGameState()
		}

	case toggleAliveCmd:
		if !r.devAllowed(c) {
			return
		}
		hadWinner := r.game.winner != ""
		if r.game.toggleAlive(cmd.target) {
			r.finishIfDecided(cfg, hadWinner)
			r.broadcastGameState()
		}

	case hostGraceExpiredCmd:
		if r.hostClient == nil {
			r.registry.Destroy(r.code, "host_left")
		}

	case errorReplyCmd:
		if c != nil {
			r.sendTo(c, cmd.msg)
		}
	}
}

// requireHost rejects host-only operations with a direct NOT_HOST reply.
func (r *Room) requireHost(c *Client) bool {
	if r.isHost(c) {
		return true
	}
	if c != nil {
		r.sendTo(c, errorMessage(errNotHost, "Only the host can do that."))
	}
	return false
}

// devAllowed gates dev-only operations: host, dev mode, and a running
// game. Failures are silently ignored.
func (r *Room) devAllowed(c *Client) bool {
	return r.isHost(c) && r.devMode && r.game != nil
}

func (r *Room) handleJoin(cfg *Config, c *Client, cmd joinCmd) {
	if c == nil {
		return
	}
	if c.playerID == "" {
		r.sendTo(c, errorMessage(errClientIDRequired, "A client identity is required to join."))
		return
	}
	// The host's identity is bound separately, never as a player.
	if c.playerID == r.hostID {
		return
	}

	for id, p := range r.players {
		if id != c.playerID && p.Name == cmd.name {
			r.sendTo(c, errorMessage(errNameTaken, "That name is already taken. Please choose a different one."))
			return
		}
	}

	if p, ok := r.players[c.playerID]; ok {
		p.Name = cmd.name
		p.client = c
	} else {
		r.players[c.playerID] = &Player{
			ID:     c.playerID,
			Name:   cmd.name,
			client: c,
		}
		logf(cfg, "ROOMS: Player %q joined %s", cmd.name, r.code)
	}

	r.sendTo(c, r.hubState())
	r.broadcastRoomState(cfg)
	r.broadcastGameState()
}

func (r *Room) handleStartGame(cfg *Config, c *Client) {
	if !r.requireHost(c) {
		return
	}
	if r.game != nil && r.game.phase != PhaseEnded {
		return
	}

	minPlayers := r.minPlayers(cfg)
	if len(r.players) < minPlayers {
		r.sendTo(c, &ErrorMessage{
			Type:       "error",
			Code:       errNeedMinPlayers,
			Message:    "Not enough players to start.",
			MinPlayers: minPlayers,
		})
		return
	}
	for _, p := range r.players {
		if !p.Ready {
			r.sendTo(c, errorMessage(errNotAllReady, "All players must be ready to start."))
			return
		}
	}

	ids := make([]PlayerID, 0, len(r.players))
	for id := range r.players {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	r.game = newGame(ids)
	logf(cfg, "GAMES: Started mafia in %s with %d players", r.code, len(ids))

	for id, p := range r.players {
		if p.client != nil {
			role := r.game.roles[id]
			r.sendTo(p.client, RoleMessage{Type: "role", Role: role, Team: role.team()})
		}
	}

	r.broadcastRoomState(cfg)
	r.broadcastGameState()
}

// resolveNightNow applies the night resolution, delivers the detective's
// result privately, and handles a decided game. Used by both the
// all-acted trigger and the host override; a no-op outside the night.
func (r *Room) resolveNightNow(cfg *Config) {
	if r.game == nil {
		return
	}
	hadWinner := r.game.winner != ""

	res, checked := r.game.resolveNight()
	if res == nil {
		return
	}

	if checked != nil {
		if p, ok := r.players[checked.actor]; ok && p.client != nil {
			results := r.game.investigations[checked.actor]
			last := results[len(results)-1]
			r.sendTo(p.client, InvestigationMessage{
				Type:    "investigation",
				Target:  last.target,
				IsMafia: last.isMafia,
			})
		}
	}

	if res.Died != nil {
		logf(cfg, "GAMES: %s died overnight in %s", *res.Died, r.code)
	}

	r.finishIfDecided(cfg, hadWinner)
	r.broadcastGameState()
}

func (r *Room) resolveDayNow(cfg *Config) {
	if r.game == nil {
		return
	}
	hadWinner := r.game.winner != ""

	res := r.game.resolveDay()
	if res == nil {
		return
	}

	if res.Eliminated != nil {
		logf(cfg, "GAMES: %s was voted out in %s", *res.Eliminated, r.code)
	}

	r.finishIfDecided(cfg, hadWinner)
	r.broadcastGameState()
}

// finishIfDecided awards points and records history exactly once, on the
// transition into the ended phase.
func (r *Room) finishIfDecided(cfg *Config, hadWinner bool) {
	if hadWinner || r.game == nil || r.game.winner == "" {
		return
	}

	for id, role := range r.game.roles {
		if role.team() == r.game.winner {
			if p, ok := r.players[id]; ok {
				p.Score++
			}
		}
	}

	r.history = append(r.history, HistoryEntry{
		Game:    r.currentGame,
		Winner:  r.game.winner,
		Rounds:  r.game.round,
		EndedAt: time.Now(),
	})

	logf(cfg, "GAMES: %s won mafia in %s after %d rounds", r.game.winner, r.code, r.game.round)
	r.broadcastHubState()
}

func (r *Room) roomState(cfg *Config) RoomStateMessage {
	players := make([]RoomPlayer, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, RoomPlayer{
			ID:        p.ID,
			Name:      p.Name,
			Ready:     p.Ready,
			Connected: p.client != nil,
		})
	}
	slices.SortFunc(players, func(a, b RoomPlayer) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	return RoomStateMessage{
		Type:          "room_state",
		Code:          r.code,
		DevMode:       r.devMode,
		CurrentGame:   r.currentGame,
		MinPlayers:    r.minPlayers(cfg),
		InGame:        r.game != nil,
		HostConnected: r.hostClient != nil,
		Players:       players,
	}
}

func (r *Room) hubState() HubStateMessage {
	scoreboard := make([]ScoreEntry, 0, len(r.players))
	for _, p := range r.players {
		scoreboard = append(scoreboard, ScoreEntry{ID: p.ID, Name: p.Name, Score: p.Score})
	}
	slices.SortFunc(scoreboard, func(a, b ScoreEntry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})

	return HubStateMessage{
		Type:        "hub_state",
		CurrentGame: r.currentGame,
		Scoreboard:  scoreboard,
		History:     slices.Clone(r.history),
	}
}

// sendTo delivers to a tracked client, dropping it if its buffer is
// full. Clients already dropped are skipped: their send channel is
// closed, but their reader may still push a few final requests through
// the loop before noticing.
func (r *Room) sendTo(c *Client, msg any) {
	if _, ok := r.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		r.closeClient(c)
	}
}

func (r *Room) broadcastRoomState(cfg *Config) {
	msg := r.roomState(cfg)
	for c := range r.clients {
		r.sendTo(c, msg)
	}
}

func (r *Room) broadcastHubState() {
	msg := r.hubState()
	for c := range r.clients {
		r.sendTo(c, msg)
	}
}

// broadcastGameState recomputes the projection per viewer, so each
// connection only ever receives its own redacted view.
func (r *Room) broadcastGameState() {
	names := r.names()
	for c := range r.clients {
		r.sendTo(c, projectGame(r.game, names, c.playerID, r.isHost(c)))
	}
}

func (r *Room) handleClose(cfg *Config, reason string) {
	msg := RoomClosedMessage{Type: "room_closed", Reason: reason}
	for c := range r.clients {
		select {
		case c.send <- msg:
		default:
		}
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		delete(r.clients, c)
	}

	if r.graceTimer != nil {
		r.graceTimer.Stop()
	}
	close(r.done)

	logf(cfg, "ROOMS: Closed %s (%s)", r.code, reason)
}
