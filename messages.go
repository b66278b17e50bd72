package main

import (
	"strings"
	"time"
)

// ClientMessage is the JSON envelope read off each websocket. Fields are
// optional and per-type; parseCommand validates the shape before anything
// reaches a room's command loop.
type ClientMessage struct {
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`   // join
	Ready  *bool  `json:"ready,omitempty"`  // set_ready
	Enable *bool  `json:"enable,omitempty"` // set_dev_mode
	Game   string `json:"game,omitempty"`   // set_current_game
	Action string `json:"action,omitempty"` // night_action: "kill", "save", "check"
	Role   string `json:"role,omitempty"`   // set_role
	Target string `json:"target,omitempty"` // night_action / vote / set_role / toggle_alive
}

// Error codes sent only to the offending client, never broadcast.
const (
	errRoomNotFound     = "ROOM_NOT_FOUND"
	errNotHost          = "NOT_HOST"
	errNameRequired     = "NAME_REQUIRED"
	errClientIDRequired = "CLIENT_ID_REQUIRED"
	errNameTaken        = "NAME_ALREADY_TAKEN"
	errNeedMinPlayers   = "NEED_MIN_PLAYERS"
	errNotAllReady      = "NOT_ALL_READY"
)

type ErrorMessage struct {
	Type       string `json:"type"` // "error"
	Code       string `json:"code"`
	Message    string `json:"message"`
	MinPlayers int    `json:"min_players,omitempty"`
}

func errorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{Type: "error", Code: code, Message: message}
}

// RoomStateMessage is the public room snapshot broadcast after every
// roster or settings change.
type RoomStateMessage struct {
	Type          string       `json:"type"` // "room_state"
	Code          string       `json:"code"`
	DevMode       bool         `json:"dev_mode"`
	CurrentGame   string       `json:"current_game"`
	MinPlayers    int          `json:"min_players"`
	InGame        bool         `json:"in_game"`
	HostConnected bool         `json:"host_connected"`
	Players       []RoomPlayer `json:"players"`
}

type RoomPlayer struct {
	ID        PlayerID `json:"id"`
	Name      string   `json:"name"`
	Ready     bool     `json:"ready"`
	Connected bool     `json:"connected"`
}

// HubStateMessage carries the cross-game scoreboard and history.
type HubStateMessage struct {
	Type        string         `json:"type"` // "hub_state"
	CurrentGame string         `json:"current_game"`
	Scoreboard  []ScoreEntry   `json:"scoreboard"`
	History     []HistoryEntry `json:"history"`
}

type ScoreEntry struct {
	ID    PlayerID `json:"id"`
	Name  string   `json:"name"`
	Score int      `json:"score"`
}

type HistoryEntry struct {
	Game    string    `json:"game"`
	Winner  Team      `json:"winner"`
	Rounds  int       `json:"rounds"`
	EndedAt time.Time `json:"ended_at"`
}

// RoleMessage is the private role assignment pushed to a single player.
type RoleMessage struct {
	Type string `json:"type"` // "role"
	Role Role   `json:"role"`
	Team Team   `json:"team"`
}

// InvestigationMessage is pushed to the detective who performed the check.
type InvestigationMessage struct {
	Type    string   `json:"type"` // "investigation"
	Target  PlayerID `json:"target"`
	IsMafia bool     `json:"is_mafia"`
}

type RoomClosedMessage struct {
	Type   string `json:"type"` // "room_closed"
	Reason string `json:"reason"`
}

// AllRolesMessage is the dev-mode full reveal, sent to the caller only.
type AllRolesMessage struct {
	Type  string      `json:"type"` // "all_roles"
	Roles []RoleEntry `json:"roles"`
}

type RoleEntry struct {
	ID    PlayerID `json:"id"`
	Name  string   `json:"name"`
	Role  Role     `json:"role"`
	Alive bool     `json:"alive"`
}

// Commands are the validated forms of inbound messages. Each operation
// gets its own type so that malformed payloads fail here, at the
// boundary, and the room loop only ever sees well-formed requests.
type command interface{ isCommand() }

type joinCmd struct{ name string }
type setReadyCmd struct{ ready bool }
type leaveCmd struct{}
type getRoomStateCmd struct{}
type getHubStateCmd struct{}
type setDevModeCmd struct{ enable bool }
type setCurrentGameCmd struct{ game string }
type startGameCmd struct{}
type advancePhaseCmd struct{}
type forceResolveNightCmd struct{}
type forceResolveDayCmd struct{}
type backToLobbyCmd struct{}
type nightActionCmd struct {
	action NightAction
	target PlayerID
}
type voteCmd struct{ target PlayerID }
type revealRolesCmd struct{}
type setRoleCmd struct {
	target PlayerID
	role   Role
}
type toggleAliveCmd struct{ target PlayerID }
type hostGraceExpiredCmd struct{}

// errorReplyCmd routes a boundary validation error through the room loop
// so replies and broadcasts never race on a client's send channel.
type errorReplyCmd struct{ msg *ErrorMessage }

func (joinCmd) isCommand()              {}
func (setReadyCmd) isCommand()          {}
func (leaveCmd) isCommand()             {}
func (getRoomStateCmd) isCommand()      {}
func (getHubStateCmd) isCommand()       {}
func (setDevModeCmd) isCommand()        {}
func (setCurrentGameCmd) isCommand()    {}
func (startGameCmd) isCommand()         {}
func (advancePhaseCmd) isCommand()      {}
func (forceResolveNightCmd) isCommand() {}
func (forceResolveDayCmd) isCommand()   {}
func (backToLobbyCmd) isCommand()       {}
func (nightActionCmd) isCommand()       {}
func (voteCmd) isCommand()              {}
func (revealRolesCmd) isCommand()       {}
func (setRoleCmd) isCommand()           {}
func (toggleAliveCmd) isCommand()       {}
func (hostGraceExpiredCmd) isCommand()  {}
func (errorReplyCmd) isCommand()        {}

// parseCommand validates a client message and produces the matching
// command. A nil command with a nil error means the message was
// malformed or unknown and should be dropped without a reply.
func parseCommand(msg ClientMessage) (command, *ErrorMessage) {
	switch msg.Type {
	case "join":
		name := strings.TrimSpace(msg.Name)
		if name == "" {
			return nil, errorMessage(errNameRequired, "A display name is required to join.")
		}
		return joinCmd{name: name}, nil

	case "set_ready":
		if msg.Ready == nil {
			return nil, nil
		}
		return setReadyCmd{ready: *msg.Ready}, nil

	case "leave":
		return leaveCmd{}, nil

	case "get_room_state":
		return getRoomStateCmd{}, nil

	case "get_hub_state":
		return getHubStateCmd{}, nil

	case "set_dev_mode":
		if msg.Enable == nil {
			return nil, nil
		}
		return setDevModeCmd{enable: *msg.Enable}, nil

	case "set_current_game":
		if msg.Game == "" {
			return nil, nil
		}
		return setCurrentGameCmd{game: msg.Game}, nil

	case "start_game":
		return startGameCmd{}, nil

	case "advance_phase":
		return advancePhaseCmd{}, nil

	case "force_resolve_night":
		return forceResolveNightCmd{}, nil

	case "force_resolve_day":
		return forceResolveDayCmd{}, nil

	case "back_to_lobby":
		return backToLobbyCmd{}, nil

	case "night_action":
		action := NightAction(msg.Action)
		if !action.valid() || msg.Target == "" {
			return nil, nil
		}
		return nightActionCmd{action: action, target: PlayerID(msg.Target)}, nil

	case "vote":
		if msg.Target == "" {
			return nil, nil
		}
		return voteCmd{target: PlayerID(msg.Target)}, nil

	case "reveal_all_roles":
		return revealRolesCmd{}, nil

	case "set_role":
		role := Role(msg.Role)
		if !role.valid() || msg.Target == "" {
			return nil, nil
		}
		return setRoleCmd{target: PlayerID(msg.Target), role: role}, nil

	case "toggle_alive":
		if msg.Target == "" {
			return nil, nil
		}
		return toggleAliveCmd{target: PlayerID(msg.Target)}, nil

	default:
		return nil, nil
	}
}
