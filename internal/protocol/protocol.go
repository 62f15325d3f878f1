// Package protocol is the bi-directional translation between framed
// text messages and the arena package's typed requests/broadcasts
// (spec §4.5). It is the only package that knows the wire's JSON
// shapes; internal/arena stays ignorant of them.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/arenaserver/battlearena/internal/arena"
	"github.com/arenaserver/battlearena/internal/errs"
	"github.com/arenaserver/battlearena/internal/id"
)

const (
	TypeRegister             = "register"
	TypeUnregister           = "unregister"
	TypeMove                 = "move"
	TypeAttack               = "attack"
	TypeDropWeapon           = "dropWeapon"
	TypeGetServerState       = "getServerState"
	TypeGetRegisteredPlayers = "getRegisteredPlayers"
)

// Request is the parsed, validated shape of one inbound message.
type Request struct {
	Type        string
	DisplayName string
	Action      arena.Action
}

type inboundEnvelope struct {
	Type        string `json:"type"`
	DisplayName string `json:"displayName,omitempty"`
	Direction   string `json:"direction,omitempty"`
	Tag         string `json:"tag,omitempty"`
}

// ParseRequest decodes one frame. A malformed frame yields
// WebsocketError; an unrecognized type yields JSONPayloadError; a
// recognized type missing a required field yields
// StructValidationError (spec §4.5).
func ParseRequest(data []byte) (Request, *errs.ProtocolError) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Request{}, errs.New(errs.WebsocketError, "malformed frame").WithNotes(err.Error())
	}

	switch env.Type {
	case TypeRegister:
		return Request{Type: env.Type, DisplayName: env.DisplayName}, nil

	case TypeUnregister, TypeGetServerState, TypeGetRegisteredPlayers:
		return Request{Type: env.Type}, nil

	case TypeMove, TypeAttack:
		dir, ok := arena.ParseDirection(env.Direction)
		if !ok {
			return Request{}, errs.New(errs.StructValidationError, fmt.Sprintf("%s requires a valid direction", env.Type))
		}
		kind := arena.ActionMove
		if env.Type == TypeAttack {
			kind = arena.ActionAttack
		}
		return Request{Type: env.Type, Action: arena.Action{Kind: kind, Direction: dir, Tag: env.Tag}}, nil

	case TypeDropWeapon:
		return Request{Type: env.Type, Action: arena.Action{Kind: arena.ActionDropWeapon, Tag: env.Tag}}, nil

	case "":
		return Request{}, errs.New(errs.StructValidationError, "missing required field \"type\"")

	default:
		return Request{}, errs.New(errs.JSONPayloadError, fmt.Sprintf("unknown request type %q", env.Type))
	}
}

// ---- outbound DTOs ----

type RegistryEntryDTO struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

func registryDTO(entries []arena.RegistryEntry) []RegistryEntryDTO {
	out := make([]RegistryEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = RegistryEntryDTO{ID: e.ID.String(), DisplayName: e.DisplayName}
	}
	return out
}

func idsDTO(ids []id.ID) []string {
	if ids == nil {
		return nil
	}
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}

type WeaponDTO struct {
	Kind   string `json:"kind"`
	Ammo   int    `json:"ammo"`
	Damage int    `json:"damage"`
	Row    int    `json:"row,omitempty"`
	Col    int    `json:"col,omitempty"`
}

type PlayerDTO struct {
	Row    int        `json:"row"`
	Col    int        `json:"col"`
	Health int        `json:"health"`
	Weapon *WeaponDTO `json:"weapon,omitempty"`
}

type WorldDTO struct {
	Playfield [][]int              `json:"playfield"`
	Players   map[string]PlayerDTO `json:"players"`
	Weapons   []WeaponDTO          `json:"weapons"`
	Items     []any                `json:"items"`
}

func worldDTO(w arena.World) WorldDTO {
	playfield := make([][]int, len(w.Playfield))
	for r, row := range w.Playfield {
		cells := make([]int, len(row))
		for c, t := range row {
			cells[c] = int(t)
		}
		playfield[r] = cells
	}

	players := make(map[string]PlayerDTO, len(w.Players))
	for pid, p := range w.Players {
		dto := PlayerDTO{Row: p.Row, Col: p.Col, Health: p.Health}
		if p.Weapon != nil {
			dto.Weapon = &WeaponDTO{Kind: p.Weapon.Kind, Ammo: p.Weapon.Ammo, Damage: p.Weapon.Damage}
		}
		players[pid.String()] = dto
	}

	weapons := make([]WeaponDTO, len(w.Weapons))
	for i, gw := range w.Weapons {
		weapons[i] = WeaponDTO{Kind: gw.Kind, Ammo: gw.Ammo, Damage: gw.Damage, Row: gw.Row, Col: gw.Col}
	}

	return WorldDTO{Playfield: playfield, Players: players, Weapons: weapons, Items: []any{}}
}

type ActionDTO struct {
	Type      string `json:"type"`
	Direction string `json:"direction,omitempty"`
	Tag       string `json:"tag,omitempty"`
}

func actionsDTO(actions map[id.ID]arena.Action) map[string]ActionDTO {
	out := make(map[string]ActionDTO, len(actions))
	for pid, a := range actions {
		out[pid.String()] = ActionDTO{Type: string(a.Kind), Direction: string(a.Direction), Tag: a.Tag}
	}
	return out
}

type ErrorResponse struct {
	Type           string `json:"type"`
	Description    string `json:"description"`
	ErrorCode      int    `json:"errorCode"`
	DeveloperNotes string `json:"developerNotes,omitempty"`
}

// EncodeError serializes a per-request failure. DeveloperNotes is
// only populated in debug builds (spec §7).
func EncodeError(e *errs.ProtocolError) []byte {
	resp := ErrorResponse{Type: "error", Description: e.Description, ErrorCode: int(e.Code)}
	if errs.IncludeDeveloperNotes {
		resp.DeveloperNotes = e.DeveloperNotes
	}
	b, _ := json.Marshal(resp)
	return b
}

type waitingOnPlayersResponse struct {
	Type     string             `json:"type"`
	Registry []RegistryEntryDTO `json:"registry"`
	Min      int                `json:"min"`
	Max      int                `json:"max"`
}

type gameStartingSoonResponse struct {
	Type        string             `json:"type"`
	Registry    []RegistryEntryDTO `json:"registry"`
	Min         int                `json:"min"`
	Max         int                `json:"max"`
	SecondsLeft int                `json:"secondsLeft"`
}

type gameStartingResponse struct {
	Type      string             `json:"type"`
	Registry  []RegistryEntryDTO `json:"registry"`
	TurnOrder []string           `json:"turnOrder"`
}

type initResponse struct {
	Type           string   `json:"type"`
	World          WorldDTO `json:"world"`
	TicksLeft      int      `json:"ticksLeft"`
	SecondsPerTick int      `json:"secondsPerTick"`
}

type nextStateResponse struct {
	Type           string               `json:"type"`
	World          WorldDTO             `json:"world"`
	ActionsTaken   map[string]ActionDTO `json:"actionsTaken"`
	TicksLeft      int                  `json:"ticksLeft"`
	SecondsPerTick int                  `json:"secondsPerTick"`
}

type playerKilledResponse struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type gameEndedResponse struct {
	Type         string               `json:"type"`
	Winners      []string             `json:"winners"`
	World        WorldDTO             `json:"world"`
	ActionsTaken map[string]ActionDTO `json:"actionsTaken"`
}

type fatalErrorResponse struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type serverStateResponse struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type registeredPlayersResponse struct {
	Type      string             `json:"type"`
	Registry  []RegistryEntryDTO `json:"registry"`
	TurnOrder []string           `json:"turnOrder,omitempty"`
}

// EncodeBroadcast serializes any event type the mediator emits (see
// internal/arena/events.go). It panics on an event type it doesn't
// recognize, since that can only mean the two packages have drifted
// out of sync with each other.
func EncodeBroadcast(v any) []byte {
	var payload any
	switch e := v.(type) {
	case arena.WaitingOnPlayersEvent:
		payload = waitingOnPlayersResponse{Type: "waitingOnPlayers", Registry: registryDTO(e.Registry), Min: e.Min, Max: e.Max}
	case arena.GameStartingSoonEvent:
		payload = gameStartingSoonResponse{Type: "gameStartingSoon", Registry: registryDTO(e.Registry), Min: e.Min, Max: e.Max, SecondsLeft: e.SecondsLeft}
	case arena.GameStartingEvent:
		payload = gameStartingResponse{Type: "gameStarting", Registry: registryDTO(e.Registry), TurnOrder: idsDTO(e.TurnOrder)}
	case arena.InitEvent:
		payload = initResponse{Type: "init", World: worldDTO(e.World), TicksLeft: e.TicksLeft, SecondsPerTick: e.SecondsPerTick}
	case arena.NextStateEvent:
		payload = nextStateResponse{Type: "nextState", World: worldDTO(e.World), ActionsTaken: actionsDTO(e.ActionsTaken), TicksLeft: e.TicksLeft, SecondsPerTick: e.SecondsPerTick}
	case arena.PlayerKilledEvent:
		payload = playerKilledResponse{Type: "playerKilled", ID: e.ID.String()}
	case arena.GameEndedEvent:
		payload = gameEndedResponse{Type: "gameEnded", Winners: idsDTO(e.Winners), World: worldDTO(e.World), ActionsTaken: actionsDTO(e.ActionsTaken)}
	case arena.FatalErrorEvent:
		payload = fatalErrorResponse{Type: "fatalError", Reason: e.Reason}
	default:
		panic(fmt.Sprintf("protocol: unrecognized broadcast event %T", v))
	}
	b, _ := json.Marshal(payload)
	return b
}

func EncodeServerState(s arena.ServerState) []byte {
	b, _ := json.Marshal(serverStateResponse{Type: "serverState", State: s.String()})
	return b
}

func EncodeRegisteredPlayers(r arena.RegisteredPlayersResult) []byte {
	b, _ := json.Marshal(registeredPlayersResponse{Type: "registeredPlayers", Registry: registryDTO(r.Registry), TurnOrder: idsDTO(r.TurnOrder)})
	return b
}
