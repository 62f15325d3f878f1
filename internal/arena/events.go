package arena

import "github.com/arenaserver/battlearena/internal/id"

// RegistryEntry is one row of the mediator's registered-player table,
// as exposed to queries and broadcasts (spec §3).
type RegistryEntry struct {
	ID          id.ID
	DisplayName string
}

// The following types are the mediator's broadcast events (spec §4.1's
// event table). internal/protocol turns each into its wire shape; this
// package stays ignorant of JSON or any other wire format.

type WaitingOnPlayersEvent struct {
	Registry []RegistryEntry
	Min, Max int
}

type GameStartingSoonEvent struct {
	Registry    []RegistryEntry
	Min, Max    int
	SecondsLeft int
}

type GameStartingEvent struct {
	Registry  []RegistryEntry
	TurnOrder []id.ID
}

type InitEvent struct {
	World          World
	TicksLeft      int
	SecondsPerTick int
}

type NextStateEvent struct {
	World          World
	ActionsTaken   map[id.ID]Action
	TicksLeft      int
	SecondsPerTick int
}

type PlayerKilledEvent struct {
	ID id.ID
}

type GameEndedEvent struct {
	Winners      []id.ID
	World        World
	ActionsTaken map[id.ID]Action
}

// FatalErrorEvent is the terminal notification every Session receives
// before the mediator closes all connections (spec §4.1, §7).
type FatalErrorEvent struct {
	Reason string
}
