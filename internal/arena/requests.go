package arena

import "github.com/arenaserver/battlearena/internal/id"

// Sink is the mediator's view of one connection's outbound channel.
// Session implementations adapt their outbound mailbox to this
// interface; Send must never block the mediator (spec §5).
type Sink interface {
	Send(v any)
}

// RegisterPlayerReq is a player Session's register request (spec §4.1).
type RegisterPlayerReq struct {
	ID          id.ID
	DisplayName string
	Sink        Sink
	Reply       chan error
}

// UnregisterPlayerReq is a player Session's explicit unregister
// request, valid only during registration.
type UnregisterPlayerReq struct {
	ID    id.ID
	Reply chan error
}

// DisconnectPlayerReq reports a player Session's termination,
// regardless of cause; its effect depends on server state (spec
// §4.2's "disconnect effects by state" table).
type DisconnectPlayerReq struct {
	ID id.ID
}

// RegisterViewerReq/UnregisterViewerReq add or drop a viewer Session's
// broadcast target; they carry no reply, since viewers are
// unconstrained in count (spec §4.1).
type RegisterViewerReq struct {
	Sink Sink
}

type UnregisterViewerReq struct {
	Sink Sink
}

// ActionReq is a player Session's action submission.
type ActionReq struct {
	ID     id.ID
	Action Action
	Reply  chan error
}

// GetServerStateReq answers with the current state value.
type GetServerStateReq struct {
	Reply chan ServerState
}

// RegisteredPlayersResult is get_registered_players' payload;
// TurnOrder is nil iff the server is in the registration state.
type RegisteredPlayersResult struct {
	Registry  []RegistryEntry
	TurnOrder []id.ID
}

type GetRegisteredPlayersReq struct {
	Reply chan RegisteredPlayersResult
}
