package arena

import (
	"time"

	"github.com/arenaserver/battlearena/internal/arenalog"
	"github.com/arenaserver/battlearena/internal/errs"
	"github.com/arenaserver/battlearena/internal/id"
)

// ServerState is one of the four values the state machine in spec §3
// and §4.1 names.
type ServerState int

const (
	StateRegistration ServerState = iota
	StateInitializing
	StateRunning
	StateFatalError
)

func (s ServerState) String() string {
	switch s {
	case StateRegistration:
		return "registration"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateFatalError:
		return "fatal_error"
	default:
		return "unknown"
	}
}

type registryEntry struct {
	id          id.ID
	displayName string
	sink        Sink // nil once the player Session has disconnected
}

// Mediator is the singleton coordinator: the only goroutine that ever
// touches the registry, turn order, world, or server state (spec §5).
// Every other component reaches it only through the typed requests in
// requests.go, drained serially from Run.
type Mediator struct {
	log  *arenalog.Logger
	host *Host

	minPlayers     int
	maxPlayers     int
	lobbyWait      time.Duration
	ticksPerGame   int
	secondsPerTick time.Duration

	state         ServerState
	registry      map[id.ID]*registryEntry
	registryOrder []id.ID
	turnOrder     []id.ID
	world         World
	tick          TickCounter
	inbox         *Inbox
	viewers       map[Sink]struct{}

	countdownRemaining int
	countdownTicker    *time.Ticker
	countdownC         <-chan time.Time

	tickTicker *time.Ticker
	tickC      <-chan time.Time

	reqRegisterPlayer       chan RegisterPlayerReq
	reqUnregisterPlayer     chan UnregisterPlayerReq
	reqDisconnectPlayer     chan DisconnectPlayerReq
	reqRegisterViewer       chan RegisterViewerReq
	reqUnregisterViewer     chan UnregisterViewerReq
	reqAction               chan ActionReq
	reqGetServerState       chan GetServerStateReq
	reqGetRegisteredPlayers chan GetRegisteredPlayersReq

	shutdown chan struct{}
	done     chan struct{}
}

func NewMediator(log *arenalog.Logger, host *Host, minPlayers, maxPlayers int, lobbyWait time.Duration, ticksPerGame int, secondsPerTick time.Duration) *Mediator {
	return &Mediator{
		log:  log,
		host: host,

		minPlayers:     minPlayers,
		maxPlayers:     maxPlayers,
		lobbyWait:      lobbyWait,
		ticksPerGame:   ticksPerGame,
		secondsPerTick: secondsPerTick,

		state:    StateRegistration,
		registry: make(map[id.ID]*registryEntry),
		viewers:  make(map[Sink]struct{}),

		reqRegisterPlayer:       make(chan RegisterPlayerReq),
		reqUnregisterPlayer:     make(chan UnregisterPlayerReq),
		reqDisconnectPlayer:     make(chan DisconnectPlayerReq),
		reqRegisterViewer:       make(chan RegisterViewerReq),
		reqUnregisterViewer:     make(chan UnregisterViewerReq),
		reqAction:               make(chan ActionReq),
		reqGetServerState:       make(chan GetServerStateReq),
		reqGetRegisteredPlayers: make(chan GetRegisteredPlayersReq),

		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ---- Session-facing API (blocking request/reply over the mailbox) ----

func (m *Mediator) RegisterPlayer(playerID id.ID, displayName string, sink Sink) error {
	reply := make(chan error, 1)
	m.reqRegisterPlayer <- RegisterPlayerReq{ID: playerID, DisplayName: displayName, Sink: sink, Reply: reply}
	return <-reply
}

func (m *Mediator) UnregisterPlayer(playerID id.ID) error {
	reply := make(chan error, 1)
	m.reqUnregisterPlayer <- UnregisterPlayerReq{ID: playerID, Reply: reply}
	return <-reply
}

func (m *Mediator) DisconnectPlayer(playerID id.ID) {
	m.reqDisconnectPlayer <- DisconnectPlayerReq{ID: playerID}
}

func (m *Mediator) RegisterViewer(sink Sink) {
	m.reqRegisterViewer <- RegisterViewerReq{Sink: sink}
}

func (m *Mediator) UnregisterViewer(sink Sink) {
	m.reqUnregisterViewer <- UnregisterViewerReq{Sink: sink}
}

func (m *Mediator) SubmitAction(playerID id.ID, a Action) error {
	reply := make(chan error, 1)
	m.reqAction <- ActionReq{ID: playerID, Action: a, Reply: reply}
	return <-reply
}

func (m *Mediator) GetServerState() ServerState {
	reply := make(chan ServerState, 1)
	m.reqGetServerState <- GetServerStateReq{Reply: reply}
	return <-reply
}

func (m *Mediator) GetRegisteredPlayers() RegisteredPlayersResult {
	reply := make(chan RegisteredPlayersResult, 1)
	m.reqGetRegisteredPlayers <- GetRegisteredPlayersReq{Reply: reply}
	return <-reply
}

// Shutdown stops Run and waits for it to return.
func (m *Mediator) Shutdown() {
	close(m.shutdown)
	<-m.done
}

// ---- the mediator loop ----

func (m *Mediator) Run() {
	defer close(m.done)
	defer m.stopCountdown()
	defer m.stopTick()

	for {
		select {
		case <-m.shutdown:
			return

		case req := <-m.reqRegisterPlayer:
			m.handleRegisterPlayer(req)

		case req := <-m.reqUnregisterPlayer:
			m.handleUnregisterPlayer(req)

		case req := <-m.reqDisconnectPlayer:
			m.handleDisconnectPlayer(req)

		case req := <-m.reqRegisterViewer:
			m.viewers[req.Sink] = struct{}{}

		case req := <-m.reqUnregisterViewer:
			delete(m.viewers, req.Sink)

		case req := <-m.reqAction:
			m.handleAction(req)

		case req := <-m.reqGetServerState:
			req.Reply <- m.state

		case req := <-m.reqGetRegisteredPlayers:
			req.Reply <- m.registeredPlayersResult()

		case <-m.countdownC:
			m.handleCountdownTick()

		case <-m.tickC:
			m.handleGameTick()
		}
	}
}

func (m *Mediator) handleRegisterPlayer(req RegisterPlayerReq) {
	if m.state != StateRegistration {
		req.Reply <- errs.New(errs.FailedToRegister, "registration is closed")
		return
	}

	if entry, exists := m.registry[req.ID]; exists {
		if entry.sink != nil {
			req.Reply <- errs.New(errs.AlreadyConnected, "a live session is already registered for this id")
			return
		}
		entry.sink = req.Sink
		entry.displayName = req.DisplayName
		req.Reply <- nil
		m.broadcastLobbyState()
		return
	}

	if len(m.registry) >= m.maxPlayers {
		req.Reply <- errs.New(errs.FailedToRegister, "registry is full")
		return
	}

	m.registry[req.ID] = &registryEntry{id: req.ID, displayName: req.DisplayName, sink: req.Sink}
	m.registryOrder = append(m.registryOrder, req.ID)
	req.Reply <- nil
	m.broadcastLobbyState()
}

func (m *Mediator) handleUnregisterPlayer(req UnregisterPlayerReq) {
	if m.state != StateRegistration {
		req.Reply <- errs.New(errs.FailedToUnregister, "unregister is only permitted while waiting for players")
		return
	}
	if _, exists := m.registry[req.ID]; !exists {
		req.Reply <- errs.New(errs.FailedToUnregister, "not registered")
		return
	}
	m.removeFromRegistry(req.ID)
	req.Reply <- nil
	m.broadcastLobbyState()
}

func (m *Mediator) handleDisconnectPlayer(req DisconnectPlayerReq) {
	entry, exists := m.registry[req.ID]
	if !exists {
		return
	}
	if m.state == StateRegistration {
		m.removeFromRegistry(req.ID)
		m.broadcastLobbyState()
		return
	}
	// initializing/running: the entry and any player-in-world survive;
	// only the live session reference is dropped (spec §4.2).
	entry.sink = nil
}

func (m *Mediator) handleAction(req ActionReq) {
	if m.state != StateRunning {
		req.Reply <- errs.New(errs.CannotSendAction, "actions are only accepted while running")
		return
	}
	p, ok := m.world.Players[req.ID]
	if !ok || !p.Alive() {
		req.Reply <- errs.New(errs.CannotSendAction, "not alive in the world")
		return
	}
	if !m.inbox.Offer(req.ID, req.Action) {
		req.Reply <- errs.New(errs.CannotSendAction, "an action was already submitted this tick")
		return
	}
	req.Reply <- nil
}

func (m *Mediator) removeFromRegistry(playerID id.ID) {
	delete(m.registry, playerID)
	for i, pid := range m.registryOrder {
		if pid == playerID {
			m.registryOrder = append(m.registryOrder[:i], m.registryOrder[i+1:]...)
			break
		}
	}
}

func (m *Mediator) registrySnapshot() []RegistryEntry {
	out := make([]RegistryEntry, 0, len(m.registryOrder))
	for _, pid := range m.registryOrder {
		e := m.registry[pid]
		out = append(out, RegistryEntry{ID: e.id, DisplayName: e.displayName})
	}
	return out
}

func (m *Mediator) registeredPlayersResult() RegisteredPlayersResult {
	result := RegisteredPlayersResult{Registry: m.registrySnapshot()}
	if m.state != StateRegistration {
		result.TurnOrder = append([]id.ID(nil), m.turnOrder...)
	}
	return result
}

// broadcastLobbyState re-evaluates the countdown against the current
// registry size and broadcasts the event spec §4.1 calls for.
func (m *Mediator) broadcastLobbyState() {
	if len(m.registry) < m.minPlayers {
		m.stopCountdown()
		m.broadcastAll(WaitingOnPlayersEvent{Registry: m.registrySnapshot(), Min: m.minPlayers, Max: m.maxPlayers})
		return
	}
	if m.countdownTicker == nil {
		m.countdownRemaining = int(m.lobbyWait / time.Second)
		m.countdownTicker = time.NewTicker(time.Second)
		m.countdownC = m.countdownTicker.C
	}
	m.broadcastAll(GameStartingSoonEvent{
		Registry:    m.registrySnapshot(),
		Min:         m.minPlayers,
		Max:         m.maxPlayers,
		SecondsLeft: m.countdownRemaining,
	})
}

func (m *Mediator) handleCountdownTick() {
	m.countdownRemaining--
	// Every tick, including the one that reaches zero, gets its own
	// game_starting_soon broadcast (spec §4.1's countdown-tick row is
	// separate from its countdown-reached-zero row); the transition to
	// game_starting follows as a second, distinct broadcast.
	m.broadcastAll(GameStartingSoonEvent{
		Registry:    m.registrySnapshot(),
		Min:         m.minPlayers,
		Max:         m.maxPlayers,
		SecondsLeft: m.countdownRemaining,
	})
	if m.countdownRemaining > 0 {
		return
	}
	m.stopCountdown()
	m.beginInitializing()
}

func (m *Mediator) stopCountdown() {
	if m.countdownTicker != nil {
		m.countdownTicker.Stop()
		m.countdownTicker = nil
		m.countdownC = nil
	}
}

func (m *Mediator) stopTick() {
	if m.tickTicker != nil {
		m.tickTicker.Stop()
		m.tickTicker = nil
		m.tickC = nil
	}
}

func (m *Mediator) beginInitializing() {
	m.state = StateInitializing

	turnOrder := append([]id.ID(nil), m.registryOrder...)
	m.turnOrder = turnOrder
	m.broadcastAll(GameStartingEvent{Registry: m.registrySnapshot(), TurnOrder: append([]id.ID(nil), turnOrder...)})

	world, err := m.host.Init(turnOrder)
	if err != nil {
		m.enterFatalError(err)
		return
	}

	m.world = world
	m.tick = TickCounter{
		Remaining:      m.ticksPerGame,
		Total:          m.ticksPerGame,
		SecondsPerTick: int(m.secondsPerTick / time.Second),
	}
	m.inbox = NewInbox()
	m.state = StateRunning

	m.broadcastAll(InitEvent{World: m.world.Clone(), TicksLeft: m.tick.Remaining, SecondsPerTick: m.tick.SecondsPerTick})

	m.tickTicker = time.NewTicker(m.secondsPerTick)
	m.tickC = m.tickTicker.C
}

func (m *Mediator) handleGameTick() {
	actions := m.inbox.Drain()

	newWorld, killed, err := m.host.Update(m.world, m.turnOrder, m.world.AliveIDs(), m.tick.Remaining, actions)
	if err != nil {
		m.enterFatalError(err)
		return
	}
	m.world = newWorld

	for _, pid := range killed {
		m.broadcastAll(PlayerKilledEvent{ID: pid})
	}

	m.tick.Remaining--

	if winners, ended := m.evaluateEndCondition(); ended {
		m.endRound(winners, actions)
		return
	}

	m.broadcastAll(NextStateEvent{
		World:          m.world.Clone(),
		ActionsTaken:   actions,
		TicksLeft:      m.tick.Remaining,
		SecondsPerTick: m.tick.SecondsPerTick,
	})
}

// evaluateEndCondition implements spec §4.1's three end-of-round
// conditions.
func (m *Mediator) evaluateEndCondition() ([]id.ID, bool) {
	alive := m.world.AliveIDs()
	switch {
	case len(alive) == 0:
		return nil, true
	case len(alive) == 1:
		return alive, true
	case m.tick.Remaining == 0 && len(alive) >= 2:
		return alive, true
	default:
		return nil, false
	}
}

func (m *Mediator) endRound(winners []id.ID, actionsTaken map[id.ID]Action) {
	m.broadcastAll(GameEndedEvent{Winners: winners, World: m.world.Clone(), ActionsTaken: actionsTaken})

	m.stopTick()

	alive := make(map[id.ID]bool, len(m.world.Players))
	for pid := range m.world.Players {
		alive[pid] = true
	}
	for _, pid := range append([]id.ID(nil), m.registryOrder...) {
		entry := m.registry[pid]
		if entry.sink == nil && !alive[pid] {
			m.removeFromRegistry(pid)
		}
	}

	m.world = World{}
	m.turnOrder = nil
	m.tick = TickCounter{}
	m.inbox = nil
	m.state = StateRegistration

	m.broadcastLobbyState()
}

func (m *Mediator) enterFatalError(err error) {
	m.state = StateFatalError
	m.stopCountdown()
	m.stopTick()
	m.log.Errorf("engine crashed, entering fatal_error: %v", err)
	m.broadcastAll(FatalErrorEvent{Reason: err.Error()})
}

func (m *Mediator) broadcastAll(v any) {
	for _, pid := range m.registryOrder {
		if entry := m.registry[pid]; entry != nil && entry.sink != nil {
			entry.sink.Send(v)
		}
	}
	for sink := range m.viewers {
		sink.Send(v)
	}
}
