// Package session implements the one-per-connection Session contract
// (spec §4.2): it serializes inbound/outbound messages for one
// client, enforces role-based request filtering, and relays between
// the wire and the mediator.
package session

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arenaserver/battlearena/internal/arena"
	"github.com/arenaserver/battlearena/internal/arenalog"
	"github.com/arenaserver/battlearena/internal/errs"
	"github.com/arenaserver/battlearena/internal/id"
	"github.com/arenaserver/battlearena/internal/protocol"
	"github.com/arenaserver/battlearena/internal/token"
)

const (
	sendBuffer   = 16
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = (pongTimeout * 9) / 10
)

// Session owns one websocket connection for its lifetime. It
// implements arena.Sink so the mediator can address it directly.
type Session struct {
	conn        *websocket.Conn
	mediator    *arena.Mediator
	log         *arenalog.Logger
	role        token.Role
	id          id.ID
	displayName string

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func New(conn *websocket.Conn, mediator *arena.Mediator, log *arenalog.Logger, payload token.Payload) *Session {
	return &Session{
		conn:        conn,
		mediator:    mediator,
		log:         log,
		role:        payload.Role,
		id:          payload.Subject,
		displayName: payload.DisplayName,
		send:        make(chan []byte, sendBuffer),
	}
}

// Send implements arena.Sink. It never blocks the mediator: a full or
// closed outbound mailbox drops the message and tears the session
// down (spec §5).
func (s *Session) Send(v any) {
	b := protocol.EncodeBroadcast(v)
	s.enqueue(b)
	if _, fatal := v.(arena.FatalErrorEvent); fatal {
		s.Close()
	}
}

// enqueue and Close share s.mu so a sink that has already torn itself
// down never has a second goroutine (the mediator broadcasting, and
// this session's own read pump replying to a request) race to send on
// or close s.send again — either one would panic.
func (s *Session) enqueue(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- b:
	default:
		s.closeLocked()
	}
}

// Close tears the session down idempotently; safe to call from the
// write pump, the read pump, or the mediator's own goroutine.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// Serve runs the session to completion: it registers the viewer
// broadcast target (if applicable), starts the write pump, and runs
// the read pump on the calling goroutine until the connection closes.
func (s *Session) Serve() {
	if s.role == token.RoleViewer {
		s.mediator.RegisterViewer(s)
	}

	go s.writePump()
	s.readPump()

	if s.role == token.RoleViewer {
		s.mediator.UnregisterViewer(s)
	} else {
		s.mediator.DisconnectPlayer(s.id)
	}
	s.log.Debugf("connection closed: role=%s id=%s", s.role, s.id)
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case b, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) readPump() {
	defer s.Close()

	_ = s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.handle(data)
	}
}

func (s *Session) handle(data []byte) {
	req, perr := protocol.ParseRequest(data)
	if perr != nil {
		s.enqueue(protocol.EncodeError(perr))
		return
	}

	if s.role == token.RoleViewer && isPlayerOnly(req.Type) {
		s.enqueue(protocol.EncodeError(errs.New(errs.CannotSendAction, "viewers cannot submit this request")))
		return
	}

	var err error
	switch req.Type {
	case protocol.TypeRegister:
		err = s.mediator.RegisterPlayer(s.id, req.DisplayName, s)
		if pe, ok := err.(*errs.ProtocolError); ok && pe.Code == errs.AlreadyConnected {
			s.enqueue(protocol.EncodeError(pe))
			s.Close()
			return
		}
	case protocol.TypeUnregister:
		err = s.mediator.UnregisterPlayer(s.id)
	case protocol.TypeMove, protocol.TypeAttack, protocol.TypeDropWeapon:
		err = s.mediator.SubmitAction(s.id, req.Action)
	case protocol.TypeGetServerState:
		s.enqueue(protocol.EncodeServerState(s.mediator.GetServerState()))
		return
	case protocol.TypeGetRegisteredPlayers:
		s.enqueue(protocol.EncodeRegisteredPlayers(s.mediator.GetRegisteredPlayers()))
		return
	}

	if pe, ok := err.(*errs.ProtocolError); ok {
		s.enqueue(protocol.EncodeError(pe))
	}
}

func isPlayerOnly(reqType string) bool {
	switch reqType {
	case protocol.TypeRegister, protocol.TypeUnregister, protocol.TypeMove, protocol.TypeAttack, protocol.TypeDropWeapon:
		return true
	default:
		return false
	}
}
