// Package ws carries the hub protocol over websockets: a Server exposes a
// LocalGame to remote hub nodes, and a Client is the hub node side that
// feeds a RemoteGame mirror.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"arena.ai/internal/protocol"
	"arena.ai/internal/sim/game"
)

type dumper interface {
	Dump() (json.RawMessage, error)
}

type Server struct {
	game  *game.LocalGame
	world dumper
	log   logrus.FieldLogger

	upgrader websocket.Upgrader

	// Touched on the game goroutine (broadcast, welcome) and by handlers
	// on disconnect.
	mu    sync.Mutex
	nodes map[*node]struct{}
}

// NewServer must be called before g runs: it registers the COMMAND
// broadcast as a server command listener.
func NewServer(g *game.LocalGame, logger logrus.FieldLogger) (*Server, error) {
	d, ok := g.World().(dumper)
	if !ok {
		return nil, errors.New("ws: world cannot be dumped for mirrors")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		game:  g,
		world: d,
		log:   logger.WithField("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		nodes: make(map[*node]struct{}),
	}
	g.OnServerCommand(s.broadcast)
	return s, nil
}

// node is one connected hub. Its agents map is only touched on the game
// goroutine.
type node struct {
	id   string
	name string
	log  logrus.FieldLogger

	out      chan []byte
	dead     chan struct{}
	deadOnce sync.Once

	agents map[string]*remoteAgent
}

func (n *node) kill() { n.deadOnce.Do(func() { close(n.dead) }) }

// send queues a frame. A hub that cannot keep up is cut off: a mirror that
// misses a command can never converge again.
func (n *node) send(b []byte) {
	select {
	case <-n.dead:
	case n.out <- b:
	default:
		n.log.Warn("hub too slow; dropping connection")
		n.kill()
	}
}

func (n *node) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		n.log.WithError(err).Error("encode frame")
		return
	}
	n.send(b)
}

func (n *node) sendError(code, msg, agentID string) {
	n.sendJSON(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         msg,
		AgentID:         agentID,
	})
}

// remoteAgent stands in for an agent living on a hub node.
type remoteAgent struct {
	node *node
	id   string
}

func (a *remoteAgent) MessageToAgent(msg protocol.Message) {
	env, err := protocol.Encode(msg)
	if err != nil {
		a.node.log.WithError(err).Error("encode message to agent")
		return
	}
	a.node.sendJSON(protocol.ToAgentMsg{
		Type:            protocol.TypeToAgent,
		ProtocolVersion: protocol.Version,
		AgentID:         a.id,
		Msg:             env,
	})
}

func (a *remoteAgent) SetPlayer(p game.Player) {
	var id protocol.PlayerID
	if p != nil {
		id = p.ID()
	}
	a.node.sendJSON(protocol.PlayerMsg{
		Type:            protocol.TypePlayer,
		ProtocolVersion: protocol.Version,
		AgentID:         a.id,
		PlayerID:        id,
	})
}

func (a *remoteAgent) Detached() {
	delete(a.node.agents, a.id)
	a.node.sendJSON(protocol.AgentDisconnectedMsg{
		Type:            protocol.TypeAgentDisconnected,
		ProtocolVersion: protocol.Version,
		AgentID:         a.id,
	})
}

func (s *Server) broadcast(msg protocol.Message) {
	env, err := protocol.Encode(msg)
	if err != nil {
		s.log.WithError(err).Error("encode command")
		return
	}
	b, err := json.Marshal(protocol.CommandMsg{Type: protocol.TypeCommand, ProtocolVersion: protocol.Version, Msg: env})
	if err != nil {
		s.log.WithError(err).Error("encode command frame")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for n := range s.nodes {
		n.send(b)
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		n := s.handshake(ctx, conn)
		if n == nil {
			return
		}
		defer s.drop(n)

		// Writer goroutine.
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case <-n.dead:
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"), time.Now().Add(time.Second))
					_ = conn.Close()
					return
				case b := <-n.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						n.kill()
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := s.handleFrame(ctx, n, msg); err != nil {
				if errors.Is(err, game.ErrGameStopped) {
					return
				}
				n.log.WithError(err).Debug("frame rejected")
			}
		}
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) *node {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	if err := protocol.ValidateInbound(msg); err != nil {
		closeWith(conn, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return nil
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 1024
	}
	maxQ = min(maxQ, 4096)
	n := &node{
		id:     ulid.Make().String(),
		name:   hello.NodeName,
		out:    make(chan []byte, maxQ),
		dead:   make(chan struct{}),
		agents: make(map[string]*remoteAgent),
	}
	n.log = s.log.WithFields(logrus.Fields{"node": n.id, "node_name": n.name})

	// The dump and the registration happen between two commands, so the
	// node's COMMAND stream starts exactly where its WELCOME world ends.
	var welcomeErr error
	err = s.game.Exec(ctx, func() {
		dump, err := s.world.Dump()
		if err != nil {
			welcomeErr = err
			return
		}
		n.sendJSON(protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			NodeID:          n.id,
			Timing:          protocol.CurrentTiming(),
			World:           dump,
		})
		s.mu.Lock()
		s.nodes[n] = struct{}{}
		s.mu.Unlock()
	})
	if err == nil {
		err = welcomeErr
	}
	if err != nil {
		n.log.WithError(err).Warn("welcome failed")
		closeWith(conn, "game unavailable")
		return nil
	}
	n.log.Info("hub connected")
	return n
}

func (s *Server) handleFrame(ctx context.Context, n *node, msg []byte) error {
	if err := protocol.ValidateInbound(msg); err != nil {
		n.sendError(protocol.ErrProtoBadRequest, err.Error(), "")
		return err
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return err
	}
	if base.ProtocolVersion != protocol.Version {
		n.sendError(protocol.ErrProtoVersion, "bad protocol_version", "")
		return fmt.Errorf("protocol version %q", base.ProtocolVersion)
	}

	switch base.Type {
	case protocol.TypeConnectAgent:
		var m protocol.ConnectAgentMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		return s.game.Exec(ctx, func() {
			a := &remoteAgent{node: n}
			a.id = s.game.AddAgent(a).ID()
			n.agents[a.id] = a
			n.log.WithFields(logrus.Fields{"agent": a.id, "auth_tag": m.AuthTag}).Debug("remote agent connected")
			n.sendJSON(protocol.AgentConnectedMsg{
				Type:            protocol.TypeAgentConnected,
				ProtocolVersion: protocol.Version,
				ReqID:           m.ReqID,
				AgentID:         a.id,
			})
		})

	case protocol.TypeDisconnectAgent:
		var m protocol.DisconnectAgentMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		return s.game.Exec(ctx, func() {
			a := n.agents[m.AgentID]
			if a == nil {
				n.sendError(protocol.ErrUnknownAgent, "no such agent", m.AgentID)
				return
			}
			if err := s.game.DetachAgent(a); err != nil {
				n.log.WithError(err).WithField("agent", m.AgentID).Warn("detach failed")
			}
		})

	case protocol.TypeRequest:
		var m protocol.RequestMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		if !protocol.IsRequest(m.Msg.Kind) {
			n.sendError(protocol.ErrProtoBadRequest, fmt.Sprintf("%s is not a request", m.Msg.Kind), m.AgentID)
			return fmt.Errorf("not a request: %s", m.Msg.Kind)
		}
		req, err := protocol.Decode(m.Msg)
		if err != nil {
			n.sendError(protocol.ErrProtoBadRequest, err.Error(), m.AgentID)
			return err
		}
		return s.game.Exec(ctx, func() {
			a := n.agents[m.AgentID]
			if a == nil {
				n.sendError(protocol.ErrUnknownAgent, "no such agent", m.AgentID)
				return
			}
			if err := s.game.AgentRequest(a, req); err != nil {
				n.log.WithError(err).WithField("agent", m.AgentID).Error("request failed")
				n.sendError(protocol.ErrInternal, "request failed", m.AgentID)
			}
		})
	}
	return fmt.Errorf("unexpected frame %s", base.Type)
}

// drop detaches every agent the node still had.
func (s *Server) drop(n *node) {
	n.kill()
	s.mu.Lock()
	delete(s.nodes, n)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.game.Exec(ctx, func() {
		for _, a := range n.agents {
			if err := s.game.DetachAgent(a); err != nil {
				n.log.WithError(err).WithField("agent", a.id).Warn("detach failed")
			}
		}
	})
	if err != nil && !errors.Is(err, game.ErrGameStopped) {
		n.log.WithError(err).Warn("could not detach agents of lost hub")
	}
	n.log.Info("hub disconnected")
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}
