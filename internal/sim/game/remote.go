package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"arena.ai/internal/protocol"
)

var ErrAgentAttached = errors.New("agent already attached")

// Hub is the connection to an authoritative server, seen from a mirror.
type Hub interface {
	ConnectNewAgent(ctx context.Context, authTag int) (string, error)
	DisconnectAgent(agentID string) error
	SendRequestToGame(agentID string, msg protocol.Message) error
}

// MirrorWorld is a world that can be seeded from the server's dump.
type MirrorWorld interface {
	World
	Restore(dump json.RawMessage) error
}

// RemoteGame mirrors a game running on a server. Commands arrive already
// ordered and compensated, so they are applied as they come.
//
// The Got* methods are called from the hub's receive goroutine; the world
// and the server command listeners are only touched there. AddAgent,
// DetachAgent and AgentRequest may be called from any goroutine.
type RemoteGame struct {
	hub   Hub
	world MirrorWorld
	log   logrus.FieldLogger

	mu        sync.Mutex
	agentIDs  map[Agent]string
	agentByID map[string]Agent

	listeners []func(protocol.Message)
}

func NewRemoteGame(hub Hub, w MirrorWorld, logger logrus.FieldLogger) *RemoteGame {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RemoteGame{
		hub:       hub,
		world:     w,
		log:       logger.WithField("component", "remote_game"),
		agentIDs:  make(map[Agent]string),
		agentByID: make(map[string]Agent),
	}
}

func (g *RemoteGame) World() World { return g.world }

// OnServerCommand registers fn to receive every command applied to the
// mirror. Register before the hub starts delivering.
func (g *RemoteGame) OnServerCommand(fn func(protocol.Message)) {
	g.listeners = append(g.listeners, fn)
}

// Connected seeds the mirror from the server's world dump.
func (g *RemoteGame) Connected(dump json.RawMessage) error {
	if err := g.world.Restore(dump); err != nil {
		return fmt.Errorf("restore world: %w", err)
	}
	g.log.WithField("tick", g.world.LastTickID()).Info("mirror synchronised")
	return nil
}

// AddAgent registers agent with the server and returns its agent id.
func (g *RemoteGame) AddAgent(ctx context.Context, agent Agent, authTag int) (string, error) {
	g.mu.Lock()
	_, dup := g.agentIDs[agent]
	g.mu.Unlock()
	if dup {
		return "", ErrAgentAttached
	}

	id, err := g.hub.ConnectNewAgent(ctx, authTag)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	g.agentIDs[agent] = id
	g.agentByID[id] = agent
	g.mu.Unlock()
	return id, nil
}

// DetachAgent asks the server to drop agent. Bookkeeping is cleared once
// the server confirms with AgentDisconnected.
func (g *RemoteGame) DetachAgent(agent Agent) error {
	g.mu.Lock()
	id, ok := g.agentIDs[agent]
	g.mu.Unlock()
	if !ok {
		return nil
	}
	return g.hub.DisconnectAgent(id)
}

func (g *RemoteGame) AgentRequest(agent Agent, msg protocol.Message) error {
	g.mu.Lock()
	id, ok := g.agentIDs[agent]
	g.mu.Unlock()
	if !ok {
		g.log.WithField("kind", msg.Kind()).Warn("request for unconnected agent")
		return nil
	}
	return g.hub.SendRequestToGame(id, msg)
}

// GotServerCommand applies a command received from the server.
func (g *RemoteGame) GotServerCommand(msg protocol.Message) error {
	if err := g.world.Consume(msg); err != nil {
		return err
	}
	for _, fn := range g.listeners {
		fn(msg)
	}
	return nil
}

func (g *RemoteGame) GotMessageToAgent(agentID string, msg protocol.Message) {
	if a := g.agent(agentID); a != nil {
		a.MessageToAgent(msg)
	}
}

// GotPlayer binds agentID to the mirrored player (0 = none).
func (g *RemoteGame) GotPlayer(agentID string, id protocol.PlayerID) {
	a := g.agent(agentID)
	if a == nil {
		return
	}
	if id == 0 {
		a.SetPlayer(nil)
		return
	}
	p := g.world.GetPlayer(id)
	if p == nil {
		g.log.WithFields(logrus.Fields{"agent": agentID, "player_id": id}).Warn("server bound a player the mirror does not have")
		a.SetPlayer(nil)
		return
	}
	a.SetPlayer(p)
}

// AgentDisconnected drops the agent and tells it the connection is gone.
func (g *RemoteGame) AgentDisconnected(agentID string) {
	g.mu.Lock()
	a, ok := g.agentByID[agentID]
	if ok {
		delete(g.agentByID, agentID)
		delete(g.agentIDs, a)
	}
	g.mu.Unlock()
	if !ok {
		return
	}
	a.MessageToAgent(&protocol.ConnectionLostMsg{})
	a.Detached()
}

// HubDisconnected is AgentDisconnected for every agent at once.
func (g *RemoteGame) HubDisconnected() {
	g.mu.Lock()
	ids := make([]string, 0, len(g.agentByID))
	for id := range g.agentByID {
		ids = append(ids, id)
	}
	g.mu.Unlock()
	for _, id := range ids {
		g.AgentDisconnected(id)
	}
}

func (g *RemoteGame) agent(id string) Agent {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.agentByID[id]
	if !ok {
		g.log.WithField("agent", id).Debug("message for unknown agent")
		return nil
	}
	return a
}
