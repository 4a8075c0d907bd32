package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"arena.ai/internal/protocol"
	"arena.ai/internal/sim/game"
)

var ErrClosed = errors.New("ws: hub connection closed")

// Client is a hub node connected to a Server. It implements game.Hub for a
// RemoteGame; Run feeds the server's frames into that game.
type Client struct {
	conn    *websocket.Conn
	log     logrus.FieldLogger
	welcome protocol.WelcomeMsg

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan string
	nextReq atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to url and completes the HELLO/WELCOME handshake.
func Dial(ctx context.Context, url, nodeName string, logger logrus.FieldLogger) (*Client, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		conn:    conn,
		log:     logger.WithField("component", "hub_client"),
		pending: make(map[string]chan string),
		closed:  make(chan struct{}),
	}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		NodeName:        nodeName,
	}
	if err := c.write(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read WELCOME: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if err := json.Unmarshal(msg, &c.welcome); err != nil || c.welcome.Type != protocol.TypeWelcome {
		_ = conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %.64q", msg)
	}
	c.log = c.log.WithField("node", c.welcome.NodeID)
	return c, nil
}

func (c *Client) Welcome() protocol.WelcomeMsg { return c.welcome }

// ConnectNewAgent needs Run to be reading: the reply arrives on the frame
// stream.
func (c *Client) ConnectNewAgent(ctx context.Context, authTag int) (string, error) {
	reqID := "c" + strconv.FormatUint(c.nextReq.Add(1), 10)
	reply := make(chan string, 1)
	c.mu.Lock()
	c.pending[reqID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
	}()

	err := c.write(protocol.ConnectAgentMsg{
		Type:            protocol.TypeConnectAgent,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		AuthTag:         authTag,
	})
	if err != nil {
		return "", err
	}
	select {
	case id := <-reply:
		return id, nil
	case <-c.closed:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) DisconnectAgent(agentID string) error {
	return c.write(protocol.DisconnectAgentMsg{
		Type:            protocol.TypeDisconnectAgent,
		ProtocolVersion: protocol.Version,
		AgentID:         agentID,
	})
}

func (c *Client) SendRequestToGame(agentID string, msg protocol.Message) error {
	env, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.write(protocol.RequestMsg{
		Type:            protocol.TypeRequest,
		ProtocolVersion: protocol.Version,
		AgentID:         agentID,
		Msg:             env,
	})
}

// Run seeds g from the WELCOME world and applies the server's frames until
// the connection drops or ctx is done. Every agent of g is told the
// connection was lost before Run returns.
func (c *Client) Run(ctx context.Context, g *game.RemoteGame) error {
	defer g.HubDisconnected()
	defer c.Close()

	if err := g.Connected(c.welcome.World); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-c.closed:
				return nil
			default:
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := c.handle(g, msg); err != nil {
			return err
		}
	}
}

func (c *Client) handle(g *game.RemoteGame, msg []byte) error {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		c.log.WithError(err).Debug("undecodable frame")
		return nil
	}
	switch base.Type {
	case protocol.TypeCommand:
		var m protocol.CommandMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		cmd, err := protocol.Decode(m.Msg)
		if err != nil {
			return err
		}
		// A command the mirror cannot apply leaves it diverged for good.
		if err := g.GotServerCommand(cmd); err != nil {
			return fmt.Errorf("apply %s: %w", cmd.Kind(), err)
		}

	case protocol.TypeToAgent:
		var m protocol.ToAgentMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		notice, err := protocol.Decode(m.Msg)
		if err != nil {
			c.log.WithError(err).Warn("undecodable message to agent")
			return nil
		}
		g.GotMessageToAgent(m.AgentID, notice)

	case protocol.TypePlayer:
		var m protocol.PlayerMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		g.GotPlayer(m.AgentID, m.PlayerID)

	case protocol.TypeAgentConnected:
		var m protocol.AgentConnectedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		c.mu.Lock()
		reply := c.pending[m.ReqID]
		c.mu.Unlock()
		if reply != nil {
			reply <- m.AgentID
		}

	case protocol.TypeAgentDisconnected:
		var m protocol.AgentDisconnectedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		g.AgentDisconnected(m.AgentID)

	case protocol.TypeError:
		var m protocol.ErrorMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return err
		}
		c.log.WithFields(logrus.Fields{"code": m.Code, "agent": m.AgentID}).Warn(m.Message)

	default:
		c.log.WithField("type", base.Type).Debug("unexpected frame")
	}
	return nil
}

func (c *Client) write(v any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
