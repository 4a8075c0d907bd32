package game

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"arena.ai/internal/protocol"
	"arena.ai/internal/sim/delay"
)

const defaultResyncReason = "Your computer was out of sync with the server!"

// deathNotice guards the check that a client noticed its player's death.
// It is shared between the session and the scheduled check; cancel wins.
type deathNotice struct {
	canceled bool
}

func (n *deathNotice) cancel() {
	if n != nil {
		n.canceled = true
	}
}

// AgentSession is the local game's bookkeeping for one attached agent: its
// measured latency, the compensation window derived from it, the queue of
// requests waiting for their tick, and the player it controls.
type AgentSession struct {
	id    string
	game  *LocalGame
	agent Agent
	log   logrus.FieldLogger

	player Player

	// currentDelay is the compensation applied to timestamped requests.
	// recentDelay is the worst adjusted delay seen this window (-1 = none);
	// idealDelay is the previous window's recentDelay.
	currentDelay int
	recentDelay  int
	idealDelay   int
	queue        delay.Queue

	pendingNotice  *deathNotice
	expectedNotice *deathNotice
	closed         bool
}

func newAgentSession(g *LocalGame, id string, agent Agent) *AgentSession {
	return &AgentSession{
		id:           id,
		game:         g,
		agent:        agent,
		log:          g.log.WithField("session", id),
		currentDelay: protocol.InitialAssumedLatency,
		recentDelay:  -1,
		idealDelay:   protocol.InitialAssumedLatency / 2,
	}
}

func (s *AgentSession) ID() string        { return s.id }
func (s *AgentSession) Agent() Agent      { return s.agent }
func (s *AgentSession) Player() Player    { return s.player }
func (s *AgentSession) CurrentDelay() int { return s.currentDelay }
func (s *AgentSession) RecentDelay() int  { return s.recentDelay }
func (s *AgentSession) IdealDelay() int   { return s.idealDelay }

// PendingCallbacks is the number of requests and checks still scheduled.
func (s *AgentSession) PendingCallbacks() int { return s.queue.Pending() }

// HandleRequest schedules a request from the agent. Requests without a
// timestamp are dispatched at once. Timestamped requests are delayed so
// they land currentDelay ticks after the tick the agent saw; a request that
// arrives later than that widens the window instead.
func (s *AgentSession) HandleRequest(msg protocol.Message) error {
	ts, ok := msg.(protocol.Timestamped)
	if !ok {
		return s.passToGame(msg, 0)
	}

	measured := protocol.TickDiff(s.game.world.LastTickID(), ts.TickID())
	adjusted := measured
	if measured > protocol.LagThreshold {
		adjusted = measured + protocol.LagBuffer
	}
	s.recentDelay = max(s.recentDelay, adjusted)

	if measured <= s.currentDelay {
		return s.passToGame(msg, s.currentDelay-measured)
	}

	s.currentDelay = adjusted
	var err error
	if _, isAck := msg.(*protocol.ResyncAcknowledgedMsg); isAck {
		// The ack must not overtake the resync it acknowledges.
		err = s.passToGame(msg, adjusted-measured)
	} else if s.player != nil {
		rtt := float64(measured) * protocol.TickPeriod.Seconds()
		err = s.forceResync(fmt.Sprintf("Your latency just spiked to %.2f s RTT", rtt), true)
	}
	s.notifyDelay()
	return err
}

func (s *AgentSession) passToGame(msg protocol.Message, ticks int) error {
	return s.queue.Schedule(ticks, func() error {
		return s.game.dispatchDelayedRequest(s, msg)
	})
}

// UpdateDelays closes the current measurement window.
func (s *AgentSession) UpdateDelays() {
	s.idealDelay, s.recentDelay = s.recentDelay, -1
}

// Tick runs once per world tick, after the world advanced. It shrinks the
// compensation window by at most one tick when that cannot be seen, then
// fires the requests that are now due.
func (s *AgentSession) Tick() error {
	static := s.player != nil && s.player.WillNotChangeOnNextTick()

	if static && (s.idealDelay >= 0 || s.recentDelay >= 0) {
		target := max(s.idealDelay, s.recentDelay, 0)
		if target < s.currentDelay && s.queue.FrontEmpty() {
			s.queue.DropFront()
			s.log.WithField("player", s.player.Nick()).Debug("catching up one tick of agent lag")
			s.currentDelay--
			s.notifyDelay()
		}
	}

	if err := s.queue.AdvanceOneTick(); err != nil {
		return err
	}

	if s.pendingNotice != nil {
		notice := s.pendingNotice
		s.expectedNotice, s.pendingNotice = notice, nil
		return s.queue.Schedule(s.currentDelay+1, func() error {
			return s.checkDeathNoticed(notice)
		})
	}
	return nil
}

func (s *AgentSession) checkDeathNoticed(notice *deathNotice) error {
	if notice.canceled || s.closed {
		return nil
	}
	if s.expectedNotice == notice {
		s.expectedNotice = nil
	}
	p := s.player
	if p == nil || p.AllDead() {
		return nil
	}
	s.log.WithField("player", p.Nick()).Warn("player did not notice death")
	return s.forceResync(defaultResyncReason, false)
}

func (s *AgentSession) forceResync(reason string, isError bool) error {
	if s.game.index != nil {
		s.game.index.ResyncForced(s.id, s.player.ID(), reason)
	}
	return s.player.SendResync(reason, isError)
}

func (s *AgentSession) notifyDelay() {
	s.agent.MessageToAgent(&protocol.DelayUpdatedMsg{Delay: s.currentDelay})
	if s.game.index != nil {
		s.game.index.DelayChanged(s.id, s.game.world.LastTickID(), s.currentDelay)
	}
}

func (s *AgentSession) givePlayer(p Player) {
	s.player = p
	info := s.game.info
	s.agent.MessageToAgent(&info)
}

func (s *AgentSession) takePlayer() {
	if s.player == nil {
		return
	}
	s.cancelDeathNotices()
	s.player = nil
}

func (s *AgentSession) playerDied() {
	s.expectedNotice.cancel()
	s.expectedNotice = nil
	s.pendingNotice = &deathNotice{}
}

func (s *AgentSession) playerAllDead() {
	s.expectedNotice.cancel()
	s.expectedNotice = nil
}

func (s *AgentSession) cancelDeathNotices() {
	s.expectedNotice.cancel()
	s.pendingNotice.cancel()
	s.expectedNotice, s.pendingNotice = nil, nil
}

// close abandons everything still scheduled for this session.
func (s *AgentSession) close() {
	s.closed = true
	s.cancelDeathNotices()
	s.queue.Clear()
}
