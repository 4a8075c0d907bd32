package game

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"arena.ai/internal/protocol"
)

// ErrGameStopped is returned by Exec once Run has returned.
var ErrGameStopped = errors.New("game stopped")

// DefaultDelayWindow is how long a session's recent delay is collected
// before it becomes the ideal delay.
const DefaultDelayWindow = 10 * time.Second

// Config holds LocalGame's limits and optional collaborators.
type Config struct {
	MaxPerTeam int
	MaxTotal   int
	// DelayWindow is how often every session's delay window is closed.
	DelayWindow time.Duration

	GameInfo protocol.GameInfoMsg

	Recorder Recorder
	Index    SessionIndex
	Logger   logrus.FieldLogger
}

// LocalGame owns an authoritative world and the agents attached to it. All
// methods except Exec, Stop and Done must be called from the goroutine that
// runs Run (or, without Run, from a single goroutine).
type LocalGame struct {
	world World
	seq   *Sequencer

	sessions map[Agent]*AgentSession
	order    []*AgentSession

	listeners []func(protocol.Message)
	recorder  Recorder
	index     SessionIndex
	info      protocol.GameInfoMsg
	log       logrus.FieldLogger

	maxPerTeam   int
	maxTotal     int
	nextPlayerID protocol.PlayerID
	delayWindow  time.Duration

	calls    chan func()
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewLocalGame wraps w. The game registers itself as the world's listener
// and, when the world raises commands of its own, as its commander.
func NewLocalGame(w World, cfg Config) *LocalGame {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.DelayWindow <= 0 {
		cfg.DelayWindow = DefaultDelayWindow
	}
	g := &LocalGame{
		world:       w,
		sessions:    make(map[Agent]*AgentSession),
		recorder:    cfg.Recorder,
		index:       cfg.Index,
		info:        cfg.GameInfo,
		log:         logger.WithField("component", "game"),
		delayWindow: cfg.DelayWindow,
		calls:       make(chan func()),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	g.seq = NewSequencer(g.apply, g.log)
	g.SetPlayerLimits(cfg.MaxPerTeam, cfg.MaxTotal)

	w.SetListener(g)
	if b, ok := w.(interface{ BindCommander(Commander) }); ok {
		b.BindCommander(g)
	}
	return g
}

func (g *LocalGame) World() World { return g.world }

// SetPlayerLimits caps players per team and in total. The total is never
// more than two full teams. Non-positive values mean no limit.
func (g *LocalGame) SetPlayerLimits(perTeam, total int) {
	if perTeam <= 0 {
		perTeam = math.MaxInt / 2
	}
	if total <= 0 || total > 2*perTeam {
		total = 2 * perTeam
	}
	g.maxPerTeam, g.maxTotal = perTeam, total
}

// Sessions returns the attached sessions in attach order.
func (g *LocalGame) Sessions() []*AgentSession {
	return append([]*AgentSession(nil), g.order...)
}

func (g *LocalGame) Session(agent Agent) *AgentSession { return g.sessions[agent] }

// OnServerCommand registers fn to receive every applied server command.
func (g *LocalGame) OnServerCommand(fn func(protocol.Message)) {
	g.listeners = append(g.listeners, fn)
}

// AddAgent attaches agent to the game. Attaching the same agent twice
// returns the existing session.
func (g *LocalGame) AddAgent(agent Agent) *AgentSession {
	if s, ok := g.sessions[agent]; ok {
		return s
	}
	s := newAgentSession(g, ulid.Make().String(), agent)
	g.sessions[agent] = s
	g.order = append(g.order, s)
	if g.index != nil {
		g.index.AgentAttached(s.id)
	}
	s.log.Debug("agent attached")
	return s
}

// DetachAgent removes the agent's player from the world, abandons every
// callback still scheduled for it and drops the session.
func (g *LocalGame) DetachAgent(agent Agent) error {
	s, ok := g.sessions[agent]
	if !ok {
		return nil
	}
	var err error
	if p := s.player; p != nil {
		err = g.KickPlayer(p.ID())
		p.BindAgent(nil)
	}
	s.takePlayer()
	s.close()
	delete(g.sessions, agent)
	for i, o := range g.order {
		if o == s {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	agent.Detached()
	if g.index != nil {
		g.index.AgentDetached(s.id)
	}
	s.log.Debug("agent detached")
	return err
}

// AgentRequest hands a request from agent to its session. Requests from
// agents that are not (or no longer) attached are dropped.
func (g *LocalGame) AgentRequest(agent Agent, msg protocol.Message) error {
	s, ok := g.sessions[agent]
	if !ok {
		g.log.WithField("kind", msg.Kind()).Debug("dropping request from unattached agent")
		return nil
	}
	return s.HandleRequest(msg)
}

// dispatchDelayedRequest runs a request once its compensation delay has
// elapsed. World state is read as it is now, not as it was on arrival.
func (g *LocalGame) dispatchDelayedRequest(s *AgentSession, msg protocol.Message) error {
	if s.closed {
		return nil
	}
	p := s.player
	switch m := msg.(type) {
	case *protocol.JoinRequestMsg:
		return g.joinGame(s, m)
	case *protocol.LeaveRequestMsg:
		if p == nil {
			return nil
		}
		return g.KickPlayer(p.ID())
	case *protocol.PlayerInputMsg:
		// Input predicted from state the client is about to discard.
		if p == nil || p.Dead() || p.Resyncing() {
			return nil
		}
		return g.seq.Submit(&protocol.PlayerMoveMsg{PlayerID: p.ID(), DX: m.DX, DY: m.DY})
	case *protocol.ResyncAcknowledgedMsg:
		if p == nil {
			return nil
		}
		if !p.Resyncing() {
			return nil
		}
		if p.MatchesAck(m) {
			return g.seq.Submit(&protocol.ResyncCompleteMsg{PlayerID: p.ID()})
		}
		return p.SendResync(defaultResyncReason, false)
	case *protocol.DeathAcknowledgedMsg:
		if p == nil || !p.Dead() || p.AllDead() {
			return nil
		}
		return g.seq.Submit(&protocol.PlayerAllDeadMsg{PlayerID: p.ID()})
	case *protocol.ChatRequestMsg:
		if p == nil || m.Text == "" {
			return nil
		}
		return g.seq.Submit(&protocol.ChatMsg{PlayerID: p.ID(), Text: m.Text})
	default:
		s.log.WithField("kind", msg.Kind()).Warn("unexpected request from agent")
		return nil
	}
}

func (g *LocalGame) joinGame(s *AgentSession, req *protocol.JoinRequestMsg) error {
	if s.player != nil {
		s.agent.MessageToAgent(&protocol.JoinFailedMsg{Code: protocol.ErrAlreadyJoined, Reason: "agent already controls a player"})
		return nil
	}
	team, code := g.pickTeam(req.Team)
	if code != "" {
		s.log.WithFields(logrus.Fields{"nick": req.Nick, "code": code}).Info("join refused")
		s.agent.MessageToAgent(&protocol.JoinFailedMsg{Code: code, Reason: joinFailReason(code)})
		return nil
	}
	nick := req.Nick
	if nick == "" {
		nick = "player"
	}

	id := g.freePlayerID()
	if err := g.seq.Submit(&protocol.AddPlayerMsg{PlayerID: id, Nick: nick, Team: team}); err != nil {
		return err
	}
	// A join dispatched from inside a drain is only queued by Submit; bind
	// once the AddPlayer command has actually been applied.
	g.WhenCommandQueueEmpty(func() {
		if s.closed {
			return
		}
		p := g.world.GetPlayer(id)
		if p == nil {
			s.log.WithField("player_id", id).Error("player missing after add")
			s.agent.MessageToAgent(&protocol.JoinFailedMsg{Code: protocol.ErrInternal})
			return
		}
		g.joinSuccessful(s, p)
	})
	return nil
}

func (g *LocalGame) joinSuccessful(s *AgentSession, p Player) {
	p.BindAgent(s.agent)
	s.agent.SetPlayer(p)
	s.givePlayer(p)
	s.log.WithFields(logrus.Fields{"player": p.Nick(), "team": p.Team()}).Info("player joined")
}

// pickTeam applies the player limits and, for an empty preference, picks
// the smaller team. It returns a protocol error code on refusal.
func (g *LocalGame) pickTeam(want protocol.Team) (protocol.Team, string) {
	counts := make(map[protocol.Team]int, 2)
	total := 0
	for _, p := range g.world.Players() {
		counts[p.Team()]++
		total++
	}
	if total >= g.maxTotal {
		return "", protocol.ErrGameFull
	}
	if want == "" {
		want = protocol.TeamA
		if counts[protocol.TeamB] < counts[protocol.TeamA] {
			want = protocol.TeamB
		}
	}
	if counts[want] >= g.maxPerTeam {
		return "", protocol.ErrTeamFull
	}
	return want, ""
}

func joinFailReason(code string) string {
	switch code {
	case protocol.ErrGameFull:
		return "the game is full"
	case protocol.ErrTeamFull:
		return "that team is full"
	}
	return ""
}

func (g *LocalGame) freePlayerID() protocol.PlayerID {
	for {
		g.nextPlayerID++
		if g.nextPlayerID <= 0 {
			g.nextPlayerID = 1
		}
		if g.world.GetPlayer(g.nextPlayerID) == nil {
			return g.nextPlayerID
		}
	}
}

// KickPlayer removes a player from the world. Its agent stays attached and
// may join again.
func (g *LocalGame) KickPlayer(id protocol.PlayerID) error {
	return g.seq.Submit(&protocol.RemovePlayerMsg{PlayerID: id})
}

// SendServerCommand submits a command to the sequencer. Worlds use it to
// raise follow-up commands while consuming one.
func (g *LocalGame) SendServerCommand(msg protocol.Message) error {
	return g.seq.Submit(msg)
}

// SendResync forces the given player's client back onto server truth.
func (g *LocalGame) SendResync(id protocol.PlayerID, reason string) error {
	p := g.world.GetPlayer(id)
	if p == nil {
		return fmt.Errorf("resync: no player %d", id)
	}
	if reason == "" {
		reason = defaultResyncReason
	}
	if s := g.sessionFor(p); s != nil && g.index != nil {
		g.index.ResyncForced(s.id, id, reason)
	}
	return p.SendResync(reason, false)
}

// WaitForEmptyCommandQueue returns a channel that is closed once no server
// command is queued or being applied.
func (g *LocalGame) WaitForEmptyCommandQueue() <-chan struct{} {
	return g.seq.WaitForEmpty()
}

// WhenCommandQueueEmpty runs fn once every queued server command has been
// applied, right away when none is.
func (g *LocalGame) WhenCommandQueueEmpty(fn func()) { g.seq.WhenEmpty(fn) }

func (g *LocalGame) apply(msg protocol.Message) error {
	if err := g.world.Consume(msg); err != nil {
		return err
	}
	if g.recorder != nil {
		if err := g.recorder.Consume(msg); err != nil {
			g.log.WithError(err).WithField("kind", msg.Kind()).Warn("recorder failed")
		}
	}
	for _, fn := range g.listeners {
		fn(msg)
	}
	return nil
}

// ---- world listener ----

func (g *LocalGame) PlayerRemoved(p Player) {
	s := g.sessionFor(p)
	if s == nil {
		return
	}
	s.agent.SetPlayer(nil)
	p.BindAgent(nil)
	s.takePlayer()
}

func (g *LocalGame) PlayerDied(p Player) {
	if s := g.sessionFor(p); s != nil {
		s.playerDied()
	}
}

func (g *LocalGame) PlayerAllDead(p Player) {
	if s := g.sessionFor(p); s != nil {
		s.playerAllDead()
	}
}

func (g *LocalGame) sessionFor(p Player) *AgentSession {
	for _, s := range g.order {
		if s.player != nil && s.player.ID() == p.ID() {
			return s
		}
	}
	return nil
}

// ---- tick orchestration ----

// Step advances the world one tick and then runs the per-agent bookkeeping
// for that tick.
func (g *LocalGame) Step() error {
	next := protocol.NextTick(g.world.LastTickID())
	if err := g.seq.Submit(&protocol.TickMsg{Tick: next}); err != nil {
		return err
	}
	return g.worldTickDone()
}

func (g *LocalGame) worldTickDone() error {
	if err := g.checkCollisions(); err != nil {
		return err
	}
	for _, s := range g.Sessions() {
		if s.closed {
			continue
		}
		if err := s.Tick(); err != nil {
			return fmt.Errorf("session %s tick: %w", s.id, err)
		}
	}
	return nil
}

// checkCollisions tests every collectible against every live player as that
// player's agent currently sees the collectible, then trims the retained
// history to what the laggiest of those agents still needs.
func (g *LocalGame) checkCollisions() error {
	type viewer struct {
		player Player
		delay  int
	}
	var viewers []viewer
	greatest := 0
	for _, s := range g.order {
		if s.player == nil || s.player.Dead() {
			continue
		}
		viewers = append(viewers, viewer{s.player, s.currentDelay})
		greatest = max(greatest, s.currentDelay)
	}

	units := g.world.CollectableUnits()
	for _, u := range units {
		for _, v := range viewers {
			if !u.CheckCollision(v.player, v.delay) {
				continue
			}
			if err := u.CollidedWithPlayer(v.player); err != nil {
				return err
			}
		}
	}
	for _, u := range units {
		u.ClearOldHistory(greatest)
	}
	return nil
}

// UpdateDelays closes the measurement window of every session.
func (g *LocalGame) UpdateDelays() {
	for _, s := range g.order {
		s.UpdateDelays()
	}
}

// ---- event loop ----

// Run drives the game at TickPeriod until ctx is done, Stop is called or a
// server command fails. Every agent is detached before Run returns.
func (g *LocalGame) Run(ctx context.Context) error {
	defer close(g.done)

	ticker := time.NewTicker(protocol.TickPeriod)
	defer ticker.Stop()
	window := time.NewTicker(g.delayWindow)
	defer window.Stop()

	g.log.WithField("tick_period", protocol.TickPeriod).Info("game loop started")
	for {
		var err error
		select {
		case <-ctx.Done():
			g.detachAll()
			return ctx.Err()
		case <-g.stop:
			g.detachAll()
			g.log.Info("game loop stopped")
			return nil
		case fn := <-g.calls:
			fn()
		case <-window.C:
			g.UpdateDelays()
		case <-ticker.C:
			err = g.Step()
		}
		if err == nil {
			err = g.seq.Err()
		}
		if err != nil {
			g.log.WithError(err).Error("game loop aborted")
			g.detachAll()
			return err
		}
	}
}

// Exec runs fn on the game loop and waits for it to return.
func (g *LocalGame) Exec(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	call := func() {
		defer close(ran)
		fn()
	}
	select {
	case g.calls <- call:
	case <-g.done:
		return ErrGameStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop asks Run to detach every agent and return. It is safe to call more
// than once and from any goroutine.
func (g *LocalGame) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}

// Done is closed once Run has returned.
func (g *LocalGame) Done() <-chan struct{} { return g.done }

func (g *LocalGame) detachAll() {
	for _, s := range g.Sessions() {
		if err := g.DetachAgent(s.agent); err != nil {
			s.log.WithError(err).Warn("detach on shutdown")
		}
	}
}
