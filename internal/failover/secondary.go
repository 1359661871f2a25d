package failover

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rfdonnelly/failoverd/internal/config"
	"github.com/rfdonnelly/failoverd/internal/events"
	"github.com/rfdonnelly/failoverd/internal/metrics"
)

// connectTimeout is the bounded-time connect used from NoConn (spec §5:
// "5 s (default) elsewhere").
const connectTimeout = 5 * time.Second

// altConnectTimeout is the bounded-time connect retried from NoHsk every
// third tick (spec §4.2, §5: "8 s for the final-try connect").
const altConnectTimeout = 8 * time.Second

// noConnRetryDelay is the sleep after a failed connect attempt from
// NoConn (spec §4.2).
const noConnRetryDelay = 10 * time.Second

// noContactGrace is the no-contact takeover grace period added to
// secondary_delay, matching the original's
// `takeov_on_nocontact = hd_time + (60*5) + secondary_delay` computed at
// state-machine entry (spec §4.2 table row "NoConn, connect fails, ...
// now > takeover_deadline").
const noContactGrace = 5 * time.Minute

// Secondary runs the Secondary State Machine (spec §4.2).
type Secondary struct {
	cfg  *config.Config
	fctx *FailoverContext
	deps Deps

	mu   sync.Mutex
	conn net.Conn

	// writeMu serializes writes on conn: the tick loop and the per-conn
	// read loop (handshake/takeover acks) can both want to write.
	writeMu sync.Mutex

	// activeLn is bound once this Secondary becomes active (spec §4.2
	// Takeover procedure step 6, §4.6 scenario S4), so a restarting Primary
	// has something to dial when it sends PrimIsBack.
	activeLn net.Listener

	// hdTime is the most recent handshake arrival time (monotonically
	// non-decreasing, spec §8 property 4).
	hdTime time.Time

	// takeoverDeadline is when a never-connected Secondary gives up
	// waiting and takes over unilaterally (spec §4.2 table row "NoConn,
	// connect fails, now > takeover_deadline"), computed once at
	// construction from the original's hd_time-at-loop-entry convention.
	takeoverDeadline time.Time

	// NoHsk bookkeeping (spec §9 Open Question, resolved in DESIGN.md).
	lastMtime            time.Time
	stagnantSince        time.Time
	noHskStatFailSince   time.Time
	touchesWithoutSocket int
	noHskTicks           int

	// takeoverAck is the single-entry mailbox for the deferred PrimIsBack
	// acknowledgment (spec §9's saved_takeover_req, modeled as an explicit
	// channel per the Design Notes rather than a shared variable).
	takeoverAck chan *Message

	exitCh chan ExitRequest
}

// NewSecondary constructs a Secondary. If cfg.Failover.ImmediateTakeover()
// the state machine starts directly in StateTakeOv (operator "delay = -1").
func NewSecondary(cfg *config.Config, deps Deps) *Secondary {
	return &Secondary{
		cfg:              cfg,
		fctx:             NewContext(RoleSecondary, cfg.Failover.ImmediateTakeover()),
		deps:             deps,
		takeoverAck:      make(chan *Message, 1),
		exitCh:           make(chan ExitRequest, 1),
		takeoverDeadline: time.Now().Add(noContactGrace + cfg.Failover.SecondaryDelayDuration()),
	}
}

// Context returns the Secondary's FailoverContext (SecondaryState, Active).
func (s *Secondary) Context() *FailoverContext { return s.fctx }

// Run drives the Secondary State Machine with a 1-second tick, the
// equivalent of the source's wait_request(1) loop, until a terminal
// transition requests an exit.
func (s *Secondary) Run() int {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	if s.fctx.SecondaryState() == StateTakeOv {
		s.enterTakeover()
	}

	for {
		select {
		case req := <-s.exitCh:
			if req.Err != nil {
				s.deps.Logger.Error("secondary exiting", "error", req.Err)
			}
			return req.Code
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Secondary) primaryAddr() string {
	return net.JoinHostPort(s.cfg.Failover.PrimaryHost, fmt.Sprintf("%d", s.cfg.Failover.ServerPort))
}

func (s *Secondary) setState(next SecondaryState, reason string) {
	prev := s.fctx.SecondaryState()
	if prev == next {
		return
	}
	s.fctx.setSecondaryState(next)
	metrics.StateTransitions.WithLabelValues(string(prev), string(next)).Inc()
	metrics.State.WithLabelValues(string(next), "secondary").Set(1)
	metrics.State.WithLabelValues(string(prev), "secondary").Set(0)
	s.deps.Logger.Warn("secondary state transition",
		"old_state", string(prev), "new_state", string(next), "reason", reason)
	s.deps.Bus.Publish(events.Event{
		Type:      events.EventStateChange,
		Timestamp: time.Now(),
		OldState:  string(prev),
		NewState:  string(next),
		Reason:    reason,
	})
}

func (s *Secondary) hasConn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Secondary) setConn(conn net.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Secondary) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *Secondary) send(msg *Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no control connection to primary")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return EncodeMessageTo(conn, msg)
}

// tick dispatches one event-loop iteration based on the current state
// (spec §4.2's transition table).
func (s *Secondary) tick() {
	switch s.fctx.SecondaryState() {
	case StateNoConn:
		s.tickNoConn()
	case StateConn:
		s.tickConn()
	case StateRegSent:
		// Resolved asynchronously by readLoop on register-reply arrival.
	case StateHandSk:
		s.tickHandSk()
	case StateNoHsk:
		s.tickNoHsk()
	case StateInact:
		// Resolved asynchronously by the timer started in enterInact.
	case StateIdle:
		s.setState(StateNoConn, "idle period elapsed, attempting reconnect")
	case StateTakeOv:
		if s.fctx.Active() {
			s.tickActive()
		} else {
			s.enterTakeover()
		}
	case StateShutd:
		s.exitCh <- ExitRequest{Code: 0}
	}
}

func (s *Secondary) tickNoConn() {
	conn, err := net.DialTimeout("tcp", s.primaryAddr(), connectTimeout)
	if err != nil {
		metrics.ConnectFailures.WithLabelValues("register").Inc()
		if s.cfg.Failover.ImmediateTakeover() || time.Now().After(s.takeoverDeadline) {
			s.setState(StateTakeOv, "connect failed, no contact with primary within takeover deadline")
			return
		}
		s.deps.Logger.Debug("connect to primary failed, will retry", "error", err)
		time.Sleep(noConnRetryDelay)
		return
	}
	s.setConn(conn)
	s.setState(StateConn, "connected to primary")
	go s.readLoop(conn)
}

func (s *Secondary) tickConn() {
	s.setState(StateRegSent, "sending register")
	if err := s.send(NewRequest(SubtypeRegister)); err != nil {
		s.deps.Logger.Warn("register send failed", "error", err)
		s.closeConn()
		s.setState(StateNoConn, "register send failed")
	}
}

func (s *Secondary) tickHandSk() {
	if time.Since(s.hdTime) >= 2*s.cfg.Failover.HandshakeInterval() {
		s.enterNoHsk()
	}
}

func (s *Secondary) enterNoHsk() {
	mtime, _ := LivenessMtime(LivenessPath(s.deps.HomePath))
	s.lastMtime = mtime
	s.stagnantSince = time.Now()
	s.touchesWithoutSocket = 0
	s.noHskStatFailSince = time.Time{}
	s.noHskTicks = 0
	s.setState(StateNoHsk, "handshake timeout exceeded")
}

func (s *Secondary) tickNoHsk() {
	s.noHskTicks++

	mtime, err := LivenessMtime(LivenessPath(s.deps.HomePath))
	if err != nil {
		s.touchesWithoutSocket = 0
		if s.noHskStatFailSince.IsZero() {
			s.noHskStatFailSince = time.Now()
		}
		if time.Since(s.noHskStatFailSince) > s.cfg.Failover.SecondaryDelayDuration() {
			s.deps.Logger.Warn("liveness file stat failing past secondary_delay", "error", err)
			s.setState(StateNoConn, "liveness file unreadable past secondary_delay")
		}
		return
	}
	s.noHskStatFailSince = time.Time{}

	if mtime.After(s.lastMtime) {
		s.lastMtime = mtime
		s.stagnantSince = time.Now()
		if !s.hasConn() {
			s.touchesWithoutSocket++
			if s.touchesWithoutSocket >= 4 {
				s.setState(StateNoConn, "liveness advancing with no control connection for 4 consecutive ticks")
				return
			}
		}
	} else {
		s.touchesWithoutSocket = 0
		if time.Since(s.stagnantSince) > s.cfg.Failover.SecondaryDelayDuration() {
			s.setState(StateTakeOv, "liveness file stagnant past secondary_delay")
			return
		}
	}

	if !s.hasConn() && s.noHskTicks%3 == 0 {
		conn, err := net.DialTimeout("tcp", s.primaryAddr(), altConnectTimeout)
		if err == nil {
			s.setConn(conn)
			s.setState(StateConn, "reconnected to primary during NoHsk")
			go s.readLoop(conn)
		}
	}
}

// enterInact transitions to Inact and arms the Inact → Idle timer (spec
// §4.2: "wait_request(600); sleep 10; close socket → Idle").
func (s *Secondary) enterInact(reason string) {
	s.setState(StateInact, reason)
	go func() {
		time.Sleep(600 * time.Second)
		time.Sleep(10 * time.Second)
		s.closeConn()
		s.setState(StateIdle, "inactivity window elapsed")
	}()
}

// enterTakeover runs the Takeover procedure (spec §4.2 "Takeover
// procedure").
func (s *Secondary) enterTakeover() {
	s.closeConn()

	if conn, err := net.DialTimeout("tcp", s.primaryAddr(), altConnectTimeout); err == nil {
		s.setConn(conn)
		s.setState(StateConn, "primary reachable again before takeover")
		metrics.TakeoverAttempts.WithLabelValues("primary_returned").Inc()
		go s.readLoop(conn)
		return
	}
	metrics.ConnectFailures.WithLabelValues("takeover_probe").Inc()

	ok, err := Fence(s.deps.HomePath, s.deps.SpoolPath, s.cfg.Failover.PrimaryHost, s.deps.Logger)
	if err != nil {
		s.deps.Logger.Error("fencing invocation error", "error", err)
	}
	s.deps.Bus.Publish(events.Event{
		Type:             events.EventFencingResult,
		Timestamp:        time.Now(),
		FencingSucceeded: ok,
	})
	if !ok {
		metrics.TakeoverAttempts.WithLabelValues("fencing_failed").Inc()
		s.deps.Logger.Warn("secondary will attempt taking over again")
		time.Sleep(10 * time.Second)
		return
	}

	s.fctx.setActive(true)
	metrics.Active.Set(1)
	if err := CreateMarker(MarkerPath(s.deps.HomePath), s.cfg.Failover.SecondaryHost); err != nil {
		s.deps.Logger.Warn("failed to create secondary-active marker file", "error", err)
	}
	metrics.TakeoverAttempts.WithLabelValues("succeeded").Inc()
	s.deps.Logger.Warn("secondary taking over as active server")
	s.deps.Bus.Publish(events.Event{Type: events.EventTakeover, Timestamp: time.Now()})

	// Step 6: "return control to the enclosing server main loop as the
	// active server." From here the tick loop's StateTakeOv case routes to
	// tickActive instead of re-running this procedure, and the Secondary
	// starts listening for the restarting Primary's PrimIsBack the same
	// way the Primary listens for Register.
	s.startActiveListener()
}

// tickActive is the active server's heartbeat once a Secondary has taken
// over (spec §4.2 step 6, §4.3 step 1 and §3's liveness file description:
// "touched once per heartbeat tick by the currently active server").
func (s *Secondary) tickActive() {
	if err := TouchLiveness(LivenessPath(s.deps.HomePath)); err != nil {
		s.deps.Logger.Warn("failed to touch liveness file", "error", err)
	}
}

// startActiveListener binds secondary_host:server_port so a restarting
// Primary can dial in and send PrimIsBack (spec §4.6, scenario S4).
// Symmetric with primary.go's Listen/acceptLoop. Idempotent.
func (s *Secondary) startActiveListener() {
	if s.activeLn != nil {
		return
	}
	addr := net.JoinHostPort(s.cfg.Failover.SecondaryHost, fmt.Sprintf("%d", s.cfg.Failover.ServerPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.deps.Logger.Error("failed to open active-server listener, a returning primary will be unable to reconnect", "error", err)
		return
	}
	s.activeLn = ln
	s.deps.Logger.Info("active server listening", "addr", addr)
	go s.acceptActiveLoop(ln)
}

func (s *Secondary) acceptActiveLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.setConn(conn)
		go s.readLoop(conn)
	}
}

// stopActiveListener closes the active-server listener once this
// Secondary yields the active role back to a returning Primary.
func (s *Secondary) stopActiveListener() {
	if s.activeLn == nil {
		return
	}
	s.activeLn.Close()
	s.activeLn = nil
}

func (s *Secondary) readLoop(conn net.Conn) {
	for {
		msg, err := DecodeMessage(conn)
		if err != nil {
			s.closeConn()
			if s.fctx.SecondaryState() == StateRegSent {
				s.setState(StateTakeOv, "control connection closed before register reply")
			}
			return
		}
		s.handleMessage(msg)
	}
}

func (s *Secondary) handleMessage(msg *Message) {
	if s.fctx.SecondaryState() == StateRegSent && msg.Subtype == SubtypeRegister && msg.Reply != nil {
		s.handleRegisterReply(msg.Reply)
		return
	}

	switch msg.Subtype {
	case SubtypeHandShake:
		s.hdTime = time.Now()
		metrics.HandshakesReceived.Inc()
		if s.fctx.SecondaryState() == StateNoHsk {
			s.setState(StateHandSk, "handshake recovered")
		}
		if err := s.send(NewAckReply(SubtypeHandShake)); err != nil {
			s.deps.Logger.Warn("failed to ack handshake", "error", err)
		}

	case SubtypePrimIsBack:
		s.deps.Logger.Warn("primary is back, yielding active role")
		if err := RemoveMarker(MarkerPath(s.deps.HomePath)); err != nil {
			s.deps.Logger.Warn("failed to remove secondary-active marker", "error", err)
		}
		s.fctx.setActive(false)
		metrics.Active.Set(0)
		metrics.PrimaryReturns.Inc()
		s.stopActiveListener()
		s.deps.Bus.Publish(events.Event{Type: events.EventPrimaryReturned, Timestamp: time.Now()})

		select {
		case s.takeoverAck <- NewAckReply(SubtypePrimIsBack):
		default:
			s.deps.Logger.Error("saved_takeover_req slot already occupied, dropping duplicate PrimIsBack")
		}
		s.enterInact("prim_is_back directive received")
		// Deferred per spec §5: the ack is sent only once the node table
		// has been persisted. The core itself owns no such persistence
		// step, so the save is complete by construction here.
		s.completeSave()

	case SubtypeSecdShutdown:
		if err := s.send(NewAckReply(SubtypeSecdShutdown)); err != nil {
			s.deps.Logger.Warn("failed to ack shutdown", "error", err)
		}
		s.exitCh <- ExitRequest{Code: 0}

	case SubtypeSecdGoInactive:
		s.enterInact("go_inactive directive received")
		if err := s.send(NewAckReply(SubtypeSecdGoInactive)); err != nil {
			s.deps.Logger.Warn("failed to ack go_inactive", "error", err)
		}

	case SubtypeSecdTakeOver:
		if err := s.send(NewAckReply(SubtypeSecdTakeOver)); err != nil {
			s.deps.Logger.Warn("failed to ack take_over", "error", err)
		}
		go func() {
			time.Sleep(10 * time.Second)
			s.setState(StateTakeOv, "secd_take_over directive received")
			s.closeConn()
		}()

	default:
		if err := s.send(&Message{Subtype: msg.Subtype, Reply: &ReplyPayload{Code: ReplySystem}}); err != nil {
			s.deps.Logger.Warn("failed to reply to unknown subtype", "error", err)
		}
	}
}

// completeSave sends the deferred PrimIsBack acknowledgment once pending
// state has been "persisted" (spec §5 ordering guarantee).
func (s *Secondary) completeSave() {
	select {
	case reply := <-s.takeoverAck:
		if err := s.send(reply); err != nil {
			s.deps.Logger.Warn("failed to send deferred prim_is_back ack", "error", err)
		}
	default:
	}
}

func (s *Secondary) handleRegisterReply(reply *ReplyPayload) {
	if reply.Code == ReplyObjBusy || reply.Code == ReplyUnkReq {
		s.deps.Logger.Error("primary refused registration", "code", reply.Code)
		s.exitCh <- ExitRequest{Code: 1, Err: fmt.Errorf("primary refused registration: code %d", reply.Code)}
		return
	}

	hostID, err := ParseHostID(reply.Text)
	if err != nil {
		s.deps.Logger.Error("malformed register reply", "error", err)
		s.closeConn()
		s.setState(StateNoConn, "malformed register reply")
		return
	}

	if err := WriteLicenseFile(LicensePath(s.deps.HomePath), hostID, s.deps.HostID); err != nil {
		s.deps.Logger.Warn("failed to write license.fo", "error", err)
	}

	s.hdTime = time.Now()
	s.lastMtime, _ = LivenessMtime(LivenessPath(s.deps.HomePath))
	s.setState(StateHandSk, "registered with primary")
}
