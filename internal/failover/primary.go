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

// Primary runs the Primary Heartbeat Driver and Registration Handler
// (spec §4.3, §4.4).
type Primary struct {
	cfg  *config.Config
	fctx *FailoverContext
	deps Deps

	listener net.Listener

	mu      sync.Mutex
	secConn net.Conn

	// writeMu serializes writes on secConn: the heartbeat driver and the
	// per-connection reply path both write to it from different goroutines.
	writeMu sync.Mutex

	exitCh chan ExitRequest
}

// NewPrimary constructs a Primary in the ConnNever / not-self-recycling
// state.
func NewPrimary(cfg *config.Config, deps Deps) *Primary {
	return &Primary{
		cfg:    cfg,
		fctx:   NewContext(RolePrimary, false),
		deps:   deps,
		exitCh: make(chan ExitRequest, 1),
	}
}

// Context returns the Primary's FailoverContext (ConnState, PrimaryFlags).
func (p *Primary) Context() *FailoverContext { return p.fctx }

// Listen opens the control-channel listener on primary_host:server_port.
func (p *Primary) Listen() error {
	addr := net.JoinHostPort(p.cfg.Failover.PrimaryHost, fmt.Sprintf("%d", p.cfg.Failover.ServerPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	p.listener = ln
	return nil
}

// Run starts the accept loop and the heartbeat driver, and blocks until a
// terminal event (self-recycle) requests an exit.
func (p *Primary) Run() int {
	go p.acceptLoop()
	go p.heartbeatLoop()
	req := <-p.exitCh
	if req.Err != nil {
		p.deps.Logger.Warn("primary exiting", "error", req.Err)
	}
	return req.Code
}

func (p *Primary) acceptLoop() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			p.deps.Logger.Error("accept failed", "error", err)
			return
		}
		go p.handleConn(conn)
	}
}

func (p *Primary) handleConn(conn net.Conn) {
	for {
		msg, err := DecodeMessage(conn)
		if err != nil {
			p.onConnClosed(conn)
			return
		}
		reply := p.dispatch(conn, msg)
		if reply == nil {
			continue
		}
		if err := p.writeConn(conn, reply); err != nil {
			p.deps.Logger.Warn("failed writing reply to secondary", "error", err)
			p.onConnClosed(conn)
			return
		}
	}
}

// writeConn serializes writes to conn: tick's heartbeat dispatch and
// handleConn's reply path run on different goroutines and must not
// interleave framed writes on the same connection.
func (p *Primary) writeConn(conn net.Conn, msg *Message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return EncodeMessageTo(conn, msg)
}

func (p *Primary) onConnClosed(conn net.Conn) {
	p.mu.Lock()
	if p.secConn == conn {
		p.secConn = nil
		p.fctx.setConnState(ConnClosed)
	}
	p.mu.Unlock()
	conn.Close()
}

// dispatch is the Primary's request dispatcher (spec §4.4). It only
// handles requests; messages carrying a Reply (acks the Secondary sent us
// for a HandShake we dispatched) are bookkeeping only and get no reply of
// their own.
func (p *Primary) dispatch(conn net.Conn, msg *Message) *Message {
	if msg.Reply != nil {
		return nil
	}

	switch msg.Subtype {
	case SubtypeRegister:
		return p.handleRegister(conn)
	default:
		p.deps.Logger.Warn("unexpected subtype received at primary", "subtype", msg.Subtype.String())
		return &Message{Subtype: msg.Subtype, Reply: &ReplyPayload{Code: ReplySystem}}
	}
}

func (p *Primary) handleRegister(conn net.Conn) *Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fctx.ConnState() == ConnLive {
		p.deps.Logger.Warn("second secondary tried to register")
		metrics.RegisterAttempts.WithLabelValues("busy").Inc()
		p.deps.Bus.Publish(events.Event{Type: events.EventRegisterRejected, Timestamp: time.Now()})
		return NewBusyReply(SubtypeRegister)
	}

	p.secConn = conn
	p.fctx.setConnState(ConnLive)
	metrics.RegisterAttempts.WithLabelValues("accepted").Inc()
	p.deps.Logger.Info("secondary registered", "remote", conn.RemoteAddr().String())
	p.deps.Bus.Publish(events.Event{Type: events.EventRegistered, Timestamp: time.Now()})
	return NewRegisterReply(p.deps.HostID)
}

func (p *Primary) heartbeatLoop() {
	ticker := time.NewTicker(p.cfg.Failover.HandshakeInterval())
	defer ticker.Stop()
	for range ticker.C {
		p.tick()
	}
}

// tick is one iteration of the Heartbeat Driver (spec §4.3).
func (p *Primary) tick() {
	if err := TouchLiveness(LivenessPath(p.deps.HomePath)); err != nil {
		p.deps.Logger.Warn("failed to touch liveness file", "error", err)
	}

	p.mu.Lock()
	conn := p.secConn
	p.mu.Unlock()

	if conn != nil {
		if err := p.writeConn(conn, NewRequest(SubtypeHandShake)); err != nil {
			p.deps.Logger.Warn("handshake dispatch failed, closing secondary connection", "error", err)
			p.onConnClosed(conn)
		} else {
			metrics.HandshakesSent.Inc()
		}
	}

	if MarkerExists(MarkerPath(p.deps.HomePath)) && !p.fctx.PrimaryFlags().SecIdle {
		p.fctx.setSecIdle(true)
		p.deps.Logger.Warn("secondary-active marker observed while primary believes itself active; self-recycling")
		p.deps.Bus.Publish(events.Event{
			Type:      events.EventStateChange,
			Timestamp: time.Now(),
			OldState:  "Active",
			NewState:  "SecIdle",
			Reason:    "secondary-active marker observed, self-recycling",
		})
		p.exitCh <- ExitRequest{Code: 0, Err: fmt.Errorf("secondary has taken over, restarting as cold start")}
	}
}
