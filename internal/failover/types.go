// Package failover implements the two-node failover coordination core:
// the Primary heartbeat driver, the Secondary state machine, the
// register/handshake/takeover/shutdown control protocol, and the
// filesystem-mediated liveness and fencing hooks that keep exactly one
// peer active at a time.
package failover

import (
	"fmt"
	"sync"
)

// Role identifies which side of the pair this process is running as.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// Subtype is the closed enumeration of FailOver request subtypes carried
// in the request envelope (spec §3, §6).
type Subtype int

const (
	SubtypeRegister Subtype = iota + 1
	SubtypeHandShake
	SubtypePrimIsBack
	SubtypeSecdShutdown
	SubtypeSecdGoInactive
	SubtypeSecdTakeOver
)

func (s Subtype) String() string {
	switch s {
	case SubtypeRegister:
		return "Register"
	case SubtypeHandShake:
		return "HandShake"
	case SubtypePrimIsBack:
		return "PrimIsBack"
	case SubtypeSecdShutdown:
		return "SecdShutdown"
	case SubtypeSecdGoInactive:
		return "SecdGoInactive"
	case SubtypeSecdTakeOver:
		return "SecdTakeOver"
	default:
		return fmt.Sprintf("Subtype(%d)", int(s))
	}
}

// ReplyCode mirrors the subset of the external reply codec's status codes
// this core cares about (spec §4.1).
type ReplyCode int

const (
	ReplyOK ReplyCode = iota
	ReplyObjBusy
	ReplyUnkReq
	ReplySystem
)

// SecondaryState is the Secondary-side state variable (spec §4.2).
type SecondaryState string

const (
	StateNoConn SecondaryState = "NoConn"
	StateConn   SecondaryState = "Conn"
	StateRegSent SecondaryState = "RegSent"
	StateHandSk SecondaryState = "HandSk"
	StateNoHsk  SecondaryState = "NoHsk"
	StateShutd  SecondaryState = "Shutd"
	StateTakeOv SecondaryState = "TakeOv"
	StateInact  SecondaryState = "Inact"
	StateIdle   SecondaryState = "Idle"
)

// ConnState is the three-state connection sentinel replacing the source's
// overloaded -1/-2/handle convention on Secondary_connection (spec §9
// Design Notes, "Error-return convention drift").
type ConnState int

const (
	// ConnNever means no Secondary has ever registered.
	ConnNever ConnState = iota
	// ConnClosed means a Secondary was registered but the connection has
	// since been closed by us.
	ConnClosed
	// ConnLive means a Secondary connection is currently open.
	ConnLive
)

func (c ConnState) String() string {
	switch c {
	case ConnNever:
		return "Never"
	case ConnClosed:
		return "Closed"
	case ConnLive:
		return "Live"
	default:
		return "Unknown"
	}
}

// PrimaryStateFlags mirrors the relevant SV_STATE_* bits from spec §3.
type PrimaryStateFlags struct {
	// PrimDly mirrors SV_STATE_PRIMDLY (awaiting a shutdown-ack from the
	// Secondary). Nothing in this package sets it: the Primary sends no
	// shutdown directive, and its exit does not wait on this flag.
	PrimDly bool
	// SecIdle is set when the heartbeat driver observes the Secondary-active
	// marker file while the Primary still believes itself active; it causes
	// the Primary's main loop to self-recycle.
	SecIdle bool
}

// FailoverContext holds the role state the source keeps in module globals:
// Secondary_state, pbs_failover_active, Secondary_connection and the
// SV_STATE_* flags (spec §9 Design Notes). The handshake time (hd_time)
// and the deferred PrimIsBack ack slot (saved_takeover_req) live on
// Secondary instead, and there is no goidle_ack field: TakeoverFromSecondary
// checks the reply it reads directly. It is
// split into a Primary-tagged and Secondary-tagged view by the two exported
// accessor sets below rather than exposing raw fields to both roles.
type FailoverContext struct {
	mu sync.RWMutex

	role Role

	// Secondary-side fields.
	secState SecondaryState
	active   bool // pbs_failover_active

	// Primary-side fields.
	connState  ConnState
	primFlags  PrimaryStateFlags
}

// NewContext constructs a FailoverContext for the given role. Secondary
// contexts start in StateNoConn unless immediateTakeover forces StateTakeOv
// (operator "delay = -1", spec §4.2).
func NewContext(role Role, immediateTakeover bool) *FailoverContext {
	c := &FailoverContext{role: role}
	if role == RoleSecondary {
		if immediateTakeover {
			c.secState = StateTakeOv
		} else {
			c.secState = StateNoConn
		}
	}
	if role == RolePrimary {
		c.connState = ConnNever
	}
	return c
}

func (c *FailoverContext) Role() Role {
	return c.role
}

// SecondaryState returns the current Secondary state variable.
func (c *FailoverContext) SecondaryState() SecondaryState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.secState
}

func (c *FailoverContext) setSecondaryState(s SecondaryState) {
	c.mu.Lock()
	c.secState = s
	c.mu.Unlock()
}

// Active reports whether this process currently believes it is the active
// server (pbs_failover_active).
func (c *FailoverContext) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

func (c *FailoverContext) setActive(v bool) {
	c.mu.Lock()
	c.active = v
	c.mu.Unlock()
}

// ConnState returns the Primary's view of the Secondary connection
// sentinel.
func (c *FailoverContext) ConnState() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connState
}

func (c *FailoverContext) setConnState(s ConnState) {
	c.mu.Lock()
	c.connState = s
	c.mu.Unlock()
}

// PrimaryFlags returns a copy of the Primary-side state flags.
func (c *FailoverContext) PrimaryFlags() PrimaryStateFlags {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.primFlags
}

func (c *FailoverContext) setSecIdle(v bool) {
	c.mu.Lock()
	c.primFlags.SecIdle = v
	c.mu.Unlock()
}

func (c *FailoverContext) setPrimDly(v bool) {
	c.mu.Lock()
	c.primFlags.PrimDly = v
	c.mu.Unlock()
}
