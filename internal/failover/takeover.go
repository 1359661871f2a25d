package failover

import (
	"fmt"
	"net"
	"time"

	"github.com/rfdonnelly/failoverd/internal/config"
	"github.com/rfdonnelly/failoverd/internal/metrics"
)

// takeoverProbeTimeout bounds the connect attempt from a restarting
// Primary toward an active Secondary (spec §4.6, §5: "4 s for takeover
// probe").
const takeoverProbeTimeout = 4 * time.Second

// takeoverAckWait bounds how long a restarting Primary waits for the
// Secondary's PrimIsBack acknowledgment (spec §4.6: "wait_request(600)").
const takeoverAckWait = 600 * time.Second

// Takeover result codes, matching spec §4.6 / §6 "Exit codes" (0 and 1
// are returns; 2 is the caller's responsibility to turn into os.Exit(2)).
const (
	TakeoverNotNeeded = 0 // no Secondary-active marker, or Secondary unreachable; proceed as cold start
	TakeoverSucceeded = 1 // Secondary yielded; proceed to normal Primary startup
	TakeoverFailed    = 2 // Secondary failed to yield within the wait
)

// TakeoverFromSecondary implements the Primary restart path (spec §4.6):
// invoked when a Primary process is starting and a Secondary-active
// marker exists. It performs a minimal network probe — not a full server
// init — and returns one of the codes above. The caller is responsible
// for calling os.Exit(TakeoverFailed) itself; this function never exits
// the process, so it stays testable.
func TakeoverFromSecondary(cfg *config.Config, deps Deps) int {
	if !MarkerExists(MarkerPath(deps.HomePath)) {
		return TakeoverNotNeeded
	}

	addr := net.JoinHostPort(cfg.Failover.SecondaryHost, fmt.Sprintf("%d", cfg.Failover.ServerPort))
	conn, err := net.DialTimeout("tcp", addr, takeoverProbeTimeout)
	if err != nil {
		deps.Logger.Info("secondary unreachable during restart probe, proceeding as cold start",
			"secondary_host", cfg.Failover.SecondaryHost, "error", err)
		return TakeoverNotNeeded
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := EncodeMessageTo(conn, NewRequest(SubtypePrimIsBack)); err != nil {
		deps.Logger.Error("failed to send prim_is_back to secondary", "error", err)
		return TakeoverFailed
	}

	conn.SetReadDeadline(time.Now().Add(takeoverAckWait))
	msg, err := DecodeMessage(conn)
	if err != nil {
		deps.Logger.Error("secondary failed to yield within the wait window", "error", err)
		return TakeoverFailed
	}
	if msg.Reply == nil || msg.Reply.Code != ReplyOK {
		deps.Logger.Error("secondary rejected prim_is_back", "reply", msg.Reply)
		return TakeoverFailed
	}

	metrics.PrimaryReturns.Inc()
	deps.Logger.Info("secondary yielded active role", "secondary_host", cfg.Failover.SecondaryHost)
	return TakeoverSucceeded
}
