package failover

import (
	"log/slog"
	"path/filepath"

	"github.com/rfdonnelly/failoverd/internal/events"
)

// Deps bundles the filesystem locations and identity inputs shared by the
// Primary and Secondary roles (spec §6 External Interfaces).
type Deps struct {
	HomePath  string // PBS_HOME equivalent; server_priv/ and spool/ hang off this
	SpoolPath string
	Hostname  string
	HostID    uint32

	Logger *slog.Logger
	Bus    *events.Bus
}

// LivenessPath returns the path to the liveness (svrlive) file under
// home (spec §3, §6).
func LivenessPath(home string) string {
	return filepath.Join(home, "server_priv", LivenessFileName)
}

// MarkerPath returns the path to the Secondary-active marker file under
// home (spec §3, §6).
func MarkerPath(home string) string {
	return filepath.Join(home, "server_priv", MarkerFileName)
}

// LicensePath returns the path to license.fo under home (spec §3, §6).
func LicensePath(home string) string {
	return filepath.Join(home, "server_priv", "license.fo")
}

// ExitRequest communicates a terminal outcome from a role's run loop back
// to main(): an OS exit code and, optionally, the triggering error (also
// set with code 0 on a Primary self-recycle) (spec §6 "Exit codes").
type ExitRequest struct {
	Code int
	Err  error
}
