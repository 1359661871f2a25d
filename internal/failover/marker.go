package failover

import (
	"os"
	"strings"
)

// MarkerFileName is the filename spec §3/§6 places at
// PBS_HOME/server_priv/secondary_active: presence means the Secondary
// currently holds the active role.
const MarkerFileName = "secondary_active"

// CreateMarker writes the Secondary-active marker file containing the
// local hostname plus a trailing newline (spec §3, §4.2 step 5, §8
// scenario S2). Best-effort: callers log failures but continue. Without
// the marker, neither a restarting Primary's probe nor a running
// Primary's heartbeat can see that the Secondary has taken over.
func CreateMarker(path, hostname string) error {
	return os.WriteFile(path, []byte(hostname+"\n"), 0644)
}

// MarkerExists reports whether the Secondary-active marker is present,
// used by the Primary heartbeat driver (spec §4.3 step 2) and by a
// restarting Primary's cold-start probe (spec §4.6).
func MarkerExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ReadMarker returns the hostname recorded in the marker file, with the
// trailing newline stripped.
func ReadMarker(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// RemoveMarker unlinks the marker file. Called by the Secondary when it
// acknowledges PrimIsBack and yields the active role (spec §3, §4.4).
// Missing-file is not an error: the marker may already be gone.
func RemoveMarker(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
