package failover

import (
	"os"
	"time"
)

// LivenessFileName is the filename spec §3/§6 places at
// PBS_HOME/server_priv/svrlive. Its content is irrelevant; only its mtime
// is read or written.
const LivenessFileName = "svrlive"

// TouchLiveness updates the liveness file's mtime to now, creating it if
// it does not already exist. Called once per tick by the currently active
// server (spec §4.3 step 1). Errors are logged by the caller, not fatal
// (spec §7: "Marker/liveness file system errors").
func TouchLiveness(path string) error {
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		f, createErr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
		if createErr != nil {
			return createErr
		}
		return f.Close()
	}
	return nil
}

// LivenessMtime stats the liveness file and returns its mtime. The other
// peer calls this to compare against its last observed sample
// (spec §3, §4.2).
func LivenessMtime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
