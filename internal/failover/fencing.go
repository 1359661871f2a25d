package failover

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rfdonnelly/failoverd/internal/metrics"
)

// StonithFileName is the filename spec §4.5/§6 places at
// PBS_HOME/server_priv/stonith: an executable fencing script.
const StonithFileName = "stonith"

// Fence invokes the STONITH script against peerHost before a unilateral
// takeover (spec §4.5). Unlike the teacher's ScriptRunner, this call is
// synchronous and unbounded by design: spec §5 says the Secondary does
// not serve anything while deciding to take over, and the script is
// trusted to return in its own time.
//
// homePath is PBS_HOME; spoolPath is PBS_HOME/spool. If the stonith
// script is absent, Fence reports success without running anything.
func Fence(homePath, spoolPath, peerHost string, logger *slog.Logger) (bool, error) {
	scriptPath := filepath.Join(homePath, "server_priv", StonithFileName)

	if _, err := os.Stat(scriptPath); os.IsNotExist(err) {
		logger.Info("stonith script absent, skipping fencing", "peer_host", peerHost)
		metrics.FencingInvocations.WithLabelValues("skipped").Inc()
		return true, nil
	} else if err != nil {
		return false, fmt.Errorf("statting stonith script: %w", err)
	}

	spoolFile := filepath.Join(spoolPath, fmt.Sprintf("stonith_out_err_fl_%s_%d", peerHost, os.Getpid()))

	start := time.Now()
	cmd := exec.Command(scriptPath, peerHost)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	runErr := cmd.Run()
	duration := time.Since(start)
	metrics.FencingDuration.Observe(duration.Seconds())

	output := strings.TrimRight(combined.String(), "\n")
	if err := os.WriteFile(spoolFile, combined.Bytes(), 0644); err != nil {
		logger.Warn("failed to write stonith capture file", "error", err)
	}
	defer os.Remove(spoolFile)

	if output != "" {
		logger.Info("stonith output", "peer_host", peerHost, "output", output)
	}

	if runErr != nil {
		logger.Warn("stonith reported peer not confirmed down; will retry takeover",
			"peer_host", peerHost, "error", runErr, "duration", duration.String())
		metrics.FencingInvocations.WithLabelValues("failure").Inc()
		return false, nil
	}

	logger.Info("stonith confirmed peer down", "peer_host", peerHost, "duration", duration.String())
	metrics.FencingInvocations.WithLabelValues("success").Inc()
	return true, nil
}
