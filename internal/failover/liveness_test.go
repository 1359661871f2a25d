package failover

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTouchLivenessCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), LivenessFileName)

	if err := TouchLiveness(path); err != nil {
		t.Fatalf("TouchLiveness error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("liveness file not created: %v", err)
	}
}

func TestTouchLivenessAdvancesMtime(t *testing.T) {
	path := filepath.Join(t.TempDir(), LivenessFileName)

	if err := TouchLiveness(path); err != nil {
		t.Fatalf("TouchLiveness error: %v", err)
	}
	first, err := LivenessMtime(path)
	if err != nil {
		t.Fatalf("LivenessMtime error: %v", err)
	}

	later := first.Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes error: %v", err)
	}
	if err := TouchLiveness(path); err != nil {
		t.Fatalf("second TouchLiveness error: %v", err)
	}

	second, err := LivenessMtime(path)
	if err != nil {
		t.Fatalf("LivenessMtime error: %v", err)
	}
	if !second.After(first) {
		t.Errorf("mtime did not advance: first=%v second=%v", first, second)
	}
}

func TestLivenessMtimeMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), LivenessFileName)
	if _, err := LivenessMtime(path); err == nil {
		t.Error("expected error statting missing liveness file")
	}
}
