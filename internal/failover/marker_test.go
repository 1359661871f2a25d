package failover

import (
	"path/filepath"
	"testing"
)

func TestMarkerLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), MarkerFileName)

	if MarkerExists(path) {
		t.Fatal("marker should not exist before creation")
	}

	if err := CreateMarker(path, "secd01"); err != nil {
		t.Fatalf("CreateMarker error: %v", err)
	}
	if !MarkerExists(path) {
		t.Fatal("marker should exist after creation")
	}

	host, err := ReadMarker(path)
	if err != nil {
		t.Fatalf("ReadMarker error: %v", err)
	}
	if host != "secd01" {
		t.Errorf("ReadMarker = %q, want %q", host, "secd01")
	}

	if err := RemoveMarker(path); err != nil {
		t.Fatalf("RemoveMarker error: %v", err)
	}
	if MarkerExists(path) {
		t.Fatal("marker should not exist after removal")
	}
}

func TestRemoveMarkerMissingIsNotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), MarkerFileName)
	if err := RemoveMarker(path); err != nil {
		t.Errorf("RemoveMarker on missing file returned error: %v", err)
	}
}
