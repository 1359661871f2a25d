package failover

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"net"
	"os"
)

// LocalHostID derives this host's failover identifier (spec §3, "an
// unsigned integer produced by a hardware-derived function"). It hashes
// the MAC address of the first interface with a non-empty hardware
// address, falling back to a hash of the hostname when no such interface
// is found (see DESIGN.md's Open Question resolution).
func LocalHostID() (uint32, error) {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if len(iface.HardwareAddr) == 0 {
				continue
			}
			h := fnv.New32a()
			h.Write(iface.HardwareAddr)
			return h.Sum32(), nil
		}
	}

	host, err := os.Hostname()
	if err != nil {
		return 0, fmt.Errorf("deriving host id: no hardware interface and hostname unavailable: %w", err)
	}
	h := fnv.New32a()
	h.Write([]byte(host))
	return h.Sum32(), nil
}

// LicenseFileContents returns the bytes to persist at
// PBS_HOME/server_priv/license.fo: the XOR of the Primary and Secondary
// host identifiers, as one native-width (32-bit) unsigned integer
// (spec §3, §6).
func LicenseFileContents(primaryHostID, secondaryHostID uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, primaryHostID^secondaryHostID)
	return buf
}

// WriteLicenseFile persists the XOR'd host id pair to path, mode 0600
// (spec §3: "written exactly once per successful registration").
func WriteLicenseFile(path string, primaryHostID, secondaryHostID uint32) error {
	return os.WriteFile(path, LicenseFileContents(primaryHostID, secondaryHostID), 0600)
}

// ReadLicenseFile reads back the persisted XOR value. The core itself
// never needs this (spec §3: "not read by the core itself"); it exists
// for tests verifying the round-trip property (spec §8 property 5).
func ReadLicenseFile(path string) (uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("license file %s: want 4 bytes, got %d", path, len(data))
	}
	return binary.BigEndian.Uint32(data), nil
}
