package security

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Placeholder values used when a hardware attribute cannot be read. A license
// check must degrade to a stable fallback, never fail the host application.
const (
	unknownHost = "unknown-host"
	unknownNode = 0
)

// DeviceFingerprint represents device identification information
type DeviceFingerprint struct {
	Fingerprint string    `json:"fingerprint"`
	Hostname    string    `json:"hostname"`
	OS          string    `json:"os"`
	Arch        string    `json:"arch"`
	NodeID      uint64    `json:"node_id"`
	GeneratedAt time.Time `json:"generated_at"`
}

// FingerprintManager handles device fingerprinting operations
type FingerprintManager struct {
	cache         *DeviceFingerprint
	cacheMutex    sync.RWMutex
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewFingerprintManager creates a new fingerprint manager with caching
func NewFingerprintManager() *FingerprintManager {
	return &FingerprintManager{
		cacheDuration: 1 * time.Hour,
	}
}

// GetNodeID derives a stable integer from the primary network adapter's
// hardware address. Loopback and down interfaces are skipped first; any
// adapter with a MAC is accepted as a fallback.
func (fm *FingerprintManager) GetNodeID() (uint64, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return 0, fmt.Errorf("failed to get network interfaces: %w", err)
	}

	if id, ok := firstNodeID(interfaces, true); ok {
		return id, nil
	}
	if id, ok := firstNodeID(interfaces, false); ok {
		slog.Warn("Using fallback network adapter for node ID")
		return id, nil
	}

	return 0, fmt.Errorf("no usable hardware address found")
}

func firstNodeID(interfaces []net.Interface, requireUp bool) (uint64, bool) {
	for _, iface := range interfaces {
		if requireUp && (iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0) {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac == "" || mac == "00:00:00:00:00:00" {
			continue
		}
		buf := make([]byte, 8)
		copy(buf[8-len(iface.HardwareAddr):], iface.HardwareAddr)
		return binary.BigEndian.Uint64(buf), true
	}
	return 0, false
}

// GetHostname retrieves the normalized machine hostname
func (fm *FingerprintManager) GetHostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}

	return hostname, nil
}

// Generate creates the device fingerprint: the first 16 hex characters,
// upper-cased, of the SHA-256 digest over hostname, OS family, machine
// architecture, and the adapter-derived node ID. Deterministic across process
// runs on the same machine.
func (fm *FingerprintManager) Generate() string {
	fm.cacheMutex.RLock()
	if fm.cache != nil && time.Now().Before(fm.cacheExpiry) {
		fp := fm.cache.Fingerprint
		fm.cacheMutex.RUnlock()
		return fp
	}
	fm.cacheMutex.RUnlock()

	hostname, err := fm.GetHostname()
	if err != nil {
		hostname = unknownHost
		slog.Warn("Failed to get hostname, using fallback",
			slog.String("error", err.Error()),
		)
	}

	nodeID, err := fm.GetNodeID()
	if err != nil {
		nodeID = unknownNode
		slog.Warn("Failed to get node ID, using fallback",
			slog.String("error", err.Error()),
		)
	}

	fingerprint := Fingerprint(hostname, runtime.GOOS, runtime.GOARCH, nodeID)

	device := &DeviceFingerprint{
		Fingerprint: fingerprint,
		Hostname:    hostname,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		NodeID:      nodeID,
		GeneratedAt: time.Now(),
	}

	fm.cacheMutex.Lock()
	fm.cache = device
	fm.cacheExpiry = time.Now().Add(fm.cacheDuration)
	fm.cacheMutex.Unlock()

	slog.Debug("Device fingerprint generated",
		slog.String("fingerprint", fingerprint),
		slog.String("hostname", hostname),
		slog.String("os", runtime.GOOS),
		slog.String("arch", runtime.GOARCH),
	)

	return fingerprint
}

// Fingerprint computes the fingerprint for explicit attribute values.
// Split out so the derivation is testable without touching real hardware.
func Fingerprint(hostname, osName, arch string, nodeID uint64) string {
	raw := fmt.Sprintf("%s|%s|%s|%d", hostname, osName, arch, nodeID)
	sum := sha256.Sum256([]byte(raw))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:16])
}

// Matches reports whether the stored fingerprint equals the current device's.
func (fm *FingerprintManager) Matches(stored string) bool {
	return fm.Generate() == stored
}

// Components returns the individual attributes for diagnostics.
func (fm *FingerprintManager) Components() map[string]string {
	hostname, _ := fm.GetHostname()
	nodeID, _ := fm.GetNodeID()

	return map[string]string{
		"hostname": hostname,
		"os":       runtime.GOOS,
		"arch":     runtime.GOARCH,
		"node_id":  fmt.Sprintf("%d", nodeID),
	}
}

// ClearCache clears the cached fingerprint.
func (fm *FingerprintManager) ClearCache() {
	fm.cacheMutex.Lock()
	defer fm.cacheMutex.Unlock()

	fm.cache = nil
	fm.cacheExpiry = time.Time{}
}
