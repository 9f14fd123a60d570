//go:build !linux

package config

// getAvailableMemoryMB falls back to 4GB where /proc/meminfo is unavailable.
func getAvailableMemoryMB() int64 {
	return 4096
}
