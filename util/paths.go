package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDirEnv overrides the default data directory
const DataDirEnv = "GATTSTREAM_DIR"

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv(DataDirEnv); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".gattstream-data")
	}
	return filepath.Join(home, ".gattstream-data")
}

// EnsureSocketDir returns the directory holding device sockets under dataDir, creating it if needed
func EnsureSocketDir(dataDir string) (string, error) {
	socketDir := filepath.Join(dataDir, "sockets")
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create socket dir %s: %w", socketDir, err)
	}
	return socketDir, nil
}

// SocketPath returns the Unix socket path a device listens on
func SocketPath(socketDir, deviceUUID string) string {
	return filepath.Join(socketDir, fmt.Sprintf("gattstream-%s.sock", deviceUUID))
}
