package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DeviceIDCache stores the persistent hardware UUID
type DeviceIDCache struct {
	DeviceID string `json:"device_id"`
}

// LoadOrGenerateDeviceID loads the device UUID cached in dataDir/device_id.json,
// generating and saving a new one on first use
func LoadOrGenerateDeviceID(dataDir string) (string, error) {
	cachePath := filepath.Join(dataDir, "device_id.json")

	data, err := os.ReadFile(cachePath)
	if err == nil {
		var cache DeviceIDCache
		if err := json.Unmarshal(data, &cache); err == nil && cache.DeviceID != "" {
			return cache.DeviceID, nil
		}
	}

	cache := DeviceIDCache{DeviceID: uuid.NewString()}
	cacheData, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal device ID cache: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(cachePath, cacheData, 0644); err != nil {
		return "", fmt.Errorf("failed to save device ID cache: %w", err)
	}
	return cache.DeviceID, nil
}
