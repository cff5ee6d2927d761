// authz/store/disk_cache.go
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
	"github.com/hdgokani/atlan-metastore-sub001/model"
	"go.uber.org/zap"
)

// DiskCache persists the last-known-good PolicySnapshot for one managed
// service so the process can come back up, or ride out a policy-admin outage,
// without an empty policy set. All writes happen on the refresher worker, so
// no file locking is needed.
type DiskCache struct {
	dir      string
	fileName string
}

// NewDiskCache builds the per-service cache handle. The file name is derived
// from the application id and service name with path separators sanitized to
// underscores.
func NewDiskCache(dir, appID, serviceName string) *DiskCache {
	fileName := fmt.Sprintf("%s_%s.json", appID, serviceName)
	fileName = strings.ReplaceAll(fileName, string(os.PathSeparator), "_")
	fileName = strings.ReplaceAll(fileName, string(os.PathListSeparator), "_")

	return &DiskCache{dir: dir, fileName: fileName}
}

func (c *DiskCache) path() string {
	return filepath.Join(c.dir, c.fileName)
}

// Save serializes the snapshot to the cache file. Failures are logged and
// reported but are never fatal: a refresh must not fail because a disk write
// did.
func (c *DiskCache) Save(snapshot *model.PolicySnapshot) error {
	if snapshot == nil {
		logger.Info("Snapshot is nil, nothing to save in cache")
		return nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		logger.Error("Cannot create policy cache directory, skipping persist",
			zap.String("dir", c.dir), zap.Error(err))
		return nil
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal policy snapshot: %w", err)
	}

	if err := os.WriteFile(c.path(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write policy cache file %s: %w", c.path(), err)
	}

	logger.Debug("Saved policy snapshot to cache file", zap.String("path", c.path()))
	return nil
}

// Load reads the last persisted snapshot. A missing or unreadable file is not
// an error: the caller falls back to "no policies yet".
func (c *DiskCache) Load() (*model.PolicySnapshot, error) {
	data, err := os.ReadFile(c.path())
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("Policy cache file does not exist", zap.String("path", c.path()))
			return nil, nil
		}
		logger.Error("Failed to read policy cache file", zap.String("path", c.path()), zap.Error(err))
		return nil, nil
	}

	var snapshot model.PolicySnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		logger.Error("Failed to parse policy cache file", zap.String("path", c.path()), zap.Error(err))
		return nil, nil
	}

	return &snapshot, nil
}

// Disable renames the cache file aside with an epoch-millis suffix instead of
// deleting it, preserving forensic evidence after a permanent service
// removal. Calling it when no cache file exists is a no-op.
func (c *DiskCache) Disable() {
	path := c.path()
	if _, err := os.Stat(path); err != nil {
		logger.Debug("No local policy cache found, nothing to disable", zap.String("path", path))
		return
	}

	renamed := fmt.Sprintf("%s_%d", path, time.Now().UnixMilli())
	if err := os.Rename(path, renamed); err != nil {
		logger.Error("Failed to move policy cache file aside",
			zap.String("from", path), zap.String("to", renamed), zap.Error(err))
		return
	}
	logger.Warn("Moved policy cache file aside", zap.String("from", path), zap.String("to", renamed))
}
