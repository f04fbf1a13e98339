package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"lookout/events"
)

// StorageManager keeps saved clips under the configured cap.
type StorageManager struct {
	clipDir string
	tmpDir  string
	store   events.Store
	logger  *Logger
	metrics *Metrics
	// Files younger than grace may belong to a save still in progress.
	grace time.Duration
	now   func() time.Time

	mu          sync.Mutex
	limit       int64 // bytes
	lastUsed    int64 // Cache last calculated storage usage
	lastChecked time.Time
}

type clipFile struct {
	path      string
	modTime   time.Time
	size      int64
	published bool
}

func NewStorageManager(clipDir, tmpDir string, storageCapGB int, store events.Store, logger *Logger, metrics *Metrics) (*StorageManager, error) {
	if err := os.MkdirAll(clipDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create clip directory: %w", err)
	}

	return &StorageManager{
		clipDir: clipDir,
		tmpDir:  tmpDir,
		store:   store,
		logger:  logger,
		metrics: metrics,
		grace:   SaveTimeout,
		now:     time.Now,
		limit:   int64(storageCapGB) * BytesPerGB,
	}, nil
}

// Run enforces the cap every StorageCheckInterval until ctx is done.
func (sm *StorageManager) Run(ctx context.Context) {
	ticker := time.NewTicker(StorageCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sm.EnforceStorageCap(ctx); err != nil {
				// Just log, don't crash
				sm.logger.Printf("Storage cleanup error: %v", err)
			}
		}
	}
}

func (sm *StorageManager) capBytes() int64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.limit
}

// SetCap changes the cap; it is enforced at the next check.
func (sm *StorageManager) SetCap(storageCapGB int) {
	sm.mu.Lock()
	sm.limit = int64(storageCapGB) * BytesPerGB
	sm.mu.Unlock()
}

// scan lists clip files, marking the ones whose event is already published.
func (sm *StorageManager) scan(ctx context.Context) ([]clipFile, int64, error) {
	entries, err := os.ReadDir(sm.clipDir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read clip directory: %w", err)
	}

	published := map[string]bool{}
	if sm.store != nil {
		list, err := sm.store.List(ctx, events.Filter{Status: events.StatusPublished})
		if err != nil {
			sm.logger.Printf("Storage: could not list published events: %v", err)
		}
		for _, e := range list {
			published[filepath.Base(e.LocalPath)] = true
			if e.ThumbnailPath != "" {
				published[filepath.Base(e.ThumbnailPath)] = true
			}
		}
	}

	var files []clipFile
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, clipFile{
			path:      filepath.Join(sm.clipDir, entry.Name()),
			modTime:   info.ModTime(),
			size:      info.Size(),
			published: published[entry.Name()],
		})
		total += info.Size()
	}
	return files, total, nil
}

// EnforceStorageCap deletes published clips first, then the oldest clips,
// until usage fits under the cap. Files modified within the grace period
// are never deleted, even if that leaves usage over the cap.
func (sm *StorageManager) EnforceStorageCap(ctx context.Context) error {
	files, totalSize, err := sm.scan(ctx)
	if err != nil {
		return err
	}

	capBytes := sm.capBytes()
	if totalSize > capBytes {
		sort.SliceStable(files, func(i, j int) bool {
			if files[i].published != files[j].published {
				return files[i].published
			}
			return files[i].modTime.Before(files[j].modTime)
		})

		cutoff := sm.now().Add(-sm.grace)
		deletedCount := 0
		for _, f := range files {
			if totalSize <= capBytes {
				break
			}
			if f.modTime.After(cutoff) {
				continue
			}
			if err := os.Remove(f.path); err != nil {
				continue
			}
			deletedCount++
			totalSize -= f.size
			sm.logger.Debugf("Deleted old clip: %s (modified: %s, size: %.2f MB, published: %v)",
				filepath.Base(f.path),
				f.modTime.Format("2006-01-02 15:04:05"),
				float64(f.size)/BytesPerMB,
				f.published)
		}

		if deletedCount > 0 {
			sm.logger.Printf("Storage cleanup complete: deleted %d file(s), now using %.2f GB / %.0f GB",
				deletedCount,
				float64(totalSize)/BytesPerGB,
				float64(capBytes)/BytesPerGB)
		}
	}

	sm.setUsage(totalSize)
	return nil
}

func (sm *StorageManager) setUsage(used int64) {
	sm.mu.Lock()
	sm.lastUsed = used
	sm.lastChecked = time.Now()
	sm.mu.Unlock()
	if sm.metrics != nil {
		sm.metrics.StorageUsedBytes.Set(float64(used))
	}
}

func (sm *StorageManager) GetStorageStats(ctx context.Context) (used int64, cap int64, err error) {
	sm.mu.Lock()
	fresh := time.Since(sm.lastChecked) < StorageStatsCacheTTL
	used = sm.lastUsed
	sm.mu.Unlock()
	if fresh {
		return used, sm.capBytes(), nil
	}

	_, used, err = sm.scan(ctx)
	if err != nil {
		return 0, 0, err
	}
	sm.setUsage(used)
	return used, sm.capBytes(), nil
}

// CleanupTempDir removes leftovers of interrupted extractions.
func (sm *StorageManager) CleanupTempDir() int {
	entries, err := os.ReadDir(sm.tmpDir)
	if err != nil {
		return 0
	}

	cleaned := 0
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(sm.tmpDir, entry.Name())); err == nil {
			cleaned++
		}
	}
	return cleaned
}
