package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"caff_back/logging"
)

const sweepLockName = ".sweep.lock"

// CleanStaleResult contains the outcome of a stale directory sweep.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
	Skipped bool
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes staging directories older than maxAge. Only one process
// sweeps a root at a time; a concurrent call reports Skipped.
func CleanStale(ctx context.Context, root string, maxAge time.Duration, logger logrus.FieldLogger) CleanStaleResult {
	result := CleanStaleResult{}
	log := logging.Component(logger, "staging")

	root = strings.TrimSpace(root)
	if root == "" || maxAge <= 0 {
		return result
	}
	if _, err := os.Stat(root); err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		}
		return result
	}

	lock := flock.New(filepath.Join(root, sweepLockName))
	locked, err := lock.TryLock()
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: lock.Path(), Error: fmt.Errorf("acquire sweep lock: %w", err)})
		return result
	}
	if !locked {
		result.Skipped = true
		return result
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.WithError(err).Warn("failed to release staging sweep lock")
		}
	}()

	entries, err := os.ReadDir(root)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() {
			continue
		}

		dirPath := filepath.Join(root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			log.WithError(err).WithField("path", dirPath).Warn("failed to remove stale staging directory")
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		log.WithFields(logrus.Fields{
			"path": dirPath,
			"age":  time.Since(info.ModTime()).Round(time.Second).String(),
		}).Info("removed stale staging directory")
	}

	return result
}

// RunSweeper calls CleanStale at every interval until ctx is done.
func RunSweeper(ctx context.Context, root string, maxAge, interval time.Duration, logger logrus.FieldLogger) {
	if interval <= 0 {
		interval = time.Hour
	}
	CleanStale(ctx, root, maxAge, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			CleanStale(ctx, root, maxAge, logger)
		}
	}
}
