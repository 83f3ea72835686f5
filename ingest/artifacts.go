package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"caff_back/caff"
	"caff_back/logging"
)

// PreviewRemover deletes a published preview.
type PreviewRemover interface {
	Remove(ctx context.Context, collectionID uint64) error
}

// ArtifactRemover deletes the files that belong to a collection once its rows
// are gone: the published preview and the retained source.
type ArtifactRemover struct {
	previews   PreviewRemover
	sourcesDir string
	logger     logrus.FieldLogger
}

// NewArtifactRemover builds a remover for files under sourcesDir.
func NewArtifactRemover(previews PreviewRemover, sourcesDir string, logger logrus.FieldLogger) *ArtifactRemover {
	abs, err := filepath.Abs(sourcesDir)
	if err != nil {
		abs = filepath.Clean(sourcesDir)
	}
	return &ArtifactRemover{previews: previews, sourcesDir: abs, logger: logging.Component(logger, "artifacts")}
}

// Hook adapts the remover to a caff store delete hook.
func (r *ArtifactRemover) Hook() caff.DeleteHook {
	return func(ctx context.Context, deleted *caff.Caff) {
		r.Remove(ctx, deleted)
	}
}

// Remove deletes the artifacts of c. Failures are logged; the rows are
// already gone and a leftover file is swept by hand.
func (r *ArtifactRemover) Remove(ctx context.Context, c *caff.Caff) {
	if r == nil || c == nil {
		return
	}
	log := r.logger.WithField("caff_id", c.ID)

	if r.previews != nil {
		if err := r.previews.Remove(ctx, c.ID); err != nil {
			log.WithError(err).Warn("remove preview failed")
		}
	}

	source, ok := r.ownedSource(c.RawFile)
	if !ok {
		if c.RawFile != "" {
			log.WithField("raw_file", c.RawFile).Warn("retained source outside sources directory, left in place")
		}
		return
	}
	if err := os.Remove(source); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("remove retained source failed")
		return
	}
	// The per-upload directory only goes away once it is empty.
	if dir := filepath.Dir(source); dir != r.sourcesDir {
		_ = os.Remove(dir)
	}
}

func (r *ArtifactRemover) ownedSource(raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(r.sourcesDir, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", false
	}
	return abs, true
}
