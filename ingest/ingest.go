// Package ingest drives one upload from raw bytes to a persisted collection
// with a published preview.
package ingest

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"caff_back/audit"
	"caff_back/authorization"
	"caff_back/caff"
	"caff_back/config"
	"caff_back/decoder"
	"caff_back/failure"
	"caff_back/logging"
	"caff_back/metadata"
	"caff_back/metrics"
	"caff_back/staging"
)

// Extension is the only accepted upload extension, compared case-insensitively.
const Extension = ".caff"

const sourceFileName = "source.caff"

// Decoder runs the external parser.
type Decoder interface {
	Invoke(ctx context.Context, sourcePath, outputDir string) (decoder.Result, error)
}

// Persister stores a decoded collection.
type Persister interface {
	Persist(ctx context.Context, meta *metadata.Metadata, source caff.SourceInfo) (uint64, error)
}

// Assembler publishes the preview of a collection.
type Assembler interface {
	Assemble(ctx context.Context, outputDir string, collectionID uint64) (string, error)
}

// Collections deletes a collection when a preview failure rolls it back.
type Collections interface {
	Delete(ctx context.Context, id uint64) (*caff.Caff, error)
}

// Auditor appends audit entries.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Staging     *staging.Manager
	Decoder     Decoder
	Persister   Persister
	Assembler   Assembler
	Collections Collections
	Audit       Auditor
	Metrics     *metrics.IngestMetrics
	Logger      logrus.FieldLogger
}

// Config tunes the orchestrator.
type Config struct {
	SourcesDir           string
	MaxUploadBytes       int64
	PreviewFailurePolicy string
}

// Upload is one received file.
type Upload struct {
	Filename string
	Body     io.Reader
}

// Outcome describes where an upload ended up.
type Outcome struct {
	Stage        Stage
	FailedAt     Stage
	Kind         failure.Kind
	CollectionID uint64
	PreviewPath  string
	Animations   int
	RolledBack   bool
}

// Orchestrator runs the ingestion pipeline.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger logrus.FieldLogger
}

// New validates deps and creates the orchestrator.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Staging == nil:
		return nil, errors.New("ingest: staging manager is required")
	case deps.Decoder == nil:
		return nil, errors.New("ingest: decoder is required")
	case deps.Persister == nil:
		return nil, errors.New("ingest: persister is required")
	case deps.Assembler == nil:
		return nil, errors.New("ingest: preview assembler is required")
	case strings.TrimSpace(cfg.SourcesDir) == "":
		return nil, errors.New("ingest: sources directory is required")
	}
	if cfg.PreviewFailurePolicy == config.PreviewFailureRollback && deps.Collections == nil {
		return nil, errors.New("ingest: rollback policy needs a collection store")
	}
	if cfg.PreviewFailurePolicy == "" {
		cfg.PreviewFailurePolicy = config.PreviewFailureKeep
	}
	abs, err := filepath.Abs(cfg.SourcesDir)
	if err != nil {
		return nil, fmt.Errorf("ingest: resolve sources directory: %w", err)
	}
	cfg.SourcesDir = abs
	if err := os.MkdirAll(cfg.SourcesDir, 0o750); err != nil {
		return nil, fmt.Errorf("ingest: create sources directory: %w", err)
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logging.Component(deps.Logger, "ingest")}, nil
}

// AllowedExtension reports whether name carries the accepted extension.
func AllowedExtension(name string) bool {
	return strings.EqualFold(filepath.Ext(strings.TrimSpace(name)), Extension)
}

// MaxUploadBytes is the largest accepted single upload.
func (o *Orchestrator) MaxUploadBytes() int64 {
	return o.cfg.MaxUploadBytes
}

// Ingest runs one upload through the pipeline. The returned Outcome is never
// nil; on failure it records the stage that failed and err carries the kind.
//
// Once started, an ingestion runs to a terminal stage even if ctx is
// cancelled: the decoder timeout is its only deadline. Values carried by ctx
// are kept.
func (o *Orchestrator) Ingest(ctx context.Context, up Upload, actor *authorization.Identity) (*Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	out := &Outcome{Stage: StageReceived}
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(up.Filename), "\\", "/"))

	if !AllowedExtension(name) {
		out.Stage, out.FailedAt, out.Kind = StageFailed, StageReceived, failure.UnsupportedExtension
		o.deps.Metrics.RecordOutcome(failure.UnsupportedExtension.String())
		return out, failure.Newf(failure.UnsupportedExtension, "%q is not a %s file", name, Extension)
	}

	handle, err := o.deps.Staging.Allocate()
	if err != nil {
		return o.fail(ctx, out, actor, err)
	}
	defer func() {
		if err := handle.Release(); err != nil {
			o.logger.WithError(err).WithField("staging", handle.ID()).Warn("release staging directory failed")
		}
	}()

	log := o.logger.WithFields(logrus.Fields{"staging": handle.ID(), "file": name})
	source := handle.Join(sourceFileName)

	var size int64
	var digest string
	err = o.timed(StageStaged, func() error {
		size, digest, err = o.stageBody(up.Body, source)
		return err
	})
	if err != nil {
		if failure.Is(err, failure.EmptyUpload) {
			out.Stage, out.FailedAt, out.Kind = StageFailed, StageReceived, failure.EmptyUpload
			o.deps.Metrics.RecordOutcome(failure.EmptyUpload.String())
			return out, err
		}
		return o.fail(ctx, out, actor, err)
	}
	out.Stage = StageStaged
	o.deps.Metrics.ObserveUpload(size)

	err = o.timed(StageDecoded, func() error {
		o.deps.Metrics.DecoderStarted()
		defer o.deps.Metrics.DecoderFinished()
		_, err := o.deps.Decoder.Invoke(ctx, source, handle.Path())
		return err
	})
	if err != nil {
		return o.fail(ctx, out, actor, err)
	}
	out.Stage = StageDecoded

	var meta *metadata.Metadata
	err = o.timed(StageMetadataExtracted, func() error {
		meta, err = metadata.Extract(handle.Path())
		return err
	})
	if err != nil {
		return o.fail(ctx, out, actor, err)
	}
	out.Stage = StageMetadataExtracted
	out.Animations = len(meta.Animations)

	retained, err := o.retain(handle, source)
	if err != nil {
		return o.fail(ctx, out, actor, err)
	}

	var id uint64
	err = o.timed(StagePersisted, func() error {
		id, err = o.deps.Persister.Persist(ctx, meta, caff.SourceInfo{Path: retained, OriginalName: name, Digest: digest})
		return err
	})
	if err != nil {
		log.WithField("retained", retained).Warn("persist failed, retained source left for inspection")
		return o.fail(ctx, out, actor, err)
	}
	out.Stage = StagePersisted
	out.CollectionID = id
	o.deps.Metrics.ObserveAnimations(len(meta.Animations))

	var previewPath string
	err = o.timed(StagePreviewPublished, func() error {
		previewPath, err = o.deps.Assembler.Assemble(ctx, handle.Path(), id)
		return err
	})
	if err != nil {
		if o.cfg.PreviewFailurePolicy == config.PreviewFailureRollback {
			if _, delErr := o.deps.Collections.Delete(ctx, id); delErr != nil {
				log.WithError(delErr).WithField("caff_id", id).Error("rollback after preview failure failed")
			} else {
				out.RolledBack = true
			}
		}
		if !failure.Is(err, failure.PreviewAssemblyFailure) {
			err = failure.WithID(failure.PreviewAssemblyFailure, id, err)
		}
		return o.fail(ctx, out, actor, err)
	}
	out.Stage = StageComplete
	out.PreviewPath = previewPath

	actorID := subjectOf(actor)
	entity := fmt.Sprintf("caff %d", id)
	o.record(ctx, audit.Entry{
		Level:   audit.LevelInfo,
		ActorID: actorID,
		Action:  audit.ActionUpload,
		Entity:  entity,
		Message: audit.ActionMessage(actorID, audit.ActionUpload, entity),
	})
	o.deps.Metrics.RecordOutcome("ok")
	log.WithFields(logrus.Fields{"caff_id": id, "bytes": size, "animations": out.Animations}).Info("upload ingested")
	return out, nil
}

func (o *Orchestrator) fail(ctx context.Context, out *Outcome, actor *authorization.Identity, err error) (*Outcome, error) {
	kind := failure.KindOf(err)
	if kind == failure.Unknown {
		err = failure.New(failure.IOFailure, err)
		kind = failure.IOFailure
	}
	out.FailedAt = out.Stage
	out.Stage = StageFailed
	out.Kind = kind

	actorID := subjectOf(actor)
	entity := "caff"
	if out.CollectionID != 0 {
		entity = fmt.Sprintf("caff %d", out.CollectionID)
	}
	o.record(ctx, audit.Entry{
		Level:   audit.LevelError,
		ActorID: actorID,
		Action:  audit.ActionUpload,
		Entity:  entity,
		Message: audit.FailureMessage(actorID, audit.ActionUpload, entity, err),
	})
	o.deps.Metrics.RecordOutcome(kind.String())
	o.logger.WithError(err).WithFields(logrus.Fields{
		"stage": out.FailedAt.String(),
		"kind":  kind.String(),
	}).Warn("upload failed")
	return out, err
}

func (o *Orchestrator) record(ctx context.Context, entry audit.Entry) {
	if o.deps.Audit == nil {
		return
	}
	o.deps.Audit.Record(ctx, entry)
}

func (o *Orchestrator) timed(stage Stage, fn func() error) error {
	started := time.Now()
	err := fn()
	o.deps.Metrics.ObserveStage(stage.String(), time.Since(started))
	return err
}

// stageBody copies body to path, enforcing the size limit and hashing it.
func (o *Orchestrator) stageBody(body io.Reader, path string) (int64, string, error) {
	if body == nil {
		return 0, "", failure.Newf(failure.EmptyUpload, "upload has no body")
	}

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, "", failure.New(failure.IOFailure, fmt.Errorf("create staged source: %w", err))
	}
	defer dst.Close()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return 0, "", failure.New(failure.IOFailure, err)
	}

	reader := body
	if o.cfg.MaxUploadBytes > 0 {
		reader = io.LimitReader(body, o.cfg.MaxUploadBytes+1)
	}
	written, err := io.Copy(io.MultiWriter(dst, hasher), reader)
	if err != nil {
		return written, "", failure.New(failure.IOFailure, fmt.Errorf("write staged source: %w", err))
	}
	if o.cfg.MaxUploadBytes > 0 && written > o.cfg.MaxUploadBytes {
		return written, "", failure.Newf(failure.InvalidInput, "upload exceeds %d bytes", o.cfg.MaxUploadBytes)
	}
	if written == 0 {
		return 0, "", failure.Newf(failure.EmptyUpload, "upload is empty")
	}
	if err := dst.Sync(); err != nil {
		return written, "", failure.New(failure.IOFailure, fmt.Errorf("sync staged source: %w", err))
	}
	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

// retain moves the staged source out of the staging directory so the
// collection's RawFile outlives it.
func (o *Orchestrator) retain(handle *staging.Handle, source string) (string, error) {
	dir := filepath.Join(o.cfg.SourcesDir, handle.ID())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", failure.New(failure.IOFailure, fmt.Errorf("create source directory: %w", err))
	}
	target := filepath.Join(dir, sourceFileName)

	if err := os.Rename(source, target); err == nil {
		return target, nil
	}
	if err := copyFile(source, target); err != nil {
		_ = os.RemoveAll(dir)
		return "", failure.New(failure.IOFailure, fmt.Errorf("retain source: %w", err))
	}
	return target, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func subjectOf(actor *authorization.Identity) string {
	if actor == nil {
		return ""
	}
	return actor.SubjectID
}
