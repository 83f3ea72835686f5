package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	rardecode "github.com/nwaples/rardecode/v2"
	"golang.org/x/sync/errgroup"

	"caff_back/authorization"
	"caff_back/failure"
)

// MaxArchiveBytes bounds the size of one uploaded archive.
const MaxArchiveBytes int64 = 200 * 1024 * 1024

const (
	maxArchiveEntries = 64
	archiveWorkers    = 2

	archiveFormatZip = "zip"
	archiveFormatRar = "rar"
)

// EntryResult is the outcome of one .caff entry in an archive.
type EntryResult struct {
	Name         string `json:"name"`
	CollectionID uint64 `json:"collection_id,omitempty"`
	Stage        string `json:"stage"`
	Error        string `json:"error,omitempty"`
	Kind         string `json:"kind,omitempty"`
}

// ArchiveReport summarises an archive import.
type ArchiveReport struct {
	Entries   []EntryResult `json:"entries"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
}

// ImportArchive unpacks a zip or rar archive and ingests every .caff entry in
// it independently. Other entries are counted as skipped.
func (o *Orchestrator) ImportArchive(ctx context.Context, filename string, body io.Reader, actor *authorization.Identity) (*ArchiveReport, error) {
	if body == nil {
		return nil, failure.Newf(failure.EmptyUpload, "archive has no body")
	}

	handle, err := o.deps.Staging.Allocate()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := handle.Release(); err != nil {
			o.logger.WithError(err).WithField("staging", handle.ID()).Warn("release archive staging failed")
		}
	}()

	tmp, err := os.CreateTemp(handle.Path(), "archive-*")
	if err != nil {
		return nil, failure.New(failure.IOFailure, fmt.Errorf("create archive temp file: %w", err))
	}
	defer tmp.Close()

	written, err := io.Copy(tmp, io.LimitReader(body, MaxArchiveBytes+1))
	if err != nil {
		return nil, failure.New(failure.IOFailure, fmt.Errorf("copy archive: %w", err))
	}
	if written == 0 {
		return nil, failure.Newf(failure.EmptyUpload, "archive is empty")
	}
	if written > MaxArchiveBytes {
		return nil, failure.Newf(failure.InvalidInput, "archive exceeds %d bytes", MaxArchiveBytes)
	}

	format, err := detectArchiveFormat(tmp, filename)
	if err != nil {
		return nil, err
	}

	destDir := handle.Join("entries")
	if err := os.Mkdir(destDir, 0o700); err != nil {
		return nil, failure.New(failure.IOFailure, fmt.Errorf("create entries dir: %w", err))
	}

	var entries []string
	var skipped int
	switch format {
	case archiveFormatZip:
		entries, skipped, err = o.extractZip(tmp, written, destDir)
	case archiveFormatRar:
		entries, skipped, err = o.extractRar(tmp, destDir)
	}
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, failure.Newf(failure.InvalidInput, "archive contains no %s files", Extension)
	}

	report := &ArchiveReport{Entries: make([]EntryResult, len(entries)), Skipped: skipped}
	var group errgroup.Group
	group.SetLimit(archiveWorkers)
	for i, rel := range entries {
		group.Go(func() error {
			report.Entries[i] = o.ingestEntry(ctx, destDir, rel, actor)
			return nil
		})
	}
	_ = group.Wait()

	for _, entry := range report.Entries {
		if entry.Error == "" {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	o.logger.WithField("archive", filepath.Base(filename)).
		WithField("succeeded", report.Succeeded).
		WithField("failed", report.Failed).
		Info("archive imported")
	return report, nil
}

func (o *Orchestrator) ingestEntry(ctx context.Context, destDir, rel string, actor *authorization.Identity) EntryResult {
	result := EntryResult{Name: rel}
	f, err := os.Open(filepath.Join(destDir, filepath.FromSlash(rel)))
	if err != nil {
		result.Stage = StageFailed.String()
		result.Kind = failure.IOFailure.String()
		result.Error = err.Error()
		return result
	}
	defer f.Close()

	out, err := o.Ingest(ctx, Upload{Filename: path.Base(rel), Body: f}, actor)
	result.CollectionID = out.CollectionID
	result.Stage = out.Stage.String()
	if err != nil {
		result.Kind = failure.KindOf(err).String()
		result.Error = err.Error()
	}
	return result
}

func (o *Orchestrator) extractZip(file *os.File, size int64, destDir string) ([]string, int, error) {
	reader, err := zip.NewReader(file, size)
	if err != nil {
		return nil, 0, failure.New(failure.InvalidInput, fmt.Errorf("parse zip archive: %w", err))
	}

	var entries []string
	seen := make(map[string]struct{})
	skipped := 0
	for _, entry := range reader.File {
		rel, err := sanitizeArchiveEntry(entry.Name)
		if err != nil {
			return nil, 0, err
		}
		if rel == "" || entry.FileInfo().IsDir() {
			continue
		}
		if !AllowedExtension(rel) {
			skipped++
			continue
		}
		// Later members with a name already taken are skipped; the first wins.
		if _, dup := seen[rel]; dup {
			skipped++
			continue
		}
		if len(entries) == maxArchiveEntries {
			return nil, 0, failure.Newf(failure.InvalidInput, "archive holds more than %d %s files", maxArchiveEntries, Extension)
		}

		rc, err := entry.Open()
		if err != nil {
			return nil, 0, failure.New(failure.IOFailure, fmt.Errorf("open entry %s: %w", rel, err))
		}
		err = o.writeEntry(destDir, rel, rc)
		rc.Close()
		if err != nil {
			return nil, 0, err
		}
		seen[rel] = struct{}{}
		entries = append(entries, rel)
	}
	sort.Strings(entries)
	return entries, skipped, nil
}

func (o *Orchestrator) extractRar(file *os.File, destDir string) ([]string, int, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, 0, failure.New(failure.IOFailure, fmt.Errorf("rewind archive: %w", err))
	}
	rr, err := rardecode.NewReader(file)
	if err != nil {
		return nil, 0, failure.New(failure.InvalidInput, fmt.Errorf("parse rar archive: %w", err))
	}

	var entries []string
	seen := make(map[string]struct{})
	skipped := 0
	for {
		header, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, failure.New(failure.InvalidInput, fmt.Errorf("read rar entry: %w", err))
		}

		rel, err := sanitizeArchiveEntry(header.Name)
		if err != nil {
			return nil, 0, err
		}
		if rel == "" || header.IsDir {
			continue
		}
		if !AllowedExtension(rel) {
			skipped++
			continue
		}
		// Later members with a name already taken are skipped; the first wins.
		if _, dup := seen[rel]; dup {
			skipped++
			continue
		}
		if len(entries) == maxArchiveEntries {
			return nil, 0, failure.Newf(failure.InvalidInput, "archive holds more than %d %s files", maxArchiveEntries, Extension)
		}
		if err := o.writeEntry(destDir, rel, rr); err != nil {
			return nil, 0, err
		}
		seen[rel] = struct{}{}
		entries = append(entries, rel)
	}
	sort.Strings(entries)
	return entries, skipped, nil
}

// writeEntry copies one archive member below destDir. Members larger than the
// upload limit are rejected before they fill the disk.
func (o *Orchestrator) writeEntry(destDir, rel string, src io.Reader) error {
	target := filepath.Join(destDir, filepath.FromSlash(rel))
	if !strings.HasPrefix(target, destDir+string(os.PathSeparator)) {
		return failure.Newf(failure.InvalidInput, "archive entry escapes target dir: %s", rel)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return failure.New(failure.IOFailure, fmt.Errorf("prepare dir for %s: %w", rel, err))
	}

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return failure.New(failure.IOFailure, fmt.Errorf("create file %s: %w", rel, err))
	}
	defer dst.Close()

	limit := o.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = MaxArchiveBytes
	}
	written, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if err != nil {
		return failure.New(failure.IOFailure, fmt.Errorf("write file %s: %w", rel, err))
	}
	if written > limit {
		return failure.Newf(failure.InvalidInput, "archive entry %s exceeds %d bytes", rel, limit)
	}
	return dst.Close()
}

func detectArchiveFormat(file *os.File, originalName string) (string, error) {
	ext := strings.ToLower(strings.TrimSpace(filepath.Ext(originalName)))
	switch ext {
	case ".zip":
		return archiveFormatZip, nil
	case ".rar":
		return archiveFormatRar, nil
	}

	var header [8]byte
	n, err := file.ReadAt(header[:], 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", failure.New(failure.IOFailure, fmt.Errorf("read archive header: %w", err))
	}
	magic := header[:n]

	switch {
	case bytes.HasPrefix(magic, []byte{0x50, 0x4b, 0x03, 0x04}):
		return archiveFormatZip, nil
	case bytes.HasPrefix(magic, []byte{0x52, 0x61, 0x72, 0x21, 0x1a, 0x07}):
		return archiveFormatRar, nil
	}
	return "", failure.Newf(failure.UnsupportedExtension, "unsupported archive %q, only .zip and .rar are accepted", filepath.Base(originalName))
}

func sanitizeArchiveEntry(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", nil
	}

	normalized := path.Clean(strings.ReplaceAll(trimmed, "\\", "/"))
	normalized = strings.TrimPrefix(normalized, "/")
	normalized = strings.TrimPrefix(normalized, "./")
	if normalized == "." || normalized == "" {
		return "", nil
	}
	if normalized == ".." || strings.HasPrefix(normalized, "../") {
		return "", failure.Newf(failure.InvalidInput, "archive entry %q uses parent traversal", name)
	}
	if strings.HasPrefix(strings.ToLower(normalized), "__macosx/") {
		return "", nil
	}
	return normalized, nil
}
