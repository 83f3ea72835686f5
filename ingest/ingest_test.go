package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"caff_back/audit"
	"caff_back/authorization"
	"caff_back/caff"
	"caff_back/config"
	"caff_back/database"
	"caff_back/decoder"
	"caff_back/failure"
	"caff_back/logging"
	"caff_back/metadata"
	"caff_back/preview"
	"caff_back/staging"
)

// fakeParser stands in for the external parser. The staged source content
// selects the behaviour: "fail" exits 1, "nometa" writes no metadata.json,
// "noframes" writes metadata without preview frames. Anything else is used as
// the creator name of a two-animation collection.
type fakeParser struct {
	calls atomic.Int32
}

func (p *fakeParser) Run(_ context.Context, _ string, args []string) ([]byte, int, error) {
	p.calls.Add(1)
	src, out := args[0], args[1]
	raw, err := os.ReadFile(src)
	if err != nil {
		return nil, -1, err
	}
	content := strings.TrimSpace(string(raw))

	switch content {
	case "fail":
		return []byte("bad magic"), 1, nil
	case "nometa":
		return nil, 0, nil
	}

	doc := map[string]any{
		"credits": map[string]any{"year": 2020, "month": 7, "day": 1, "hour": 12, "creator": content},
		"animation": []map[string]any{
			{"duration": 1000, "width": 4, "height": 3, "caption": "first", "tags": []string{"sky", "sun"}},
			{"duration": 500, "width": 4, "height": 3, "caption": "second", "tags": []string{}},
		},
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, -1, err
	}
	if err := os.WriteFile(filepath.Join(out, "metadata.json"), encoded, 0o600); err != nil {
		return nil, -1, err
	}
	if content == "noframes" {
		return nil, 0, nil
	}
	for i := 0; i < 3; i++ {
		if err := writeFrame(filepath.Join(out, fmt.Sprintf("preview%d.png", i))); err != nil {
			return nil, -1, err
		}
	}
	return nil, 0, nil
}

func writeFrame(path string) error {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

type fixture struct {
	orch        *Orchestrator
	db          *gorm.DB
	store       *caff.Store
	parser      *fakeParser
	stagingRoot string
	sourcesDir  string
	previewDir  string
}

func newFixture(t *testing.T, policy string, overrides ...func(*Deps)) *fixture {
	t.Helper()

	root := t.TempDir()
	db, err := database.Open("sqlite", filepath.Join(root, "ingest.db"), logging.Discard())
	require.NoError(t, err)
	models := append(caff.Models(), &audit.LogEntry{})
	require.NoError(t, database.Migrate(db, models...))

	fx := &fixture{
		db:          db,
		parser:      &fakeParser{},
		stagingRoot: filepath.Join(root, "staging"),
		sourcesDir:  filepath.Join(root, "sources"),
		previewDir:  filepath.Join(root, "preview"),
	}

	manager, err := staging.NewManager(fx.stagingRoot)
	require.NoError(t, err)
	dec, err := decoder.New("caff-parser", 0, 2, decoder.WithExecutor(fx.parser), decoder.WithLogger(logging.Discard()))
	require.NoError(t, err)
	assembler, err := preview.NewAssembler(fx.previewDir, preview.Options{}, logging.Discard())
	require.NoError(t, err)

	remover := NewArtifactRemover(assembler, fx.sourcesDir, logging.Discard())
	fx.store = caff.NewStore(db, nil, logging.Discard(), caff.WithDeleteHook(remover.Hook()))

	deps := Deps{
		Staging:     manager,
		Decoder:     dec,
		Persister:   caff.NewPersister(db, nil, logging.Discard()),
		Assembler:   assembler,
		Collections: fx.store,
		Audit:       authorization.NewOverlay(db, audit.NewService(logging.Discard()), logging.Discard()),
		Logger:      logging.Discard(),
	}
	for _, override := range overrides {
		override(&deps)
	}
	fx.orch, err = New(deps, Config{SourcesDir: fx.sourcesDir, MaxUploadBytes: 1 << 20, PreviewFailurePolicy: policy})
	require.NoError(t, err)
	return fx
}

func (fx *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, fx.db.Model(model).Count(&n).Error)
	return n
}

func (fx *fixture) auditEntries(t *testing.T) []audit.LogEntry {
	t.Helper()
	entries, err := audit.NewService(nil).List(context.Background(), fx.db)
	require.NoError(t, err)
	return entries
}

func (fx *fixture) stagingEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(fx.stagingRoot)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

var uploader = &authorization.Identity{SubjectID: "u-1", Name: "uploader", Role: authorization.RoleUser}

func TestIngestHappyPath(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureKeep)
	out, err := fx.orch.Ingest(context.Background(), Upload{Filename: "cat.caff", Body: strings.NewReader("alice")}, uploader)
	require.NoError(t, err)

	assert.Equal(t, StageComplete, out.Stage)
	require.NotZero(t, out.CollectionID)
	assert.Equal(t, 2, out.Animations)
	assert.Equal(t, filepath.Join(fx.previewDir, fmt.Sprintf("%d.gif", out.CollectionID)), out.PreviewPath)
	assert.FileExists(t, out.PreviewPath)

	row, err := fx.store.Get(context.Background(), out.CollectionID)
	require.NoError(t, err)
	assert.Equal(t, "alice", row.Creator)
	assert.Equal(t, 5, row.CreatorLen)
	assert.Equal(t, int64(-1), row.Minute)
	assert.Equal(t, "cat.caff", row.OriginalName)
	assert.Len(t, row.SourceDigest, 64)
	require.Len(t, row.Ciffs, 2)
	assert.Equal(t, "first", row.Ciffs[0].Caption)
	assert.Equal(t, "sky;sun", row.Ciffs[0].Tags)
	assert.Equal(t, "second", row.Ciffs[1].Caption)

	assert.FileExists(t, row.RawFile)
	assert.True(t, strings.HasPrefix(row.RawFile, fx.sourcesDir))
	assert.Empty(t, fx.stagingEntries(t), "staging is released")

	entries := fx.auditEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.LevelInfo, entries[0].Level)
	assert.Equal(t, audit.ActionUpload, entries[0].Action)
	require.NotNil(t, entries[0].ActorID)
	assert.Equal(t, "u-1", *entries[0].ActorID)
}

func TestIngestRejectsWrongExtensionBeforeStaging(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureKeep)
	out, err := fx.orch.Ingest(context.Background(), Upload{Filename: "report.txt", Body: strings.NewReader("alice")}, uploader)
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.UnsupportedExtension))
	assert.Equal(t, StageFailed, out.Stage)
	assert.Equal(t, StageReceived, out.FailedAt)
	assert.Zero(t, fx.parser.calls.Load())
	assert.Empty(t, fx.stagingEntries(t))
	assert.Zero(t, fx.count(t, &caff.Caff{}))
	assert.Empty(t, fx.auditEntries(t), "extension rejections are not audited")
}

func TestIngestAcceptsUpperCaseExtension(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureKeep)
	_, err := fx.orch.Ingest(context.Background(), Upload{Filename: `C:\uploads\CAT.CAFF`, Body: strings.NewReader("bob")}, uploader)
	require.NoError(t, err)

	rows, err := fx.store.List(context.Background(), caff.Page{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "CAT.CAFF", rows[0].OriginalName)
}

func TestIngestEmptyUpload(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureKeep)
	out, err := fx.orch.Ingest(context.Background(), Upload{Filename: "empty.caff", Body: strings.NewReader("")}, uploader)
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.EmptyUpload))
	assert.Equal(t, StageFailed, out.Stage)
	assert.Zero(t, fx.parser.calls.Load())
	assert.Empty(t, fx.stagingEntries(t))
	assert.Empty(t, fx.auditEntries(t))
}

func TestIngestRejectsOversizedUpload(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureKeep)
	body := bytes.NewReader(make([]byte, (1<<20)+1))
	_, err := fx.orch.Ingest(context.Background(), Upload{Filename: "big.caff", Body: body}, uploader)
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.InvalidInput))
	assert.Zero(t, fx.parser.calls.Load())
	assert.Empty(t, fx.stagingEntries(t))
}

func TestIngestParseFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureKeep)
	out, err := fx.orch.Ingest(context.Background(), Upload{Filename: "broken.caff", Body: strings.NewReader("fail")}, uploader)
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.ParseFailure))
	assert.Equal(t, StageStaged, out.FailedAt)
	assert.Empty(t, fx.stagingEntries(t))
	assert.Zero(t, fx.count(t, &caff.Caff{}))
	assert.Zero(t, fx.count(t, &caff.Ciff{}))

	entries := fx.auditEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.LevelError, entries[0].Level)
	require.NotNil(t, entries[0].ActorID)
	assert.Equal(t, "u-1", *entries[0].ActorID)
}

func TestIngestMissingMetadata(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureKeep)
	out, err := fx.orch.Ingest(context.Background(), Upload{Filename: "odd.caff", Body: strings.NewReader("nometa")}, nil)
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.MetadataMalformed))
	assert.Equal(t, StageDecoded, out.FailedAt)
	assert.Empty(t, fx.stagingEntries(t))
	assert.Zero(t, fx.count(t, &caff.Caff{}))

	sources, err := os.ReadDir(fx.sourcesDir)
	require.NoError(t, err)
	assert.Empty(t, sources, "nothing is retained before metadata is valid")

	entries := fx.auditEntries(t)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].ActorID)
}

func TestIngestPreviewFailureKeepsCollection(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureKeep)
	out, err := fx.orch.Ingest(context.Background(), Upload{Filename: "still.caff", Body: strings.NewReader("noframes")}, uploader)
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.PreviewAssemblyFailure))
	assert.Equal(t, StagePersisted, out.FailedAt)
	require.NotZero(t, out.CollectionID)
	assert.Equal(t, out.CollectionID, failure.IDOf(err))
	assert.False(t, out.RolledBack)

	_, err = fx.store.Get(context.Background(), out.CollectionID)
	require.NoError(t, err, "collection stays queryable")
	assert.Empty(t, fx.stagingEntries(t))

	entries := fx.auditEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.LevelError, entries[0].Level)
	assert.Contains(t, entries[0].Message, fmt.Sprintf("caff %d", out.CollectionID))
}

func TestIngestPreviewFailureRollsBack(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureRollback)
	out, err := fx.orch.Ingest(context.Background(), Upload{Filename: "still.caff", Body: strings.NewReader("noframes")}, uploader)
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.PreviewAssemblyFailure))
	assert.True(t, out.RolledBack)
	assert.Zero(t, fx.count(t, &caff.Caff{}))
	assert.Zero(t, fx.count(t, &caff.Ciff{}))

	sources, err := os.ReadDir(fx.sourcesDir)
	require.NoError(t, err)
	assert.Empty(t, sources, "retained source is removed with the collection")
}

// cancelAfterDecode cancels the caller's context as soon as the parser has
// finished, the way a client hanging up mid-request would.
type cancelAfterDecode struct {
	Decoder
	cancel context.CancelFunc
}

func (c cancelAfterDecode) Invoke(ctx context.Context, sourcePath, outputDir string) (decoder.Result, error) {
	res, err := c.Decoder.Invoke(ctx, sourcePath, outputDir)
	c.cancel()
	return res, err
}

func TestIngestCompletesAfterCallerCancels(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx := newFixture(t, config.PreviewFailureKeep, func(d *Deps) {
		d.Decoder = cancelAfterDecode{Decoder: d.Decoder, cancel: cancel}
	})

	out, err := fx.orch.Ingest(ctx, Upload{Filename: "hangup.caff", Body: strings.NewReader("frank")}, uploader)
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	assert.Equal(t, StageComplete, out.Stage)
	assert.FileExists(t, out.PreviewPath)
	assert.Equal(t, int64(1), fx.count(t, &caff.Caff{}))

	entries := fx.auditEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.LevelInfo, entries[0].Level)
}

func TestIngestDecodesWithAlreadyCancelledContext(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureKeep)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := fx.orch.Ingest(ctx, Upload{Filename: "late.caff", Body: strings.NewReader("gina")}, uploader)
	require.NoError(t, err)
	assert.Equal(t, StageComplete, out.Stage)
	assert.Equal(t, int32(1), fx.parser.calls.Load())
}

type failingPersister struct{}

func (failingPersister) Persist(context.Context, *metadata.Metadata, caff.SourceInfo) (uint64, error) {
	return 0, failure.New(failure.PersistenceFailure, errors.New("database unavailable"))
}

func TestIngestPersistenceFailureKeepsRetainedSource(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureKeep, func(d *Deps) {
		d.Persister = failingPersister{}
	})

	out, err := fx.orch.Ingest(context.Background(), Upload{Filename: "lost.caff", Body: strings.NewReader("hank")}, uploader)
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.PersistenceFailure))
	assert.Equal(t, StageFailed, out.Stage)
	assert.Equal(t, StageMetadataExtracted, out.FailedAt)
	assert.Zero(t, out.CollectionID)
	assert.Zero(t, fx.count(t, &caff.Caff{}))
	assert.Zero(t, fx.count(t, &caff.Ciff{}))
	assert.Empty(t, fx.stagingEntries(t), "staging is released")

	sources, err := os.ReadDir(fx.sourcesDir)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	retained := filepath.Join(fx.sourcesDir, sources[0].Name(), sourceFileName)
	raw, err := os.ReadFile(retained)
	require.NoError(t, err)
	assert.Equal(t, "hank", string(raw))

	entries := fx.auditEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.LevelError, entries[0].Level)
	assert.Contains(t, entries[0].Message, "PersistenceFailure")
}

// stuckParser never finishes on its own.
type stuckParser struct{}

func (stuckParser) Run(ctx context.Context, _ string, _ []string) ([]byte, int, error) {
	<-ctx.Done()
	return nil, -1, ctx.Err()
}

func TestIngestDecodeTimeout(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureKeep, func(d *Deps) {
		dec, err := decoder.New("caff-parser", 50*time.Millisecond, 1, decoder.WithExecutor(stuckParser{}), decoder.WithLogger(logging.Discard()))
		require.NoError(t, err)
		d.Decoder = dec
	})

	out, err := fx.orch.Ingest(context.Background(), Upload{Filename: "slow.caff", Body: strings.NewReader("ivy")}, uploader)
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.DecodeTimeout), err.Error())
	assert.Equal(t, StageStaged, out.FailedAt)
	assert.Zero(t, fx.count(t, &caff.Caff{}))
	assert.Empty(t, fx.stagingEntries(t))

	entries := fx.auditEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.LevelError, entries[0].Level)
}

func TestIngestConcurrentUploadsAreIsolated(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureKeep)
	creators := []string{"ann", "ben", "cid", "dora"}

	ids := make([]uint64, len(creators))
	errs := make([]error, len(creators))
	var wg sync.WaitGroup
	for i, creator := range creators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := fx.orch.Ingest(context.Background(), Upload{Filename: creator + ".caff", Body: strings.NewReader(creator)}, uploader)
			ids[i], errs[i] = out.CollectionID, err
		}()
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for i, creator := range creators {
		require.NoError(t, errs[i])
		assert.False(t, seen[ids[i]], "collection ids are distinct")
		seen[ids[i]] = true

		row, err := fx.store.Get(context.Background(), ids[i])
		require.NoError(t, err)
		assert.Equal(t, creator, row.Creator)
		assert.Equal(t, creator+".caff", row.OriginalName)
		assert.FileExists(t, filepath.Join(fx.previewDir, fmt.Sprintf("%d.gif", ids[i])))
	}
	assert.Empty(t, fx.stagingEntries(t))
	assert.Len(t, fx.auditEntries(t), len(creators))
}

func TestDeleteRemovesArtifacts(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureKeep)
	out, err := fx.orch.Ingest(context.Background(), Upload{Filename: "gone.caff", Body: strings.NewReader("eve")}, uploader)
	require.NoError(t, err)

	deleted, err := fx.store.Delete(context.Background(), out.CollectionID)
	require.NoError(t, err)

	assert.NoFileExists(t, out.PreviewPath)
	assert.NoFileExists(t, deleted.RawFile)
	assert.NoDirExists(t, filepath.Dir(deleted.RawFile))
}

func TestArtifactRemoverIgnoresForeignSources(t *testing.T) {
	t.Parallel()

	outside := filepath.Join(t.TempDir(), "keep.caff")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))

	remover := NewArtifactRemover(nil, t.TempDir(), logging.Discard())
	remover.Remove(context.Background(), &caff.Caff{ID: 1, RawFile: outside})
	assert.FileExists(t, outside)
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{})
	require.Error(t, err)
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestImportArchiveIngestsEachEntry(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureKeep)
	archive := buildZip(t, map[string]string{
		"set/one.caff":        "first",
		"set/two.CAFF":        "fail",
		"readme.txt":          "ignored",
		"__MACOSX/._one.caff": "junk",
	})

	report, err := fx.orch.ImportArchive(context.Background(), "bundle.zip", bytes.NewReader(archive), uploader)
	require.NoError(t, err)

	require.Len(t, report.Entries, 2)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Skipped)

	assert.Equal(t, "set/one.caff", report.Entries[0].Name)
	assert.NotZero(t, report.Entries[0].CollectionID)
	assert.Equal(t, StageComplete.String(), report.Entries[0].Stage)
	assert.Equal(t, failure.ParseFailure.String(), report.Entries[1].Kind)

	assert.Equal(t, int64(1), fx.count(t, &caff.Caff{}))
	assert.Empty(t, fx.stagingEntries(t))
}

func TestImportArchiveSkipsDuplicateMembers(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, member := range [][2]string{{"set/a.caff", "first"}, {"set/a.caff", "second"}, {"set/b.caff", "third"}} {
		f, err := w.Create(member[0])
		require.NoError(t, err)
		_, err = f.Write([]byte(member[1]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	fx := newFixture(t, config.PreviewFailureKeep)
	report, err := fx.orch.ImportArchive(context.Background(), "dup.zip", bytes.NewReader(buf.Bytes()), uploader)
	require.NoError(t, err)

	require.Len(t, report.Entries, 2)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, int64(2), fx.count(t, &caff.Caff{}))

	row, err := fx.store.Get(context.Background(), report.Entries[0].CollectionID)
	require.NoError(t, err)
	assert.Equal(t, "first", row.Creator, "the first member with a name wins")
}

func TestImportArchiveRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureKeep)
	_, err := fx.orch.ImportArchive(context.Background(), "bundle.7z", strings.NewReader("7z not really"), uploader)
	assert.True(t, failure.Is(err, failure.UnsupportedExtension))
	assert.Empty(t, fx.stagingEntries(t))
}

func TestImportArchiveWithoutCaffEntries(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, config.PreviewFailureKeep)
	archive := buildZip(t, map[string]string{"notes.txt": "hi"})
	_, err := fx.orch.ImportArchive(context.Background(), "bundle.zip", bytes.NewReader(archive), uploader)
	assert.True(t, failure.Is(err, failure.InvalidInput))
}

func TestSanitizeArchiveEntry(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"a/b.caff":          "a/b.caff",
		`dir\\x.caff`:       "dir/x.caff",
		"./x.caff":          "x.caff",
		"/abs/x.caff":       "abs/x.caff",
		"__MACOSX/._x.caff": "",
		"  ":                "",
		"a/../b.caff":       "b.caff",
	}

	for in, want := range cases {
		got, err := sanitizeArchiveEntry(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := sanitizeArchiveEntry("../etc/passwd")
	assert.True(t, failure.Is(err, failure.InvalidInput))
}

func TestDetectArchiveFormatByMagic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rar := filepath.Join(dir, "upload")
	require.NoError(t, os.WriteFile(rar, []byte{0x52, 0x61, 0x72, 0x21, 0x1a, 0x07, 0x01, 0x00}, 0o600))
	f, err := os.Open(rar)
	require.NoError(t, err)
	defer f.Close()

	format, err := detectArchiveFormat(f, "upload")
	require.NoError(t, err)
	assert.Equal(t, archiveFormatRar, format)
}

func TestStageString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "metadata_extracted", StageMetadataExtracted.String())
	assert.True(t, StageFailed.Terminal())
	assert.False(t, StagePersisted.Terminal())
}
