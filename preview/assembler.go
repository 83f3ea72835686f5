// Package preview turns decoder frame output into a looping GIF.
package preview

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"caff_back/failure"
	"caff_back/logging"
)

// DefaultFrameDelay is the display time of each frame.
const DefaultFrameDelay = 40 * time.Millisecond

// Extension of published previews.
const Extension = ".gif"

// Mirror receives published previews, e.g. an object storage bucket.
type Mirror interface {
	Upload(ctx context.Context, collectionID uint64, path string) error
	Remove(ctx context.Context, collectionID uint64) error
}

// Options tunes the encoding.
type Options struct {
	FrameDelay   time.Duration
	FramePrefix  string
	MaxDimension int
}

// Assembler builds and publishes previews.
type Assembler struct {
	publishDir string
	opts       Options
	mirror     Mirror
	logger     logrus.FieldLogger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithMirror uploads every published preview to m. Mirror failures are logged.
func WithMirror(m Mirror) AssemblerOption {
	return func(a *Assembler) {
		a.mirror = m
	}
}

// NewAssembler ensures publishDir exists.
func NewAssembler(publishDir string, opts Options, logger logrus.FieldLogger, extra ...AssemblerOption) (*Assembler, error) {
	if publishDir == "" {
		return nil, errors.New("preview: publish directory is required")
	}
	if err := os.MkdirAll(publishDir, 0o755); err != nil {
		return nil, fmt.Errorf("preview: create publish directory: %w", err)
	}
	if opts.FrameDelay <= 0 {
		opts.FrameDelay = DefaultFrameDelay
	}
	if opts.FramePrefix == "" {
		opts.FramePrefix = DefaultFramePrefix
	}
	a := &Assembler{
		publishDir: publishDir,
		opts:       opts,
		logger:     logging.Component(logger, "preview"),
	}
	for _, opt := range extra {
		opt(a)
	}
	return a, nil
}

// PathFor returns the publish location of a collection's preview.
func (a *Assembler) PathFor(collectionID uint64) string {
	return filepath.Join(a.publishDir, strconv.FormatUint(collectionID, 10)+Extension)
}

// Assemble encodes the frames in outputDir and publishes them as
// <collectionID>.gif. Any failure is a PreviewAssemblyFailure.
func (a *Assembler) Assemble(ctx context.Context, outputDir string, collectionID uint64) (string, error) {
	frames, err := ScanFrames(outputDir, a.opts.FramePrefix)
	if err != nil {
		return "", a.fail(collectionID, err)
	}
	if len(frames) == 0 {
		return "", a.fail(collectionID, errors.New("no frames found"))
	}

	anim := &gif.GIF{LoopCount: 0}
	delay := centiseconds(a.opts.FrameDelay)
	var width, height int
	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return "", a.fail(collectionID, err)
		}
		img, err := decodeFrame(frame)
		if err != nil {
			return "", a.fail(collectionID, fmt.Errorf("decode %s: %w", filepath.Base(frame.Path), err))
		}
		paletted := quantize(a.fit(img))
		b := paletted.Bounds()
		width = max(width, b.Dx())
		height = max(height, b.Dy())
		anim.Image = append(anim.Image, paletted)
		anim.Delay = append(anim.Delay, delay)
	}
	anim.Config = image.Config{ColorModel: color.Palette(palette.Plan9), Width: width, Height: height}

	target := a.PathFor(collectionID)
	if err := publish(a.publishDir, target, anim); err != nil {
		return "", a.fail(collectionID, err)
	}

	a.logger.WithFields(logrus.Fields{"caff_id": collectionID, "frames": len(frames), "path": target}).Info("preview published")

	if a.mirror != nil {
		if err := a.mirror.Upload(ctx, collectionID, target); err != nil {
			a.logger.WithError(err).WithField("caff_id", collectionID).Warn("preview mirror upload failed")
		}
	}
	return target, nil
}

// Remove deletes a published preview and its mirror copy. A missing file is
// not an error.
func (a *Assembler) Remove(ctx context.Context, collectionID uint64) error {
	if err := os.Remove(a.PathFor(collectionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("preview: remove %d: %w", collectionID, err)
	}
	if a.mirror != nil {
		if err := a.mirror.Remove(ctx, collectionID); err != nil {
			a.logger.WithError(err).WithField("caff_id", collectionID).Warn("preview mirror removal failed")
		}
	}
	return nil
}

func (a *Assembler) fail(collectionID uint64, err error) error {
	a.logger.WithError(err).WithField("caff_id", collectionID).Warn("preview assembly failed")
	return failure.WithID(failure.PreviewAssemblyFailure, collectionID, err)
}

func (a *Assembler) fit(img image.Image) image.Image {
	limit := a.opts.MaxDimension
	b := img.Bounds()
	if limit <= 0 || (b.Dx() <= limit && b.Dy() <= limit) {
		return img
	}
	w, h := b.Dx(), b.Dy()
	if w >= h {
		h = max(1, h*limit/w)
		w = limit
	} else {
		w = max(1, w*limit/h)
		h = limit
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func quantize(img image.Image) *image.Paletted {
	b := img.Bounds()
	dst := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), palette.Plan9)
	draw.FloydSteinberg.Draw(dst, dst.Bounds(), img, b.Min)
	return dst
}

func centiseconds(d time.Duration) int {
	return max(1, int(d/(10*time.Millisecond)))
}

// publish writes anim to a temporary file next to target and renames it into
// place, so readers see either the old file or the complete new one.
func publish(dir, target string, anim *gif.GIF) (err error) {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = gif.EncodeAll(tmp, anim); err != nil {
		return fmt.Errorf("encode gif: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
