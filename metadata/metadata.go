// Package metadata reads the parser's metadata.json into typed values.
package metadata

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antonholmquist/jason"

	"caff_back/failure"
)

// FileName is the document the parser writes into its output directory.
const FileName = "metadata.json"

// TagDelimiter separates tags in storage and may not appear inside a tag.
const TagDelimiter = ";"

const maxDocumentSize = 8 << 20

// Credits is the authoring block of a CAFF file.
type Credits struct {
	Year    int64
	Month   int64
	Day     int64
	Hour    int64
	Creator string
}

// Animation describes one CIFF entry in display order.
type Animation struct {
	Duration int64
	Width    int64
	Height   int64
	Caption  string
	Tags     []string
}

// Metadata is the validated parser output. Raw keeps the document verbatim.
type Metadata struct {
	Credits    Credits
	Animations []Animation
	Raw        []byte
}

// Extract reads and validates outputDir/metadata.json. Every defect,
// including a missing file, is reported as MetadataMalformed.
func Extract(outputDir string) (*Metadata, error) {
	path := filepath.Join(outputDir, FileName)
	info, err := os.Stat(path)
	if err != nil {
		return nil, malformed("read %s: %w", FileName, err)
	}
	if info.Size() > maxDocumentSize {
		return nil, malformed("%s is %d bytes, limit is %d", FileName, info.Size(), maxDocumentSize)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, malformed("read %s: %w", FileName, err)
	}
	return Parse(raw)
}

// Parse validates a metadata document already in memory.
func Parse(raw []byte) (*Metadata, error) {
	doc, err := jason.NewObjectFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, malformed("decode document: %w", err)
	}

	credits, err := parseCredits(doc)
	if err != nil {
		return nil, err
	}

	entries, err := doc.GetObjectArray("animation")
	if err != nil {
		return nil, malformed("animation: %w", err)
	}
	animations := make([]Animation, 0, len(entries))
	for i, entry := range entries {
		anim, err := parseAnimation(entry)
		if err != nil {
			return nil, malformed("animation[%d]: %w", i, err)
		}
		animations = append(animations, anim)
	}

	return &Metadata{
		Credits:    credits,
		Animations: animations,
		Raw:        append([]byte(nil), raw...),
	}, nil
}

func parseCredits(doc *jason.Object) (Credits, error) {
	block, err := doc.GetObject("credits")
	if err != nil {
		return Credits{}, malformed("credits: %w", err)
	}

	var c Credits
	ints := []struct {
		key string
		dst *int64
	}{
		{"year", &c.Year},
		{"month", &c.Month},
		{"day", &c.Day},
		{"hour", &c.Hour},
	}
	for _, field := range ints {
		v, err := block.GetInt64(field.key)
		if err != nil {
			return Credits{}, malformed("credits.%s: %w", field.key, err)
		}
		*field.dst = v
	}

	c.Creator, err = block.GetString("creator")
	if err != nil {
		return Credits{}, malformed("credits.creator: %w", err)
	}
	return c, nil
}

func parseAnimation(entry *jason.Object) (Animation, error) {
	var a Animation
	var err error

	if a.Duration, err = entry.GetInt64("duration"); err != nil {
		return Animation{}, fmt.Errorf("duration: %w", err)
	}
	if a.Width, err = entry.GetInt64("width"); err != nil {
		return Animation{}, fmt.Errorf("width: %w", err)
	}
	if a.Height, err = entry.GetInt64("height"); err != nil {
		return Animation{}, fmt.Errorf("height: %w", err)
	}
	if a.Caption, err = entry.GetString("caption"); err != nil {
		return Animation{}, fmt.Errorf("caption: %w", err)
	}
	if a.Tags, err = entry.GetStringArray("tags"); err != nil {
		return Animation{}, fmt.Errorf("tags: %w", err)
	}
	for j, tag := range a.Tags {
		if strings.Contains(tag, TagDelimiter) {
			return Animation{}, fmt.Errorf("tags[%d] %q contains %q", j, tag, TagDelimiter)
		}
	}
	if a.Tags == nil {
		a.Tags = []string{}
	}
	return a, nil
}

func malformed(format string, args ...any) error {
	return failure.Newf(failure.MetadataMalformed, format, args...)
}
