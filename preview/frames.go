package preview

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/bmp"
)

// DefaultFramePrefix is the file name prefix the parser uses for frames.
const DefaultFramePrefix = "preview"

// Frame is one frame file found in a decoder output directory.
type Frame struct {
	Index uint64
	Path  string
	ext   string
}

func framePattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(prefix) + `(\d+)\.(tga|png|bmp)$`)
}

// ScanFrames lists frame files in dir ordered by their numeric index.
func ScanFrames(dir, prefix string) ([]Frame, error) {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultFramePrefix
	}
	pattern := framePattern(prefix)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read output directory: %w", err)
	}

	frames := make([]Frame, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		m := pattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		index, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		frames = append(frames, Frame{
			Index: index,
			Path:  filepath.Join(dir, entry.Name()),
			ext:   strings.ToLower(m[2]),
		})
	}

	sort.SliceStable(frames, func(i, j int) bool {
		if frames[i].Index != frames[j].Index {
			return frames[i].Index < frames[j].Index
		}
		return frames[i].Path < frames[j].Path
	})
	return frames, nil
}

func decodeFrame(f Frame) (image.Image, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	switch f.ext {
	case "tga":
		return decodeTGA(file)
	case "png":
		return png.Decode(file)
	case "bmp":
		return bmp.Decode(file)
	}
	return nil, fmt.Errorf("unsupported frame format %q", f.ext)
}
