package preview

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
)

const (
	tgaHeaderSize = 18

	tgaTrueColor    = 2
	tgaGrayscale    = 3
	tgaRLETrueColor = 10
	tgaRLEGrayscale = 11

	tgaTopToBottom = 1 << 5
	tgaRightToLeft = 1 << 4

	maxTGADimension = 1 << 14
)

var errUnsupportedTGA = errors.New("tga: unsupported image type")

type tgaHeader struct {
	idLength     uint8
	colorMapType uint8
	imageType    uint8
	cmapLength   uint16
	cmapEntry    uint8
	width        int
	height       int
	depth        uint8
	descriptor   uint8
}

func readTGAHeader(r io.Reader) (tgaHeader, error) {
	var raw [tgaHeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return tgaHeader{}, fmt.Errorf("tga: read header: %w", err)
	}
	return tgaHeader{
		idLength:     raw[0],
		colorMapType: raw[1],
		imageType:    raw[2],
		cmapLength:   binary.LittleEndian.Uint16(raw[5:7]),
		cmapEntry:    raw[7],
		width:        int(binary.LittleEndian.Uint16(raw[12:14])),
		height:       int(binary.LittleEndian.Uint16(raw[14:16])),
		depth:        raw[16],
		descriptor:   raw[17],
	}, nil
}

// decodeTGA reads uncompressed and run-length encoded true-color and
// grayscale Targa images.
func decodeTGA(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	h, err := readTGAHeader(br)
	if err != nil {
		return nil, err
	}

	gray := false
	rle := false
	switch h.imageType {
	case tgaTrueColor:
	case tgaGrayscale:
		gray = true
	case tgaRLETrueColor:
		rle = true
	case tgaRLEGrayscale:
		gray, rle = true, true
	default:
		return nil, fmt.Errorf("%w %d", errUnsupportedTGA, h.imageType)
	}

	if h.width == 0 || h.height == 0 || h.width > maxTGADimension || h.height > maxTGADimension {
		return nil, fmt.Errorf("tga: invalid dimensions %dx%d", h.width, h.height)
	}
	switch {
	case gray && h.depth != 8:
		return nil, fmt.Errorf("tga: unsupported grayscale depth %d", h.depth)
	case !gray && h.depth != 16 && h.depth != 24 && h.depth != 32:
		return nil, fmt.Errorf("tga: unsupported true-color depth %d", h.depth)
	}

	skip := int64(h.idLength)
	if h.colorMapType == 1 {
		skip += int64(h.cmapLength) * int64((h.cmapEntry+7)/8)
	}
	if _, err := io.CopyN(io.Discard, br, skip); err != nil {
		return nil, fmt.Errorf("tga: skip header fields: %w", err)
	}

	bpp := int(h.depth) / 8
	pixels := make([]byte, h.width*h.height*bpp)
	if rle {
		err = readRLE(br, pixels, bpp)
	} else {
		_, err = io.ReadFull(br, pixels)
	}
	if err != nil {
		return nil, fmt.Errorf("tga: read pixels: %w", err)
	}

	alphaBits := h.descriptor & 0x0f
	rect := image.Rect(0, 0, h.width, h.height)
	var out interface {
		image.Image
		Set(x, y int, c color.Color)
	}
	if gray {
		out = image.NewGray(rect)
	} else {
		out = image.NewNRGBA(rect)
	}

	for row := 0; row < h.height; row++ {
		y := h.height - 1 - row
		if h.descriptor&tgaTopToBottom != 0 {
			y = row
		}
		for col := 0; col < h.width; col++ {
			x := col
			if h.descriptor&tgaRightToLeft != 0 {
				x = h.width - 1 - col
			}
			p := pixels[(row*h.width+col)*bpp:]
			out.Set(x, y, tgaColor(p[:bpp], alphaBits))
		}
	}
	return out, nil
}

func readRLE(r *bufio.Reader, dst []byte, bpp int) error {
	for off := 0; off < len(dst); {
		header, err := r.ReadByte()
		if err != nil {
			return err
		}
		count := int(header&0x7f) + 1
		if off+count*bpp > len(dst) {
			return errors.New("run exceeds image bounds")
		}
		if header&0x80 != 0 {
			if _, err := io.ReadFull(r, dst[off:off+bpp]); err != nil {
				return err
			}
			for i := 1; i < count; i++ {
				copy(dst[off+i*bpp:off+(i+1)*bpp], dst[off:off+bpp])
			}
		} else if _, err := io.ReadFull(r, dst[off:off+count*bpp]); err != nil {
			return err
		}
		off += count * bpp
	}
	return nil
}

func tgaColor(p []byte, alphaBits uint8) color.Color {
	switch len(p) {
	case 1:
		return color.Gray{Y: p[0]}
	case 2:
		v := binary.LittleEndian.Uint16(p)
		c := color.NRGBA{
			R: expand5(uint8(v >> 10 & 0x1f)),
			G: expand5(uint8(v >> 5 & 0x1f)),
			B: expand5(uint8(v & 0x1f)),
			A: 0xff,
		}
		if alphaBits > 0 && v&0x8000 == 0 {
			c.A = 0
		}
		return c
	case 3:
		return color.NRGBA{R: p[2], G: p[1], B: p[0], A: 0xff}
	default:
		a := p[3]
		if alphaBits == 0 {
			a = 0xff
		}
		return color.NRGBA{R: p[2], G: p[1], B: p[0], A: a}
	}
}

func expand5(v uint8) uint8 {
	return v<<3 | v>>2
}
