package preview

import (
	"bytes"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tgaHeaderBytes(imageType, depth, descriptor byte, w, h int) []byte {
	hdr := make([]byte, tgaHeaderSize)
	hdr[2] = imageType
	hdr[12], hdr[13] = byte(w), byte(w>>8)
	hdr[14], hdr[15] = byte(h), byte(h>>8)
	hdr[16] = depth
	hdr[17] = descriptor
	return hdr
}

func TestDecodeTGAUncompressedBottomUp(t *testing.T) {
	t.Parallel()

	data := tgaHeaderBytes(tgaTrueColor, 24, 0, 2, 2)
	// Rows are stored bottom row first, pixels as BGR.
	data = append(data,
		0, 0, 255, 0, 255, 0, // bottom: red, green
		255, 0, 0, 255, 255, 255, // top: blue, white
	)

	img, err := decodeTGA(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, color.NRGBAModel.Convert(color.NRGBA{B: 255, A: 255}), color.NRGBAModel.Convert(img.At(0, 0)))
	assert.Equal(t, color.NRGBAModel.Convert(color.NRGBA{R: 255, G: 255, B: 255, A: 255}), color.NRGBAModel.Convert(img.At(1, 0)))
	assert.Equal(t, color.NRGBAModel.Convert(color.NRGBA{R: 255, A: 255}), color.NRGBAModel.Convert(img.At(0, 1)))
	assert.Equal(t, color.NRGBAModel.Convert(color.NRGBA{G: 255, A: 255}), color.NRGBAModel.Convert(img.At(1, 1)))
}

func TestDecodeTGARLETopDownWithAlpha(t *testing.T) {
	t.Parallel()

	data := tgaHeaderBytes(tgaRLETrueColor, 32, tgaTopToBottom|8, 3, 1)
	data = append(data,
		0x81, 10, 20, 30, 128, // run of 2
		0x00, 1, 2, 3, 255, // raw packet of 1
	)

	img, err := decodeTGA(bytes.NewReader(data))
	require.NoError(t, err)
	want := color.NRGBA{R: 30, G: 20, B: 10, A: 128}
	assert.Equal(t, want, img.At(0, 0))
	assert.Equal(t, want, img.At(1, 0))
	assert.Equal(t, color.NRGBA{R: 3, G: 2, B: 1, A: 255}, img.At(2, 0))
}

func TestDecodeTGAGrayscaleSkipsIDField(t *testing.T) {
	t.Parallel()

	data := tgaHeaderBytes(tgaGrayscale, 8, tgaTopToBottom, 2, 1)
	data[0] = 3
	data = append(data, 'a', 'b', 'c', 7, 200)

	img, err := decodeTGA(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, color.Gray{Y: 7}, img.At(0, 0))
	assert.Equal(t, color.Gray{Y: 200}, img.At(1, 0))
}

func TestDecodeTGARejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := map[string][]byte{
		"short header":   {0, 0, 2},
		"color mapped":   tgaHeaderBytes(1, 8, 0, 1, 1),
		"zero width":     tgaHeaderBytes(tgaTrueColor, 24, 0, 0, 1),
		"odd depth":      tgaHeaderBytes(tgaTrueColor, 12, 0, 1, 1),
		"truncated body": append(tgaHeaderBytes(tgaTrueColor, 24, 0, 2, 1), 1, 2, 3),
		"run overflow":   append(tgaHeaderBytes(tgaRLEGrayscale, 8, 0, 1, 1), 0x85, 9),
	}
	for name, data := range cases {
		_, err := decodeTGA(bytes.NewReader(data))
		assert.Error(t, err, name)
	}
}
