package core

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsclip-backend/internal/storage"
	"newsclip-backend/pkg/models"
)

func TestCleanCaption(t *testing.T) {
	cases := []struct {
		in, out string
	}{
		{"  The President  Spoke\tOn Tuesday.  ", "the president spoke on tuesday."},
		{"already clean", "already clean"},
		{"Line\nbreaks\r\ncollapse", "line breaks collapse"},
		{"", ""},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.out, CleanCaption(tc.in))
	}
}

func testImage(t *testing.T, width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPreprocessImage(t *testing.T) {
	data := testImage(t, 640, 480)

	out, err := PreprocessImage(bytes.NewReader(data), 224, 90)
	require.NoError(t, err)

	decoded, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 224, decoded.Bounds().Dx())
	assert.Equal(t, 224, decoded.Bounds().Dy())
}

func TestPreprocessImageUpscales(t *testing.T) {
	data := testImage(t, 32, 100)

	out, err := PreprocessImage(bytes.NewReader(data), 128, 90)
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 128, decoded.Bounds().Dx())
	assert.Equal(t, 128, decoded.Bounds().Dy())
}

func TestPreprocessImageInvalid(t *testing.T) {
	_, err := PreprocessImage(bytes.NewReader([]byte("not an image")), 224, 90)
	assert.Error(t, err)
}

func TestPreprocessSample(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images"), os.ModePerm))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "images", "1.jpg"), testImage(t, 300, 200), 0644))

	conn, err := storage.NewLocalConnector(storage.LocalConnectorParams{BaseDir: dir})
	require.NoError(t, err)

	sample := models.Sample{
		Id:              1,
		ImageId:         1,
		Source:          "bbc",
		Topic:           "world",
		Split:           "train",
		Caption:         "  Floods Hit   The Coast  ",
		ImagePath:       "images/1.jpg",
		SimilarityScore: 0.9,
	}

	record, err := PreprocessSample(context.Background(), conn, sample, 64, 80)
	require.NoError(t, err)

	assert.Equal(t, "bbc_1", record.Key)
	assert.Equal(t, "floods hit the coast", record.Caption)
	assert.Equal(t, "bbc", record.Source)
	assert.Equal(t, "train", record.Split)

	decoded, err := jpeg.Decode(bytes.NewReader(record.Image))
	require.NoError(t, err)
	assert.Equal(t, 64, decoded.Bounds().Dx())
}

func TestPreprocessSampleMissingImage(t *testing.T) {
	conn, err := storage.NewLocalConnector(storage.LocalConnectorParams{BaseDir: t.TempDir()})
	require.NoError(t, err)

	sample := models.Sample{Id: 1, Source: "bbc", ImagePath: "images/missing.jpg"}
	_, err = PreprocessSample(context.Background(), conn, sample, 64, 80)
	assert.Error(t, err)
}
