package core

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"regexp"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"newsclip-backend/internal/shard"
	"newsclip-backend/internal/storage"
	"newsclip-backend/pkg/models"
)

const (
	DefaultImageSize   = 224
	DefaultJpegQuality = 90
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// CleanCaption lowercases the caption, trims surrounding whitespace and
// collapses interior runs of whitespace into single spaces.
func CleanCaption(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	return whitespaceRe.ReplaceAllString(text, " ")
}

// PreprocessImage decodes an image in any registered format, flattens it to
// RGB, resizes it to size x size and re-encodes it as JPEG at the given
// quality. The resize does not preserve aspect ratio.
func PreprocessImage(r io.Reader, size, quality int) ([]byte, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}

	return buf.Bytes(), nil
}

// PreprocessSample fetches a sample's image through the connector and turns
// the pair into a batch record.
func PreprocessSample(ctx context.Context, conn storage.Connector, sample models.Sample, size, quality int) (shard.Record, error) {
	body, err := conn.GetObject(ctx, sample.ImagePath)
	if err != nil {
		return shard.Record{}, fmt.Errorf("failed to fetch image for sample %s: %w", sample.Key(), err)
	}
	defer body.Close()

	img, err := PreprocessImage(body, size, quality)
	if err != nil {
		return shard.Record{}, fmt.Errorf("failed to preprocess image for sample %s: %w", sample.Key(), err)
	}

	return shard.Record{
		Key:             sample.Key(),
		Image:           img,
		Caption:         CleanCaption(sample.Caption),
		Id:              sample.Id,
		ImageId:         sample.ImageId,
		Source:          sample.Source,
		Topic:           sample.Topic,
		Split:           sample.Split,
		Falsified:       sample.Falsified,
		SimilarityScore: sample.SimilarityScore,
	}, nil
}
