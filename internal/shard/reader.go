package shard

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"

	"newsclip-backend/pkg/models"
)

// Read parses a shard archive back into samples. Members are expected in the
// order the Writer emits them: <key>.jpg, <key>.txt, <key>.json.
func Read(r io.Reader, compressed bool) ([]Sample, error) {
	if compressed {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var samples []Sample
	current := Sample{}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar member: %w", err)
		}

		key, ext, ok := strings.Cut(hdr.Name, ".")
		if !ok {
			return nil, fmt.Errorf("unexpected tar member %s", hdr.Name)
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read tar member %s: %w", hdr.Name, err)
		}

		if current.Key != "" && current.Key != key {
			samples = append(samples, current)
			current = Sample{}
		}
		current.Key = key

		switch ext {
		case "jpg":
			current.Image = data
		case "txt":
			current.Caption = string(data)
		case "json":
			var meta models.Metadata
			if err := json.Unmarshal(data, &meta); err != nil {
				return nil, fmt.Errorf("failed to parse metadata for %s: %w", key, err)
			}
			current.Meta = meta
		default:
			return nil, fmt.Errorf("unexpected tar member %s", hdr.Name)
		}
	}

	if current.Key != "" {
		samples = append(samples, current)
	}

	return samples, nil
}
