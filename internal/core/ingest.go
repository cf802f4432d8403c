package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"newsclip-backend/internal/storage"
	"newsclip-backend/pkg/api"
	"newsclip-backend/pkg/models"
)

const (
	// DataKey is the location of the article database inside a dataset.
	DataKey = "data.json"

	DefaultPreprocessBatchSize = 2000
)

// SplitKey returns the location of the annotation file for a split.
func SplitKey(split string) string {
	return fmt.Sprintf("annotations/%s.json", split)
}

// dataEntry is one record of data.json: an article with its caption and the
// image it was originally published with.
type dataEntry struct {
	Id        int64  `json:"id"`
	Source    string `json:"source"`
	Topic     string `json:"topic"`
	Caption   string `json:"caption"`
	ImagePath string `json:"image_path"`
}

// annotation pairs a caption entry with an image entry. For pristine samples
// the two ids coincide; falsified samples borrow the image from another
// article with a similar caption.
type annotation struct {
	Id              int64   `json:"id"`
	ImageId         int64   `json:"image_id"`
	Falsified       bool    `json:"falsified"`
	SimilarityScore float64 `json:"similarity_score"`
}

type splitFile struct {
	Annotations []annotation `json:"annotations"`
}

// LoadDataIndex streams data.json and builds an id -> entry lookup. The file
// is a single large array, so entries are decoded one at a time rather than
// loading the whole document.
func LoadDataIndex(ctx context.Context, conn storage.Connector, key string) (map[int64]dataEntry, error) {
	body, err := conn.GetObject(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("error loading data index %s: %w", key, err)
	}
	defer body.Close()

	dec := json.NewDecoder(body)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("error parsing data index %s: %w", key, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("data index %s is not a json array", key)
	}

	index := make(map[int64]dataEntry)
	for dec.More() {
		var entry dataEntry
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("error parsing data index %s: %w", key, err)
		}
		index[entry.Id] = entry
	}

	return index, nil
}

func LoadAnnotations(ctx context.Context, conn storage.Connector, key string) ([]annotation, error) {
	body, err := conn.GetObject(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("error loading annotations %s: %w", key, err)
	}
	defer body.Close()

	var split splitFile
	if err := json.NewDecoder(body).Decode(&split); err != nil {
		return nil, fmt.Errorf("error parsing annotations %s: %w", key, err)
	}

	return split.Annotations, nil
}

// NormalizeSamples joins the annotations against the data index. Annotations
// whose caption or image entry is missing are skipped with a warning.
// Returns the selected samples along with their similarity scores.
func NormalizeSamples(index map[int64]dataEntry, annotations []annotation, split string, filter Filter) ([]models.Sample, []float64) {
	samples := make([]models.Sample, 0, len(annotations))
	scores := make([]float64, 0, len(annotations))

	for _, ann := range annotations {
		captionEntry, haveCaption := index[ann.Id]
		imageEntry, haveImage := index[ann.ImageId]
		if !haveCaption || !haveImage {
			slog.Warn("missing entries for annotation, skipping", "caption_id", ann.Id, "image_id", ann.ImageId)
			continue
		}

		sample := models.Sample{
			Id:              ann.Id,
			ImageId:         ann.ImageId,
			Source:          captionEntry.Source,
			Topic:           captionEntry.Topic,
			Split:           split,
			Caption:         captionEntry.Caption,
			ImagePath:       imageEntry.ImagePath,
			Falsified:       ann.Falsified,
			SimilarityScore: ann.SimilarityScore,
		}

		if filter != nil && !filter.Matches(&sample) {
			continue
		}

		samples = append(samples, sample)
		scores = append(scores, ann.SimilarityScore)
	}

	return samples, scores
}

// ComputeScoreStats summarizes the similarity score distribution. The
// histogram buckets scores by decile, with 1.0 clamped into the top bucket.
func ComputeScoreStats(scores []float64) api.ScoreStats {
	hist := make([]int, 10)
	if len(scores) == 0 {
		return api.ScoreStats{Histogram: hist}
	}

	for _, score := range scores {
		bucket := int(math.Floor(score / 0.10))
		if bucket < 0 {
			bucket = 0
		}
		if bucket > 9 {
			bucket = 9
		}
		hist[bucket]++
	}

	stddev := 0.0
	if len(scores) > 1 {
		stddev = stat.StdDev(scores, nil)
	}

	return api.ScoreStats{
		Count:     len(scores),
		Mean:      stat.Mean(scores, nil),
		StdDev:    stddev,
		Min:       floats.Min(scores),
		Max:       floats.Max(scores),
		Histogram: hist,
	}
}

// ChunkSamples splits samples into batches of at most batchSize, preserving
// order so downstream shards are deterministic.
func ChunkSamples(samples []models.Sample, batchSize int) [][]models.Sample {
	if batchSize <= 0 {
		batchSize = DefaultPreprocessBatchSize
	}

	var batches [][]models.Sample
	for start := 0; start < len(samples); start += batchSize {
		end := min(start+batchSize, len(samples))
		batches = append(batches, samples[start:end])
	}
	return batches
}
