package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsclip-backend/internal/storage"
	"newsclip-backend/pkg/models"
)

func writeDataset(t *testing.T, files map[string]string) storage.Connector {
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), os.ModePerm))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	conn, err := storage.NewLocalConnector(storage.LocalConnectorParams{BaseDir: dir})
	require.NoError(t, err)
	return conn
}

const testData = `[
	{"id": 1, "source": "washington_post", "topic": "politics", "caption": "The president spoke.", "image_path": "images/1.jpg"},
	{"id": 2, "source": "bbc", "topic": "world", "caption": "Floods hit the coast.", "image_path": "images/2.jpg"},
	{"id": 3, "source": "guardian", "topic": "sports", "caption": "The final ended in a draw.", "image_path": "images/3.jpg"}
]`

const testAnnotations = `{"annotations": [
	{"id": 1, "image_id": 1, "falsified": false, "similarity_score": 1.0},
	{"id": 2, "image_id": 3, "falsified": true, "similarity_score": 0.62},
	{"id": 3, "image_id": 99, "falsified": true, "similarity_score": 0.4}
]}`

func TestLoadDataIndex(t *testing.T) {
	conn := writeDataset(t, map[string]string{"data.json": testData})

	index, err := LoadDataIndex(context.Background(), conn, DataKey)
	require.NoError(t, err)

	require.Len(t, index, 3)
	assert.Equal(t, "washington_post", index[1].Source)
	assert.Equal(t, "Floods hit the coast.", index[2].Caption)
	assert.Equal(t, "images/3.jpg", index[3].ImagePath)
}

func TestLoadDataIndexNotArray(t *testing.T) {
	conn := writeDataset(t, map[string]string{"data.json": `{"id": 1}`})

	_, err := LoadDataIndex(context.Background(), conn, DataKey)
	assert.Error(t, err)
}

func TestLoadAnnotations(t *testing.T) {
	conn := writeDataset(t, map[string]string{"annotations/train.json": testAnnotations})

	annotations, err := LoadAnnotations(context.Background(), conn, SplitKey("train"))
	require.NoError(t, err)

	require.Len(t, annotations, 3)
	assert.Equal(t, int64(3), annotations[1].ImageId)
	assert.True(t, annotations[1].Falsified)
	assert.InDelta(t, 0.62, annotations[1].SimilarityScore, 1e-9)
}

func TestNormalizeSamples(t *testing.T) {
	conn := writeDataset(t, map[string]string{
		"data.json":              testData,
		"annotations/train.json": testAnnotations,
	})

	index, err := LoadDataIndex(context.Background(), conn, DataKey)
	require.NoError(t, err)
	annotations, err := LoadAnnotations(context.Background(), conn, SplitKey("train"))
	require.NoError(t, err)

	samples, scores := NormalizeSamples(index, annotations, "train", nil)

	// The annotation referencing image 99 has no data entry and is dropped.
	require.Len(t, samples, 2)
	assert.Equal(t, scores, []float64{1.0, 0.62})

	assert.Equal(t, int64(1), samples[0].Id)
	assert.Equal(t, "washington_post", samples[0].Source)
	assert.Equal(t, "images/1.jpg", samples[0].ImagePath)
	assert.False(t, samples[0].Falsified)
	assert.Equal(t, "washington_post_1", samples[0].Key())

	// Falsified samples take the caption from one entry and the image from
	// another.
	assert.Equal(t, int64(2), samples[1].Id)
	assert.Equal(t, "bbc", samples[1].Source)
	assert.Equal(t, "Floods hit the coast.", samples[1].Caption)
	assert.Equal(t, "images/3.jpg", samples[1].ImagePath)
	assert.True(t, samples[1].Falsified)
	assert.Equal(t, "train", samples[1].Split)
}

func TestNormalizeSamplesWithFilter(t *testing.T) {
	conn := writeDataset(t, map[string]string{
		"data.json":              testData,
		"annotations/train.json": testAnnotations,
	})

	index, err := LoadDataIndex(context.Background(), conn, DataKey)
	require.NoError(t, err)
	annotations, err := LoadAnnotations(context.Background(), conn, SplitKey("train"))
	require.NoError(t, err)

	filter, err := ParseQuery(`falsified = true`)
	require.NoError(t, err)

	samples, scores := NormalizeSamples(index, annotations, "train", filter)

	require.Len(t, samples, 1)
	assert.Equal(t, int64(2), samples[0].Id)
	assert.Equal(t, []float64{0.62}, scores)
}

func TestComputeScoreStats(t *testing.T) {
	stats := ComputeScoreStats([]float64{0.05, 0.15, 0.15, 0.62, 1.0})

	assert.Equal(t, 5, stats.Count)
	assert.InDelta(t, 0.394, stats.Mean, 1e-9)
	assert.InDelta(t, 0.05, stats.Min, 1e-9)
	assert.InDelta(t, 1.0, stats.Max, 1e-9)
	assert.Greater(t, stats.StdDev, 0.0)

	// 1.0 clamps into the top decile bucket.
	assert.Equal(t, []int{1, 2, 0, 0, 0, 0, 1, 0, 0, 1}, stats.Histogram)
}

func TestComputeScoreStatsEmpty(t *testing.T) {
	stats := ComputeScoreStats(nil)
	assert.Equal(t, 0, stats.Count)
	assert.Equal(t, make([]int, 10), stats.Histogram)
}

func TestComputeScoreStatsSingle(t *testing.T) {
	stats := ComputeScoreStats([]float64{0.5})
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 0.0, stats.StdDev)
}

func TestChunkSamples(t *testing.T) {
	samples := make([]models.Sample, 7)
	for i := range samples {
		samples[i].Id = int64(i)
	}

	batches := ChunkSamples(samples, 3)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 3)
	assert.Len(t, batches[2], 1)
	assert.Equal(t, int64(6), batches[2][0].Id)

	assert.Nil(t, ChunkSamples(nil, 3))
}
