package shard

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsclip-backend/internal/storage"
	"newsclip-backend/pkg/models"
)

func testStore(t *testing.T) *storage.LocalObjectStore {
	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateBucket(context.Background(), "test"))
	return store
}

func testSample(i int) Sample {
	return Sample{
		Key:     fmt.Sprintf("source_%d", i),
		Image:   []byte(fmt.Sprintf("image-bytes-%d", i)),
		Caption: fmt.Sprintf("caption %d", i),
		Meta: models.Metadata{
			Id:              int64(i),
			ImageId:         int64(i),
			Source:          "source",
			Topic:           "topic",
			Split:           "train",
			Falsified:       i%2 == 1,
			SimilarityScore: float64(i) / 10,
		},
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "shard-000000.tar", Name(0, false))
	assert.Equal(t, "shard-000042.tar.gz", Name(42, true))
}

func TestWriterRotation(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	var finished []Info
	writer := NewWriter(store, WriterConfig{
		Bucket:          "test",
		Prefix:          "out",
		SamplesPerShard: 2,
		OnShard: func(info Info) error {
			finished = append(finished, info)
			return nil
		},
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, writer.Add(ctx, testSample(i)))
	}
	require.NoError(t, writer.Close(ctx))

	assert.Equal(t, 5, writer.TotalSamples())

	// Two full shards plus a final partial one.
	require.Len(t, finished, 3)
	assert.Equal(t, "shard-000000.tar", finished[0].Name)
	assert.Equal(t, 2, finished[0].SampleCount)
	assert.Equal(t, "shard-000002.tar", finished[2].Name)
	assert.Equal(t, 1, finished[2].SampleCount)

	for _, info := range finished {
		assert.Greater(t, info.SizeBytes, int64(0))
	}

	body, err := store.GetObject(ctx, "test", "out/shard-000001.tar")
	require.NoError(t, err)
	defer body.Close()

	samples, err := Read(body, false)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	assert.Equal(t, "source_2", samples[0].Key)
	assert.Equal(t, []byte("image-bytes-2"), samples[0].Image)
	assert.Equal(t, "caption 2", samples[0].Caption)
	assert.Equal(t, int64(2), samples[0].Meta.Id)
	assert.False(t, samples[0].Meta.Falsified)

	assert.Equal(t, "source_3", samples[1].Key)
	assert.True(t, samples[1].Meta.Falsified)
	assert.InDelta(t, 0.3, samples[1].Meta.SimilarityScore, 1e-9)
}

func TestWriterCompression(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	writer := NewWriter(store, WriterConfig{
		Bucket:          "test",
		SamplesPerShard: 10,
		Compress:        true,
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, writer.Add(ctx, testSample(i)))
	}
	require.NoError(t, writer.Close(ctx))

	body, err := store.GetObject(ctx, "test", "shard-000000.tar.gz")
	require.NoError(t, err)
	defer body.Close()

	samples, err := Read(body, true)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, "source_0", samples[0].Key)
}

func TestWriterIndex(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	writer := NewWriter(store, WriterConfig{
		Bucket:          "test",
		Prefix:          "out",
		SamplesPerShard: 2,
		IndexFlushCount: 4,
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, writer.Add(ctx, testSample(i)))
	}
	require.NoError(t, writer.Close(ctx))

	// The first four records flush at the threshold, the leftover one at
	// Close.
	index, err := ReadIndex(ctx, store, "test", "out/index-000000004.parquet")
	require.NoError(t, err)
	require.Len(t, index, 4)

	assert.Equal(t, "source_0", index[0].Key)
	assert.Equal(t, "shard-000000.tar", index[0].Shard)
	assert.Equal(t, "shard-000001.tar", index[2].Shard)
	assert.Equal(t, "caption 1", index[1].Caption)
	assert.Equal(t, "train", index[1].Split)

	final, err := ReadIndex(ctx, store, "test", "out/index-final.parquet")
	require.NoError(t, err)
	require.Len(t, final, 1)
	assert.Equal(t, "source_4", final[0].Key)
	assert.Equal(t, "shard-000002.tar", final[0].Shard)
}

func TestWriterEmpty(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	writer := NewWriter(store, WriterConfig{Bucket: "test"})
	require.NoError(t, writer.Close(ctx))

	objects, err := store.ListObjects(ctx, "test", "")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestBatchRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	records := []Record{
		{
			Key:             "source_1",
			Image:           []byte("jpeg-bytes"),
			Caption:         "a caption",
			Id:              1,
			ImageId:         2,
			Source:          "source",
			Topic:           "topic",
			Split:           "train",
			Falsified:       true,
			SimilarityScore: 0.5,
		},
		{Key: "source_2", Image: []byte("more-bytes"), Caption: "another", Id: 2, ImageId: 2, Source: "source"},
	}

	size, err := WriteBatch(ctx, store, "test", BatchName(3), records)
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))

	assert.Equal(t, "preprocessed-shard-00003.parquet", BatchName(3))

	out, err := ReadBatch(ctx, store, "test", BatchName(3))
	require.NoError(t, err)
	require.Equal(t, records, out)

	sample := out[0].Sample()
	assert.Equal(t, "source_1", sample.Key)
	assert.Equal(t, []byte("jpeg-bytes"), sample.Image)
	assert.Equal(t, "a caption", sample.Caption)
	assert.Equal(t, models.Metadata{
		Id: 1, ImageId: 2, Source: "source", Topic: "topic", Split: "train",
		Falsified: true, SimilarityScore: 0.5,
	}, sample.Meta)
}

func TestReadRejectsGarbage(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("not a tar file")), false)
	assert.Error(t, err)

	_, err = Read(bytes.NewReader([]byte("not gzip")), true)
	assert.Error(t, err)
}
