package shard

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"newsclip-backend/internal/storage"
	"newsclip-backend/pkg/models"
)

// Record is one preprocessed sample as stored in a batch parquet file.
// Batches are the intermediate output of the preprocess tasks; the packing
// step reads them back in task order to build the final shards.
type Record struct {
	Key             string  `parquet:"key"`
	Image           []byte  `parquet:"image"`
	Caption         string  `parquet:"caption"`
	Id              int64   `parquet:"id"`
	ImageId         int64   `parquet:"image_id"`
	Source          string  `parquet:"source"`
	Topic           string  `parquet:"topic"`
	Split           string  `parquet:"split"`
	Falsified       bool    `parquet:"falsified"`
	SimilarityScore float64 `parquet:"similarity_score"`
}

func (r *Record) Sample() Sample {
	return Sample{
		Key:     r.Key,
		Image:   r.Image,
		Caption: r.Caption,
		Meta: models.Metadata{
			Id:              r.Id,
			ImageId:         r.ImageId,
			Source:          r.Source,
			Topic:           r.Topic,
			Split:           r.Split,
			Falsified:       r.Falsified,
			SimilarityScore: r.SimilarityScore,
		},
	}
}

// BatchName returns the object name of the preprocessed batch produced by
// the given task.
func BatchName(taskId int) string {
	return fmt.Sprintf("preprocessed-shard-%05d.parquet", taskId)
}

func WriteBatch(ctx context.Context, store storage.ObjectStore, bucket, key string, records []Record) (int64, error) {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, records); err != nil {
		return 0, fmt.Errorf("failed to encode batch %s: %w", key, err)
	}

	size := int64(buf.Len())
	if err := store.PutObject(ctx, bucket, key, &buf); err != nil {
		return 0, fmt.Errorf("failed to upload batch %s: %w", key, err)
	}

	return size, nil
}

func ReadBatch(ctx context.Context, store storage.ObjectStore, bucket, key string) ([]Record, error) {
	return readParquet[Record](ctx, store, bucket, key)
}

func readParquet[T any](ctx context.Context, store storage.ObjectStore, bucket, key string) ([]T, error) {
	body, err := store.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	rows, err := parquet.Read[T](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return rows, nil
}
