package shard

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/parquet-go/parquet-go"

	"newsclip-backend/internal/storage"
)

// IndexRecord is one row of the parquet index written next to the shards. It
// lets consumers locate a sample's shard without scanning the archives.
type IndexRecord struct {
	Id              int64   `parquet:"id"`
	ImageId         int64   `parquet:"image_id"`
	Source          string  `parquet:"source"`
	Topic           string  `parquet:"topic"`
	Caption         string  `parquet:"caption"`
	Key             string  `parquet:"key"`
	Shard           string  `parquet:"shard"`
	Split           string  `parquet:"split"`
	Falsified       bool    `parquet:"falsified"`
	SimilarityScore float64 `parquet:"similarity_score"`
}

type indexWriter struct {
	store  storage.ObjectStore
	bucket string
	prefix string

	records []IndexRecord
}

func (ix *indexWriter) add(rec IndexRecord) {
	ix.records = append(ix.records, rec)
}

func (ix *indexWriter) flush(ctx context.Context, name string) error {
	if len(ix.records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := parquet.Write(&buf, ix.records); err != nil {
		return fmt.Errorf("failed to encode index %s: %w", name, err)
	}

	if err := ix.store.PutObject(ctx, ix.bucket, path.Join(ix.prefix, name), &buf); err != nil {
		return fmt.Errorf("failed to upload index %s: %w", name, err)
	}

	ix.records = ix.records[:0]
	return nil
}

// ReadIndex loads a parquet index file from the object store.
func ReadIndex(ctx context.Context, store storage.ObjectStore, bucket, key string) ([]IndexRecord, error) {
	return readParquet[IndexRecord](ctx, store, bucket, key)
}
