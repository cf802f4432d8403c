package shard

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/klauspost/compress/gzip"

	"newsclip-backend/internal/storage"
	"newsclip-backend/pkg/models"
)

const (
	DefaultSamplesPerShard = 5000
	DefaultIndexFlushCount = 50000
)

// Sample is a preprocessed image-caption pair ready to be packed into a
// shard.
type Sample struct {
	Key     string
	Image   []byte
	Caption string
	Meta    models.Metadata
}

// Info describes a finished shard after it has been uploaded.
type Info struct {
	Name        string
	SampleCount int
	SizeBytes   int64
}

type WriterConfig struct {
	Bucket string
	Prefix string

	SamplesPerShard int
	IndexFlushCount int
	Compress        bool

	// OnShard is called after each shard is uploaded. Returning an error
	// aborts the write.
	OnShard func(info Info) error
}

// Writer packs samples into WebDataset style tar archives. Each sample
// becomes three consecutive members sharing the sample key: <key>.jpg,
// <key>.txt and <key>.json. Shards rotate after SamplesPerShard samples and
// a parquet index of every packed sample is flushed alongside them.
type Writer struct {
	store storage.ObjectStore
	cfg   WriterConfig

	index *indexWriter

	shardIdx int
	inShard  int
	total    int

	file *os.File
	gz   *gzip.Writer
	tw   *tar.Writer
}

func NewWriter(store storage.ObjectStore, cfg WriterConfig) *Writer {
	if cfg.SamplesPerShard <= 0 {
		cfg.SamplesPerShard = DefaultSamplesPerShard
	}
	if cfg.IndexFlushCount <= 0 {
		cfg.IndexFlushCount = DefaultIndexFlushCount
	}

	return &Writer{
		store: store,
		cfg:   cfg,
		index: &indexWriter{store: store, bucket: cfg.Bucket, prefix: cfg.Prefix},
	}
}

// Name returns the archive name for the given shard number.
func Name(idx int, compress bool) string {
	name := fmt.Sprintf("shard-%06d.tar", idx)
	if compress {
		name += ".gz"
	}
	return name
}

func (w *Writer) currentName() string {
	return Name(w.shardIdx, w.cfg.Compress)
}

func (w *Writer) openShard() error {
	file, err := os.CreateTemp("", "shard-*.tar")
	if err != nil {
		return fmt.Errorf("failed to create shard scratch file: %w", err)
	}

	w.file = file
	if w.cfg.Compress {
		w.gz = gzip.NewWriter(file)
		w.tw = tar.NewWriter(w.gz)
	} else {
		w.tw = tar.NewWriter(file)
	}
	return nil
}

func (w *Writer) writeMember(name string, data []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  time.Now(),
		Typeflag: tar.TypeReg,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", name, err)
	}
	if _, err := w.tw.Write(data); err != nil {
		return fmt.Errorf("failed to write tar member %s: %w", name, err)
	}
	return nil
}

func (w *Writer) Add(ctx context.Context, sample Sample) error {
	if w.file == nil {
		if err := w.openShard(); err != nil {
			return err
		}
	}

	meta, err := json.Marshal(struct {
		models.Metadata
		Caption string `json:"caption"`
	}{Metadata: sample.Meta, Caption: sample.Caption})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata for sample %s: %w", sample.Key, err)
	}

	if err := w.writeMember(sample.Key+".jpg", sample.Image); err != nil {
		return err
	}
	if err := w.writeMember(sample.Key+".txt", []byte(sample.Caption)); err != nil {
		return err
	}
	if err := w.writeMember(sample.Key+".json", meta); err != nil {
		return err
	}

	w.index.add(IndexRecord{
		Id:              sample.Meta.Id,
		ImageId:         sample.Meta.ImageId,
		Source:          sample.Meta.Source,
		Topic:           sample.Meta.Topic,
		Caption:         sample.Caption,
		Key:             sample.Key,
		Shard:           w.currentName(),
		Split:           sample.Meta.Split,
		Falsified:       sample.Meta.Falsified,
		SimilarityScore: sample.Meta.SimilarityScore,
	})

	w.inShard++
	w.total++

	if w.inShard >= w.cfg.SamplesPerShard {
		if err := w.finishShard(ctx); err != nil {
			return err
		}
	}

	if w.total%w.cfg.IndexFlushCount == 0 {
		if err := w.index.flush(ctx, fmt.Sprintf("index-%09d.parquet", w.total)); err != nil {
			return err
		}
	}

	return nil
}

func (w *Writer) finishShard(ctx context.Context) error {
	if err := w.tw.Close(); err != nil {
		return fmt.Errorf("failed to close tar writer: %w", err)
	}
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
		w.gz = nil
	}

	info, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat shard scratch file: %w", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind shard scratch file: %w", err)
	}

	name := w.currentName()
	if err := w.store.PutObject(ctx, w.cfg.Bucket, path.Join(w.cfg.Prefix, name), w.file); err != nil {
		return fmt.Errorf("failed to upload shard %s: %w", name, err)
	}

	w.file.Close()
	os.Remove(w.file.Name())
	w.file = nil
	w.tw = nil

	if w.cfg.OnShard != nil {
		if err := w.cfg.OnShard(Info{Name: name, SampleCount: w.inShard, SizeBytes: info.Size()}); err != nil {
			return err
		}
	}

	w.shardIdx++
	w.inShard = 0

	return nil
}

// Close finishes the in-progress shard and writes any index records that
// have not reached the flush threshold to index-final.parquet.
func (w *Writer) Close(ctx context.Context) error {
	if w.file != nil && w.inShard > 0 {
		if err := w.finishShard(ctx); err != nil {
			return err
		}
	}

	return w.index.flush(ctx, "index-final.parquet")
}

// TotalSamples returns how many samples have been added so far.
func (w *Writer) TotalSamples() int {
	return w.total
}
