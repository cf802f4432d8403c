package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"newsclip-backend/internal/core"
	"newsclip-backend/internal/core/utils"
	"newsclip-backend/internal/shard"
	"newsclip-backend/internal/storage"
	"newsclip-backend/pkg/models"

	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v2"
)

// The shard binary builds a dataset in one shot without the API or a queue:
// it reads annotations from a local dataset directory, preprocesses every
// selected sample and packs the results into tar shards on disk.

type Options struct {
	Split           string `yaml:"split"`
	Query           string `yaml:"query"`
	ImageSize       int    `yaml:"image_size"`
	JpegQuality     int    `yaml:"jpeg_quality"`
	SamplesPerShard int    `yaml:"samples_per_shard"`
	Compress        bool   `yaml:"compress"`
	Workers         int    `yaml:"workers"`
}

func defaultOptions() Options {
	return Options{
		Split:           "train",
		ImageSize:       core.DefaultImageSize,
		JpegQuality:     core.DefaultJpegQuality,
		SamplesPerShard: shard.DefaultSamplesPerShard,
		Workers:         4,
	}
}

func loadOptions(path string) (Options, error) {
	opts := defaultOptions()
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, err
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, err
	}
	return opts, nil
}

func main() {
	dataDir := flag.String("data", "", "dataset directory containing data.json and annotations/")
	outDir := flag.String("out", "", "output directory for shards")
	configPath := flag.String("config", "", "optional yaml options file")
	flag.Parse()

	if *dataDir == "" || *outDir == "" {
		log.Fatal("both -data and -out are required")
	}

	opts, err := loadOptions(*configPath)
	if err != nil {
		log.Fatalf("error loading options: %v", err)
	}

	var filter core.Filter
	if opts.Query != "" {
		filter, err = core.ParseQuery(opts.Query)
		if err != nil {
			log.Fatalf("invalid query %q: %v", opts.Query, err)
		}
	}

	conn, err := storage.NewLocalConnector(storage.LocalConnectorParams{BaseDir: *dataDir})
	if err != nil {
		log.Fatalf("error opening dataset directory: %v", err)
	}

	store, err := storage.NewLocalObjectStore(*outDir)
	if err != nil {
		log.Fatalf("error opening output directory: %v", err)
	}

	ctx := context.Background()

	index, err := core.LoadDataIndex(ctx, conn, core.DataKey)
	if err != nil {
		log.Fatalf("error loading data index: %v", err)
	}

	annotations, err := core.LoadAnnotations(ctx, conn, core.SplitKey(opts.Split))
	if err != nil {
		log.Fatalf("error loading annotations: %v", err)
	}

	samples, _ := core.NormalizeSamples(index, annotations, opts.Split, filter)
	if len(samples) == 0 {
		log.Fatal("no samples selected")
	}

	slog.Info("building dataset", "split", opts.Split, "samples", len(samples), "out", *outDir)

	writer := shard.NewWriter(store, shard.WriterConfig{
		Bucket:          opts.Split,
		SamplesPerShard: opts.SamplesPerShard,
		Compress:        opts.Compress,
	})

	bar := progressbar.NewOptions(len(samples),
		progressbar.OptionSetDescription("⏳ processing"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	failed := 0
	for _, chunk := range core.ChunkSamples(samples, core.DefaultPreprocessBatchSize) {
		records, nFailed := preprocessChunk(ctx, conn, chunk, opts)
		failed += nFailed

		for _, record := range records {
			if record == nil {
				continue
			}
			if err := writer.Add(ctx, record.Sample()); err != nil {
				log.Fatalf("error writing shard: %v", err)
			}
		}
		_ = bar.Add(len(chunk))
	}

	if err := writer.Close(ctx); err != nil {
		log.Fatalf("error finalizing shards: %v", err)
	}

	slog.Info("dataset complete", "samples", writer.TotalSamples(), "failed", failed)
}

// preprocessChunk runs the chunk through a worker pool and returns records
// in the original sample order. Failed samples are nil in the result slice.
func preprocessChunk(ctx context.Context, conn storage.Connector, chunk []models.Sample, opts Options) ([]*shard.Record, int) {
	queue := make(chan int, len(chunk))
	completed := make(chan utils.CompletedTask[result], len(chunk))

	for i := range chunk {
		queue <- i
	}
	close(queue)

	utils.RunInPool(func(idx int) (result, error) {
		record, err := core.PreprocessSample(ctx, conn, chunk[idx], opts.ImageSize, opts.JpegQuality)
		return result{idx: idx, record: record}, err
	}, queue, completed, opts.Workers)

	records := make([]*shard.Record, len(chunk))
	failed := 0
	for done := range completed {
		if done.Error != nil {
			slog.Warn("failed to preprocess sample", "error", done.Error)
			failed++
			continue
		}
		record := done.Result.record
		records[done.Result.idx] = &record
	}

	return records, failed
}

type result struct {
	idx    int
	record shard.Record
}
