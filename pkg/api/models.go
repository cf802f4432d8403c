package api

import (
	"time"

	"github.com/google/uuid"
)

type CreateBuildRequest struct {
	Name string `json:"name"`

	// Split selects which annotation split to build: train, val or test.
	Split string `json:"split"`

	StorageType   string         `json:"storage_type"`
	StorageParams map[string]any `json:"storage_params"`

	// SelectionQuery optionally restricts the build to samples matching a
	// filter expression, e.g. `source = "washington_post" AND falsified = true`.
	SelectionQuery string `json:"selection_query,omitempty"`

	ImageSize       int  `json:"image_size,omitempty"`
	JpegQuality     int  `json:"jpeg_quality,omitempty"`
	SamplesPerShard int  `json:"samples_per_shard,omitempty"`
	CompressShards  bool `json:"compress_shards,omitempty"`
}

type CreateBuildResponse struct {
	BuildId uuid.UUID `json:"build_id"`
}

// ListBuildsRequest holds the optional query parameters of the build listing
// endpoint.
type ListBuildsRequest struct {
	Split  string `schema:"split"`
	Status string `schema:"status"`
}

type TaskStatus struct {
	Status string `json:"status"`
}

type PreprocessTaskStatus struct {
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Queued    int    `json:"queued"`
	Running   int    `json:"running"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Aborted   int    `json:"aborted"`
}

type Build struct {
	Id   uuid.UUID `json:"id"`
	Name string    `json:"name"`

	Split          string `json:"split"`
	Stopped        bool   `json:"stopped"`
	StorageType    string `json:"storage_type"`
	SelectionQuery string `json:"selection_query,omitempty"`

	ImageSize       int  `json:"image_size"`
	JpegQuality     int  `json:"jpeg_quality"`
	SamplesPerShard int  `json:"samples_per_shard"`
	CompressShards  bool `json:"compress_shards"`

	CreationTime time.Time `json:"creation_time"`

	IngestTaskStatus     TaskStatus           `json:"ingest_task_status"`
	PreprocessTaskStatus PreprocessTaskStatus `json:"preprocess_task_status"`

	TotalSampleCount     int64 `json:"total_sample_count"`
	SucceededSampleCount int64 `json:"succeeded_sample_count"`
	FailedSampleCount    int64 `json:"failed_sample_count"`

	Errors []string `json:"errors,omitempty"`
}

type Shard struct {
	Key          string    `json:"key"`
	SampleCount  int       `json:"sample_count"`
	SizeBytes    int64     `json:"size_bytes"`
	CreationTime time.Time `json:"creation_time"`
}

// ScoreStats summarizes the similarity score distribution of the samples
// selected for a build. Histogram buckets are score deciles: bucket i counts
// scores in [i/10, (i+1)/10), with 1.0 falling into the last bucket.
type ScoreStats struct {
	Count     int     `json:"count"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"std_dev"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Histogram []int   `json:"histogram"`
}

type BuildStats struct {
	TotalSampleCount     int64 `json:"total_sample_count"`
	SucceededSampleCount int64 `json:"succeeded_sample_count"`
	FailedSampleCount    int64 `json:"failed_sample_count"`

	FalsifiedCount int64 `json:"falsified_count"`
	PristineCount  int64 `json:"pristine_count"`

	ShardCount     int   `json:"shard_count"`
	TotalShardSize int64 `json:"total_shard_size"`

	ScoreStats *ScoreStats `json:"score_stats,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
