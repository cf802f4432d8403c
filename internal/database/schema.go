package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

type DatasetBuild struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"not null"`

	// One of "train", "validate", "test".
	Split string `gorm:"size:20;not null"`

	Deleted bool `gorm:"default:false"`
	Stopped bool `gorm:"default:false"`

	// Set once the packing step has claimed the build, so shards are only
	// written by a single worker.
	Packed bool `gorm:"default:false"`

	StorageType   string
	StorageParams datatypes.JSON

	SelectionQuery sql.NullString

	ImageSize       int  `gorm:"default:224"`
	JpegQuality     int  `gorm:"default:90"`
	SamplesPerShard int  `gorm:"default:5000"`
	CompressShards  bool `gorm:"default:false"`

	CreationTime time.Time

	TotalSampleCount     int `gorm:"default:0"`
	SucceededSampleCount int `gorm:"default:0"`
	FailedSampleCount    int `gorm:"default:0"`

	FalsifiedCount int `gorm:"default:0"`
	PristineCount  int `gorm:"default:0"`

	// Summary of the similarity score distribution computed during ingestion.
	ScoreStats datatypes.JSON

	IngestTask      *IngestTask      `gorm:"foreignKey:BuildId;constraint:OnDelete:CASCADE"`
	PreprocessTasks []PreprocessTask `gorm:"foreignKey:BuildId;constraint:OnDelete:CASCADE"`
	Shards          []Shard          `gorm:"foreignKey:BuildId;constraint:OnDelete:CASCADE"`

	Errors []BuildError `gorm:"foreignKey:BuildId;constraint:OnDelete:CASCADE"`
}

type IngestTask struct {
	BuildId uuid.UUID     `gorm:"type:uuid;primaryKey"`
	Build   *DatasetBuild `gorm:"foreignKey:BuildId;constraint:OnDelete:CASCADE"`

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	CompletionTime sql.NullTime

	// Number of entries handed to each preprocess task.
	BatchSize int
}

type PreprocessTask struct {
	BuildId uuid.UUID     `gorm:"type:uuid;primaryKey"`
	TaskId  int           `gorm:"primaryKey"`
	Build   *DatasetBuild `gorm:"foreignKey:BuildId;constraint:OnDelete:CASCADE"`

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	Params     datatypes.JSON
	EntryCount int   `gorm:"default:0"`
	OutputSize int64 `gorm:"not null;default:0"`
}

type Shard struct {
	BuildId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Key     string    `gorm:"primaryKey;size:255"`

	SampleCount  int
	SizeBytes    int64
	CreationTime time.Time
}

type BuildError struct {
	BuildId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}
