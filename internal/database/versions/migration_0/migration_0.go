package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Frozen copy of the initial schema. The live schema lives in the database
// package; these types must not be edited once the migration has shipped.

type DatasetBuild struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"not null"`

	Split string `gorm:"size:20;not null"`

	Deleted bool `gorm:"default:false"`
	Stopped bool `gorm:"default:false"`
	Packed  bool `gorm:"default:false"`

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

func Migration(db *gorm.DB) error {
	err := db.AutoMigrate(
		&DatasetBuild{}, &IngestTask{}, &PreprocessTask{}, &Shard{}, &BuildError{},
	)
	if err != nil {
		return fmt.Errorf("initial migration failed: %w", err)
	}
	return nil
}
