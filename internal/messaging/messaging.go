package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	IngestQueue     = "ingest_queue"
	PreprocessQueue = "preprocess_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type IngestPayload struct {
	BuildId uuid.UUID
}

type PreprocessPayload struct {
	BuildId uuid.UUID
	TaskId  int
}

type Publisher interface {
	PublishIngestTask(ctx context.Context, payload IngestPayload) error

	PublishPreprocessTask(ctx context.Context, payload PreprocessPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
