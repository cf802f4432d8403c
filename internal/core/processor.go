package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"newsclip-backend/internal/core/utils"
	"newsclip-backend/internal/database"
	"newsclip-backend/internal/messaging"
	"newsclip-backend/internal/shard"
	"newsclip-backend/internal/storage"
	"newsclip-backend/pkg/models"
)

type TaskProcessor struct {
	db        *gorm.DB
	storage   storage.ObjectStore
	publisher messaging.Publisher
	reciever  messaging.Reciever

	dataBucket  string
	concurrency int
}

func NewTaskProcessor(db *gorm.DB, storage storage.ObjectStore, publisher messaging.Publisher, reciever messaging.Reciever, dataBucket string, concurrency int) *TaskProcessor {
	if concurrency <= 0 {
		concurrency = 1
	}

	return &TaskProcessor{
		db:          db,
		storage:     storage,
		publisher:   publisher,
		reciever:    reciever,
		dataBucket:  dataBucket,
		concurrency: concurrency,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.publisher.Close()
	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {

	case messaging.IngestQueue:
		var payload messaging.IngestPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling ingest task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processIngestTask(ctx, payload)

	case messaging.PreprocessQueue:
		var payload messaging.PreprocessPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling preprocess task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processPreprocessTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) getConnector(ctx context.Context, build database.DatasetBuild) (storage.Connector, error) {
	connectorType, err := storage.ToConnectorType(build.StorageType)
	if err != nil {
		return nil, fmt.Errorf("invalid storage type: %v", err)
	}
	return storage.NewConnector(ctx, connectorType, build.StorageParams)
}

func (proc *TaskProcessor) updateSampleCount(buildId uuid.UUID, success bool, delta int) error {
	var column string
	if success {
		column = "succeeded_sample_count"
	} else {
		column = "failed_sample_count"
	}

	if err := proc.db.
		Model(&database.DatasetBuild{}).
		Where("id = ?", buildId).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta)).
		Error; err != nil {
		slog.Error("could not increment sample count", "build_id", buildId, "column", column, "error", err)
		return fmt.Errorf("could not increment sample count: %w", err)
	}

	return nil
}

func (proc *TaskProcessor) processIngestTask(ctx context.Context, payload messaging.IngestPayload) error {
	buildId := payload.BuildId

	slog.Info("processing ingest task", "build_id", buildId)

	var task database.IngestTask
	if err := proc.db.Preload("Build").First(&task, "build_id = ?", buildId).Error; err != nil {
		slog.Error("error fetching ingest task", "build_id", buildId, "error", err)
		return fmt.Errorf("error getting ingest task: %w", err)
	}

	if task.Build.Stopped || task.Build.Deleted {
		slog.Info("build stopped, skipping ingest task", "build_id", buildId)
		return nil
	}

	database.UpdateIngestTaskStatus(ctx, proc.db, buildId, database.JobRunning) //nolint:errcheck

	var filter Filter
	if task.Build.SelectionQuery.Valid && task.Build.SelectionQuery.String != "" {
		var err error
		filter, err = ParseQuery(task.Build.SelectionQuery.String)
		if err != nil {
			database.UpdateIngestTaskStatus(ctx, proc.db, buildId, database.JobFailed) //nolint:errcheck
			database.SaveBuildError(ctx, proc.db, buildId, fmt.Sprintf("invalid selection query: %s", err.Error()))
			return fmt.Errorf("error parsing selection query: %w", err)
		}
	}

	connector, err := proc.getConnector(ctx, *task.Build)
	if err != nil {
		database.UpdateIngestTaskStatus(ctx, proc.db, buildId, database.JobFailed) //nolint:errcheck
		database.SaveBuildError(ctx, proc.db, buildId, err.Error())
		return fmt.Errorf("error initializing connector for ingest task: %w", err)
	}

	index, err := LoadDataIndex(ctx, connector, DataKey)
	if err != nil {
		database.UpdateIngestTaskStatus(ctx, proc.db, buildId, database.JobFailed) //nolint:errcheck
		database.SaveBuildError(ctx, proc.db, buildId, err.Error())
		return fmt.Errorf("error loading data index: %w", err)
	}

	annotations, err := LoadAnnotations(ctx, connector, SplitKey(task.Build.Split))
	if err != nil {
		database.UpdateIngestTaskStatus(ctx, proc.db, buildId, database.JobFailed) //nolint:errcheck
		database.SaveBuildError(ctx, proc.db, buildId, err.Error())
		return fmt.Errorf("error loading annotations: %w", err)
	}

	samples, scores := NormalizeSamples(index, annotations, task.Build.Split, filter)

	stats, err := json.Marshal(ComputeScoreStats(scores))
	if err != nil {
		return fmt.Errorf("error marshalling score stats: %w", err)
	}

	falsified := 0
	for i := range samples {
		if samples[i].Falsified {
			falsified++
		}
	}

	if err := proc.db.
		Model(&database.DatasetBuild{}).
		Where("id = ?", buildId).
		Updates(map[string]interface{}{
			"total_sample_count": len(samples),
			"falsified_count":    falsified,
			"pristine_count":     len(samples) - falsified,
			"score_stats":        datatypes.JSON(stats),
		}).Error; err != nil {
		slog.Warn("failed to update build sample count", "build_id", buildId, "error", err)
	}

	batches := ChunkSamples(samples, task.BatchSize)

	for taskId, batch := range batches {
		params, err := json.Marshal(batch)
		if err != nil {
			database.UpdateIngestTaskStatus(ctx, proc.db, buildId, database.JobFailed) //nolint:errcheck
			return fmt.Errorf("error marshalling preprocess task params: %w", err)
		}

		preprocessTask := database.PreprocessTask{
			BuildId:      buildId,
			TaskId:       taskId,
			Status:       database.JobQueued,
			CreationTime: time.Now().UTC(),
			Params:       datatypes.JSON(params),
			EntryCount:   len(batch),
		}

		if err := proc.db.WithContext(ctx).Create(&preprocessTask).Error; err != nil {
			slog.Error("error saving preprocess task to db", "build_id", buildId, "task_id", taskId, "error", err)
			database.UpdateIngestTaskStatus(ctx, proc.db, buildId, database.JobFailed) //nolint:errcheck
			return fmt.Errorf("error saving preprocess task to db: %w", err)
		}

		if err := proc.publisher.PublishPreprocessTask(ctx, messaging.PreprocessPayload{BuildId: buildId, TaskId: taskId}); err != nil {
			slog.Error("failed to publish preprocess task", "build_id", buildId, "task_id", taskId, "error", err)
			database.UpdateIngestTaskStatus(ctx, proc.db, buildId, database.JobFailed) //nolint:errcheck
			return fmt.Errorf("failed to publish preprocess task %d: %w", taskId, err)
		}
	}

	if err := database.UpdateIngestTaskStatus(ctx, proc.db, buildId, database.JobCompleted); err != nil {
		return fmt.Errorf("failed to update ingest task final status: %w", err)
	}

	slog.Info("finished creating preprocess tasks", "n_tasks", len(batches), "n_samples", len(samples), "build_id", buildId)

	// Covers the empty build and the race where every preprocess task
	// finished before the ingest task was marked complete.
	return proc.maybePackShards(ctx, buildId)
}

func (proc *TaskProcessor) processPreprocessTask(ctx context.Context, payload messaging.PreprocessPayload) error {
	buildId := payload.BuildId
	taskId := payload.TaskId

	slog.Info("processing preprocess task", "build_id", buildId, "task_id", taskId)

	var task database.PreprocessTask
	if err := proc.db.Preload("Build").First(&task, "build_id = ? AND task_id = ?", buildId, taskId).Error; err != nil {
		slog.Error("error fetching preprocess task", "build_id", buildId, "task_id", taskId, "error", err)
		return fmt.Errorf("error getting preprocess task: %w", err)
	}

	if task.Build.Stopped || task.Build.Deleted {
		slog.Info("build stopped, skipping preprocess task", "build_id", buildId, "task_id", taskId)
		return nil
	}

	if err := proc.db.
		Model(&database.PreprocessTask{}).
		Where("build_id = ? AND task_id = ?", buildId, taskId).
		Updates(map[string]interface{}{
			"status":     database.JobRunning,
			"start_time": time.Now().UTC(),
		}).Error; err != nil {
		slog.Error("error marking task as running", "error", err)
	}

	connector, err := proc.getConnector(ctx, *task.Build)
	if err != nil {
		database.UpdatePreprocessTaskStatus(ctx, proc.db, buildId, taskId, database.JobFailed) //nolint:errcheck
		database.SaveBuildError(ctx, proc.db, buildId, err.Error())
		return fmt.Errorf("error initializing connector for preprocess task: %w", err)
	}

	records, failed, err := proc.preprocessBatch(ctx, connector, *task.Build, task.Params)
	if err != nil {
		database.UpdatePreprocessTaskStatus(ctx, proc.db, buildId, taskId, database.JobFailed) //nolint:errcheck
		database.SaveBuildError(ctx, proc.db, buildId, err.Error())
		return fmt.Errorf("error preprocessing batch: %w", err)
	}

	batchKey := path.Join(buildId.String(), "batches", shard.BatchName(taskId))
	size, err := shard.WriteBatch(ctx, proc.storage, proc.dataBucket, batchKey, records)
	if err != nil {
		database.UpdatePreprocessTaskStatus(ctx, proc.db, buildId, taskId, database.JobFailed) //nolint:errcheck
		database.SaveBuildError(ctx, proc.db, buildId, err.Error())
		return fmt.Errorf("error writing preprocessed batch: %w", err)
	}

	if err := proc.db.
		Model(&database.PreprocessTask{}).
		Where("build_id = ? AND task_id = ?", buildId, taskId).
		Update("output_size", size).
		Error; err != nil {
		slog.Error("unable to update output_size", "build_id", buildId, "task_id", taskId, "error", err)
	}

	if len(records) > 0 {
		if err := proc.updateSampleCount(buildId, true, len(records)); err != nil {
			return err
		}
	}
	if failed > 0 {
		if err := proc.updateSampleCount(buildId, false, failed); err != nil {
			return err
		}
	}

	if err := database.UpdatePreprocessTaskStatus(ctx, proc.db, buildId, taskId, database.JobCompleted); err != nil {
		return fmt.Errorf("error updating preprocess task status to complete: %w", err)
	}

	slog.Info("preprocess task completed", "build_id", buildId, "task_id", taskId, "n_records", len(records), "n_failed", failed)

	return proc.maybePackShards(ctx, buildId)
}

// preprocessBatch runs the image pipeline over the task's samples with a
// worker pool. Samples whose image cannot be fetched or decoded are dropped
// and counted, the rest keep their original annotation order.
func (proc *TaskProcessor) preprocessBatch(ctx context.Context, connector storage.Connector, build database.DatasetBuild, params []byte) ([]shard.Record, int, error) {
	var samples []models.Sample
	if err := json.Unmarshal(params, &samples); err != nil {
		return nil, 0, fmt.Errorf("error unmarshalling task params: %w", err)
	}

	type job struct {
		idx    int
		sample models.Sample
	}
	type result struct {
		idx    int
		record shard.Record
	}

	queue := make(chan job, len(samples))
	for i, sample := range samples {
		queue <- job{idx: i, sample: sample}
	}
	close(queue)

	completed := make(chan utils.CompletedTask[result], len(samples))
	utils.RunInPool(func(j job) (result, error) {
		record, err := PreprocessSample(ctx, connector, j.sample, build.ImageSize, build.JpegQuality)
		if err != nil {
			slog.Error("error preprocessing sample", "key", j.sample.Key(), "error", err)
			return result{}, err
		}
		return result{idx: j.idx, record: record}, nil
	}, queue, completed, proc.concurrency)

	ordered := make([]*shard.Record, len(samples))
	failed := 0
	for done := range completed {
		if done.Error != nil {
			failed++
			continue
		}
		record := done.Result.record
		ordered[done.Result.idx] = &record
	}

	records := make([]shard.Record, 0, len(samples)-failed)
	for _, record := range ordered {
		if record != nil {
			records = append(records, *record)
		}
	}

	return records, failed, nil
}

// maybePackShards runs the packing step once the ingest task has finished
// fanning out and every preprocess task of the build has completed. The
// Packed flag is claimed with a conditional update so concurrent workers
// finishing at the same time cannot both pack.
func (proc *TaskProcessor) maybePackShards(ctx context.Context, buildId uuid.UUID) error {
	// Until ingest completes the set of preprocess tasks is still growing,
	// so a zero pending count would not mean the build is done.
	var ingest database.IngestTask
	if err := proc.db.First(&ingest, "build_id = ?", buildId).Error; err != nil {
		return fmt.Errorf("error getting ingest task for packing: %w", err)
	}
	if ingest.Status != database.JobCompleted {
		return nil
	}

	var pending int64
	if err := proc.db.
		Model(&database.PreprocessTask{}).
		Where("build_id = ? AND status <> ?", buildId, database.JobCompleted).
		Count(&pending).Error; err != nil {
		return fmt.Errorf("error counting pending preprocess tasks: %w", err)
	}
	if pending > 0 {
		return nil
	}

	claim := proc.db.
		Model(&database.DatasetBuild{}).
		Where("id = ? AND packed = ?", buildId, false).
		UpdateColumn("packed", true)
	if claim.Error != nil {
		return fmt.Errorf("error claiming packing step: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		return nil
	}

	var build database.DatasetBuild
	if err := proc.db.First(&build, "id = ?", buildId).Error; err != nil {
		return fmt.Errorf("error getting build for packing: %w", err)
	}

	if build.Stopped || build.Deleted {
		slog.Info("build stopped, skipping packing", "build_id", buildId)
		return nil
	}

	if err := proc.packShards(ctx, build); err != nil {
		database.SaveBuildError(ctx, proc.db, buildId, err.Error())
		// Release the claim so a later task completion can retry packing.
		if rerr := proc.db.
			Model(&database.DatasetBuild{}).
			Where("id = ?", buildId).
			UpdateColumn("packed", false).
			Error; rerr != nil {
			slog.Error("failed to release packing claim", "build_id", buildId, "error", rerr)
		}
		return err
	}

	return nil
}

func (proc *TaskProcessor) packShards(ctx context.Context, build database.DatasetBuild) error {
	slog.Info("packing shards", "build_id", build.Id)

	var tasks []database.PreprocessTask
	if err := proc.db.
		Where("build_id = ?", build.Id).
		Order("task_id asc").
		Find(&tasks).Error; err != nil {
		return fmt.Errorf("error listing preprocess tasks: %w", err)
	}

	writer := shard.NewWriter(proc.storage, shard.WriterConfig{
		Bucket:          proc.dataBucket,
		Prefix:          path.Join(build.Id.String(), "shards"),
		SamplesPerShard: build.SamplesPerShard,
		Compress:        build.CompressShards,
		OnShard: func(info shard.Info) error {
			return proc.db.Create(&database.Shard{
				BuildId:      build.Id,
				Key:          info.Name,
				SampleCount:  info.SampleCount,
				SizeBytes:    info.SizeBytes,
				CreationTime: time.Now().UTC(),
			}).Error
		},
	})

	for _, task := range tasks {
		batchKey := path.Join(build.Id.String(), "batches", shard.BatchName(task.TaskId))
		records, err := shard.ReadBatch(ctx, proc.storage, proc.dataBucket, batchKey)
		if err != nil {
			return fmt.Errorf("error reading batch for task %d: %w", task.TaskId, err)
		}

		for i := range records {
			if err := writer.Add(ctx, records[i].Sample()); err != nil {
				return fmt.Errorf("error packing sample from task %d: %w", task.TaskId, err)
			}
		}
	}

	if err := writer.Close(ctx); err != nil {
		return fmt.Errorf("error finalizing shards: %w", err)
	}

	slog.Info("finished packing shards", "build_id", build.Id, "n_samples", writer.TotalSamples())

	return nil
}
