package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"newsclip-backend/internal/core"
	"newsclip-backend/internal/database"
	"newsclip-backend/internal/messaging"
	"newsclip-backend/internal/shard"
	"newsclip-backend/internal/storage"
	"newsclip-backend/pkg/api"
)

type BackendService struct {
	db         *gorm.DB
	storage    storage.ObjectStore
	publisher  messaging.Publisher
	dataBucket string
}

func NewBackendService(db *gorm.DB, store storage.ObjectStore, publisher messaging.Publisher, dataBucket string) *BackendService {
	return &BackendService{db: db, storage: store, publisher: publisher, dataBucket: dataBucket}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) {
		return api.HealthResponse{Status: "ok"}, nil
	}))
	r.Route("/builds", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateBuild))
		r.Get("/", RestHandler(s.ListBuilds))
		r.Route("/{build_id}", func(r chi.Router) {
			r.Get("/", RestHandler(s.GetBuild))
			r.Get("/shards", RestHandler(s.ListShards))
			r.Get("/stats", RestHandler(s.GetBuildStats))
			r.Post("/stop", RestHandler(s.StopBuild))
			r.Delete("/", RestHandler(s.DeleteBuild))
		})
	})
}

func (s *BackendService) CreateBuild(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateBuildRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	if req.Split == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "split is required")
	}

	if _, err := storage.ToConnectorType(req.StorageType); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid storage type '%s'", req.StorageType)
	}

	storageParams, err := json.Marshal(req.StorageParams)
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse storage params")
	}

	if req.SelectionQuery != "" {
		if _, err := core.ParseQuery(req.SelectionQuery); err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid selection query: %v", err)
		}
	}

	ctx := r.Context()

	imageSize := req.ImageSize
	if imageSize <= 0 {
		imageSize = core.DefaultImageSize
	}
	jpegQuality := req.JpegQuality
	if jpegQuality <= 0 {
		jpegQuality = core.DefaultJpegQuality
	}
	samplesPerShard := req.SamplesPerShard
	if samplesPerShard <= 0 {
		samplesPerShard = shard.DefaultSamplesPerShard
	}

	build := database.DatasetBuild{
		Id:              uuid.New(),
		Name:            req.Name,
		Split:           req.Split,
		StorageType:     req.StorageType,
		StorageParams:   datatypes.JSON(storageParams),
		SelectionQuery:  sql.NullString{String: req.SelectionQuery, Valid: req.SelectionQuery != ""},
		ImageSize:       imageSize,
		JpegQuality:     jpegQuality,
		SamplesPerShard: samplesPerShard,
		CompressShards:  req.CompressShards,
		CreationTime:    time.Now().UTC(),
		IngestTask: &database.IngestTask{
			Status:       database.JobQueued,
			CreationTime: time.Now().UTC(),
			BatchSize:    core.DefaultPreprocessBatchSize,
		},
	}

	if err := s.db.WithContext(ctx).Create(&build).Error; err != nil {
		slog.Error("error creating dataset build", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create dataset build")
	}

	if err := s.storage.CreateBucket(ctx, s.dataBucket); err != nil {
		slog.Error("error creating data bucket", "bucket", s.dataBucket, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to prepare output storage")
	}

	if err := s.publisher.PublishIngestTask(ctx, messaging.IngestPayload{BuildId: build.Id}); err != nil {
		slog.Error("error publishing ingest task", "build_id", build.Id, "error", err)
		database.UpdateIngestTaskStatus(ctx, s.db, build.Id, database.JobFailed) //nolint:errcheck
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue ingest task")
	}

	slog.Info("submitted dataset build", "build_id", build.Id, "split", build.Split)

	return api.CreateBuildResponse{BuildId: build.Id}, nil
}

func (s *BackendService) ListBuilds(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListBuildsRequest](r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	query := s.db.WithContext(ctx).
		Preload("IngestTask").
		Preload("PreprocessTasks").
		Where("deleted = ?", false)
	if params.Split != "" {
		query = query.Where("split = ?", params.Split)
	}

	var builds []database.DatasetBuild
	if err := query.Find(&builds).Error; err != nil {
		slog.Error("error listing builds", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving builds")
	}

	out := make([]api.Build, 0, len(builds))
	for i := range builds {
		build := toApiBuild(&builds[i])
		if params.Status != "" && build.PreprocessTaskStatus.Status != params.Status {
			continue
		}
		out = append(out, build)
	}

	return out, nil
}

func (s *BackendService) getBuild(ctx context.Context, r *http.Request, preload ...string) (database.DatasetBuild, error) {
	buildId, err := URLParamUUID(r, "build_id")
	if err != nil {
		return database.DatasetBuild{}, err
	}

	query := s.db.WithContext(ctx)
	for _, assoc := range preload {
		query = query.Preload(assoc)
	}

	var build database.DatasetBuild
	if err := query.First(&build, "id = ? AND deleted = ?", buildId, false).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.DatasetBuild{}, CodedErrorf(http.StatusNotFound, "build not found")
		}
		slog.Error("error getting build", "build_id", buildId, "error", err)
		return database.DatasetBuild{}, CodedErrorf(http.StatusInternalServerError, "error retrieving build record")
	}

	return build, nil
}

func (s *BackendService) GetBuild(r *http.Request) (any, error) {
	build, err := s.getBuild(r.Context(), r, "IngestTask", "PreprocessTasks", "Errors")
	if err != nil {
		return nil, err
	}

	return toApiBuild(&build), nil
}

func (s *BackendService) ListShards(r *http.Request) (any, error) {
	build, err := s.getBuild(r.Context(), r)
	if err != nil {
		return nil, err
	}

	var shards []database.Shard
	if err := s.db.WithContext(r.Context()).
		Where("build_id = ?", build.Id).
		Order("key asc").
		Find(&shards).Error; err != nil {
		slog.Error("error listing shards", "build_id", build.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving shards")
	}

	out := make([]api.Shard, 0, len(shards))
	for _, sh := range shards {
		out = append(out, api.Shard{
			Key:          sh.Key,
			SampleCount:  sh.SampleCount,
			SizeBytes:    sh.SizeBytes,
			CreationTime: sh.CreationTime,
		})
	}

	return out, nil
}

func (s *BackendService) GetBuildStats(r *http.Request) (any, error) {
	build, err := s.getBuild(r.Context(), r)
	if err != nil {
		return nil, err
	}

	var shards []database.Shard
	if err := s.db.WithContext(r.Context()).
		Where("build_id = ?", build.Id).
		Find(&shards).Error; err != nil {
		slog.Error("error listing shards", "build_id", build.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving shards")
	}

	stats := api.BuildStats{
		TotalSampleCount:     int64(build.TotalSampleCount),
		SucceededSampleCount: int64(build.SucceededSampleCount),
		FailedSampleCount:    int64(build.FailedSampleCount),
		FalsifiedCount:       int64(build.FalsifiedCount),
		PristineCount:        int64(build.PristineCount),
		ShardCount:           len(shards),
	}
	for _, sh := range shards {
		stats.TotalShardSize += sh.SizeBytes
	}

	if len(build.ScoreStats) > 0 {
		var scoreStats api.ScoreStats
		if err := json.Unmarshal(build.ScoreStats, &scoreStats); err != nil {
			slog.Error("error parsing score stats", "build_id", build.Id, "error", err)
		} else {
			stats.ScoreStats = &scoreStats
		}
	}

	return stats, nil
}

func (s *BackendService) StopBuild(r *http.Request) (any, error) {
	build, err := s.getBuild(r.Context(), r)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(r.Context()).
		Model(&database.DatasetBuild{}).
		Where("id = ?", build.Id).
		Update("stopped", true).Error; err != nil {
		slog.Error("error stopping build", "build_id", build.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error stopping build")
	}

	slog.Info("stopped build", "build_id", build.Id)

	return nil, nil
}

func (s *BackendService) DeleteBuild(r *http.Request) (any, error) {
	build, err := s.getBuild(r.Context(), r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	if err := s.db.WithContext(ctx).
		Model(&database.DatasetBuild{}).
		Where("id = ?", build.Id).
		Updates(map[string]interface{}{"deleted": true, "stopped": true}).Error; err != nil {
		slog.Error("error deleting build", "build_id", build.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error deleting build")
	}

	// Remove uploaded batches, shards and indexes. The DB row is kept with
	// deleted = true so in-flight tasks can see the build was removed.
	if err := s.storage.DeleteObjects(ctx, s.dataBucket, build.Id.String()); err != nil {
		slog.Error("error deleting build objects", "build_id", build.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error deleting build data")
	}

	slog.Info("deleted build", "build_id", build.Id)

	return nil, nil
}

func toApiBuild(build *database.DatasetBuild) api.Build {
	out := api.Build{
		Id:                   build.Id,
		Name:                 build.Name,
		Split:                build.Split,
		Stopped:              build.Stopped,
		StorageType:          build.StorageType,
		SelectionQuery:       build.SelectionQuery.String,
		ImageSize:            build.ImageSize,
		JpegQuality:          build.JpegQuality,
		SamplesPerShard:      build.SamplesPerShard,
		CompressShards:       build.CompressShards,
		CreationTime:         build.CreationTime,
		TotalSampleCount:     int64(build.TotalSampleCount),
		SucceededSampleCount: int64(build.SucceededSampleCount),
		FailedSampleCount:    int64(build.FailedSampleCount),
	}

	if build.IngestTask != nil {
		out.IngestTaskStatus = api.TaskStatus{Status: build.IngestTask.Status}
	}

	taskStatus := api.PreprocessTaskStatus{Total: len(build.PreprocessTasks)}
	for _, task := range build.PreprocessTasks {
		switch task.Status {
		case database.JobQueued:
			if build.Stopped {
				taskStatus.Aborted++
			} else {
				taskStatus.Queued++
			}
		case database.JobRunning:
			taskStatus.Running++
		case database.JobCompleted:
			taskStatus.Completed++
		case database.JobFailed:
			taskStatus.Failed++
		}
	}
	taskStatus.Status = aggregateStatus(build, taskStatus)
	out.PreprocessTaskStatus = taskStatus

	for _, buildErr := range build.Errors {
		out.Errors = append(out.Errors, buildErr.Error)
	}

	return out
}

func aggregateStatus(build *database.DatasetBuild, tasks api.PreprocessTaskStatus) string {
	if build.IngestTask != nil && build.IngestTask.Status == database.JobFailed {
		return database.JobFailed
	}
	if tasks.Failed > 0 {
		return database.JobFailed
	}
	if tasks.Running > 0 || tasks.Queued > 0 {
		return database.JobRunning
	}
	if build.IngestTask != nil && build.IngestTask.Status == database.JobCompleted && tasks.Completed == tasks.Total {
		return database.JobCompleted
	}
	if build.IngestTask != nil && build.IngestTask.Status == database.JobRunning {
		return database.JobRunning
	}
	return database.JobQueued
}
