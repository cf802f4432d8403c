package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateIngestTaskStatus(ctx context.Context, txn *gorm.DB, buildId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&IngestTask{BuildId: buildId}).Updates(updates).Error; err != nil {
		slog.Error("error updating ingest task status", "build_id", buildId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdatePreprocessTaskStatus(ctx context.Context, txn *gorm.DB, buildId uuid.UUID, taskId int, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&PreprocessTask{BuildId: buildId, TaskId: taskId}).Updates(updates).Error; err != nil {
		slog.Error("error updating preprocess task status", "build_id", buildId, "task_id", taskId, "status", status, "error", err)
		return err
	}
	return nil
}

func SaveBuildError(ctx context.Context, txn *gorm.DB, buildId uuid.UUID, errorMessage string) {
	buildError := BuildError{
		BuildId:   buildId,
		ErrorId:   uuid.New(),
		Error:     errorMessage,
		Timestamp: time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&buildError).Error; err != nil {
		slog.Error("error saving build error", "build_id", buildId, "error", err)
	}
}
