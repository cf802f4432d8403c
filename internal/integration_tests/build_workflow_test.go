package integrationtests

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	backend "newsclip-backend/internal/api"
	"newsclip-backend/internal/core"
	"newsclip-backend/internal/database"
	"newsclip-backend/internal/messaging"
	"newsclip-backend/internal/shard"
	"newsclip-backend/internal/storage"
	"newsclip-backend/pkg/api"
)

const dataBucket = "test-datasets"

func createSqliteDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	return db
}

func createBuild(t *testing.T, router http.Handler, req api.CreateBuildRequest) uuid.UUID {
	var res api.CreateBuildResponse
	err := httpRequest(router, "POST", "/builds", req, &res)
	require.NoError(t, err)
	return res.BuildId
}

func buildIsComplete(build api.Build) bool {
	if build.IngestTaskStatus.Status != database.JobCompleted {
		return false
	}
	tasks := build.PreprocessTaskStatus
	return tasks.Total > 0 && tasks.Completed == tasks.Total
}

func waitForBuild(t *testing.T, router http.Handler, buildId uuid.UUID) api.Build {
	var build api.Build

	for i := 0; i < 40; i++ {
		time.Sleep(500 * time.Millisecond)
		err := httpRequest(router, "GET", fmt.Sprintf("/builds/%s", buildId), nil, &build)
		require.NoError(t, err)

		if buildIsComplete(build) {
			return build
		}
	}

	t.Fatal("timeout reached before build completed")
	return build
}

func TestBuildWorkflow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	minioUrl := setupMinioContainer(t, ctx)

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        minioUrl,
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)

	db := createSqliteDB(t)

	queue := messaging.NewInMemoryQueue()

	service := backend.NewBackendService(db, store, queue, dataBucket)
	router := chi.NewRouter()
	service.AddRoutes(router)

	worker := core.NewTaskProcessor(db, store, queue, queue, dataBucket, 4)

	go worker.Start()
	defer worker.Stop()

	dataDir := createDataset(t, 12)

	buildId := createBuild(t, router, api.CreateBuildRequest{
		Name:            "workflow-test",
		Split:           "train",
		StorageType:     "local",
		StorageParams:   map[string]any{"BaseDir": dataDir},
		ImageSize:       64,
		SamplesPerShard: 5,
	})

	build := waitForBuild(t, router, buildId)

	assert.Equal(t, int64(12), build.TotalSampleCount)
	assert.Equal(t, int64(12), build.SucceededSampleCount)
	assert.Equal(t, int64(0), build.FailedSampleCount)
	assert.Equal(t, database.JobCompleted, build.PreprocessTaskStatus.Status)

	// Packing runs after the last preprocess task reports complete, so give
	// it a moment to finish.
	var shards []api.Shard
	for i := 0; i < 20 && len(shards) < 3; i++ {
		time.Sleep(500 * time.Millisecond)
		require.NoError(t, httpRequest(router, "GET", fmt.Sprintf("/builds/%s/shards", buildId), nil, &shards))
	}

	// 12 samples at 5 per shard
	require.Len(t, shards, 3)
	assert.Equal(t, "shard-000000.tar", shards[0].Key)
	assert.Equal(t, 5, shards[0].SampleCount)
	assert.Equal(t, 2, shards[2].SampleCount)

	var stats api.BuildStats
	require.NoError(t, httpRequest(router, "GET", fmt.Sprintf("/builds/%s/stats", buildId), nil, &stats))

	assert.Equal(t, int64(6), stats.FalsifiedCount)
	assert.Equal(t, int64(6), stats.PristineCount)
	assert.Equal(t, 3, stats.ShardCount)
	require.NotNil(t, stats.ScoreStats)
	assert.Equal(t, 12, stats.ScoreStats.Count)

	// The shards and index land in object storage under the build id.
	body, err := store.GetObject(ctx, dataBucket, path.Join(buildId.String(), "shards", shards[0].Key))
	require.NoError(t, err)
	defer body.Close()

	samples, err := shard.Read(body, false)
	require.NoError(t, err)
	require.Len(t, samples, 5)
	assert.Equal(t, "test_source_1", samples[0].Key)
	assert.Equal(t, "caption number 1", samples[0].Caption)

	index, err := shard.ReadIndex(ctx, store, dataBucket, path.Join(buildId.String(), "shards", "index-final.parquet"))
	require.NoError(t, err)
	assert.Len(t, index, 12)

	// Deleting the build removes its objects.
	require.NoError(t, httpRequest(router, "DELETE", fmt.Sprintf("/builds/%s", buildId), nil, nil))

	objects, err := store.ListObjects(ctx, dataBucket, buildId.String())
	require.NoError(t, err)
	assert.Empty(t, objects)
}
