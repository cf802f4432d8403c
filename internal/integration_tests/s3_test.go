package integrationtests

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsclip-backend/internal/storage"
)

const (
	bucketName = "test-bucket"
	subdir     = "test-subdir"
)

func setupTestObjectStore(t *testing.T, ctx context.Context) (*storage.S3ObjectStore, string) {
	t.Helper()

	endpoint := setupMinioContainer(t, ctx)

	objectStore, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        endpoint,
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)

	require.NoError(t, objectStore.CreateBucket(ctx, bucketName))

	return objectStore, endpoint
}

func TestS3ObjectStore_PutObject(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore, _ := setupTestObjectStore(t, ctx)

	key := "test-dir/test-file.txt"
	content := []byte("Test content")

	err := objectStore.PutObject(ctx, bucketName, key, bytes.NewReader(content))
	require.NoError(t, err)

	obj, err := objectStore.GetObject(ctx, bucketName, key)
	require.NoError(t, err)
	defer obj.Close()

	data, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestS3ObjectStore_CreateBucketIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore, _ := setupTestObjectStore(t, ctx)

	require.NoError(t, objectStore.CreateBucket(ctx, bucketName))
}

func TestS3ObjectStore_DeleteObjects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore, _ := setupTestObjectStore(t, ctx)

	prefix := "test-dir"

	files := []string{"test-dir/file1.txt", "test-dir/subdir/file2.txt", "other-dir/file3.txt"}
	for _, file := range files {
		require.NoError(t, objectStore.PutObject(ctx, bucketName, file, bytes.NewReader([]byte("content: "+file))))
	}

	objs, err := objectStore.ListObjects(ctx, bucketName, prefix)
	require.NoError(t, err)
	assert.Len(t, objs, 2)

	require.NoError(t, objectStore.DeleteObjects(ctx, bucketName, prefix))

	newObjs, err := objectStore.ListObjects(ctx, bucketName, prefix)
	require.NoError(t, err)
	assert.Empty(t, newObjs)

	remaining, err := objectStore.ListObjects(ctx, bucketName, "")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestS3Connector_GetObject(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore, endpoint := setupTestObjectStore(t, ctx)

	key := subdir + "/data.json"
	content := []byte(`[{"id": 1}]`)
	require.NoError(t, objectStore.PutObject(ctx, bucketName, key, bytes.NewReader(content)))

	connector, err := storage.NewS3Connector(ctx, storage.S3ConnectorParams{
		Endpoint:        endpoint,
		Bucket:          bucketName,
		Prefix:          subdir,
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)

	body, err := connector.GetObject(ctx, "data.json")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	_, err = connector.GetObject(ctx, "missing.json")
	assert.Error(t, err)
}

func TestS3Connector_BadBucket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	_, endpoint := setupTestObjectStore(t, ctx)

	_, err := storage.NewS3Connector(ctx, storage.S3ConnectorParams{
		Endpoint:        endpoint,
		Bucket:          "no-such-bucket",
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	assert.Error(t, err)
}
