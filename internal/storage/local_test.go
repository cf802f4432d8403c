package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestObjectStore(t *testing.T) (*LocalObjectStore, string) {
	t.Helper()
	dir := t.TempDir()
	objectStore, err := NewLocalObjectStore(dir)
	require.NoError(t, err)
	return objectStore, dir
}

func TestLocalObjectStore_PutObject(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	bucket := "test-bucket"
	key := "nested/test-file.txt"
	content := []byte("Test content")

	err := objectStore.PutObject(context.Background(), bucket, key, bytes.NewReader(content))
	require.NoError(t, err)

	filePath := filepath.Join(baseDir, bucket, "nested", "test-file.txt")
	data, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalObjectStore_GetObject(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)

	content := []byte("round trip")
	require.NoError(t, objectStore.PutObject(context.Background(), "test-bucket", "file.txt", bytes.NewReader(content)))

	body, err := objectStore.GetObject(context.Background(), "test-bucket", "file.txt")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	_, err = objectStore.GetObject(context.Background(), "test-bucket", "missing.txt")
	assert.Error(t, err)
}

func TestLocalObjectStore_ListObjects(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)

	files := []string{"a/file1.txt", "a/file2.txt", "b/file3.txt"}
	for _, file := range files {
		require.NoError(t, objectStore.PutObject(context.Background(), "test-bucket", file, bytes.NewReader([]byte("content"))))
	}

	objects, err := objectStore.ListObjects(context.Background(), "test-bucket", "a/")
	require.NoError(t, err)

	names := make([]string, 0, len(objects))
	for _, obj := range objects {
		names = append(names, obj.Name)
		assert.Equal(t, int64(len("content")), obj.Size)
	}
	assert.ElementsMatch(t, []string{"a/file1.txt", "a/file2.txt"}, names)

	// A bucket that was never written is just empty.
	objects, err = objectStore.ListObjects(context.Background(), "no-such-bucket", "")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestLocalObjectStore_DeleteObjects(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	bucket := "test-bucket"
	files := []string{"test-dir/file1.txt", "test-dir/file2.txt", "other-dir/file3.txt"}
	for _, file := range files {
		require.NoError(t, objectStore.PutObject(context.Background(), bucket, file, bytes.NewReader([]byte("content"))))
	}

	err := objectStore.DeleteObjects(context.Background(), bucket, "test-dir")
	require.NoError(t, err)

	for _, file := range []string{"test-dir/file1.txt", "test-dir/file2.txt"} {
		_, err := os.Stat(filepath.Join(baseDir, bucket, file))
		assert.True(t, os.IsNotExist(err), "File %s should not exist", file)
	}

	_, err = os.Stat(filepath.Join(baseDir, bucket, "other-dir/file3.txt"))
	assert.NoError(t, err, "File outside prefix should still exist")
}

func TestLocalConnector_GetObject(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images"), os.ModePerm))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "images", "1.jpg"), []byte("jpeg"), 0644))

	connector, err := NewLocalConnector(LocalConnectorParams{BaseDir: dir})
	require.NoError(t, err)

	body, err := connector.GetObject(context.Background(), "images/1.jpg")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	_, err = connector.GetObject(context.Background(), "images/missing.jpg")
	assert.Error(t, err)
}

func TestLocalConnector_MissingDir(t *testing.T) {
	_, err := NewLocalConnector(LocalConnectorParams{BaseDir: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)
}

func TestToConnectorType(t *testing.T) {
	for _, valid := range []string{"local", "s3", "http"} {
		_, err := ToConnectorType(valid)
		assert.NoError(t, err)
	}

	_, err := ToConnectorType("ftp")
	assert.Error(t, err)
}

func TestNewConnector_Local(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.json"), []byte("[]"), 0644))

	params, err := json.Marshal(LocalConnectorParams{BaseDir: dir})
	require.NoError(t, err)

	connector, err := NewConnector(context.Background(), LocalConnectorType, params)
	require.NoError(t, err)

	body, err := connector.GetObject(context.Background(), "data.json")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), data)
}

func TestNewConnector_BadParams(t *testing.T) {
	_, err := NewConnector(context.Background(), LocalConnectorType, []byte("{not json"))
	assert.Error(t, err)
}
