package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type LocalConnectorParams struct {
	BaseDir string
}

type LocalConnector struct {
	params LocalConnectorParams
}

var _ Connector = (*LocalConnector)(nil)

func NewLocalConnector(params LocalConnectorParams) (*LocalConnector, error) {
	info, err := os.Stat(params.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to access dataset directory %s: %w", params.BaseDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dataset path %s is not a directory", params.BaseDir)
	}

	return &LocalConnector{params: params}, nil
}

func (c *LocalConnector) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(c.params.BaseDir, filepath.FromSlash(key)))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s/%s: %w", c.params.BaseDir, key, err)
	}
	return file, nil
}
