package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type HTTPConnectorParams struct {
	// BaseURL is the dataset root, e.g. a public mirror hosting data.json and
	// the image tree under the same prefix.
	BaseURL string
}

// HTTPConnector reads a dataset hosted behind plain HTTP(S). It is mostly
// useful for pulling annotation files from a public mirror without staging
// them in object storage first.
type HTTPConnector struct {
	client *resty.Client
}

var _ Connector = (*HTTPConnector)(nil)

func NewHTTPConnector(params HTTPConnectorParams) (*HTTPConnector, error) {
	if params.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(params.BaseURL, "/")).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second).
		SetTimeout(5 * time.Minute)

	return &HTTPConnector{client: client}, nil
}

func (c *HTTPConnector) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	res, err := c.client.R().
		SetContext(ctx).
		Get("/" + strings.TrimPrefix(key, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", key, err)
	}

	if !res.IsSuccess() {
		return nil, fmt.Errorf("failed to fetch %s: status %d", key, res.StatusCode())
	}

	return io.NopCloser(bytes.NewReader(res.Body())), nil
}
