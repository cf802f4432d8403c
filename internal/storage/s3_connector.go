package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3ConnectorParams struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

type S3Connector struct {
	client *s3.Client
	params S3ConnectorParams
}

var _ Connector = (*S3Connector)(nil)

func NewS3Connector(ctx context.Context, params S3ConnectorParams) (*S3Connector, error) {
	client, err := initializeS3Client(S3ClientConfig{
		Endpoint:        params.Endpoint,
		Region:          params.Region,
		AccessKeyID:     params.AccessKeyID,
		SecretAccessKey: params.SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize s3 client: %w", err)
	}
	slog.Info("Initialized S3 connector", "bucket", params.Bucket, "prefix", params.Prefix)

	if err := validateBucketAccess(ctx, client, params.Bucket, params.Prefix); err != nil {
		return nil, fmt.Errorf("failed to validate s3 connector params: %w", err)
	}

	return &S3Connector{
		client: client,
		params: params,
	}, nil
}

func (c *S3Connector) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	fullKey := path.Join(c.params.Prefix, key)

	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.params.Bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object s3://%s/%s: %w", c.params.Bucket, fullKey, err)
	}
	return resp.Body, nil
}
