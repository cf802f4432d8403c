package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Connector provides read access to a source dataset: the annotation files
// (data.json, split files) and the image tree they reference. Keys are
// slash-separated paths relative to the dataset root.
type Connector interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
}

type connectorType string

const (
	LocalConnectorType connectorType = "local"
	S3ConnectorType    connectorType = "s3"
	HTTPConnectorType  connectorType = "http"
)

func ToConnectorType(typeString string) (connectorType, error) {
	switch typeString {
	case string(LocalConnectorType):
		return LocalConnectorType, nil
	case string(S3ConnectorType):
		return S3ConnectorType, nil
	case string(HTTPConnectorType):
		return HTTPConnectorType, nil
	}
	return "", fmt.Errorf("unknown connector type: %s", typeString)
}

func NewConnector(ctx context.Context, connectorType connectorType, params []byte) (Connector, error) {
	switch connectorType {
	case LocalConnectorType:
		var localConnectorParams LocalConnectorParams
		if err := json.Unmarshal(params, &localConnectorParams); err != nil {
			return nil, err
		}
		return NewLocalConnector(localConnectorParams)

	case S3ConnectorType:
		var s3ConnectorParams S3ConnectorParams
		if err := json.Unmarshal(params, &s3ConnectorParams); err != nil {
			return nil, err
		}
		return NewS3Connector(ctx, s3ConnectorParams)

	case HTTPConnectorType:
		var httpConnectorParams HTTPConnectorParams
		if err := json.Unmarshal(params, &httpConnectorParams); err != nil {
			return nil, err
		}
		return NewHTTPConnector(httpConnectorParams)

	default:
		return nil, fmt.Errorf("unknown connector type: %s", connectorType)
	}
}
