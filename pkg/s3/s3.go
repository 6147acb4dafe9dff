package s3

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStorageClient downloads firmware images from an S3 compatible store.
type ObjectStorageClient interface {
	Connect(endpoint, accessKeyID, secretAccessKey string, useSSL bool) error
	Download(ctx context.Context, bucket, object, outputPath string) error
}

// ObjectStorage holds the object storage client instance.
type ObjectStorage struct {
	Conn *minio.Client
}

// NewObjectStorage creates an unconnected client.
func NewObjectStorage() *ObjectStorage {
	return &ObjectStorage{}
}

// Connect creates the client. No request is made until the first download.
func (o *ObjectStorage) Connect(endpoint, accessKeyID, secretAccessKey string, useSSL bool) error {
	conn, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create minio client: %w", err)
	}
	o.Conn = conn
	return nil
}

// Download writes bucket/object to outputPath.
func (o *ObjectStorage) Download(ctx context.Context, bucket, object, outputPath string) error {
	if o.Conn == nil {
		return fmt.Errorf("object storage is not connected")
	}
	if err := o.Conn.FGetObject(ctx, bucket, object, outputPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download %s/%s: %w", bucket, object, err)
	}
	return nil
}
