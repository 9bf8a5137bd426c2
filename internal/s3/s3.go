package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

type Client struct {
	client *minio.Client
}

func NewMinioClient(endpoint, accessKey, secretKey string, secure bool) (*Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Client{client: client}, nil
}

// EnsureBucketExists создаёт бакет, если его ещё нет
func (c *Client) EnsureBucketExists(ctx context.Context, bucket string) error {
	exists, err := c.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	log.Info().Msgf("S3: bucket %s created", bucket)
	return nil
}

// UploadEvidence mirrors a saved evidence image into the bucket under
// <sourceID>/<file name> and returns the object key.
func (c *Client) UploadEvidence(ctx context.Context, bucket, sourceID, localPath string) (string, error) {
	key := sourceID + "/" + filepath.Base(localPath)

	_, err := c.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload evidence to S3: %w", err)
	}

	return key, nil
}

// ListObjects возвращает ключи всех файлов под префиксом
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	objectCh := c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var keys []string
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %w", object.Err)
		}

		// Пропускаем саму папку (если она есть в списке)
		if strings.HasSuffix(object.Key, "/") {
			continue
		}

		keys = append(keys, object.Key)
	}

	return keys, nil
}

func (c *Client) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, obj); err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}

	return buf.Bytes(), nil
}

// SplitURL splits s3://bucket/prefix (or http://host/bucket/prefix) into
// bucket and prefix.
func SplitURL(fileURL string) (bucket, prefix string, err error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", "", err
	}

	path := strings.TrimPrefix(u.Path, "/")
	if u.Scheme == "s3" {
		if u.Host == "" {
			return "", "", fmt.Errorf("missing bucket in %s", fileURL)
		}
		return u.Host, path, nil
	}

	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("expected /bucket/prefix in %s", fileURL)
	}
	return parts[0], parts[1], nil
}
