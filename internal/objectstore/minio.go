package objectstore

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rudolphlogin/feedload/internal/domain"
)

// MinioStore talks to any S3 compatible endpoint.
type MinioStore struct {
	client *minio.Client
	clock  func() time.Time
}

func NewMinioStore(d domain.Destination) (*MinioStore, error) {
	if err := ValidateDestination(d); err != nil {
		return nil, err
	}
	region := d.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(d.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(d.AccessKey, d.SecretKey, ""),
		Secure:    d.UseSSL,
		Region:    region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("minio client %s: %w", d.Endpoint, err)
	}
	return &MinioStore{client: client, clock: time.Now}, nil
}

// Upload overwrites key, so re-uploading the same file never duplicates it.
func (s *MinioStore) Upload(ctx context.Context, container, key, localPath string) error {
	_, err := s.client.FPutObject(ctx, container, key, localPath, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("upload %s to %s/%s: %w", localPath, container, key, err)
	}
	return nil
}

func (s *MinioStore) List(ctx context.Context, container, prefix string) (domain.ObjectSnapshot, error) {
	takenAt := s.clock()
	var names []string
	for obj := range s.client.ListObjects(ctx, container, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return domain.ObjectSnapshot{}, fmt.Errorf("list %s/%s: %w", container, prefix, obj.Err)
		}
		names = append(names, obj.Key)
	}
	return domain.NewObjectSnapshot(container, prefix, names, takenAt), nil
}

func (s *MinioStore) Delete(ctx context.Context, container, key string) error {
	if err := s.client.RemoveObject(ctx, container, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", container, key, err)
	}
	return nil
}

// Client exposes the underlying client to the s3 source adapter.
func (s *MinioStore) Client() *minio.Client { return s.client }

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
