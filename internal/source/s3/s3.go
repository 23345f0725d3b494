// Package s3 pulls feed files from an S3 compatible bucket.
package s3

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/source"
)

// Adapter connects with Credentials{Host: endpoint, User: access key,
// Password: secret key}. Options: use_ssl, region.
type Adapter struct{}

func New() Adapter { return Adapter{} }

func (Adapter) Connect(_ context.Context, creds domain.Credentials, opts map[string]string) (source.Session, error) {
	if creds.Host == "" {
		return nil, fmt.Errorf("s3 source: endpoint is required")
	}
	useSSL := true
	if v, ok := opts["use_ssl"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("s3 source: use_ssl: %w", err)
		}
		useSSL = b
	}
	client, err := minio.New(creds.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(creds.User, creds.Password, ""),
		Secure: useSSL,
		Region: opts["region"],
	})
	if err != nil {
		return nil, fmt.Errorf("s3 source %s: %w", creds.Host, err)
	}
	return &session{client: client}, nil
}

type session struct {
	client *minio.Client
}

func (s *session) Transfer(ctx context.Context, req source.Request) (int, error) {
	prefix := strings.Trim(req.SourceDir, "/")
	if prefix != "" {
		prefix += "/"
	}

	if req.SkipListing {
		key := prefix + req.Pattern
		err := s.client.FGetObject(ctx, req.Container, key, filepath.Join(req.DestDir, req.Pattern), minio.GetObjectOptions{})
		if err != nil {
			if minio.ToErrorResponse(err).Code == "NoSuchKey" {
				return 0, nil
			}
			return 0, fmt.Errorf("get %s/%s: %w", req.Container, key, err)
		}
		return 1, nil
	}

	copied := 0
	for obj := range s.client.ListObjects(ctx, req.Container, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return copied, fmt.Errorf("list %s/%s: %w", req.Container, prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		name := path.Base(obj.Key)
		ok, err := source.Match(req.Pattern, name)
		if err != nil {
			return copied, err
		}
		if !ok {
			continue
		}
		if err := s.client.FGetObject(ctx, req.Container, obj.Key, filepath.Join(req.DestDir, name), minio.GetObjectOptions{}); err != nil {
			return copied, fmt.Errorf("get %s/%s: %w", req.Container, obj.Key, err)
		}
		copied++
	}
	return copied, nil
}

func (s *session) Close() error { return nil }
