// Package gcs pulls feed files from Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/source"
)

// Adapter authenticates with a service account key held in
// Credentials.Password, or the credentials_file option, or application
// default credentials. The endpoint option points at an emulator.
type Adapter struct {
	extra []option.ClientOption
}

func New(extra ...option.ClientOption) Adapter { return Adapter{extra: extra} }

func (a Adapter) Connect(ctx context.Context, creds domain.Credentials, opts map[string]string) (source.Session, error) {
	clientOpts := append([]option.ClientOption{}, a.extra...)
	switch {
	case opts["endpoint"] != "":
		clientOpts = append(clientOpts, option.WithEndpoint(opts["endpoint"]), option.WithoutAuthentication())
	case creds.Password != "":
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(creds.Password)))
	case opts["credentials_file"] != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts["credentials_file"]))
	}
	// The client outlives the connect deadline.
	client, err := storage.NewClient(context.WithoutCancel(ctx), clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &session{client: client}, nil
}

type session struct {
	client *storage.Client
}

func (s *session) Transfer(ctx context.Context, req source.Request) (int, error) {
	bucket := s.client.Bucket(req.Container)
	prefix := strings.Trim(req.SourceDir, "/")
	if prefix != "" {
		prefix += "/"
	}

	if req.SkipListing {
		n, err := s.fetch(ctx, bucket, prefix+req.Pattern, req.DestDir, req.Pattern)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, nil
		}
		return n, err
	}

	copied := 0
	it := bucket.Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return copied, fmt.Errorf("list gs://%s/%s: %w", req.Container, prefix, err)
		}
		if attrs.Name == "" {
			continue // synthetic directory entry
		}
		name := path.Base(attrs.Name)
		ok, err := source.Match(req.Pattern, name)
		if err != nil {
			return copied, err
		}
		if !ok {
			continue
		}
		n, err := s.fetch(ctx, bucket, attrs.Name, req.DestDir, name)
		if err != nil {
			return copied, err
		}
		copied += n
	}
	return copied, nil
}

func (s *session) fetch(ctx context.Context, bucket *storage.BucketHandle, object, destDir, name string) (int, error) {
	r, err := bucket.Object(object).NewReader(ctx)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", object, err)
	}
	defer r.Close()
	if err := source.WriteFile(destDir, name, r); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *session) Close() error { return s.client.Close() }
