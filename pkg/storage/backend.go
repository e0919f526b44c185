// Package storage persists exported placement reports.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	vmaws "github.com/DrSkyle/vmplace/pkg/providers/aws"
)

// ErrInvalidKey is returned for keys that would escape the store root.
var ErrInvalidKey = errors.New("invalid blob key")

// BlobStore defines the interface for abstract storage backends.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Open resolves a destination: "s3://bucket/prefix" opens an S3Store using
// the shared AWS configuration, anything else (optionally "file://") is a
// local directory.
func Open(ctx context.Context, dest, region, profile string) (BlobStore, error) {
	if !strings.Contains(dest, "://") {
		return NewLocalStore(dest), nil
	}
	u, err := url.Parse(dest)
	if err != nil {
		return nil, fmt.Errorf("invalid storage destination %q: %w", dest, err)
	}
	switch u.Scheme {
	case "file":
		return NewLocalStore(u.Path), nil
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("invalid storage destination %q: missing bucket", dest)
		}
		cfg, err := vmaws.LoadConfig(ctx, region, profile, false)
		if err != nil {
			return nil, err
		}
		client := s3.NewFromConfig(cfg, func(o *s3.Options) {
			// localstack and other endpoint overrides serve path-style only.
			o.UsePathStyle = cfg.BaseEndpoint != nil
		})
		return &S3Store{Client: client, Bucket: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
	default:
		return nil, fmt.Errorf("unsupported storage scheme %q", u.Scheme)
	}
}

func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return key, nil
}
