// Package objectstore talks to the S3-compatible bucket (DigitalOcean Spaces
// in production) that deployments publish to.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/coreeng/action-deploy-pipeline/internal/secrets"
)

// Store wraps a client bound to one bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New builds a Store from the storage settings of a run.
func New(cfg secrets.Storage) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	host, secure, err := cfg.HostAndTLS()
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    secure,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *Store) Bucket() string { return s.bucket }

// CheckBucket fails when the bucket cannot be reached or does not exist.
func (s *Store) CheckBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket missing: %s", s.bucket)
	}
	return nil
}

// PutFile uploads one local file under key.
func (s *Store) PutFile(ctx context.Context, key, file string) error {
	key = strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(key)), "/")
	if key == "" {
		return errors.New("object key is required")
	}
	opts := minio.PutObjectOptions{ContentType: contentType(file)}
	if _, err := s.client.FPutObject(ctx, s.bucket, key, file, opts); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// PutDir uploads every regular file under dir, keyed by prefix plus the
// slash separated relative path. It returns the uploaded keys in walk order
// and stops at the first failure.
func (s *Store) PutDir(ctx context.Context, dir, prefix string) ([]string, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(files))
	for _, rel := range files {
		key := ObjectKey(prefix, rel)
		if err := s.PutFile(ctx, key, filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// ListFiles returns the slash separated paths of every regular file under
// dir, in lexical order.
func ListFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return fmt.Errorf("derive relative path for %s: %w", p, err)
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return out, nil
}

// ObjectKey joins prefix and a relative path into a bucket key.
func ObjectKey(prefix, rel string) string {
	prefix = strings.Trim(filepath.ToSlash(strings.TrimSpace(prefix)), "/")
	rel = strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(rel)), "/")
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}

func contentType(file string) string {
	if t := mime.TypeByExtension(filepath.Ext(file)); t != "" {
		return t
	}
	return "application/octet-stream"
}

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
