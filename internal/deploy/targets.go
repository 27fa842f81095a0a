package deploy

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/coreeng/action-deploy-pipeline/internal/database"
	"github.com/coreeng/action-deploy-pipeline/internal/objectstore"
	"github.com/coreeng/action-deploy-pipeline/internal/secrets"
)

// StorageCheck verifies that the configured bucket is reachable.
func StorageCheck() Check {
	return Check{
		Name: "object-storage",
		Run: func(ctx context.Context, env Env) error {
			cfg, err := secrets.StorageFromSet(env.Secrets)
			if err != nil {
				return err
			}
			store, err := objectstore.New(cfg)
			if err != nil {
				return err
			}
			return store.CheckBucket(ctx)
		},
	}
}

// DatabaseCheck verifies that the database accepts a connection.
func DatabaseCheck(opts database.Options) Check {
	return Check{
		Name: "database",
		Run: func(ctx context.Context, env Env) error {
			cfg, err := secrets.DatabaseFromSet(env.Secrets)
			if err != nil {
				return err
			}
			return database.Ping(ctx, cfg, opts)
		},
	}
}

// Uploader is the part of objectstore.Store the upload step needs.
type Uploader interface {
	PutDir(ctx context.Context, dir, prefix string) ([]string, error)
}

// UploadDeployer publishes a directory of the checked out tree to the
// bucket. NewUploader builds the store from the run's secrets; tests
// replace it.
type UploadDeployer struct {
	Dir         string
	Prefix      string
	Out         io.Writer
	NewUploader func(cfg secrets.Storage) (Uploader, error)
}

func (d UploadDeployer) Deploy(ctx context.Context, env Env) (int, error) {
	cfg, err := secrets.StorageFromSet(env.Secrets)
	if err != nil {
		return 1, err
	}
	newUploader := d.NewUploader
	if newUploader == nil {
		newUploader = func(cfg secrets.Storage) (Uploader, error) { return objectstore.New(cfg) }
	}
	up, err := newUploader(cfg)
	if err != nil {
		return 1, err
	}

	dir := d.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(env.Workdir, dir)
	}
	keys, err := up.PutDir(ctx, dir, d.Prefix)
	if d.Out != nil {
		for _, key := range keys {
			fmt.Fprintf(d.Out, "uploaded s3://%s/%s\n", cfg.Bucket, key)
		}
	}
	if err != nil {
		return 1, fmt.Errorf("upload %s: %w", strings.TrimPrefix(dir, env.Workdir+string(filepath.Separator)), err)
	}
	return 0, nil
}
