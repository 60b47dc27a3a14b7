package vexdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/vexdb/vexdb/blobstore"
	"github.com/vexdb/vexdb/core"
)

// snapshotSuffixes is the database file set under a path prefix. The first
// two are authoritative; the rest are optional and recoverable.
var snapshotSuffixes = []struct {
	suffix   string
	optional bool
}{
	{".config", false},
	{".vectors", false},
	{".vectors.anns", true},
	{".vectors.order", true},
	{".metadata", true},
}

// SaveSnapshot saves the database and uploads the file set to store under
// prefix. Uploads run concurrently, bounded and throttled by the resource
// controller when one is configured.
func (db *DB) SaveSnapshot(ctx context.Context, store blobstore.BlobStore, prefix string) error {
	dir, err := os.MkdirTemp("", "vexdb-snapshot-*")
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, "db")
	if err := db.Save(local); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, file := range snapshotSuffixes {
		g.Go(func() error {
			data, err := db.readThrottled(gctx, local+file.suffix)
			if err != nil {
				if file.optional && errors.Is(err, os.ErrNotExist) {
					return nil
				}
				return fmt.Errorf("%w: read %s: %v", core.ErrIO, file.suffix, err)
			}
			if err := store.Put(gctx, prefix+file.suffix, data); err != nil {
				return fmt.Errorf("%w: upload %s: %v", core.ErrIO, file.suffix, err)
			}
			return nil
		})
	}
	err = g.Wait()
	db.logger.LogSave(prefix, err)
	return err
}

func (db *DB) readThrottled(ctx context.Context, path string) ([]byte, error) {
	if db.resources != nil {
		if err := db.resources.AcquireWorker(ctx); err != nil {
			return nil, err
		}
		defer db.resources.ReleaseWorker()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(db.resources.ThrottledReader(ctx, f))
}

// LoadSnapshot downloads the file set from store under prefix and loads it.
// Optional files may be absent; missing authoritative files fail.
func (db *DB) LoadSnapshot(ctx context.Context, store blobstore.BlobStore, prefix string) error {
	dir, err := os.MkdirTemp("", "vexdb-snapshot-*")
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, "db")

	g, gctx := errgroup.WithContext(ctx)
	for _, file := range snapshotSuffixes {
		g.Go(func() error {
			blob, err := store.Open(gctx, prefix+file.suffix)
			if err != nil {
				if file.optional && errors.Is(err, blobstore.ErrNotFound) {
					return nil
				}
				return fmt.Errorf("%w: download %s: %v", core.ErrIO, file.suffix, err)
			}
			defer blob.Close()

			data, err := blobstore.ReadAll(blob)
			if err != nil {
				return fmt.Errorf("%w: download %s: %v", core.ErrIO, file.suffix, err)
			}
			return os.WriteFile(local+file.suffix, data, 0o644)
		})
	}
	if err := g.Wait(); err != nil {
		db.logger.LogLoad(prefix, 0, err)
		return err
	}

	return db.Load(local)
}
