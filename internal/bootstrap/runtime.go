// Package bootstrap connects the external dependencies shared by commands.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"intouch/internal/cache"
	"intouch/internal/config"
	"intouch/internal/database"
	"intouch/internal/storage"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SkipBlobs leaves the blob store unset, for commands that only touch SQL.
	SkipBlobs bool
}

// Runtime holds the connected dependencies.
type Runtime struct {
	DB    *gorm.DB
	Redis *redis.Client
	Blobs storage.BlobStore
}

// InitRuntime connects to the database, Redis and the blob store in parallel.
// Redis is optional: an unreachable server leaves Runtime.Redis nil. An empty
// BLOB_BUCKET selects the in-memory store.
func InitRuntime(cfg *config.Config, opts Options) (*Runtime, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rt := &Runtime{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		db, err := database.Connect(cfg)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		rt.DB = db
		return nil
	})

	g.Go(func() error {
		cache.InitRedis(cfg.RedisURL)
		rt.Redis = cache.GetClient()
		return nil
	})

	if !opts.SkipBlobs {
		g.Go(func() error {
			blobs, err := openBlobs(gctx, cfg)
			if err != nil {
				return fmt.Errorf("blob store init failed: %w", err)
			}
			rt.Blobs = blobs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rt, nil
}

func openBlobs(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	if cfg.BlobBucket == "" {
		log.Println("BLOB_BUCKET is empty; storing uploads in memory")
		return storage.NewMemoryStore(), nil
	}
	s3, err := storage.NewS3Store(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := s3.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %q: %w", cfg.BlobBucket, err)
	}
	return s3, nil
}
