package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"issuedigest/internal/audit"
	"issuedigest/internal/config"
	"issuedigest/internal/manifest"
	"issuedigest/internal/storage"
)

// initArtifactStores returns the primary artifact store, cached for
// reads, and the mirrors that receive copies of every artifact.
func initArtifactStores(cfg *config.Config) (storage.Store, []storage.Store, error) {
	disk, err := storage.NewDiskStore(cfg.Artifact.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize artifact dir: %w", err)
	}
	log.Printf("artifact store: dir=%s", disk.Root())
	primary := storage.NewCachedStore(disk, storage.DefaultCacheConfig())

	if !cfg.Artifact.Mirror.Enabled {
		return primary, nil, nil
	}
	m := cfg.Artifact.Mirror
	s3Cfg := storage.S3Config{
		Endpoint:  m.Endpoint,
		Region:    m.Region,
		AccessKey: m.AccessKey,
		SecretKey: m.SecretKey,
		Bucket:    m.Bucket,
		Prefix:    m.Prefix,
		UseSSL:    m.UseSSL,
	}
	s3Store, err := storage.NewS3Store(s3Cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize artifact s3 mirror: %w", err)
	}
	log.Printf("artifact mirror: s3 bucket=%s endpoint=%s", s3Cfg.Bucket, s3Cfg.Endpoint)
	return primary, []storage.Store{s3Store}, nil
}

func initManifest(ctx context.Context, cfg *config.Config) (manifest.Store, error) {
	if dsn := strings.TrimSpace(cfg.Manifest.PostgresDSN); dsn != "" {
		st, err := manifest.OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open manifest db: %w", err)
		}
		log.Printf("run manifest: postgres")
		return st, nil
	}
	st, err := manifest.OpenSQLite(ctx, cfg.Manifest.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest db: %w", err)
	}
	log.Printf("run manifest: sqlite path=%s", cfg.Manifest.Path)
	return st, nil
}

// initAuditSinks returns the CSV sink and an optional Postgres mirror.
func initAuditSinks(ctx context.Context, cfg *config.Config) (*audit.CSVSink, []audit.Sink, error) {
	csvSink, err := audit.NewCSVSink(cfg.Audit.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize audit log: %w", err)
	}
	dsn := strings.TrimSpace(cfg.Audit.PostgresDSN)
	if dsn == "" {
		return csvSink, nil, nil
	}
	pg, err := audit.NewPostgresSink(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize audit db: %w", err)
	}
	return csvSink, []audit.Sink{pg}, nil
}
