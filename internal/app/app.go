package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"issuedigest/internal/artifact"
	"issuedigest/internal/audit"
	"issuedigest/internal/bundle"
	"issuedigest/internal/config"
	"issuedigest/internal/llm"
	"issuedigest/internal/manifest"
	"issuedigest/internal/metrics"
	"issuedigest/internal/pipeline"
	"issuedigest/internal/progress"
	"issuedigest/internal/server"
	"issuedigest/internal/storage"
	"issuedigest/internal/summarize"
)

// App holds every wired component. Commands use the parts they need.
type App struct {
	Config   *config.Config
	Metrics  *metrics.Metrics
	Hub      *progress.Hub
	Store    storage.Store
	Writer   *artifact.Writer
	Resolver *artifact.Resolver
	Bundler  *bundle.Packager
	Audit    *audit.Logger
	AuditLog *audit.CSVSink
	Manifest manifest.Store
	Pipeline *pipeline.Pipeline

	client llm.LLMClient
	server *server.Server
	cron   *cron.Cron
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := log.Default()
	a := &App{Config: cfg, Metrics: metrics.New(), Hub: progress.NewHub()}

	store, mirrors, err := initArtifactStores(cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.Writer = artifact.NewWriter(store, artifact.WriterOptions{
		Prefix:  cfg.Artifact.Prefix,
		Title:   cfg.Artifact.Title,
		Mirrors: mirrors,
		Logger:  logger,
		Metrics: a.Metrics,
	})
	a.Resolver = artifact.NewResolver(store, cfg.Artifact.Prefix, a.Metrics)
	a.Bundler = bundle.NewPackager(a.Resolver, store, bundle.Options{Logger: logger, Metrics: a.Metrics})

	if a.Manifest, err = initManifest(ctx, cfg); err != nil {
		return nil, err
	}

	csvSink, auditMirrors, err := initAuditSinks(ctx, cfg)
	if err != nil {
		_ = a.Manifest.Close()
		return nil, err
	}
	a.AuditLog = csvSink
	a.Audit = audit.NewLogger(csvSink, audit.Options{Mirrors: auditMirrors, Logger: logger, Metrics: a.Metrics})

	engine, client, err := newEngine(ctx, cfg.Summarizer, a.Metrics, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.client = client
	policy, err := summarize.ParsePolicy(cfg.Summarizer.Policy)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Pipeline = pipeline.New(pipeline.Options{
		Engine: engine,
		Batch: summarize.Options{
			Policy:      policy,
			Concurrency: cfg.Summarizer.Concurrency,
			ItemTimeout: cfg.Summarizer.ItemTimeout,
		},
		Writer:   a.Writer,
		Manifest: a.Manifest,
		Hub:      a.Hub,
		Metrics:  a.Metrics,
		Logger:   logger,
	})
	return a, nil
}

// Handler builds the HTTP surface over the wired components.
func (a *App) Handler() *server.Handler {
	return server.NewHandler(server.Deps{
		Store:     a.Store,
		Resolver:  a.Resolver,
		Bundler:   a.Bundler,
		Audit:     a.Audit,
		Pipeline:  a.Pipeline,
		Manifest:  a.Manifest,
		Hub:       a.Hub,
		Metrics:   a.Metrics,
		InputPath: a.Config.InputPath,
	})
}

// Start serves HTTP until Shutdown, running scheduled batches if a
// schedule is configured.
func (a *App) Start() error {
	if a.Config.Schedule != "" {
		if err := a.startSchedule(); err != nil {
			return err
		}
	}
	a.server = server.New(a.Config.Port, server.NewMux(a.Handler(), a.Config.CORSOrigins))
	return a.server.Start()
}

func (a *App) startSchedule() error {
	c := cron.New()
	_, err := c.AddFunc(a.Config.Schedule, func() {
		_, err := a.Pipeline.RunFile(context.Background(), a.Config.InputPath)
		if errors.Is(err, pipeline.ErrRunInProgress) {
			log.Printf("scheduled run skipped: %v", err)
			return
		}
		if err != nil {
			log.Printf("scheduled run failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", a.Config.Schedule, err)
	}
	c.Start()
	a.cron = c
	log.Printf("scheduled runs: %s over %s", a.Config.Schedule, a.Config.InputPath)
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.cron != nil {
		select {
		case <-a.cron.Stop().Done():
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}
	if a.server != nil {
		errs = append(errs, a.server.Shutdown(ctx))
	}
	errs = append(errs, a.Close())
	return errors.Join(errs...)
}

// Close releases the audit writer, the manifest and the LLM client.
func (a *App) Close() error {
	var errs []error
	if a.Audit != nil {
		errs = append(errs, a.Audit.Close())
	}
	if a.Manifest != nil {
		errs = append(errs, a.Manifest.Close())
	}
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	return errors.Join(errs...)
}
