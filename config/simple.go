package simple

import (
	"context"
	"log/slog"

	"github.com/cochaviz/uupiso/internal/artifacts"
	"github.com/cochaviz/uupiso/internal/catalog"
	"github.com/cochaviz/uupiso/internal/logging"
	"github.com/cochaviz/uupiso/internal/packaging"
	"github.com/cochaviz/uupiso/internal/request"
	"github.com/cochaviz/uupiso/internal/resolve"
	"github.com/cochaviz/uupiso/internal/services"
	"github.com/cochaviz/uupiso/internal/setup"
	"github.com/cochaviz/uupiso/internal/targets"
)

var DefaultDestDir = setup.DestDir
var DefaultWorkDir = setup.WorkDir
var DefaultConcurrency = 1

// Options tune where the services talk to and where they write.
type Options struct {
	APIBaseURL  string
	SiteBaseURL string
	Concurrency int

	DestDir      string
	WorkDir      string
	KeepWorkDir  bool
	Force        bool
	MinFreeBytes uint64
}

// Resolve validates params and returns the catalog build they select.
func Resolve(ctx context.Context, params request.Params, opts Options, logger *slog.Logger) (resolve.SelectedBuild, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")

	cfg, desc, err := lookup(params)
	if err != nil {
		return resolve.SelectedBuild{}, err
	}
	return newResolver(opts, logger).Resolve(ctx, cfg, desc)
}

// BuildISO runs the full download, conversion and publication flow.
func BuildISO(ctx context.Context, params request.Params, opts Options, logger *slog.Logger) (services.BuildResult, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")

	cfg, err := request.New(params)
	if err != nil {
		return services.BuildResult{}, err
	}
	targetCatalog, err := targets.Default()
	if err != nil {
		return services.BuildResult{}, err
	}

	if opts.DestDir == "" {
		opts.DestDir = DefaultDestDir
	}
	if opts.WorkDir == "" {
		opts.WorkDir = DefaultWorkDir
	}
	if opts.MinFreeBytes == 0 {
		opts.MinFreeBytes = setup.MinFreeBytes
	}

	service := services.BuildService{
		Logger:   logger.With("service", "build"),
		Targets:  targetCatalog,
		Resolver: newResolver(opts, logger),
		Fetcher:  packaging.NewDownloader(logger.With("component", "packaging")),
		Converter: &packaging.ScriptRunner{
			Logger: logger.With("component", "script"),
			Filter: logging.NewProgressFilter(logger.With("component", "script")),
		},
		Images:       &artifacts.ImageLister{},
		Store:        &artifacts.LocalStore{BaseDir: opts.DestDir},
		WorkDir:      opts.WorkDir,
		MinFreeBytes: opts.MinFreeBytes,
	}

	return service.Run(ctx, services.BuildRequest{Config: cfg, KeepWorkDir: opts.KeepWorkDir, Force: opts.Force})
}

// ListTargets returns the supported target names matching any of patterns.
func ListTargets(patterns ...string) ([]string, error) {
	targetCatalog, err := targets.Default()
	if err != nil {
		return nil, err
	}
	return targetCatalog.List(patterns...)
}

// ListLanguages returns the supported language codes.
func ListLanguages() []string {
	return request.SupportedLanguages()
}

func lookup(params request.Params) (request.Config, targets.Descriptor, error) {
	cfg, err := request.New(params)
	if err != nil {
		return request.Config{}, targets.Descriptor{}, err
	}
	targetCatalog, err := targets.Default()
	if err != nil {
		return request.Config{}, targets.Descriptor{}, err
	}
	desc, err := targetCatalog.Lookup(cfg.TargetName, cfg.Architecture, cfg.RequiredEdition)
	if err != nil {
		return request.Config{}, targets.Descriptor{}, err
	}
	return cfg, desc, nil
}

func newResolver(opts Options, logger *slog.Logger) *resolve.Resolver {
	client := catalog.NewClient(logger.With("component", "catalog"))
	if opts.APIBaseURL != "" {
		client.BaseURL = opts.APIBaseURL
	}

	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	return &resolve.Resolver{
		Catalog:     client,
		Logger:      logger.With("component", "resolve"),
		URLs:        resolve.URLBase{API: opts.APIBaseURL, Site: opts.SiteBaseURL},
		Concurrency: concurrency,
	}
}
