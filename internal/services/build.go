// Package services orchestrates a full ISO build from a validated request.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cochaviz/uupiso/internal/artifacts"
	"github.com/cochaviz/uupiso/internal/packaging"
	"github.com/cochaviz/uupiso/internal/request"
	"github.com/cochaviz/uupiso/internal/resolve"
	"github.com/cochaviz/uupiso/internal/setup"
	"github.com/cochaviz/uupiso/internal/targets"
)

type Resolver interface {
	Resolve(ctx context.Context, cfg request.Config, desc targets.Descriptor) (resolve.SelectedBuild, error)
}

type PackageFetcher interface {
	Fetch(ctx context.Context, build resolve.SelectedBuild, dir string) error
}

type Converter interface {
	Run(ctx context.Context, dir string) error
}

type ImageLister interface {
	List(ctx context.Context, path string) ([]artifacts.ImageInfo, error)
}

var (
	_ Resolver        = (*resolve.Resolver)(nil)
	_ PackageFetcher  = (*packaging.Downloader)(nil)
	_ Converter       = (*packaging.ScriptRunner)(nil)
	_ ImageLister     = (*artifacts.ImageLister)(nil)
	_ artifacts.Store = (*artifacts.LocalStore)(nil)
)

type BuildService struct {
	Logger    *slog.Logger
	Targets   *targets.Catalog
	Resolver  Resolver
	Fetcher   PackageFetcher
	Converter Converter
	Images    ImageLister
	Store     artifacts.Store

	WorkDir      string
	MinFreeBytes uint64

	// Hooks for host and package side effects; nil uses the real ones.
	SpaceCheck func(dir string, need uint64) error
	Configure  func(dir string, opts packaging.Options) error
}

// Run resolves the request, converts the selected build and publishes the
// resulting ISO. Any failing step aborts the run before publication.
func (s *BuildService) Run(ctx context.Context, req BuildRequest) (BuildResult, error) {
	if err := s.validate(); err != nil {
		return BuildResult{}, err
	}
	cfg := req.Config
	runID := uuid.NewString()

	logger := s.logger().With(
		"run_id", runID,
		"target", cfg.TargetName,
		"architecture", cfg.Architecture.String(),
		"language", cfg.Language,
	)

	desc, err := s.Targets.Lookup(cfg.TargetName, cfg.Architecture, cfg.RequiredEdition)
	if err != nil {
		return BuildResult{}, err
	}

	selected, err := s.Resolver.Resolve(ctx, cfg, desc)
	if err != nil {
		return BuildResult{}, fmt.Errorf("resolve %s: %w", cfg.TargetName, err)
	}
	logger = logger.With("id", selected.ID, "build", selected.Build)
	logger.Info("starting ISO build", "title", selected.Title, "edition", selected.Edition)

	if err := s.spaceCheck()(s.WorkDir, s.MinFreeBytes); err != nil {
		return BuildResult{}, err
	}

	workDir := filepath.Join(s.WorkDir, runID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return BuildResult{}, fmt.Errorf("create work directory: %w", err)
	}
	result := BuildResult{RunID: runID, Build: selected}
	if req.KeepWorkDir {
		result.WorkDir = workDir
		logger.Info("keeping work directory", "dir", workDir)
	} else {
		defer func() {
			if err := os.RemoveAll(workDir); err != nil {
				logger.Warn("failed to remove work directory", "dir", workDir, "error", err)
			}
		}()
	}

	if err := s.Fetcher.Fetch(ctx, selected, workDir); err != nil {
		return BuildResult{}, fmt.Errorf("fetch package: %w", err)
	}
	if err := s.configure()(workDir, packaging.OptionsFor(cfg, selected)); err != nil {
		return BuildResult{}, fmt.Errorf("configure package: %w", err)
	}
	logger.Info("conversion package ready")

	if err := s.Converter.Run(ctx, workDir); err != nil {
		return BuildResult{}, fmt.Errorf("convert: %w", err)
	}

	isoPath, err := packaging.FindISO(workDir)
	if err != nil {
		return BuildResult{}, err
	}
	payload, images, err := s.verifyImages(ctx, logger, isoPath, workDir, selected.Build)
	if err != nil {
		return BuildResult{}, err
	}

	sum, err := artifacts.Sha256sum(isoPath)
	if err != nil {
		return BuildResult{}, err
	}

	if err := ctx.Err(); err != nil {
		return BuildResult{}, err
	}

	metadata := artifacts.Metadata{
		RunID:          runID,
		Target:         selected.Name,
		Title:          selected.Title,
		Build:          selected.Build,
		Edition:        selected.Edition,
		VirtualEdition: selected.VirtualEdition,
		Language:       cfg.Language,
		Architecture:   cfg.Architecture.String(),
		Payload:        payload,
		Images:         images,
		ImagesVerified: images != nil,
		SHA256:         sum,
		APIURL:         selected.APIURL,
		DownloadURL:    selected.DownloadURL,
		CreatedAt:      requestTime(req),
	}
	name := ArtifactName(cfg, selected)
	if req.Force {
		if err := s.Store.Remove(name); err != nil {
			return BuildResult{}, fmt.Errorf("remove previous ISO: %w", err)
		}
		logger.Info("replacing previously published ISO", "name", name)
	}
	published, err := s.Store.Publish(isoPath, name, metadata)
	if err != nil {
		return BuildResult{}, fmt.Errorf("publish ISO: %w", err)
	}

	logger.Info("published ISO", "iso", published.ISO, "sha256", sum, "images", len(images))
	result.Published = published
	result.Metadata = metadata
	return result, nil
}

// verifyImages checks that the install image of the ISO carries build. When
// the ISO has no readable ISO 9660 install image, as with UDF-only masters,
// the check is skipped and nil images are returned.
func (s *BuildService) verifyImages(ctx context.Context, logger *slog.Logger, isoPath, workDir, build string) (artifacts.Payload, []artifacts.ImageInfo, error) {
	payload, err := artifacts.Inspect(isoPath)
	if errors.Is(err, artifacts.ErrNoInstallImage) {
		logger.Warn("install image not readable through ISO 9660, skipping image check", "iso", isoPath, "error", err)
		return artifacts.Payload{}, nil, nil
	}
	if err != nil {
		return artifacts.Payload{}, nil, err
	}
	logger.Info("conversion produced ISO", "iso", isoPath, "payload", payload.Path, "payload_size", payload.Size)

	payloadPath, err := artifacts.ExtractPayload(isoPath, filepath.Join(workDir, "payload"))
	if err != nil {
		return artifacts.Payload{}, nil, err
	}
	defer func() {
		if err := os.Remove(payloadPath); err != nil {
			logger.Warn("failed to remove extracted payload", "path", payloadPath, "error", err)
		}
	}()

	images, err := s.Images.List(ctx, payloadPath)
	if err != nil {
		return artifacts.Payload{}, nil, fmt.Errorf("list images: %w", err)
	}
	if err := artifacts.CheckBuild(images, build); err != nil {
		return artifacts.Payload{}, nil, err
	}
	return payload, images, nil
}

// ArtifactName is the base name an ISO is published under, for example
// windows-11_26100.1742_x64_en-us_professional.
func ArtifactName(cfg request.Config, build resolve.SelectedBuild) string {
	parts := []string{
		build.Name,
		build.Build,
		cfg.Architecture.String(),
		cfg.Language,
		strings.ToLower(build.Edition),
	}
	if build.VirtualEdition != "" {
		parts = append(parts, strings.ToLower(build.VirtualEdition))
	}
	return strings.Join(parts, "_")
}

func (s *BuildService) validate() error {
	var missing []string
	if s.Targets == nil {
		missing = append(missing, "target catalog")
	}
	if s.Resolver == nil {
		missing = append(missing, "resolver")
	}
	if s.Fetcher == nil {
		missing = append(missing, "package fetcher")
	}
	if s.Converter == nil {
		missing = append(missing, "converter")
	}
	if s.Images == nil {
		missing = append(missing, "image lister")
	}
	if s.Store == nil {
		missing = append(missing, "artifact store")
	}
	if s.WorkDir == "" {
		missing = append(missing, "work directory")
	}
	if len(missing) > 0 {
		return errors.New("build service is missing: " + strings.Join(missing, ", "))
	}
	return nil
}

func (s *BuildService) spaceCheck() func(string, uint64) error {
	if s.SpaceCheck != nil {
		return s.SpaceCheck
	}
	return setup.EnsureFreeSpace
}

func (s *BuildService) configure() func(string, packaging.Options) error {
	if s.Configure != nil {
		return s.Configure
	}
	return packaging.Configure
}

func requestTime(req BuildRequest) time.Time {
	if req.RequestedAt.IsZero() {
		return time.Now().UTC()
	}
	return req.RequestedAt.UTC()
}

func (s *BuildService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
