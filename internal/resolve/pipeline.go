// Package resolve selects exactly one catalog build for a request.
//
// Resolution runs four stages over the builds returned by a catalog search:
// fetch, preview gate, enrichment (languages, ring and editions per build)
// and a final ring/language/edition filter. The first candidate in catalog
// order to pass the final filter is selected.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cochaviz/uupiso/internal/catalog"
	"github.com/cochaviz/uupiso/internal/request"
	"github.com/cochaviz/uupiso/internal/targets"
)

// Catalog is the subset of the catalog client used during resolution.
type Catalog interface {
	ListBuilds(ctx context.Context, search string) ([]catalog.Build, error)
	ListLanguages(ctx context.Context, id string) (catalog.Languages, error)
	ListEditions(ctx context.Context, id, lang string) ([]string, error)
}

var _ Catalog = (*catalog.Client)(nil)

// Alternate labels the catalog uses for the dev and beta channels.
var devRingAliases = []string{"WIF", "WIS"}

// Candidate is a catalog build moving through the pipeline.
type Candidate struct {
	UUID  string
	Build string
	Title string

	// Set during enrichment.
	Languages []string
	Ring      string
	Editions  []string
}

// Resolver runs the selection pipeline against a catalog.
type Resolver struct {
	Catalog Catalog
	Logger  *slog.Logger
	URLs    URLBase
	// Concurrency bounds parallel enrichment; values below 2 enrich sequentially.
	Concurrency int
}

// Resolve returns the selected build for cfg and desc. It fails with
// ErrNoMatchingBuild when nothing survives, ErrUnexpectedCatalogState for
// inconsistent catalog data, and passes through catalog.ErrCatalogUnavailable
// and context errors.
func (r *Resolver) Resolve(ctx context.Context, cfg request.Config, desc targets.Descriptor) (SelectedBuild, error) {
	if r.Catalog == nil {
		return SelectedBuild{}, errors.New("catalog client is not configured")
	}

	logger := r.logger().With(
		"target", desc.Name,
		"search", desc.SearchTerm,
		"language", cfg.Language,
		"edition", desc.RequiredEdition,
	)
	if desc.HasRing() {
		logger = logger.With("ring", string(desc.Ring))
	}

	builds, err := r.Catalog.ListBuilds(ctx, desc.SearchTerm)
	if err != nil {
		return SelectedBuild{}, fmt.Errorf("search builds: %w", catalogError(err))
	}
	logger.Info("catalog search returned candidates", "count", len(builds))

	candidates := make([]Candidate, 0, len(builds))
	for _, build := range builds {
		candidates = append(candidates, Candidate{
			UUID:  build.UUID,
			Build: build.Build.String(),
			Title: build.Title,
		})
	}
	examined := len(candidates)

	candidates = previewGate(logger, cfg, desc, candidates)

	if err := r.enrichAll(ctx, logger, cfg, candidates); err != nil {
		return SelectedBuild{}, err
	}

	for _, candidate := range candidates {
		if accept(logger, cfg, desc, candidate) {
			selected := NewSelectedBuild(r.URLs, cfg, desc, candidate)
			logger.Info("selected build", "id", selected.ID, "build", selected.Build, "title", selected.Title)
			return selected, nil
		}
	}

	return SelectedBuild{}, &NoMatchingBuildError{
		Search:     desc.SearchTerm,
		Language:   cfg.Language,
		Ring:       string(desc.Ring),
		Edition:    desc.RequiredEdition,
		Candidates: examined,
	}
}

// previewGate drops preview builds from non-preview requests, unless the
// target's own search term asks for previews.
func previewGate(logger *slog.Logger, cfg request.Config, desc targets.Descriptor, candidates []Candidate) []Candidate {
	if cfg.IsPreview || containsFold(desc.SearchTerm, "preview") {
		return candidates
	}

	kept := candidates[:0]
	for _, candidate := range candidates {
		if containsFold(candidate.Title, "preview") {
			logger.Info("skipping candidate: preview build for non-preview target",
				"id", candidate.UUID, "build", candidate.Build, "title", candidate.Title)
			continue
		}
		kept = append(kept, candidate)
	}
	return kept
}

func (r *Resolver) enrichAll(ctx context.Context, logger *slog.Logger, cfg request.Config, candidates []Candidate) error {
	if r.Concurrency < 2 {
		for i := range candidates {
			if err := r.enrich(ctx, logger, cfg, &candidates[i]); err != nil {
				return err
			}
		}
		return nil
	}

	// Each goroutine owns one slice element, so catalog order is kept.
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.Concurrency)
	for i := range candidates {
		candidate := &candidates[i]
		group.Go(func() error {
			return r.enrich(groupCtx, logger, cfg, candidate)
		})
	}
	if err := group.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (r *Resolver) enrich(ctx context.Context, logger *slog.Logger, cfg request.Config, candidate *Candidate) error {
	langs, err := r.Catalog.ListLanguages(ctx, candidate.UUID)
	if err != nil {
		return fmt.Errorf("list languages of %s: %w", candidate.UUID, catalogError(err))
	}
	if langs.Build != candidate.Build {
		return &IntegrityError{ID: candidate.UUID, Expected: candidate.Build, Actual: langs.Build}
	}

	candidate.Languages = langs.Codes
	candidate.Ring = langs.Ring

	if !langs.Contains(cfg.Language) {
		// The editions endpoint is meaningless for a language the build lacks.
		candidate.Editions = nil
		logger.Debug("language not offered; skipping editions lookup", "id", candidate.UUID)
		return nil
	}

	editions, err := r.Catalog.ListEditions(ctx, candidate.UUID, cfg.Language)
	if err != nil {
		return fmt.Errorf("list editions of %s: %w", candidate.UUID, catalogError(err))
	}
	candidate.Editions = editions
	return nil
}

// accept applies the ring, language and edition filters, logging the first
// failing condition.
func accept(logger *slog.Logger, cfg request.Config, desc targets.Descriptor, candidate Candidate) bool {
	logger = logger.With("id", candidate.UUID, "build", candidate.Build)

	if desc.HasRing() && !RingMatches(desc.Ring, cfg.RingLower, candidate.Ring) {
		logger.Info("skipping candidate: ring mismatch",
			"expected_ring", string(desc.Ring), "actual_ring", candidate.Ring)
		return false
	}

	if !slices.Contains(candidate.Languages, cfg.Language) {
		logger.Info("skipping candidate: language not available",
			"expected_language", cfg.Language, "available_languages", strings.Join(candidate.Languages, ","))
		return false
	}

	if !EditionMatches(desc.RequiredEdition, candidate.Editions) {
		logger.Info("skipping candidate: edition not available",
			"expected_edition", desc.RequiredEdition, "available_editions", strings.Join(candidate.Editions, ","))
		return false
	}
	return true
}

// RingMatches compares the catalog-reported ring with the expected one. Dev
// and beta requests also accept the catalog's WIF/WIS labels.
func RingMatches(expected targets.Ring, ringLower, actual string) bool {
	if strings.EqualFold(actual, string(expected)) {
		return true
	}
	if ringLower == "dev" || ringLower == "beta" {
		for _, alias := range devRingAliases {
			if strings.EqualFold(actual, alias) {
				return true
			}
		}
	}
	return false
}

// EditionMatches reports whether editions satisfies required. Multi images
// can be composed from either base edition.
func EditionMatches(required string, editions []string) bool {
	if strings.EqualFold(required, request.EditionMulti) {
		return hasEdition(editions, request.EditionProfessional) || hasEdition(editions, request.EditionCore)
	}
	return hasEdition(editions, required)
}

func hasEdition(editions []string, name string) bool {
	return slices.ContainsFunc(editions, func(edition string) bool {
		return strings.EqualFold(edition, name)
	})
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// catalogError classifies catalog-reported API errors as unexpected state.
func catalogError(err error) error {
	var apiErr *catalog.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", ErrUnexpectedCatalogState, err)
	}
	return err
}

func (r *Resolver) logger() *slog.Logger {
	if r != nil && r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
