package resolve

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/uupiso/internal/catalog"
	"github.com/cochaviz/uupiso/internal/request"
	"github.com/cochaviz/uupiso/internal/targets"
)

type fakeCatalog struct {
	mu sync.Mutex

	builds   []catalog.Build
	langs    map[string]catalog.Languages
	editions map[string][]string
	delays   map[string]time.Duration
	listErr  error

	searches     []string
	langCalls    []string
	editionCalls []string
}

func (f *fakeCatalog) ListBuilds(_ context.Context, search string) ([]catalog.Build, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, search)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]catalog.Build(nil), f.builds...), nil
}

func (f *fakeCatalog) ListLanguages(ctx context.Context, id string) (catalog.Languages, error) {
	if delay := f.delays[id]; delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return catalog.Languages{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.langCalls = append(f.langCalls, id)
	langs, ok := f.langs[id]
	if !ok {
		return catalog.Languages{}, &catalog.APIError{Endpoint: catalog.EndpointListLanguages, Code: "UNKNOWN_ID"}
	}
	return langs, nil
}

func (f *fakeCatalog) ListEditions(_ context.Context, id, lang string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editionCalls = append(f.editionCalls, id+"/"+lang)
	return f.editions[id], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustConfig(t *testing.T, target, edition, lang string) request.Config {
	t.Helper()
	cfg, err := request.New(request.Params{
		Target:       target,
		Architecture: "x64",
		Edition:      edition,
		Language:     lang,
	})
	require.NoError(t, err)
	return cfg
}

func mustDescriptor(t *testing.T, cfg request.Config) targets.Descriptor {
	t.Helper()
	table, err := targets.Default()
	require.NoError(t, err)
	desc, err := table.Lookup(cfg.TargetName, cfg.Architecture, cfg.RequiredEdition)
	require.NoError(t, err)
	return desc
}

func build(id, number, title string) catalog.Build {
	return catalog.Build{UUID: id, Build: catalog.FlexString(number), Title: title}
}

func langs(number, ring string, codes ...string) catalog.Languages {
	return catalog.Languages{Codes: codes, Build: number, Ring: ring}
}

func TestResolveSingleProfessionalBuild(t *testing.T) {
	fake := &fakeCatalog{
		builds:   []catalog.Build{build("uuid-1", "26100.1742", "Windows 11, version 24H2 (26100.1742) amd64")},
		langs:    map[string]catalog.Languages{"uuid-1": langs("26100.1742", "RETAIL", "de-de", "en-us")},
		editions: map[string][]string{"uuid-1": {"CORE", "PROFESSIONAL"}},
	}
	cfg := mustConfig(t, "windows-11", "pro", "en-us")
	resolver := &Resolver{Catalog: fake, Logger: discardLogger()}

	selected, err := resolver.Resolve(context.Background(), cfg, mustDescriptor(t, cfg))
	require.NoError(t, err)

	assert.Equal(t, []string{"windows 11 26100 amd64"}, fake.searches)
	assert.Equal(t, "uuid-1", selected.ID)
	assert.Equal(t, "windows-11", selected.Name)
	assert.Equal(t, "Professional", selected.Edition)
	assert.Equal(t, "26100.1742", selected.Build)
	assert.Contains(t, selected.DownloadURL, "edition=Professional&pack=en-us")
	assert.Equal(t, "https://uupdump.net/download.php?id=uuid-1&edition=Professional&pack=en-us", selected.DownloadURL)
	assert.Equal(t, "https://uupdump.net/get.php?id=uuid-1&edition=Professional&pack=en-us", selected.DownloadPackageURL)
	assert.Equal(t, "https://api.uupdump.net/get.php?id=uuid-1&edition=Professional&lang=en-us", selected.APIURL)
	assert.Empty(t, selected.VirtualEdition)
}

func TestResolvePreviewGate(t *testing.T) {
	fake := &fakeCatalog{
		builds: []catalog.Build{
			build("preview", "26100.2", "Windows 11 Insider PREVIEW 26100.2"),
			build("retail", "26100.1", "Windows 11, version 24H2"),
		},
		langs: map[string]catalog.Languages{
			"preview": langs("26100.2", "RETAIL", "en-us"),
			"retail":  langs("26100.1", "RETAIL", "en-us"),
		},
		editions: map[string][]string{"preview": {"PROFESSIONAL"}, "retail": {"PROFESSIONAL"}},
	}
	cfg := mustConfig(t, "windows-11", "pro", "en-us")
	desc := mustDescriptor(t, cfg)
	resolver := &Resolver{Catalog: fake, Logger: discardLogger()}

	selected, err := resolver.Resolve(context.Background(), cfg, desc)
	require.NoError(t, err)
	assert.Equal(t, "retail", selected.ID)
	assert.NotContains(t, fake.langCalls, "preview")

	// A target that searches for previews explicitly keeps them.
	fake.langCalls = nil
	desc.SearchTerm = "windows 11 preview amd64"
	selected, err = resolver.Resolve(context.Background(), cfg, desc)
	require.NoError(t, err)
	assert.Equal(t, "preview", selected.ID)
}

func TestResolvePreviewRequestKeepsPreviewBuilds(t *testing.T) {
	fake := &fakeCatalog{
		builds:   []catalog.Build{build("beta", "26120.1", "Windows 11 Insider Preview 26120.1 (ge_release)")},
		langs:    map[string]catalog.Languages{"beta": langs("26120.1", "Beta", "en-us")},
		editions: map[string][]string{"beta": {"PROFESSIONAL"}},
	}
	cfg := mustConfig(t, "windows-11beta", "pro", "en-us")
	resolver := &Resolver{Catalog: fake, Logger: discardLogger()}

	selected, err := resolver.Resolve(context.Background(), cfg, mustDescriptor(t, cfg))
	require.NoError(t, err)
	assert.Equal(t, "beta", selected.ID)
}

func TestResolveRingFilter(t *testing.T) {
	cfg := mustConfig(t, "windows-11beta", "pro", "en-us")
	desc := mustDescriptor(t, cfg)

	testCases := []struct {
		ring    string
		matches bool
	}{
		{"Beta", true},
		{"BETA", true},
		{"WIF", true},
		{"WIS", true},
		{"Retail", false},
		{"", false},
	}

	for _, tc := range testCases {
		t.Run(tc.ring, func(t *testing.T) {
			fake := &fakeCatalog{
				builds:   []catalog.Build{build("id", "26120.1", "Windows 11 Insider Preview")},
				langs:    map[string]catalog.Languages{"id": langs("26120.1", tc.ring, "en-us")},
				editions: map[string][]string{"id": {"PROFESSIONAL"}},
			}
			resolver := &Resolver{Catalog: fake, Logger: discardLogger()}

			_, err := resolver.Resolve(context.Background(), cfg, desc)
			if tc.matches {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNoMatchingBuild))
			var noMatch *NoMatchingBuildError
			require.ErrorAs(t, err, &noMatch)
			assert.Equal(t, "windows 11 26120 amd64", noMatch.Search)
			assert.Equal(t, "en-us", noMatch.Language)
			assert.Equal(t, "Beta", noMatch.Ring)
			assert.Equal(t, "Professional", noMatch.Edition)
			assert.Equal(t, 1, noMatch.Candidates)
		})
	}
}

func TestRingMatches(t *testing.T) {
	assert.True(t, RingMatches(targets.RingDev, "dev", "WIF"))
	assert.True(t, RingMatches(targets.RingDev, "dev", "wis"))
	assert.True(t, RingMatches(targets.RingDev, "dev", "Dev"))
	assert.False(t, RingMatches(targets.RingDev, "dev", "Retail"))
	assert.True(t, RingMatches(targets.RingWif, "dev", "WIF"))
	assert.True(t, RingMatches(targets.RingWif, "dev", "WIS"))
	assert.False(t, RingMatches(targets.RingWif, "dev", "Dev"))
	assert.True(t, RingMatches(targets.RingCanary, "canary", "CANARY"))
	assert.False(t, RingMatches(targets.RingCanary, "canary", "WIF"))
	assert.False(t, RingMatches(targets.RingCanary, "canary", "Dev"))
}

func TestEditionMatches(t *testing.T) {
	assert.True(t, EditionMatches("Multi", []string{"CORE"}))
	assert.True(t, EditionMatches("Multi", []string{"PROFESSIONAL"}))
	assert.False(t, EditionMatches("Multi", []string{"ENTERPRISE"}))
	assert.True(t, EditionMatches("Professional", []string{"CORE", "PROFESSIONAL"}))
	assert.False(t, EditionMatches("Professional", []string{"CORE"}))
	assert.False(t, EditionMatches("Core", nil))
}

func TestResolveMultiAcceptsCoreOnly(t *testing.T) {
	fake := &fakeCatalog{
		builds:   []catalog.Build{build("id", "26100.1", "Windows 11")},
		langs:    map[string]catalog.Languages{"id": langs("26100.1", "RETAIL", "en-us")},
		editions: map[string][]string{"id": {"CORE"}},
	}
	cfg := mustConfig(t, "windows-11", "multi", "en-us")
	resolver := &Resolver{Catalog: fake, Logger: discardLogger()}

	selected, err := resolver.Resolve(context.Background(), cfg, mustDescriptor(t, cfg))
	require.NoError(t, err)
	assert.Equal(t, "Multi", selected.Edition)

	for _, raw := range []string{selected.APIURL, selected.DownloadURL, selected.DownloadPackageURL} {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "core;professional", u.Query().Get("edition"), raw)
		assert.Equal(t, "id", u.Query().Get("id"), raw)
	}
}

func TestResolveSkipsEditionsLookupForMissingLanguage(t *testing.T) {
	fake := &fakeCatalog{
		builds: []catalog.Build{
			build("no-de", "26100.2", "Windows 11"),
			build("de", "26100.1", "Windows 11"),
		},
		langs: map[string]catalog.Languages{
			"no-de": langs("26100.2", "RETAIL", "en-us"),
			"de":    langs("26100.1", "RETAIL", "de-de", "en-us"),
		},
		editions: map[string][]string{"no-de": {"PROFESSIONAL"}, "de": {"PROFESSIONAL"}},
	}
	cfg := mustConfig(t, "windows-11", "pro", "de-de")
	resolver := &Resolver{Catalog: fake, Logger: discardLogger()}

	selected, err := resolver.Resolve(context.Background(), cfg, mustDescriptor(t, cfg))
	require.NoError(t, err)
	assert.Equal(t, "de", selected.ID)
	assert.Equal(t, []string{"no-de", "de"}, fake.langCalls)
	assert.Equal(t, []string{"de/de-de"}, fake.editionCalls)
}

func TestResolveIntegrityCheckAborts(t *testing.T) {
	fake := &fakeCatalog{
		builds: []catalog.Build{
			build("first", "26100.1", "Windows 11"),
			build("second", "26100.2", "Windows 11"),
		},
		langs: map[string]catalog.Languages{
			"first":  langs("26100.9", "RETAIL", "en-us"),
			"second": langs("26100.2", "RETAIL", "en-us"),
		},
		editions: map[string][]string{"second": {"PROFESSIONAL"}},
	}
	cfg := mustConfig(t, "windows-11", "pro", "en-us")
	resolver := &Resolver{Catalog: fake, Logger: discardLogger()}

	_, err := resolver.Resolve(context.Background(), cfg, mustDescriptor(t, cfg))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedCatalogState))

	var integrity *IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, "first", integrity.ID)
	assert.Equal(t, "26100.1", integrity.Expected)
	assert.Equal(t, "26100.9", integrity.Actual)

	assert.Equal(t, []string{"first"}, fake.langCalls)
	assert.Empty(t, fake.editionCalls)
}

func TestResolveIsDeterministic(t *testing.T) {
	newFake := func() *fakeCatalog {
		return &fakeCatalog{
			builds: []catalog.Build{
				build("a", "26100.3", "Windows 11"),
				build("b", "26100.2", "Windows 11"),
			},
			langs: map[string]catalog.Languages{
				"a": langs("26100.3", "RETAIL", "en-us"),
				"b": langs("26100.2", "RETAIL", "en-us"),
			},
			editions: map[string][]string{"a": {"CORE", "PROFESSIONAL"}, "b": {"PROFESSIONAL"}},
		}
	}
	cfg := mustConfig(t, "windows-11", "pro", "en-us")
	desc := mustDescriptor(t, cfg)

	first, err := (&Resolver{Catalog: newFake(), Logger: discardLogger()}).Resolve(context.Background(), cfg, desc)
	require.NoError(t, err)
	second, err := (&Resolver{Catalog: newFake(), Logger: discardLogger()}).Resolve(context.Background(), cfg, desc)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("resolution is not deterministic (-first +second):\n%s", diff)
	}
}

func TestResolveParallelEnrichmentKeepsCatalogOrder(t *testing.T) {
	fake := &fakeCatalog{
		builds: []catalog.Build{
			build("slow", "26100.3", "Windows 11"),
			build("fast", "26100.2", "Windows 11"),
			build("fastest", "26100.1", "Windows 11"),
		},
		langs: map[string]catalog.Languages{
			"slow":    langs("26100.3", "RETAIL", "en-us"),
			"fast":    langs("26100.2", "RETAIL", "en-us"),
			"fastest": langs("26100.1", "RETAIL", "en-us"),
		},
		editions: map[string][]string{
			"slow":    {"PROFESSIONAL"},
			"fast":    {"PROFESSIONAL"},
			"fastest": {"PROFESSIONAL"},
		},
		delays: map[string]time.Duration{"slow": 50 * time.Millisecond, "fast": 10 * time.Millisecond},
	}
	cfg := mustConfig(t, "windows-11", "pro", "en-us")
	resolver := &Resolver{Catalog: fake, Logger: discardLogger(), Concurrency: 3}

	selected, err := resolver.Resolve(context.Background(), cfg, mustDescriptor(t, cfg))
	require.NoError(t, err)
	assert.Equal(t, "slow", selected.ID)
	assert.Len(t, fake.langCalls, 3)
}

func TestResolvePropagatesCatalogFailures(t *testing.T) {
	cfg := mustConfig(t, "windows-11", "pro", "en-us")
	desc := mustDescriptor(t, cfg)

	unavailable := &fakeCatalog{listErr: &catalog.UnavailableError{Endpoint: catalog.EndpointListBuilds, Attempts: 15}}
	_, err := (&Resolver{Catalog: unavailable, Logger: discardLogger()}).Resolve(context.Background(), cfg, desc)
	assert.True(t, errors.Is(err, catalog.ErrCatalogUnavailable))

	apiFailure := &fakeCatalog{builds: []catalog.Build{build("missing", "1", "Windows 11")}}
	_, err = (&Resolver{Catalog: apiFailure, Logger: discardLogger()}).Resolve(context.Background(), cfg, desc)
	assert.True(t, errors.Is(err, ErrUnexpectedCatalogState))

	cancelled := &fakeCatalog{listErr: context.Canceled}
	_, err = (&Resolver{Catalog: cancelled, Logger: discardLogger()}).Resolve(context.Background(), cfg, desc)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, catalog.ErrCatalogUnavailable))
}

func TestResolveNoCandidates(t *testing.T) {
	cfg := mustConfig(t, "windows-11canary", "core", "ja-jp")
	_, err := (&Resolver{Catalog: &fakeCatalog{}, Logger: discardLogger()}).Resolve(context.Background(), cfg, mustDescriptor(t, cfg))

	var noMatch *NoMatchingBuildError
	require.ErrorAs(t, err, &noMatch)
	assert.Equal(t, "windows 11 amd64", noMatch.Search)
	assert.Equal(t, "Core", noMatch.Edition)
	assert.Equal(t, 0, noMatch.Candidates)
}
