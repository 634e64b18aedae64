package resolve

import (
	"net/url"
	"strings"

	"github.com/cochaviz/uupiso/internal/catalog"
	"github.com/cochaviz/uupiso/internal/request"
	"github.com/cochaviz/uupiso/internal/targets"
)

const (
	DefaultAPIBaseURL  = catalog.DefaultBaseURL
	DefaultSiteBaseURL = "https://uupdump.net"

	// multiEditionParam asks the packaging service for both base editions.
	multiEditionParam = "core;professional"
)

// SelectedBuild is the single build a request resolved to.
type SelectedBuild struct {
	Name               string `json:"name"`
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Build              string `json:"build"`
	Edition            string `json:"edition"`
	VirtualEdition     string `json:"virtual_edition,omitempty"`
	APIURL             string `json:"api_url"`
	DownloadURL        string `json:"download_url"`
	DownloadPackageURL string `json:"download_package_url"`
}

// URLBase holds the hosts used for generated URLs.
type URLBase struct {
	API  string
	Site string
}

func (b URLBase) withDefaults() URLBase {
	if b.API == "" {
		b.API = DefaultAPIBaseURL
	}
	if b.Site == "" {
		b.Site = DefaultSiteBaseURL
	}
	b.API = strings.TrimRight(b.API, "/")
	b.Site = strings.TrimRight(b.Site, "/")
	return b
}

// EditionParam returns the edition query value for generated URLs.
func EditionParam(cfg request.Config, desc targets.Descriptor) string {
	if cfg.IsMulti() {
		return multiEditionParam
	}
	return desc.RequiredEdition
}

// NewSelectedBuild promotes a surviving candidate to a resolved build.
func NewSelectedBuild(base URLBase, cfg request.Config, desc targets.Descriptor, candidate Candidate) SelectedBuild {
	base = base.withDefaults()
	edition := EditionParam(cfg, desc)

	// The catalog names the language "lang" on the API host and "pack" on
	// the download site.
	apiQuery := encodeQuery(
		[2]string{"id", candidate.UUID},
		[2]string{"edition", edition},
		[2]string{"lang", cfg.Language},
	)
	siteQuery := encodeQuery(
		[2]string{"id", candidate.UUID},
		[2]string{"edition", edition},
		[2]string{"pack", cfg.Language},
	)

	return SelectedBuild{
		Name:               desc.Name,
		ID:                 candidate.UUID,
		Title:              candidate.Title,
		Build:              candidate.Build,
		Edition:            desc.RequiredEdition,
		VirtualEdition:     desc.VirtualEdition,
		APIURL:             base.API + "/" + string(catalog.EndpointGet) + ".php?" + apiQuery,
		DownloadURL:        base.Site + "/download.php?" + siteQuery,
		DownloadPackageURL: base.Site + "/get.php?" + siteQuery,
	}
}

// encodeQuery encodes pairs in the given order.
func encodeQuery(pairs ...[2]string) string {
	var b strings.Builder
	for i, pair := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(pair[0]))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(pair[1]))
	}
	return b.String()
}
