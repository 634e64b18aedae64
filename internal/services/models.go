package services

import (
	"time"

	"github.com/cochaviz/uupiso/internal/artifacts"
	"github.com/cochaviz/uupiso/internal/request"
	"github.com/cochaviz/uupiso/internal/resolve"
)

// BuildRequest asks for one ISO.
type BuildRequest struct {
	Config      request.Config
	KeepWorkDir bool
	// Force replaces an ISO already published under the same name.
	Force       bool
	RequestedAt time.Time
}

// BuildResult describes a published ISO.
type BuildResult struct {
	RunID     string
	Build     resolve.SelectedBuild
	Published artifacts.Published
	Metadata  artifacts.Metadata
	// WorkDir is only set when the work directory was kept.
	WorkDir string
}
