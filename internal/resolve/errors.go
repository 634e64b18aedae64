package resolve

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedCatalogState marks internally inconsistent catalog data.
	ErrUnexpectedCatalogState = errors.New("unexpected catalog state")
	// ErrNoMatchingBuild is returned when no candidate survives filtering.
	ErrNoMatchingBuild = errors.New("no matching build")
)

// IntegrityError reports a build number mismatch between the search result
// and the language lookup of the same build.
type IntegrityError struct {
	ID       string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("build %s: listlangs reported build %q, search reported %q", e.ID, e.Actual, e.Expected)
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrUnexpectedCatalogState
}

// NoMatchingBuildError carries the request context of a failed resolution.
type NoMatchingBuildError struct {
	Search     string
	Language   string
	Ring       string
	Edition    string
	Candidates int
}

func (e *NoMatchingBuildError) Error() string {
	ring := e.Ring
	if ring == "" {
		ring = "any"
	}
	return fmt.Sprintf("no build found for search %q (language %s, ring %s, edition %s; %d candidates examined)",
		e.Search, e.Language, ring, e.Edition, e.Candidates)
}

func (e *NoMatchingBuildError) Is(target error) bool {
	return target == ErrNoMatchingBuild
}
