// Package request turns user supplied parameters into the immutable request
// configuration consumed by the target catalog and the build resolver.
package request

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cochaviz/uupiso/arch"
)

// ErrInvalidParameter is returned for malformed or unsupported user input.
var ErrInvalidParameter = errors.New("invalid parameter")

// Edition names as they appear in the catalog.
const (
	EditionProfessional = "Professional"
	EditionCore         = "Core"
	EditionMulti        = "Multi"
)

// Edition choices accepted from the user.
const (
	ChoicePro   = "pro"
	ChoiceCore  = "core"
	ChoiceMulti = "multi"
	ChoiceHome  = "home"
)

// previewKeywords are matched against the raw target name in this order.
var previewKeywords = []string{"beta", "dev", "wif", "canary"}

// Params holds raw user input.
type Params struct {
	Target       string
	Architecture string
	Edition      string
	Language     string

	ESD     bool
	Drivers bool
	NetFx3  bool
}

// Config is the validated, normalized request. It is not modified after New returns.
type Config struct {
	TargetName      string
	Architecture    arch.Architecture
	EditionChoice   string
	RequiredEdition string
	Language        string
	IsPreview       bool
	RingLower       string

	ESD     bool
	Drivers bool
	NetFx3  bool
}

// ParameterError describes which parameter was rejected.
type ParameterError struct {
	Name   string
	Value  string
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Name, e.Value, e.Reason)
}

func (e *ParameterError) Unwrap() error {
	return ErrInvalidParameter
}

// New validates params and derives the request configuration. No network work
// happens here, so invalid input fails before any catalog call.
func New(params Params) (Config, error) {
	target := strings.ToLower(strings.TrimSpace(params.Target))
	if target == "" {
		return Config{}, &ParameterError{Name: "target", Value: params.Target, Reason: "target name is required"}
	}

	architecture, err := arch.Parse(params.Architecture)
	if err != nil {
		return Config{}, &ParameterError{Name: "architecture", Value: params.Architecture, Reason: err.Error()}
	}

	choice := strings.ToLower(strings.TrimSpace(params.Edition))
	switch choice {
	case ChoicePro, ChoiceCore, ChoiceMulti, ChoiceHome:
	default:
		return Config{}, &ParameterError{
			Name:   "edition",
			Value:  params.Edition,
			Reason: fmt.Sprintf("supported: %s", strings.Join([]string{ChoicePro, ChoiceCore, ChoiceMulti, ChoiceHome}, ", ")),
		}
	}

	language := strings.ToLower(strings.TrimSpace(params.Language))
	if !IsSupportedLanguage(language) {
		return Config{}, &ParameterError{Name: "language", Value: params.Language, Reason: "not a supported locale"}
	}

	ring := PreviewRing(target)

	return Config{
		TargetName:      target,
		Architecture:    architecture,
		EditionChoice:   choice,
		RequiredEdition: RequiredEdition(choice),
		Language:        language,
		IsPreview:       ring != "",
		RingLower:       ring,
		ESD:             params.ESD,
		Drivers:         params.Drivers,
		NetFx3:          params.NetFx3,
	}, nil
}

// RequiredEdition maps an edition choice onto the catalog edition class.
func RequiredEdition(choice string) string {
	switch strings.ToLower(choice) {
	case ChoiceCore, ChoiceHome:
		return EditionCore
	case ChoiceMulti:
		return EditionMulti
	default:
		return EditionProfessional
	}
}

// PreviewRing returns the first preview keyword contained in the target name,
// or "" when the target is not a preview target.
func PreviewRing(target string) string {
	target = strings.ToLower(target)
	for _, keyword := range previewKeywords {
		if strings.Contains(target, keyword) {
			return keyword
		}
	}
	return ""
}

// IsMulti reports whether the user asked for a multi-edition image.
func (c Config) IsMulti() bool {
	return c.EditionChoice == ChoiceMulti
}
