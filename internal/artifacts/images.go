package artifacts

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
)

// DefaultImageTool is the wimlib front end used to enumerate images.
const DefaultImageTool = "wimlib-imagex"

// ErrBuildMismatch is returned when an image does not carry the selected build.
var ErrBuildMismatch = errors.New("image build does not match selected build")

// ImageLister enumerates the image indices of a WIM or ESD file.
type ImageLister struct {
	Binary string
	// Output runs a command and returns its stdout. Nil runs the command for real.
	Output func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// List returns the images of the payload at path.
func (l *ImageLister) List(ctx context.Context, path string) ([]ImageInfo, error) {
	binary := l.Binary
	if binary == "" {
		binary = DefaultImageTool
	}
	output := l.Output
	if output == nil {
		output = commandOutput
	}

	raw, err := output(ctx, binary, "info", path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%s info %s: %w", binary, path, err)
	}

	images, err := ParseImageInfo(string(raw))
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%s reported no images in %s", binary, path)
	}
	return images, nil
}

func commandOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ParseImageInfo reads the "Available Images" blocks of wimlib-imagex info.
func ParseImageInfo(output string) ([]ImageInfo, error) {
	var (
		images  []ImageInfo
		current *ImageInfo
		spBuild string
	)

	flush := func() {
		if current == nil {
			return
		}
		if spBuild != "" && current.Build != "" {
			current.Build += "." + spBuild
		}
		images = append(images, *current)
		current, spBuild = nil, ""
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if key == "Index" {
			flush()
			index, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("parse image index %q: %w", value, err)
			}
			current = &ImageInfo{Index: index}
			continue
		}
		if current == nil {
			continue
		}

		switch key {
		case "Name":
			current.Name = value
		case "Edition ID":
			current.EditionID = value
		case "Architecture":
			current.Architecture = value
		case "Build":
			current.Build = value
		case "Service Pack Build":
			spBuild = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return images, nil
}

// CheckBuild verifies that every image carries the major build number of
// selectedBuild, for example 26100 for "26100.1742".
func CheckBuild(images []ImageInfo, selectedBuild string) error {
	want, err := majorBuild(selectedBuild)
	if err != nil {
		return fmt.Errorf("selected build: %w", err)
	}
	if len(images) == 0 {
		return errors.New("no images to check")
	}

	for _, image := range images {
		got, err := majorBuild(image.Build)
		if err != nil {
			return fmt.Errorf("image %d: %w", image.Index, err)
		}
		if got != want {
			return fmt.Errorf("%w: image %d (%s) has build %s, want %d", ErrBuildMismatch, image.Index, image.Name, image.Build, want)
		}
	}
	return nil
}

func majorBuild(raw string) (int, error) {
	v, err := version.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse build %q: %w", raw, err)
	}
	return v.Segments()[0], nil
}
