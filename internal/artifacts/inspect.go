package artifacts

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kdomanski/iso9660"
)

// ErrNoInstallImage is returned for ISOs without an install.wim or install.esd.
var ErrNoInstallImage = errors.New("no install image in ISO")

var payloadNames = []string{"install.wim", "install.esd"}

// Inspect opens the ISO at isoPath and locates its install image. ISOs
// mastered as UDF only carry a placeholder ISO 9660 tree and report
// ErrNoInstallImage.
func Inspect(isoPath string) (Payload, error) {
	f, err := os.Open(isoPath)
	if err != nil {
		return Payload{}, err
	}
	defer f.Close()

	_, payload, err := findPayload(f)
	if err != nil {
		return Payload{}, fmt.Errorf("inspect %s: %w", isoPath, err)
	}
	return payload, nil
}

// ExtractPayload copies the install image of the ISO at isoPath into destDir
// and returns the written file.
func ExtractPayload(isoPath, destDir string) (string, error) {
	f, err := os.Open(isoPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	extents, payload, err := findPayload(f)
	if err != nil {
		return "", fmt.Errorf("extract from %s: %w", isoPath, err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(destDir, path.Base(payload.Path))
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	readers := make([]io.Reader, 0, len(extents))
	for _, extent := range extents {
		readers = append(readers, extent.Reader())
	}
	written, err := io.Copy(out, io.MultiReader(readers...))
	if err == nil && written != payload.Size {
		err = fmt.Errorf("wrote %d of %d bytes", written, payload.Size)
	}
	if err != nil {
		out.Close()
		_ = os.Remove(target)
		return "", fmt.Errorf("copy %s: %w", payload.Path, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(target)
		return "", err
	}
	return target, nil
}

// findPayload returns the directory records of the install image in order.
// Files of 4 GiB and more are stored as several records sharing one name.
func findPayload(r io.ReaderAt) ([]*iso9660.File, Payload, error) {
	image, err := iso9660.OpenImage(r)
	if err != nil {
		return nil, Payload{}, fmt.Errorf("%w: open image: %v", ErrNoInstallImage, err)
	}
	root, err := image.RootDir()
	if err != nil {
		return nil, Payload{}, fmt.Errorf("%w: read root directory: %v", ErrNoInstallImage, err)
	}

	sources := childrenNamed(root, "sources", true)
	if len(sources) == 0 {
		return nil, Payload{}, ErrNoInstallImage
	}
	for _, name := range payloadNames {
		extents := childrenNamed(sources[0], name, false)
		if len(extents) == 0 {
			continue
		}
		return extents, Payload{Path: "sources/" + name, Size: totalSize(extents)}, nil
	}
	return nil, Payload{}, ErrNoInstallImage
}

func childrenNamed(dir *iso9660.File, name string, wantDir bool) []*iso9660.File {
	children, err := dir.GetChildren()
	if err != nil {
		return nil
	}
	return matchingEntries(children, name, wantDir)
}

type isoEntry interface {
	Name() string
	IsDir() bool
	Size() int64
}

// matchingEntries keeps the entries called name, ignoring case and the ";1"
// version suffix, in directory order.
func matchingEntries[E isoEntry](entries []E, name string, wantDir bool) []E {
	var matched []E
	for _, entry := range entries {
		if entry.IsDir() != wantDir {
			continue
		}
		entryName, _, _ := strings.Cut(entry.Name(), ";")
		if strings.EqualFold(entryName, name) {
			matched = append(matched, entry)
		}
	}
	return matched
}

func totalSize[E isoEntry](entries []E) int64 {
	var size int64
	for _, entry := range entries {
		size += entry.Size()
	}
	return size
}
