package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyPublished is returned when the destination ISO already exists.
var ErrAlreadyPublished = errors.New("ISO already published")

// LocalStore publishes ISOs with their checksum and metadata files under BaseDir.
type LocalStore struct {
	BaseDir string
	// Now is used for CreatedAt; nil means time.Now.
	Now func() time.Time
}

// Publish moves the ISO at isoPath to <BaseDir>/<name>.iso and writes
// <name>.iso.sha256.txt and <name>.json beside it. A missing RunID is filled
// in. On failure nothing is left under BaseDir.
func (store *LocalStore) Publish(isoPath, name string, metadata Metadata) (Published, error) {
	if store.BaseDir == "" {
		return Published{}, errors.New("base directory is not configured")
	}
	if isoPath == "" {
		return Published{}, errors.New("ISO path is required")
	}
	if err := validName(name); err != nil {
		return Published{}, err
	}
	if metadata.SHA256 == "" {
		return Published{}, errors.New("metadata is missing the ISO checksum")
	}

	if err := os.MkdirAll(store.BaseDir, 0o755); err != nil {
		return Published{}, err
	}

	published := store.paths(name)
	if _, err := os.Stat(published.ISO); err == nil {
		return Published{}, fmt.Errorf("%w: %s", ErrAlreadyPublished, published.ISO)
	}

	if metadata.RunID == "" {
		metadata.RunID = uuid.NewString()
	}
	if metadata.CreatedAt.IsZero() {
		metadata.CreatedAt = store.now().UTC()
	}

	if err := os.WriteFile(published.Checksum, []byte(checksumLine(metadata.SHA256, published.ISO)), 0o644); err != nil {
		store.cleanup(published)
		return Published{}, err
	}
	if err := writeMetadata(published.Metadata, metadata); err != nil {
		store.cleanup(published)
		return Published{}, err
	}
	if err := moveFile(isoPath, published.ISO); err != nil {
		store.cleanup(published)
		return Published{}, fmt.Errorf("move ISO: %w", err)
	}
	return published, nil
}

// Remove deletes a published ISO and its companion files.
func (store *LocalStore) Remove(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	published := store.paths(name)
	for _, path := range []string{published.ISO, published.Checksum, published.Metadata} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (store *LocalStore) paths(name string) Published {
	iso := filepath.Join(store.BaseDir, name+".iso")
	return Published{
		ISO:      iso,
		Checksum: iso + ".sha256.txt",
		Metadata: filepath.Join(store.BaseDir, name+".json"),
	}
}

func (store *LocalStore) cleanup(published Published) {
	for _, path := range []string{published.ISO, published.Checksum, published.Metadata} {
		_ = os.Remove(path)
	}
}

func (store *LocalStore) now() time.Time {
	if store.Now != nil {
		return store.Now()
	}
	return time.Now()
}

func writeMetadata(path string, metadata Metadata) error {
	payload, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}

// moveFile renames src to dst, copying across file systems when needed.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
