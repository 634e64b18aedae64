package setup

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

var StorageDir = defaultStorageDir()
var DestDir = filepath.Join(StorageDir, "isos")
var WorkDir = filepath.Join(os.TempDir(), "uupiso")

// MinFreeBytes is the free space a conversion needs in the work directory.
var MinFreeBytes uint64 = 20 << 30

// ErrInsufficientSpace is returned when a directory has less than the required free space.
var ErrInsufficientSpace = errors.New("insufficient free space")

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// RequiredTools lists the programs the conversion needs on goos. Each entry
// is a set of alternatives of which one must be present.
func RequiredTools(goos string) [][]string {
	if goos == "windows" {
		// The Windows package ships its own aria2c, 7-Zip and oscdimg.
		return [][]string{{"wimlib-imagex"}}
	}
	return [][]string{
		{"aria2c"},
		{"cabextract"},
		{"wimlib-imagex"},
		{"chntpw"},
		{"genisoimage", "mkisofs", "xorriso"},
	}
}

// Verify checks that the tools of the current platform are installed.
func Verify() error {
	return VerifyTools(runtime.GOOS)
}

// VerifyTools checks the tools for goos and reports every missing one.
func VerifyTools(goos string) error {
	var missing []error
	for _, alternatives := range RequiredTools(goos) {
		if !anyOnPath(alternatives) {
			missing = append(missing, fmt.Errorf("required tool %q not found on PATH", alternatives[0]))
		}
	}
	if len(missing) > 0 {
		return errors.Join(missing...)
	}
	getLogger().Debug("required tools present", "goos", goos)
	return nil
}

func anyOnPath(names []string) bool {
	for _, name := range names {
		if _, err := lookPath(name); err == nil {
			return true
		}
	}
	return false
}

// EnsureFreeSpace fails with ErrInsufficientSpace when dir, or its closest
// existing parent, has less than need bytes available. Platforms without a
// free space probe pass.
func EnsureFreeSpace(dir string, need uint64) error {
	probe := existingParent(dir)
	free, err := FreeSpace(probe)
	if errors.Is(err, ErrFreeSpaceUnsupported) {
		getLogger().Warn("free space check not supported on this platform", "dir", probe)
		return nil
	}
	if err != nil {
		return fmt.Errorf("check free space of %s: %w", probe, err)
	}
	if free < need {
		return fmt.Errorf("%w in %s: %d bytes available, %d required", ErrInsufficientSpace, probe, free, need)
	}
	getLogger().Debug("free space available", "dir", probe, "bytes", free)
	return nil
}

func existingParent(dir string) string {
	dir = filepath.Clean(dir)
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

func defaultStorageDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "uupiso")
	}
	return filepath.Join(os.TempDir(), "uupiso-storage")
}
