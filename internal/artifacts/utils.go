package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Sha256sum returns the hex encoded SHA-256 digest of the file at path.
func Sha256sum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// checksumLine renders a digest in the format read by sha256sum -c.
func checksumLine(sum, path string) string {
	return sum + " *" + filepath.Base(path) + "\n"
}
