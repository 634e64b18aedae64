//go:build linux || darwin || freebsd

package setup

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrFreeSpaceUnsupported is returned by FreeSpace on platforms without a probe.
var ErrFreeSpaceUnsupported = errors.New("free space probe unsupported")

// FreeSpace returns the bytes available to unprivileged users under path.
func FreeSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}
