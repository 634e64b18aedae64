//go:build !(linux || darwin || freebsd)

package setup

import "errors"

// ErrFreeSpaceUnsupported is returned by FreeSpace on platforms without a probe.
var ErrFreeSpaceUnsupported = errors.New("free space probe unsupported")

func FreeSpace(string) (uint64, error) {
	return 0, ErrFreeSpaceUnsupported
}
