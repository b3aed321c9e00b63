//go:build !windows

package usage

import (
	"os"
	"syscall"
)

// diskSize returns allocated blocks rather than the logical size
func diskSize(path string, info os.FileInfo) (int64, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Size(), nil
	}
	// Blocks are 512 bytes regardless of the filesystem block size
	return stat.Blocks * 512, nil
}
