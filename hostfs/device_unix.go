//go:build linux || darwin || freebsd || netbsd || openbsd

package hostfs

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// deviceNumbers extracts the major/minor pair the kernel packed into a
// device special file's rdev, reached by asserting os.FileInfo.Sys() to
// the platform's stat_t.
func deviceNumbers(info os.FileInfo) (major, minor uint32, err error) {
	sys := info.Sys()
	stat, ok := sys.(*unix.Stat_t)
	if !ok {
		return 0, 0, fmt.Errorf("no platform stat_t available for %q", info.Name())
	}
	rdev := uint64(stat.Rdev)
	return uint32(unix.Major(rdev)), uint32(unix.Minor(rdev)), nil
}
