//go:build windows

package hostfs

import (
	"fmt"
	"os"
)

// Windows has no notion of a Unix device special file, so any entry that
// would require one is rejected rather than silently fabricated.
func deviceNumbers(info os.FileInfo) (major, minor uint32, err error) {
	return 0, 0, fmt.Errorf("device special files are not supported when walking a host tree on windows: %q", info.Name())
}
