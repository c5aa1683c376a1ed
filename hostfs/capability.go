package hostfs

import (
	"errors"

	"github.com/pkg/xattr"
)

// securityCapabilityXattr is the extended attribute name the kernel uses
// for POSIX file capabilities (the vfs_cap_data payload applyAttributes
// writes verbatim as SourceEntry.Capability).
const securityCapabilityXattr = "security.capability"

// readHostCapability reads the security.capability xattr directly off the
// host path, if any. This mirrors whatever capability the host entry
// already carries into the image; it is independent of (and does not
// replace) loading a canned fs_config table, which assigns capabilities
// that may have no relationship to what is set on the build host.
//
// Any error, including the attribute simply not existing (by far the
// common case), yields a nil capability rather than failing the walk.
func readHostCapability(hostPath string) []byte {
	v, err := xattr.Get(hostPath, securityCapabilityXattr)
	if err != nil {
		if errors.Is(err, xattr.ENOATTR) {
			return nil
		}
		return nil
	}
	return v
}
