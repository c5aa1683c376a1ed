// Package hostfs implements ext4.BuildSource by walking a real directory on
// the host filesystem. It is the default, but not the only, way to supply
// an image builder with content: anything satisfying ext4.BuildSource —
// a canned manifest, an archive, a network fetch — works just as well.
//
// Ownership, permission bits, and capability xattrs come from the Tree's
// Resolve callback when one is set: a real build tool resolves those
// per-path against a canned fs_config table (path -> uid, gid, mode,
// capabilities) supplied by the caller, which this package has no opinion
// about. With Resolve nil, every entry keeps its host mode bits and gets
// uid/gid 0. With ReadHostCapabilities set, a regular file that Resolve
// gives no capability to takes its host security.capability xattr.
package hostfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/mkfsext4/mkfsext4/filesystem/ext4"
)

// AttrResolver maps a path (relative to Root, using forward slashes) to the
// uid/gid/mode/capability bytes ext4.Build should stamp onto it. This is
// the canned fs_config lookup the image-building engine treats as an
// external collaborator: this package never loads or parses such a table
// itself, it only calls back into one.
type AttrResolver func(path string, hostInfo os.FileInfo) (uid, gid uint32, mode os.FileMode, capability []byte)

// Tree is a BuildSource backed by a directory on the host filesystem.
type Tree struct {
	Root    string
	Resolve AttrResolver
	// ReadHostCapabilities, when true, mirrors a host entry's own
	// security.capability xattr into the image for any entry Resolve does
	// not already assign a capability to.
	ReadHostCapabilities bool
}

// defaultResolve passes the host's own mode bits and a fixed uid/gid of 0
// through unchanged; used when Resolve is nil.
func defaultResolve(_ string, info os.FileInfo) (uint32, uint32, os.FileMode, []byte) {
	return 0, 0, info.Mode(), nil
}

// Children implements ext4.BuildSource.
func (t *Tree) Children(dir string) ([]ext4.SourceEntry, error) {
	resolve := t.Resolve
	if resolve == nil {
		resolve = defaultResolve
	}

	hostDir := filepath.Join(t.Root, filepath.FromSlash(dir))
	entries, err := os.ReadDir(hostDir)
	if err != nil {
		return nil, fmt.Errorf("could not list %q: %w", hostDir, err)
	}
	// the engine requires a stable, sorted traversal so that two builds of
	// the same tree produce byte-identical images
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	out := make([]ext4.SourceEntry, 0, len(entries))
	for _, de := range entries {
		childPath := de.Name()
		if dir != "" {
			childPath = dir + "/" + de.Name()
		}
		hostPath := filepath.Join(t.Root, filepath.FromSlash(childPath))

		info, err := os.Lstat(hostPath)
		if err != nil {
			return nil, fmt.Errorf("could not stat %q: %w", hostPath, err)
		}

		uid, gid, mode, capability := resolve(childPath, info)
		if len(capability) == 0 && t.ReadHostCapabilities && info.Mode().IsRegular() {
			capability = readHostCapability(hostPath)
		}
		entry := ext4.SourceEntry{
			Name:       de.Name(),
			Mode:       mode,
			Size:       info.Size(),
			UID:        uid,
			GID:        gid,
			Capability: capability,
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(hostPath)
			if err != nil {
				return nil, fmt.Errorf("could not read symlink %q: %w", hostPath, err)
			}
			entry.LinkTarget = target
		case info.Mode()&os.ModeDevice != 0 || info.Mode()&os.ModeCharDevice != 0:
			major, minor, err := deviceNumbers(info)
			if err != nil {
				return nil, fmt.Errorf("could not read device numbers for %q: %w", hostPath, err)
			}
			entry.DeviceMajor, entry.DeviceMinor = major, minor
		}

		out = append(out, entry)
	}
	return out, nil
}

// Open implements ext4.BuildSource.
func (t *Tree) Open(p string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(t.Root, filepath.FromSlash(p)))
}
