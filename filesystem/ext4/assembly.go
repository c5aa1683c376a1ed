package ext4

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/sirupsen/logrus"

	"github.com/mkfsext4/mkfsext4/backend"
)

// SourceEntry describes one file, directory, or symlink to be placed into
// the image by Build. Name is the entry's basename within its parent, not
// a full path. Resolving a host directory tree, loading canned fs_config
// ownership/permission tables, and computing SHA-1-derived (uuid5) inode
// numbers are all done by the caller before Build ever sees a SourceEntry;
// this package only ever places exactly what it is told to.
type SourceEntry struct {
	Name       string
	Mode       os.FileMode
	Size       int64 // regular files only
	UID, GID   uint32
	LinkTarget string // symlinks only
	// DeviceMajor/DeviceMinor apply to character and block device entries
	// only (Mode&os.ModeDevice != 0); zero otherwise.
	DeviceMajor, DeviceMinor uint32
	// Capability, when non-empty, is written verbatim as the inode's
	// security.capability extended attribute (the raw vfs_cap_data bytes;
	// computing them from a canned capability list is the caller's job).
	Capability []byte
}

// BuildSource is the external boundary between this package and whatever
// assembles the list of files to place in the image. A typical
// implementation walks a host directory tree, filtering and renaming
// entries per a canned fs_config table, but none of that logic belongs
// here: Build only walks the tree BuildSource already decided on.
type BuildSource interface {
	// Children lists the immediate entries of a directory. Pass "" for
	// the root. dir is the path built by joining Name fields from the
	// root down to (but not including) the directory being listed.
	Children(dir string) ([]SourceEntry, error)
	// Open returns the content of a regular file at the given path
	// (parent dir joined with its Name).
	Open(p string) (io.ReadCloser, error)
}

// BuildOptions controls policy that is orthogonal to image geometry: how
// hard to push on when an individual source entry cannot be placed, and
// where diagnostics go.
type BuildOptions struct {
	// Force, when true, downgrades a failure to place one source entry
	// (a host I/O error, an unsupported mode) to a logged warning and
	// skips that entry rather than aborting the whole build.
	Force bool
	// Log receives one Debug line per entry about to be placed and one
	// warning per entry skipped under Force. Defaults to
	// logrus.StandardLogger() if nil.
	Log *logrus.Logger
}

// Build creates a new ext4 filesystem with the given parameters and then
// populates it, depth-first, from src before returning the finished
// FileSystem. The caller still owns flushing/closing the backing storage.
func Build(b backend.Storage, size, start, sectorsize int64, p *Params, src BuildSource, opts BuildOptions) (*FileSystem, error) {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	fs, err := Create(b, size, start, sectorsize, p)
	if err != nil {
		return nil, fmt.Errorf("could not initialize filesystem: %w", err)
	}

	root, err := fs.readDirWithKnownRoot()
	if err != nil {
		return nil, fmt.Errorf("could not read root directory: %w", err)
	}

	if err := fs.populateDir(root, "", src, opts); err != nil {
		return nil, fmt.Errorf("could not populate filesystem: %w", err)
	}

	return fs, nil
}

// readDirWithKnownRoot loads the root directory's entries as Create leaves
// them: "." and ".." from its initFile call for the root inode, plus the
// lost+found directory it creates.
func (fs *FileSystem) readDirWithKnownRoot() (*Directory, error) {
	entries, err := fs.readDirectory(rootInode)
	if err != nil {
		return nil, err
	}
	return &Directory{
		directoryEntry: directoryEntry{inode: rootInode, fileType: dirFileTypeDirectory},
		root:           true,
		entries:        entries,
	}, nil
}

// populateDir creates every entry of src.Children(dirPath) inside dir, in
// the order BuildSource returns them, recursing into subdirectories. A
// failure placing one entry is fatal unless opts.Force is set, in which
// case it is logged and that entry is skipped; §7 of the on-disk format
// this package targets treats this as a "host error" and scopes it to the
// single offending entry rather than the whole build.
func (fs *FileSystem) populateDir(dir *Directory, dirPath string, src BuildSource, opts BuildOptions) error {
	children, err := src.Children(dirPath)
	if err != nil {
		return fmt.Errorf("could not list %q: %w", dirPath, err)
	}

	for _, child := range children {
		childPath := child.Name
		if dirPath != "" {
			childPath = path.Join(dirPath, child.Name)
		}
		opts.Log.WithField("path", childPath).Debug("placing entry")

		if err := fs.placeEntry(dir, dirPath, childPath, child, src, opts); err != nil {
			if !opts.Force {
				return err
			}
			opts.Log.WithField("path", childPath).Warnf("skipping entry: %v", err)
		}
	}
	return nil
}

// placeEntry creates the single entry child inside dir and recurses for
// directories. Pulled out of populateDir so every entry, including ones a
// force build chooses to skip, goes through one error path.
func (fs *FileSystem) placeEntry(dir *Directory, dirPath, childPath string, child SourceEntry, src BuildSource, opts BuildOptions) error {
	switch {
	case child.Mode.IsDir():
		de, err := fs.mkSubdir(dir, child.Name)
		if err != nil {
			return fmt.Errorf("could not create directory %q: %w", childPath, err)
		}
		if err := fs.applyAttributes(de.inode, child); err != nil {
			return fmt.Errorf("could not set attributes on %q: %w", childPath, err)
		}
		childDir := &Directory{directoryEntry: *de}
		entries, err := fs.readDirectory(de.inode)
		if err != nil {
			return fmt.Errorf("could not read new directory %q: %w", childPath, err)
		}
		childDir.entries = entries
		return fs.populateDir(childDir, childPath, src, opts)

	case child.Mode&os.ModeSymlink != 0:
		de, err := fs.mkSymlink(dir, child.Name, child.LinkTarget)
		if err != nil {
			return fmt.Errorf("could not create symlink %q: %w", childPath, err)
		}
		if err := fs.applyAttributes(de.inode, child); err != nil {
			return fmt.Errorf("could not set attributes on %q: %w", childPath, err)
		}

	case child.Mode.IsRegular():
		rc, err := src.Open(childPath)
		if err != nil {
			return fmt.Errorf("could not open %q: %w", childPath, err)
		}
		de, err := fs.mkFile(dir, child.Name)
		if err != nil {
			_ = rc.Close()
			return fmt.Errorf("could not create file %q: %w", childPath, err)
		}
		werr := fs.writeFileContent(de.inode, rc, child.Size)
		_ = rc.Close()
		if werr != nil {
			return fmt.Errorf("could not write %q: %w", childPath, werr)
		}
		if err := fs.applyAttributes(de.inode, child); err != nil {
			return fmt.Errorf("could not set attributes on %q: %w", childPath, err)
		}

	case child.Mode&(os.ModeDevice|os.ModeNamedPipe|os.ModeSocket) != 0:
		ft := fileTypeFifo
		switch {
		case child.Mode&os.ModeDevice != 0 && child.Mode&os.ModeCharDevice != 0:
			ft = fileTypeCharacterDevice
		case child.Mode&os.ModeDevice != 0:
			ft = fileTypeBlockDevice
		case child.Mode&os.ModeSocket != 0:
			ft = fileTypeSocket
		}
		de, err := fs.mkSpecial(dir, child.Name, ft, child.DeviceMajor, child.DeviceMinor)
		if err != nil {
			return fmt.Errorf("could not create special file %q: %w", childPath, err)
		}
		if err := fs.applyAttributes(de.inode, child); err != nil {
			return fmt.Errorf("could not set attributes on %q: %w", childPath, err)
		}

	default:
		return fmt.Errorf("entry %q has unsupported mode %v", childPath, child.Mode)
	}
	return nil
}

// applyAttributes stamps permissions, ownership, and (if present) the
// security.capability extended attribute onto an already-created inode.
func (fs *FileSystem) applyAttributes(inodeNumber uint32, src SourceEntry) error {
	in, err := fs.readInode(inodeNumber)
	if err != nil {
		return err
	}
	in.permissionsOwner = modeOwnerPermissions(src.Mode)
	in.permissionsGroup = modeGroupPermissions(src.Mode)
	in.permissionsOther = modeOtherPermissions(src.Mode)
	in.owner = src.UID
	in.group = src.GID

	if len(src.Capability) > 0 {
		block, err := fs.writeXattrBlock([]xattrAttribute{
			{nameIndex: xattrIndexSecurity, name: "capability", value: src.Capability},
		})
		if err != nil {
			return fmt.Errorf("could not write security.capability: %w", err)
		}
		in.extendedAttributeBlock = block
		in.blocks += uint64(fs.superblock.blockSize) / 512
		fs.superblock.features.extAttr = true
	}

	return fs.writeInode(in)
}

func modeOwnerPermissions(m os.FileMode) filePermissions {
	return filePermissions{
		read:    m&0o400 != 0,
		write:   m&0o200 != 0,
		execute: m&0o100 != 0,
		special: m&os.ModeSetuid != 0,
	}
}

func modeGroupPermissions(m os.FileMode) filePermissions {
	return filePermissions{
		read:    m&0o040 != 0,
		write:   m&0o020 != 0,
		execute: m&0o010 != 0,
		special: m&os.ModeSetgid != 0,
	}
}

func modeOtherPermissions(m os.FileMode) filePermissions {
	return filePermissions{
		read:    m&0o004 != 0,
		write:   m&0o002 != 0,
		execute: m&0o001 != 0,
		special: m&os.ModeSticky != 0,
	}
}

// writeFileContent grows a freshly created (zero-length) regular file's
// extent tree to hold size bytes read from r, and writes the inode's
// final size and block count back to disk.
func (fs *FileSystem) writeFileContent(inodeNumber uint32, r io.Reader, size int64) error {
	in, err := fs.readInode(inodeNumber)
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}

	newExtents, err := fs.allocateExtents(uint64(size), nil)
	if err != nil {
		return fmt.Errorf("could not allocate blocks: %w", err)
	}
	tree, metaBlocks, err := buildExtentTree(newExtents, fs)
	if err != nil {
		return fmt.Errorf("could not build extent tree: %w", err)
	}

	fl := &File{
		inode:       in,
		fileType:    dirFileTypeRegular,
		filesystem:  fs,
		isReadWrite: true,
		offset:      0,
		extents:     *newExtents,
	}

	buf := make([]byte, 0, size)
	chunk := make([]byte, 256*1024)
	var total int64
	for {
		n, rerr := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			total += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("could not read source content: %w", rerr)
		}
	}
	if total != size {
		return fmt.Errorf("source content was %d bytes, expected %d", total, size)
	}
	// pad to a full block: the extent tree reserves whole blocks, and
	// writing only `size` bytes would leave the tail of the last block
	// whatever the backing storage previously held there
	if rem := len(buf) % int(fs.superblock.blockSize); rem != 0 {
		buf = append(buf, make([]byte, int(fs.superblock.blockSize)-rem)...)
	}
	if _, err := fl.Write(buf); err != nil {
		return fmt.Errorf("could not write file content: %w", err)
	}

	in.size = uint64(size)
	in.blocks = (newExtents.blockCount() + metaBlocks) * uint64(fs.superblock.blockSize) / 512
	in.extents = tree
	return fs.writeInode(in)
}
