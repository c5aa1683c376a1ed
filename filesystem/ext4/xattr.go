package ext4

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/mkfsext4/mkfsext4/filesystem/ext4/crc"
)

// xattrBlockMagic is the magic number at the start of an external
// extended-attribute block (EXT4_XATTR_MAGIC).
const xattrBlockMagic uint32 = 0xea020000

// xattrEntryHeaderSize is the size of one ext4_xattr_entry header, not
// counting the name bytes that follow it.
const xattrEntryHeaderSize = 16

// xattr name index values for e_name_index; this implementation only ever
// writes "security.*" attributes (in practice, security.capability).
const xattrIndexSecurity = 6

// xattrAttribute is a single name/value pair destined for an external
// xattr block. Name excludes its index prefix (e.g. "capability", not
// "security.capability").
type xattrAttribute struct {
	nameIndex uint8
	name      string
	value     []byte
}

// buildXattrBlock renders a full external attribute block: the
// ext4_xattr_header followed by one ext4_xattr_entry per attribute (sorted
// by (index, name length, name) as e2fsprogs does, so output is deterministic),
// followed by the value bytes packed from the end of the block backward,
// and finally the header checksum. blockSize must match the filesystem's
// block size; the caller is responsible for ensuring the entries fit.
func buildXattrBlock(attrs []xattrAttribute, blockSize uint32, checksumSeed uint32) ([]byte, error) {
	b := make([]byte, blockSize)

	// header: magic, refcount=1, blocks=1, hash (unused, left zero), checksum
	binary.LittleEndian.PutUint32(b[0:4], xattrBlockMagic)
	binary.LittleEndian.PutUint32(b[4:8], 1) // h_refcount
	binary.LittleEndian.PutUint32(b[8:12], 1) // h_blocks

	entryOffset := 32 // ext4_xattr_header is 32 bytes
	valueOffset := int(blockSize)

	sorted := make([]xattrAttribute, len(attrs))
	copy(sorted, attrs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].nameIndex != sorted[j].nameIndex {
			return sorted[i].nameIndex < sorted[j].nameIndex
		}
		if len(sorted[i].name) != len(sorted[j].name) {
			return len(sorted[i].name) < len(sorted[j].name)
		}
		return sorted[i].name < sorted[j].name
	})
	for _, a := range sorted {
		entryLen := xattrEntryHeaderSize + roundUp4(len(a.name))
		valueLen := roundUp4(len(a.value))
		if entryOffset+entryLen+4 > valueOffset-valueLen {
			return nil, fmt.Errorf("extended attributes do not fit in a single %d-byte block", blockSize)
		}
		valueOffset -= valueLen

		e := b[entryOffset : entryOffset+entryLen]
		e[0] = uint8(len(a.name))
		e[1] = a.nameIndex
		binary.LittleEndian.PutUint16(e[2:4], 0) // e_value_offs relative to start of values, low 16 unused pre-layout
		binary.LittleEndian.PutUint32(e[4:8], 0) // e_value_block, always 0: same block
		binary.LittleEndian.PutUint32(e[8:12], uint32(len(a.value)))
		binary.LittleEndian.PutUint32(e[12:16], 0) // e_hash, left zero: not indexed
		copy(e[16:], a.name)

		binary.LittleEndian.PutUint16(e[2:4], uint16(valueOffset))
		copy(b[valueOffset:valueOffset+len(a.value)], a.value)

		entryOffset += entryLen
	}
	// terminator: a zeroed e_name_len marks the end of the entry list
	if entryOffset+4 > len(b) {
		return nil, fmt.Errorf("extended attributes leave no room for list terminator")
	}

	checksum := xattrBlockChecksum(b, checksumSeed)
	binary.LittleEndian.PutUint32(b[16:20], checksum)

	return b, nil
}

// xattrBlockChecksum computes h_checksum: crc32c(checksumSeed, block bytes
// with the checksum field itself zeroed).
func xattrBlockChecksum(b []byte, checksumSeed uint32) uint32 {
	clean := make([]byte, len(b))
	copy(clean, b)
	binary.LittleEndian.PutUint32(clean[16:20], 0)
	return crc.CRC32c(checksumSeed, clean)
}

// writeXattrBlock allocates a single filesystem block, renders attrs into
// it, and writes it to disk, returning the block number to store in the
// owning inode's extendedAttributeBlock field.
func (fs *FileSystem) writeXattrBlock(attrs []xattrAttribute) (uint64, error) {
	blockSize := fs.superblock.blockSize
	data, err := buildXattrBlock(attrs, blockSize, fs.superblock.checksumSeed)
	if err != nil {
		return 0, err
	}
	allocated, err := fs.allocateExtents(uint64(blockSize), nil)
	if err != nil {
		return 0, fmt.Errorf("could not allocate block for extended attributes: %w", err)
	}
	if allocated == nil || len(*allocated) == 0 {
		return 0, fmt.Errorf("no block allocated for extended attributes")
	}
	block := (*allocated)[0].startingBlock
	writable, err := fs.backend.Writable()
	if err != nil {
		return 0, err
	}
	if _, err := writable.WriteAt(data, int64(block*uint64(blockSize))); err != nil {
		return 0, fmt.Errorf("could not write extended attribute block: %w", err)
	}
	return block, nil
}

func roundUp4(n int) int {
	if rem := n % 4; rem != 0 {
		n += 4 - rem
	}
	return n
}
