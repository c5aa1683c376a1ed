package ext4

import (
	"encoding/binary"
	"fmt"

	"github.com/mkfsext4/mkfsext4/filesystem/ext4/crc"
)

// blockGroupFlags is the group descriptor's bg_flags field: per-group
// bitmap/inode-table initialization state used by uninit_bg/gdt_csum.
type blockGroupFlags struct {
	inodeUninit bool
	blockUninit bool
	inodeZeroed bool
}

func (f blockGroupFlags) toUint16() uint16 {
	var v uint16
	if f.inodeUninit {
		v |= 0x1
	}
	if f.blockUninit {
		v |= 0x2
	}
	if f.inodeZeroed {
		v |= 0x4
	}
	return v
}

func blockGroupFlagsFromUint16(v uint16) blockGroupFlags {
	return blockGroupFlags{
		inodeUninit: v&0x1 != 0,
		blockUninit: v&0x2 != 0,
		inodeZeroed: v&0x4 != 0,
	}
}

// groupDescriptor is a single entry of the group descriptor table.
type groupDescriptor struct {
	number                           uint16
	size                             uint16 // 32 or 64 depending on the 64bit feature
	blockBitmapLocation              uint64
	inodeBitmapLocation              uint64
	inodeTableLocation               uint64
	freeBlocks                       uint32
	freeInodes                       uint32
	usedDirectories                  uint16
	flags                            blockGroupFlags
	snapshotExclusionBitmapLocation  uint64
	blockBitmapChecksum              uint32
	inodeBitmapChecksum              uint32
	unusedInodes                     uint16
	checksum                         uint16
}

// toBytes serializes a single group descriptor. When checksumType is
// noGdtChecksum the checksum field is left zero.
func (gd *groupDescriptor) toBytes(checksumType gdtChecksumType, checksumSeed uint16) []byte {
	size := gd.size
	if size == 0 {
		size = groupDescriptorSize
	}
	b := make([]byte, size)

	binary.LittleEndian.PutUint32(b[0x0:0x4], uint32(gd.blockBitmapLocation))
	binary.LittleEndian.PutUint32(b[0x4:0x8], uint32(gd.inodeBitmapLocation))
	binary.LittleEndian.PutUint32(b[0x8:0xc], uint32(gd.inodeTableLocation))
	binary.LittleEndian.PutUint16(b[0xc:0xe], uint16(gd.freeBlocks))
	binary.LittleEndian.PutUint16(b[0xe:0x10], uint16(gd.freeInodes))
	binary.LittleEndian.PutUint16(b[0x10:0x12], gd.usedDirectories)
	binary.LittleEndian.PutUint16(b[0x12:0x14], gd.flags.toUint16())
	binary.LittleEndian.PutUint32(b[0x14:0x18], uint32(gd.snapshotExclusionBitmapLocation))
	binary.LittleEndian.PutUint16(b[0x18:0x1a], uint16(gd.blockBitmapChecksum))
	binary.LittleEndian.PutUint16(b[0x1a:0x1c], uint16(gd.inodeBitmapChecksum))
	binary.LittleEndian.PutUint16(b[0x1e:0x20], gd.unusedInodes)

	if size >= groupDescriptorSize64Bit {
		binary.LittleEndian.PutUint32(b[0x20:0x24], uint32(gd.blockBitmapLocation>>32))
		binary.LittleEndian.PutUint32(b[0x24:0x28], uint32(gd.inodeBitmapLocation>>32))
		binary.LittleEndian.PutUint32(b[0x28:0x2c], uint32(gd.inodeTableLocation>>32))
		binary.LittleEndian.PutUint16(b[0x2c:0x2e], uint16(gd.freeBlocks>>16))
		binary.LittleEndian.PutUint16(b[0x2e:0x30], uint16(gd.freeInodes>>16))
		binary.LittleEndian.PutUint16(b[0x30:0x32], uint16(gd.usedDirectories>>16))
		binary.LittleEndian.PutUint16(b[0x32:0x34], uint16(gd.unusedInodes>>16))
		binary.LittleEndian.PutUint32(b[0x34:0x38], uint32(gd.snapshotExclusionBitmapLocation>>32))
		binary.LittleEndian.PutUint16(b[0x38:0x3a], uint16(gd.blockBitmapChecksum>>16))
		binary.LittleEndian.PutUint16(b[0x3a:0x3c], uint16(gd.inodeBitmapChecksum>>16))
	}

	if checksumType != noGdtChecksum {
		binary.LittleEndian.PutUint16(b[0x1c:0x1e], 0)
		csum := groupDescriptorChecksum(b, checksumType, checksumSeed, gd.number)
		binary.LittleEndian.PutUint16(b[0x1c:0x1e], csum)
	}

	return b
}

// groupDescriptorChecksum computes the bg_checksum field per the ext4
// on-disk format: crc16(crc16(~0, sb.uuid), bg_index_le32 || descriptor
// bytes up to (not including) the checksum field). uuidCrc16Seed is
// sb.gdtChecksumSeed, crc16(~0, uuid), computed once at superblock creation.
func groupDescriptorChecksum(descBytes []byte, checksumType gdtChecksumType, uuidCrc16Seed uint16, groupNumber uint16) uint16 {
	if checksumType != crc16GdtChecksum {
		return 0
	}
	idx := make([]byte, 4)
	binary.LittleEndian.PutUint32(idx, uint32(groupNumber))
	c := crc.CRC16(uuidCrc16Seed, idx)
	c = crc.CRC16(c, descBytes)
	return c
}

func groupDescriptorFromBytes(b []byte, size uint16, number int, checksumType gdtChecksumType, checksumSeed uint16) (*groupDescriptor, error) {
	if size == 0 {
		size = groupDescriptorSize
	}
	offset := number * int(size)
	if len(b) < offset+int(size) {
		return nil, fmt.Errorf("group descriptor table too short for group %d", number)
	}
	d := b[offset : offset+int(size)]

	gd := &groupDescriptor{
		number:                          uint16(number),
		size:                            size,
		blockBitmapLocation:            uint64(binary.LittleEndian.Uint32(d[0x0:0x4])),
		inodeBitmapLocation:            uint64(binary.LittleEndian.Uint32(d[0x4:0x8])),
		inodeTableLocation:             uint64(binary.LittleEndian.Uint32(d[0x8:0xc])),
		freeBlocks:                     uint32(binary.LittleEndian.Uint16(d[0xc:0xe])),
		freeInodes:                     uint32(binary.LittleEndian.Uint16(d[0xe:0x10])),
		usedDirectories:                binary.LittleEndian.Uint16(d[0x10:0x12]),
		flags:                          blockGroupFlagsFromUint16(binary.LittleEndian.Uint16(d[0x12:0x14])),
		snapshotExclusionBitmapLocation: uint64(binary.LittleEndian.Uint32(d[0x14:0x18])),
		blockBitmapChecksum:            uint32(binary.LittleEndian.Uint16(d[0x18:0x1a])),
		inodeBitmapChecksum:            uint32(binary.LittleEndian.Uint16(d[0x1a:0x1c])),
		checksum:                       binary.LittleEndian.Uint16(d[0x1c:0x1e]),
		unusedInodes:                   binary.LittleEndian.Uint16(d[0x1e:0x20]),
	}

	if size >= groupDescriptorSize64Bit {
		gd.blockBitmapLocation |= uint64(binary.LittleEndian.Uint32(d[0x20:0x24])) << 32
		gd.inodeBitmapLocation |= uint64(binary.LittleEndian.Uint32(d[0x24:0x28])) << 32
		gd.inodeTableLocation |= uint64(binary.LittleEndian.Uint32(d[0x28:0x2c])) << 32
		gd.freeBlocks |= uint32(binary.LittleEndian.Uint16(d[0x2c:0x2e])) << 16
		gd.freeInodes |= uint32(binary.LittleEndian.Uint16(d[0x2e:0x30])) << 16
		gd.usedDirectories |= binary.LittleEndian.Uint16(d[0x30:0x32]) << 16
		gd.unusedInodes |= binary.LittleEndian.Uint16(d[0x32:0x34]) << 16
		gd.snapshotExclusionBitmapLocation |= uint64(binary.LittleEndian.Uint32(d[0x34:0x38])) << 32
		gd.blockBitmapChecksum |= uint32(binary.LittleEndian.Uint16(d[0x38:0x3a])) << 16
		gd.inodeBitmapChecksum |= uint32(binary.LittleEndian.Uint16(d[0x3a:0x3c])) << 16
	}

	if checksumType != noGdtChecksum {
		clean := make([]byte, len(d))
		copy(clean, d)
		binary.LittleEndian.PutUint16(clean[0x1c:0x1e], 0)
		expected := groupDescriptorChecksum(clean, checksumType, checksumSeed, gd.number)
		if expected != gd.checksum {
			return nil, fmt.Errorf("group descriptor %d checksum mismatch: on-disk %x, calculated %x", number, gd.checksum, expected)
		}
	}

	return gd, nil
}

// groupDescriptors is the ordered table of all group descriptors.
type groupDescriptors struct {
	descriptors []groupDescriptor
}

func (gds *groupDescriptors) toBytes(checksumType gdtChecksumType, checksumSeed uint16) []byte {
	if len(gds.descriptors) == 0 {
		return nil
	}
	size := int(gds.descriptors[0].size)
	if size == 0 {
		size = int(groupDescriptorSize)
	}
	b := make([]byte, size*len(gds.descriptors))
	for i := range gds.descriptors {
		d := gds.descriptors[i].toBytes(checksumType, checksumSeed)
		copy(b[i*size:(i+1)*size], d)
	}
	return b
}

func groupDescriptorsFromBytes(b []byte, size uint16, checksumSeed uint16, checksumType gdtChecksumType) (*groupDescriptors, error) {
	if size == 0 {
		size = groupDescriptorSize
	}
	count := len(b) / int(size)
	descs := make([]groupDescriptor, 0, count)
	for i := 0; i < count; i++ {
		gd, err := groupDescriptorFromBytes(b, size, i, checksumType, checksumSeed)
		if err != nil {
			return nil, err
		}
		descs = append(descs, *gd)
	}
	return &groupDescriptors{descriptors: descs}, nil
}

func (gds *groupDescriptors) equal(o *groupDescriptors) bool {
	if gds == nil || o == nil {
		return gds == o
	}
	if len(gds.descriptors) != len(o.descriptors) {
		return false
	}
	for i := range gds.descriptors {
		if gds.descriptors[i] != o.descriptors[i] {
			return false
		}
	}
	return true
}

// calculateBackupSuperblockGroups returns, for a filesystem of blockGroups
// groups, the ascending list of group indices (excluding group 0, the
// primary) that carry a superblock-and-GDT backup: group 1, and every power
// of 3, 5, or 7 strictly less than blockGroups.
func calculateBackupSuperblockGroups(blockGroups int64) []int64 {
	seen := map[int64]bool{}
	var groups []int64
	if blockGroups > 1 {
		groups = append(groups, 1)
		seen[1] = true
	}
	for _, base := range []int64{3, 5, 7} {
		for x := base; x < blockGroups; x *= base {
			if !seen[x] {
				seen[x] = true
				groups = append(groups, x)
			}
		}
	}
	sortInt64s(groups)
	return groups
}

func sortInt64s(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
