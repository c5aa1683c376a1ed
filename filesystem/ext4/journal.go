package ext4

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/mkfsext4/mkfsext4/filesystem/ext4/crc"
)

const (
	journalMagic uint32 = 0xc03b3998

	// journalBlockTypeSuperblockV2 is the jbd2 block type this package
	// always writes: a dynamic superblock carrying a UUID and feature
	// words. The simpler V1 form (type 3, no UUID/feature fields) exists
	// only for reading journals this package never produces.
	journalBlockTypeSuperblockV2 uint32 = 4

	// jbd2IncompatFeatureChecksumV3 marks the superblock itself, and
	// every descriptor/commit/revoke block, as carrying a CRC32c
	// checksum instead of none at all.
	jbd2IncompatFeatureChecksumV3 uint32 = 0x10

	journalSuperblockSize = 1024
)

// journalSuperblock is the jbd2 superblock written to the first block of
// a filesystem's internal journal. This package never replays or records
// a transaction into the journal it builds, so a "clean" superblock —
// sequence 1, no outstanding transaction, s_start left at 0 — is the only
// shape it ever produces: that is exactly what an empty, freshly created
// journal looks like to both the kernel's recovery code and e2fsck.
type journalSuperblock struct {
	blockSize  uint32
	blockCount uint32
	uuid       uuid.UUID
	checksumV3 bool
}

// newJournalSuperblock builds a clean superblock for a journal blockCount
// blocks long, identified by the filesystem's own UUID so recovery tools
// can tell which filesystem a detached journal device belongs to.
// checksumV3 should track whatever metadata checksum feature the rest of
// the filesystem was built with, so the journal's own integrity checking
// matches the filesystem around it rather than silently staying weaker.
func newJournalSuperblock(blockSize, blockCount uint32, fsUUID uuid.UUID, checksumV3 bool) *journalSuperblock {
	return &journalSuperblock{
		blockSize:  blockSize,
		blockCount: blockCount,
		uuid:       fsUUID,
		checksumV3: checksumV3,
	}
}

// toBytes serializes the superblock into a full journalSuperblockSize
// block. Fields this package never varies are written as constants rather
// than threaded through as struct fields that only ever take one value:
// s_first and s_nr_users are 1 (journal content always starts at the
// journal's own block 1, and one filesystem uses it), while s_errno and the
// fast-commit and v2-dynamic-superblock padding are left zero.
func (js *journalSuperblock) toBytes() []byte {
	b := make([]byte, journalSuperblockSize)

	binary.BigEndian.PutUint32(b[0x0:0x4], journalMagic)
	binary.BigEndian.PutUint32(b[0x4:0x8], journalBlockTypeSuperblockV2)
	binary.BigEndian.PutUint32(b[0x8:0xc], 1) // s_sequence: first (and only) transaction id

	binary.BigEndian.PutUint32(b[0xc:0x10], js.blockSize)
	binary.BigEndian.PutUint32(b[0x10:0x14], js.blockCount)
	binary.BigEndian.PutUint32(b[0x14:0x18], 1) // s_first
	binary.BigEndian.PutUint32(b[0x18:0x1c], 1) // s_sequence (duplicate of the header copy, same field name upstream)
	// s_start at 0x1c stays 0: no transaction outstanding in a fresh journal
	// s_errno at 0x20 stays 0

	if js.checksumV3 {
		binary.BigEndian.PutUint32(b[0x28:0x2c], jbd2IncompatFeatureChecksumV3)
	}
	copy(b[0x30:0x40], js.uuid[:])
	binary.BigEndian.PutUint32(b[0x40:0x44], 1) // s_nr_users: one filesystem uses this journal

	if js.checksumV3 {
		// Per the kernel/e2fsprogs convention, the checksum covers the
		// whole superblock with the checksum field itself zeroed.
		checksum := crc.CRC32c(0xffffffff, b)
		binary.BigEndian.PutUint32(b[0xfc:0x100], checksum)
	}

	return b
}
