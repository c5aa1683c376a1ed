package ext4

import (
	"encoding/binary"
	"fmt"

	"github.com/mkfsext4/mkfsext4/filesystem/ext4/crc"
)

// dirEntryFileType is the on-disk file_type byte of a dir_entry_2, valid
// only when the filetype incompat feature is set. We always set it.
type dirEntryFileType uint8

const (
	dirFileTypeUnknown         dirEntryFileType = 0x0
	dirFileTypeRegular         dirEntryFileType = 0x1
	dirFileTypeDirectory       dirEntryFileType = 0x2
	dirFileTypeCharacterDevice dirEntryFileType = 0x3
	dirFileTypeBlockDevice     dirEntryFileType = 0x4
	dirFileTypeFifo            dirEntryFileType = 0x5
	dirFileTypeSocket          dirEntryFileType = 0x6
	dirFileTypeSymbolicLink    dirEntryFileType = 0x7
	dirEntryFileTypeChecksum   dirEntryFileType = 0xde // fake entry holding the tail checksum
)

// minDirEntryLength is the size of a dir_entry_2 with an empty name,
// rounded to the 4-byte record boundary ext4 requires.
const minDirEntryLength = 8

// directoryEntry is a single dir_entry_2 record: a name, the inode it
// points at, and the inode's type (duplicated here so readers do not need
// to follow the inode just to tell a file from a directory).
type directoryEntry struct {
	inode    uint32
	filename string
	fileType dirEntryFileType
}

func fileTypeToDirEntryType(ft fileType) dirEntryFileType {
	switch ft {
	case fileTypeDirectory:
		return dirFileTypeDirectory
	case fileTypeCharacterDevice:
		return dirFileTypeCharacterDevice
	case fileTypeBlockDevice:
		return dirFileTypeBlockDevice
	case fileTypeFifo:
		return dirFileTypeFifo
	case fileTypeSocket:
		return dirFileTypeSocket
	case fileTypeSymbolicLink:
		return dirFileTypeSymbolicLink
	default:
		return dirFileTypeRegular
	}
}

// recordLength returns the dir_entry_2 rec_len this entry would occupy:
// 8 bytes of fixed fields, the name, padded up to a 4-byte boundary.
func (de *directoryEntry) recordLength() uint16 {
	l := minDirEntryLength + len(de.filename)
	if rem := l % 4; rem != 0 {
		l += 4 - rem
	}
	return uint16(l)
}

// toBytes serializes the entry into a record of exactly recLen bytes
// (recLen must be >= de.recordLength(); the extra space becomes padding
// consumed by rec_len, as ext4 does for the last entry in a block).
func (de *directoryEntry) toBytes(recLen uint16) []byte {
	b := make([]byte, recLen)
	binary.LittleEndian.PutUint32(b[0x0:0x4], de.inode)
	binary.LittleEndian.PutUint16(b[0x4:0x6], recLen)
	nameLen := len(de.filename)
	b[0x6] = uint8(nameLen)
	b[0x7] = uint8(de.fileType)
	copy(b[0x8:0x8+nameLen], de.filename)
	return b
}

func directoryEntryFromBytes(b []byte) (de *directoryEntry, recLen uint16, err error) {
	if len(b) < minDirEntryLength {
		return nil, 0, fmt.Errorf("directory entry block too short: %d bytes", len(b))
	}
	inodeNumber := binary.LittleEndian.Uint32(b[0x0:0x4])
	recLen = binary.LittleEndian.Uint16(b[0x4:0x6])
	nameLen := int(b[0x6])
	ft := dirEntryFileType(b[0x7])
	if int(recLen) > len(b) {
		return nil, 0, fmt.Errorf("directory entry rec_len %d exceeds remaining block size %d", recLen, len(b))
	}
	if 0x8+nameLen > len(b) {
		return nil, 0, fmt.Errorf("directory entry name_len %d exceeds remaining block size %d", nameLen, len(b))
	}
	// a zero inode marks an unused slot (or the metadata_csum tail record,
	// handled by the caller before it ever reaches here)
	if inodeNumber == 0 {
		return nil, recLen, nil
	}
	name := string(b[0x8 : 0x8+nameLen])
	return &directoryEntry{inode: inodeNumber, filename: name, fileType: ft}, recLen, nil
}

// dirEntryChecksumAppender, when non-nil, overwrites the final dir_entry_2
// slot of a rendered directory block with a fake entry (inode 0, name_len
// 0, file_type 0xde) whose last 4 bytes hold crc32c(checksumSeed, inode ||
// generation || block_bytes[:-4]). The directory writers in this package
// apply it to every block, whether or not metadata_csum is enabled.
type dirEntryChecksumAppender func(blockBytes []byte) []byte

// directoryChecksumAppender builds a dirEntryChecksumAppender for the
// directory living in inodeNumber (generation is the inode's nfs file
// version, folded into the checksum exactly as the inode checksum is).
func directoryChecksumAppender(checksumSeed, inodeNumber, generation uint32) dirEntryChecksumAppender {
	return func(blockBytes []byte) []byte {
		if len(blockBytes) < 12 {
			return blockBytes
		}
		tailOffset := len(blockBytes) - 12
		// the tail record itself: rec_len 12, name_len 0, file_type 0xde
		binary.LittleEndian.PutUint32(blockBytes[tailOffset:tailOffset+4], 0)
		binary.LittleEndian.PutUint16(blockBytes[tailOffset+4:tailOffset+6], 12)
		blockBytes[tailOffset+6] = 0
		blockBytes[tailOffset+7] = uint8(dirEntryFileTypeChecksum)

		ibytes := make([]byte, 8)
		binary.LittleEndian.PutUint32(ibytes[0:4], inodeNumber)
		binary.LittleEndian.PutUint32(ibytes[4:8], generation)
		c := crc.CRC32c(checksumSeed, ibytes)
		c = crc.CRC32c(c, blockBytes[:tailOffset+8])
		binary.LittleEndian.PutUint32(blockBytes[tailOffset+8:tailOffset+12], c)
		return blockBytes
	}
}

// parseDirEntriesLinear walks a flat (non-indexed) directory's raw block
// bytes and returns every occupied dir_entry_2 record. When withChecksum is
// true, the final 12 bytes of each block are the metadata_csum tail record
// and are skipped as data but still consume their containing block's space.
func parseDirEntriesLinear(b []byte, withChecksum bool, blockSize uint32, inodeNumber, generation, checksumSeed uint32) ([]*directoryEntry, error) {
	var entries []*directoryEntry
	blocks := len(b) / int(blockSize)
	for bi := 0; bi < blocks; bi++ {
		block := b[bi*int(blockSize) : (bi+1)*int(blockSize)]
		limit := len(block)
		if withChecksum {
			limit -= 12
			if limit < 0 {
				return nil, fmt.Errorf("directory block %d too small for metadata checksum tail", bi)
			}
		}
		pos := 0
		for pos < limit {
			de, recLen, err := directoryEntryFromBytes(block[pos:limit])
			if err != nil {
				return nil, fmt.Errorf("block %d offset %d: %w", bi, pos, err)
			}
			if recLen == 0 {
				break
			}
			if de != nil {
				entries = append(entries, de)
			}
			pos += int(recLen)
		}

		if withChecksum {
			tailOffset := len(block) - 12
			onDisk := binary.LittleEndian.Uint32(block[tailOffset+8 : tailOffset+12])
			ibytes := make([]byte, 8)
			binary.LittleEndian.PutUint32(ibytes[0:4], inodeNumber)
			binary.LittleEndian.PutUint32(ibytes[4:8], generation)
			c := crc.CRC32c(checksumSeed, ibytes)
			c = crc.CRC32c(c, block[:tailOffset+8])
			if c != onDisk {
				return nil, fmt.Errorf("block %d: directory checksum mismatch: on-disk %x, calculated %x", bi, onDisk, c)
			}
		}
	}
	return entries, nil
}
