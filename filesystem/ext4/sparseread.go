package ext4

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mkfsext4/mkfsext4/filesystem/ext4/crc"
)

// sparseHeaderFromBytes parses a 28-byte sparse_header, validating its
// magic and the two structure-size fields this encoder relies on.
func sparseHeaderFromBytes(b []byte) (*sparseHeader, error) {
	if len(b) < int(sparseHeaderSize) {
		return nil, fmt.Errorf("sparse header too short: %d bytes", len(b))
	}
	magic := binary.LittleEndian.Uint32(b[0:4])
	if magic != sparseHeaderMagic {
		return nil, fmt.Errorf("not a sparse image: magic is 0x%08x, expected 0x%08x", magic, sparseHeaderMagic)
	}
	major := binary.LittleEndian.Uint16(b[4:6])
	if major != sparseMajorVersion {
		return nil, fmt.Errorf("unsupported sparse major version %d", major)
	}
	hdrSize := binary.LittleEndian.Uint16(b[8:10])
	chunkHdrSize := binary.LittleEndian.Uint16(b[10:12])
	if hdrSize != sparseHeaderSize || chunkHdrSize != sparseChunkHeaderSz {
		return nil, fmt.Errorf("unexpected sparse header/chunk-header sizes %d/%d", hdrSize, chunkHdrSize)
	}
	return &sparseHeader{
		blockSize:     binary.LittleEndian.Uint32(b[12:16]),
		totalBlocks:   binary.LittleEndian.Uint32(b[16:20]),
		totalChunks:   binary.LittleEndian.Uint32(b[20:24]),
		imageChecksum: binary.LittleEndian.Uint32(b[24:28]),
	}, nil
}

func chunkHeaderFromBytes(b []byte) (*chunkHeader, error) {
	if len(b) < int(sparseChunkHeaderSz) {
		return nil, fmt.Errorf("chunk header too short: %d bytes", len(b))
	}
	return &chunkHeader{
		chunkType: sparseChunkType(binary.LittleEndian.Uint16(b[0:2])),
		blocks:    binary.LittleEndian.Uint32(b[4:8]),
		totalSize: binary.LittleEndian.Uint32(b[8:12]),
	}, nil
}

// ExpandSparseImage reads a complete Android sparse image from r and writes
// its fully expanded (raw) form to w, verifying any trailing CRC32 chunk
// against the bytes it actually wrote. It is the inverse of
// WriteSparseImage, used to check that round-tripping an image through the
// sparse encoder reproduces the original bytes.
func ExpandSparseImage(w io.Writer, r io.Reader) error {
	hdrBytes := make([]byte, sparseHeaderSize)
	if _, err := io.ReadFull(r, hdrBytes); err != nil {
		return fmt.Errorf("could not read sparse header: %w", err)
	}
	h, err := sparseHeaderFromBytes(hdrBytes)
	if err != nil {
		return err
	}

	var (
		blocksWritten uint32
		runningCRC    uint32
		sawCRC        bool
		expectCRC     uint32
	)
	for i := uint32(0); i < h.totalChunks; i++ {
		chb := make([]byte, sparseChunkHeaderSz)
		if _, err := io.ReadFull(r, chb); err != nil {
			return fmt.Errorf("could not read chunk %d header: %w", i, err)
		}
		ch, err := chunkHeaderFromBytes(chb)
		if err != nil {
			return err
		}
		payloadSize := int64(ch.totalSize) - int64(sparseChunkHeaderSz)
		if payloadSize < 0 {
			return fmt.Errorf("chunk %d has invalid total size %d", i, ch.totalSize)
		}

		switch ch.chunkType {
		case sparseChunkRaw:
			expected := int64(ch.blocks) * int64(h.blockSize)
			if payloadSize != expected {
				return fmt.Errorf("chunk %d: raw payload is %d bytes, expected %d", i, payloadSize, expected)
			}
			buf := make([]byte, payloadSize)
			if _, err := io.ReadFull(r, buf); err != nil {
				return fmt.Errorf("could not read chunk %d payload: %w", i, err)
			}
			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("could not write expanded bytes for chunk %d: %w", i, err)
			}
			runningCRC = crc.CRC32(runningCRC, buf)
			blocksWritten += ch.blocks

		case sparseChunkFill:
			if payloadSize != 4 {
				return fmt.Errorf("chunk %d: fill payload is %d bytes, expected 4", i, payloadSize)
			}
			buf := make([]byte, 4)
			if _, err := io.ReadFull(r, buf); err != nil {
				return fmt.Errorf("could not read chunk %d fill value: %w", i, err)
			}
			block := make([]byte, h.blockSize)
			for off := uint32(0); off < h.blockSize; off += 4 {
				copy(block[off:off+4], buf)
			}
			for n := uint32(0); n < ch.blocks; n++ {
				if _, err := w.Write(block); err != nil {
					return fmt.Errorf("could not write expanded bytes for chunk %d: %w", i, err)
				}
				runningCRC = crc.CRC32(runningCRC, block)
			}
			blocksWritten += ch.blocks

		case sparseChunkDontCare:
			block := make([]byte, h.blockSize)
			for n := uint32(0); n < ch.blocks; n++ {
				if _, err := w.Write(block); err != nil {
					return fmt.Errorf("could not write expanded bytes for chunk %d: %w", i, err)
				}
				runningCRC = crc.CRC32(runningCRC, block)
			}
			blocksWritten += ch.blocks

		case sparseChunkCRC32:
			if payloadSize != 4 {
				return fmt.Errorf("chunk %d: crc32 payload is %d bytes, expected 4", i, payloadSize)
			}
			buf := make([]byte, 4)
			if _, err := io.ReadFull(r, buf); err != nil {
				return fmt.Errorf("could not read chunk %d crc32 value: %w", i, err)
			}
			sawCRC = true
			expectCRC = binary.LittleEndian.Uint32(buf)

		default:
			return fmt.Errorf("chunk %d has unrecognized type 0x%04x", i, ch.chunkType)
		}
	}

	if blocksWritten != h.totalBlocks {
		return fmt.Errorf("expanded %d blocks, header declared %d", blocksWritten, h.totalBlocks)
	}
	if sawCRC && runningCRC != expectCRC {
		return fmt.Errorf("expanded image crc32 0x%08x does not match trailing chunk 0x%08x", runningCRC, expectCRC)
	}
	return nil
}
