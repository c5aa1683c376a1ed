package ext4

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mkfsext4/mkfsext4/filesystem/ext4/crc"
)

// Android sparse image format: a small header followed by a sequence of
// chunks, each describing one run of output blocks. This is the format
// img2simg/simg2img and the Android bootloader/fastboot/recovery stack
// consume; it exists so a mostly-empty ext4 image can be shipped without
// its zero-filled holes, and so a flashing tool can CRC-check the result
// without ever materializing the raw image.
const (
	sparseHeaderMagic   uint32 = 0xed26ff3a
	sparseMajorVersion  uint16 = 1
	sparseMinorVersion  uint16 = 0
	sparseHeaderSize    uint16 = 28
	sparseChunkHeaderSz uint16 = 12
)

type sparseChunkType uint16

const (
	sparseChunkRaw      sparseChunkType = 0xcac1
	sparseChunkFill     sparseChunkType = 0xcac2
	sparseChunkDontCare sparseChunkType = 0xcac3
	sparseChunkCRC32    sparseChunkType = 0xcac4
)

// sparseHeader is the 28-byte sparse_header struct.
type sparseHeader struct {
	blockSize     uint32 // bytes per output block, normally the fs block size
	totalBlocks   uint32 // blocks represented by the expanded image
	totalChunks   uint32
	imageChecksum uint32 // unused by this encoder; verification lives in the trailing CRC32 chunk
}

func (h sparseHeader) toBytes() []byte {
	b := make([]byte, sparseHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], sparseHeaderMagic)
	binary.LittleEndian.PutUint16(b[4:6], sparseMajorVersion)
	binary.LittleEndian.PutUint16(b[6:8], sparseMinorVersion)
	binary.LittleEndian.PutUint16(b[8:10], sparseHeaderSize)
	binary.LittleEndian.PutUint16(b[10:12], sparseChunkHeaderSz)
	binary.LittleEndian.PutUint32(b[12:16], h.blockSize)
	binary.LittleEndian.PutUint32(b[16:20], h.totalBlocks)
	binary.LittleEndian.PutUint32(b[20:24], h.totalChunks)
	binary.LittleEndian.PutUint32(b[24:28], h.imageChecksum)
	return b
}

// chunkHeader is the 12-byte chunk_header struct preceding each chunk's
// type-specific payload.
type chunkHeader struct {
	chunkType sparseChunkType
	blocks    uint32 // output blocks this chunk expands to
	totalSize uint32 // total bytes of this chunk, header included
}

func (c chunkHeader) toBytes() []byte {
	b := make([]byte, sparseChunkHeaderSz)
	binary.LittleEndian.PutUint16(b[0:2], uint16(c.chunkType))
	binary.LittleEndian.PutUint16(b[2:4], 0) // reserved1
	binary.LittleEndian.PutUint32(b[4:8], c.blocks)
	binary.LittleEndian.PutUint32(b[8:12], c.totalSize)
	return b
}

// SparseWriter encodes a raw image, one block run at a time, directly into
// the Android sparse format. Callers feed it blocks in strictly increasing
// order (the order any sequential image builder naturally produces them);
// it coalesces adjacent identical-fill runs and DONT_CARE runs into single
// chunks, and buffers the header until Close, once the final chunk and
// block counts are known.
type SparseWriter struct {
	w         io.WriteSeeker
	blockSize uint32
	crcImage  bool

	blockCount uint32 // blocks appended so far, for totalBlocks
	chunkCount uint32
	runningCRC uint32

	pending     sparseChunkType
	pendingFill uint32 // valid when pending == sparseChunkFill
	pendingRaw  []byte // valid when pending == sparseChunkRaw
	pendingRun  uint32 // blocks accumulated in the pending chunk
}

// NewSparseWriter returns a SparseWriter that writes sparseBlockSize-byte
// blocks to w. If crcImage is true, a trailing CRC32 chunk covering the
// expanded image is appended on Close.
func NewSparseWriter(w io.WriteSeeker, sparseBlockSize uint32, crcImage bool) (*SparseWriter, error) {
	if sparseBlockSize == 0 || sparseBlockSize%4 != 0 {
		return nil, fmt.Errorf("sparse block size must be a nonzero multiple of 4, got %d", sparseBlockSize)
	}
	// reserve room for the header; it is rewritten once final counts are
	// known, mirroring how the superblock itself is finalized late
	if _, err := w.Seek(int64(sparseHeaderSize), io.SeekStart); err != nil {
		return nil, fmt.Errorf("could not seek past sparse header: %w", err)
	}
	return &SparseWriter{w: w, blockSize: sparseBlockSize, crcImage: crcImage, runningCRC: 0}, nil
}

// isFill reports whether block consists of a single repeated 4-byte pattern.
func isFill(block []byte) (uint32, bool) {
	if len(block) < 4 {
		return 0, false
	}
	pattern := binary.LittleEndian.Uint32(block[0:4])
	for i := 0; i < len(block); i += 4 {
		if binary.LittleEndian.Uint32(block[i:i+4]) != pattern {
			return 0, false
		}
	}
	return pattern, true
}

func isZero(block []byte) bool {
	for _, b := range block {
		if b != 0 {
			return false
		}
	}
	return true
}

// WriteBlock appends one sparseBlockSize-byte block of the expanded image.
// Blocks must be appended in order; there is no random access.
func (sw *SparseWriter) WriteBlock(block []byte) error {
	if uint32(len(block)) != sw.blockSize {
		return fmt.Errorf("block is %d bytes, expected %d", len(block), sw.blockSize)
	}
	sw.blockCount++
	if sw.crcImage {
		sw.runningCRC = crc.CRC32(sw.runningCRC, block)
	}

	var kind sparseChunkType
	var fillValue uint32
	switch {
	case isZero(block):
		kind = sparseChunkDontCare
	default:
		if v, ok := isFill(block); ok {
			kind = sparseChunkFill
			fillValue = v
		} else {
			kind = sparseChunkRaw
		}
	}

	switch {
	case sw.pending == 0:
		sw.startChunk(kind, fillValue, block)
	case sw.pending == kind && kind == sparseChunkDontCare:
		sw.pendingRun++
	case sw.pending == kind && kind == sparseChunkFill && sw.pendingFill == fillValue:
		sw.pendingRun++
	case sw.pending == kind && kind == sparseChunkRaw:
		sw.pendingRaw = append(sw.pendingRaw, block...)
		sw.pendingRun++
	default:
		if err := sw.flushChunk(); err != nil {
			return err
		}
		sw.startChunk(kind, fillValue, block)
	}
	return nil
}

func (sw *SparseWriter) startChunk(kind sparseChunkType, fillValue uint32, block []byte) {
	sw.pending = kind
	sw.pendingRun = 1
	sw.pendingFill = fillValue
	if kind == sparseChunkRaw {
		sw.pendingRaw = append([]byte(nil), block...)
	} else {
		sw.pendingRaw = nil
	}
}

// flushChunk writes the chunk accumulated so far to the underlying writer.
func (sw *SparseWriter) flushChunk() error {
	if sw.pending == 0 {
		return nil
	}
	var payload []byte
	switch sw.pending {
	case sparseChunkRaw:
		payload = sw.pendingRaw
	case sparseChunkFill:
		payload = make([]byte, 4)
		binary.LittleEndian.PutUint32(payload, sw.pendingFill)
	case sparseChunkDontCare:
		payload = nil
	}
	ch := chunkHeader{
		chunkType: sw.pending,
		blocks:    sw.pendingRun,
		totalSize: uint32(sparseChunkHeaderSz) + uint32(len(payload)),
	}
	if _, err := sw.w.Write(ch.toBytes()); err != nil {
		return fmt.Errorf("could not write chunk header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := sw.w.Write(payload); err != nil {
			return fmt.Errorf("could not write chunk payload: %w", err)
		}
	}
	sw.chunkCount++
	sw.pending = 0
	sw.pendingRaw = nil
	return nil
}

// Close flushes the last pending chunk, optionally appends a CRC32 chunk,
// and backfills the sparse header now that the final counts are known.
func (sw *SparseWriter) Close() error {
	if err := sw.flushChunk(); err != nil {
		return err
	}
	if sw.crcImage {
		ch := chunkHeader{chunkType: sparseChunkCRC32, blocks: 0, totalSize: uint32(sparseChunkHeaderSz) + 4}
		if _, err := sw.w.Write(ch.toBytes()); err != nil {
			return fmt.Errorf("could not write crc chunk header: %w", err)
		}
		crcBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(crcBytes, sw.runningCRC)
		if _, err := sw.w.Write(crcBytes); err != nil {
			return fmt.Errorf("could not write crc chunk payload: %w", err)
		}
		sw.chunkCount++
	}

	h := sparseHeader{
		blockSize:     sw.blockSize,
		totalBlocks:   sw.blockCount,
		totalChunks:   sw.chunkCount,
		imageChecksum: 0, // per spec, the header checksum field is unused; verification lives in the CRC32 chunk
	}
	if _, err := sw.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("could not seek to sparse header: %w", err)
	}
	if _, err := sw.w.Write(h.toBytes()); err != nil {
		return fmt.Errorf("could not write sparse header: %w", err)
	}
	return nil
}

// WriteSparseImage re-encodes a raw backend image, blockSize bytes at a
// time, as an Android sparse image written to w. size is the number of
// bytes of raw image to convert, starting at offset 0.
func WriteSparseImage(w io.WriteSeeker, raw io.ReaderAt, size int64, blockSize uint32, crcImage bool) error {
	sw, err := NewSparseWriter(w, blockSize, crcImage)
	if err != nil {
		return err
	}
	buf := make([]byte, blockSize)
	for off := int64(0); off < size; off += int64(blockSize) {
		n, err := raw.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			return fmt.Errorf("could not read raw image at offset %d: %w", off, err)
		}
		if n < len(buf) {
			for i := n; i < len(buf); i++ {
				buf[i] = 0
			}
		}
		if err := sw.WriteBlock(buf); err != nil {
			return err
		}
	}
	return sw.Close()
}
