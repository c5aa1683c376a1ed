package ext4_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/mkfsext4/mkfsext4/filesystem/ext4"
)

func TestSparseRoundTrip(t *testing.T) {
	const blockSize = 4096
	raw := make([]byte, blockSize*6)
	// block 0: all zero (DONT_CARE)
	// block 1: all zero (DONT_CARE, coalesces with block 0)
	// block 2: repeated 4-byte pattern (FILL)
	for i := 2 * blockSize; i < 3*blockSize; i += 4 {
		raw[i] = 0xde
		raw[i+1] = 0xad
		raw[i+2] = 0xbe
		raw[i+3] = 0xef
	}
	// block 3: arbitrary content (RAW)
	for i := 3 * blockSize; i < 4*blockSize; i++ {
		raw[i] = byte(i)
	}
	// block 4: same RAW content continues, so it coalesces with block 3
	for i := 4 * blockSize; i < 5*blockSize; i++ {
		raw[i] = byte(i)
	}
	// block 5: all zero again (DONT_CARE, but not adjacent to blocks 0-1)

	f, err := os.CreateTemp("", "sparse_test")
	if err != nil {
		t.Fatalf("could not create temp file: %v", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := ext4.WriteSparseImage(f, bytes.NewReader(raw), int64(len(raw)), blockSize, true); err != nil {
		t.Fatalf("WriteSparseImage() error = %v", err)
	}

	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("could not seek temp file: %v", err)
	}
	var expanded bytes.Buffer
	if err := ext4.ExpandSparseImage(&expanded, f); err != nil {
		t.Fatalf("ExpandSparseImage() error = %v", err)
	}

	if !bytes.Equal(expanded.Bytes(), raw) {
		t.Fatalf("round-tripped image does not match original: got %d bytes, want %d bytes", expanded.Len(), len(raw))
	}
}

func TestSparseImageSmallerThanRaw(t *testing.T) {
	const blockSize = 4096
	sparseBuf := &seekBuffer{}
	if err := ext4.WriteSparseImage(sparseBuf, bytes.NewReader(make([]byte, blockSize*64)), blockSize*64, blockSize, false); err != nil {
		t.Fatalf("WriteSparseImage() error = %v", err)
	}
	if sparseBuf.Len() >= blockSize*64 {
		t.Errorf("sparse encoding of an all-zero image was %d bytes, expected much smaller than the %d-byte raw image", sparseBuf.Len(), blockSize*64)
	}
}

// seekBuffer adapts a bytes.Buffer into an io.WriteSeeker for tests. A write
// after a seek past the end (as NewSparseWriter does to reserve the header)
// zero-fills the gap first; a seek back to the start (as Close does to
// backfill the header) overwrites in place.
type seekBuffer struct {
	b   bytes.Buffer
	pos int64
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if s.pos > int64(s.b.Len()) {
		s.b.Write(make([]byte, s.pos-int64(s.b.Len())))
	}
	if s.pos < int64(s.b.Len()) {
		existing := s.b.Bytes()
		n := copy(existing[s.pos:], p)
		s.pos += int64(n)
		if n < len(p) {
			m, err := s.b.Write(p[n:])
			s.pos += int64(m)
			return n + m, err
		}
		return n, nil
	}
	n, err := s.b.Write(p)
	s.pos += int64(n)
	return n, err
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		s.pos = offset
	case 1:
		s.pos += offset
	case 2:
		s.pos = int64(s.b.Len()) + offset
	}
	return s.pos, nil
}

func (s *seekBuffer) Len() int {
	return s.b.Len()
}
