package ext4

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mkfsext4/mkfsext4/backend/file"
)

// memSource is a minimal in-memory BuildSource for exercising Build without
// touching the host filesystem.
type memSource struct {
	dirs  map[string][]SourceEntry
	files map[string][]byte
}

func (m *memSource) Children(dir string) ([]SourceEntry, error) {
	return m.dirs[dir], nil
}

func (m *memSource) Open(p string) (io.ReadCloser, error) {
	b, ok := m.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func testBuildBackend(t *testing.T, size int64) (string, *os.File) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "mkfsext4-*.img")
	if err != nil {
		t.Fatalf("could not create temp file: %v", err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatalf("could not truncate temp file: %v", err)
	}
	return f.Name(), f
}

func TestBuildPlacesFilesDirectoriesAndSymlinks(t *testing.T) {
	const size = 64 * 1024 * 1024
	_, f := testBuildBackend(t, size)
	defer f.Close()

	content := []byte("hello from the image builder\n")
	src := &memSource{
		dirs: map[string][]SourceEntry{
			"": {
				{Name: "a", Mode: os.ModeDir | 0o755},
			},
			"a": {
				{Name: "f1", Mode: 0o644, Size: int64(len(content))},
				{Name: "link", Mode: os.ModeSymlink | 0o777, LinkTarget: "f1"},
			},
		},
		files: map[string][]byte{
			"a/f1": content,
		},
	}

	params := &Params{SectorsPerBlock: 2}
	fs, err := Build(file.New(f, false), size, 0, 512, params, src, BuildOptions{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	root, err := fs.readDirectory(rootInode)
	if err != nil {
		t.Fatalf("could not read root directory: %v", err)
	}
	var aInode uint32
	found := false
	for _, de := range root {
		if de.filename == "a" {
			aInode, found = de.inode, true
		}
	}
	if !found {
		t.Fatalf("expected root to contain %q", "a")
	}

	aEntries, err := fs.readDirectory(aInode)
	if err != nil {
		t.Fatalf("could not read directory %q: %v", "a", err)
	}
	names := map[string]*directoryEntry{}
	for _, de := range aEntries {
		names[de.filename] = de
	}
	if _, ok := names["f1"]; !ok {
		t.Fatalf("expected %q to contain f1", "a")
	}
	if _, ok := names["link"]; !ok {
		t.Fatalf("expected %q to contain link", "a")
	}

	f1Inode, err := fs.readInode(names["f1"].inode)
	if err != nil {
		t.Fatalf("could not read inode for f1: %v", err)
	}
	if f1Inode.size != uint64(len(content)) {
		t.Errorf("f1 size = %d, want %d", f1Inode.size, len(content))
	}
}

func TestBuildForceSkipsFailingEntry(t *testing.T) {
	const size = 64 * 1024 * 1024
	_, f := testBuildBackend(t, size)
	defer f.Close()

	src := &memSource{
		dirs: map[string][]SourceEntry{
			"": {
				{Name: "good", Mode: 0o644, Size: 3},
				{Name: "missing", Mode: 0o644, Size: 3}, // never opened successfully
			},
		},
		files: map[string][]byte{
			"good": []byte("hi\n"),
		},
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	params := &Params{SectorsPerBlock: 2}
	fs, err := Build(file.New(f, false), size, 0, 512, params, src, BuildOptions{Force: true, Log: log})
	if err != nil {
		t.Fatalf("Build with Force should not fail on a skippable entry: %v", err)
	}

	root, err := fs.readDirectory(rootInode)
	if err != nil {
		t.Fatalf("could not read root directory: %v", err)
	}
	var sawGood, sawMissing bool
	for _, de := range root {
		switch de.filename {
		case "good":
			sawGood = true
		case "missing":
			sawMissing = true
		}
	}
	if !sawGood {
		t.Errorf("expected root to contain the successfully placed entry")
	}
	if sawMissing {
		t.Errorf("expected the failing entry to have been skipped, not placed")
	}
}

func TestBuildWithoutForceAbortsOnFailingEntry(t *testing.T) {
	const size = 64 * 1024 * 1024
	_, f := testBuildBackend(t, size)
	defer f.Close()

	src := &memSource{
		dirs: map[string][]SourceEntry{
			"": {
				{Name: "missing", Mode: 0o644, Size: 3},
			},
		},
		files: map[string][]byte{},
	}

	params := &Params{SectorsPerBlock: 2}
	if _, err := Build(file.New(f, false), size, 0, 512, params, src, BuildOptions{}); err == nil {
		t.Fatalf("expected Build to fail without Force when an entry cannot be opened")
	}
}

func TestBuildPlacesDeviceNodesAndFifos(t *testing.T) {
	const size = 64 * 1024 * 1024
	_, f := testBuildBackend(t, size)
	defer f.Close()

	src := &memSource{
		dirs: map[string][]SourceEntry{
			"": {
				{Name: "null", Mode: os.ModeDevice | os.ModeCharDevice | 0o666, DeviceMajor: 1, DeviceMinor: 3},
				{Name: "loop0", Mode: os.ModeDevice | 0o660, DeviceMajor: 7, DeviceMinor: 0},
				{Name: "fifo", Mode: os.ModeNamedPipe | 0o644},
			},
		},
		files: map[string][]byte{},
	}

	params := &Params{SectorsPerBlock: 2}
	fs, err := Build(file.New(f, false), size, 0, 512, params, src, BuildOptions{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	root, err := fs.readDirectory(rootInode)
	if err != nil {
		t.Fatalf("could not read root directory: %v", err)
	}
	byName := map[string]*directoryEntry{}
	for _, de := range root {
		byName[de.filename] = de
	}

	nullDE, ok := byName["null"]
	if !ok {
		t.Fatalf("expected root to contain null device")
	}
	nullInode, err := fs.readInode(nullDE.inode)
	if err != nil {
		t.Fatalf("could not read inode for null device: %v", err)
	}
	if nullInode.fileType != fileTypeCharacterDevice {
		t.Errorf("null device fileType = %v, want character device", nullInode.fileType)
	}
	if nullInode.deviceMajor != 1 || nullInode.deviceMinor != 3 {
		t.Errorf("null device major/minor = %d/%d, want 1/3", nullInode.deviceMajor, nullInode.deviceMinor)
	}

	loopDE, ok := byName["loop0"]
	if !ok {
		t.Fatalf("expected root to contain loop0 device")
	}
	loopInode, err := fs.readInode(loopDE.inode)
	if err != nil {
		t.Fatalf("could not read inode for loop0 device: %v", err)
	}
	if loopInode.fileType != fileTypeBlockDevice {
		t.Errorf("loop0 device fileType = %v, want block device", loopInode.fileType)
	}
	if loopInode.deviceMajor != 7 || loopInode.deviceMinor != 0 {
		t.Errorf("loop0 device major/minor = %d/%d, want 7/0", loopInode.deviceMajor, loopInode.deviceMinor)
	}

	fifoDE, ok := byName["fifo"]
	if !ok {
		t.Fatalf("expected root to contain fifo")
	}
	fifoInode, err := fs.readInode(fifoDE.inode)
	if err != nil {
		t.Fatalf("could not read inode for fifo: %v", err)
	}
	if fifoInode.fileType != fileTypeFifo {
		t.Errorf("fifo fileType = %v, want fifo", fifoInode.fileType)
	}
}

func TestDeviceNumberEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name         string
		major, minor uint32
	}{
		{"narrow", 1, 3},
		{"wide major", 259, 0},
		{"wide minor", 7, 300},
		{"zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b0, b1 := encodeDeviceNumber(tt.major, tt.minor)
			gotMajor, gotMinor := decodeDeviceNumber(b0, b1)
			if gotMajor != tt.major || gotMinor != tt.minor {
				t.Errorf("round trip %d/%d -> %d/%d, want %d/%d", tt.major, tt.minor, gotMajor, gotMinor, tt.major, tt.minor)
			}
		})
	}
}
