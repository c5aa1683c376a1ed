package hostfs_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mkfsext4/mkfsext4/hostfs"
)

func TestTreeChildren(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "bin"), 0o755); err != nil {
		t.Fatalf("could not create dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "bin", "ls"), []byte("binary content"), 0o755); err != nil {
		t.Fatalf("could not write file: %v", err)
	}
	if err := os.Symlink("ls", filepath.Join(root, "bin", "ll")); err != nil {
		t.Fatalf("could not create symlink: %v", err)
	}

	tree := &hostfs.Tree{Root: root}

	top, err := tree.Children("")
	if err != nil {
		t.Fatalf("Children(\"\") error = %v", err)
	}
	if len(top) != 1 || top[0].Name != "bin" || !top[0].Mode.IsDir() {
		t.Fatalf("Children(\"\") = %+v, want a single directory entry named bin", top)
	}

	binEntries, err := tree.Children("bin")
	if err != nil {
		t.Fatalf("Children(\"bin\") error = %v", err)
	}
	if len(binEntries) != 2 {
		t.Fatalf("Children(\"bin\") returned %d entries, want 2", len(binEntries))
	}
	// sorted order: "ll" before "ls"
	if binEntries[0].Name != "ll" || binEntries[1].Name != "ls" {
		t.Fatalf("Children(\"bin\") not sorted: got %q, %q", binEntries[0].Name, binEntries[1].Name)
	}
	if binEntries[0].LinkTarget != "ls" {
		t.Errorf("symlink target = %q, want %q", binEntries[0].LinkTarget, "ls")
	}
	if binEntries[1].Size != int64(len("binary content")) {
		t.Errorf("file size = %d, want %d", binEntries[1].Size, len("binary content"))
	}

	rc, err := tree.Open("bin/ls")
	if err != nil {
		t.Fatalf("Open(\"bin/ls\") error = %v", err)
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("could not read opened file: %v", err)
	}
	if string(content) != "binary content" {
		t.Errorf("read content = %q, want %q", content, "binary content")
	}
}
