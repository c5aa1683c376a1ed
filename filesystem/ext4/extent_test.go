package ext4

import (
	"encoding/binary"
	"testing"

	"github.com/mkfsext4/mkfsext4/backend/file"
)

func testExtentFS(t *testing.T, size int64) *FileSystem {
	t.Helper()
	_, f := testBuildBackend(t, size)
	t.Cleanup(func() { f.Close() })
	fs, err := Create(file.New(f, false), size, 0, 512, &Params{SectorsPerBlock: 2})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return fs
}

func TestEmptyExtentRootIsValidLeaf(t *testing.T) {
	root := emptyExtentRoot(4096)
	leaf, ok := root.(*extentLeafNode)
	if !ok {
		t.Fatalf("expected *extentLeafNode, got %T", root)
	}
	if leaf.entries != 0 {
		t.Errorf("entries = %d, want 0", leaf.entries)
	}
	if leaf.max != extentRootMaxEntries {
		t.Errorf("max = %d, want %d", leaf.max, extentRootMaxEntries)
	}
	b := leaf.toBytes()
	if len(b) != 12+12*int(extentRootMaxEntries) {
		t.Fatalf("unexpected serialized length %d", len(b))
	}
	if sig := binary.LittleEndian.Uint16(b[0:2]); sig != extentHeaderSignature {
		t.Errorf("signature = 0x%04x, want 0x%04x", sig, extentHeaderSignature)
	}
}

func TestBuildExtentTreeInlineFitsInRoot(t *testing.T) {
	fs := testExtentFS(t, 32*1024*1024)
	added := extents{
		{fileBlock: 0, startingBlock: 100, count: 2},
		{fileBlock: 2, startingBlock: 300, count: 3},
	}
	tree, metaBlocks, err := buildExtentTree(&added, fs)
	if err != nil {
		t.Fatalf("buildExtentTree failed: %v", err)
	}
	if metaBlocks != 0 {
		t.Errorf("expected 0 metadata blocks for an inline-fitting tree, got %d", metaBlocks)
	}
	leaf, ok := tree.(*extentLeafNode)
	if !ok {
		t.Fatalf("expected *extentLeafNode, got %T", tree)
	}
	if len(leaf.extents) != len(added) {
		t.Fatalf("got %d extents, want %d", len(leaf.extents), len(added))
	}

	resolved, err := tree.blocks(fs)
	if err != nil {
		t.Fatalf("blocks() failed: %v", err)
	}
	if resolved.blockCount() != added.blockCount() {
		t.Errorf("resolved block count = %d, want %d", resolved.blockCount(), added.blockCount())
	}
}

func TestBuildExtentTreeSpillsIntoLeavesAndIndex(t *testing.T) {
	fs := testExtentFS(t, 64*1024*1024)
	// More than extentRootMaxEntries (4) distinct runs force at least one
	// level of leaf nodes to be allocated outside the inode root.
	added := extents{
		{fileBlock: 0, startingBlock: 1000, count: 1},
		{fileBlock: 1, startingBlock: 2000, count: 1},
		{fileBlock: 2, startingBlock: 3000, count: 1},
		{fileBlock: 3, startingBlock: 4000, count: 1},
		{fileBlock: 4, startingBlock: 5000, count: 1},
		{fileBlock: 5, startingBlock: 6000, count: 1},
	}
	tree, metaBlocks, err := buildExtentTree(&added, fs)
	if err != nil {
		t.Fatalf("buildExtentTree failed: %v", err)
	}
	if metaBlocks == 0 {
		t.Fatalf("expected metadata blocks to be allocated for a spilled tree")
	}
	root, ok := tree.(*extentInternalNode)
	if !ok {
		t.Fatalf("expected *extentInternalNode root, got %T", tree)
	}
	if root.depth == 0 {
		t.Errorf("root depth = 0, want > 0 for a spilled tree")
	}

	resolved, err := root.blocks(fs)
	if err != nil {
		t.Fatalf("blocks() failed: %v", err)
	}
	if resolved.blockCount() != added.blockCount() {
		t.Errorf("resolved block count = %d, want %d", resolved.blockCount(), added.blockCount())
	}
	for i, e := range resolved {
		if e.fileBlock != added[i].fileBlock || e.startingBlock != added[i].startingBlock {
			t.Errorf("extent %d = %+v, want %+v", i, e, added[i])
		}
	}
}

func TestParseExtentsLeafRoundTrip(t *testing.T) {
	leaf := newLeafNode(extents{
		{fileBlock: 0, startingBlock: 50, count: 4},
		{fileBlock: 4, startingBlock: 80, count: 6},
	}, 4, 4096, 0)

	parsed, err := parseExtents(leaf.toBytes(), 4096, 0, 10)
	if err != nil {
		t.Fatalf("parseExtents failed: %v", err)
	}
	got, ok := parsed.(*extentLeafNode)
	if !ok {
		t.Fatalf("expected *extentLeafNode, got %T", parsed)
	}
	if len(got.extents) != 2 || got.extents[0].startingBlock != 50 || got.extents[1].count != 6 {
		t.Errorf("round-tripped extents = %+v", got.extents)
	}
}

func TestParseExtentsInternalInfersSpanFromSiblings(t *testing.T) {
	// Three children covering logical blocks [0,4), [4,9), [9,12): the
	// wire format stores only each child's starting logical block, so
	// the span of every child but the last must be inferred from its
	// following sibling, and the last child's span from the start+count
	// the caller (the parent, or the inode for a root) supplies.
	node := newInternalNode([]extentTree{
		&extentLeafNode{extentNodeHeader: extentNodeHeader{}, extents: extents{{fileBlock: 0, count: 4, startingBlock: 10}}, diskBlock: 5},
		&extentLeafNode{extentNodeHeader: extentNodeHeader{}, extents: extents{{fileBlock: 4, count: 5, startingBlock: 20}}, diskBlock: 6},
		&extentLeafNode{extentNodeHeader: extentNodeHeader{}, extents: extents{{fileBlock: 9, count: 3, startingBlock: 30}}, diskBlock: 7},
	}, 1, 4, 4096, 0)

	parsed, err := parseExtents(node.toBytes(), 4096, 0, 12)
	if err != nil {
		t.Fatalf("parseExtents failed: %v", err)
	}
	internal, ok := parsed.(*extentInternalNode)
	if !ok {
		t.Fatalf("expected *extentInternalNode, got %T", parsed)
	}
	wantCounts := []uint32{4, 5, 3}
	for i, child := range internal.children {
		if child.count != wantCounts[i] {
			t.Errorf("child %d count = %d, want %d", i, child.count, wantCounts[i])
		}
		if child.diskBlock != node.children[i].diskBlock {
			t.Errorf("child %d diskBlock = %d, want %d", i, child.diskBlock, node.children[i].diskBlock)
		}
	}
}
