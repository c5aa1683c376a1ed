package ext4

import (
	"encoding/binary"
	"fmt"
)

const (
	extentTreeHeaderLength int    = 12
	extentTreeEntryLength  int    = 12
	extentHeaderSignature  uint16 = 0xf30a
	// extentRootMaxEntries is the number of extent/index entries that fit
	// directly in an inode's 60-byte i_block area alongside the 12-byte
	// header (see extentInodeMaxEntries in inode.go); anything larger
	// needs leaf and/or index nodes in separate allocated blocks.
	extentRootMaxEntries uint16 = uint16(extentInodeMaxEntries)
)

// extents is a logically-ordered run of contiguous physical regions backing
// a file's (or directory's) content.
type extents []extent

// extent is one contiguous run: fileBlock is the first logical block this
// run covers, startingBlock is the first physical block it maps to, and
// count is how many blocks the run spans.
type extent struct {
	fileBlock     uint32
	startingBlock uint64
	count         uint16
}

// blockCount totals the filesystem blocks (not 512-byte sectors) these
// extents cover.
func (e extents) blockCount() uint64 {
	var count uint64
	for _, ext := range e {
		count += uint64(ext.count)
	}
	return count
}

// extentTree is a node in an inode's extent tree: either a leaf holding
// extents directly, or an index node pointing at child nodes one level
// closer to the leaves. The root of the tree lives in the inode itself.
type extentTree interface {
	// blocks resolves this node, and everything beneath it, into a flat,
	// logical-order list of data extents.
	blocks(fs *FileSystem) (extents, error)
	// toBytes serializes this node for storage, either as the inode root
	// or in a metadata block the tree builder allocated for it.
	toBytes() []byte
}

var (
	_ extentTree = &extentInternalNode{}
	_ extentTree = &extentLeafNode{}
)

// extentNodeHeader is the 12-byte header shared by every extent tree node,
// whether it lives in the inode root or in an on-disk metadata block.
type extentNodeHeader struct {
	depth     uint16 // 0 at leaves, incrementing towards the root
	entries   uint16
	max       uint16
	blockSize uint32
}

func (e extentNodeHeader) toBytes() []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint16(b[0:2], extentHeaderSignature)
	binary.LittleEndian.PutUint16(b[2:4], e.entries)
	binary.LittleEndian.PutUint16(b[4:6], e.max)
	binary.LittleEndian.PutUint16(b[6:8], e.depth)
	return b
}

// extentChildPtr is an index-node entry: fileBlock is the first logical
// block the child subtree covers, count is how many logical blocks it
// spans in total, and diskBlock is where the child node itself lives.
type extentChildPtr struct {
	fileBlock uint32
	count     uint32
	diskBlock uint64
}

// extentLeafNode is a depth-0 node holding extents directly.
type extentLeafNode struct {
	extentNodeHeader
	extents   extents
	diskBlock uint64 // 0 when this is the inode root, not an on-disk node
}

func (e extentLeafNode) blocks(_ *FileSystem) (extents, error) {
	return e.extents, nil
}

func (e extentLeafNode) toBytes() []byte {
	// 12 byte header, 12 bytes per entry
	b := make([]byte, 12+12*e.max)
	copy(b[0:12], e.extentNodeHeader.toBytes())

	for i, ext := range e.extents {
		base := (i + 1) * 12
		binary.LittleEndian.PutUint32(b[base:base+4], ext.fileBlock)
		binary.LittleEndian.PutUint16(b[base+4:base+6], ext.count)
		diskBlock := make([]byte, 8)
		binary.LittleEndian.PutUint64(diskBlock, ext.startingBlock)
		copy(b[base+6:base+8], diskBlock[4:6])
		copy(b[base+8:base+12], diskBlock[0:4])
	}
	return b
}

// extentInternalNode is a depth>0 node pointing at child nodes.
type extentInternalNode struct {
	extentNodeHeader
	children  []*extentChildPtr
	diskBlock uint64 // 0 when this is the inode root
}

func (e extentInternalNode) blocks(fs *FileSystem) (extents, error) {
	var ret extents
	for _, child := range e.children {
		b, err := fs.readBlock(child.diskBlock)
		if err != nil {
			return nil, err
		}
		node, err := parseExtents(b, e.blockSize, child.fileBlock, child.count)
		if err != nil {
			return nil, err
		}
		blocks, err := node.blocks(fs)
		if err != nil {
			return nil, err
		}
		ret = append(ret, blocks...)
	}
	return ret, nil
}

func (e extentInternalNode) toBytes() []byte {
	// 12 byte header, 12 bytes per child
	b := make([]byte, 12+12*e.max)
	copy(b[0:12], e.extentNodeHeader.toBytes())

	for i, child := range e.children {
		base := (i + 1) * 12
		binary.LittleEndian.PutUint32(b[base:base+4], child.fileBlock)
		diskBlock := make([]byte, 8)
		binary.LittleEndian.PutUint64(diskBlock, child.diskBlock)
		copy(b[base+4:base+8], diskBlock[0:4])
		copy(b[base+8:base+10], diskBlock[4:6])
	}
	return b
}

// parseExtents decodes one extent tree node from raw bytes, either the leaf
// entries or the child pointers of an index node, without recursing into
// children — callers only read a child's block once they actually need to
// descend into it. start/count describe the logical range this node's
// parent believes the node covers; they are only consulted to infer the
// final child pointer's span, since the on-disk index entry format carries
// no explicit length field.
func parseExtents(b []byte, blocksize, start, count uint32) (extentTree, error) {
	minLength := extentTreeHeaderLength + extentTreeEntryLength
	if len(b) < minLength {
		return nil, fmt.Errorf("cannot parse extent tree from %d bytes, minimum required %d", len(b), minLength)
	}
	if binary.LittleEndian.Uint16(b[0:2]) != extentHeaderSignature {
		return nil, fmt.Errorf("invalid extent tree signature: %x", b[0x0:0x2])
	}
	header := extentNodeHeader{
		entries:   binary.LittleEndian.Uint16(b[0x2:0x4]),
		max:       binary.LittleEndian.Uint16(b[0x4:0x6]),
		depth:     binary.LittleEndian.Uint16(b[0x6:0x8]),
		blockSize: blocksize,
	}
	// b[0x8:0xc] holds a generation counter used by Lustre but not
	// standard ext4, so it is ignored here.

	if header.depth == 0 {
		leaf := extentLeafNode{extentNodeHeader: header}
		for i := 0; i < int(header.entries); i++ {
			entryStart := i*extentTreeEntryLength + extentTreeHeaderLength
			diskBlock := make([]byte, 8)
			copy(diskBlock[0:4], b[entryStart+8:entryStart+12])
			copy(diskBlock[4:6], b[entryStart+6:entryStart+8])
			leaf.extents = append(leaf.extents, extent{
				fileBlock:     binary.LittleEndian.Uint32(b[entryStart : entryStart+4]),
				count:         binary.LittleEndian.Uint16(b[entryStart+4 : entryStart+6]),
				startingBlock: binary.LittleEndian.Uint64(diskBlock),
			})
		}
		return &leaf, nil
	}

	node := extentInternalNode{extentNodeHeader: header}
	for i := 0; i < int(header.entries); i++ {
		entryStart := i*extentTreeEntryLength + extentTreeHeaderLength
		diskBlock := make([]byte, 8)
		copy(diskBlock[0:4], b[entryStart+4:entryStart+8])
		copy(diskBlock[4:6], b[entryStart+8:entryStart+10])
		ptr := &extentChildPtr{
			diskBlock: binary.LittleEndian.Uint64(diskBlock),
			fileBlock: binary.LittleEndian.Uint32(b[entryStart : entryStart+4]),
		}
		node.children = append(node.children, ptr)
		if i > 0 {
			node.children[i-1].count = ptr.fileBlock - node.children[i-1].fileBlock
		}
	}
	if len(node.children) > 0 {
		last := node.children[len(node.children)-1]
		last.count = start + count - last.fileBlock
	}
	return &node, nil
}

// buildExtentTree packs added — a file's (or directory's) data blocks, in
// logical order — into an extent tree to be attached to an inode. A region
// count of 4 or fewer fits directly in the inode's root as a leaf; larger
// files spill leaf nodes into newly allocated metadata blocks, and, once
// there are more leaves than the root can index directly, further levels of
// index nodes, until the top level again fits within the root's 4 entries.
// Returns the root node along with how many metadata blocks it consumed —
// blocks holding tree structure, not file content — so the caller can fold
// them into the inode's block count.
func buildExtentTree(added *extents, fs *FileSystem) (extentTree, uint64, error) {
	regions := *added
	if len(regions) <= int(extentRootMaxEntries) {
		return newLeafNode(regions, extentRootMaxEntries, fs.superblock.blockSize, 0), 0, nil
	}

	maxPerNode := int((fs.superblock.blockSize - uint32(extentTreeHeaderLength)) / uint32(extentTreeEntryLength))

	leafGroups := chunkExtents(regions, maxPerNode)
	leafBlocks, err := allocateMetadataBlocks(fs, len(leafGroups))
	if err != nil {
		return nil, 0, err
	}
	level := make([]extentTree, len(leafGroups))
	for i, group := range leafGroups {
		leaf := newLeafNode(group, uint16(maxPerNode), fs.superblock.blockSize, leafBlocks[i])
		if err := writeNodeToBlock(leaf, fs, leafBlocks[i]); err != nil {
			return nil, 0, fmt.Errorf("could not write extent leaf node: %w", err)
		}
		level[i] = leaf
	}
	metaBlocks := uint64(len(level))

	// Climb levels of index nodes until the top level fits in the root.
	for depth := uint16(1); len(level) > int(extentRootMaxEntries); depth++ {
		groups := chunkNodes(level, maxPerNode)
		blocks, err := allocateMetadataBlocks(fs, len(groups))
		if err != nil {
			return nil, 0, err
		}
		next := make([]extentTree, len(groups))
		for i, group := range groups {
			node := newInternalNode(group, depth, uint16(maxPerNode), fs.superblock.blockSize, blocks[i])
			if err := writeNodeToBlock(node, fs, blocks[i]); err != nil {
				return nil, 0, fmt.Errorf("could not write extent index node: %w", err)
			}
			next[i] = node
		}
		metaBlocks += uint64(len(next))
		level = next
	}

	depth := uint16(1)
	if len(level) > 0 {
		if _, ok := level[0].(*extentInternalNode); ok {
			depth = level[0].(*extentInternalNode).depth + 1
		}
	}
	root := newInternalNode(level, depth, extentRootMaxEntries, fs.superblock.blockSize, 0)
	return root, metaBlocks, nil
}

func newLeafNode(exts extents, maxEntries uint16, blockSize uint32, diskBlock uint64) *extentLeafNode {
	return &extentLeafNode{
		extentNodeHeader: extentNodeHeader{
			depth:     0,
			entries:   uint16(len(exts)),
			max:       maxEntries,
			blockSize: blockSize,
		},
		extents:   exts,
		diskBlock: diskBlock,
	}
}

func newInternalNode(children []extentTree, depth, maxEntries uint16, blockSize uint32, diskBlock uint64) *extentInternalNode {
	ptrs := make([]*extentChildPtr, len(children))
	for i, child := range children {
		ptrs[i] = &extentChildPtr{
			fileBlock: nodeFileBlock(child),
			count:     nodeSpan(child),
			diskBlock: nodeDiskBlock(child),
		}
	}
	return &extentInternalNode{
		extentNodeHeader: extentNodeHeader{
			depth:     depth,
			entries:   uint16(len(ptrs)),
			max:       maxEntries,
			blockSize: blockSize,
		},
		children:  ptrs,
		diskBlock: diskBlock,
	}
}

// nodeSpan reports how many logical blocks a freshly built (not yet
// re-parsed) node's subtree covers, used to fill in its parent's child
// pointer — the on-disk format has nowhere to store this on the node
// itself, it is inferred on read from the following sibling instead.
func nodeSpan(n extentTree) uint32 {
	switch t := n.(type) {
	case *extentLeafNode:
		var total uint32
		for _, e := range t.extents {
			total += uint32(e.count)
		}
		return total
	case *extentInternalNode:
		var total uint32
		for _, c := range t.children {
			total += c.count
		}
		return total
	default:
		return 0
	}
}

func nodeFileBlock(n extentTree) uint32 {
	switch t := n.(type) {
	case *extentLeafNode:
		return t.extents[0].fileBlock
	case *extentInternalNode:
		return t.children[0].fileBlock
	default:
		return 0
	}
}

func nodeDiskBlock(n extentTree) uint64 {
	switch t := n.(type) {
	case *extentLeafNode:
		return t.diskBlock
	case *extentInternalNode:
		return t.diskBlock
	default:
		return 0
	}
}

// chunkExtents splits regions into groups of at most size entries each,
// preserving order, for packing into successive leaf nodes.
func chunkExtents(regions extents, size int) []extents {
	var out []extents
	for len(regions) > 0 {
		take := size
		if take > len(regions) {
			take = len(regions)
		}
		out = append(out, regions[:take])
		regions = regions[take:]
	}
	return out
}

// chunkNodes splits nodes into groups of at most size entries each, for
// packing into successive index nodes one level up.
func chunkNodes(nodes []extentTree, size int) [][]extentTree {
	var out [][]extentTree
	for len(nodes) > 0 {
		take := size
		if take > len(nodes) {
			take = len(nodes)
		}
		out = append(out, nodes[:take])
		nodes = nodes[take:]
	}
	return out
}

// allocateMetadataBlocks reserves n whole blocks for extent tree structure
// (as opposed to file content) and returns their block numbers in order.
func allocateMetadataBlocks(fs *FileSystem, n int) ([]uint64, error) {
	alloc, err := fs.allocateExtents(uint64(n)*uint64(fs.superblock.blockSize), nil)
	if err != nil {
		return nil, fmt.Errorf("could not allocate %d metadata block(s) for extent tree: %w", n, err)
	}
	blocks := make([]uint64, 0, n)
	for _, region := range *alloc {
		for i := uint64(0); i < uint64(region.count); i++ {
			blocks = append(blocks, region.startingBlock+i)
		}
	}
	if len(blocks) != n {
		return nil, fmt.Errorf("allocator returned %d metadata block(s), expected %d", len(blocks), n)
	}
	return blocks, nil
}

// writeNodeToBlock serializes node and writes it to the given block number.
func writeNodeToBlock(node extentTree, fs *FileSystem, blockNumber uint64) error {
	writableFile, err := fs.backend.Writable()
	if err != nil {
		return err
	}
	_, err = writableFile.WriteAt(node.toBytes(), int64(blockNumber)*int64(fs.superblock.blockSize))
	return err
}

// emptyExtentRoot returns the extent tree for a file or directory with no
// content blocks yet: a zero-entry leaf living directly in the inode root.
// ext4 requires even an empty extents-using inode to carry a valid header.
func emptyExtentRoot(blockSize uint32) extentTree {
	return newLeafNode(nil, extentRootMaxEntries, blockSize, 0)
}
