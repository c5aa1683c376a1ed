package ext4

// Directory is a directory's in-memory entry list, ready to be rendered
// into one or more dir_entry_2 blocks. It always begins with "." and ".."
// except for the root, which begins with "." and ".." pointing at itself
// and has no parent entry of its own in any other directory.
type Directory struct {
	directoryEntry
	root    bool
	entries []*directoryEntry
}

// toBytes renders the directory's entries into blockSize-sized blocks,
// packing greedily and starting a new block whenever the next entry would
// not fit in what remains of the current one. The last entry in each block
// absorbs the block's leftover space via its rec_len, exactly as the
// kernel's ext4 directory code does. When appender is non-nil it
// overwrites the trailing 12 bytes of every block with the checksum tail
// record; the callers in this package always pass one, whether or not
// metadata_csum is set.
func (d *Directory) toBytes(blockSize uint32, appender dirEntryChecksumAppender) []byte {
	usable := int(blockSize)
	if appender != nil {
		usable -= 12
	}

	var out []byte
	block := make([]byte, 0, blockSize)
	used := 0

	flush := func() {
		block = append(block, make([]byte, int(blockSize)-len(block))...)
		if appender != nil {
			block = appender(block)
		}
		out = append(out, block...)
		block = block[:0]
		used = 0
	}

	for i, e := range d.entries {
		need := int(e.recordLength())
		last := i == len(d.entries)-1
		recLen := need
		if last || used+need+int(d.entries[i+1].recordLength()) > usable {
			// this entry is the last one in the block: it absorbs all
			// remaining space via its rec_len
			recLen = usable - used
		}
		block = append(block, e.toBytes(uint16(recLen))...)
		used += recLen
		if used >= usable {
			flush()
		}
	}
	if used > 0 || len(d.entries) == 0 {
		flush()
	}
	return out
}
