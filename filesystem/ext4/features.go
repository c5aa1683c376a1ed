package ext4

// featureFlags tracks the three ext4 feature bitmasks (compat, incompat,
// ro_compat) as individual booleans, rather than raw bits, so the rest of the
// package can test a feature by name instead of re-deriving a mask.
type featureFlags struct {
	// compat
	dirPrealloc    bool
	imagicInodes   bool
	hasJournal     bool
	extAttr        bool
	resizeInode    bool
	dirIndex       bool
	sparseSuper2   bool
	fastCommit     bool

	// incompat
	compression           bool
	filetype               bool
	needsRecovery           bool
	separateJournalDevice   bool
	metaBlockGroups         bool
	extents                 bool
	fs64Bit                 bool
	multipleMountProtection bool
	flexBlockGroups         bool
	encryptedInodes         bool
	inlineData              bool
	largeDirectory          bool
	csumSeed                bool

	// ro_compat
	sparseSuper                   bool
	largeFile                     bool
	btreeDir                      bool
	hugeFile                      bool
	gdtChecksumEnabled             bool // uninit_bg / gdt_csum
	dirNlink                      bool
	extraIsize                    bool
	hasSnapshot                   bool
	quota                         bool
	bigalloc                      bool
	metadataChecksums             bool
	replica                       bool
	readOnly                      bool
	projectQuotas                 bool
	verityEnabled                 bool
	reservedGDTBlocksForExpansion bool // e2fsprogs does not set a ro_compat bit for this; tracked internally to gate reservedGDTBlocks usage
}

// defaultFeatureFlags is the feature set Create uses unless FeatureOpts
// change it: {HAS_JOURNAL, RESIZE_INODE, EXT_ATTR, DIR_INDEX} compat,
// {SPARSE_SUPER, LARGE_FILE, GDT_CSUM, DIR_NLINK, EXTRA_ISIZE} ro-compat,
// {EXTENTS, FILETYPE, FLEX_BG} incompat, plus reserved GDT blocks for
// growth. DIR_INDEX is only a flag here: directories are written as
// linear blocks without a hash tree.
var defaultFeatureFlags = featureFlags{
	hasJournal:                    true,
	extAttr:                       true,
	resizeInode:                   true,
	dirIndex:                      true,
	filetype:                      true,
	extents:                       true,
	flexBlockGroups:               true,
	sparseSuper:                   true,
	largeFile:                     true,
	gdtChecksumEnabled:            true,
	dirNlink:                      true,
	extraIsize:                    true,
	reservedGDTBlocksForExpansion: true,
}

type miscFlags struct {
	signedDirectoryHash   bool
	unsignedDirectoryHash bool
	testFilesystem        bool
}

var defaultMiscFlags = miscFlags{}

// FeatureOpt mutates the feature-flag set used by Create; see WithFeature*
// helpers below.
type FeatureOpt func(*featureFlags)

// WithFeature64Bit enables the 64bit feature, widening block/inode counts
// and group descriptor size.
func WithFeature64Bit(enabled bool) FeatureOpt {
	return func(f *featureFlags) { f.fs64Bit = enabled }
}

// WithFeatureFlexBlockGroups enables flex_bg, which clusters each flex
// group's bitmaps and inode tables into the first member group.
func WithFeatureFlexBlockGroups(enabled bool) FeatureOpt {
	return func(f *featureFlags) { f.flexBlockGroups = enabled }
}

// WithFeatureMetadataChecksums enables metadata_csum (not implemented by the
// extent/directory builders). Create does not check it against gdt_csum;
// both may be set together.
func WithFeatureMetadataChecksums(enabled bool) FeatureOpt {
	return func(f *featureFlags) { f.metadataChecksums = enabled }
}

// MountOpt sets a single bit in the default mount options field.
type MountOpt func(*defaultMountOptions)

type defaultMountOptions struct {
	debug            bool
	bsdGroups         bool
	userXattr         bool
	acl               bool
	uid16             bool
	journalMode       uint8 // 0 none, 1 data=journal, 2 data=ordered, 3 data=writeback
	noBarrier         bool
	blockValidity     bool
	discard           bool
	noDelalloc        bool
}

func defaultMountOptionsFromOpts(opts []MountOpt) *defaultMountOptions {
	d := &defaultMountOptions{userXattr: true, acl: true, journalMode: 2}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d defaultMountOptions) toInt() uint32 {
	var v uint32
	if d.debug {
		v |= 0x0001
	}
	if d.bsdGroups {
		v |= 0x0002
	}
	if d.userXattr {
		v |= 0x0004
	}
	if d.acl {
		v |= 0x0008
	}
	if d.uid16 {
		v |= 0x0010
	}
	v |= uint32(d.journalMode&0x3) << 5
	if d.noBarrier {
		v |= 0x0100
	}
	if d.blockValidity {
		v |= 0x0200
	}
	if d.discard {
		v |= 0x0400
	}
	if d.noDelalloc {
		v |= 0x0800
	}
	return v
}

const (
	featureCompatDirPrealloc    uint32 = 0x0001
	featureCompatImagicInodes   uint32 = 0x0002
	featureCompatHasJournal     uint32 = 0x0004
	featureCompatExtAttr        uint32 = 0x0008
	featureCompatResizeInode    uint32 = 0x0010
	featureCompatDirIndex       uint32 = 0x0020
	featureCompatSparseSuper2   uint32 = 0x0200
	featureCompatFastCommit     uint32 = 0x0400

	featureIncompatCompression           uint32 = 0x0001
	featureIncompatFiletype               uint32 = 0x0002
	featureIncompatNeedsRecovery           uint32 = 0x0004
	featureIncompatJournalDev              uint32 = 0x0008
	featureIncompatMetaBg                  uint32 = 0x0010
	featureIncompatExtents                 uint32 = 0x0040
	featureIncompat64Bit                   uint32 = 0x0080
	featureIncompatMmp                     uint32 = 0x0100
	featureIncompatFlexBg                  uint32 = 0x0200
	featureIncompatEAInode                 uint32 = 0x0400
	featureIncompatDirData                 uint32 = 0x1000
	featureIncompatCsumSeed                uint32 = 0x2000
	featureIncompatLargeDir                uint32 = 0x4000
	featureIncompatInlineData              uint32 = 0x8000
	featureIncompatEncrypt                 uint32 = 0x10000

	featureRoCompatSparseSuper     uint32 = 0x0001
	featureRoCompatLargeFile       uint32 = 0x0002
	featureRoCompatBtreeDir        uint32 = 0x0004
	featureRoCompatHugeFile        uint32 = 0x0008
	featureRoCompatGdtCsum         uint32 = 0x0010
	featureRoCompatDirNlink        uint32 = 0x0020
	featureRoCompatExtraIsize      uint32 = 0x0040
	featureRoCompatHasSnapshot     uint32 = 0x0080
	featureRoCompatQuota           uint32 = 0x0100
	featureRoCompatBigalloc        uint32 = 0x0200
	featureRoCompatMetadataCsum    uint32 = 0x0400
	featureRoCompatReplica         uint32 = 0x0800
	featureRoCompatReadonly        uint32 = 0x1000
	featureRoCompatProjectQuota    uint32 = 0x2000
	featureRoCompatVerity          uint32 = 0x8000
)

func (f featureFlags) compatUint32() uint32 {
	var v uint32
	if f.dirPrealloc {
		v |= featureCompatDirPrealloc
	}
	if f.imagicInodes {
		v |= featureCompatImagicInodes
	}
	if f.hasJournal {
		v |= featureCompatHasJournal
	}
	if f.extAttr {
		v |= featureCompatExtAttr
	}
	if f.resizeInode {
		v |= featureCompatResizeInode
	}
	if f.dirIndex {
		v |= featureCompatDirIndex
	}
	if f.sparseSuper2 {
		v |= featureCompatSparseSuper2
	}
	if f.fastCommit {
		v |= featureCompatFastCommit
	}
	return v
}

func (f featureFlags) incompatUint32() uint32 {
	var v uint32
	if f.compression {
		v |= featureIncompatCompression
	}
	if f.filetype {
		v |= featureIncompatFiletype
	}
	if f.needsRecovery {
		v |= featureIncompatNeedsRecovery
	}
	if f.separateJournalDevice {
		v |= featureIncompatJournalDev
	}
	if f.metaBlockGroups {
		v |= featureIncompatMetaBg
	}
	if f.extents {
		v |= featureIncompatExtents
	}
	if f.fs64Bit {
		v |= featureIncompat64Bit
	}
	if f.multipleMountProtection {
		v |= featureIncompatMmp
	}
	if f.flexBlockGroups {
		v |= featureIncompatFlexBg
	}
	if f.encryptedInodes {
		v |= featureIncompatEncrypt
	}
	if f.inlineData {
		v |= featureIncompatInlineData
	}
	if f.largeDirectory {
		v |= featureIncompatLargeDir
	}
	if f.csumSeed {
		v |= featureIncompatCsumSeed
	}
	return v
}

func (f featureFlags) roCompatUint32() uint32 {
	var v uint32
	if f.sparseSuper {
		v |= featureRoCompatSparseSuper
	}
	if f.largeFile {
		v |= featureRoCompatLargeFile
	}
	if f.btreeDir {
		v |= featureRoCompatBtreeDir
	}
	if f.hugeFile {
		v |= featureRoCompatHugeFile
	}
	if f.gdtChecksumEnabled {
		v |= featureRoCompatGdtCsum
	}
	if f.dirNlink {
		v |= featureRoCompatDirNlink
	}
	if f.extraIsize {
		v |= featureRoCompatExtraIsize
	}
	if f.hasSnapshot {
		v |= featureRoCompatHasSnapshot
	}
	if f.quota {
		v |= featureRoCompatQuota
	}
	if f.bigalloc {
		v |= featureRoCompatBigalloc
	}
	if f.metadataChecksums {
		v |= featureRoCompatMetadataCsum
	}
	if f.replica {
		v |= featureRoCompatReplica
	}
	if f.readOnly {
		v |= featureRoCompatReadonly
	}
	if f.projectQuotas {
		v |= featureRoCompatProjectQuota
	}
	if f.verityEnabled {
		v |= featureRoCompatVerity
	}
	return v
}

func featureFlagsFromUint32(compat, incompat, roCompat uint32) featureFlags {
	return featureFlags{
		dirPrealloc:  compat&featureCompatDirPrealloc != 0,
		imagicInodes: compat&featureCompatImagicInodes != 0,
		hasJournal:   compat&featureCompatHasJournal != 0,
		extAttr:      compat&featureCompatExtAttr != 0,
		resizeInode:  compat&featureCompatResizeInode != 0,
		dirIndex:     compat&featureCompatDirIndex != 0,
		sparseSuper2: compat&featureCompatSparseSuper2 != 0,
		fastCommit:   compat&featureCompatFastCommit != 0,

		compression:             incompat&featureIncompatCompression != 0,
		filetype:                incompat&featureIncompatFiletype != 0,
		needsRecovery:           incompat&featureIncompatNeedsRecovery != 0,
		separateJournalDevice:   incompat&featureIncompatJournalDev != 0,
		metaBlockGroups:         incompat&featureIncompatMetaBg != 0,
		extents:                 incompat&featureIncompatExtents != 0,
		fs64Bit:                 incompat&featureIncompat64Bit != 0,
		multipleMountProtection: incompat&featureIncompatMmp != 0,
		flexBlockGroups:         incompat&featureIncompatFlexBg != 0,
		encryptedInodes:         incompat&featureIncompatEncrypt != 0,
		inlineData:              incompat&featureIncompatInlineData != 0,
		largeDirectory:          incompat&featureIncompatLargeDir != 0,
		csumSeed:                incompat&featureIncompatCsumSeed != 0,

		sparseSuper:        roCompat&featureRoCompatSparseSuper != 0,
		largeFile:          roCompat&featureRoCompatLargeFile != 0,
		btreeDir:           roCompat&featureRoCompatBtreeDir != 0,
		hugeFile:           roCompat&featureRoCompatHugeFile != 0,
		gdtChecksumEnabled: roCompat&featureRoCompatGdtCsum != 0,
		dirNlink:           roCompat&featureRoCompatDirNlink != 0,
		extraIsize:         roCompat&featureRoCompatExtraIsize != 0,
		hasSnapshot:        roCompat&featureRoCompatHasSnapshot != 0,
		quota:              roCompat&featureRoCompatQuota != 0,
		bigalloc:           roCompat&featureRoCompatBigalloc != 0,
		metadataChecksums:  roCompat&featureRoCompatMetadataCsum != 0,
		replica:            roCompat&featureRoCompatReplica != 0,
		readOnly:           roCompat&featureRoCompatReadonly != 0,
		projectQuotas:      roCompat&featureRoCompatProjectQuota != 0,
		verityEnabled:      roCompat&featureRoCompatVerity != 0,
	}
}
