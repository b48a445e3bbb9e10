package pager

// Bit-exact constants from §6.
const (
	// PageSize is the fixed-granularity unit exposed to callers.
	PageSize = 8192

	// BlockSize is the unit of I/O and cache residency.
	BlockSize = 2 * 1024 * 1024

	// PagesPerBlock is BlockSize/PageSize.
	PagesPerBlock = BlockSize / PageSize

	// MaxFileSize is the largest backing file this pager will open.
	MaxFileSize = 4 * 1024 * 1024 * 1024

	// NumberOfBlocks is MaxFileSize/BlockSize, the fixed length of the
	// block map.
	NumberOfBlocks = MaxFileSize / BlockSize

	// NumberOfAccessGenerations is G from §3/§4.3.
	NumberOfAccessGenerations = 4

	// IoRingQueueSize is the nominal completion-ring depth a real io_uring
	// backend would be configured with; kept as a constant for parity with
	// §6 even though this reader does not manage a ring (see DESIGN.md).
	IoRingQueueSize = 32
)

// defaultRotationPeriod is the number of recorded accesses between
// generation rotations, resolving §9's open question on rotation policy in
// favor of a request-count-based rule (SPEC_FULL.md MODULE ADDITIONS).
const defaultRotationPeriod = NumberOfBlocks / 4
