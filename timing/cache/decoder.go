package cache

// Decoder splits a physical address into tag, set index, and block offset
// for a fixed cache geometry. Pure; no state beyond the geometry.
type Decoder struct {
	blockSize uint64
	numSets   uint64
}

// NewDecoder creates a decoder for the given geometry.
func NewDecoder(blockSize, numSets int) Decoder {
	return Decoder{
		blockSize: uint64(blockSize),
		numSets:   uint64(numSets),
	}
}

// Parse splits addr into its tag, set index, and offset fields.
func (d Decoder) Parse(addr uint64) (tag, setIndex, offset uint64) {
	offset = addr % d.blockSize
	setIndex = (addr / d.blockSize) % d.numSets
	tag = addr / (d.blockSize * d.numSets)
	return tag, setIndex, offset
}

// BlockAlign returns the block-aligned address containing addr.
func (d Decoder) BlockAlign(addr uint64) uint64 {
	return addr - addr%d.blockSize
}
