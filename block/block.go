// Package block partitions a function's byte range into basic blocks for use as one-shot breakpoint sites. It
// never modifies the bytes it reads; it only classifies control flow to locate block leaders.
package block

import (
	"sort"

	"github.com/crytic/covrec/module"
)

// Block is a single basic block: a contiguous, module-relative byte range with one entry and (conceptually) one
// exit, bounded by leaders on either side.
type Block struct {
	Offset module.Offset
	Size   uint64
}

// Contains reports whether off falls within this block's half-open range.
func (b Block) Contains(off module.Offset) bool {
	return uint64(off) >= uint64(b.Offset) && uint64(off) < uint64(b.Offset)+b.Size
}

// Blocks is an offset-ordered collection of Block, keyed by each block's leader offset.
type Blocks struct {
	ordered []Block
}

// NewBlocks returns an empty Blocks.
func NewBlocks() *Blocks {
	return &Blocks{}
}

// Insert adds or replaces the block at its offset, keeping the collection sorted.
func (b *Blocks) Insert(blk Block) {
	idx := sort.Search(len(b.ordered), func(i int) bool { return b.ordered[i].Offset >= blk.Offset })
	if idx < len(b.ordered) && b.ordered[idx].Offset == blk.Offset {
		b.ordered[idx] = blk
		return
	}
	b.ordered = append(b.ordered, Block{})
	copy(b.ordered[idx+1:], b.ordered[idx:])
	b.ordered[idx] = blk
}

// Extend inserts every block from other into b.
func (b *Blocks) Extend(other *Blocks) {
	for _, blk := range other.ordered {
		b.Insert(blk)
	}
}

// All returns the blocks in offset order.
func (b *Blocks) All() []Block {
	return append([]Block(nil), b.ordered...)
}

// Len returns the number of blocks.
func (b *Blocks) Len() int {
	return len(b.ordered)
}

// Find returns the block containing off, via binary search over the sorted leader offsets.
func (b *Blocks) Find(off module.Offset) (Block, bool) {
	idx := sort.Search(len(b.ordered), func(i int) bool { return b.ordered[i].Offset > off }) - 1
	if idx < 0 || idx >= len(b.ordered) {
		return Block{}, false
	}
	blk := b.ordered[idx]
	if blk.Contains(off) {
		return blk, true
	}
	return Block{}, false
}
