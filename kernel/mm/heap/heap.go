// Package heap provides the kernel heap: a first-fit allocator carved out of
// a fixed run of physical frames that is reserved on first use.
//
// Every block starts with a header that lives inside the heap memory itself.
// Headers reference their neighbors by offset from the start of the heap
// rather than by pointer and blocks are laid out contiguously, so the next
// offset of a block is always greater than its own offset.
package heap

import (
	"encoding/binary"
	"io"

	"wiredos/kernel"
	"wiredos/kernel/kfmt"
	"wiredos/kernel/mm"
)

const (
	// DefaultPages is the number of pages reserved for the heap when New
	// is invoked with a zero reservation.
	DefaultPages = uint32(256)

	// blockHeaderSize is the size of the header that precedes each block.
	// It is a multiple of allocAlign so payloads stay aligned.
	blockHeaderSize = uintptr(32)

	// allocAlign is the alignment of every allocation size and address.
	allocAlign = uintptr(16)

	// minRemainder is the smallest payload worth splitting off a block.
	minRemainder = uintptr(16)

	// noBlock terminates the block list in both directions.
	noBlock = ^uint64(0)

	// blockFree is set in the state word of free block headers.
	blockFree = uint64(1)
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errHeapBootstrap    = &kernel.Error{Module: "heap", Message: "unable to reserve memory for the kernel heap"}
	errInvalidAllocSize = &kernel.Error{Module: "heap", Message: "allocation size must be greater than zero"}
	errOutOfMemory      = &kernel.Error{Module: "heap", Message: "out of memory"}
)

// block is the decoded form of a header stored in heap memory.
type block struct {
	offset uint64

	// size of the payload, excluding the header.
	size uint64

	next, prev uint64
	free       bool
}

// Stats describes the heap utilization.
type Stats struct {
	// Reserved is the amount of memory reserved from the frame allocator.
	Reserved mm.Size

	// Used and Free are the payload bytes of used and free blocks.
	Used, Free mm.Size

	// Blocks is the total number of blocks and FreeBlocks the number of
	// blocks available for allocation.
	Blocks, FreeBlocks uint32
}

// Heap is a first-fit allocator that does not grow once reserved. It is not
// safe for concurrent use.
type Heap struct {
	pages        mm.PageAllocator
	dmap         *mm.DirectMap
	reservePages uint32

	// base is the virtual address of the first byte of arena.
	base  uintptr
	arena []byte
}

// New returns a Heap that reserves reservePages pages from the supplied page
// allocator the first time Alloc is called. A zero reservePages selects
// DefaultPages.
func New(pages mm.PageAllocator, dmap *mm.DirectMap, reservePages uint32) *Heap {
	if reservePages == 0 {
		reservePages = DefaultPages
	}

	return &Heap{
		pages:        pages,
		dmap:         dmap,
		reservePages: reservePages,
	}
}

// init reserves the heap pages and formats them as a single free block. A
// failure to reserve the pages is fatal.
func (h *Heap) init() bool {
	frame, err := h.pages.AllocPages(h.reservePages)
	if err != nil {
		panicFn(errHeapBootstrap)
		return false
	}

	arena, ok := h.dmap.Bytes(frame.Address(), uintptr(h.reservePages)<<mm.PageShift)
	if !ok {
		panicFn(errHeapBootstrap)
		return false
	}

	h.arena = arena
	h.base = h.dmap.VirtAddr(frame.Address())
	h.writeBlock(&block{
		offset: 0,
		size:   uint64(len(arena)) - uint64(blockHeaderSize),
		next:   noBlock,
		prev:   noBlock,
		free:   true,
	})

	return true
}

// Alloc reserves size bytes and returns the virtual address of the reserved
// memory. The size is rounded up to a multiple of 16 bytes. Alloc returns 0
// and an error if no free block is large enough.
func (h *Heap) Alloc(size uintptr) (uintptr, *kernel.Error) {
	if size == 0 {
		return 0, errInvalidAllocSize
	}

	if h.arena == nil && !h.init() {
		return 0, errHeapBootstrap
	}

	if size > uintptr(len(h.arena)) {
		return 0, errOutOfMemory
	}
	need := uint64((size + allocAlign - 1) &^ (allocAlign - 1))

	var blk block
	for offset := uint64(0); offset != noBlock; offset = blk.next {
		h.readBlock(offset, &blk)
		if !blk.free || blk.size < need {
			continue
		}

		if remain := blk.size - need; remain > uint64(blockHeaderSize+minRemainder) {
			h.split(&blk, need)
		}

		blk.free = false
		h.writeBlock(&blk)
		return h.payloadAddr(blk.offset), nil
	}

	return 0, errOutOfMemory
}

// split carves a new free block out of the tail of blk so that blk keeps
// exactly size payload bytes.
func (h *Heap) split(blk *block, size uint64) {
	tail := block{
		offset: blk.offset + uint64(blockHeaderSize) + size,
		size:   blk.size - size - uint64(blockHeaderSize),
		next:   blk.next,
		prev:   blk.offset,
		free:   true,
	}
	h.writeBlock(&tail)
	h.setPrev(tail.next, tail.offset)

	blk.size = size
	blk.next = tail.offset
}

// Free releases the allocation at addr and merges adjacent free blocks.
// Addresses that were not returned by Alloc or that have already been
// released are ignored.
func (h *Heap) Free(addr uintptr) {
	if addr == 0 || h.arena == nil {
		return
	}

	var blk block
	for offset := uint64(0); offset != noBlock; offset = blk.next {
		h.readBlock(offset, &blk)
		if h.payloadAddr(offset) != addr {
			continue
		}

		if blk.free {
			return
		}

		blk.free = true
		h.writeBlock(&blk)
		h.coalesce()
		return
	}
}

// coalesce walks the block list once and merges every run of adjacent free
// blocks into the first block of the run.
func (h *Heap) coalesce() {
	var cur, next block
	for offset := uint64(0); offset != noBlock; offset = cur.next {
		h.readBlock(offset, &cur)
		if !cur.free {
			continue
		}

		merged := false
		for cur.next != noBlock {
			h.readBlock(cur.next, &next)
			if !next.free {
				break
			}

			cur.size += uint64(blockHeaderSize) + next.size
			cur.next = next.next
			merged = true
		}

		if merged {
			h.writeBlock(&cur)
			h.setPrev(cur.next, cur.offset)
		}
	}
}

// Bytes returns the heap memory backing size bytes at virtual address addr.
// It returns false if the range is not contained in the heap.
func (h *Heap) Bytes(addr, size uintptr) ([]byte, bool) {
	if h.arena == nil || addr < h.base {
		return nil, false
	}

	offset, arenaLen := addr-h.base, uintptr(len(h.arena))
	if offset > arenaLen || size > arenaLen-offset {
		return nil, false
	}

	return h.arena[offset : offset+size : offset+size], true
}

// Stats returns the current heap utilization. All values are zero until the
// heap has been initialized.
func (h *Heap) Stats() Stats {
	var (
		stats Stats
		blk   block
	)

	if h.arena == nil {
		return stats
	}

	stats.Reserved = mm.Size(len(h.arena))
	for offset := uint64(0); offset != noBlock; offset = blk.next {
		h.readBlock(offset, &blk)
		stats.Blocks++
		if blk.free {
			stats.FreeBlocks++
			stats.Free += mm.Size(blk.size)
		} else {
			stats.Used += mm.Size(blk.size)
		}
	}

	return stats
}

// PrintStats writes a summary of the heap utilization to w.
func (h *Heap) PrintStats(w io.Writer) {
	stats := h.Stats()
	kfmt.Fprintf(w, "[heap] reserved: %dKb at 0x%16x\n", uint64(stats.Reserved/mm.Kb), h.base)
	kfmt.Fprintf(w, "[heap] used: %d bytes, free: %d bytes, blocks: %d (%d free)\n",
		uint64(stats.Used), uint64(stats.Free), stats.Blocks, stats.FreeBlocks,
	)
}

func (h *Heap) payloadAddr(offset uint64) uintptr {
	return h.base + uintptr(offset) + blockHeaderSize
}

func (h *Heap) setPrev(offset, prev uint64) {
	if offset == noBlock {
		return
	}
	binary.LittleEndian.PutUint64(h.arena[offset+16:], prev)
}

func (h *Heap) readBlock(offset uint64, blk *block) {
	hdr := h.arena[offset : offset+uint64(blockHeaderSize)]
	blk.offset = offset
	blk.size = binary.LittleEndian.Uint64(hdr[0:])
	blk.next = binary.LittleEndian.Uint64(hdr[8:])
	blk.prev = binary.LittleEndian.Uint64(hdr[16:])
	blk.free = binary.LittleEndian.Uint64(hdr[24:])&blockFree != 0
}

func (h *Heap) writeBlock(blk *block) {
	hdr := h.arena[blk.offset : blk.offset+uint64(blockHeaderSize)]
	var state uint64
	if blk.free {
		state = blockFree
	}

	binary.LittleEndian.PutUint64(hdr[0:], blk.size)
	binary.LittleEndian.PutUint64(hdr[8:], blk.next)
	binary.LittleEndian.PutUint64(hdr[16:], blk.prev)
	binary.LittleEndian.PutUint64(hdr[24:], state)
}
