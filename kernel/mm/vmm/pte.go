package vmm

import (
	"encoding/binary"

	"wiredos/kernel"
	"wiredos/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// pageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags.
type pageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given physical frame.
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (pageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | (frame.Address() & ptePhysPageMask))
}

// pageTable is a view of the 512 little-endian entries of a page table frame
// obtained through the direct map.
type pageTable []byte

func (t pageTable) entry(index uintptr) pageTableEntry {
	return pageTableEntry(binary.LittleEndian.Uint64(t[index<<mm.PointerShift:]))
}

func (t pageTable) setEntry(index uintptr, pte pageTableEntry) {
	binary.LittleEndian.PutUint64(t[index<<mm.PointerShift:], uint64(pte))
}

// PageTableIndices returns the PML4, PDP, PD and PT indices that select the
// entries translating virtAddr.
func PageTableIndices(virtAddr uintptr) [pageLevels]uintptr {
	var indices [pageLevels]uintptr
	for level := 0; level < pageLevels; level++ {
		indices[level] = (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
	}
	return indices
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return (virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1))
}
