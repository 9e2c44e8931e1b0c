// Package vmm manages 4-level amd64 page tables. Page table frames are
// accessed through the higher-half direct map so both the active and any
// inactive address space can be edited without temporary mappings.
package vmm

import (
	"encoding/binary"

	"wiredos/kernel"
	"wiredos/kernel/cpu"
	"wiredos/kernel/mm"
)

// addrSpaceDescSize is the size of the heap-allocated descriptor that records
// the physical and direct-map virtual address of an address space PML4.
const addrSpaceDescSize = uintptr(16)

var (
	// switchPDTFn is used by tests to override calls to cpu.SwitchPDT.
	switchPDTFn = cpu.SwitchPDT

	// flushTLBEntryFn is used by tests to override calls to
	// cpu.FlushTLBEntry.
	flushTLBEntryFn = cpu.FlushTLBEntry

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errTableOutOfRange   = &kernel.Error{Module: "vmm", Message: "page table frame is not reachable through the direct map"}
	errKernelPDTDestroy  = &kernel.Error{Module: "vmm", Message: "the kernel address space cannot be destroyed"}
	errActivePDTDestroy  = &kernel.Error{Module: "vmm", Message: "the active address space cannot be destroyed"}
	errInvalidKernelPDT  = &kernel.Error{Module: "vmm", Message: "kernel page tables cannot live in physical frame 0"}
)

// Allocator is implemented by the kernel heap. The Manager stores address
// space descriptors in memory obtained from it.
type Allocator interface {
	Alloc(size uintptr) (uintptr, *kernel.Error)
	Free(addr uintptr)
	Bytes(addr, size uintptr) ([]byte, bool)
}

// Manager owns the kernel address space and creates additional address
// spaces on demand. It is not safe for concurrent use.
type Manager struct {
	dmap   *mm.DirectMap
	frames mm.FrameAllocator
	heap   Allocator

	kernelPDT PageDirectoryTable

	// active is the address space loaded into the CPU. TLB entries only
	// need to be invalidated when it is modified.
	active *PageDirectoryTable
}

// New returns a Manager whose kernel address space is rooted at the PML4
// located at physical address kernelPML4. The kernel address space must be
// the one that is active when New is called; callers pass the value of
// cpu.ActivePDT at boot.
func New(dmap *mm.DirectMap, frames mm.FrameAllocator, heap Allocator, kernelPML4 uintptr) (*Manager, *kernel.Error) {
	pml4Frame := mm.FrameFromAddress(kernelPML4)
	if pml4Frame == 0 {
		return nil, errInvalidKernelPDT
	}

	m := &Manager{
		dmap:   dmap,
		frames: frames,
		heap:   heap,
	}

	if _, err := m.table(pml4Frame); err != nil {
		return nil, err
	}

	m.kernelPDT = PageDirectoryTable{
		mgr:       m,
		pml4Frame: pml4Frame,
	}
	m.active = &m.kernelPDT

	return m, nil
}

// KernelPDT returns the kernel address space.
func (m *Manager) KernelPDT() *PageDirectoryTable {
	return &m.kernelPDT
}

// CreateAddressSpace allocates a descriptor from the kernel heap and a zeroed
// PML4 frame and returns a new, empty address space.
func (m *Manager) CreateAddressSpace() (*PageDirectoryTable, *kernel.Error) {
	descAddr, err := m.heap.Alloc(addrSpaceDescSize)
	if err != nil {
		return nil, err
	}

	pml4Frame, err := m.newTable()
	if err != nil {
		m.heap.Free(descAddr)
		return nil, err
	}

	desc, _ := m.heap.Bytes(descAddr, addrSpaceDescSize)
	binary.LittleEndian.PutUint64(desc[0:], uint64(pml4Frame.Address()))
	binary.LittleEndian.PutUint64(desc[8:], uint64(m.dmap.VirtAddr(pml4Frame.Address())))

	return &PageDirectoryTable{
		mgr:       m,
		pml4Frame: pml4Frame,
		descAddr:  descAddr,
	}, nil
}

// DestroyAddressSpace releases the descriptor of an address space created by
// CreateAddressSpace.
//
// The PML4 frame and any page tables allocated while mapping pages into the
// address space are not returned to the frame allocator.
func (m *Manager) DestroyAddressSpace(pdt *PageDirectoryTable) *kernel.Error {
	if pdt == &m.kernelPDT {
		return errKernelPDTDestroy
	}

	if pdt == nil || pdt.descAddr == 0 {
		return nil
	}

	if pdt == m.active {
		return errActivePDTDestroy
	}

	m.heap.Free(pdt.descAddr)
	pdt.descAddr = 0
	pdt.pml4Frame = mm.InvalidFrame
	return nil
}
