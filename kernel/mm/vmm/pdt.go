package vmm

import (
	"wiredos/kernel"
	"wiredos/kernel/mm"
)

// PageDirectoryTable describes an address space rooted at a PML4 frame.
type PageDirectoryTable struct {
	mgr       *Manager
	pml4Frame mm.Frame

	// descAddr is the heap address of the descriptor for address spaces
	// created via Manager.CreateAddressSpace. It is 0 for the kernel
	// address space.
	descAddr uintptr
}

// Frame returns the physical frame that holds the PML4 table.
func (pdt *PageDirectoryTable) Frame() mm.Frame {
	return pdt.pml4Frame
}

// Map establishes a mapping between a virtual page and a physical memory
// frame, allocating any missing page tables along the way. The entry is set
// to the frame address combined with flags; callers must include FlagPresent
// for the mapping to become visible.
func (pdt *PageDirectoryTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	ref, err := pdt.mgr.walk(pdt.pml4Frame, page.Address(), true, flags&FlagUserAccessible != 0)
	if err != nil {
		return err
	}

	pte := pageTableEntry(0)
	pte.SetFrame(frame)
	pte.SetFlags(flags)
	ref.set(pte)

	pdt.flushTLBEntry(page)
	return nil
}

// MapRegion maps size bytes (rounded up to a page) of physical memory
// starting at frame to consecutive pages starting at startPage. All required
// page tables are allocated before the first page gets mapped.
func (pdt *PageDirectoryTable) MapRegion(startPage mm.Page, frame mm.Frame, size uintptr, flags PageTableEntryFlag) *kernel.Error {
	size = mm.AlignUp(size)
	if size == 0 {
		return nil
	}

	if err := pdt.EnsureTables(startPage.Address(), size, flags); err != nil {
		return err
	}

	pageCount := size >> mm.PageShift
	for page := startPage; pageCount > 0; pageCount, page, frame = pageCount-1, page+1, frame+1 {
		if err := pdt.Map(page, frame, flags); err != nil {
			return err
		}
	}

	return nil
}

// Unmap removes the mapping for page. If freeFrame is set, the frame that
// backed the page is returned to the frame allocator. Unmap returns
// ErrInvalidMapping if the page is not mapped.
func (pdt *PageDirectoryTable) Unmap(page mm.Page, freeFrame bool) *kernel.Error {
	ref, err := pdt.mgr.walk(pdt.pml4Frame, page.Address(), false, false)
	if err != nil {
		return err
	}

	pte := ref.get()
	if !pte.HasFlags(FlagPresent) {
		return ErrInvalidMapping
	}

	ref.set(0)
	pdt.flushTLBEntry(page)

	if freeFrame {
		pdt.mgr.frames.ReleaseFrame(pte.Frame())
	}

	return nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (pdt *PageDirectoryTable) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	ref, err := pdt.mgr.walk(pdt.pml4Frame, virtAddr, false, false)
	if err != nil {
		return 0, err
	}

	pte := ref.get()
	if !pte.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	return pte.Frame().Address() + PageOffset(virtAddr), nil
}

// EnsureTables allocates every page table needed to map the pages that
// overlap [virtAddr, virtAddr+length) without mapping any of them. Only
// FlagUserAccessible is taken from flags; it is applied to the intermediate
// entries.
func (pdt *PageDirectoryTable) EnsureTables(virtAddr, length uintptr, flags PageTableEntryFlag) *kernel.Error {
	if length == 0 {
		return nil
	}

	user := flags&FlagUserAccessible != 0
	lastAddr := virtAddr + length - 1
	if lastAddr < virtAddr {
		lastAddr = ^uintptr(0)
	}

	// All pages served by a single last-level table share the same path
	// so one walk per table is enough.
	for addr := mm.AlignDown(virtAddr); ; {
		if _, err := pdt.mgr.walk(pdt.pml4Frame, addr, true, user); err != nil {
			return err
		}

		next := (addr &^ (ptCoverage - 1)) + ptCoverage
		if next == 0 || next > lastAddr {
			return nil
		}
		addr = next
	}
}

// Activate loads this address space into the CPU.
func (pdt *PageDirectoryTable) Activate() {
	switchPDTFn(pdt.pml4Frame.Address())
	pdt.mgr.active = pdt
}

// flushTLBEntry invalidates the cached translation for page if this address
// space is the one loaded into the CPU.
func (pdt *PageDirectoryTable) flushTLBEntry(page mm.Page) {
	if pdt.mgr.active == pdt {
		flushTLBEntryFn(page.Address())
	}
}
