// Package boot describes the information handed to the kernel by the
// bootloader: the physical memory map, the offset of the higher-half direct
// map and the physical address of the ACPI root system description pointer.
package boot

// MemoryEntryType defines the type of a MemoryMapEntry. The values match the
// memory map entry types reported by the limine boot protocol.
type MemoryEntryType uint64

const (
	// MemUsable indicates that the memory region is available for use.
	MemUsable MemoryEntryType = iota

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS once the tables have been parsed.
	MemAcpiReclaimable

	// MemAcpiNVS indicates memory that must be preserved when hibernating.
	MemAcpiNVS

	// MemBad indicates a memory region that contains defective RAM.
	MemBad

	// MemBootloaderReclaimable indicates memory used by the bootloader that
	// can be reclaimed once the kernel no longer needs the hand-off data.
	MemBootloaderReclaimable

	// MemKernelAndModules indicates the memory holding the kernel image and
	// any loaded modules.
	MemKernelAndModules

	// MemFramebuffer indicates memory backing the framebuffer.
	MemFramebuffer
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemUsable:
		return "usable"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemAcpiNVS:
		return "ACPI NVS"
	case MemBad:
		return "bad memory"
	case MemBootloaderReclaimable:
		return "bootloader (reclaimable)"
	case MemKernelAndModules:
		return "kernel and modules"
	case MemFramebuffer:
		return "framebuffer"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// End returns the physical address just past the end of the region.
func (e *MemoryMapEntry) End() uint64 {
	return e.PhysAddress + e.Length
}

// MemRegionVisitor defies a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the boot loader. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// Info holds the data the bootloader hands over to the kernel.
type Info struct {
	// MemoryMap lists the physical memory regions in the order reported by
	// the bootloader.
	MemoryMap []MemoryMapEntry

	// HHDMOffset is the virtual address at which the bootloader mapped
	// physical address 0.
	HHDMOffset uintptr

	// RSDPAddr is the physical address of the ACPI root system description
	// pointer or 0 if the firmware did not provide one.
	RSDPAddr uintptr
}

// VisitMemRegions invokes the supplied visitor for each memory region in the
// memory map. Entries with a type that the kernel does not recognize are
// reported as MemReserved. The visitor receives a copy of each entry so the
// memory map itself is never modified.
func (i *Info) VisitMemRegions(visitor MemRegionVisitor) {
	if i == nil {
		return
	}

	for _, entry := range i.MemoryMap {
		if entry.Type > MemFramebuffer {
			entry.Type = MemReserved
		}

		if !visitor(&entry) {
			return
		}
	}
}

// HighestPhysAddr returns the end address of the memory region that reaches
// furthest into the physical address space, regardless of its type.
func (i *Info) HighestPhysAddr() uint64 {
	var maxAddr uint64
	i.VisitMemRegions(func(entry *MemoryMapEntry) bool {
		if end := entry.End(); end > maxAddr {
			maxAddr = end
		}
		return true
	})

	return maxAddr
}
