package pmm

import (
	"io"

	"wiredos/boot"
	"wiredos/kernel"
	"wiredos/kernel/kfmt"
	"wiredos/kernel/mm"
)

var errNoMemoryMap = &kernel.Error{Module: "pmm", Message: "bootloader did not provide a memory map"}

// InitFromMemoryMap sizes the allocator to cover the highest physical address
// reported by the bootloader and releases every usable region. Usable region
// bounds are shrunk to page boundaries so partially usable frames stay
// reserved.
func (alloc *BitmapAllocator) InitFromMemoryMap(info *boot.Info) *kernel.Error {
	if info == nil || len(info.MemoryMap) == 0 {
		return errNoMemoryMap
	}

	pageSizeMinus1 := uint64(mm.PageSize - 1)
	alloc.Init((info.HighestPhysAddr() + pageSizeMinus1) & ^pageSizeMinus1)

	info.VisitMemRegions(func(region *boot.MemoryMapEntry) bool {
		if region.Type != boot.MemUsable {
			return true
		}

		alignedBase := (region.PhysAddress + pageSizeMinus1) & ^pageSizeMinus1
		alignedEnd := region.End() & ^pageSizeMinus1
		if alignedEnd > alignedBase {
			alloc.MarkRegionFree(uintptr(alignedBase), uintptr(alignedEnd-alignedBase))
		}
		return true
	})

	return nil
}

// PrintMemoryMap writes the bootloader memory map followed by the allocator
// statistics to w.
func (alloc *BitmapAllocator) PrintMemoryMap(w io.Writer, info *boot.Info) {
	var (
		totalUsable mm.Size
		index       int
	)

	kfmt.Fprintf(w, "[pmm] system memory map:\n")
	info.VisitMemRegions(func(region *boot.MemoryMapEntry) bool {
		kfmt.Fprintf(w, "[pmm] [%2d] [0x%16x - 0x%16x], size: %10d, type: %s\n",
			index, region.PhysAddress, region.End(), region.Length, region.Type.String(),
		)

		if region.Type == boot.MemUsable {
			totalUsable += mm.Size(region.Length)
		}
		index++
		return true
	})

	kfmt.Fprintf(w, "[pmm] usable memory: %dKb\n", uint64(totalUsable/mm.Kb))
	kfmt.Fprintf(w, "[pmm] total: %dKb, used: %dKb, free: %dKb\n",
		uint64(alloc.TotalBytes()/mm.Kb),
		uint64(alloc.UsedBytes()/mm.Kb),
		uint64(alloc.FreeBytes()/mm.Kb),
	)
	kfmt.Fprintf(w, "[pmm] frames total: %d, frames used: %d\n", alloc.FramesTotal(), alloc.FramesUsed())
	kfmt.Fprintf(w, "[pmm] direct map offset: 0x%16x\n", info.HHDMOffset)
}
