// Package kmain contains the kernel entry point that brings up the memory
// management subsystems and discovers the platform hardware.
package kmain

import (
	"wiredos/boot"
	"wiredos/device/acpi"
	"wiredos/kernel"
	"wiredos/kernel/cpu"
	"wiredos/kernel/hal"
	"wiredos/kernel/kfmt"
	"wiredos/kernel/mm"
	"wiredos/kernel/mm/heap"
	"wiredos/kernel/mm/pmm"
	"wiredos/kernel/mm/vmm"
)

var (
	errKmainReturned      = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errMissingBootInfo    = &kernel.Error{Module: "kmain", Message: "bootloader did not provide any boot information"}
	errBootPDTNotReserved = &kernel.Error{Module: "kmain", Message: "active page tables live in memory marked as usable"}

	// The following functions are used by tests to mock calls to
	// packages that touch the hardware.
	panicFn            = kfmt.Panic
	activePDTFn        = cpu.ActivePDT
	overlayDirectMapFn = mm.OverlayDirectMap
	detectHardwareFn   = hal.DetectHardware
)

// system tracks the subsystems brought up by Kmain.
type system struct {
	dmap   *mm.DirectMap
	frames *pmm.BitmapAllocator
	heap   *heap.Heap
	vmm    *vmm.Manager
}

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. It is invoked by the rt0 assembly code with the
// information handed over by the bootloader.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(info *boot.Info) {
	if _, err := initSystem(info); err != nil {
		panicFn(err)
		return
	}

	// Use panicFn instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// initSystem sets up the direct map, the physical memory allocator, the
// kernel heap and the kernel address space and then probes for hardware.
func initSystem(info *boot.Info) (*system, *kernel.Error) {
	if info == nil {
		return nil, errMissingBootInfo
	}

	sys := &system{
		dmap:   overlayDirectMapFn(info.HHDMOffset, mm.Size(mm.AlignUp(uintptr(info.HighestPhysAddr())))),
		frames: new(pmm.BitmapAllocator),
	}

	if err := sys.frames.InitFromMemoryMap(info); err != nil {
		return nil, err
	}
	sys.frames.PrintMemoryMap(kfmt.GetOutputSink(), info)

	sys.heap = heap.New(sys.frames, sys.dmap, heap.DefaultPages)

	// The kernel address space is the one the bootloader left active
	var err *kernel.Error
	if sys.vmm, err = vmm.New(sys.dmap, sys.frames, sys.heap, activePDTFn()); err != nil {
		return nil, err
	}

	if !sys.frames.IsFrameUsed(sys.vmm.KernelPDT().Frame()) {
		return nil, errBootPDTNotReserved
	}

	kfmt.Printf("[kmain] kernel page tables at 0x%16x\n", sys.vmm.KernelPDT().Frame().Address())

	if err = detectHardwareFn(info, sys.dmap); err != nil {
		return nil, err
	}

	platform := acpi.Platform()
	kfmt.Printf("[kmain] %d CPU(s), LAPIC at 0x%16x, HPET at 0x%16x\n",
		platform.CPUCount(),
		platform.LAPICBase(),
		platform.HPETBase(),
	)

	return sys, nil
}
