// Package pmm implements the physical frame allocator. Every page frame below
// MaxPhysMem is tracked by a single bit (1 = used, 0 = free) and frame 0 is
// never handed out so that physical address 0 can act as a null value.
package pmm

import (
	"math/bits"

	"wiredos/kernel"
	"wiredos/kernel/mm"
)

const (
	// MaxPhysMem is the amount of physical memory the allocator can
	// track. Memory above this limit is ignored.
	MaxPhysMem = 4 * mm.Gb

	maxFrames      = uint64(MaxPhysMem) >> mm.PageShift
	maxBitmapWords = maxFrames >> 6
	allUsed        = ^uint64(0)
)

var (
	errOutOfMemory      = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errInvalidAllocSize = &kernel.Error{Module: "pmm", Message: "requested page count must be greater than zero"}
)

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations using a bitmap. Bits are stored MSB-first so frame f maps to
// bit (63 - f%64) of word f/64.
//
// The bitmap is statically sized for MaxPhysMem so the allocator can be set
// up before any dynamic memory is available. BitmapAllocator is not safe for
// concurrent use.
type BitmapAllocator struct {
	// framesTotal is the number of frames under management.
	framesTotal uint64

	// framesUsed always equals the number of set bits in
	// bitmap[0:framesTotal].
	framesUsed uint64

	bitmap [maxBitmapWords]uint64
}

// Init prepares the allocator to manage totalBytes of physical memory
// (clamped to MaxPhysMem) and marks every frame as used. Callers must then
// release the usable regions via MarkRegionFree.
func (alloc *BitmapAllocator) Init(totalBytes uint64) {
	if totalBytes > uint64(MaxPhysMem) {
		totalBytes = uint64(MaxPhysMem)
	}

	alloc.framesTotal = totalBytes >> mm.PageShift
	alloc.framesUsed = alloc.framesTotal
	for i := range alloc.bitmap {
		alloc.bitmap[i] = allUsed
	}
}

// MarkRegionFree flags the frames that overlap [base, base+size) as free.
// Frames beyond the managed range are ignored and frame 0 always stays
// reserved. Only frames that transition from used to free are counted.
func (alloc *BitmapAllocator) MarkRegionFree(base, size uintptr) {
	if size == 0 || alloc.framesTotal == 0 {
		return
	}

	startFrame := uint64(base) >> mm.PageShift
	endFrame := (uint64(base) + uint64(size) - 1) >> mm.PageShift
	if startFrame >= alloc.framesTotal {
		return
	}

	if endFrame >= alloc.framesTotal {
		endFrame = alloc.framesTotal - 1
	}

	if startFrame == 0 {
		startFrame = 1
	}

	for frame := startFrame; frame <= endFrame; frame++ {
		alloc.clearFrame(frame)
	}
}

// AllocFrame reserves the lowest free frame. If no frame is available,
// AllocFrame returns mm.InvalidFrame and an error.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	frame, ok := alloc.firstFreeFrame()
	if !ok {
		return mm.InvalidFrame, errOutOfMemory
	}

	alloc.setFrame(frame)
	return mm.Frame(frame), nil
}

// AllocPages reserves the lowest run of count physically contiguous free
// frames and returns the first frame of the run.
func (alloc *BitmapAllocator) AllocPages(count uint32) (mm.Frame, *kernel.Error) {
	if count == 0 {
		return mm.InvalidFrame, errInvalidAllocSize
	}

	start, ok := alloc.findFreeRun(uint64(count))
	if !ok {
		return mm.InvalidFrame, errOutOfMemory
	}

	for frame := start; frame < start+uint64(count); frame++ {
		alloc.setFrame(frame)
	}

	return mm.Frame(start), nil
}

// FreeFrame releases the frame at physical address physAddr. Requests for
// address 0, misaligned addresses, addresses outside the managed range or
// frames that are already free are silently ignored.
func (alloc *BitmapAllocator) FreeFrame(physAddr uintptr) {
	alloc.FreePages(physAddr, 1)
}

// FreePages releases count frames starting at physical address base. The run
// is clipped to the managed range. Invalid requests are silently ignored.
func (alloc *BitmapAllocator) FreePages(base uintptr, count uint32) {
	if count == 0 || !mm.PageAligned(base) {
		return
	}

	startFrame := uint64(base) >> mm.PageShift
	if startFrame >= alloc.framesTotal {
		return
	}

	endFrame := startFrame + uint64(count) - 1
	if endFrame >= alloc.framesTotal {
		endFrame = alloc.framesTotal - 1
	}

	if startFrame == 0 {
		startFrame = 1
	}

	for frame := startFrame; frame <= endFrame; frame++ {
		alloc.clearFrame(frame)
	}
}

// ReleaseFrame returns frame f to the allocator. It allows BitmapAllocator to
// be used as a mm.FrameAllocator.
func (alloc *BitmapAllocator) ReleaseFrame(f mm.Frame) {
	if !f.Valid() {
		return
	}
	alloc.FreeFrame(f.Address())
}

// IsFrameUsed returns true if frame f is reserved. Frames outside the managed
// range are always reported as used.
func (alloc *BitmapAllocator) IsFrameUsed(f mm.Frame) bool {
	if uint64(f) >= alloc.framesTotal {
		return true
	}
	return alloc.testFrame(uint64(f))
}

// FramesTotal returns the number of frames under management.
func (alloc *BitmapAllocator) FramesTotal() uint64 { return alloc.framesTotal }

// FramesUsed returns the number of reserved frames.
func (alloc *BitmapAllocator) FramesUsed() uint64 { return alloc.framesUsed }

// TotalBytes returns the amount of managed physical memory.
func (alloc *BitmapAllocator) TotalBytes() mm.Size {
	return mm.Size(alloc.framesTotal << mm.PageShift)
}

// UsedBytes returns the amount of reserved physical memory.
func (alloc *BitmapAllocator) UsedBytes() mm.Size {
	return mm.Size(alloc.framesUsed << mm.PageShift)
}

// FreeBytes returns the amount of available physical memory.
func (alloc *BitmapAllocator) FreeBytes() mm.Size {
	return alloc.TotalBytes() - alloc.UsedBytes()
}

// firstFreeFrame scans the bitmap one word at a time and returns the lowest
// clear bit below framesTotal.
func (alloc *BitmapAllocator) firstFreeFrame() (uint64, bool) {
	words := (alloc.framesTotal + 63) >> 6
	for word := uint64(0); word < words; word++ {
		if alloc.bitmap[word] == allUsed {
			continue
		}

		frame := word<<6 + uint64(bits.LeadingZeros64(^alloc.bitmap[word]))
		if frame >= alloc.framesTotal {
			break
		}
		return frame, true
	}

	return 0, false
}

// findFreeRun returns the first frame of the lowest run of count clear bits.
// The run length resets whenever a used frame is encountered.
func (alloc *BitmapAllocator) findFreeRun(count uint64) (uint64, bool) {
	var runStart, runLen uint64

	for frame := uint64(0); frame < alloc.framesTotal; frame++ {
		// Fast path: skip over fully reserved words
		if frame&63 == 0 && alloc.bitmap[frame>>6] == allUsed {
			runLen = 0
			frame += 63
			continue
		}

		if alloc.testFrame(frame) {
			runLen = 0
			continue
		}

		if runLen == 0 {
			runStart = frame
		}

		if runLen++; runLen == count {
			return runStart, true
		}
	}

	return 0, false
}

func (alloc *BitmapAllocator) testFrame(frame uint64) bool {
	return alloc.bitmap[frame>>6]&frameMask(frame) != 0
}

// setFrame flags frame as used and updates the used counter if the frame
// was previously free.
func (alloc *BitmapAllocator) setFrame(frame uint64) {
	mask := frameMask(frame)
	if alloc.bitmap[frame>>6]&mask == 0 {
		alloc.bitmap[frame>>6] |= mask
		alloc.framesUsed++
	}
}

// clearFrame flags frame as free and updates the used counter if the frame
// was previously used.
func (alloc *BitmapAllocator) clearFrame(frame uint64) {
	mask := frameMask(frame)
	if alloc.bitmap[frame>>6]&mask != 0 {
		alloc.bitmap[frame>>6] &^= mask
		alloc.framesUsed--
	}
}

func frameMask(frame uint64) uint64 {
	return 1 << (63 - frame&63)
}
