package mm

import "wiredos/kernel"

// FrameAllocator is implemented by physical memory allocators that hand out
// single frames. The vmm package uses it to obtain frames for page tables.
type FrameAllocator interface {
	// AllocFrame reserves a free frame. It returns InvalidFrame and an
	// error when no frame is available.
	AllocFrame() (Frame, *kernel.Error)

	// ReleaseFrame returns a frame to the allocator.
	ReleaseFrame(Frame)
}

// PageAllocator is implemented by physical memory allocators that can hand
// out runs of physically contiguous frames.
type PageAllocator interface {
	// AllocPages reserves count contiguous frames and returns the first
	// one.
	AllocPages(count uint32) (Frame, *kernel.Error)
}
