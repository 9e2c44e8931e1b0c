package mm

import "unsafe"

// DirectMap describes the higher-half direct map established by the
// bootloader: a window where every physical address P is readable and
// writable at virtual address Offset()+P. The window contents are exposed as
// a byte slice indexed by physical address, so all accesses to physical
// memory go through bounds-checked views.
type DirectMap struct {
	offset uintptr
	mem    []byte
}

// NewDirectMap returns a DirectMap whose window starts at virtual address
// offset and whose contents are backed by mem. Index 0 of mem corresponds to
// physical address 0.
func NewDirectMap(offset uintptr, mem []byte) *DirectMap {
	return &DirectMap{offset: offset, mem: mem}
}

// OverlayDirectMap returns a DirectMap that overlays size bytes of the live
// direct-map window starting at virtual address offset. It must only be used
// when running on the hardware whose memory the bootloader mapped.
func OverlayDirectMap(offset uintptr, size Size) *DirectMap {
	return &DirectMap{
		offset: offset,
		mem:    unsafe.Slice((*byte)(unsafe.Pointer(offset)), int(size)),
	}
}

// Offset returns the virtual address where the window starts.
func (m *DirectMap) Offset() uintptr {
	return m.offset
}

// Size returns the amount of physical memory reachable through the window.
func (m *DirectMap) Size() Size {
	return Size(len(m.mem))
}

// VirtAddr translates a physical address to its direct-map virtual address.
func (m *DirectMap) VirtAddr(physAddr uintptr) uintptr {
	return m.offset + physAddr
}

// PhysAddr translates a direct-map virtual address back to a physical
// address. It returns false if virtAddr lies outside the window.
func (m *DirectMap) PhysAddr(virtAddr uintptr) (uintptr, bool) {
	if virtAddr < m.offset || virtAddr-m.offset >= uintptr(len(m.mem)) {
		return 0, false
	}

	return virtAddr - m.offset, true
}

// Bytes returns a view of length bytes of physical memory starting at
// physAddr. It returns false if any part of the range is not covered by the
// window.
func (m *DirectMap) Bytes(physAddr, length uintptr) ([]byte, bool) {
	memLen := uintptr(len(m.mem))
	if physAddr > memLen || length > memLen-physAddr {
		return nil, false
	}

	return m.mem[physAddr : physAddr+length : physAddr+length], true
}

// FrameBytes returns a view of the page-sized contents of frame f.
func (m *DirectMap) FrameBytes(f Frame) ([]byte, bool) {
	if !f.Valid() {
		return nil, false
	}
	return m.Bytes(f.Address(), PageSize)
}
