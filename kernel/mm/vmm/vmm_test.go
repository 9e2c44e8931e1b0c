package vmm

import (
	"encoding/binary"
	"testing"

	"wiredos/kernel"
	"wiredos/kernel/mm"
	"wiredos/kernel/mm/heap"
	"wiredos/kernel/mm/pmm"
)

const testHHDMOffset = uintptr(0xffff800000000000)

// testEnv simulates 64 frames of physical memory managed by a bitmap
// allocator and a kernel PML4 that is active at boot.
type testEnv struct {
	mem        []byte
	dmap       *mm.DirectMap
	frames     *pmm.BitmapAllocator
	heap       *heap.Heap
	mgr        *Manager
	kernelPML4 mm.Frame

	flushCount int
	switchedTo uintptr
}

func newTestEnv(t *testing.T) (*testEnv, func()) {
	origSwitchPDT, origFlushTLBEntry := switchPDTFn, flushTLBEntryFn

	env := &testEnv{
		mem:    make([]byte, 64*mm.PageSize),
		frames: new(pmm.BitmapAllocator),
	}

	// Fill physical memory with junk so missing table clears get caught
	for i := range env.mem {
		env.mem[i] = 0xaa
	}

	env.dmap = mm.NewDirectMap(testHHDMOffset, env.mem)
	env.frames.Init(uint64(len(env.mem)))
	env.frames.MarkRegionFree(0, uintptr(len(env.mem)))

	var err *kernel.Error
	if env.kernelPML4, err = env.frames.AllocFrame(); err != nil {
		t.Fatal(err)
	}
	pml4, _ := env.dmap.FrameBytes(env.kernelPML4)
	kernel.Memset(pml4, 0)

	switchPDTFn = func(addr uintptr) { env.switchedTo = addr }
	flushTLBEntryFn = func(_ uintptr) { env.flushCount++ }

	env.heap = heap.New(env.frames, env.dmap, 2)
	env.mgr = env.newManager(t, env.frames, env.heap)

	return env, func() {
		switchPDTFn, flushTLBEntryFn = origSwitchPDT, origFlushTLBEntry
	}
}

// newManager returns a Manager whose kernel address space is the PML4
// allocated by newTestEnv.
func (env *testEnv) newManager(t *testing.T, frames mm.FrameAllocator, allocator Allocator) *Manager {
	t.Helper()

	mgr, err := New(env.dmap, frames, allocator, env.kernelPML4.Address())
	if err != nil {
		t.Fatal(err)
	}
	return mgr
}

// entryAt returns the entry at the requested level of the path that
// translates virtAddr. It fails the test if the path is incomplete.
func (env *testEnv) entryAt(t *testing.T, root mm.Frame, virtAddr uintptr, level int) (pageTable, uintptr) {
	t.Helper()

	indices := PageTableIndices(virtAddr)
	tbl, err := env.mgr.table(root)
	for lvl := 0; lvl < level; lvl++ {
		if err != nil {
			t.Fatal(err)
		}
		tbl, err = env.mgr.table(tbl.entry(indices[lvl]).Frame())
	}

	if err != nil {
		t.Fatal(err)
	}
	return tbl, indices[level]
}

// failingFrameAllocator hands out a fixed frame or fails.
type failingFrameAllocator struct {
	frame        mm.Frame
	err          *kernel.Error
	releaseCount int
}

func (a *failingFrameAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if a.err != nil {
		return mm.InvalidFrame, a.err
	}
	return a.frame, nil
}

func (a *failingFrameAllocator) ReleaseFrame(_ mm.Frame) { a.releaseCount++ }

// failingHeap rejects every allocation.
type failingHeap struct {
	err *kernel.Error
}

func (h failingHeap) Alloc(_ uintptr) (uintptr, *kernel.Error) { return 0, h.err }
func (h failingHeap) Free(_ uintptr)                           {}
func (h failingHeap) Bytes(_, _ uintptr) ([]byte, bool)        { return nil, false }

func TestNew(t *testing.T) {
	env, restore := newTestEnv(t)
	defer restore()

	if got := env.mgr.KernelPDT().Frame(); got != env.kernelPML4 {
		t.Fatalf("expected kernel PDT to use frame %d; got %d", env.kernelPML4, got)
	}

	env.mgr.KernelPDT().Activate()
	if exp := env.kernelPML4.Address(); env.switchedTo != exp {
		t.Fatalf("expected Activate to load 0x%x; got 0x%x", exp, env.switchedTo)
	}

	specs := []struct {
		kernelPML4 uintptr
		expErr     *kernel.Error
	}{
		// frame 0 is never handed out so it cannot hold live page tables
		{0, errInvalidKernelPDT},
		{0xfff, errInvalidKernelPDT},
		{mm.Frame(1000).Address(), errTableOutOfRange},
	}

	for specIndex, spec := range specs {
		if mgr, err := New(env.dmap, env.frames, env.heap, spec.kernelPML4); mgr != nil || err != spec.expErr {
			t.Errorf("[spec %d] expected to get (nil, %v); got (%v, %v)", specIndex, spec.expErr, mgr, err)
		}
	}
}

func TestTLBFlushOnlyForActiveAddressSpace(t *testing.T) {
	env, restore := newTestEnv(t)
	defer restore()

	pdt, err := env.mgr.CreateAddressSpace()
	if err != nil {
		t.Fatal(err)
	}

	page := mm.PageFromAddress(0x400000)
	if err = pdt.Map(page, mm.Frame(40), FlagPresent|FlagRW); err != nil {
		t.Fatal(err)
	}

	if err = pdt.Unmap(page, false); err != nil {
		t.Fatal(err)
	}

	if env.flushCount != 0 {
		t.Fatalf("expected no TLB flushes for an inactive address space; got %d", env.flushCount)
	}

	pdt.Activate()
	if err = pdt.Map(page, mm.Frame(40), FlagPresent|FlagRW); err != nil {
		t.Fatal(err)
	}

	if err = env.mgr.KernelPDT().Map(page, mm.Frame(41), FlagPresent|FlagRW); err != nil {
		t.Fatal(err)
	}

	if env.flushCount != 1 {
		t.Fatalf("expected 1 TLB flush after activating the address space; got %d", env.flushCount)
	}

	if err = env.mgr.DestroyAddressSpace(pdt); err != errActivePDTDestroy {
		t.Fatalf("expected errActivePDTDestroy; got %v", err)
	}

	env.mgr.KernelPDT().Activate()
	if err = env.mgr.DestroyAddressSpace(pdt); err != nil {
		t.Fatal(err)
	}
}

func TestCreateAddressSpace(t *testing.T) {
	env, restore := newTestEnv(t)
	defer restore()

	pdt, err := env.mgr.CreateAddressSpace()
	if err != nil {
		t.Fatal(err)
	}

	pml4, ok := env.dmap.FrameBytes(pdt.Frame())
	if !ok {
		t.Fatal("expected PML4 frame to be reachable through the direct map")
	}

	for index, b := range pml4 {
		if b != 0 {
			t.Fatalf("expected PML4 to be cleared; byte %d is 0x%x", index, b)
		}
	}

	desc, ok := env.heap.Bytes(pdt.descAddr, addrSpaceDescSize)
	if !ok {
		t.Fatal("expected descriptor to live in the kernel heap")
	}

	if exp, got := uint64(pdt.Frame().Address()), binary.LittleEndian.Uint64(desc[0:]); got != exp {
		t.Fatalf("expected descriptor to record PML4 at 0x%x; got 0x%x", exp, got)
	}

	if exp, got := uint64(testHHDMOffset+pdt.Frame().Address()), binary.LittleEndian.Uint64(desc[8:]); got != exp {
		t.Fatalf("expected descriptor to record PML4 virtual address 0x%x; got 0x%x", exp, got)
	}

	pdt.Activate()
	if exp := pdt.Frame().Address(); env.switchedTo != exp {
		t.Fatalf("expected Activate to load 0x%x; got 0x%x", exp, env.switchedTo)
	}

	t.Run("address spaces are isolated", func(t *testing.T) {
		page := mm.PageFromAddress(0x400000)
		if err := pdt.Map(page, mm.Frame(40), FlagPresent|FlagRW); err != nil {
			t.Fatal(err)
		}

		if _, err := pdt.Translate(page.Address()); err != nil {
			t.Fatal(err)
		}

		if _, err := env.mgr.KernelPDT().Translate(page.Address()); err != ErrInvalidMapping {
			t.Fatalf("expected kernel address space to be unaffected; got %v", err)
		}
	})
}

func TestCreateAddressSpaceErrors(t *testing.T) {
	env, restore := newTestEnv(t)
	defer restore()

	t.Run("heap exhausted", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "out of memory"}
		mgr := env.newManager(t, env.frames, failingHeap{expErr})

		if pdt, err := mgr.CreateAddressSpace(); pdt != nil || err != expErr {
			t.Fatalf("expected to get (nil, %v); got (%v, %v)", expErr, pdt, err)
		}
	})

	t.Run("frame allocation fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "out of memory"}
		mgr := env.newManager(t, &failingFrameAllocator{err: expErr}, env.heap)

		if pdt, err := mgr.CreateAddressSpace(); pdt != nil || err != expErr {
			t.Fatalf("expected to get (nil, %v); got (%v, %v)", expErr, pdt, err)
		}

		if used := env.heap.Stats().Used; used != 0 {
			t.Fatalf("expected descriptor to be released; heap has %d used bytes", used)
		}
	})

	t.Run("frame outside direct map", func(t *testing.T) {
		frames := &failingFrameAllocator{frame: mm.Frame(1000)}
		mgr := env.newManager(t, frames, env.heap)

		if pdt, err := mgr.CreateAddressSpace(); pdt != nil || err != errTableOutOfRange {
			t.Fatalf("expected to get (nil, errTableOutOfRange); got (%v, %v)", pdt, err)
		}

		if frames.releaseCount != 1 {
			t.Fatalf("expected unusable frame to be released; got %d releases", frames.releaseCount)
		}
	})
}

func TestDestroyAddressSpace(t *testing.T) {
	env, restore := newTestEnv(t)
	defer restore()

	pdt, err := env.mgr.CreateAddressSpace()
	if err != nil {
		t.Fatal(err)
	}

	if err = pdt.Map(mm.PageFromAddress(0x400000), mm.Frame(40), FlagPresent|FlagRW); err != nil {
		t.Fatal(err)
	}

	usedFrames := env.frames.FramesUsed()
	if err = env.mgr.DestroyAddressSpace(pdt); err != nil {
		t.Fatal(err)
	}

	if used := env.heap.Stats().Used; used != 0 {
		t.Fatalf("expected descriptor to be released; heap has %d used bytes", used)
	}

	// Table frames are intentionally kept
	if got := env.frames.FramesUsed(); got != usedFrames {
		t.Fatalf("expected used frames to stay at %d; got %d", usedFrames, got)
	}

	specs := []struct {
		pdt    *PageDirectoryTable
		expErr *kernel.Error
	}{
		{pdt, nil},
		{nil, nil},
		{env.mgr.KernelPDT(), errKernelPDTDestroy},
	}

	for specIndex, spec := range specs {
		if err := env.mgr.DestroyAddressSpace(spec.pdt); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}
}

func TestMapAndTranslate(t *testing.T) {
	env, restore := newTestEnv(t)
	defer restore()

	var (
		pdt      = env.mgr.KernelPDT()
		page     = mm.PageFromAddress(0xffffc00000001000)
		frame    = mm.Frame(40)
		usedPrev = env.frames.FramesUsed()
	)

	if err := pdt.Map(page, frame, FlagPresent|FlagRW|FlagNoExecute); err != nil {
		t.Fatal(err)
	}

	// PDP, PD and PT tables
	if exp, got := usedPrev+3, env.frames.FramesUsed(); got != exp {
		t.Fatalf("expected %d used frames after allocating page tables; got %d", exp, got)
	}

	if env.flushCount != 1 {
		t.Fatalf("expected 1 TLB flush; got %d", env.flushCount)
	}

	for level := 0; level < pageLevels-1; level++ {
		tbl, index := env.entryAt(t, env.kernelPML4, page.Address(), level)
		pte := tbl.entry(index)
		if !pte.HasFlags(FlagPresent | FlagRW) {
			t.Errorf("[level %d] expected intermediate entry to be present and writable", level)
		}

		if pte.HasAnyFlag(FlagUserAccessible | FlagNoExecute) {
			t.Errorf("[level %d] expected intermediate entry not to carry leaf flags", level)
		}
	}

	tbl, index := env.entryAt(t, env.kernelPML4, page.Address(), pageLevels-1)
	if exp, got := pageTableEntry(frame.Address())|pageTableEntry(FlagPresent|FlagRW|FlagNoExecute), tbl.entry(index); got != exp {
		t.Fatalf("expected leaf entry 0x%x; got 0x%x", uintptr(exp), uintptr(got))
	}

	specs := []struct {
		virtAddr uintptr
		expPhys  uintptr
		expErr   *kernel.Error
	}{
		{page.Address(), frame.Address(), nil},
		{page.Address() + 0x123, frame.Address() + 0x123, nil},
		{page.Address() + mm.PageSize, 0, ErrInvalidMapping},
		{0x1000, 0, ErrInvalidMapping},
	}

	for specIndex, spec := range specs {
		phys, err := pdt.Translate(spec.virtAddr)
		if err != spec.expErr || phys != spec.expPhys {
			t.Errorf("[spec %d] expected Translate(0x%x) to return (0x%x, %v); got (0x%x, %v)", specIndex, spec.virtAddr, spec.expPhys, spec.expErr, phys, err)
		}
	}

	t.Run("remap reuses tables", func(t *testing.T) {
		usedPrev := env.frames.FramesUsed()
		if err := pdt.Map(page+1, frame+1, FlagPresent); err != nil {
			t.Fatal(err)
		}

		if got := env.frames.FramesUsed(); got != usedPrev {
			t.Fatalf("expected no new page tables; used frames went from %d to %d", usedPrev, got)
		}

		if phys, err := pdt.Translate((page + 1).Address()); err != nil || phys != (frame+1).Address() {
			t.Fatalf("expected translation to 0x%x; got (0x%x, %v)", (frame + 1).Address(), phys, err)
		}
	})
}

func TestMapUserAccessible(t *testing.T) {
	env, restore := newTestEnv(t)
	defer restore()

	pdt := env.mgr.KernelPDT()
	page := mm.PageFromAddress(0x400000)
	if err := pdt.Map(page, mm.Frame(40), FlagPresent|FlagRW|FlagUserAccessible); err != nil {
		t.Fatal(err)
	}

	for level := 0; level < pageLevels; level++ {
		tbl, index := env.entryAt(t, env.kernelPML4, page.Address(), level)
		if !tbl.entry(index).HasFlags(FlagPresent | FlagUserAccessible) {
			t.Errorf("[level %d] expected entry to be user accessible", level)
		}
	}
}

func TestUnmap(t *testing.T) {
	env, restore := newTestEnv(t)
	defer restore()

	var (
		pdt  = env.mgr.KernelPDT()
		page = mm.PageFromAddress(0x400000)
	)

	frame, err := env.frames.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if err = pdt.Map(page, frame, FlagPresent|FlagRW); err != nil {
		t.Fatal(err)
	}

	if err = pdt.Map(page+1, mm.Frame(50), FlagPresent|FlagRW); err != nil {
		t.Fatal(err)
	}

	t.Run("keep frame", func(t *testing.T) {
		flushes := env.flushCount
		if err := pdt.Unmap(page+1, false); err != nil {
			t.Fatal(err)
		}

		if env.flushCount != flushes+1 {
			t.Fatal("expected Unmap to flush the TLB entry")
		}

		if _, err := pdt.Translate((page + 1).Address()); err != ErrInvalidMapping {
			t.Fatalf("expected ErrInvalidMapping after unmap; got %v", err)
		}

		if err := pdt.Unmap(page+1, false); err != ErrInvalidMapping {
			t.Fatalf("expected ErrInvalidMapping when unmapping twice; got %v", err)
		}
	})

	t.Run("free frame", func(t *testing.T) {
		if err := pdt.Unmap(page, true); err != nil {
			t.Fatal(err)
		}

		if env.frames.IsFrameUsed(frame) {
			t.Fatalf("expected frame %d to be released", frame)
		}
	})

	t.Run("missing tables", func(t *testing.T) {
		specs := []uintptr{0, 0x7fffffffff000, 0xffffc00000000000}
		for specIndex, virtAddr := range specs {
			if err := pdt.Unmap(mm.PageFromAddress(virtAddr), false); err != ErrInvalidMapping {
				t.Errorf("[spec %d] expected ErrInvalidMapping; got %v", specIndex, err)
			}
		}
	})
}

func TestMapErrors(t *testing.T) {
	env, restore := newTestEnv(t)
	defer restore()

	pdt := env.mgr.KernelPDT()

	t.Run("huge page", func(t *testing.T) {
		page := mm.PageFromAddress(0x40000000)
		if err := pdt.Map(page, mm.Frame(40), FlagPresent|FlagRW); err != nil {
			t.Fatal(err)
		}

		// Turn the PD entry for the next 2M region into a huge page
		hugeAddr := page.Address() + ptCoverage
		tbl, index := env.entryAt(t, env.kernelPML4, hugeAddr, 2)
		tbl.setEntry(index, pageTableEntry(0x200000)|pageTableEntry(FlagPresent|FlagRW|FlagHugePage))

		if err := pdt.Map(mm.PageFromAddress(hugeAddr), mm.Frame(41), FlagPresent); err != errNoHugePageSupport {
			t.Fatalf("expected errNoHugePageSupport; got %v", err)
		}

		if _, err := pdt.Translate(hugeAddr); err != errNoHugePageSupport {
			t.Fatalf("expected errNoHugePageSupport; got %v", err)
		}
	})

	t.Run("table outside direct map", func(t *testing.T) {
		tbl, index := env.entryAt(t, env.kernelPML4, 0, 0)
		tbl.setEntry(index, pageTableEntry(mm.Frame(1000).Address())|pageTableEntry(FlagPresent|FlagRW))
		defer tbl.setEntry(index, 0)

		if err := pdt.Map(mm.Page(1), mm.Frame(40), FlagPresent); err != errTableOutOfRange {
			t.Fatalf("expected errTableOutOfRange; got %v", err)
		}

		if _, err := pdt.Translate(0x1000); err != errTableOutOfRange {
			t.Fatalf("expected errTableOutOfRange; got %v", err)
		}
	})

	t.Run("frame allocation fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "out of memory"}
		mgr := env.newManager(t, &failingFrameAllocator{err: expErr}, env.heap)

		if err := mgr.KernelPDT().Map(mm.PageFromAddress(0x7f0000000000), mm.Frame(40), FlagPresent); err != expErr {
			t.Fatalf("expected %v; got %v", expErr, err)
		}
	})
}

func TestEnsureTables(t *testing.T) {
	env, restore := newTestEnv(t)
	defer restore()

	pdt := env.mgr.KernelPDT()

	specs := []struct {
		virtAddr, length uintptr
		expNewTables     uint64
	}{
		// no-op
		{0x600000, 0, 0},
		// two pages on either side of a page table boundary: PDP, PD, 2 x PT
		{0x600000 - mm.PageSize, 2 * mm.PageSize, 4},
		// already covered
		{0x5ff123, 10, 0},
		// four page tables worth of address space; two already exist
		{0x400000, 4 * ptCoverage, 2},
		// wraps around the end of the address space
		{^uintptr(0) - mm.PageSize + 1, 0x10000, 3},
	}

	for specIndex, spec := range specs {
		usedPrev := env.frames.FramesUsed()
		if err := pdt.EnsureTables(spec.virtAddr, spec.length, FlagPresent|FlagRW); err != nil {
			t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
		}

		if got := env.frames.FramesUsed() - usedPrev; got != spec.expNewTables {
			t.Errorf("[spec %d] expected %d new tables; got %d", specIndex, spec.expNewTables, got)
		}
	}

	if env.flushCount != 0 {
		t.Fatalf("expected EnsureTables not to touch leaf entries; got %d TLB flushes", env.flushCount)
	}

	// Tables exist but nothing is mapped
	if _, err := pdt.Translate(0x5ff000); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping; got %v", err)
	}

	t.Run("frame allocation fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "out of memory"}
		mgr := env.newManager(t, &failingFrameAllocator{err: expErr}, env.heap)

		if err := mgr.KernelPDT().EnsureTables(0x7f0000000000, mm.PageSize, 0); err != expErr {
			t.Fatalf("expected %v; got %v", expErr, err)
		}
	})
}

func TestMapRegion(t *testing.T) {
	env, restore := newTestEnv(t)
	defer restore()

	var (
		pdt       = env.mgr.KernelPDT()
		startPage = mm.PageFromAddress(0xffffc00000000000)
		frame     = mm.Frame(20)
	)

	if err := pdt.MapRegion(startPage, frame, 3*mm.PageSize+1, FlagPresent|FlagRW); err != nil {
		t.Fatal(err)
	}

	for i := uintptr(0); i < 4; i++ {
		virtAddr := startPage.Address() + i*mm.PageSize + 0x10
		phys, err := pdt.Translate(virtAddr)
		if err != nil {
			t.Fatalf("[page %d] unexpected error: %v", i, err)
		}

		if exp := frame.Address() + i*mm.PageSize + 0x10; phys != exp {
			t.Errorf("[page %d] expected translation to 0x%x; got 0x%x", i, exp, phys)
		}
	}

	if _, err := pdt.Translate(startPage.Address() + 4*mm.PageSize); err != ErrInvalidMapping {
		t.Fatalf("expected region to end after 4 pages; got %v", err)
	}

	t.Run("empty region", func(t *testing.T) {
		flushes := env.flushCount
		if err := pdt.MapRegion(startPage, frame, 0, FlagPresent); err != nil {
			t.Fatal(err)
		}

		if env.flushCount != flushes {
			t.Fatal("expected empty region not to map any page")
		}
	})

	t.Run("table allocation fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "out of memory"}
		mgr := env.newManager(t, &failingFrameAllocator{err: expErr}, env.heap)

		flushes := env.flushCount
		if err := mgr.KernelPDT().MapRegion(mm.PageFromAddress(0x7f0000000000), frame, mm.PageSize, FlagPresent); err != expErr {
			t.Fatalf("expected %v; got %v", expErr, err)
		}

		if env.flushCount != flushes {
			t.Fatal("expected no page to be mapped when table allocation fails")
		}
	})
}
