package mm

import "testing"

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint64(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.Valid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := uintptr(frameIndex<<PageShift), frame.Address(); got != exp {
			t.Errorf("expected frame (%d, index: %d) call to Address() to return %x; got %x", frame, frameIndex, exp, got)
		}
	}

	invalidFrame := InvalidFrame
	if invalidFrame.Valid() {
		t.Error("expected InvalidFrame.Valid() to return false")
	}
}

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		input    uintptr
		expFrame Frame
	}{
		{0, Frame(0)},
		{4095, Frame(0)},
		{4096, Frame(1)},
		{4123, Frame(1)},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.input); got != spec.expFrame {
			t.Errorf("[spec %d] expected returned frame to be %v; got %v", specIndex, spec.expFrame, got)
		}
	}
}

func TestPageMethods(t *testing.T) {
	for pageIndex := uint64(0); pageIndex < 128; pageIndex++ {
		page := Page(pageIndex)

		if exp, got := uintptr(pageIndex<<PageShift), page.Address(); got != exp {
			t.Errorf("expected page (%d, index: %d) call to Address() to return %x; got %x", page, pageIndex, exp, got)
		}
	}
}

func TestPageFromAddress(t *testing.T) {
	specs := []struct {
		input   uintptr
		expPage Page
	}{
		{0, Page(0)},
		{4095, Page(0)},
		{4096, Page(1)},
		{4123, Page(1)},
		{0xffff800000001234, Page(0xffff800000001)},
	}

	for specIndex, spec := range specs {
		if got := PageFromAddress(spec.input); got != spec.expPage {
			t.Errorf("[spec %d] expected returned page to be %v; got %v", specIndex, spec.expPage, got)
		}
	}
}

func TestAlignment(t *testing.T) {
	specs := []struct {
		input        uintptr
		expAligned   bool
		expAlignUp   uintptr
		expAlignDown uintptr
	}{
		{0, true, 0, 0},
		{1, false, 0x1000, 0},
		{0xfff, false, 0x1000, 0},
		{0x1000, true, 0x1000, 0x1000},
		{0x9fc00, false, 0xa0000, 0x9f000},
	}

	for specIndex, spec := range specs {
		if got := PageAligned(spec.input); got != spec.expAligned {
			t.Errorf("[spec %d] expected PageAligned(0x%x) to return %t; got %t", specIndex, spec.input, spec.expAligned, got)
		}

		if got := AlignUp(spec.input); got != spec.expAlignUp {
			t.Errorf("[spec %d] expected AlignUp(0x%x) to return 0x%x; got 0x%x", specIndex, spec.input, spec.expAlignUp, got)
		}

		if got := AlignDown(spec.input); got != spec.expAlignDown {
			t.Errorf("[spec %d] expected AlignDown(0x%x) to return 0x%x; got 0x%x", specIndex, spec.input, spec.expAlignDown, got)
		}
	}
}

func TestSizePages(t *testing.T) {
	specs := []struct {
		size     Size
		expPages uint32
	}{
		{0, 0},
		{Byte, 1},
		{4 * Kb, 1},
		{4*Kb + 1, 2},
		{Mb, 256},
	}

	for specIndex, spec := range specs {
		if got := spec.size.Pages(); got != spec.expPages {
			t.Errorf("[spec %d] expected %d pages; got %d", specIndex, spec.expPages, got)
		}
	}
}
