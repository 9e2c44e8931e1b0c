package vmm

import (
	"wiredos/kernel"
	"wiredos/kernel/mm"
)

// entryRef identifies a last-level page table entry.
type entryRef struct {
	table pageTable
	index uintptr
}

func (r entryRef) get() pageTableEntry {
	return r.table.entry(r.index)
}

func (r entryRef) set(pte pageTableEntry) {
	r.table.setEntry(r.index, pte)
}

// walk descends from the PML4 stored in root to the page table that holds
// the entry translating virtAddr. Missing intermediate tables are allocated
// when create is set; otherwise walk returns ErrInvalidMapping as soon as a
// non-present entry is found. When user is set, every intermediate entry on
// the path is flagged as user-accessible.
func (m *Manager) walk(root mm.Frame, virtAddr uintptr, create, user bool) (entryRef, *kernel.Error) {
	var (
		indices = PageTableIndices(virtAddr)
		table   pageTable
		err     *kernel.Error
	)

	if table, err = m.table(root); err != nil {
		return entryRef{}, err
	}

	for level := 0; level < pageLevels-1; level++ {
		pte := table.entry(indices[level])
		orig := pte

		switch {
		case !pte.HasFlags(FlagPresent):
			if !create {
				return entryRef{}, ErrInvalidMapping
			}

			var next mm.Frame
			if next, err = m.newTable(); err != nil {
				return entryRef{}, err
			}

			pte = 0
			pte.SetFrame(next)
			pte.SetFlags(tableFlags)
		case pte.HasFlags(FlagHugePage):
			return entryRef{}, errNoHugePageSupport
		}

		if user && create {
			pte.SetFlags(FlagUserAccessible)
		}

		if pte != orig {
			table.setEntry(indices[level], pte)
		}

		if table, err = m.table(pte.Frame()); err != nil {
			return entryRef{}, err
		}
	}

	return entryRef{table: table, index: indices[pageLevels-1]}, nil
}

// table returns a view of the page table stored in frame.
func (m *Manager) table(frame mm.Frame) (pageTable, *kernel.Error) {
	tbl, ok := m.dmap.FrameBytes(frame)
	if !ok {
		return nil, errTableOutOfRange
	}
	return pageTable(tbl), nil
}

// newTable allocates and clears a frame for a page table.
func (m *Manager) newTable() (mm.Frame, *kernel.Error) {
	frame, err := m.frames.AllocFrame()
	if err != nil {
		return mm.InvalidFrame, err
	}

	tbl, ok := m.dmap.FrameBytes(frame)
	if !ok {
		m.frames.ReleaseFrame(frame)
		return mm.InvalidFrame, errTableOutOfRange
	}

	kernel.Memset(tbl, 0)
	return frame, nil
}
