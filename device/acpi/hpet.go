package acpi

import (
	"io"

	"wiredos/device/acpi/table"
	"wiredos/kernel/kfmt"
)

// ParseHPET decodes the HPET table and records the timer block in info. The
// HPET base address is only set when the timer registers live in system
// memory.
func ParseHPET(hpet *table.Table, info *PlatformInfo, w io.Writer) {
	tbl, ok := table.DecodeHPET(hpet.Data)
	if !ok {
		kfmt.Fprintf(w, "[acpi] warning: HPET table is too short (%d bytes)\n", len(hpet.Data))
		return
	}

	info.hpetPresent = true
	info.hpet = HPETInfo{
		BlockID:        tbl.EventTimerBlockID,
		Number:         tbl.Number,
		MinimumTick:    tbl.MinimumTick,
		PageProtection: tbl.PageProtection,
		Space:          tbl.Address.Space,
		Address:        tbl.Address.Address,
	}

	if tbl.Address.Space != table.AddressSpaceSysMemory {
		kfmt.Fprintf(w, "[acpi] warning: HPET registers are in unsupported address space %d\n", uint8(tbl.Address.Space))
		info.hpetBase = 0
		return
	}

	info.hpetBase = tbl.Address.Address
}
