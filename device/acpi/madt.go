package acpi

import (
	"io"

	"wiredos/device/acpi/table"
	"wiredos/kernel/kfmt"
)

// ParseMADT decodes the records of the MADT and stores the LAPIC base
// address, the enabled processors, the I/O APICs, the interrupt source
// overrides and the local APIC NMIs in info.
//
// Parsing stops at the first record whose length is invalid or runs past
// the end of the table; records decoded up to that point are kept. Records
// that are too short for their type, records of unknown types and records
// that do not fit in info are skipped.
func ParseMADT(madt *table.Table, info *PlatformInfo, w io.Writer) {
	hdr, ok := table.DecodeMADTHeader(madt.Data)
	if !ok {
		kfmt.Fprintf(w, "[madt] warning: table is too short (%d bytes)\n", len(madt.Data))
		return
	}

	info.lapicBase = uint64(hdr.LocalControllerAddress)
	info.madtFlags = hdr.Flags

	end := len(madt.Data)
	if int(hdr.Length) < end {
		end = int(hdr.Length)
	}

	for offset := table.MADTHeaderSize; offset < end; {
		entry, ok := table.DecodeMADTEntry(madt.Data[offset:end])
		if !ok || entry.Length < table.MADTEntryHeaderSize || offset+int(entry.Length) > end {
			kfmt.Fprintf(w, "[madt] warning: corrupt record at offset %d; ignoring remaining records\n", offset)
			return
		}

		record := madt.Data[offset : offset+int(entry.Length)]
		offset += int(entry.Length)

		switch entry.Type {
		case table.MADTEntryTypeLocalAPIC:
			lapic, ok := table.DecodeMADTLocalAPIC(record)
			if !ok {
				warnShortRecord(w, "LAPIC", offset-len(record))
				continue
			}

			if lapic.Flags&table.MADTLocalAPICEnabled == 0 {
				continue
			}

			if info.cpuCount == MaxCPUs {
				warnCapacity(w, "LAPIC", MaxCPUs)
				continue
			}

			info.cpus[info.cpuCount] = CPUInfo{ACPIID: lapic.ProcessorID, APICID: lapic.APICID, Flags: lapic.Flags}
			info.cpuCount++
		case table.MADTEntryTypeIOAPIC:
			ioapic, ok := table.DecodeMADTIOAPIC(record)
			if !ok {
				warnShortRecord(w, "IOAPIC", offset-len(record))
				continue
			}

			if info.ioapicCnt == MaxIOAPICs {
				warnCapacity(w, "IOAPIC", MaxIOAPICs)
				continue
			}

			info.ioapics[info.ioapicCnt] = IOAPICInfo{ID: ioapic.APICID, GSIBase: ioapic.SysInterruptBase, PhysAddr: uint64(ioapic.Address)}
			info.ioapicCnt++
		case table.MADTEntryTypeIntSrcOverride:
			iso, ok := table.DecodeMADTInterruptSrcOverride(record)
			if !ok {
				warnShortRecord(w, "ISO", offset-len(record))
				continue
			}

			if info.isoCount == MaxInterruptOverrides {
				warnCapacity(w, "ISO", MaxInterruptOverrides)
				continue
			}

			info.overrides[info.isoCount] = InterruptOverride{Bus: iso.BusSrc, IRQ: iso.IRQSrc, GSI: iso.GlobalInterrupt, Flags: iso.Flags}
			info.isoCount++
		case table.MADTEntryTypeLocalAPICNMI:
			nmi, ok := table.DecodeMADTNMI(record)
			if !ok {
				warnShortRecord(w, "LAPIC NMI", offset-len(record))
				continue
			}

			if info.nmiCount == MaxLAPICNMIs {
				warnCapacity(w, "LAPIC NMI", MaxLAPICNMIs)
				continue
			}

			info.nmis[info.nmiCount] = LAPICNMI{ACPIID: nmi.Processor, LINT: nmi.LINT, Flags: nmi.Flags}
			info.nmiCount++
		case table.MADTEntryTypeLocalAPICAddrOverride:
			override, ok := table.DecodeMADTLocalAPICAddrOverride(record)
			if !ok {
				warnShortRecord(w, "LAPIC address override", offset-len(record))
				continue
			}

			info.lapicBase = override.Address
		}
	}
}

func warnShortRecord(w io.Writer, kind string, offset int) {
	kfmt.Fprintf(w, "[madt] warning: truncated %s record at offset %d; skipping\n", kind, offset)
}

func warnCapacity(w io.Writer, kind string, limit int) {
	kfmt.Fprintf(w, "[madt] warning: more than %d %s records; dropping\n", limit, kind)
}
