package acpi

import (
	"io"

	"wiredos/device/acpi/table"
	"wiredos/kernel"
	"wiredos/kernel/kfmt"
	"wiredos/kernel/mm"
)

const (
	acpiRev2Plus uint8 = 2

	// rsdpRevisionOffset is the offset of the revision byte in the RSDP.
	rsdpRevisionOffset = 15

	fadtSignature = "FACP"
)

var (
	errMissingRSDP       = &kernel.Error{Module: "acpi", Message: "bootloader did not provide an ACPI RSDP"}
	errInvalidRSDP       = &kernel.Error{Module: "acpi", Message: "ACPI RSDP is unreadable or has an invalid checksum"}
	errMissingRootTable  = &kernel.Error{Module: "acpi", Message: "ACPI RSDP does not point to an XSDT or RSDT"}
	errRootTableChecksum = &kernel.Error{Module: "acpi", Message: "detected checksum mismatch while parsing ACPI root table"}
)

// ValidateRSDP returns true if b holds a root system descriptor pointer with a
// valid signature and checksum. ACPI 2.0+ descriptors must supply all 36
// bytes of the extended layout. When their declared length covers the
// extended fields, it must fit in b and the extended checksum over that length
// must also be valid; shorter declared lengths are only covered by the legacy
// checksum.
func ValidateRSDP(b []byte) bool {
	if len(b) < table.RSDPSize || string(b[:len(table.RSDPSignature)]) != table.RSDPSignature {
		return false
	}

	if !table.ValidChecksum(b[:table.RSDPSize]) {
		return false
	}

	if b[rsdpRevisionOffset] < acpiRev2Plus {
		return true
	}

	if len(b) < table.ExtRSDPSize {
		return false
	}

	rsdp, _ := table.DecodeRSDP(b)
	switch {
	case rsdp.Length < table.ExtRSDPSize:
		return true
	case uint64(rsdp.Length) > uint64(len(b)):
		return false
	default:
		return table.ValidChecksum(b[:rsdp.Length])
	}
}

// Locator finds ACPI tables by walking the XSDT (ACPI 2.0+) or the RSDT
// referenced by the RSDP. All table memory is accessed through the direct
// map.
type Locator struct {
	dmap *mm.DirectMap
	rsdp table.ExtRSDPDescriptor

	// root is the active root table; its payload is an array of table
	// pointers of ptrSize bytes each.
	root    *table.Table
	ptrSize int
}

// Init locates and validates the RSDP at physical address rsdpPhys and
// selects the root table. It returns an error if the ACPI tables cannot be
// used.
func (l *Locator) Init(rsdpPhys uintptr, dmap *mm.DirectMap) *kernel.Error {
	if rsdpPhys == 0 || dmap == nil {
		return errMissingRSDP
	}

	l.dmap = dmap

	b, ok := dmap.Bytes(rsdpPhys, table.RSDPSize)
	if !ok {
		return errInvalidRSDP
	}

	// ACPI 2.0+ descriptors are validated over their declared length
	if b[rsdpRevisionOffset] >= acpiRev2Plus {
		if b, ok = dmap.Bytes(rsdpPhys, table.ExtRSDPSize); !ok {
			return errInvalidRSDP
		}

		if ext, _ := table.DecodeRSDP(b); ext.Length > table.ExtRSDPSize {
			if b, ok = dmap.Bytes(rsdpPhys, uintptr(ext.Length)); !ok {
				return errInvalidRSDP
			}
		}
	}

	if !ValidateRSDP(b) {
		return errInvalidRSDP
	}

	l.rsdp, _ = table.DecodeRSDP(b)

	var rootAddr uintptr
	switch {
	case l.rsdp.Revision >= acpiRev2Plus && l.rsdp.XSDTAddr != 0:
		rootAddr, l.ptrSize = uintptr(l.rsdp.XSDTAddr), 8
	case l.rsdp.RSDTAddr != 0:
		rootAddr, l.ptrSize = uintptr(l.rsdp.RSDTAddr), 4
	default:
		return errMissingRootTable
	}

	root, ok := l.readTable(rootAddr)
	if !ok || !table.ValidChecksum(root.Data) {
		return errRootTableChecksum
	}

	l.root = root
	return nil
}

// Revision returns the ACPI revision reported by the RSDP.
func (l *Locator) Revision() uint8 {
	return l.rsdp.Revision
}

// RootTable returns the XSDT or RSDT selected by Init.
func (l *Locator) RootTable() *table.Table {
	return l.root
}

// LookupTable returns the first table referenced by the root table whose
// signature matches sig and whose checksum is valid. Tables with a bad
// checksum are logged and skipped. LookupTable returns nil if no table
// matches.
func (l *Locator) LookupTable(sig string) *table.Table {
	for i, count := 0, l.entryCount(); i < count; i++ {
		tbl, ok := l.readTable(l.entry(i))
		if !ok || tbl.Signature() != sig {
			continue
		}

		if !table.ValidChecksum(tbl.Data) {
			kfmt.Printf("[acpi] %s at 0x%16x %6x [checksum mismatch; skipping]\n",
				tbl.Signature(),
				tbl.PhysAddr,
				tbl.Length,
			)
			continue
		}

		return tbl
	}

	return nil
}

// EnumerateTables returns every valid table referenced by the root table in
// the order they appear. Besides the tables listed in the root table, the
// FADT (if found) is inspected for the address of the DSDT. When more than
// one valid table shares a signature only the first one is returned. Tables
// that fail validation are reported to w and skipped.
func (l *Locator) EnumerateTables(w io.Writer) []*table.Table {
	var tables []*table.Table

	add := func(tbl *table.Table, ok bool) bool {
		if !ok {
			return false
		}

		if !table.ValidChecksum(tbl.Data) {
			kfmt.Fprintf(w, "%s at 0x%16x %6x [checksum mismatch; skipping]\n",
				tbl.Signature(),
				tbl.PhysAddr,
				tbl.Length,
			)
			return false
		}

		for _, existing := range tables {
			if existing.Signature() == tbl.Signature() {
				return false
			}
		}

		tables = append(tables, tbl)
		return true
	}

	for i, count := 0, l.entryCount(); i < count; i++ {
		tbl, ok := l.readTable(l.entry(i))
		if !add(tbl, ok) || tbl.Signature() != fadtSignature {
			continue
		}

		// The FADT allows us to lookup the DSDT table address
		fadt, ok := table.DecodeFADT(tbl.Data)
		if !ok {
			continue
		}

		dsdtAddr := uintptr(fadt.Dsdt)
		if l.rsdp.Revision >= acpiRev2Plus && fadt.XDsdt != 0 {
			dsdtAddr = uintptr(fadt.XDsdt)
		}

		if dsdtAddr != 0 {
			add(l.readTable(dsdtAddr))
		}
	}

	return tables
}

// entryCount returns the number of table pointers in the root table.
func (l *Locator) entryCount() int {
	if l.root == nil {
		return 0
	}
	return len(l.root.Payload()) / l.ptrSize
}

// entry returns the physical address stored in the i-th root table entry.
func (l *Locator) entry(i int) uintptr {
	r := table.NewReader(l.root.Payload()[i*l.ptrSize:])
	if l.ptrSize == 8 {
		return uintptr(r.Uint64())
	}
	return uintptr(r.Uint32())
}

// readTable returns a view of the table whose header is located at physAddr.
// It returns false if the table is not fully reachable through the direct
// map or its length cannot hold the standard header. The table checksum is
// not verified.
func (l *Locator) readTable(physAddr uintptr) (*table.Table, bool) {
	hdrData, ok := l.dmap.Bytes(physAddr, table.SDTHeaderSize)
	if !ok {
		return nil, false
	}

	hdr, _ := table.DecodeSDTHeader(hdrData)
	if hdr.Length < table.SDTHeaderSize {
		return nil, false
	}

	data, ok := l.dmap.Bytes(physAddr, uintptr(hdr.Length))
	if !ok {
		return nil, false
	}

	return &table.Table{SDTHeader: hdr, PhysAddr: physAddr, Data: data}, true
}
