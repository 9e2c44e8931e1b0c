package acpi

import (
	"bytes"
	"encoding/binary"
	"testing"

	"wiredos/device/acpi/table"
	"wiredos/kernel/mm"
)

const testHHDMOffset = uintptr(0xffff800000000000)

// testFirmware lays out ACPI structures in simulated physical memory.
type testFirmware struct {
	t    *testing.T
	mem  []byte
	dmap *mm.DirectMap
	next uintptr
}

func newTestFirmware(t *testing.T) *testFirmware {
	mem := make([]byte, 64*mm.Kb)
	return &testFirmware{
		t:    t,
		mem:  mem,
		dmap: mm.NewDirectMap(testHHDMOffset, mem),
		next: 0x1000,
	}
}

// place copies b to the next 16-byte aligned free physical address and
// returns that address.
func (fw *testFirmware) place(b []byte) uintptr {
	addr := fw.next
	if int(addr)+len(b) > len(fw.mem) {
		fw.t.Fatalf("test firmware out of space placing %d bytes", len(b))
	}

	copy(fw.mem[addr:], b)
	fw.next = (addr + uintptr(len(b)) + 15) &^ 15
	return addr
}

func encode(t *testing.T, values ...interface{}) []byte {
	var buf bytes.Buffer
	for _, v := range values {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

// makeSDT returns a table with the given signature followed by payload. The
// length and checksum fields are patched to match the encoded contents.
func makeSDT(t *testing.T, sig string, payload ...interface{}) []byte {
	hdr := table.SDTHeader{Revision: 1, OEMRevision: 1, CreatorID: 0x5452594e, CreatorRevision: 1}
	copy(hdr.Signature[:], sig)
	copy(hdr.OEMID[:], "WIRED ")
	copy(hdr.OEMTableID[:], "WIREDTBL")

	return finalizeSDT(encode(t, append([]interface{}{hdr}, payload...)...))
}

func finalizeSDT(b []byte) []byte {
	binary.LittleEndian.PutUint32(b[4:], uint32(len(b)))
	b[9] = 0
	b[9] = -table.Checksum(b)
	return b
}

// corrupt flips a payload byte so the table checksum no longer validates.
func corrupt(b []byte) []byte {
	b[len(b)-1]++
	return b
}

func buildRSDP(t *testing.T, revision uint8, rsdtAddr uint32, xsdtAddr uint64) []byte {
	desc := table.RSDPDescriptor{Revision: revision, RSDTAddr: rsdtAddr}
	copy(desc.Signature[:], table.RSDPSignature)
	copy(desc.OEMID[:], "WIRED ")

	if revision < acpiRev2Plus {
		b := encode(t, desc)
		b[8] = -table.Checksum(b)
		return b
	}

	b := encode(t, desc, uint32(table.ExtRSDPSize), xsdtAddr, uint8(0), [3]byte{})
	b[8] = -table.Checksum(b[:table.RSDPSize])
	b[32] = -table.Checksum(b)
	return b
}

// withRSDPLength overwrites the declared length of an extended RSDP and
// leaves its extended checksum stale.
func withRSDPLength(b []byte, length uint32) []byte {
	binary.LittleEndian.PutUint32(b[20:], length)
	return b
}

func buildXSDT(t *testing.T, ptrs ...uintptr) []byte {
	entries := make([]uint64, len(ptrs))
	for i, ptr := range ptrs {
		entries[i] = uint64(ptr)
	}
	return makeSDT(t, "XSDT", entries)
}

func buildRSDT(t *testing.T, ptrs ...uintptr) []byte {
	entries := make([]uint32, len(ptrs))
	for i, ptr := range ptrs {
		entries[i] = uint32(ptr)
	}
	return makeSDT(t, "RSDT", entries)
}

// buildFADT returns a FADT whose 32-bit and 64-bit DSDT pointers are set to
// the supplied values.
func buildFADT(t *testing.T, dsdt32 uint32, dsdt64 uint64) []byte {
	payload := make([]byte, 244-table.SDTHeaderSize)
	binary.LittleEndian.PutUint32(payload[40-table.SDTHeaderSize:], dsdt32)
	binary.LittleEndian.PutUint64(payload[140-table.SDTHeaderSize:], dsdt64)
	return makeSDT(t, "FACP", payload)
}

// madtRecord helpers encode individual MADT records.
func lapicRecord(t *testing.T, acpiID, apicID uint8, flags uint32) []byte {
	return encode(t, uint8(table.MADTEntryTypeLocalAPIC), uint8(8), acpiID, apicID, flags)
}

func ioapicRecord(t *testing.T, id uint8, addr, gsiBase uint32) []byte {
	return encode(t, uint8(table.MADTEntryTypeIOAPIC), uint8(12), id, uint8(0), addr, gsiBase)
}

func isoRecord(t *testing.T, bus, irq uint8, gsi uint32, flags uint16) []byte {
	return encode(t, uint8(table.MADTEntryTypeIntSrcOverride), uint8(10), bus, irq, gsi, flags)
}

func nmiRecord(t *testing.T, acpiID uint8, flags uint16, lint uint8) []byte {
	return encode(t, uint8(table.MADTEntryTypeLocalAPICNMI), uint8(6), acpiID, flags, lint)
}

func lapicOverrideRecord(t *testing.T, addr uint64) []byte {
	return encode(t, uint8(table.MADTEntryTypeLocalAPICAddrOverride), uint8(12), uint16(0), addr)
}

// buildMADT returns an APIC table with the given LAPIC base, flags and
// records.
func buildMADT(t *testing.T, lapicBase, flags uint32, records ...[]byte) []byte {
	payload := []interface{}{lapicBase, flags}
	for _, rec := range records {
		payload = append(payload, rec)
	}
	return makeSDT(t, "APIC", payload...)
}

func buildHPET(t *testing.T, space table.AddressSpace, addr uint64) []byte {
	return makeSDT(t, "HPET",
		uint32(0x8086a201),
		table.GenericAddress{Space: space, Address: addr},
		uint8(0),
		uint16(0x80),
		uint8(0),
	)
}

// tableAt wraps b in a table.Table located at physAddr.
func tableAt(physAddr uintptr, b []byte) *table.Table {
	hdr, _ := table.DecodeSDTHeader(b)
	return &table.Table{SDTHeader: hdr, PhysAddr: physAddr, Data: b}
}
