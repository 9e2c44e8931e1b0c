package table

// DecodeRSDP decodes a root system descriptor pointer. The extended fields
// are only populated when the revision is 2 or later and b is large enough to
// hold them. ok is false if b is shorter than RSDPSize.
func DecodeRSDP(b []byte) (rsdp ExtRSDPDescriptor, ok bool) {
	if len(b) < RSDPSize {
		return rsdp, false
	}

	r := NewReader(b)
	r.Bytes(rsdp.Signature[:])
	rsdp.Checksum = r.Uint8()
	r.Bytes(rsdp.OEMID[:])
	rsdp.Revision = r.Uint8()
	rsdp.RSDTAddr = r.Uint32()

	if rsdp.Revision >= 2 && len(b) >= ExtRSDPSize {
		rsdp.Length = r.Uint32()
		rsdp.XSDTAddr = r.Uint64()
		rsdp.ExtendedChecksum = r.Uint8()
	}

	return rsdp, true
}

// DecodeSDTHeader decodes the standard header shared by all ACPI tables.
func DecodeSDTHeader(b []byte) (hdr SDTHeader, ok bool) {
	if len(b) < SDTHeaderSize {
		return hdr, false
	}

	r := NewReader(b)
	decodeSDTHeader(&r, &hdr)
	return hdr, true
}

func decodeSDTHeader(r *Reader, hdr *SDTHeader) {
	r.Bytes(hdr.Signature[:])
	hdr.Length = r.Uint32()
	hdr.Revision = r.Uint8()
	hdr.Checksum = r.Uint8()
	r.Bytes(hdr.OEMID[:])
	r.Bytes(hdr.OEMTableID[:])
	hdr.OEMRevision = r.Uint32()
	hdr.CreatorID = r.Uint32()
	hdr.CreatorRevision = r.Uint32()
}

// DecodeGenericAddress decodes an ACPI generic address structure.
func DecodeGenericAddress(b []byte) (addr GenericAddress, ok bool) {
	if len(b) < GenericAddressSize {
		return addr, false
	}

	r := NewReader(b)
	decodeGenericAddress(&r, &addr)
	return addr, true
}

func decodeGenericAddress(r *Reader, addr *GenericAddress) {
	addr.Space = AddressSpace(r.Uint8())
	addr.BitWidth = r.Uint8()
	addr.BitOffset = r.Uint8()
	addr.AccessSize = r.Uint8()
	addr.Address = r.Uint64()
}

// DecodeMADTHeader decodes the fixed portion of the MADT that precedes its
// variable sized records.
func DecodeMADTHeader(b []byte) (madt MADT, ok bool) {
	if len(b) < MADTHeaderSize {
		return madt, false
	}

	r := NewReader(b)
	decodeSDTHeader(&r, &madt.SDTHeader)
	madt.LocalControllerAddress = r.Uint32()
	madt.Flags = r.Uint32()
	return madt, true
}

// DecodeHPET decodes the HPET description table.
func DecodeHPET(b []byte) (hpet HPET, ok bool) {
	if len(b) < HPETSize {
		return hpet, false
	}

	r := NewReader(b)
	decodeSDTHeader(&r, &hpet.SDTHeader)
	hpet.EventTimerBlockID = r.Uint32()
	decodeGenericAddress(&r, &hpet.Address)
	hpet.Number = r.Uint8()
	hpet.MinimumTick = r.Uint16()
	hpet.PageProtection = r.Uint8()
	return hpet, true
}

// DecodeFADT decodes the FADT fields that point to the DSDT. The 64-bit
// pointer is only decoded if b is long enough to contain it.
func DecodeFADT(b []byte) (fadt FADT, ok bool) {
	if len(b) < fadtDsdtOffset+4 {
		return fadt, false
	}

	r := NewReader(b)
	decodeSDTHeader(&r, &fadt.SDTHeader)
	fadt.FirmwareCtrl = r.Uint32()
	fadt.Dsdt = r.Uint32()

	if len(b) >= fadtXDsdtOffset+8 {
		r.Skip(fadtXDsdtOffset - r.Offset())
		fadt.XDsdt = r.Uint64()
	}

	return fadt, true
}

// DecodeMADTEntry decodes the type and length of the MADT record at the start
// of b.
func DecodeMADTEntry(b []byte) (entry MADTEntry, ok bool) {
	if len(b) < MADTEntryHeaderSize {
		return entry, false
	}

	return MADTEntry{Type: MADTEntryType(b[0]), Length: b[1]}, true
}

// DecodeMADTLocalAPIC decodes a processor local APIC record. b must contain
// the entire record including its type and length bytes.
func DecodeMADTLocalAPIC(b []byte) (entry MADTEntryLocalAPIC, ok bool) {
	if len(b) < MADTEntryLocalAPICSize {
		return entry, false
	}

	r := NewReader(b[MADTEntryHeaderSize:])
	entry.ProcessorID = r.Uint8()
	entry.APICID = r.Uint8()
	entry.Flags = r.Uint32()
	return entry, true
}

// DecodeMADTIOAPIC decodes an I/O APIC record.
func DecodeMADTIOAPIC(b []byte) (entry MADTEntryIOAPIC, ok bool) {
	if len(b) < MADTEntryIOAPICSize {
		return entry, false
	}

	r := NewReader(b[MADTEntryHeaderSize:])
	entry.APICID = r.Uint8()
	r.Skip(1)
	entry.Address = r.Uint32()
	entry.SysInterruptBase = r.Uint32()
	return entry, true
}

// DecodeMADTInterruptSrcOverride decodes an interrupt source override record.
func DecodeMADTInterruptSrcOverride(b []byte) (entry MADTEntryInterruptSrcOverride, ok bool) {
	if len(b) < MADTEntryIntSrcOverrideSize {
		return entry, false
	}

	r := NewReader(b[MADTEntryHeaderSize:])
	entry.BusSrc = r.Uint8()
	entry.IRQSrc = r.Uint8()
	entry.GlobalInterrupt = r.Uint32()
	entry.Flags = r.Uint16()
	return entry, true
}

// DecodeMADTNMI decodes a local APIC NMI record.
func DecodeMADTNMI(b []byte) (entry MADTEntryNMI, ok bool) {
	if len(b) < MADTEntryLocalAPICNMISize {
		return entry, false
	}

	r := NewReader(b[MADTEntryHeaderSize:])
	entry.Processor = r.Uint8()
	entry.Flags = r.Uint16()
	entry.LINT = r.Uint8()
	return entry, true
}

// DecodeMADTLocalAPICAddrOverride decodes a local APIC address override
// record.
func DecodeMADTLocalAPICAddrOverride(b []byte) (entry MADTEntryLocalAPICAddrOverride, ok bool) {
	if len(b) < MADTEntryLocalAPICAddrOverrideSize {
		return entry, false
	}

	r := NewReader(b[MADTEntryHeaderSize:])
	r.Skip(2)
	entry.Address = r.Uint64()
	return entry, true
}
