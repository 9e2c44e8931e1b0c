package table

// Sizes of the fixed ACPI structures decoded by this package.
const (
	RSDPSize           = 20
	ExtRSDPSize        = 36
	SDTHeaderSize      = 36
	GenericAddressSize = 12
	MADTHeaderSize     = SDTHeaderSize + 8
	HPETSize           = SDTHeaderSize + 20

	// fadtDsdtOffset and fadtXDsdtOffset locate the 32-bit and the ACPI
	// 2.0+ 64-bit DSDT pointers inside the FADT.
	fadtDsdtOffset  = 40
	fadtXDsdtOffset = 140
)

// RSDPSignature is the signature of the root system descriptor pointer. The
// last byte is a space.
const RSDPSignature = "RSD PTR "

// Resolver is an interface implemented by objects that can lookup an ACPI table
// by its signature.
//
// LookupTable returns the first table with a matching signature and a valid
// checksum or nil if no such table exists.
type Resolver interface {
	LookupTable(signature string) *Table
}

// Table is a validated view of an ACPI table located in physical memory.
type Table struct {
	SDTHeader

	// PhysAddr is the physical address of the table header.
	PhysAddr uintptr

	// Data holds the entire table, header included. Its length matches
	// SDTHeader.Length.
	Data []byte
}

// Signature returns the table signature as a string.
func (t *Table) Signature() string {
	return string(t.SDTHeader.Signature[:])
}

// Payload returns the table contents that follow the standard header.
func (t *Table) Payload() []byte {
	if len(t.Data) < SDTHeaderSize {
		return nil
	}
	return t.Data[SDTHeaderSize:]
}

// RSDPDescriptor defines the root system descriptor pointer for ACPI 1.0. This
// is used as the entry-point for parsing ACPI data.
type RSDPDescriptor struct {
	// The signature must contain "RSD PTR " (last byte is a space).
	Signature [8]byte

	// A value that when added to the sum of all other bytes contained in
	// this descriptor should result in the value 0.
	Checksum uint8

	OEMID [6]byte

	// ACPI revision number. It is 0 for ACPI1.0 and 2 for versions 2.0 to 6.2.
	Revision uint8

	// Physical address of 32-bit root system descriptor table.
	RSDTAddr uint32
}

// ExtRSDPDescriptor extends RSDPDescriptor with additional fields. It is used
// when RSDPDescriptor.revision > 1.
type ExtRSDPDescriptor struct {
	RSDPDescriptor

	// The size of the whole descriptor.
	Length uint32

	// Physical address of 64-bit root system descriptor table.
	XSDTAddr uint64

	// A value that when added to the sum of all other bytes contained in
	// this descriptor should result in the value 0.
	ExtendedChecksum uint8
}

// SDTHeader defines the common header for all ACPI-related tables.
type SDTHeader struct {
	// The signature defines the table type.
	Signature [4]byte

	// The length of the table
	Length uint32

	Revision uint8

	// A value that when added to the sum of all other bytes in the table
	// should result in the value 0.
	Checksum uint8

	// OEM specific information
	OEMID       [6]byte
	OEMTableID  [8]byte
	OEMRevision uint32

	// Information about the ASL compiler that generated this table
	CreatorID       uint32
	CreatorRevision uint32
}

// AddressSpace defines the location where a set of registers resides.
type AddressSpace uint8

// The list of supported address space types.
const (
	AddressSpaceSysMemory AddressSpace = iota
	AddressSpaceSysIO
	AddressSpacePCI
	AddressSpaceEmbController
	AddressSpaceSMBus
	AddressSpaceFuncFixedHW = 0x7f
)

// GenericAddress specifies a register range located in a particular address
// space.
type GenericAddress struct {
	Space      AddressSpace
	BitWidth   uint8
	BitOffset  uint8
	AccessSize uint8
	Address    uint64
}

// FADT (Fixed ACPI Description Table) is an ACPI table containing information
// about fixed register blocks used for power management. Only the fields
// needed to locate the DSDT are decoded.
type FADT struct {
	SDTHeader

	FirmwareCtrl uint32
	Dsdt         uint32

	// XDsdt is the 64-bit DSDT pointer used by ACPI 2.0+. It is 0 when
	// the table is too short to contain it.
	XDsdt uint64
}

// MADT (Multiple APIC Description Table) is an ACPI table containing
// information about the interrupt controllers and the number of installed
// CPUs. Following the table header are a series of variable sized records
// (MADTEntry) which contain additional information.
type MADT struct {
	SDTHeader

	LocalControllerAddress uint32
	Flags                  uint32
}

// MADTFlagPCATCompat is set in MADT.Flags when the system also has a PC-AT
// compatible dual 8259 setup.
const MADTFlagPCATCompat = 1 << 0

// MADTEntryType describes the type of a MADT record.
type MADTEntryType uint8

// The list of supported MADT entry types.
const (
	MADTEntryTypeLocalAPIC MADTEntryType = iota
	MADTEntryTypeIOAPIC
	MADTEntryTypeIntSrcOverride
	MADTEntryTypeNMISource
	MADTEntryTypeLocalAPICNMI
	MADTEntryTypeLocalAPICAddrOverride
)

// Minimum record lengths for the supported MADT entry types.
const (
	MADTEntryHeaderSize                = 2
	MADTEntryLocalAPICSize             = 8
	MADTEntryIOAPICSize                = 12
	MADTEntryIntSrcOverrideSize        = 10
	MADTEntryLocalAPICNMISize          = 6
	MADTEntryLocalAPICAddrOverrideSize = 12
)

// MADTLocalAPICEnabled is set in MADTEntryLocalAPIC.Flags when the processor
// is usable.
const MADTLocalAPICEnabled = 1 << 0

// MADTEntry describes a MADT table entry header. As MADT entries are variable
// sized records, the consumer must check the type value before decoding the
// record contents.
type MADTEntry struct {
	Type   MADTEntryType
	Length uint8
}

// MADTEntryLocalAPIC describes a single physical processor and its local
// interrupt controller.
type MADTEntryLocalAPIC struct {
	ProcessorID uint8
	APICID      uint8
	Flags       uint32
}

// MADTEntryIOAPIC describes an I/O Advanced Programmable Interrupt Controller.
type MADTEntryIOAPIC struct {
	APICID uint8

	// Address contains the address of the controller.
	Address uint32

	// SysInterruptBase defines the first interrupt number that this
	// controller handles.
	SysInterruptBase uint32
}

// MADTEntryInterruptSrcOverride contains the data for an Interrupt Source
// Override.  This mechanism is used to map IRQ sources to global system
// interrupts.
type MADTEntryInterruptSrcOverride struct {
	BusSrc          uint8
	IRQSrc          uint8
	GlobalInterrupt uint32
	Flags           uint16
}

// MADTEntryNMI describes a non-maskable interrupt that we need to set up for
// a single processor or all processors.
type MADTEntryNMI struct {
	// Processor specifies the local APIC that we need to configure for
	// this NMI. If set to 0xff we need to configure all processor APICs.
	Processor uint8

	Flags uint16

	// This value will be either 0 or 1 and specifies which entry in the
	// local vector table of the processor's local APIC we need to setup.
	LINT uint8
}

// MADTEntryLocalAPICAddrOverride provides the 64-bit physical address of the
// local APIC and supersedes MADT.LocalControllerAddress.
type MADTEntryLocalAPICAddrOverride struct {
	Address uint64
}

// HPET (High Precision Event Timer) describes the event timer block of the
// system.
type HPET struct {
	SDTHeader

	EventTimerBlockID uint32
	Address           GenericAddress
	Number            uint8
	MinimumTick       uint16
	PageProtection    uint8
}
