package acpi

import "wiredos/device/acpi/table"

// Capacity limits for the records collected from the MADT. Records beyond
// these limits are dropped.
const (
	MaxCPUs               = 32
	MaxIOAPICs            = 8
	MaxInterruptOverrides = 32
	MaxLAPICNMIs          = 16
)

// CPUInfo describes an enabled processor and its local APIC.
type CPUInfo struct {
	ACPIID uint8
	APICID uint8
	Flags  uint32
}

// IOAPICInfo describes an I/O APIC and the first global system interrupt it
// serves.
type IOAPICInfo struct {
	ID       uint8
	GSIBase  uint32
	PhysAddr uint64
}

// InterruptOverride maps a bus-relative IRQ to a global system interrupt.
type InterruptOverride struct {
	Bus   uint8
	IRQ   uint8
	GSI   uint32
	Flags uint16
}

// LAPICNMI describes the local APIC input that is wired to the NMI for one
// processor (or all processors when ACPIID is 0xff).
type LAPICNMI struct {
	ACPIID uint8
	LINT   uint8
	Flags  uint16
}

// HPETInfo describes the HPET event timer block.
type HPETInfo struct {
	// BlockID is the event timer block id; it encodes the hardware
	// revision, comparator count and PCI vendor id of the timer.
	BlockID        uint32
	Number         uint8
	MinimumTick    uint16
	PageProtection uint8
	Space          table.AddressSpace
	Address        uint64
}

// Comparators returns the number of comparators in the timer block.
func (h HPETInfo) Comparators() uint8 {
	if h.BlockID == 0 {
		return 0
	}
	return uint8((h.BlockID>>8)&0x1f) + 1
}

// VendorID returns the PCI vendor id of the timer block.
func (h HPETInfo) VendorID() uint16 {
	return uint16(h.BlockID >> 16)
}

// PlatformInfo collects the interrupt controller topology and the device base
// addresses discovered in the ACPI tables. The zero value describes a
// platform with no known devices.
type PlatformInfo struct {
	lapicBase uint64
	hpetBase  uint64
	madtFlags uint32

	hpet        HPETInfo
	hpetPresent bool

	cpus      [MaxCPUs]CPUInfo
	cpuCount  int
	ioapics   [MaxIOAPICs]IOAPICInfo
	ioapicCnt int
	overrides [MaxInterruptOverrides]InterruptOverride
	isoCount  int
	nmis      [MaxLAPICNMIs]LAPICNMI
	nmiCount  int
}

// LAPICBase returns the physical address of the local APIC registers or 0 if
// it is not known.
func (p *PlatformInfo) LAPICBase() uint64 { return p.lapicBase }

// HPETBase returns the physical address of the HPET registers or 0 if the
// HPET is absent or its registers are not memory mapped.
func (p *PlatformInfo) HPETBase() uint64 { return p.hpetBase }

// HPETInfo returns the HPET description and a flag indicating whether an HPET
// table was found.
func (p *PlatformInfo) HPETInfo() (HPETInfo, bool) { return p.hpet, p.hpetPresent }

// LegacyPICs returns true if the MADT reports a PC-AT compatible dual 8259
// setup that must be masked before the APICs are used.
func (p *PlatformInfo) LegacyPICs() bool {
	return p.madtFlags&table.MADTFlagPCATCompat != 0
}

// CPUs returns the enabled processors in MADT order.
func (p *PlatformInfo) CPUs() []CPUInfo { return p.cpus[:p.cpuCount] }

// CPUCount returns the number of enabled processors.
func (p *PlatformInfo) CPUCount() int { return p.cpuCount }

// IOAPICs returns the I/O APICs in MADT order.
func (p *PlatformInfo) IOAPICs() []IOAPICInfo { return p.ioapics[:p.ioapicCnt] }

// IOAPICCount returns the number of I/O APICs.
func (p *PlatformInfo) IOAPICCount() int { return p.ioapicCnt }

// InterruptOverrides returns the interrupt source overrides in MADT order.
func (p *PlatformInfo) InterruptOverrides() []InterruptOverride {
	return p.overrides[:p.isoCount]
}

// InterruptOverrideCount returns the number of interrupt source overrides.
func (p *PlatformInfo) InterruptOverrideCount() int { return p.isoCount }

// LAPICNMIs returns the local APIC NMI descriptions in MADT order.
func (p *PlatformInfo) LAPICNMIs() []LAPICNMI { return p.nmis[:p.nmiCount] }

// LAPICNMICount returns the number of local APIC NMI descriptions.
func (p *PlatformInfo) LAPICNMICount() int { return p.nmiCount }

// IRQToGSI returns the global system interrupt that a legacy ISA IRQ is
// delivered on. IRQs without an override are identity mapped.
func (p *PlatformInfo) IRQToGSI(irq uint8) uint32 {
	for _, iso := range p.InterruptOverrides() {
		if iso.Bus == 0 && iso.IRQ == irq {
			return iso.GSI
		}
	}

	return uint32(irq)
}
