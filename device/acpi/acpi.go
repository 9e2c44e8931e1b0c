// Package acpi locates the ACPI tables handed over by the bootloader and
// decodes the interrupt controller topology (MADT) and timer (HPET)
// descriptions they contain.
package acpi

import (
	"io"

	"wiredos/boot"
	"wiredos/device"
	"wiredos/device/acpi/table"
	"wiredos/kernel"
	"wiredos/kernel/kfmt"
	"wiredos/kernel/mm"
)

const (
	madtSignature = "APIC"
	hpetSignature = "HPET"
)

var (
	// activePlatform points to the platform info of the initialized ACPI
	// driver.
	activePlatform *PlatformInfo

	// emptyPlatform is returned by Platform before the driver is
	// initialized.
	emptyPlatform PlatformInfo
)

// Platform returns the platform information collected by the ACPI driver. It
// returns a platform with no known devices if the driver has not been
// initialized.
func Platform() *PlatformInfo {
	if activePlatform == nil {
		return &emptyPlatform
	}
	return activePlatform
}

// Discover looks up the MADT and HPET tables through r and decodes them into
// info. Missing tables are reported to w.
func Discover(r table.Resolver, info *PlatformInfo, w io.Writer) {
	if madt := r.LookupTable(madtSignature); madt != nil {
		ParseMADT(madt, info, w)
	} else {
		kfmt.Fprintf(w, "[acpi] warning: no MADT found; APIC topology unknown\n")
	}

	if hpet := r.LookupTable(hpetSignature); hpet != nil {
		ParseHPET(hpet, info, w)
	} else {
		kfmt.Fprintf(w, "[acpi] no HPET table found\n")
	}
}

// PrintPlatformInfo writes a summary of info to w.
func PrintPlatformInfo(w io.Writer, info *PlatformInfo) {
	kfmt.Fprintf(w, "LAPIC at 0x%16x, legacy PICs: %t\n", info.LAPICBase(), info.LegacyPICs())
	for _, cpu := range info.CPUs() {
		kfmt.Fprintf(w, "CPU acpi id: %d, apic id: %d\n", cpu.ACPIID, cpu.APICID)
	}

	for _, ioapic := range info.IOAPICs() {
		kfmt.Fprintf(w, "IOAPIC id: %d at 0x%16x, gsi base: %d\n", ioapic.ID, ioapic.PhysAddr, ioapic.GSIBase)
	}

	for _, iso := range info.InterruptOverrides() {
		kfmt.Fprintf(w, "ISO bus: %d, irq: %d -> gsi: %d, flags: 0x%4x\n", iso.Bus, iso.IRQ, iso.GSI, iso.Flags)
	}

	for _, nmi := range info.LAPICNMIs() {
		kfmt.Fprintf(w, "LAPIC NMI acpi id: 0x%2x, lint: %d, flags: 0x%4x\n", nmi.ACPIID, nmi.LINT, nmi.Flags)
	}

	if hpet, ok := info.HPETInfo(); ok {
		kfmt.Fprintf(w, "HPET at 0x%16x, comparators: %d, min tick: %d\n", info.HPETBase(), hpet.Comparators(), hpet.MinimumTick)
	}

	kfmt.Fprintf(w, "cpus: %d, ioapics: %d, overrides: %d, nmis: %d\n",
		info.CPUCount(), info.IOAPICCount(), info.InterruptOverrideCount(), info.LAPICNMICount())
}

type acpiDriver struct {
	locator  Locator
	tables   []*table.Table
	platform PlatformInfo
}

// DriverInit initializes this driver.
func (drv *acpiDriver) DriverInit(w io.Writer) *kernel.Error {
	drv.tables = drv.locator.EnumerateTables(w)
	drv.printTableInfo(w)

	Discover(&drv.locator, &drv.platform, w)
	PrintPlatformInfo(w, &drv.platform)

	activePlatform = &drv.platform
	return nil
}

// DriverName returns the name of this driver.
func (*acpiDriver) DriverName() string {
	return "ACPI"
}

// DriverVersion returns the version of this driver.
func (*acpiDriver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

func (drv *acpiDriver) printTableInfo(w io.Writer) {
	for _, tbl := range drv.tables {
		kfmt.Fprintf(w, "%s at 0x%16x %6x (%6s %8s)\n",
			tbl.Signature(),
			tbl.PhysAddr,
			tbl.Length,
			tbl.OEMID[:],
			tbl.OEMTableID[:],
		)
	}
}

func probeForACPI(info *boot.Info, dmap *mm.DirectMap) (device.Driver, *kernel.Error) {
	drv := &acpiDriver{}
	if err := drv.locator.Init(info.RSDPAddr, dmap); err != nil {
		return nil, err
	}

	return drv, nil
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderACPI,
		Probe: probeForACPI,
	})
}
