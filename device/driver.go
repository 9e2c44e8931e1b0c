// Package device defines the driver interface and the registry that the HAL
// uses to probe for hardware.
package device

import (
	"io"

	"wiredos/boot"
	"wiredos/kernel"
	"wiredos/kernel/mm"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it. Probe functions receive the
// bootloader hand-off and the direct map through which physical memory can be
// accessed.
//
// A nil Driver with a nil error means that the hardware is not present. A
// non-nil error means that the hardware is present but unusable and that
// the system cannot continue booting.
type ProbeFn func(info *boot.Info, dmap *mm.DirectMap) (Driver, *kernel.Error)

// DetectOrder specifies when each driver's probe function will be invoked
// by the hal package.
type DetectOrder int8

// The list of supported detection orders.
const (
	// DetectOrderEarly specifies that the driver must be probed before
	// any other driver.
	DetectOrderEarly DetectOrder = -128

	// DetectOrderBeforeACPI specifies that the driver must be probed
	// before the ACPI driver.
	DetectOrderBeforeACPI DetectOrder = -127

	// DetectOrderACPI specifies the probe order for the ACPI driver.
	DetectOrderACPI DetectOrder = 0

	// DetectOrderLast specifies that the driver must be probed after all
	// other drivers.
	DetectOrderLast DetectOrder = 127
)

// DriverInfo is a driver-defined struct that is passed to calls to
// RegisterDriver.
type DriverInfo struct {
	// Order specifies at which stage of the HW detection step should
	// the probe function be invoked.
	Order DetectOrder

	// Probe is a function that checks for the presence of a particular
	// piece of hardware and returns a driver for it.
	Probe ProbeFn
}

// DriverInfoList is a list of registered drivers that implements
// sort.Interface.
type DriverInfoList []*DriverInfo

// Len returns the length of the driver info list.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 elements in the driver info list.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less compares 2 elements of the driver info list.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

var (
	// registeredDrivers tracks the drivers registered via RegisterDriver.
	registeredDrivers DriverInfoList
)

// RegisterDriver adds the supplied driver info to the list of drivers that
// the HAL will probe.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}
