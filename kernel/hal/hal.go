// Package hal probes for the hardware supported by the registered device
// drivers and keeps track of the drivers that were initialized.
package hal

import (
	"bytes"
	"io"
	"sort"

	"wiredos/boot"
	"wiredos/device"
	"wiredos/kernel"
	"wiredos/kernel/kfmt"
	"wiredos/kernel/mm"
)

var (
	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver

	strBuf bytes.Buffer

	// driverListFn is used by tests to override calls to device.DriverList.
	driverListFn = device.DriverList
)

// printfWriter forwards writes to kfmt.Printf so driver output ends up in
// the early ring buffer when no output sink has been set up yet.
type printfWriter struct{}

func (printfWriter) Write(p []byte) (int, error) {
	kfmt.Printf("%s", p)
	return len(p), nil
}

// ActiveDrivers returns the drivers that were successfully initialized by
// DetectHardware.
func ActiveDrivers() []device.Driver {
	return activeDrivers
}

// DetectHardware probes for hardware devices and initializes the appropriate
// drivers. It returns an error if a probe function reports that a device
// required for booting is present but unusable.
func DetectHardware(info *boot.Info, dmap *mm.DirectMap) *kernel.Error {
	// Get driver list and sort by detection priority
	drivers := driverListFn()
	sort.Sort(drivers)

	return probe(drivers, info, dmap)
}

// probe executes the probe function for each driver and initializes the
// drivers it returns. Driver output is tagged with the driver name and
// version.
func probe(driverInfoList device.DriverInfoList, info *boot.Info, dmap *mm.DirectMap) *kernel.Error {
	var sink io.Writer = kfmt.GetOutputSink()
	if sink == nil {
		sink = printfWriter{}
	}

	w := kfmt.PrefixWriter{Sink: sink}

	for _, drvInfo := range driverInfoList {
		drv, err := drvInfo.Probe(info, dmap)
		if err != nil {
			return err
		}

		if drv == nil {
			continue
		}

		strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()
		w.Reset()

		if err = drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		activeDrivers = append(activeDrivers, drv)
	}

	return nil
}
