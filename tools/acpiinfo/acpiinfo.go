package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"wiredos/device/acpi"
	"wiredos/device/acpi/table"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[acpiinfo] error: %s\n", err.Error())
	os.Exit(1)
}

// dirResolver looks up ACPI tables dumped into a directory where each file is
// named after the table signature (e.g. /sys/firmware/acpi/tables).
type dirResolver struct {
	dir string
	w   io.Writer
}

// LookupTable implements table.Resolver.
func (r *dirResolver) LookupTable(sig string) *table.Table {
	tbl, err := readTable(filepath.Join(r.dir, sig))
	if err != nil {
		return nil
	}

	if !table.ValidChecksum(tbl.Data) {
		fmt.Fprintf(r.w, "%s: checksum mismatch; skipping\n", sig)
		return nil
	}

	return tbl
}

// readTable loads a table dump and checks that it holds a complete table.
func readTable(path string) (*table.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	hdr, ok := table.DecodeSDTHeader(data)
	if !ok || hdr.Length < table.SDTHeaderSize || int(hdr.Length) > len(data) {
		return nil, fmt.Errorf("%s: truncated table", path)
	}

	return &table.Table{SDTHeader: hdr, Data: data[:hdr.Length]}, nil
}

// listTables prints the header of every table dump found in dir.
func listTables(w io.Writer, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		tbl, err := readTable(filepath.Join(dir, name))
		if err != nil {
			fmt.Fprintf(w, "%-8s %v\n", name, err)
			continue
		}

		status := "ok"
		if !table.ValidChecksum(tbl.Data) {
			status = "checksum mismatch"
		}

		fmt.Fprintf(w, "%-8s %s rev %d, %6d bytes (%6s %8s) %s\n",
			name,
			tbl.Signature(),
			tbl.Revision,
			tbl.Length,
			tbl.OEMID[:],
			tbl.OEMTableID[:],
			status,
		)
	}

	return nil
}

func runTool(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("acpiinfo", flag.ContinueOnError)
	dir := fs.String("dir", "/sys/firmware/acpi/tables", "the directory containing the ACPI table dumps")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), "acpiinfo: decode the interrupt controller and timer tables of a system\n\n")
		fmt.Fprint(fs.Output(), "Usage: acpiinfo [options]\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := listTables(w, *dir); err != nil {
		return err
	}

	var info acpi.PlatformInfo
	acpi.Discover(&dirResolver{dir: *dir, w: w}, &info, w)
	acpi.PrintPlatformInfo(w, &info)
	return nil
}

func main() {
	if err := runTool(os.Stdout, os.Args[1:]); err != nil {
		exit(err)
	}
}
