// Package cpu provides the processor operations used by the memory
// management code. The functions are implemented in assembly and execute
// privileged instructions, so packages that call them route the calls through
// function variables that tests can replace.
package cpu

// Halt disables interrupts and stops instruction execution. Calls to Halt
// never return.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr
