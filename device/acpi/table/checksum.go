package table

// Checksum returns the sum of all bytes in b modulo 256.
func Checksum(b []byte) uint8 {
	var sum uint8
	for _, v := range b {
		sum += v
	}

	return sum
}

// ValidChecksum returns true if the bytes in b add up to zero. ACPI structures
// carry a checksum byte which is chosen so that this condition holds for the
// entire structure.
func ValidChecksum(b []byte) bool {
	return Checksum(b) == 0
}
