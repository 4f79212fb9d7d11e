//go:build !amd64 || purego

package cpu

// Native fallback for platforms without the CPUID instruction (or purego
// builds, where no assembly is allowed). All-zero outputs drive Detect down
// its generic paths: empty vendor, count of one, no capabilities.
func Native(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32) {
	return 0, 0, 0, 0
}
