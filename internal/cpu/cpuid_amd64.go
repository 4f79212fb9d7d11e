//go:build amd64 && !purego

package cpu

// Native executes the CPUID instruction with the given leaf (EAX) and
// sub-leaf (ECX) inputs. Implemented in cpuid_amd64.s
//
//go:noescape
func Native(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)
