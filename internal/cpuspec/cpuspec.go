// Package cpuspec picks a default inference thread count from the host CPU.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	LogicalCores     int
	PerformanceCores int
}

// GetCPUSpec inspects the running CPU
func GetCPUSpec() CPUSpec {
	return CPUSpec{
		BrandName:        cpuid.CPU.BrandName,
		LogicalCores:     cpuid.CPU.LogicalCores,
		PerformanceCores: performanceCores(cpuid.CPU.BrandName),
	}
}

// OptimalThreadCount returns the recommended number of inference threads.
// Hybrid CPUs use their performance cores only, capped at what the OS exposes.
func (c CPUSpec) OptimalThreadCount() int {
	available := runtime.NumCPU()

	if c.PerformanceCores > 0 {
		return min(c.PerformanceCores, available)
	}
	if c.LogicalCores > 0 {
		return min(c.LogicalCores, available)
	}
	return available
}

// ResolveThreads returns configured when positive, otherwise the optimal count for this host.
func ResolveThreads(configured int) int {
	if configured > 0 {
		return configured
	}
	return GetCPUSpec().OptimalThreadCount()
}

var (
	intelHybridRegex = regexp.MustCompile(`intel.*core.*i[3579]-(1[234]\d)\d{2}`)
	intelUltraRegex  = regexp.MustCompile(`intel.*core.*ultra\s+([579])\s+(?:processor\s+)?(\d{3})`)
	appleRegex       = regexp.MustCompile(`apple\s+(m[1-4])\s*(pro|max|ultra)?`)
)

// intelPCores maps the first three model digits of 12th-14th gen desktop parts to P-core counts
var intelPCores = map[string]int{
	"129": 8, "127": 8, "126": 6, "124": 6, "121": 4,
	"139": 8, "137": 8, "136": 6, "135": 6, "134": 6, "131": 4,
	"149": 8, "147": 8, "146": 6, "144": 6, "141": 4,
}

var ultraPCores = map[string]int{
	"285": 8, "265": 8, "255": 8, "235": 6, "225": 4,
}

var applePCores = map[string]int{
	"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
	"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
	"m3": 4, "m3 pro": 8, "m3 max": 12, "m3 ultra": 24,
	"m4": 6, "m4 pro": 8, "m4 max": 12,
}

// performanceCores returns the number of P-cores for known hybrid CPUs, 0 when unknown
func performanceCores(brandName string) int {
	brand := strings.ToLower(brandName)

	if m := intelHybridRegex.FindStringSubmatch(brand); m != nil {
		return intelPCores[m[1]]
	}
	if m := intelUltraRegex.FindStringSubmatch(brand); m != nil {
		return ultraPCores[m[2]]
	}
	if m := appleRegex.FindStringSubmatch(brand); m != nil {
		chip := m[1]
		if m[2] != "" {
			chip += " " + m[2]
		}
		return applePCores[chip]
	}
	return 0
}
