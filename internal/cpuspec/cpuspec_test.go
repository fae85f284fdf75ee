package cpuspec

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPerformanceCores(t *testing.T) {
	tests := []struct {
		brand string
		want  int
	}{
		{"12th Gen Intel(R) Core(TM) i9-12900K", 8},
		{"13th Gen Intel(R) Core(TM) i5-13400F", 6},
		{"Intel(R) Core(TM) i3-14100", 4},
		{"Intel(R) Core(TM) Ultra 5 225", 4},
		{"Apple M2 Max", 12},
		{"Apple M1", 4},
		{"AMD Ryzen 9 7950X 16-Core Processor", 0},
		{"Intel(R) Core(TM) i7-8700K CPU @ 3.70GHz", 0},
	}

	for _, tt := range tests {
		t.Run(tt.brand, func(t *testing.T) {
			assert.Equal(t, tt.want, performanceCores(tt.brand))
		})
	}
}

func TestOptimalThreadCount(t *testing.T) {
	available := runtime.NumCPU()

	assert.Equal(t, min(4, available), CPUSpec{PerformanceCores: 4, LogicalCores: 16}.OptimalThreadCount())
	assert.Equal(t, min(2, available), CPUSpec{LogicalCores: 2}.OptimalThreadCount())
	assert.Equal(t, available, CPUSpec{}.OptimalThreadCount())
}

func TestResolveThreads(t *testing.T) {
	assert.Equal(t, 3, ResolveThreads(3))
	assert.Positive(t, ResolveThreads(0))
}
