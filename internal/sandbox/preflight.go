package sandbox

import (
	"fmt"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/mem"
)

// PreflightResult is the outcome of a host resource headroom check run
// before a Sandbox enters PROVISIONING, grounded on the teacher's
// diagnostics.SafeExecutor.RunPreflight (internal/diagnostics/safe_exec.go)
// pared down to the single check this domain needs.
type PreflightResult struct {
	OK       bool
	Warnings []string
	Errors   []string
	FreeMemMB float64
}

// Preflight checks free host memory against minFreeMemoryMB before a
// container or PTY sandbox is allocated. A zero threshold disables the
// check. CPU topology from ghw is attached to warnings only; it never
// fails preflight on its own since core count is not something a retry
// changes.
func Preflight(minFreeMemoryMB int) PreflightResult {
	result := PreflightResult{OK: true}

	vm, err := mem.VirtualMemory()
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("could not read host memory stats: %v", err))
		return result
	}
	freeMB := float64(vm.Available) / 1024 / 1024
	result.FreeMemMB = freeMB

	if minFreeMemoryMB > 0 && freeMB < float64(minFreeMemoryMB) {
		result.OK = false
		result.Errors = append(result.Errors, fmt.Sprintf("insufficient free memory: %.0fMB free (minimum: %dMB)", freeMB, minFreeMemoryMB))
	} else if minFreeMemoryMB > 0 && freeMB < float64(minFreeMemoryMB)*1.5 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("memory headroom approaching limit: %.0fMB free", freeMB))
	}

	if cpuInfo, err := ghw.CPU(); err == nil && cpuInfo.TotalCores < 2 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("host has only %d CPU core(s)", cpuInfo.TotalCores))
	}

	return result
}
