package agent

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

const hostGiB = float64(1 << 30)

// HostSampler reads host-side memory figures for the owning process so
// device pressure can be correlated with host pressure on the same step
// axis. Fields that cannot be read are omitted rather than reported as zero.
type HostSampler struct {
	proc *process.Process
}

// NewHostSampler binds to the current process.
func NewHostSampler() (*HostSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("agent: binding host sampler to pid %d: %w", os.Getpid(), err)
	}
	return &HostSampler{proc: proc}, nil
}

// Sample returns the current host metrics as emitter-ready fields.
func (h *HostSampler) Sample() map[string]float64 {
	out := make(map[string]float64, 3)

	if mi, err := h.proc.MemoryInfo(); err == nil {
		out["host/process_rss_gib"] = float64(mi.RSS) / hostGiB
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out["host/mem_used_pct"] = vm.UsedPercent
	}
	if cp, err := h.proc.CPUPercent(); err == nil {
		out["host/process_cpu_pct"] = cp
	}

	return out
}
