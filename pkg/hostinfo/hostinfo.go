// Package hostinfo snapshots the compute resources of the current host.
// Workers send a snapshot in their ready message and `ace info` prints one.
package hostinfo

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot describes a participant host. Fields that could not be probed
// are left zero.
type Snapshot struct {
	Hostname        string `cbor:"1,keyasint" json:"hostname" yaml:"hostname"`
	OS              string `cbor:"2,keyasint" json:"os" yaml:"os"`
	Platform        string `cbor:"3,keyasint" json:"platform,omitempty" yaml:"platform,omitempty"`
	PhysicalCores   int    `cbor:"4,keyasint" json:"physical_cores" yaml:"physical_cores"`
	LogicalCores    int    `cbor:"5,keyasint" json:"logical_cores" yaml:"logical_cores"`
	CPUModel        string `cbor:"6,keyasint" json:"cpu_model,omitempty" yaml:"cpu_model,omitempty"`
	MemoryTotal     uint64 `cbor:"7,keyasint" json:"memory_total" yaml:"memory_total"`
	MemoryAvailable uint64 `cbor:"8,keyasint" json:"memory_available" yaml:"memory_available"`
	ProcessRSS      uint64 `cbor:"9,keyasint" json:"process_rss" yaml:"process_rss"`
	GoVersion       string `cbor:"10,keyasint" json:"go_version" yaml:"go_version"`
}

// Collect probes the host. It never fails; probe errors leave fields unset.
func Collect(ctx context.Context) Snapshot {
	s := Snapshot{
		OS:           runtime.GOOS,
		LogicalCores: runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
	s.Hostname, _ = os.Hostname()

	if info, err := host.InfoWithContext(ctx); err == nil {
		s.Platform = info.Platform
		if s.Hostname == "" {
			s.Hostname = info.Hostname
		}
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		s.PhysicalCores = n
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		s.LogicalCores = n
	}
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		s.CPUModel = infos[0].ModelName
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryTotal = vm.Total
		s.MemoryAvailable = vm.Available
	}
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil { //nolint:gosec
		if mi, err := proc.MemoryInfoWithContext(ctx); err == nil {
			s.ProcessRSS = mi.RSS
		}
	}
	return s
}

// Threads returns the default number of concurrent block executions for
// this host.
func (s Snapshot) Threads() int {
	if s.LogicalCores > 0 {
		return s.LogicalCores
	}
	return 1
}
