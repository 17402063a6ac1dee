// Package hardware describes the machine measurements run on.
package hardware

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jaypipes/ghw"
	"github.com/klauspost/cpuid/v2"
	"github.com/pbnjay/memory"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// paranoidPath holds the kernel's perf_event access level.
const paranoidPath = "/proc/sys/kernel/perf_event_paranoid"

// Info is a snapshot of host, CPU, memory and NUMA facts.
type Info struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Platform string `json:"platform"`
	Kernel   string `json:"kernel"`
	Arch     string `json:"arch"`

	CPU    CPUInfo    `json:"cpu"`
	Memory MemoryInfo `json:"memory"`
	NUMA   []NUMANode `json:"numa,omitempty"`

	// PerfParanoid is the perf_event_paranoid level, or nil when unknown.
	PerfParanoid *int `json:"perf_paranoid,omitempty"`
}

// CPUInfo describes the processor. Cache sizes are in bytes.
type CPUInfo struct {
	Brand         string   `json:"brand"`
	Vendor        string   `json:"vendor"`
	PhysicalCores int      `json:"physical_cores"`
	LogicalCores  int      `json:"logical_cores"`
	Hz            int64    `json:"hz"`
	CacheLine     int      `json:"cache_line"`
	L1D           int      `json:"l1d"`
	L1I           int      `json:"l1i"`
	L2            int      `json:"l2"`
	L3            int      `json:"l3"`
	Features      []string `json:"features,omitempty"`
}

// MemoryInfo is in bytes.
type MemoryInfo struct {
	Total     uint64 `json:"total"`
	Available uint64 `json:"available"`
}

// NUMANode is one NUMA node of the topology.
type NUMANode struct {
	ID     int      `json:"id"`
	Cores  int      `json:"cores"`
	Caches []string `json:"caches,omitempty"`
}

// Probe gathers Info. Individual sources that fail are logged and left
// empty; only context cancellation is returned as an error.
func Probe(ctx context.Context, logger *zap.Logger) (*Info, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	info := &Info{Arch: runtime.GOARCH}

	probeHost(ctx, logger, info)
	probeCPU(ctx, logger, info)
	probeMemory(ctx, logger, info)
	probeTopology(logger, info)
	info.PerfParanoid = readParanoid(paranoidPath)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return info, nil
}

func probeHost(ctx context.Context, logger *zap.Logger, info *Info) {
	h, err := host.InfoWithContext(ctx)
	if err != nil {
		logger.Debug("Host info unavailable", zap.Error(err))
		info.OS = runtime.GOOS
		return
	}
	info.Hostname = h.Hostname
	info.OS = h.OS
	info.Platform = strings.TrimSpace(h.Platform + " " + h.PlatformVersion)
	info.Kernel = h.KernelVersion
}

func probeCPU(ctx context.Context, logger *zap.Logger, info *Info) {
	c := cpuid.CPU
	info.CPU = CPUInfo{
		Brand:         c.BrandName,
		Vendor:        c.VendorString,
		PhysicalCores: c.PhysicalCores,
		LogicalCores:  c.LogicalCores,
		Hz:            c.Hz,
		CacheLine:     c.CacheLine,
		L1D:           c.Cache.L1D,
		L1I:           c.Cache.L1I,
		L2:            c.Cache.L2,
		L3:            c.Cache.L3,
		Features:      c.FeatureSet(),
	}
	sort.Strings(info.CPU.Features)

	// cpuid knows nothing on non-x86 hosts; fall back to the OS view.
	if info.CPU.Brand == "" {
		if stats, err := cpu.InfoWithContext(ctx); err == nil && len(stats) > 0 {
			info.CPU.Brand = stats[0].ModelName
			info.CPU.Vendor = stats[0].VendorID
			if info.CPU.Hz == 0 {
				info.CPU.Hz = int64(stats[0].Mhz * 1e6)
			}
		} else if err != nil {
			logger.Debug("CPU info unavailable", zap.Error(err))
		}
	}
	if info.CPU.PhysicalCores <= 0 {
		if n, err := cpu.CountsWithContext(ctx, false); err == nil {
			info.CPU.PhysicalCores = n
		}
	}
	if info.CPU.LogicalCores <= 0 {
		if n, err := cpu.CountsWithContext(ctx, true); err == nil {
			info.CPU.LogicalCores = n
		} else {
			info.CPU.LogicalCores = runtime.NumCPU()
		}
	}
}

func probeMemory(ctx context.Context, logger *zap.Logger, info *Info) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil && vm.Total > 0 {
		info.Memory = MemoryInfo{Total: vm.Total, Available: vm.Available}
		return
	}
	if err != nil {
		logger.Debug("Virtual memory stats unavailable", zap.Error(err))
	}
	info.Memory.Total = memory.TotalMemory()
}

func probeTopology(logger *zap.Logger, info *Info) {
	topo, err := ghw.Topology(ghw.WithDisableWarnings())
	if err != nil {
		logger.Debug("NUMA topology unavailable", zap.Error(err))
		return
	}

	for _, node := range topo.Nodes {
		n := NUMANode{ID: node.ID, Cores: len(node.Cores)}
		for _, cache := range node.Caches {
			n.Caches = append(n.Caches, fmt.Sprintf("L%d %s %s",
				cache.Level, strings.ToLower(cache.Type.String()), humanize.IBytes(cache.SizeBytes)))
		}
		info.NUMA = append(info.NUMA, n)
	}
	sort.Slice(info.NUMA, func(i, j int) bool { return info.NUMA[i].ID < info.NUMA[j].ID })
}

func readParanoid(path string) *int {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	level, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil
	}
	return &level
}

// Write prints a human-readable summary of info.
func (info *Info) Write(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Host:        %s (%s %s, kernel %s, %s)\n", info.Hostname, info.OS, info.Platform, info.Kernel, info.Arch)
	fmt.Fprintf(&b, "CPU:         %s\n", info.CPU.Brand)
	fmt.Fprintf(&b, "Cores:       %d physical, %d logical\n", info.CPU.PhysicalCores, info.CPU.LogicalCores)
	if info.CPU.Hz > 0 {
		fmt.Fprintf(&b, "Frequency:   %s\n", humanize.SIWithDigits(float64(info.CPU.Hz), 2, "Hz"))
	}
	fmt.Fprintf(&b, "Caches:      L1d %s, L1i %s, L2 %s, L3 %s, line %dB\n",
		cacheSize(info.CPU.L1D), cacheSize(info.CPU.L1I), cacheSize(info.CPU.L2), cacheSize(info.CPU.L3), info.CPU.CacheLine)
	fmt.Fprintf(&b, "Memory:      %s total, %s available\n", humanize.IBytes(info.Memory.Total), humanize.IBytes(info.Memory.Available))

	for _, node := range info.NUMA {
		fmt.Fprintf(&b, "NUMA node %d: %d cores", node.ID, node.Cores)
		if len(node.Caches) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(node.Caches, ", "))
		}
		b.WriteByte('\n')
	}

	if info.PerfParanoid != nil {
		fmt.Fprintf(&b, "perf_event_paranoid: %d\n", *info.PerfParanoid)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func cacheSize(n int) string {
	if n <= 0 {
		return "n/a"
	}
	return humanize.IBytes(uint64(n))
}
