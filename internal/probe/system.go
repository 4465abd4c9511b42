package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/sensors"
	"k8s.io/utils/clock"
)

// Stats is the host summary shown on the dashboard.
type Stats struct {
	CPUTemp    float64   `json:"cpu_temp"`
	CPUUsage   float64   `json:"cpu_usage"`
	RAMUsage   float64   `json:"ram_usage"`
	DiskUsage  float64   `json:"disk_usage"`
	Uptime     int64     `json:"uptime"`
	HostUptime uint64    `json:"host_uptime"`
	SampledAt  time.Time `json:"sampled_at"`
}

// SystemProbe samples the host. It fails when CPU or memory cannot be read;
// disk, uptime and temperature are best effort.
type SystemProbe struct {
	name    string
	root    string
	clock   clock.PassiveClock
	started time.Time

	mu    sync.RWMutex
	stats Stats
}

// NewSystemProbe returns a probe sampling the filesystem mounted at root.
func NewSystemProbe(name, root string, clk clock.PassiveClock) *SystemProbe {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if root == "" {
		root = "/"
	}
	return &SystemProbe{name: name, root: root, clock: clk, started: clk.Now()}
}

func (p *SystemProbe) Name() string { return p.name }

func (p *SystemProbe) Check(ctx context.Context) error {
	var s Stats

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(percents) == 0 {
		return fmt.Errorf("sample cpu: %w", errOrEmpty(err))
	}
	s.CPUUsage = round1(percents[0])

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("sample memory: %w", err)
	}
	s.RAMUsage = round1(vm.UsedPercent)

	if du, err := disk.UsageWithContext(ctx, p.root); err == nil {
		s.DiskUsage = round1(du.UsedPercent)
	}
	if up, err := host.UptimeWithContext(ctx); err == nil {
		s.HostUptime = up
	}
	s.CPUTemp = cpuTemperature(ctx)

	now := p.clock.Now()
	s.Uptime = int64(now.Sub(p.started).Seconds())
	s.SampledAt = now

	p.mu.Lock()
	p.stats = s
	p.mu.Unlock()
	return nil
}

// Stats returns the last successful sample.
func (p *SystemProbe) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// cpuTemperature prefers a CPU or SoC sensor and falls back to the first one reported.
func cpuTemperature(ctx context.Context) float64 {
	temps, _ := sensors.TemperaturesWithContext(ctx)
	if len(temps) == 0 {
		return 0
	}
	for _, t := range temps {
		key := strings.ToLower(t.SensorKey)
		if strings.Contains(key, "cpu") || strings.Contains(key, "soc") || strings.Contains(key, "coretemp") {
			return round1(t.Temperature)
		}
	}
	return round1(temps[0].Temperature)
}

// NetworkProbe succeeds when at least one non-loopback interface is up with an address.
type NetworkProbe struct {
	name string
}

func NewNetworkProbe(name string) *NetworkProbe { return &NetworkProbe{name: name} }

func (p *NetworkProbe) Name() string { return p.name }

func (p *NetworkProbe) Check(ctx context.Context) error {
	ifaces, err := net.InterfacesWithContext(ctx)
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if hasFlag(iface.Flags, "loopback") || !hasFlag(iface.Flags, "up") {
			continue
		}
		if len(iface.Addrs) > 0 {
			return nil
		}
	}
	return errors.New("no network interface is up")
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func errOrEmpty(err error) error {
	if err != nil {
		return err
	}
	return errors.New("no samples")
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
