package health

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// Snapshot is one host telemetry reading. Metrics that could not be read are
// left zero and their failures collected in Errors, so one broken probe
// never hides the rest.
type Snapshot struct {
	TakenAt     time.Time                `json:"taken_at"`
	CPUPercent  []float64                `json:"cpu_percent,omitempty"`
	Memory      *mem.VirtualMemoryStat   `json:"memory,omitempty"`
	LoadAverage *load.AvgStat            `json:"load_average,omitempty"`
	Disk        *disk.UsageStat          `json:"disk,omitempty"`
	Network     []gopsnet.IOCountersStat `json:"network,omitempty"`
	UptimeSec   uint64                   `json:"uptime_seconds,omitempty"`
	BootTime    time.Time                `json:"boot_time,omitempty"`
	Errors      []string                 `json:"errors,omitempty"`
}

// Poller refreshes a host telemetry snapshot on an interval. It runs only
// between Start and Stop; nothing outlives the handle.
type Poller struct {
	Interval time.Duration
	DiskPath string

	logger *log.Logger

	mu   sync.RWMutex
	last Snapshot

	stop context.CancelFunc
	done chan struct{}
}

func NewPoller(logger *log.Logger) *Poller {
	return &Poller{
		Interval: time.Second,
		DiskPath: "/",
		logger:   logger,
	}
}

// Start takes an initial snapshot and begins refreshing until ctx is
// canceled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.stop = cancel
	p.done = make(chan struct{})

	p.refresh(ctx)

	go func() {
		defer close(p.done)

		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.refresh(ctx)
			}
		}
	}()
}

// Stop halts polling and waits for the poll goroutine to exit. Safe to call
// more than once.
func (p *Poller) Stop() {
	if p.stop == nil {
		return
	}
	p.stop()
	<-p.done
}

// Snapshot returns the latest reading.
func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

func (p *Poller) refresh(ctx context.Context) {
	snap := take(ctx, p.DiskPath)
	if len(snap.Errors) > 0 {
		p.logger.Debug("partial telemetry reading", "errors", snap.Errors)
	}

	p.mu.Lock()
	p.last = snap
	p.mu.Unlock()
}

func take(ctx context.Context, diskPath string) Snapshot {
	snap := Snapshot{TakenAt: time.Now()}

	if pct, err := cpu.PercentWithContext(ctx, 0, true); err != nil {
		snap.Errors = append(snap.Errors, "cpu: "+err.Error())
	} else {
		snap.CPUPercent = pct
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		snap.Errors = append(snap.Errors, "memory: "+err.Error())
	} else {
		snap.Memory = vm
	}

	if avg, err := load.AvgWithContext(ctx); err != nil {
		snap.Errors = append(snap.Errors, "load: "+err.Error())
	} else {
		snap.LoadAverage = avg
	}

	if usage, err := disk.UsageWithContext(ctx, diskPath); err != nil {
		snap.Errors = append(snap.Errors, "disk: "+err.Error())
	} else {
		snap.Disk = usage
	}

	if counters, err := gopsnet.IOCountersWithContext(ctx, true); err != nil {
		snap.Errors = append(snap.Errors, "network: "+err.Error())
	} else {
		snap.Network = counters
	}

	if up, err := host.UptimeWithContext(ctx); err != nil {
		snap.Errors = append(snap.Errors, "uptime: "+err.Error())
	} else {
		snap.UptimeSec = up
	}

	if boot, err := host.BootTimeWithContext(ctx); err != nil {
		snap.Errors = append(snap.Errors, "boot time: "+err.Error())
	} else {
		snap.BootTime = time.Unix(int64(boot), 0)
	}

	return snap
}
