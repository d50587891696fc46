// Package monitor samples host and controller process resource usage.
package monitor

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Usage is a total/used pair in bytes.
type Usage struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
}

// Stats is one resource sample.
type Stats struct {
	CPU        float64   `json:"cpu"`
	Mem        Usage     `json:"mem"`
	Load1      float64   `json:"load1"`
	Uptime     uint64    `json:"uptime"`
	ProcessRSS uint64    `json:"process_rss"`
	ProcessCPU float64   `json:"process_cpu"`
	SampledAt  time.Time `json:"sampled_at"`
}

// StatFetcher 允许在测试中替换 gopsutil 调用。
type StatFetcher struct {
	CPUPercent    func(interval time.Duration, percpu bool) ([]float64, error)
	VirtualMemory func() (*mem.VirtualMemoryStat, error)
	LoadAvg       func() (*load.AvgStat, error)
	HostUptime    func() (uint64, error)
	ProcessRSS    func() (uint64, error)
	ProcessCPU    func() (float64, error)
}

// Monitor collects Stats. Individual probe failures leave their fields zero.
type Monitor struct {
	mu      sync.Mutex
	fetcher StatFetcher
	last    Stats
}

// New returns a monitor for the current process.
func New() *Monitor {
	var (
		once sync.Once
		self *process.Process
		err  error
	)
	proc := func() (*process.Process, error) {
		once.Do(func() { self, err = process.NewProcess(int32(os.Getpid())) })
		return self, err
	}
	return &Monitor{fetcher: StatFetcher{
		CPUPercent:    cpu.Percent,
		VirtualMemory: mem.VirtualMemory,
		LoadAvg:       load.Avg,
		HostUptime:    host.Uptime,
		ProcessRSS: func() (uint64, error) {
			p, err := proc()
			if err != nil {
				return 0, err
			}
			info, err := p.MemoryInfo()
			if err != nil {
				return 0, err
			}
			return info.RSS, nil
		},
		ProcessCPU: func() (float64, error) {
			p, err := proc()
			if err != nil {
				return 0, err
			}
			return p.CPUPercent()
		},
	}}
}

// SetFetcher sets a custom fetcher for testing.
func (m *Monitor) SetFetcher(fetcher StatFetcher) {
	m.mu.Lock()
	m.fetcher = fetcher
	m.mu.Unlock()
}

// Collect takes a new sample.
func (m *Monitor) Collect() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stat := Stats{SampledAt: time.Now()}
	if percents, err := m.fetcher.CPUPercent(0, false); err == nil && len(percents) > 0 {
		stat.CPU = percents[0]
	}
	if v, err := m.fetcher.VirtualMemory(); err == nil {
		stat.Mem = Usage{Total: v.Total, Used: v.Used}
	}
	if l, err := m.fetcher.LoadAvg(); err == nil {
		stat.Load1 = l.Load1
	}
	if u, err := m.fetcher.HostUptime(); err == nil {
		stat.Uptime = u
	}
	if rss, err := m.fetcher.ProcessRSS(); err == nil {
		stat.ProcessRSS = rss
	}
	if pct, err := m.fetcher.ProcessCPU(); err == nil {
		stat.ProcessCPU = pct
	}
	m.last = stat
	return stat
}

// Last returns the most recent sample without probing.
func (m *Monitor) Last() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
