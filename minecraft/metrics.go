package minecraft

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

const metricsInterval = 2 * time.Second

// ResourceUsage is the last sampled resource usage of the server process
type ResourceUsage struct {
	CPUPercent float64   `json:"cpu"`
	RAMMB      float64   `json:"ram"`
	SampledAt  time.Time `json:"sampledAt,omitempty"`
}

// Metrics samples the server process with gopsutil and exports Prometheus
// collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	up          prometheus.Gauge
	cpuPercent  prometheus.Gauge
	memoryBytes prometheus.Gauge
	lines       prometheus.Counter
	commands    prometheus.Counter
	forcedKills prometheus.Counter

	log *zerolog.Logger

	// samples are only recorded while running is set
	mu      sync.RWMutex
	running bool
	usage   ResourceUsage
}

func NewMetrics(reg prometheus.Registerer, log *zerolog.Logger) *Metrics {
	m := &Metrics{
		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpanel_server_up",
			Help: "Whether the Minecraft server process is running.",
		}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpanel_server_cpu_percent",
			Help: "System CPU usage sampled while the server runs.",
		}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpanel_server_memory_bytes",
			Help: "Resident memory of the server process.",
		}),
		lines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcpanel_console_lines_total",
			Help: "Console lines published to subscribers.",
		}),
		commands: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcpanel_commands_total",
			Help: "Commands written to the server console.",
		}),
		forcedKills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcpanel_forced_kills_total",
			Help: "Server processes terminated by a forced kill.",
		}),
		log: log,
	}
	if reg != nil {
		reg.MustRegister(m.up, m.cpuPercent, m.memoryBytes, m.lines, m.commands, m.forcedKills)
	}
	return m
}

func (m *Metrics) setUp(up bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = up
	if up {
		m.up.Set(1)
		return
	}
	m.up.Set(0)
	m.cpuPercent.Set(0)
	m.memoryBytes.Set(0)
	m.usage = ResourceUsage{}
}

func (m *Metrics) consoleLine() {
	if m == nil {
		return
	}
	m.lines.Inc()
}

func (m *Metrics) command() {
	if m == nil {
		return
	}
	m.commands.Inc()
}

func (m *Metrics) forcedKill() {
	if m == nil {
		return
	}
	m.forcedKills.Inc()
}

// Usage returns the latest sample
func (m *Metrics) Usage() ResourceUsage {
	if m == nil {
		return ResourceUsage{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage
}

// Collect samples pid every two seconds until done is closed
func (m *Metrics) Collect(pid int, done <-chan struct{}) {
	if m == nil || pid == 0 {
		return
	}
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.sample(pid)
		}
	}
}

func (m *Metrics) sample(pid int) {
	// system-wide CPU, per-process RSS
	var cpuPercent float64
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil || memInfo == nil {
		if m.log != nil {
			m.log.Debug().Err(err).Int("pid", pid).Msg("failed to read process memory")
		}
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.cpuPercent.Set(cpuPercent)
	m.memoryBytes.Set(float64(memInfo.RSS))
	m.usage = ResourceUsage{
		CPUPercent: cpuPercent,
		RAMMB:      float64(memInfo.RSS) / 1024 / 1024,
		SampledAt:  time.Now(),
	}
}
