// Package admission implements system-pressure admission control: the gate
// a query submission passes through before it is allowed to occupy a queue
// slot, based on live memory/CPU sampling and queue fill.
package admission

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// RejectReason is the closed set of admission-rejection causes.
type RejectReason string

const (
	RejectNone      RejectReason = ""
	RejectMemory    RejectReason = "memory"
	RejectCPU       RejectReason = "cpu"
	RejectQueue     RejectReason = "queue_full"
	RejectLoadShed  RejectReason = "load_shed"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Accepted bool
	Reason   RejectReason
	Message  string
}

// Config holds tunable admission thresholds. All percentages are in [0,100].
type Config struct {
	MemoryThreshold     float64
	CPUThreshold        float64
	QueueThreshold      float64
	CheckInterval       time.Duration
	LoadSheddingEnabled bool
	ShedStartPressure   float64
	ShedStopPressure    float64
	DefaultPriority     int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MemoryThreshold:     90,
		CPUThreshold:        90,
		QueueThreshold:      90,
		CheckInterval:       5 * time.Second,
		LoadSheddingEnabled: true,
		ShedStartPressure:   80,
		ShedStopPressure:    60,
		DefaultPriority:     5,
	}
}

// sampler abstracts the gopsutil calls so tests can inject synthetic
// pressure without touching the real host.
type sampler interface {
	Sample() (memPercent, cpuPercent float64, err error)
}

type hostSampler struct{}

func (hostSampler) Sample() (float64, float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return vm.UsedPercent, 0, err
	}
	return vm.UsedPercent, percents[0], nil
}

// Controller is the admission gate. It polls host memory/CPU on a background
// ticker (CheckInterval) rather than on every request, so admission checks
// are cheap reads of a cached snapshot.
type Controller struct {
	cfg     Config
	sampler sampler

	mu        sync.RWMutex
	memPct    float64
	cpuPct    float64
	shedding  bool
	lastCheck time.Time

	stop chan struct{}
}

// NewController constructs a Controller and starts its background sampler.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg, sampler: hostSampler{}, stop: make(chan struct{})}
	c.sampleOnce()
	go c.run()
	return c
}

func (c *Controller) run() {
	interval := c.cfg.CheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sampleOnce()
		case <-c.stop:
			return
		}
	}
}

func (c *Controller) sampleOnce() {
	memPct, cpuPct, err := c.sampler.Sample()
	if err != nil {
		return
	}
	c.mu.Lock()
	c.memPct = memPct
	c.cpuPct = cpuPct
	c.lastCheck = time.Now()

	pressure := pressureScore(memPct, cpuPct)
	if c.cfg.LoadSheddingEnabled {
		if !c.shedding && pressure >= c.cfg.ShedStartPressure {
			c.shedding = true
		} else if c.shedding && pressure < c.cfg.ShedStopPressure {
			c.shedding = false
		}
	}
	c.mu.Unlock()
}

// pressureScore combines memory and CPU usage into a single [0,100] figure.
// The exact weighting is environment-tunable; this implementation weights
// memory and CPU equally.
func pressureScore(memPct, cpuPct float64) float64 {
	return (memPct + cpuPct) / 2
}

// Stop halts the background sampler.
func (c *Controller) Stop() { close(c.stop) }

// Check evaluates admission for a submission given current queue depth and
// the submission's priority.
func (c *Controller) Check(queueDepth, maxQueueSize, activeQueries, priority int) Decision {
	c.mu.RLock()
	memPct, cpuPct := c.memPct, c.cpuPct
	shedding := c.shedding
	c.mu.RUnlock()

	if memPct >= c.cfg.MemoryThreshold {
		return Decision{Reason: RejectMemory, Message: "system memory pressure too high"}
	}
	if cpuPct >= c.cfg.CPUThreshold {
		return Decision{Reason: RejectCPU, Message: "system CPU pressure too high"}
	}

	var queueFill float64
	if maxQueueSize > 0 {
		queueFill = float64(queueDepth) / float64(maxQueueSize) * 100
	}
	if queueFill >= c.cfg.QueueThreshold {
		return Decision{Reason: RejectQueue, Message: "query queue nearly full"}
	}

	if shedding && priority < c.cfg.DefaultPriority {
		return Decision{Reason: RejectLoadShed, Message: "load shedding low-priority request"}
	}

	return Decision{Accepted: true}
}

// Snapshot exposes the current sampled state for status endpoints.
func (c *Controller) Snapshot() (memPct, cpuPct float64, shedding bool, lastCheck time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.memPct, c.cpuPct, c.shedding, c.lastCheck
}
