package admission

import (
	"testing"
	"time"
)

type fakeSampler struct {
	memPct, cpuPct float64
}

func (f fakeSampler) Sample() (float64, float64, error) { return f.memPct, f.cpuPct, nil }

func newTestController(t *testing.T, cfg Config, mem, cpuPct float64) *Controller {
	t.Helper()
	c := &Controller{cfg: cfg, sampler: fakeSampler{memPct: mem, cpuPct: cpuPct}, stop: make(chan struct{})}
	c.sampleOnce()
	t.Cleanup(c.Stop)
	return c
}

func TestController_AcceptsBelowThresholds(t *testing.T) {
	t.Parallel()
	c := newTestController(t, DefaultConfig(), 10, 10)
	d := c.Check(5, 1000, 1, 5)
	if !d.Accepted {
		t.Fatalf("expected accept, got reject reason %q", d.Reason)
	}
}

func TestController_RejectsOnMemory(t *testing.T) {
	t.Parallel()
	c := newTestController(t, DefaultConfig(), 95, 10)
	d := c.Check(5, 1000, 1, 5)
	if d.Accepted || d.Reason != RejectMemory {
		t.Fatalf("got %+v, want memory rejection", d)
	}
}

func TestController_RejectsOnQueueFill(t *testing.T) {
	t.Parallel()
	c := newTestController(t, DefaultConfig(), 10, 10)
	d := c.Check(950, 1000, 1, 5)
	if d.Accepted || d.Reason != RejectQueue {
		t.Fatalf("got %+v, want queue rejection", d)
	}
}

func TestController_LoadSheddingHysteresis(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.ShedStartPressure = 50
	cfg.ShedStopPressure = 30
	c := newTestController(t, cfg, 60, 60) // pressure=60 >= start(50)

	low := c.Check(0, 1000, 0, 1)
	if low.Accepted || low.Reason != RejectLoadShed {
		t.Fatalf("got %+v, want load-shed rejection for low priority", low)
	}
	high := c.Check(0, 1000, 0, cfg.DefaultPriority)
	if !high.Accepted {
		t.Fatalf("got %+v, want accept for default-priority request", high)
	}

	// Pressure drops but stays above stop threshold: shedding still active.
	c.sampler = fakeSampler{memPct: 35, cpuPct: 35}
	c.sampleOnce()
	still := c.Check(0, 1000, 0, 1)
	if still.Accepted {
		t.Fatal("expected shedding to remain active above stop threshold")
	}

	// Pressure drops below stop threshold: shedding clears.
	c.sampler = fakeSampler{memPct: 10, cpuPct: 10}
	c.sampleOnce()
	time.Sleep(time.Millisecond)
	cleared := c.Check(0, 1000, 0, 1)
	if !cleared.Accepted {
		t.Fatal("expected shedding to clear below stop threshold")
	}
}
