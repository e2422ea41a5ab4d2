package agent

import (
	"testing"

	"canopy/internal/actionbus"
	"canopy/internal/contexttape"
	"canopy/internal/limiter"
	"canopy/internal/transport"
)

func newTestPool(t *testing.T, ephemeralCap int) *Pool {
	t.Helper()
	bus := actionbus.New()
	tape := contexttape.New()
	emit := func(tag transport.OutboundTag, payload any) {}
	return New(bus, tape, emit, newMemThreadStore(), limiter.NewSemaphore(ephemeralCap), nil)
}

func TestCreateMainAgentAssignsMonitorZero(t *testing.T) {
	p := newTestPool(t, 1)
	s := p.CreateMainAgent(&fakeProvider{})
	if s == nil {
		t.Fatal("CreateMainAgent returned nil")
	}
	if !p.HasMainAgent("monitor-0") {
		t.Error("HasMainAgent(monitor-0) = false")
	}
}

func TestCreateMonitorAgentCapsAtFour(t *testing.T) {
	p := newTestPool(t, 1)
	p.CreateMainAgent(&fakeProvider{}) // monitor-0

	for i, id := range []string{"monitor-1", "monitor-2", "monitor-3"} {
		if s := p.CreateMonitorAgent(id, &fakeProvider{}); s == nil {
			t.Fatalf("CreateMonitorAgent(%s) (#%d) returned nil, want a new agent", id, i)
		}
	}

	if s := p.CreateMonitorAgent("monitor-4", &fakeProvider{}); s != nil {
		t.Error("CreateMonitorAgent beyond cap should return nil")
	}
}

func TestCreateMonitorAgentIsIdempotentPerID(t *testing.T) {
	p := newTestPool(t, 1)
	first := p.CreateMonitorAgent("monitor-1", &fakeProvider{})
	second := p.CreateMonitorAgent("monitor-1", &fakeProvider{})
	if first != second {
		t.Error("calling CreateMonitorAgent twice for the same id should return the same agent")
	}
}

func TestGetOrCreateWindowAgentIsLazyAndStable(t *testing.T) {
	p := newTestPool(t, 1)
	a := p.GetOrCreateWindowAgent("w1", &fakeProvider{})
	b := p.GetOrCreateWindowAgent("w1", &fakeProvider{})
	if a != b {
		t.Error("GetOrCreateWindowAgent should return the same instance for the same key")
	}
}

func TestDisposeWindowAgentRemovesIt(t *testing.T) {
	p := newTestPool(t, 1)
	orig := p.GetOrCreateWindowAgent("w1", &fakeProvider{})
	p.DisposeWindowAgent("w1")

	a := p.GetOrCreateWindowAgent("w1", &fakeProvider{})
	if a == orig {
		t.Error("after DisposeWindowAgent, GetOrCreateWindowAgent should create a new agent")
	}
	b := p.GetOrCreateWindowAgent("w1", &fakeProvider{})
	if a != b {
		t.Error("post-dispose recreation should still be stable")
	}
}

func TestCreateEphemeralRespectsLimiter(t *testing.T) {
	p := newTestPool(t, 1)
	first := p.CreateEphemeral(&fakeProvider{})
	if first == nil {
		t.Fatal("expected first ephemeral to be granted")
	}
	if second := p.CreateEphemeral(&fakeProvider{}); second != nil {
		t.Error("expected second ephemeral to be denied while limiter is exhausted")
	}

	p.DisposeEphemeral(first)
	if third := p.CreateEphemeral(&fakeProvider{}); third == nil {
		t.Error("expected ephemeral slot to be available after dispose")
	}
}

func TestInterruptAllStopsEveryAgent(t *testing.T) {
	p := newTestPool(t, 1)
	p.CreateMainAgent(&fakeProvider{})
	p.GetOrCreateWindowAgent("w1", &fakeProvider{})

	p.InterruptAll() // mainly exercises that this does not panic across agent kinds
}

func TestCleanupReleasesEphemeralSlots(t *testing.T) {
	p := newTestPool(t, 1)
	p.CreateEphemeral(&fakeProvider{})
	p.Cleanup()

	if s := p.CreateEphemeral(&fakeProvider{}); s == nil {
		t.Error("expected ephemeral slot to be free again after Cleanup")
	}
}
