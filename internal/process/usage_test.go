package process

import (
	"context"
	"os"
	"testing"
)

func TestProcessUsageSelf(t *testing.T) {
	usage, err := ProcessUsage(context.Background(), os.Getpid())
	if err != nil {
		t.Skipf("process usage unavailable: %v", err)
	}
	if usage.RSSBytes == 0 {
		t.Error("expected non-zero RSS for the test process")
	}
}

func TestProcessUsageMissingPID(t *testing.T) {
	// PIDs are bounded well below this on Linux and macOS.
	if _, err := ProcessUsage(context.Background(), 1<<30); err == nil {
		t.Error("expected error for a PID that does not exist")
	}
}

func TestRegistryListWithUsage(t *testing.T) {
	reg := NewRegistry(testLogger())
	p := newTestPipe("busy", "sh", "-c", "trap 'exit 0' INT; while :; do sleep 0.05; done")
	reg.Add(p)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer reg.StopAll()

	infos := reg.ListWithUsage(context.Background())
	if len(infos) != 1 {
		t.Fatalf("expected 1 pipe, got %d", len(infos))
	}
	if infos[0].Usage == nil {
		t.Skip("process usage unavailable on this platform")
	}
	if infos[0].Usage.RSSBytes == 0 {
		t.Error("expected non-zero RSS for a running shell")
	}
}

func TestHostUsage(t *testing.T) {
	host, err := Host(context.Background())
	if err != nil {
		t.Skipf("host usage unavailable: %v", err)
	}
	if host.MemoryTotal == 0 {
		t.Error("expected non-zero total memory")
	}
	if host.MemoryPercent < 0 || host.MemoryPercent > 100 {
		t.Errorf("memory percent out of range: %f", host.MemoryPercent)
	}
}
