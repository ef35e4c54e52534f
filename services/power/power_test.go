package power

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type gatePin struct {
	level bool
	sets  int
}

func (p *gatePin) ConfigureOutput(high bool) error { p.level = high; return nil }
func (p *gatePin) Set(high bool)                   { p.level = high; p.sets++ }
func (p *gatePin) Get() bool                       { return p.level }

func TestGate(t *testing.T) {
	p := &gatePin{level: true}
	g := NewGate(p, 0)
	var slept time.Duration
	g.sleep = func(d time.Duration) { slept += d }

	if err := g.Begin(); err != nil || p.level {
		t.Fatal("Begin should leave extender off")
	}
	if !g.Activate() {
		t.Fatal("first Activate should report fresh power-up")
	}
	if slept != time.Second {
		t.Fatalf("settle got %v want 1s", slept)
	}
	if g.Activate() {
		t.Fatal("second Activate should report already on")
	}
	g.Deactivate()
	if p.level {
		t.Fatal("Deactivate left extender on")
	}

	none := NewGate(nil, 0)
	if none.Begin() != nil || none.Activate() {
		t.Fatal("pinless gate must be inert")
	}
	none.Deactivate()
}

func TestWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (Wait{}).Suspend(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
}

func TestDeep_ProgramsAlarmAndRestarts(t *testing.T) {
	dir := t.TempDir()
	alarm := filepath.Join(dir, "wakealarm")
	state := filepath.Join(dir, "state")
	restarted := false
	d := Deep{WakeAlarm: alarm, State: state, Restart: func() error { restarted = true; return nil }}

	if err := d.Suspend(context.Background(), 284500*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if b, _ := os.ReadFile(alarm); string(b) != "+285" {
		t.Fatalf("wakealarm got %q", b)
	}
	if b, _ := os.ReadFile(state); string(b) != "mem" {
		t.Fatalf("state got %q", b)
	}
	if !restarted {
		t.Fatal("no restart after resume")
	}

	d.Restart = func() error { return errors.New("exec") }
	if err := d.Suspend(context.Background(), time.Second); !errors.Is(err, ErrNoRestart) {
		t.Fatalf("got %v want ErrNoRestart", err)
	}
}

func TestDeep_Unsupported(t *testing.T) {
	d := Deep{WakeAlarm: filepath.Join(t.TempDir(), "missing", "wakealarm")}
	err := d.Suspend(context.Background(), time.Second)
	if err == nil || errors.Is(err, ErrNoRestart) {
		t.Fatalf("got %v want a setup error", err)
	}
}

func TestWatchdog_FallsBackToExit(t *testing.T) {
	code := -1
	w := Watchdog{Device: filepath.Join(t.TempDir(), "none"), Exit: func(c int) { code = c }}
	if err := w.Restart("test"); err == nil {
		t.Fatal("expected error")
	}
	if code != 70 {
		t.Fatalf("exit code got %d", code)
	}
}
