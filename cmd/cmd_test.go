package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"testing"
	"time"

	"weatherstation-go/services/clock"
	"weatherstation-go/services/config"
	"weatherstation-go/services/scheduler"
	"weatherstation-go/types"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestVersion(t *testing.T) {
	old, oldBuilt := binVersion, buildTime
	t.Cleanup(func() { binVersion, buildTime = old, oldBuilt })
	binVersion = "1.4.0"
	buildTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "Version: 1.4.0") || !strings.Contains(out, "Built: 2026-01-02T03:04:05Z") {
		t.Fatalf("got %q", out)
	}
}

type staleRTC struct{ t time.Time }

func (r staleRTC) Configure() error             { return nil }
func (r staleRTC) ReadTime() (time.Time, error) { return r.t, nil }
func (r staleRTC) SetTime(time.Time) error      { return nil }
func (r staleRTC) LostPower() (bool, error)     { return false, nil }

func TestExecuteWithoutStampKeepsClockFloor(t *testing.T) {
	oldArgs, oldVersion, oldBuilt := os.Args, binVersion, buildTime
	t.Cleanup(func() { os.Args, binVersion, buildTime = oldArgs, oldVersion, oldBuilt })
	os.Args = []string{"weathernode", "version"}

	if err := Execute("dev", ""); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if buildTime.IsZero() {
		t.Fatal("build time is zero without an ldflags stamp")
	}
	c := clock.New(clock.Config{Kind: types.ClockHardware, BuildTime: buildTime},
		staleRTC{t: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)}, nil)
	if !c.IsIndeterminate() {
		t.Fatal("stale hardware clock trusted")
	}
}

func TestResolveBuildTime(t *testing.T) {
	old := readBuildInfo
	t.Cleanup(func() { readBuildInfo = old })

	stamped := "2026-11-02T10:00:00Z"
	if got := resolveBuildTime(stamped); got.Format(time.RFC3339) != stamped {
		t.Fatalf("got %v want %s", got, stamped)
	}

	vcs := "2026-12-24T08:30:00Z"
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: []debug.BuildSetting{{Key: "vcs.time", Value: vcs}}}, true
	}
	if got := resolveBuildTime(""); got.Format(time.RFC3339) != vcs {
		t.Fatalf("got %v want %s", got, vcs)
	}
	if got := resolveBuildTime("yesterday"); got.Format(time.RFC3339) != vcs {
		t.Fatalf("unparsable stamp: got %v want %s", got, vcs)
	}

	readBuildInfo = func() (*debug.BuildInfo, bool) { return nil, false }
	if got := resolveBuildTime(""); !got.Equal(minBuildTime) {
		t.Fatalf("got %v want %v", got, minBuildTime)
	}
}

func TestValidatePrintsEffectiveConfig(t *testing.T) {
	path := writeConfig(t, "device: {id: ws-09}\nclock: {kind: soft}\n")
	out, err := run(t, "validate", "--config", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, want := range []string{"id: ws-09", "kind: soft", "interval: 1m0s", "measurement: weather"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in\n%s", want, out)
		}
	}
}

func TestValidateFails(t *testing.T) {
	path := writeConfig(t, "device: {id: ws-09}\nsensors:\n  - driver: dht22\n")
	if _, err := run(t, "validate", "--config", path); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestBuildNode(t *testing.T) {
	path := writeConfig(t, `
device: {id: ws-10, location: shed}
network: {enabled: true}
transport: {server: 127.0.0.1, database: weather}
clock: {kind: soft}
i2c: {bus: `+filepath.Join(t.TempDir(), "no-such-i2c")+`}
sensors:
  - driver: voltage
    supply: battery
  - driver: aht20
status:
  mqtt: {broker: "tcp://127.0.0.1:1"}
`)
	cfg, err := config.Load("", path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	nd, err := buildNode(cfg, io.Discard)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(nd.closer)
	if nd.sched.State() != scheduler.StateSetup {
		t.Fatalf("state %s", nd.sched.State())
	}
	if r := reporters(cfg.Status); r == nil {
		t.Fatal("mqtt reporter not wired")
	}
	if r := reporters(config.StatusConfig{}); r != nil {
		t.Fatalf("got %v want no reporter", r)
	}
}
