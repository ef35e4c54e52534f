package scheduler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"weatherstation-go/errcode"
	"weatherstation-go/readings"
	"weatherstation-go/services/notify"
	"weatherstation-go/services/power"
	"weatherstation-go/services/signal"
	"weatherstation-go/services/status"
	"weatherstation-go/services/transport"
	"weatherstation-go/types"
)

// fakeTime is advanced by collaborators to simulate work.
type fakeTime struct{ t time.Time }

func (f *fakeTime) now() time.Time          { return f.t }
func (f *fakeTime) advance(d time.Duration) { f.t = f.t.Add(d) }

type trace struct{ calls []string }

func (tr *trace) add(s string)   { tr.calls = append(tr.calls, s) }
func (tr *trace) String() string { return strings.Join(tr.calls, ",") }

type fakeStore struct {
	tr  *trace
	err error
}

func (s *fakeStore) Begin() error { s.tr.add("store.begin"); return s.err }

type fakeClock struct {
	tr            *trace
	beginErr      error
	indeterminate bool
	syncOK        bool
	syncs         int
}

func (c *fakeClock) Begin() error          { c.tr.add("clock.begin"); return c.beginErr }
func (c *fakeClock) IsRunning() bool       { return true }
func (c *fakeClock) IsIndeterminate() bool { return c.indeterminate }
func (c *fakeClock) Now() time.Time        { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
func (c *fakeClock) Sync(context.Context) bool {
	c.tr.add("clock.sync")
	c.syncs++
	return c.syncOK
}

type fakeNet struct {
	tr          *trace
	clock       *fakeTime
	beginErr    error
	connectOK   []bool // per call; last value repeats
	connects    int
	disconnects int
	up          bool
}

func (n *fakeNet) Begin() error { n.tr.add("net.begin"); return n.beginErr }
func (n *fakeNet) Connect(context.Context) bool {
	n.tr.add("net.connect")
	ok := true
	if len(n.connectOK) > 0 {
		i := n.connects
		if i >= len(n.connectOK) {
			i = len(n.connectOK) - 1
		}
		ok = n.connectOK[i]
	}
	n.connects++
	if n.clock != nil {
		n.clock.advance(3 * time.Second)
	}
	n.up = ok
	return ok
}
func (n *fakeNet) Disconnect(context.Context) {
	n.tr.add("net.disconnect")
	n.disconnects++
	n.up = false
}
func (n *fakeNet) IsConnected() bool        { return n.up }
func (n *fakeNet) HTTPClient() *http.Client { return http.DefaultClient }
func (n *fakeNet) Secret() string           { return "" }
func (n *fakeNet) State() types.LinkState {
	if n.up {
		return types.LinkConnected
	}
	return types.LinkIdle
}

type fakeSender struct {
	target  string
	sendErr error
	sent    []float64
}

func (s *fakeSender) Target() string              { return s.target }
func (s *fakeSender) Begin(l transport.Link) bool { return l.IsConnected() }
func (s *fakeSender) Send(_ context.Context, snap *readings.Snapshot) error {
	if r, ok := snap.Retrieve(types.CatTemperature); ok {
		s.sent = append(s.sent, r.Value)
	}
	return s.sendErr
}

type fakeReader struct {
	tr       *trace
	clock    *fakeTime
	label    string
	value    float64
	cat      types.Category
	setupErr error
	readErr  error
	cost     time.Duration
	setups   int
	reads    int
}

func (r *fakeReader) Label() string { return r.label }
func (r *fakeReader) Setup() error {
	r.tr.add(r.label + ".setup")
	r.setups++
	return r.setupErr
}
func (r *fakeReader) Read(s *readings.Snapshot) error {
	r.reads++
	if r.clock != nil {
		r.clock.advance(r.cost)
	}
	if r.readErr != nil {
		return r.readErr
	}
	s.Store(r.value, r.cat, r.label)
	return nil
}

type fakeGate struct {
	tr      *trace
	powered bool
}

func (g *fakeGate) Begin() error { g.tr.add("gate.begin"); return nil }
func (g *fakeGate) Activate() bool {
	g.tr.add("gate.activate")
	if g.powered {
		return false
	}
	g.powered = true
	return true
}
func (g *fakeGate) Deactivate() { g.powered = false }

type fakeSleeper struct {
	err   error
	slept []time.Duration
}

func (s *fakeSleeper) Suspend(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return s.err
}

type fixedSwitch bool

func (s fixedSwitch) Test() bool { return bool(s) }

type rig struct {
	tr     *trace
	now    *fakeTime
	out    *bytes.Buffer
	store  *fakeStore
	clock  *fakeClock
	net    *fakeNet
	gate   *fakeGate
	a, b   *fakeReader
	sender map[bool]*fakeSender
	cfg    Config
	deps   Deps
}

func newRig() *rig {
	tr := &trace{}
	now := &fakeTime{t: time.Unix(1_000_000, 0)}
	r := &rig{
		tr:    tr,
		now:   now,
		out:   &bytes.Buffer{},
		store: &fakeStore{tr: tr},
		clock: &fakeClock{tr: tr, syncOK: true},
		net:   &fakeNet{tr: tr, clock: now},
		gate:  &fakeGate{tr: tr},
		a:     &fakeReader{tr: tr, clock: now, label: "A", value: 21, cat: types.CatTemperature, cost: 6 * time.Second},
		b:     &fakeReader{tr: tr, clock: now, label: "B", value: 22, cat: types.CatTemperature, cost: 6 * time.Second},
		sender: map[bool]*fakeSender{
			false: {target: "weather"},
			true:  {target: "test"},
		},
		cfg: Config{
			DeviceID:   "ws-01",
			Version:    "test",
			Production: true,
			Interval:   300 * time.Second,
			MinDelay:   60 * time.Second,
			Margin:     500 * time.Millisecond,
		},
	}
	r.deps = Deps{
		Notifier: notify.New(r.out, nil, notify.Config{}),
		Store:    r.store,
		Network:  r.net,
		Clock:    r.clock,
		Gate:     r.gate,
		Sensors:  []Sensor{{Reader: r.a, FatalCode: 11}, {Reader: r.b, FatalCode: 12}},
		Sender:   func(test bool) Sender { return r.sender[test] },
		Now:      now.now,
	}
	return r
}

func (r *rig) build() *Scheduler { return New(r.cfg, r.deps) }

func TestBudget(t *testing.T) {
	ms := time.Millisecond
	if got := Budget(300000*ms, 12000*ms, 3000*ms, 500*ms, 60000*ms); got != 284500*ms {
		t.Fatalf("got %v want 284.5s", got)
	}
	if got := Budget(300000*ms, 250000*ms, 40000*ms, 500*ms, 60000*ms); got != 60000*ms {
		t.Fatalf("got %v want 60s", got)
	}
	if got := Budget(60*time.Second, 0, 0, 0, 60*time.Second); got != 60*time.Second {
		t.Fatalf("got %v want 60s", got)
	}
}

func TestSetupOrder(t *testing.T) {
	r := newRig()
	r.clock.indeterminate = true
	s := r.build()
	if f := s.Setup(context.Background()); f != nil {
		t.Fatalf("setup: %v", f)
	}
	want := "store.begin,net.begin,clock.begin,net.connect,clock.sync,net.disconnect,gate.begin,gate.activate,A.setup,B.setup"
	if got := r.tr.String(); got != want {
		t.Fatalf("got %s\nwant %s", got, want)
	}
	if s.State() != StateAcquire {
		t.Fatalf("state %s", s.State())
	}
}

func TestSetupSkipsSyncWhenClockTrusted(t *testing.T) {
	r := newRig()
	s := r.build()
	if f := s.Setup(context.Background()); f != nil {
		t.Fatalf("setup: %v", f)
	}
	if r.clock.syncs != 0 {
		t.Fatalf("got %d syncs want 0", r.clock.syncs)
	}
}

func TestSetupFatalCodes(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name    string
		mutate  func(*rig)
		code    int
		restart bool
	}{
		{"store", func(r *rig) { r.store.err = boom }, CodeStore, false},
		{"network", func(r *rig) { r.net.beginErr = boom }, CodeNetwork, false},
		{"clock", func(r *rig) { r.clock.beginErr = boom }, CodeClock, false},
		{"connect", func(r *rig) { r.net.connectOK = []bool{false} }, CodeConnect, true},
		{"sensor", func(r *rig) { r.b.setupErr = boom }, 12, false},
	}
	for _, tc := range cases {
		r := newRig()
		tc.mutate(r)
		s := r.build()
		f := s.Setup(context.Background())
		if f == nil {
			t.Fatalf("%s: setup succeeded", tc.name)
		}
		if f.Code != tc.code || f.Restart != tc.restart {
			t.Fatalf("%s: got code %d restart %v want %d %v", tc.name, f.Code, f.Restart, tc.code, tc.restart)
		}
		if s.State() != StateHalted || s.Fatal() != f {
			t.Fatalf("%s: state %s", tc.name, s.State())
		}
		if !strings.Contains(r.out.String(), "FATAL: ") {
			t.Fatalf("%s: no fatal log in %q", tc.name, r.out.String())
		}
	}
}

func TestFatalNeverReachesAcquire(t *testing.T) {
	r := newRig()
	r.store.err = errors.New("no flash")
	s := r.build()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx)
	var f *notify.FatalError
	if !errors.As(err, &f) || f.Code != CodeStore {
		t.Fatalf("got %v want fatal %d", err, CodeStore)
	}
	if r.a.reads != 0 || r.b.reads != 0 {
		t.Fatal("sensors read after a fatal setup")
	}
	if c := s.RunCycle(context.Background()); c != (Cycle{}) {
		t.Fatalf("halted scheduler ran a cycle: %+v", c)
	}
}

type pin struct {
	mu     sync.Mutex
	level  bool
	pulses int
}

func (p *pin) ConfigureOutput(high bool) error { p.Set(high); return nil }
func (p *pin) Set(high bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if high && !p.level {
		p.pulses++
	}
	p.level = high
}
func (p *pin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

type restarter struct {
	cancel  context.CancelFunc
	reasons []string
}

func (r *restarter) Restart(reason string) error {
	r.reasons = append(r.reasons, reason)
	r.cancel()
	return nil
}

func TestConnectFatalHandsOffToRestarter(t *testing.T) {
	r := newRig()
	r.net.connectOK = []bool{false}
	p := &pin{}
	sig := signal.New(p, signal.Config{Sleep: func(time.Duration) {}})
	r.deps.Notifier = notify.New(r.out, sig, notify.Config{Repetitions: 2})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	rs := &restarter{cancel: cancel}
	r.deps.Restarter = rs

	err := r.build().Run(ctx)
	var f *notify.FatalError
	if !errors.As(err, &f) || f.Code != CodeConnect {
		t.Fatalf("got %v", err)
	}
	if len(rs.reasons) != 1 {
		t.Fatalf("got %d restarts want 1", len(rs.reasons))
	}
	// two patterns of four pulses before the handoff
	if p.pulses != 2*CodeConnect {
		t.Fatalf("got %d pulses want %d", p.pulses, 2*CodeConnect)
	}
}

func TestRunCycle(t *testing.T) {
	r := newRig()
	s := r.build()
	if f := s.Setup(context.Background()); f != nil {
		t.Fatalf("setup: %v", f)
	}
	c := s.RunCycle(context.Background())

	got, ok := s.Snapshot().Retrieve(types.CatTemperature)
	if !ok || got.Value != 21 || got.Label != "A" {
		t.Fatalf("got %+v want 21 from A", got)
	}
	if c.Acquire != 12*time.Second || c.Transmit != 3*time.Second {
		t.Fatalf("got acquire %s transmit %s", c.Acquire, c.Transmit)
	}
	if c.Delay != 284500*time.Millisecond {
		t.Fatalf("delay got %s", c.Delay)
	}
	if !c.Sent || !c.Synced || c.Test {
		t.Fatalf("cycle %+v", c)
	}
	if sent := r.sender[false].sent; len(sent) != 1 || sent[0] != 21 {
		t.Fatalf("sent %v", sent)
	}
	if r.net.disconnects != 2 {
		t.Fatalf("got %d disconnects want 2", r.net.disconnects)
	}
	if r.gate.powered {
		t.Fatal("bus left powered after acquire")
	}
}

func TestCycleFailuresAreWarnings(t *testing.T) {
	r := newRig()
	r.net.connectOK = []bool{true, false}
	s := r.build()
	if f := s.Setup(context.Background()); f != nil {
		t.Fatalf("setup: %v", f)
	}
	c := s.RunCycle(context.Background())
	if c.Sent || c.Synced {
		t.Fatalf("cycle %+v", c)
	}
	if !strings.Contains(r.out.String(), "WARN: Failed to connect to network!") {
		t.Fatalf("log %q", r.out.String())
	}
	if c.Delay != 284500*time.Millisecond {
		t.Fatalf("delay got %s", c.Delay)
	}

	r.net.connectOK = []bool{true}
	r.sender[false].sendErr = &errcode.E{C: errcode.BadStatus, Msg: "400 Bad Request"}
	r.a.readErr = errors.New("crc")
	c = s.RunCycle(context.Background())
	if c.Sent || !c.Synced {
		t.Fatalf("cycle %+v", c)
	}
	out := r.out.String()
	if !strings.Contains(out, "WARN: Failed to send readings!") || !strings.Contains(out, "WARN: *SENSOR: read failed A") {
		t.Fatalf("log %q", out)
	}
	if got, _ := s.Snapshot().Retrieve(types.CatTemperature); got.Label != "B" {
		t.Fatalf("got %+v want the value from B", got)
	}
	if r.net.up {
		t.Fatal("link left up after a failed send")
	}
}

func TestTestMode(t *testing.T) {
	r := newRig()
	r.deps.TestSwitch = fixedSwitch(true)
	s := r.build()
	s.Setup(context.Background())
	if c := s.RunCycle(context.Background()); !c.Test || len(r.sender[true].sent) != 1 || len(r.sender[false].sent) != 0 {
		t.Fatalf("switch closed: cycle %+v", c)
	}

	r = newRig()
	r.cfg.Production = false
	s = r.build()
	s.Setup(context.Background())
	if c := s.RunCycle(context.Background()); !c.Test || len(r.sender[true].sent) != 1 {
		t.Fatalf("development: cycle %+v", c)
	}
}

type lowPin struct {
	high bool
	err  error
}

func (p lowPin) Read() (bool, error) { return p.high, p.err }

func TestLowSwitch(t *testing.T) {
	if !(LowSwitch{Pin: lowPin{high: false}}).Test() {
		t.Fatal("closed switch must select test mode")
	}
	if (LowSwitch{Pin: lowPin{high: true}}).Test() {
		t.Fatal("open switch must not select test mode")
	}
	if (LowSwitch{Pin: lowPin{err: errors.New("io")}}).Test() {
		t.Fatal("unreadable switch must count as open")
	}
}

func TestNoNetworkSkipsTransmit(t *testing.T) {
	r := newRig()
	r.deps.Network = nil
	s := r.build()
	if f := s.Setup(context.Background()); f != nil {
		t.Fatalf("setup: %v", f)
	}
	c := s.RunCycle(context.Background())
	if c.Transmit != 0 || c.Sent {
		t.Fatalf("cycle %+v", c)
	}
	if c.Delay != 300*time.Second-12*time.Second-500*time.Millisecond {
		t.Fatalf("delay got %s", c.Delay)
	}
}

func TestGatePowerUpRerunsSetup(t *testing.T) {
	r := newRig()
	s := r.build()
	s.Setup(context.Background())
	s.RunCycle(context.Background())
	s.RunCycle(context.Background())
	// setup, then the second cycle: the first one left the bus powered down
	if r.a.setups != 2 {
		t.Fatalf("got %d setups want 2", r.a.setups)
	}

	r.a.setupErr = errors.New("gone")
	c := s.RunCycle(context.Background())
	if !strings.Contains(r.out.String(), "WARN: *SENSOR: setup failed A") {
		t.Fatalf("log %q", r.out.String())
	}
	if s.State() == StateHalted || c.Delay == 0 {
		t.Fatal("setup failure inside a cycle must not halt")
	}
}

type recorder struct{ reports []status.Report }

func (r *recorder) Report(_ context.Context, rep status.Report) error {
	r.reports = append(r.reports, rep)
	return errors.New("broker down")
}

func TestReporterRunsInsideLink(t *testing.T) {
	r := newRig()
	rec := &recorder{}
	r.deps.Reporter = rec
	s := r.build()
	s.Setup(context.Background())
	s.RunCycle(context.Background())
	if len(rec.reports) != 1 {
		t.Fatalf("got %d reports", len(rec.reports))
	}
	rep := rec.reports[0]
	if rep.Device != "ws-01" || rep.Link != types.LinkConnected || !rep.Sent || rep.Readings["temperature0"] != 21 {
		t.Fatalf("report %+v", rep)
	}
	if rep.Time.IsZero() {
		t.Fatal("trusted clock time missing")
	}
	if !strings.Contains(r.out.String(), "WARN: *STATUS: report failed") {
		t.Fatalf("log %q", r.out.String())
	}
}

func TestSuspend(t *testing.T) {
	r := newRig()
	sl := &fakeSleeper{}
	fb := &fakeSleeper{}
	r.cfg.FlushPause = 500 * time.Millisecond
	r.deps.Sleeper = sl
	r.deps.Fallback = fb
	s := r.build()

	if err := s.Suspend(context.Background(), time.Minute); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if len(sl.slept) != 1 || sl.slept[0] != time.Minute {
		t.Fatalf("sleeper %v", sl.slept)
	}
	if len(fb.slept) != 1 || fb.slept[0] != 500*time.Millisecond {
		t.Fatalf("fallback %v", fb.slept)
	}

	sl.err = errors.New("no rtc")
	if err := s.Suspend(context.Background(), time.Minute); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if len(fb.slept) != 3 || fb.slept[2] != time.Minute {
		t.Fatalf("fallback %v", fb.slept)
	}

	sl.err = power.ErrNoRestart
	if err := s.Suspend(context.Background(), time.Minute); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if len(fb.slept) != 4 {
		t.Fatalf("resumed sleep must not wait again: %v", fb.slept)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := newRig()
	ctx, cancel := context.WithCancel(context.Background())
	sl := &fakeSleeper{}
	r.deps.Sleeper = sleeperFunc(func(_ context.Context, d time.Duration) error {
		sl.slept = append(sl.slept, d)
		if len(sl.slept) == 3 {
			cancel()
			return context.Canceled
		}
		return nil
	})
	err := r.build().Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if len(sl.slept) != 3 || r.a.reads != 3 {
		t.Fatalf("got %d sleeps %d reads", len(sl.slept), r.a.reads)
	}
}

type sleeperFunc func(context.Context, time.Duration) error

func (f sleeperFunc) Suspend(ctx context.Context, d time.Duration) error { return f(ctx, d) }

func TestStateString(t *testing.T) {
	if StateSyncTime.String() != "sync-time" || StateHalted.String() != "halted" {
		t.Fatal("state names")
	}
}
