// Package scheduler runs the node's duty cycle.
//
// After Setup the scheduler repeats Acquire, SyncTime, Transmit and Suspend
// until its context ends. A failure during Setup moves it to Halted, where
// the failure code is shown on the signal line and nothing else runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"weatherstation-go/readings"
	"weatherstation-go/services/notify"
	"weatherstation-go/services/power"
	"weatherstation-go/services/sensors"
	"weatherstation-go/services/status"
	"weatherstation-go/services/transport"
	"weatherstation-go/types"
	"weatherstation-go/x/mathx"
	"weatherstation-go/x/timex"
)

type State uint8

const (
	StateSetup State = iota
	StateAcquire
	StateSyncTime
	StateTransmit
	StateSuspend
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateAcquire:
		return "acquire"
	case StateSyncTime:
		return "sync-time"
	case StateTransmit:
		return "transmit"
	case StateSuspend:
		return "suspend"
	case StateHalted:
		return "halted"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Fatal codes for setup failures. Sensor codes come from the sensor itself.
const (
	CodeStore   = 1
	CodeBus     = 2
	CodeNetwork = 3
	CodeConnect = 4
	CodeClock   = 6
)

// Budget is the sleep after a cycle: target minus the time already spent,
// never below min.
func Budget(target, acquire, transmit, margin, min time.Duration) time.Duration {
	return mathx.Max(target-acquire-transmit-margin, min)
}

type Clock interface {
	Begin() error
	IsRunning() bool
	IsIndeterminate() bool
	Sync(ctx context.Context) bool
	Now() time.Time
}

type Network interface {
	transport.Link
	Begin() error
	Connect(ctx context.Context) bool
	Disconnect(ctx context.Context)
	State() types.LinkState
}

type Sender interface {
	Target() string
	Begin(link transport.Link) bool
	Send(ctx context.Context, s *readings.Snapshot) error
}

// Gate powers the shared sensor bus.
type Gate interface {
	Begin() error
	Activate() bool
	Deactivate()
}

// TestSwitch reports whether this cycle's readings go to the test database.
type TestSwitch interface {
	Test() bool
}

type Persistence interface {
	Begin() error
}

// Sensor is a reader and the pulse code shown when its setup fails.
type Sensor struct {
	Reader    sensors.Reader
	FatalCode int
}

type Config struct {
	DeviceID   string
	Version    string
	Production bool
	Interval   time.Duration
	MinDelay   time.Duration
	Margin     time.Duration
	FlushPause time.Duration
	DeepSleep  bool // only changes the log wording; Sleeper does the work
}

// Deps are the node's collaborators. Nil optional fields disable the
// matching feature: no Network skips transmission, no Gate means the bus is
// always powered, no TestSwitch derives test mode from Production.
type Deps struct {
	Notifier   *notify.Notifier
	Store      Persistence
	Network    Network
	Clock      Clock
	Gate       Gate
	Sensors    []Sensor
	Sender     func(test bool) Sender
	Reporter   status.Reporter
	TestSwitch TestSwitch
	Scan       func() []uint16 // development-time bus listing
	Sleeper    power.Sleeper
	Fallback   power.Sleeper // used when Sleeper fails, default in-process wait
	Restarter  notify.Restarter
	Now        timex.NowFunc
}

// Cycle is the outcome of one pass through Acquire, SyncTime and Transmit.
type Cycle struct {
	Test     bool
	Acquire  time.Duration
	Transmit time.Duration
	Delay    time.Duration
	Synced   bool
	Sent     bool
}

type Scheduler struct {
	cfg   Config
	d     Deps
	n     *notify.Notifier
	state State
	snap  *readings.Snapshot
	fatal *notify.FatalError
}

func New(cfg Config, d Deps) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if d.Notifier == nil {
		d.Notifier = notify.New(nil, nil, notify.Config{Production: cfg.Production})
	}
	if d.Sleeper == nil {
		d.Sleeper = power.Wait{}
	}
	if d.Fallback == nil {
		d.Fallback = power.Wait{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Scheduler{cfg: cfg, d: d, n: d.Notifier, state: StateSetup, snap: readings.New()}
}

func (s *Scheduler) State() State                 { return s.state }
func (s *Scheduler) Snapshot() *readings.Snapshot { return s.snap }

// Fatal is the failure that halted the scheduler, if any.
func (s *Scheduler) Fatal() *notify.FatalError { return s.fatal }

func (s *Scheduler) mode() string {
	if s.cfg.Production {
		return "PRODUCTION"
	}
	return "DEVELOPMENT"
}

// Setup brings the collaborators up in dependency order. On failure the
// scheduler is Halted and the failure is returned.
func (s *Scheduler) Setup(ctx context.Context) *notify.FatalError {
	s.state = StateSetup
	s.n.Info("Weather Device setup ...", notify.Str(s.mode()))

	if err := s.n.Signal().Begin(); err != nil {
		s.n.Warn("*SIGNAL: no status line", notify.Err(err))
	}
	if s.d.Store != nil {
		if err := s.d.Store.Begin(); err != nil {
			return s.halt(s.n.Fatal(CodeStore, false, "Failed: begin store", notify.Err(err)))
		}
	}
	if s.d.Network != nil {
		if err := s.d.Network.Begin(); err != nil {
			return s.halt(s.n.Fatal(CodeNetwork, false, "Failed: begin network", notify.Err(err)))
		}
	}
	if s.d.Clock != nil {
		if err := s.d.Clock.Begin(); err != nil {
			return s.halt(s.n.Fatal(CodeClock, false, "Failed: begin clock", notify.Err(err)))
		}
	}
	if s.d.Network != nil {
		if !s.d.Network.Connect(ctx) {
			return s.halt(s.n.Fatal(CodeConnect, true, "Failed: connect to network"))
		}
		if s.d.Clock != nil && s.d.Clock.IsRunning() && s.d.Clock.IsIndeterminate() {
			s.d.Clock.Sync(ctx)
		}
		s.d.Network.Disconnect(ctx)
	}

	if s.d.Gate != nil {
		if err := s.d.Gate.Begin(); err != nil {
			return s.halt(s.n.Fatal(CodeBus, false, "Failed: begin bus", notify.Err(err)))
		}
		s.d.Gate.Activate()
	}
	if !s.cfg.Production && s.d.Scan != nil {
		for _, addr := range s.d.Scan() {
			s.n.Info("*I2C: device at", notify.Str(fmt.Sprintf("0x%02x", addr)))
		}
	}
	for _, sn := range s.d.Sensors {
		if err := sn.Reader.Setup(); err != nil {
			return s.halt(s.n.Fatal(sn.FatalCode, false, "Failed to find a valid sensor:", notify.Str(sn.Reader.Label()), notify.Err(err)))
		}
	}
	s.state = StateAcquire
	return nil
}

func (s *Scheduler) halt(f *notify.FatalError) *notify.FatalError {
	s.state = StateHalted
	s.fatal = f
	return f
}

// Run performs Setup and then cycles until ctx ends. A setup failure shows
// its code until ctx ends (or the restarter takes over) and is returned.
func (s *Scheduler) Run(ctx context.Context) error {
	if f := s.Setup(ctx); f != nil {
		s.n.Lockout(ctx, f, s.d.Restarter)
		return f
	}
	for {
		c := s.RunCycle(ctx)
		if err := s.Suspend(ctx, c.Delay); err != nil {
			return err
		}
	}
}

// RunCycle acquires, syncs and transmits once and returns the computed delay.
// Failures inside a cycle are warnings; the cycle always completes.
func (s *Scheduler) RunCycle(ctx context.Context) Cycle {
	if s.state == StateHalted {
		return Cycle{}
	}
	var c Cycle
	c.Test = s.testMode()
	s.n.Info("Weather Device running ...", notify.Str(s.cfg.DeviceID+"/"+s.cfg.Version))

	c.Acquire = s.acquire()
	s.n.Info("Done getting readings from sensors ...", notify.Dur(c.Acquire))

	if s.d.Network != nil {
		c.Transmit = s.transmit(ctx, &c)
		s.n.Info("Done pushing readings to server ...", notify.Dur(c.Transmit))
	} else {
		s.n.Info("Skip pushing readings to server ...")
	}

	c.Delay = Budget(s.cfg.Interval, c.Acquire, c.Transmit, s.cfg.Margin, s.cfg.MinDelay)
	return c
}

func (s *Scheduler) testMode() bool {
	if s.d.TestSwitch != nil {
		return s.d.TestSwitch.Test()
	}
	return !s.cfg.Production
}

func (s *Scheduler) acquire() time.Duration {
	s.state = StateAcquire
	s.n.Info("Get readings from sensors ...")
	sw := timex.Start(s.d.Now)

	if s.d.Gate != nil && s.d.Gate.Activate() {
		for _, sn := range s.d.Sensors {
			if err := sn.Reader.Setup(); err != nil {
				s.n.Warn("*SENSOR: setup failed", notify.Str(sn.Reader.Label()), notify.Err(err))
			}
		}
	}

	s.snap.Clear()
	for _, sn := range s.d.Sensors {
		if err := sn.Reader.Read(s.snap); err != nil {
			s.n.Warn("*SENSOR: read failed", notify.Str(sn.Reader.Label()), notify.Err(err))
		}
	}
	if !s.cfg.Production {
		s.snap.Print(s.n.Printer())
	}

	if s.d.Gate != nil {
		s.d.Gate.Deactivate()
	}
	return sw.Elapsed()
}

func (s *Scheduler) transmit(ctx context.Context, c *Cycle) time.Duration {
	var tx Sender
	if s.d.Sender != nil {
		tx = s.d.Sender(c.Test)
		s.n.Info("Push readings to server ...", notify.Str(tx.Target()))
	}
	sw := timex.Start(s.d.Now)

	s.state = StateSyncTime
	if !s.d.Network.Connect(ctx) {
		s.n.Warn("Failed to connect to network!")
		return sw.Elapsed()
	}
	if s.d.Clock != nil {
		c.Synced = s.d.Clock.Sync(ctx)
	}

	s.state = StateTransmit
	if tx != nil {
		if !tx.Begin(s.d.Network) {
			s.n.Warn("Failed to begin transport!")
		} else if err := tx.Send(ctx, s.snap); err != nil {
			s.n.Warn("Failed to send readings!", notify.Err(err))
		} else {
			c.Sent = true
			s.n.Info("Sent readings!")
		}
	}

	if s.d.Reporter != nil {
		if err := s.d.Reporter.Report(ctx, s.report(c, sw.Elapsed())); err != nil {
			s.n.Warn("*STATUS: report failed", notify.Err(err))
		}
	}

	s.d.Network.Disconnect(ctx)
	return sw.Elapsed()
}

func (s *Scheduler) report(c *Cycle, tx time.Duration) status.Report {
	r := status.Report{
		Device:   s.cfg.DeviceID,
		Test:     c.Test,
		Readings: status.FromSnapshot(s.snap),
		Acquire:  c.Acquire,
		Transmit: tx,
		Sleep:    Budget(s.cfg.Interval, c.Acquire, tx, s.cfg.Margin, s.cfg.MinDelay),
		Sent:     c.Sent,
		Synced:   c.Synced,
		Link:     s.d.Network.State(),
	}
	if s.d.Clock != nil && !s.d.Clock.IsIndeterminate() {
		r.Time = s.d.Clock.Now()
	}
	return r
}

// Suspend waits out d after a short flush pause. A sleeper that cannot
// suspend is replaced by the fallback for this delay.
func (s *Scheduler) Suspend(ctx context.Context, d time.Duration) error {
	s.state = StateSuspend
	verb := "*Delaying for"
	if s.cfg.DeepSleep {
		verb = "*Sleeping for"
	}
	s.n.Info(verb, notify.Dur(d))
	if err := s.d.Fallback.Suspend(ctx, s.cfg.FlushPause); err != nil {
		return err
	}

	err := s.d.Sleeper.Suspend(ctx, d)
	switch {
	case err == nil, errors.Is(err, power.ErrNoRestart):
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		s.n.Warn("*POWER: suspend failed, waiting instead", notify.Err(err))
		if err := s.d.Fallback.Suspend(ctx, d); err != nil {
			return err
		}
	}
	s.state = StateAcquire
	return nil
}

// LowSwitch reads a test switch wired to pull its input line low when
// closed. A line that cannot be read counts as open.
type LowSwitch struct {
	Pin interface{ Read() (bool, error) }
}

func (s LowSwitch) Test() bool {
	high, err := s.Pin.Read()
	return err == nil && !high
}
