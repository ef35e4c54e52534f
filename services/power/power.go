// Package power holds the node's power-saving primitives: end-of-cycle
// suspension, the switched I2C bus extender and the restart handoff.
package power

import (
	"context"
	"errors"
	"math"
	"os"
	"strconv"
	"time"

	"weatherstation-go/errcode"
	"weatherstation-go/x/strx"
	"weatherstation-go/x/timex"
)

// Sleeper ends a cycle by waiting d. Implementations differ in power draw and
// in whether process state survives.
type Sleeper interface {
	Suspend(ctx context.Context, d time.Duration) error
}

// Wait keeps the process running and waits in place.
type Wait struct{}

func (Wait) Suspend(ctx context.Context, d time.Duration) error { return timex.Sleep(ctx, d) }

// ErrNoRestart means the system suspended and resumed but the process could
// not be restarted; the delay has already elapsed.
var ErrNoRestart = errors.New("power: resumed without restart")

const (
	DefaultWakeAlarm  = "/sys/class/rtc/rtc0/wakealarm"
	DefaultPowerState = "/sys/power/state"
)

// Deep programs the RTC wake alarm, suspends the system to RAM and then
// restarts the process from the top once the system resumes.
type Deep struct {
	WakeAlarm string
	State     string
	Restart   func() error // default re-executes the current binary
}

func (d Deep) Suspend(ctx context.Context, dur time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	alarm := strx.Coalesce(d.WakeAlarm, DefaultWakeAlarm)
	state := strx.Coalesce(d.State, DefaultPowerState)
	secs := int64(math.Ceil(dur.Seconds()))
	if secs < 1 {
		secs = 1
	}
	// The alarm must be cleared before it can be re-armed.
	if err := os.WriteFile(alarm, []byte("0"), 0o644); err != nil {
		return errcode.Wrap(errcode.Unsupported, "deep.alarm", err)
	}
	if err := os.WriteFile(alarm, []byte("+"+strconv.FormatInt(secs, 10)), 0o644); err != nil {
		return errcode.Wrap(errcode.Unsupported, "deep.alarm", err)
	}
	if err := os.WriteFile(state, []byte("mem"), 0o644); err != nil {
		_ = os.WriteFile(alarm, []byte("0"), 0o644)
		return errcode.Wrap(errcode.Unsupported, "deep.suspend", err)
	}
	restart := d.Restart
	if restart == nil {
		restart = reexec
	}
	if err := restart(); err != nil {
		return errors.Join(ErrNoRestart, err)
	}
	return nil
}

// Gate switches power to an I2C bus extender. With no pin the bus is
// considered always powered.
type Gate struct {
	pin    GatePin
	settle time.Duration
	sleep  func(time.Duration)
}

// GatePin is the extender's enable line.
type GatePin interface {
	ConfigureOutput(high bool) error
	Set(high bool)
	Get() bool
}

// NewGate returns a gate; settle defaults to one second.
func NewGate(pin GatePin, settle time.Duration) *Gate {
	if settle <= 0 {
		settle = time.Second
	}
	return &Gate{pin: pin, settle: settle, sleep: time.Sleep}
}

// Begin leaves the extender off.
func (g *Gate) Begin() error {
	if g.pin == nil {
		return nil
	}
	return g.pin.ConfigureOutput(false)
}

// Activate powers the extender. It returns true only when the bus was off,
// in which case devices behind it need setting up again.
func (g *Gate) Activate() bool {
	if g.pin == nil || g.pin.Get() {
		return false
	}
	g.pin.Set(true)
	g.sleep(g.settle)
	return true
}

func (g *Gate) Deactivate() {
	if g.pin != nil {
		g.pin.Set(false)
	}
}

// Watchdog restarts the board by arming the hardware watchdog and never
// feeding it. If the device cannot be opened it falls back to Exit.
type Watchdog struct {
	Device string
	Exit   func(code int)
}

// held keeps the watchdog file open for the life of the process.
var held *os.File

func (w Watchdog) Restart(reason string) error {
	f, err := os.OpenFile(strx.Coalesce(w.Device, "/dev/watchdog"), os.O_WRONLY, 0)
	if err == nil {
		held = f
		return nil
	}
	exit := w.Exit
	if exit == nil {
		exit = os.Exit
	}
	exit(70)
	return errcode.Wrap(errcode.Unsupported, "watchdog", err)
}
