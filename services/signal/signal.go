// Package signal drives the status LED.
//
// All primitives are no-ops when the emitter has no pin, so callers never
// check whether a LED is fitted.
package signal

import (
	"sync"
	"time"
)

// Pin is a binary output line.
type Pin interface {
	ConfigureOutput(high bool) error
	Set(high bool)
	Get() bool
}

type Config struct {
	ActiveLow bool          // LED lights when the line is driven low
	BlinkOn   time.Duration // count pattern on-time, default 200ms
	BlinkOff  time.Duration // count pattern off-time, default 200ms
	Pause     time.Duration // gap after a count pattern, default 1s
	Sleep     func(time.Duration)
}

type Emitter struct {
	mu  sync.Mutex
	pin Pin
	cfg Config
}

// New returns an emitter; pin may be nil.
func New(pin Pin, cfg Config) *Emitter {
	if cfg.BlinkOn <= 0 {
		cfg.BlinkOn = 200 * time.Millisecond
	}
	if cfg.BlinkOff <= 0 {
		cfg.BlinkOff = 200 * time.Millisecond
	}
	if cfg.Pause <= 0 {
		cfg.Pause = time.Second
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Emitter{pin: pin, cfg: cfg}
}

// Begin configures the line as an output with the LED off.
func (e *Emitter) Begin() error {
	if e.pin == nil {
		return nil
	}
	return e.pin.ConfigureOutput(e.level(false))
}

func (e *Emitter) Enabled() bool { return e.pin != nil }

func (e *Emitter) level(lit bool) bool { return lit != e.cfg.ActiveLow }

func (e *Emitter) set(lit bool) {
	e.pin.Set(e.level(lit))
}

// Lit reports whether the LED is currently on.
func (e *Emitter) Lit() bool {
	if e.pin == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pin.Get() == e.level(true)
}

func (e *Emitter) Off() {
	if e.pin == nil {
		return
	}
	e.mu.Lock()
	e.set(false)
	e.mu.Unlock()
}

func (e *Emitter) Toggle() {
	if e.pin == nil {
		return
	}
	e.mu.Lock()
	e.pin.Set(!e.pin.Get())
	e.mu.Unlock()
}

// PulseOnce lights the LED for d, then keeps it dark for d.
func (e *Emitter) PulseOnce(d time.Duration) {
	if e.pin == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.set(true)
	e.cfg.Sleep(d)
	e.set(false)
	e.cfg.Sleep(d)
}

// PulseCount shows n short pulses followed by a pause, so repeated patterns
// stay countable.
func (e *Emitter) PulseCount(n int) {
	if e.pin == nil || n <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := 0; i < n; i++ {
		e.set(true)
		e.cfg.Sleep(e.cfg.BlinkOn)
		e.set(false)
		e.cfg.Sleep(e.cfg.BlinkOff)
	}
	e.cfg.Sleep(e.cfg.Pause)
}

// Blink toggles the LED every period in the background until stop is called.
// stop leaves the LED off and is safe to call more than once.
func (e *Emitter) Blink(period time.Duration) (stop func()) {
	if e.pin == nil || period <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				e.Toggle()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
			e.Off()
		})
	}
}
