// Package notify routes diagnostics by severity and drives the status LED on
// warnings and fatal conditions.
package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"weatherstation-go/services/signal"
	"weatherstation-go/x/timex"
)

// Restarter hands a halted node over to a hard restart.
type Restarter interface {
	Restart(reason string) error
}

type Config struct {
	Production  bool
	WarnPulse   time.Duration // default 500ms
	Repetitions int           // fatal patterns shown before a restart handoff, default 3
}

type Notifier struct {
	log *log.Logger
	sig *signal.Emitter
	cfg Config
}

// New writes diagnostics to out. sig may be nil.
func New(out io.Writer, sig *signal.Emitter, cfg Config) *Notifier {
	if out == nil {
		out = io.Discard
	}
	if sig == nil {
		sig = signal.New(nil, signal.Config{})
	}
	if cfg.WarnPulse <= 0 {
		cfg.WarnPulse = 500 * time.Millisecond
	}
	if cfg.Repetitions <= 0 {
		cfg.Repetitions = 3
	}
	return &Notifier{
		log: log.New(out, "", log.LstdFlags|log.Lmsgprefix),
		sig: sig,
		cfg: cfg,
	}
}

func (n *Notifier) Production() bool { return n.cfg.Production }

// Signal exposes the emitter shared with the notifier.
func (n *Notifier) Signal() *signal.Emitter { return n.sig }

// Printer is where development-only output goes; it discards in production.
func (n *Notifier) Printer() io.Writer {
	if n.cfg.Production {
		return io.Discard
	}
	return n.log.Writer()
}

// Info is diagnostic only and suppressed in production.
func (n *Notifier) Info(msg string, vals ...Value) {
	if n.cfg.Production {
		return
	}
	n.log.Print(format("", msg, vals))
}

// Warn logs and shows one pulse; execution continues.
func (n *Notifier) Warn(msg string, vals ...Value) {
	n.log.Print(format("WARN: ", msg, vals))
	n.sig.PulseOnce(n.cfg.WarnPulse)
}

// FatalError is a setup failure that halts the node. Code is the number of
// LED pulses that identify the failure site.
type FatalError struct {
	Code    int
	Restart bool
	Msg     string
}

func (f *FatalError) Error() string {
	return fmt.Sprintf("fatal %d: %s", f.Code, f.Msg)
}

// Fatal logs the condition and returns it for the caller to halt on.
func (n *Notifier) Fatal(code int, restart bool, msg string, vals ...Value) *FatalError {
	f := &FatalError{Code: code, Restart: restart, Msg: format("", msg, vals)}
	n.log.Print("FATAL: " + f.Msg)
	return f
}

// Lockout shows f's pulse code until ctx is done. For restartable failures it
// hands over to r after the configured number of patterns; if the handoff
// returns, the pattern keeps running.
func (n *Notifier) Lockout(ctx context.Context, f *FatalError, r Restarter) {
	shown := 0
	handed := false
	for ctx.Err() == nil {
		if n.sig.Enabled() {
			n.sig.PulseCount(f.Code)
		} else if timex.Sleep(ctx, time.Second) != nil {
			return
		}
		shown++
		if f.Restart && r != nil && !handed && shown >= n.cfg.Repetitions {
			handed = true
			n.log.Print(format("FATAL: ", "restart handoff, code", []Value{Int(int64(f.Code))}))
			if err := r.Restart(f.Msg); err != nil {
				n.log.Print(format("FATAL: ", "restart failed:", []Value{Err(err)}))
			}
		}
	}
}

func format(prefix, msg string, vals []Value) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(msg)
	for _, v := range vals {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), " ") {
			b.WriteByte(' ')
		}
		b.WriteString(v.String())
	}
	return b.String()
}
