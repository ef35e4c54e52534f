// Package clock is the node's time source: a DS3231-style hardware clock, a
// volatile software clock, or none at all.
package clock

import (
	"context"
	"time"

	"github.com/beevik/ntp"

	"weatherstation-go/errcode"
	"weatherstation-go/services/notify"
	"weatherstation-go/types"
	"weatherstation-go/x/strx"
	"weatherstation-go/x/timex"
)

const (
	DefaultServer  = "europe.pool.ntp.org"
	DefaultTimeout = 5 * time.Second
)

// softEpoch is where the software clock starts on every boot.
var softEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// RTC is a battery-backed clock chip. *ds3231.Device implements it.
type RTC interface {
	Configure() error
	ReadTime() (time.Time, error)
	SetTime(time.Time) error
	LostPower() (bool, error)
}

// Querier performs one bounded network time request.
type Querier func(ctx context.Context, server string, timeout time.Duration) (time.Time, error)

type Config struct {
	Kind      types.ClockKind
	BuildTime time.Time // times before this are not trusted
	Server    string
	Timeout   time.Duration
	Query     Querier       // default: SNTP via github.com/beevik/ntp
	Mono      timex.NowFunc // monotonic source for the software clock
}

type Clock struct {
	cfg Config
	rtc RTC
	n   *notify.Notifier

	softBase time.Time
	softRef  time.Time
}

// New builds a clock of cfg.Kind. rtc is only used for hardware clocks.
func New(cfg Config, rtc RTC, n *notify.Notifier) *Clock {
	cfg.Server = strx.Coalesce(cfg.Server, DefaultServer)
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Query == nil {
		cfg.Query = QueryNTP
	}
	if cfg.Mono == nil {
		cfg.Mono = time.Now
	}
	if n == nil {
		n = notify.New(nil, nil, notify.Config{})
	}
	return &Clock{cfg: cfg, rtc: rtc, n: n}
}

func (c *Clock) Kind() types.ClockKind { return c.cfg.Kind }

// Begin initialises the backing store. Only a hardware clock can fail.
func (c *Clock) Begin() error {
	c.n.Info("*CLOCK: TYPE:", notify.Str(c.cfg.Kind.String()))
	switch c.cfg.Kind {
	case types.ClockHardware:
		if c.rtc == nil {
			return &errcode.E{C: errcode.SetupFailed, Op: "clock.begin", Msg: "no rtc"}
		}
		return errcode.Wrap(errcode.SetupFailed, "clock.begin", c.rtc.Configure())
	case types.ClockSoft:
		c.setSoft(softEpoch)
	}
	return nil
}

func (c *Clock) setSoft(t time.Time) {
	c.softBase = t.UTC()
	c.softRef = c.cfg.Mono()
}

// Now returns the current time, or the Unix epoch when the clock is off or
// the hardware cannot be read.
func (c *Clock) Now() time.Time {
	switch c.cfg.Kind {
	case types.ClockHardware:
		if c.rtc != nil {
			if t, err := c.rtc.ReadTime(); err == nil {
				return t.UTC()
			}
		}
	case types.ClockSoft:
		if !c.softRef.IsZero() {
			return c.softBase.Add(c.cfg.Mono().Sub(c.softRef))
		}
	}
	return time.Unix(0, 0).UTC()
}

func (c *Clock) IsRunning() bool {
	return c.cfg.Kind == types.ClockSoft || c.cfg.Kind == types.ClockHardware
}

// IsIndeterminate reports that Now cannot be trusted until a sync.
func (c *Clock) IsIndeterminate() bool {
	switch c.cfg.Kind {
	case types.ClockHardware:
		if c.rtc == nil {
			return true
		}
		lost, err := c.rtc.LostPower()
		if err != nil || lost {
			return true
		}
		t, err := c.rtc.ReadTime()
		if err != nil {
			return true
		}
		return t.Before(c.cfg.BuildTime)
	case types.ClockSoft:
		return true
	}
	return false
}

// Sync sets the clock from the network time service. It needs a live link and
// gives up after the configured timeout; on failure the clock is untouched.
// A clock that is off still queries and logs network time but never reports
// a sync.
func (c *Clock) Sync(ctx context.Context) bool {
	t, err := c.query(ctx)
	if err == nil && !c.IsRunning() {
		c.n.Info("Time (NTP):", notify.Time(t))
		c.n.Info("*CLOCK: off, time not kept")
		return false
	}
	if err == nil {
		err = c.adjust(t)
	}
	if err != nil {
		c.n.Warn("Failure to sync time!", notify.Err(err))
		return false
	}
	c.n.Info("Time (NTP):", notify.Time(t))
	return true
}

func (c *Clock) query(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	type result struct {
		t   time.Time
		err error
	}
	ch := make(chan result, 1)
	go func() {
		t, err := c.cfg.Query(ctx, c.cfg.Server, c.cfg.Timeout)
		ch <- result{t, err}
	}()
	select {
	case r := <-ch:
		return r.t, r.err
	case <-ctx.Done():
		return time.Time{}, errcode.Wrap(errcode.Timeout, "clock.sync", ctx.Err())
	}
}

// adjust touches only the active variant.
func (c *Clock) adjust(t time.Time) error {
	switch c.cfg.Kind {
	case types.ClockHardware:
		return c.rtc.SetTime(t)
	case types.ClockSoft:
		c.setSoft(t)
	}
	return nil
}

func (c *Clock) FormatISO8601() string { return FormatISO8601(c.Now()) }

// FormatISO8601 renders t in UTC with second precision.
func FormatISO8601(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// QueryNTP asks server for the time over SNTP.
func QueryNTP(ctx context.Context, server string, timeout time.Duration) (time.Time, error) {
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return time.Time{}, err
	}
	if err := resp.Validate(); err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(resp.ClockOffset), nil
}
