package aht20

import (
	"errors"
	"math"
	"testing"
	"time"
)

type fakeBus struct {
	status  byte
	frames  [][]byte // successive Collect responses
	writes  [][]byte
	failAll error
}

func (f *fakeBus) Tx(addr uint16, w, r []byte) error {
	if f.failAll != nil {
		return f.failAll
	}
	if addr != Address {
		return errors.New("nack")
	}
	if len(w) > 0 {
		f.writes = append(f.writes, append([]byte(nil), w...))
		if w[0] == cmdInitialize {
			f.status |= statusCalibrated
		}
	}
	switch {
	case len(w) == 1 && w[0] == cmdStatus && len(r) == 1:
		r[0] = f.status
	case len(w) == 0 && len(r) > 0:
		if len(f.frames) == 0 {
			return errors.New("no frame")
		}
		copy(r, f.frames[0])
		if len(f.frames) > 1 {
			f.frames = f.frames[1:]
		}
	}
	return nil
}

func newTestDevice(b *fakeBus) *Device {
	d := New(b, Config{})
	d.sleep = func(time.Duration) {}
	return d
}

func TestConfigure_InitialisesWhenUncalibrated(t *testing.T) {
	b := &fakeBus{}
	d := newTestDevice(b)
	if err := d.Configure(); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if len(b.writes) < 2 || b.writes[1][0] != cmdInitialize {
		t.Fatalf("expected initialise command, writes=%v", b.writes)
	}
}

func TestConfigure_BusErrorPropagates(t *testing.T) {
	d := newTestDevice(&fakeBus{failAll: errors.New("bus down")})
	if err := d.Configure(); err == nil {
		t.Fatal("expected error")
	}
}

func TestRead_PollsUntilReady(t *testing.T) {
	// 50% RH, 20 °C: raw = 0x80000 and 0x59999.
	ready := []byte{statusCalibrated, 0x80, 0x00, 0x05, 0x99, 0x99, 0}
	busy := []byte{statusCalibrated | statusBusy, 0, 0, 0, 0, 0, 0}
	b := &fakeBus{status: statusCalibrated, frames: [][]byte{busy, busy, ready}}
	d := newTestDevice(b)
	s, err := d.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if math.Abs(s.RelHumidity()-50) > 0.01 {
		t.Fatalf("humidity got %v want 50", s.RelHumidity())
	}
	if math.Abs(s.Celsius()-20) > 0.01 {
		t.Fatalf("temperature got %v want 20", s.Celsius())
	}
}

func TestRead_TimesOut(t *testing.T) {
	busy := []byte{statusCalibrated | statusBusy, 0, 0, 0, 0, 0, 0}
	d := newTestDevice(&fakeBus{status: statusCalibrated, frames: [][]byte{busy}})
	base := time.Unix(0, 0)
	n := 0
	d.now = func() time.Time { n++; return base.Add(time.Duration(n) * 100 * time.Millisecond) }
	if _, err := d.Read(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v want ErrTimeout", err)
	}
}
