package ds3231

import (
	"errors"
	"testing"
	"time"
)

// regBus emulates the register file with an auto-incrementing pointer.
type regBus struct {
	regs [0x13]byte
	nack bool
}

func (b *regBus) Tx(addr uint16, w, r []byte) error {
	if b.nack || addr != Address {
		return errors.New("nack")
	}
	if len(w) == 0 {
		return errors.New("no register pointer")
	}
	p := int(w[0])
	for _, v := range w[1:] {
		b.regs[p] = v
		p++
	}
	for i := range r {
		r[i] = b.regs[p]
		p++
	}
	return nil
}

func TestSetAndReadTime(t *testing.T) {
	b := &regBus{}
	b.regs[regStatus] = statusOSF
	d := New(b)
	if err := d.Configure(); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	lost, err := d.LostPower()
	if err != nil || !lost {
		t.Fatalf("LostPower got %v,%v want true", lost, err)
	}

	want := time.Date(2024, time.March, 9, 17, 45, 30, 0, time.UTC)
	if err := d.SetTime(want); err != nil {
		t.Fatalf("SetTime: %v", err)
	}
	if b.regs[0x02] != 0x17 || b.regs[0x06] != 0x24 {
		t.Fatalf("BCD registers hour=%#x year=%#x", b.regs[0x02], b.regs[0x06])
	}
	got, err := d.ReadTime()
	if err != nil || !got.Equal(want) {
		t.Fatalf("ReadTime got %v,%v want %v", got, err, want)
	}
	if lost, _ := d.LostPower(); lost {
		t.Fatal("SetTime did not clear the oscillator-stop flag")
	}
}

func TestReadTime_12HourMode(t *testing.T) {
	b := &regBus{}
	b.regs[0x00] = 0x05
	b.regs[0x01] = 0x10
	b.regs[0x02] = hour12 | 0x20 | 0x03 // 3 PM
	b.regs[0x04] = 0x01
	b.regs[0x05] = 0x01
	b.regs[0x06] = 0x30
	got, err := New(b).ReadTime()
	if err != nil {
		t.Fatal(err)
	}
	if got.Hour() != 15 || got.Year() != 2030 {
		t.Fatalf("got %v", got)
	}
}

func TestConfigure_NotPresent(t *testing.T) {
	if err := New(&regBus{nack: true}).Configure(); !errors.Is(err, ErrNotPresent) {
		t.Fatalf("got %v want ErrNotPresent", err)
	}
}

func TestSetTime_Range(t *testing.T) {
	if err := New(&regBus{}).SetTime(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)); !errors.Is(err, ErrRange) {
		t.Fatalf("got %v want ErrRange", err)
	}
}
