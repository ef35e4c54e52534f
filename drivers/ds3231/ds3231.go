// Package ds3231 drives the DS3231 real-time clock over I2C.
//
// Only the time-keeping registers and the oscillator-stop flag are used.
// Time is kept in UTC, 24-hour mode.
package ds3231

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

const Address = 0x68

const (
	regSeconds = 0x00
	regControl = 0x0E
	regStatus  = 0x0F

	hour12      = 0x40
	century     = 0x80
	statusOSF   = 0x80
	controlEOSC = 0x80
)

var (
	ErrNotPresent = errors.New("ds3231: not present")
	ErrRange      = errors.New("ds3231: time out of range")
)

type Device struct {
	bus  drivers.I2C
	addr uint16
}

func New(bus drivers.I2C) *Device {
	return &Device{bus: bus, addr: Address}
}

// Configure verifies the chip answers and makes sure the oscillator runs on
// battery.
func (d *Device) Configure() error {
	ctl, err := d.readReg(regControl)
	if err != nil {
		return ErrNotPresent
	}
	if ctl&controlEOSC != 0 {
		return d.writeReg(regControl, ctl&^controlEOSC)
	}
	return nil
}

// LostPower reports the oscillator-stop flag: the stored time is unreliable.
func (d *Device) LostPower() (bool, error) {
	st, err := d.readReg(regStatus)
	if err != nil {
		return false, err
	}
	return st&statusOSF != 0, nil
}

func (d *Device) ReadTime() (time.Time, error) {
	var b [7]byte
	if err := d.bus.Tx(d.addr, []byte{regSeconds}, b[:]); err != nil {
		return time.Time{}, err
	}
	sec := fromBCD(b[0] & 0x7F)
	min := fromBCD(b[1] & 0x7F)
	var hour int
	if b[2]&hour12 != 0 {
		hour = fromBCD(b[2]&0x1F) % 12
		if b[2]&0x20 != 0 {
			hour += 12
		}
	} else {
		hour = fromBCD(b[2] & 0x3F)
	}
	day := fromBCD(b[4] & 0x3F)
	month := fromBCD(b[5] & 0x1F)
	year := 2000 + fromBCD(b[6])
	if b[5]&century != 0 {
		year += 100
	}
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC), nil
}

// SetTime writes t (converted to UTC) and clears the oscillator-stop flag.
func (d *Device) SetTime(t time.Time) error {
	t = t.UTC()
	if t.Year() < 2000 || t.Year() > 2199 {
		return ErrRange
	}
	yy := t.Year() - 2000
	mon := toBCD(int(t.Month()))
	if yy >= 100 {
		yy -= 100
		mon |= century
	}
	w := []byte{
		regSeconds,
		toBCD(t.Second()),
		toBCD(t.Minute()),
		toBCD(t.Hour()),
		byte(t.Weekday()) + 1,
		toBCD(t.Day()),
		mon,
		toBCD(yy),
	}
	if err := d.bus.Tx(d.addr, w, nil); err != nil {
		return err
	}
	st, err := d.readReg(regStatus)
	if err != nil {
		return err
	}
	return d.writeReg(regStatus, st&^statusOSF)
}

func (d *Device) readReg(reg byte) (byte, error) {
	r := []byte{0}
	if err := d.bus.Tx(d.addr, []byte{reg}, r); err != nil {
		return 0, err
	}
	return r[0], nil
}

func (d *Device) writeReg(reg, v byte) error {
	return d.bus.Tx(d.addr, []byte{reg, v}, nil)
}

func fromBCD(b byte) int { return int(b>>4)*10 + int(b&0x0F) }
func toBCD(v int) byte  { return byte(v/10)<<4 | byte(v%10) }
