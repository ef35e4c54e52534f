// Package aht20 drives the AHT20 temperature/humidity sensor.
//
//	d := aht20.New(bus, aht20.Config{})
//	if err := d.Configure(); err != nil { ... }
//	s, err := d.Read()         // trigger + bounded polling
//	c, rh := s.Celsius(), s.RelHumidity()
//
// I2C.Tx MUST perform a write followed by a repeated-start read when both
// w and r are provided, without releasing the bus.
package aht20

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// I2C address.
const Address = 0x38

const (
	cmdTrigger    = 0xAC
	cmdInitialize = 0xBE
	cmdSoftReset  = 0xBA
	cmdStatus     = 0x71

	statusBusy       = 0x80
	statusCalibrated = 0x08
)

var (
	ErrTimeout      = errors.New("aht20: timeout")
	ErrNotReady     = errors.New("aht20: not ready")
	ErrUncalibrated = errors.New("aht20: not calibrated")
)

// Config is optional; zero fields take defaults in New.
type Config struct {
	Address        uint16        // default 0x38
	PollInterval   time.Duration // default 15ms
	CollectTimeout time.Duration // default 250ms
	TriggerHint    time.Duration // default 80ms
}

type Device struct {
	bus drivers.I2C
	cfg Config
	buf [7]byte

	sleep func(time.Duration)
	now   func() time.Time
}

func New(bus drivers.I2C, cfg Config) *Device {
	if cfg.Address == 0 {
		cfg.Address = Address
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Millisecond
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = 250 * time.Millisecond
	}
	if cfg.TriggerHint <= 0 {
		cfg.TriggerHint = 80 * time.Millisecond
	}
	return &Device{bus: bus, cfg: cfg, sleep: time.Sleep, now: time.Now}
}

func (d *Device) Addr() uint16 { return d.cfg.Address }

// Configure checks the calibration bit and initialises the sensor when it is
// clear. It fails if the device does not answer at all.
func (d *Device) Configure() error {
	st, err := d.Status()
	if err != nil {
		return err
	}
	if st&statusCalibrated != 0 {
		return nil
	}
	if err := d.bus.Tx(d.cfg.Address, []byte{cmdInitialize, 0x08, 0x00}, nil); err != nil {
		return err
	}
	d.sleep(10 * time.Millisecond)
	st, err = d.Status()
	if err != nil {
		return err
	}
	if st&statusCalibrated == 0 {
		return ErrUncalibrated
	}
	return nil
}

// Reset issues a soft reset. Give the device ~20ms afterwards.
func (d *Device) Reset() error {
	return d.bus.Tx(d.cfg.Address, []byte{cmdSoftReset}, nil)
}

func (d *Device) Status() (byte, error) {
	data := []byte{0}
	if err := d.bus.Tx(d.cfg.Address, []byte{cmdStatus}, data); err != nil {
		return 0, err
	}
	return data[0], nil
}

// Trigger starts a conversion without blocking.
func (d *Device) Trigger() error {
	return d.bus.Tx(d.cfg.Address, []byte{cmdTrigger, 0x33, 0x00}, nil)
}

// Collect fetches a finished conversion, or returns ErrNotReady.
func (d *Device) Collect() (Sample, error) {
	data := d.buf[:]
	if err := d.bus.Tx(d.cfg.Address, nil, data); err != nil {
		return Sample{}, err
	}
	if data[0]&statusCalibrated == 0 || data[0]&statusBusy != 0 {
		return Sample{}, ErrNotReady
	}
	return Sample{
		RawHumidity: uint32(data[1])<<12 | uint32(data[2])<<4 | uint32(data[3])>>4,
		RawTemp:     uint32(data[3]&0x0F)<<16 | uint32(data[4])<<8 | uint32(data[5]),
	}, nil
}

// Read triggers, waits the conversion hint, then polls until ready or timeout.
func (d *Device) Read() (Sample, error) {
	if err := d.Trigger(); err != nil {
		return Sample{}, err
	}
	d.sleep(d.cfg.TriggerHint)
	deadline := d.now().Add(d.cfg.CollectTimeout)
	for {
		s, err := d.Collect()
		if !errors.Is(err, ErrNotReady) {
			return s, err
		}
		if d.now().After(deadline) {
			return Sample{}, ErrTimeout
		}
		d.sleep(d.cfg.PollInterval)
	}
}

// Sample holds one raw 20-bit conversion pair.
type Sample struct {
	RawHumidity uint32
	RawTemp     uint32
}

func (s Sample) Celsius() float64 {
	return float64(s.RawTemp)*200/0x100000 - 50
}

func (s Sample) RelHumidity() float64 {
	return float64(s.RawHumidity) * 100 / 0x100000
}
