package sensors

import (
	"tinygo.org/x/drivers/shtc3"

	"weatherstation-go/errcode"
	"weatherstation-go/readings"
	"weatherstation-go/types"
	"weatherstation-go/x/mathx"
	"weatherstation-go/x/strx"
)

func init() { Register("shtc3", shtc3Builder{}) }

type shtc3Builder struct{}

func (shtc3Builder) FatalCode() int { return 13 }

func (shtc3Builder) Build(spec Spec, env Env) (Reader, error) {
	if err := needBus("shtc3", env); err != nil {
		return nil, err
	}
	d := shtc3.New(env.Bus)
	cat := types.CatTemperature
	if external(spec) {
		cat = types.CatTemperatureExternal
	}
	return &shtc3Reader{
		label:   strx.Coalesce(spec.Label, "SHTC3"),
		tempCat: cat,
		wake:    d.WakeUp,
		sleep:   d.Sleep,
		read: func() (float64, float64, error) {
			// Milli-°C and hundredths of %RH.
			tmc, rhx100, err := d.ReadTemperatureHumidity()
			return float64(tmc) / 1000, float64(mathx.Clamp(rhx100, 0, 10000)) / 100, err
		},
	}, nil
}

type shtc3Reader struct {
	label   string
	tempCat types.Category

	wake  func() error
	sleep func() error
	read  func() (celsius, rh float64, err error)
}

func (r *shtc3Reader) Label() string { return r.label }

// Setup checks the sensor answers a wake-up and puts it back to sleep.
func (r *shtc3Reader) Setup() error {
	if err := r.wake(); err != nil {
		return errcode.Wrap(errcode.SetupFailed, "shtc3", err)
	}
	return errcode.Wrap(errcode.SetupFailed, "shtc3", r.sleep())
}

func (r *shtc3Reader) Read(s *readings.Snapshot) error {
	if err := r.wake(); err != nil {
		return errcode.Wrap(errcode.ReadFailed, "shtc3", err)
	}
	defer func() { _ = r.sleep() }()

	c, rh, err := r.read()
	if err != nil {
		return errcode.Wrap(errcode.ReadFailed, "shtc3", err)
	}
	s.Store(c, r.tempCat, r.label)
	s.Store(rh, types.CatHumidity, r.label)
	return nil
}
