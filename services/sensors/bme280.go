package sensors

import (
	"math"

	"tinygo.org/x/drivers/bme280"

	"weatherstation-go/errcode"
	"weatherstation-go/readings"
	"weatherstation-go/types"
	"weatherstation-go/x/strx"
)

func init() { Register("bme280", bme280Builder{}) }

const bme280Addr = 0x76

type bme280Builder struct{}

func (bme280Builder) FatalCode() int { return 11 }

func (bme280Builder) Build(spec Spec, env Env) (Reader, error) {
	if err := needBus("bme280", env); err != nil {
		return nil, err
	}
	d := bme280.New(env.Bus)
	d.Address = bme280Addr
	if spec.Addr != 0 {
		d.Address = spec.Addr
	}
	return &bme280Reader{label: strx.Coalesce(spec.Label, "BME280"), dev: &d}, nil
}

// bmeDevice is the slice of *bme280.Device used here.
type bmeDevice interface {
	Configure()
	Connected() bool
	ReadTemperature() (int32, error)
	ReadPressure() (int32, error)
	ReadHumidity() (int32, error)
}

type bme280Reader struct {
	label string
	dev   bmeDevice
}

func (r *bme280Reader) Label() string { return r.label }

func (r *bme280Reader) Setup() error {
	if !r.dev.Connected() {
		return &errcode.E{C: errcode.SetupFailed, Op: "bme280", Msg: "Failed to find a valid BME280 sensor!"}
	}
	r.dev.Configure()
	return nil
}

// Read stores temperature (°C), pressure (Pa) and humidity (%RH). All three
// must read cleanly or none is stored.
func (r *bme280Reader) Read(s *readings.Snapshot) error {
	mc, err := r.dev.ReadTemperature()
	if err != nil {
		return errcode.Wrap(errcode.ReadFailed, "bme280", err)
	}
	mpa, err := r.dev.ReadPressure()
	if err != nil {
		return errcode.Wrap(errcode.ReadFailed, "bme280", err)
	}
	rh, err := r.dev.ReadHumidity()
	if err != nil {
		return errcode.Wrap(errcode.ReadFailed, "bme280", err)
	}
	t, p, h := float64(mc)/1000, float64(mpa)/1000, float64(rh)/100
	if math.IsNaN(t) || p <= 0 {
		return &errcode.E{C: errcode.ReadFailed, Op: "bme280", Msg: "Failed to read from BME280 sensor!"}
	}
	s.Store(t, types.CatTemperature, r.label)
	s.Store(p, types.CatPressure, r.label)
	s.Store(h, types.CatHumidity, r.label)
	return nil
}
