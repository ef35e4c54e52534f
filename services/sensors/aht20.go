package sensors

import (
	"weatherstation-go/drivers/aht20"
	"weatherstation-go/errcode"
	"weatherstation-go/readings"
	"weatherstation-go/types"
	"weatherstation-go/x/mathx"
	"weatherstation-go/x/strx"
)

func init() { Register("aht20", aht20Builder{}) }

type aht20Builder struct{}

func (aht20Builder) FatalCode() int { return 12 }

func (aht20Builder) Build(spec Spec, env Env) (Reader, error) {
	if err := needBus("aht20", env); err != nil {
		return nil, err
	}
	cat := types.CatTemperature
	if external(spec) {
		cat = types.CatTemperatureExternal
	}
	return &aht20Reader{
		label:   strx.Coalesce(spec.Label, "AHT20"),
		dev:     aht20.New(env.Bus, aht20.Config{Address: spec.Addr}),
		tempCat: cat,
	}, nil
}

type aht20Reader struct {
	label   string
	dev     *aht20.Device
	tempCat types.Category
}

func (r *aht20Reader) Label() string { return r.label }

func (r *aht20Reader) Setup() error {
	return errcode.Wrap(errcode.SetupFailed, "aht20", r.dev.Configure())
}

func (r *aht20Reader) Read(s *readings.Snapshot) error {
	sm, err := r.dev.Read()
	if err != nil {
		return errcode.Wrap(errcode.ReadFailed, "aht20", err)
	}
	s.Store(sm.Celsius(), r.tempCat, r.label)
	s.Store(mathx.Clamp(sm.RelHumidity(), 0, 100), types.CatHumidity, r.label)
	return nil
}
