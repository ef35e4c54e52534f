package sensors

import (
	"weatherstation-go/platform"
	"weatherstation-go/readings"
	"weatherstation-go/types"
	"weatherstation-go/x/strx"
)

func init() { Register("voltage", voltageBuilder{}) }

type voltageBuilder struct{}

func (voltageBuilder) FatalCode() int { return 14 }

func (voltageBuilder) Build(spec Spec, env Env) (Reader, error) {
	return &voltageReader{
		label:  strx.Coalesce(spec.Label, "INTERNAL"),
		root:   env.SupplyRoot,
		supply: strx.Coalesce(spec.Supply, "battery"),
	}, nil
}

// voltageReader reports the supply voltage from the kernel's power_supply class.
type voltageReader struct {
	label  string
	root   string
	supply string
}

func (r *voltageReader) Label() string { return r.label }

func (r *voltageReader) Setup() error {
	_, err := platform.SupplyVoltage(r.root, r.supply)
	return err
}

func (r *voltageReader) Read(s *readings.Snapshot) error {
	v, err := platform.SupplyVoltage(r.root, r.supply)
	if err != nil {
		return err
	}
	s.Store(v, types.CatVoltage, r.label)
	return nil
}
