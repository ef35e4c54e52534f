package sensors

import (
	"os"
	"strconv"
	"strings"

	"weatherstation-go/errcode"
	"weatherstation-go/readings"
	"weatherstation-go/types"
	"weatherstation-go/x/strx"
)

func init() { Register("iio", iioBuilder{}) }

// iioBuilder reads one channel of a kernel IIO device, e.g. a light or UV
// sensor bound to an in-tree driver:
//
//	/sys/bus/iio/devices/iio:device0/in_illuminance_input
type iioBuilder struct{}

func (iioBuilder) FatalCode() int { return 15 }

func (iioBuilder) Build(spec Spec, _ Env) (Reader, error) {
	if spec.Path == "" {
		return nil, &errcode.E{C: errcode.InvalidConfig, Op: "iio", Msg: "path required"}
	}
	cat, ok := types.ParseCategory(spec.Category)
	if !ok {
		return nil, &errcode.E{C: errcode.InvalidConfig, Op: "iio", Msg: "unknown category " + spec.Category}
	}
	scale := spec.Scale
	if scale == 0 {
		scale = 1
	}
	return &iioReader{
		label: strx.Coalesce(spec.Label, "IIO"),
		path:  spec.Path,
		cat:   cat,
		scale: scale,
	}, nil
}

type iioReader struct {
	label string
	path  string
	cat   types.Category
	scale float64
}

func (r *iioReader) Label() string { return r.label }

func (r *iioReader) Setup() error {
	_, err := r.sample()
	return errcode.Wrap(errcode.SetupFailed, "iio", err)
}

func (r *iioReader) sample() (float64, error) {
	b, err := os.ReadFile(r.path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
}

func (r *iioReader) Read(s *readings.Snapshot) error {
	v, err := r.sample()
	if err != nil {
		return errcode.Wrap(errcode.ReadFailed, "iio", err)
	}
	s.Store(v*r.scale, r.cat, r.label)
	return nil
}
