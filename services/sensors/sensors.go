// Package sensors wraps each supported measurement source behind one small
// contract and keeps a registry of builders keyed by driver name.
package sensors

import (
	"sort"
	"strings"
	"sync"

	"tinygo.org/x/drivers"

	"weatherstation-go/errcode"
	"weatherstation-go/readings"
)

// Reader is one measurement source. Setup runs during node setup and again
// whenever a gated bus is powered up. Read stores whatever it can into the
// snapshot; a transient failure is returned and the cycle carries on.
type Reader interface {
	Label() string
	Setup() error
	Read(s *readings.Snapshot) error
}

// Spec describes one configured sensor.
type Spec struct {
	Driver    string  `yaml:"driver"`
	Label     string  `yaml:"label"`
	Addr      uint16  `yaml:"addr"`
	Placement string  `yaml:"placement"` // "internal" (default) or "external"
	Supply    string  `yaml:"supply"`    // power_supply name for "voltage"
	Path      string  `yaml:"path"`      // sysfs file for "iio"
	Category  string  `yaml:"category"`  // target category for "iio"
	Scale     float64 `yaml:"scale"`     // multiplier for "iio", default 1
	FatalCode int     `yaml:"fatal_code"`
}

// Env carries the shared hardware handles a builder may need.
type Env struct {
	Bus        drivers.I2C
	SupplyRoot string
}

type Builder interface {
	Build(spec Spec, env Env) (Reader, error)
	// FatalCode is the default pulse count when this sensor fails setup.
	FatalCode() int
}

var (
	regMu    sync.RWMutex
	builders = map[string]Builder{}
)

// Register is called from init functions.
func Register(driver string, b Builder) {
	regMu.Lock()
	defer regMu.Unlock()
	builders[strings.ToLower(driver)] = b
}

func lookup(driver string) (Builder, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	b, ok := builders[strings.ToLower(driver)]
	return b, ok
}

// Drivers lists the registered driver names.
func Drivers() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(builders))
	for k := range builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs the reader for spec and resolves its fatal code.
func Build(spec Spec, env Env) (Reader, int, error) {
	b, ok := lookup(spec.Driver)
	if !ok {
		return nil, 0, &errcode.E{C: errcode.NotFound, Op: "sensors.build", Msg: "unknown driver " + spec.Driver}
	}
	r, err := b.Build(spec, env)
	if err != nil {
		return nil, 0, err
	}
	code := spec.FatalCode
	if code <= 0 {
		code = b.FatalCode()
	}
	return r, code, nil
}

func external(spec Spec) bool {
	return strings.EqualFold(spec.Placement, "external")
}

func needBus(op string, env Env) error {
	if env.Bus == nil {
		return &errcode.E{C: errcode.InvalidConfig, Op: op, Msg: "no i2c bus"}
	}
	return nil
}

// Scan probes every 7-bit address and returns those that acknowledge a
// one-byte read.
func Scan(bus drivers.I2C) []uint16 {
	var found []uint16
	buf := make([]byte, 1)
	for addr := uint16(0x08); addr < 0x78; addr++ {
		if bus.Tx(addr, nil, buf) == nil {
			found = append(found, addr)
		}
	}
	return found
}
