package platform

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"weatherstation-go/errcode"
	"weatherstation-go/x/strx"
)

const (
	DefaultLEDRoot    = "/sys/class/leds"
	DefaultGPIORoot   = "/sys/class/gpio"
	DefaultSupplyRoot = "/sys/class/power_supply"
)

func writeFile(path, v string) error {
	return os.WriteFile(path, []byte(v), 0o644)
}

func readTrim(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// LED drives a kernel LED class device through its brightness file.
type LED struct {
	mu    sync.Mutex
	dir   string
	level bool
}

func NewLED(root, name string) *LED {
	return &LED{dir: filepath.Join(strx.Coalesce(root, DefaultLEDRoot), name)}
}

// ConfigureOutput detaches any kernel trigger and sets the initial level.
func (l *LED) ConfigureOutput(high bool) error {
	if _, err := os.Stat(filepath.Join(l.dir, "brightness")); err != nil {
		return errcode.Wrap(errcode.NotFound, "led", err)
	}
	if _, err := os.Stat(filepath.Join(l.dir, "trigger")); err == nil {
		_ = writeFile(filepath.Join(l.dir, "trigger"), "none")
	}
	l.Set(high)
	return nil
}

func (l *LED) Set(high bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := "0"
	if high {
		v = "1"
	}
	if writeFile(filepath.Join(l.dir, "brightness"), v) == nil {
		l.level = high
	}
}

func (l *LED) Get() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// GPIO is a line of the legacy sysfs GPIO interface.
type GPIO struct {
	mu    sync.Mutex
	root  string
	n     int
	level bool
}

func NewGPIO(root string, n int) *GPIO {
	return &GPIO{root: strx.Coalesce(root, DefaultGPIORoot), n: n}
}

func (g *GPIO) dir() string { return filepath.Join(g.root, "gpio"+strconv.Itoa(g.n)) }

func (g *GPIO) export() error {
	if _, err := os.Stat(g.dir()); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return writeFile(filepath.Join(g.root, "export"), strconv.Itoa(g.n))
}

// ConfigureOutput sets the direction and initial level in one write.
func (g *GPIO) ConfigureOutput(high bool) error {
	if err := g.export(); err != nil {
		return errcode.Wrap(errcode.SetupFailed, "gpio.export", err)
	}
	dir := "low"
	if high {
		dir = "high"
	}
	if err := writeFile(filepath.Join(g.dir(), "direction"), dir); err != nil {
		return errcode.Wrap(errcode.SetupFailed, "gpio.direction", err)
	}
	g.mu.Lock()
	g.level = high
	g.mu.Unlock()
	return nil
}

func (g *GPIO) ConfigureInput() error {
	if err := g.export(); err != nil {
		return errcode.Wrap(errcode.SetupFailed, "gpio.export", err)
	}
	return writeFile(filepath.Join(g.dir(), "direction"), "in")
}

func (g *GPIO) Set(high bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := "0"
	if high {
		v = "1"
	}
	if writeFile(filepath.Join(g.dir(), "value"), v) == nil {
		g.level = high
	}
}

// Get reads the line, falling back to the last written level.
func (g *GPIO) Get() bool {
	v, err := g.Read()
	if err != nil {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.level
	}
	return v
}

func (g *GPIO) Read() (bool, error) {
	s, err := readTrim(filepath.Join(g.dir(), "value"))
	if err != nil {
		return false, err
	}
	return s == "1", nil
}

// SupplyVoltage reads a power_supply device's voltage_now (µV) in volts.
func SupplyVoltage(root, supply string) (float64, error) {
	s, err := readTrim(filepath.Join(strx.Coalesce(root, DefaultSupplyRoot), supply, "voltage_now"))
	if err != nil {
		return 0, errcode.Wrap(errcode.ReadFailed, "supply", err)
	}
	uv, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errcode.Wrap(errcode.ReadFailed, "supply", err)
	}
	return float64(uv) / 1e6, nil
}
