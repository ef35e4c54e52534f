// Package config assembles the node's runtime configuration once at startup.
//
// A configuration is layered: an embedded device profile, then an optional
// YAML file, then NODE_* environment overrides. Defaults fill whatever is
// still unset and the result is validated before anything is built from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"weatherstation-go/errcode"
	"weatherstation-go/services/sensors"
	"weatherstation-go/services/transport"
	"weatherstation-go/types"
)

// EmbeddedConfigLookup allows overriding how profiles are resolved.
var EmbeddedConfigLookup = func(profile string) ([]byte, bool) {
	b, ok := embeddedConfigs[profile]
	return b, ok
}

// Profiles lists the embedded device profiles.
func Profiles() []string {
	out := make([]string, 0, len(embeddedConfigs))
	for k := range embeddedConfigs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Signal     SignalConfig     `yaml:"signal"`
	Fatal      FatalConfig      `yaml:"fatal"`
	Store      StoreConfig      `yaml:"store"`
	Network    NetworkConfig    `yaml:"network"`
	Clock      ClockConfig      `yaml:"clock"`
	Transport  TransportConfig  `yaml:"transport"`
	I2C        I2CConfig        `yaml:"i2c"`
	Sensors    []sensors.Spec   `yaml:"sensors"`
	TestSwitch TestSwitchConfig `yaml:"test_switch"`
	Status     StatusConfig     `yaml:"status"`
}

type DeviceConfig struct {
	ID         string `yaml:"id"` // default: host name
	Location   string `yaml:"location"`
	Production bool   `yaml:"production"`
}

type ScheduleConfig struct {
	Interval   time.Duration `yaml:"interval"`    // target cycle length
	MinDelay   time.Duration `yaml:"min_delay"`   // floor for the sleep budget
	Margin     time.Duration `yaml:"margin"`      // safety margin
	FlushPause time.Duration `yaml:"flush_pause"` // pause before suspending
	DeepSleep  bool          `yaml:"deep_sleep"`
	WakeAlarm  string        `yaml:"wake_alarm"`
	PowerState string        `yaml:"power_state"`
}

type SignalConfig struct {
	LED       string `yaml:"led"`  // sysfs LED name
	GPIO      *int   `yaml:"gpio"` // used when LED is empty
	ActiveLow bool   `yaml:"active_low"`
}

type FatalConfig struct {
	Repetitions int    `yaml:"repetitions"`
	Watchdog    string `yaml:"watchdog"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type NetworkConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Iface          string        `yaml:"iface"`
	SSID           string        `yaml:"ssid"`
	Pass           string        `yaml:"pass"`
	Provisioning   bool          `yaml:"provisioning"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PortalTimeout  time.Duration `yaml:"portal_timeout"`
	PortalAddr     string        `yaml:"portal_addr"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
}

type ClockConfig struct {
	Kind    types.ClockKind `yaml:"kind"`
	Server  string          `yaml:"server"`
	Timeout time.Duration   `yaml:"timeout"`
}

type TransportConfig struct {
	Kind        string `yaml:"kind"` // v1 or v2
	Server      string `yaml:"server"`
	Port        int    `yaml:"port"`
	Database    string `yaml:"database"`
	User        string `yaml:"user"`
	Measurement string `yaml:"measurement"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
}

type I2CConfig struct {
	Bus      string        `yaml:"bus"`
	GateGPIO *int          `yaml:"gate_gpio"` // extender enable line
	Settle   time.Duration `yaml:"settle"`
	Scan     bool          `yaml:"scan"` // list devices during setup in development
}

type TestSwitchConfig struct {
	GPIO *int `yaml:"gpio"`
}

type StatusConfig struct {
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

type MetricsConfig struct {
	PushURL string `yaml:"push_url"`
	Job     string `yaml:"job"`
}

// Load builds a configuration from profile (may be empty) and the YAML file at
// path (may be empty).
func Load(profile, path string) (*Config, error) {
	var cfg Config
	if profile != "" {
		raw, ok := EmbeddedConfigLookup(profile)
		if !ok || len(raw) == 0 {
			return nil, &errcode.E{C: errcode.NotFound, Op: "config.load", Msg: "no embedded profile " + profile}
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, errcode.Wrap(errcode.InvalidConfig, "config.profile", err)
		}
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errcode.Wrap(errcode.NotFound, "config.load", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, errcode.Wrap(errcode.InvalidConfig, "config.file", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, errcode.Wrap(errcode.InvalidConfig, "config.validate", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("NODE_ID", &c.Device.ID)
	str("NODE_LOCATION", &c.Device.Location)
	str("NODE_WIFI_SSID", &c.Network.SSID)
	str("NODE_WIFI_PASS", &c.Network.Pass)
	str("NODE_INFLUX_SERVER", &c.Transport.Server)
	str("NODE_INFLUX_DATABASE", &c.Transport.Database)
	str("NODE_INFLUX_USER", &c.Transport.User)
	str("NODE_MQTT_BROKER", &c.Status.MQTT.Broker)
	str("NODE_PUSH_URL", &c.Status.Metrics.PushURL)

	if v, ok := os.LookupEnv("NODE_PRODUCTION"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &errcode.E{C: errcode.InvalidConfig, Op: "config.env", Msg: "NODE_PRODUCTION", Err: err}
		}
		c.Device.Production = b
	}
	if v, ok := os.LookupEnv("NODE_INFLUX_PORT"); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return &errcode.E{C: errcode.InvalidConfig, Op: "config.env", Msg: "NODE_INFLUX_PORT", Err: err}
		}
		c.Transport.Port = p
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Device.ID == "" {
		if h, err := os.Hostname(); err == nil {
			c.Device.ID = h
		}
	}

	if c.Schedule.Interval == 0 {
		c.Schedule.Interval = 5 * time.Minute
		if !c.Device.Production {
			c.Schedule.Interval = time.Minute
		}
	}
	if c.Schedule.MinDelay == 0 {
		c.Schedule.MinDelay = 60 * time.Second
		if !c.Device.Production {
			c.Schedule.MinDelay = 10 * time.Second
		}
	}
	if c.Schedule.Margin == 0 {
		c.Schedule.Margin = 500 * time.Millisecond
	}
	if c.Schedule.FlushPause == 0 {
		c.Schedule.FlushPause = 500 * time.Millisecond
	}

	if c.Fatal.Repetitions == 0 {
		c.Fatal.Repetitions = 3
	}
	if c.Fatal.Watchdog == "" {
		c.Fatal.Watchdog = "/dev/watchdog"
	}
	if c.Store.Path == "" {
		c.Store.Path = "/var/lib/weathernode/secrets.env"
	}

	if c.Network.Iface == "" {
		c.Network.Iface = "wlan0"
	}
	if c.Network.ConnectTimeout == 0 {
		c.Network.ConnectTimeout = time.Minute
	}
	if c.Network.PortalTimeout == 0 {
		c.Network.PortalTimeout = 5 * time.Minute
	}
	if c.Network.PortalAddr == "" {
		c.Network.PortalAddr = ":80"
	}
	if c.Network.HTTPTimeout == 0 {
		c.Network.HTTPTimeout = 10 * time.Second
	}

	if c.Clock.Server == "" {
		c.Clock.Server = "europe.pool.ntp.org"
	}
	if c.Clock.Timeout == 0 {
		c.Clock.Timeout = 5 * time.Second
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = transport.KindV1
	}
	if c.Transport.Port == 0 {
		c.Transport.Port = 8086
	}
	if c.Transport.Measurement == "" {
		c.Transport.Measurement = transport.DefaultMeasurement
	}

	if c.I2C.Bus == "" {
		c.I2C.Bus = "/dev/i2c-1"
	}
	if c.I2C.Settle == 0 {
		c.I2C.Settle = time.Second
	}

	if c.Status.MQTT.Prefix == "" {
		c.Status.MQTT.Prefix = "weather"
	}
	if c.Status.Metrics.Job == "" {
		c.Status.Metrics.Job = "weathernode"
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Device.ID == "" {
		errs = append(errs, errors.New("device.id is required"))
	}
	if c.Schedule.Interval <= 0 {
		errs = append(errs, errors.New("schedule.interval must be positive"))
	}
	if c.Schedule.MinDelay < 0 || c.Schedule.Margin < 0 {
		errs = append(errs, errors.New("schedule delays must not be negative"))
	}
	if c.Schedule.MinDelay > c.Schedule.Interval {
		errs = append(errs, fmt.Errorf("schedule.min_delay %s exceeds interval %s", c.Schedule.MinDelay, c.Schedule.Interval))
	}
	if c.Network.Enabled {
		if c.Transport.Server == "" {
			errs = append(errs, errors.New("transport.server is required when networking is enabled"))
		}
		if c.Transport.Database == "" && c.Transport.Bucket == "" {
			errs = append(errs, errors.New("transport.database is required when networking is enabled"))
		}
	}
	if c.Transport.Port < 1 || c.Transport.Port > 65535 {
		errs = append(errs, fmt.Errorf("transport.port %d out of range", c.Transport.Port))
	}
	switch c.Transport.Kind {
	case transport.KindV1:
	case transport.KindV2:
		if c.Transport.Org == "" {
			errs = append(errs, errors.New("transport.org is required for v2"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.kind %q unknown", c.Transport.Kind))
	}

	known := map[string]bool{}
	for _, d := range sensors.Drivers() {
		known[d] = true
	}
	for i, s := range c.Sensors {
		if !known[strings.ToLower(s.Driver)] {
			errs = append(errs, fmt.Errorf("sensors[%d]: unknown driver %q", i, s.Driver))
		}
	}
	return errors.Join(errs...)
}
