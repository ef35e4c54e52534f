package cmd

import (
	"io"

	"tinygo.org/x/drivers"

	"weatherstation-go/drivers/ds3231"
	"weatherstation-go/platform"
	"weatherstation-go/services/clock"
	"weatherstation-go/services/config"
	"weatherstation-go/services/network"
	"weatherstation-go/services/notify"
	"weatherstation-go/services/power"
	"weatherstation-go/services/scheduler"
	"weatherstation-go/services/sensors"
	"weatherstation-go/services/signal"
	"weatherstation-go/services/status"
	"weatherstation-go/services/store"
	"weatherstation-go/services/transport"
	"weatherstation-go/types"
)

// node is everything run needs, plus what must be released on exit.
type node struct {
	sched  *scheduler.Scheduler
	n      *notify.Notifier
	closer func()
}

func signalPin(cfg config.SignalConfig) signal.Pin {
	switch {
	case cfg.LED != "":
		return platform.NewLED("", cfg.LED)
	case cfg.GPIO != nil:
		return platform.NewGPIO("", *cfg.GPIO)
	}
	return nil
}

// buildNode turns a validated configuration into a scheduler. Hardware that
// cannot be opened here is left for Setup to report with its own code.
func buildNode(cfg *config.Config, out io.Writer) (*node, error) {
	sig := signal.New(signalPin(cfg.Signal), signal.Config{ActiveLow: cfg.Signal.ActiveLow})
	n := notify.New(out, sig, notify.Config{
		Production:  cfg.Device.Production,
		Repetitions: cfg.Fatal.Repetitions,
	})
	nd := &node{n: n, closer: func() {}}

	var bus drivers.I2C
	if adapter, err := platform.OpenI2C(cfg.I2C.Bus); err != nil {
		n.Warn("*I2C: cannot open", notify.Str(cfg.I2C.Bus), notify.Err(err))
		bus = platform.NoBus{Err: err}
	} else {
		bus = adapter
		nd.closer = func() { _ = adapter.Close() }
	}

	st := store.NewFile(cfg.Store.Path)
	deps := scheduler.Deps{
		Notifier:  n,
		Store:     st,
		Restarter: power.Watchdog{Device: cfg.Fatal.Watchdog},
	}

	var rtc clock.RTC
	if cfg.Clock.Kind == types.ClockHardware {
		rtc = ds3231.New(bus)
	}
	deps.Clock = clock.New(clock.Config{
		Kind:      cfg.Clock.Kind,
		BuildTime: buildTime,
		Server:    cfg.Clock.Server,
		Timeout:   cfg.Clock.Timeout,
	}, rtc, n)

	if cfg.Network.Enabled {
		deps.Network = network.New(network.Config{
			DeviceID:       cfg.Device.ID,
			SSID:           cfg.Network.SSID,
			Pass:           cfg.Network.Pass,
			ConnectTimeout: cfg.Network.ConnectTimeout,
			PortalTimeout:  cfg.Network.PortalTimeout,
			PortalAddr:     cfg.Network.PortalAddr,
			Provisioning:   cfg.Network.Provisioning,
			HTTPTimeout:    cfg.Network.HTTPTimeout,
		}, network.NMCLI{Iface: cfg.Network.Iface}, st, n)

		client := transport.New(transport.Config{
			Kind:        cfg.Transport.Kind,
			Server:      cfg.Transport.Server,
			Port:        cfg.Transport.Port,
			Database:    cfg.Transport.Database,
			User:        cfg.Transport.User,
			Logger:      cfg.Device.ID,
			Location:    cfg.Device.Location,
			Measurement: cfg.Transport.Measurement,
			Org:         cfg.Transport.Org,
			Bucket:      cfg.Transport.Bucket,
		}, n)
		deps.Sender = func(test bool) scheduler.Sender {
			if test {
				return client.WithDatabase(transport.TestDatabase)
			}
			return client
		}
		deps.Reporter = reporters(cfg.Status)
	}

	if cfg.I2C.GateGPIO != nil {
		deps.Gate = power.NewGate(platform.NewGPIO("", *cfg.I2C.GateGPIO), cfg.I2C.Settle)
	}
	if cfg.I2C.Scan {
		deps.Scan = func() []uint16 { return sensors.Scan(bus) }
	}
	if cfg.TestSwitch.GPIO != nil {
		sw := platform.NewGPIO("", *cfg.TestSwitch.GPIO)
		if err := sw.ConfigureInput(); err != nil {
			n.Warn("*SWITCH: cannot configure", notify.Err(err))
		} else {
			deps.TestSwitch = scheduler.LowSwitch{Pin: sw}
		}
	}

	env := sensors.Env{Bus: bus}
	for _, spec := range cfg.Sensors {
		r, code, err := sensors.Build(spec, env)
		if err != nil {
			nd.closer()
			return nil, err
		}
		deps.Sensors = append(deps.Sensors, scheduler.Sensor{Reader: r, FatalCode: code})
	}

	if cfg.Schedule.DeepSleep {
		deps.Sleeper = power.Deep{WakeAlarm: cfg.Schedule.WakeAlarm, State: cfg.Schedule.PowerState}
	}

	nd.sched = scheduler.New(scheduler.Config{
		DeviceID:   cfg.Device.ID,
		Version:    binVersion,
		Production: cfg.Device.Production,
		Interval:   cfg.Schedule.Interval,
		MinDelay:   cfg.Schedule.MinDelay,
		Margin:     cfg.Schedule.Margin,
		FlushPause: cfg.Schedule.FlushPause,
		DeepSleep:  cfg.Schedule.DeepSleep,
	}, deps)
	return nd, nil
}

// reporters returns nil when no status channel is configured.
func reporters(cfg config.StatusConfig) status.Reporter {
	var m status.Multi
	if cfg.MQTT.Broker != "" {
		m = append(m, status.NewMQTT(status.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			User:     cfg.MQTT.User,
			Password: cfg.MQTT.Password,
			Prefix:   cfg.MQTT.Prefix,
		}))
	}
	if cfg.Metrics.PushURL != "" {
		m = append(m, status.NewMetrics(status.MetricsConfig{
			PushURL: cfg.Metrics.PushURL,
			Job:     cfg.Metrics.Job,
		}))
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
