package status

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"weatherstation-go/errcode"
	"weatherstation-go/x/strx"
)

type MQTTConfig struct {
	Broker   string // tcp://host:1883
	User     string
	Password string
	Prefix   string // topic prefix, default "weather"
	QoS      byte
	Timeout  time.Duration
}

// publisher is the subset of mqtt.Client the reporter drives.
type publisher interface {
	Connect() mqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes each report as a retained JSON document on
// <prefix>/<device>/state. It connects per report since the network link is
// only up during the transmit phase.
type MQTT struct {
	cfg       MQTTConfig
	newClient func(*mqtt.ClientOptions) publisher
}

func NewMQTT(cfg MQTTConfig) *MQTT {
	cfg.Prefix = strings.TrimSuffix(strx.Coalesce(cfg.Prefix, "weather"), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &MQTT{
		cfg:       cfg,
		newClient: func(o *mqtt.ClientOptions) publisher { return mqtt.NewClient(o) },
	}
}

func (m *MQTT) Topic(device string) string {
	return m.cfg.Prefix + "/" + device + "/state"
}

type statePayload struct {
	Device     string             `json:"device"`
	Time       string             `json:"time"`
	Test       bool               `json:"test"`
	Readings   map[string]float64 `json:"readings"`
	AcquireMs  int64              `json:"acquire_ms"`
	TransmitMs int64              `json:"transmit_ms"`
	SleepMs    int64              `json:"sleep_ms"`
	Sent       bool               `json:"sent"`
	Synced     bool               `json:"synced"`
	Link       string             `json:"link"`
}

func encodeState(r Report) ([]byte, error) {
	p := statePayload{
		Device:     r.Device,
		Test:       r.Test,
		Readings:   r.Readings,
		AcquireMs:  r.Acquire.Milliseconds(),
		TransmitMs: r.Transmit.Milliseconds(),
		SleepMs:    r.Sleep.Milliseconds(),
		Sent:       r.Sent,
		Synced:     r.Synced,
		Link:       string(r.Link),
	}
	if !r.Time.IsZero() {
		p.Time = r.Time.UTC().Format(time.RFC3339)
	}
	if p.Readings == nil {
		p.Readings = map[string]float64{}
	}
	return json.Marshal(p)
}

func (m *MQTT) Report(ctx context.Context, r Report) error {
	if m.cfg.Broker == "" {
		return nil
	}
	payload, err := encodeState(r)
	if err != nil {
		return errcode.Wrap(errcode.Of(err), "status.mqtt", err)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(r.Device).
		SetUsername(m.cfg.User).
		SetPassword(m.cfg.Password).
		SetCleanSession(true).
		SetConnectTimeout(m.cfg.Timeout).
		SetAutoReconnect(false)
	c := m.newClient(opts)
	if err := wait(ctx, c.Connect(), m.cfg.Timeout); err != nil {
		return errcode.Wrap(errcode.NotConnected, "status.mqtt", err)
	}
	defer c.Disconnect(250)

	if err := wait(ctx, c.Publish(m.Topic(r.Device), m.cfg.QoS, true, payload), m.cfg.Timeout); err != nil {
		return errcode.Wrap(errcode.Of(err), "status.mqtt", err)
	}
	return nil
}

func wait(ctx context.Context, t mqtt.Token, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.Done():
		return t.Error()
	case <-timer.C:
		return fmt.Errorf("%w after %s", errcode.Timeout, d)
	case <-ctx.Done():
		return ctx.Err()
	}
}
