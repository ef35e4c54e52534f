// Package network owns the node's wireless link. A connect first tries known
// credentials and otherwise opens a provisioning access point with a small
// web form for network credentials and the shared secret.
package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"weatherstation-go/errcode"
	"weatherstation-go/services/notify"
	"weatherstation-go/services/store"
	"weatherstation-go/types"
	"weatherstation-go/x/strx"
)

// MaxSecretLen bounds the shared secret accepted by the portal.
const MaxSecretLen = 32

// Radio is the Wi-Fi interface. Join starts association; Connected reports
// whether it has completed.
type Radio interface {
	On(ctx context.Context) error
	Off(ctx context.Context) error
	Join(ctx context.Context, ssid, pass string) error
	Connected(ctx context.Context) (bool, error)
	StartAP(ctx context.Context, ssid string) error
	StopAP(ctx context.Context) error
	Scan(ctx context.Context) ([]string, error)
}

type Config struct {
	DeviceID string
	SSID     string // static credentials, take precedence over stored ones
	Pass     string

	ConnectTimeout time.Duration // per join attempt, default 1m
	PortalTimeout  time.Duration // default 5m
	PortalAddr     string        // default ":80"
	Provisioning   bool          // allow the access-point fallback
	BlinkPeriod    time.Duration // LED toggle while advertising, default 200ms
	HTTPTimeout    time.Duration // default 10s
}

// Submission is one completed provisioning form.
type Submission struct {
	SSID   string
	Pass   string
	Secret string
}

type portal interface {
	Start() error
	Submissions() <-chan Submission
	Close(ctx context.Context) error
}

type Manager struct {
	cfg   Config
	radio Radio
	store store.Store
	n     *notify.Notifier

	mu     sync.Mutex
	state  types.LinkState
	client *http.Client
	secret string

	newPortal func(addr, deviceID string, networks []string, n *notify.Notifier) portal
}

func New(cfg Config, radio Radio, st store.Store, n *notify.Notifier) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = time.Minute
	}
	if cfg.PortalTimeout <= 0 {
		cfg.PortalTimeout = 5 * time.Minute
	}
	if cfg.BlinkPeriod <= 0 {
		cfg.BlinkPeriod = 200 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	cfg.PortalAddr = strx.Coalesce(cfg.PortalAddr, ":80")
	if n == nil {
		n = notify.New(nil, nil, notify.Config{})
	}
	return &Manager{
		cfg:   cfg,
		radio: radio,
		store: st,
		n:     n,
		state: types.LinkIdle,
		newPortal: func(addr, id string, nets []string, n *notify.Notifier) portal {
			return NewPortal(addr, id, nets, n)
		},
	}
}

// Begin checks that the manager has everything a connect needs.
func (m *Manager) Begin() error {
	if m.cfg.DeviceID == "" {
		return &errcode.E{C: errcode.InvalidConfig, Op: "network.begin", Msg: "no device id"}
	}
	if m.radio == nil || m.store == nil {
		return &errcode.E{C: errcode.InvalidConfig, Op: "network.begin", Msg: "no radio or store"}
	}
	m.n.Info("*WIFI: HOSTNAME:", notify.Str(m.cfg.DeviceID))
	return nil
}

func (m *Manager) State() types.LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s types.LinkState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) IsConnected() bool { return m.State() == types.LinkConnected }

// HTTPClient is the handle for requests over the link; nil unless connected.
func (m *Manager) HTTPClient() *http.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != types.LinkConnected {
		return nil
	}
	return m.client
}

// Secret is the shared secret loaded for the current connection.
func (m *Manager) Secret() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secret
}

// Connect brings the link up. It never escalates: failure is reported by the
// return value and leaves the radio off.
func (m *Manager) Connect(ctx context.Context) bool {
	m.setState(types.LinkConnecting)
	if err := m.radio.On(ctx); err != nil {
		m.n.Info("*WIFI: radio:", notify.Err(err))
		return m.fail(ctx)
	}

	secret, _ := m.store.Load(store.KeySecret)
	ssid, pass := m.cfg.SSID, m.cfg.Pass
	if ssid == "" {
		ssid, _ = m.store.Load(store.KeySSID)
		pass, _ = m.store.Load(store.KeyPass)
	}

	if ssid != "" {
		err := m.join(ctx, ssid, pass)
		if err == nil {
			return m.up(secret)
		}
		m.n.Info("*WIFI: status:", notify.Str(string(errcode.Of(err))), notify.Err(err))
	}
	if !m.cfg.Provisioning {
		return m.fail(ctx)
	}
	sub, err := m.provision(ctx)
	if err != nil {
		m.n.Info("*PORTAL:", notify.Err(err))
		return m.fail(ctx)
	}
	m.persist(sub, secret)
	return m.up(strx.Coalesce(sub.Secret, secret))
}

func (m *Manager) up(secret string) bool {
	m.mu.Lock()
	m.state = types.LinkConnected
	m.client = &http.Client{Timeout: m.cfg.HTTPTimeout}
	m.secret = secret
	m.mu.Unlock()
	return true
}

func (m *Manager) fail(ctx context.Context) bool {
	_ = m.radio.Off(ctx)
	m.mu.Lock()
	m.state = types.LinkFailed
	m.client = nil
	m.secret = ""
	m.mu.Unlock()
	return false
}

// Disconnect tears the link down and powers the radio off.
func (m *Manager) Disconnect(ctx context.Context) {
	if err := m.radio.Off(ctx); err != nil {
		m.n.Info("*WIFI: off:", notify.Err(err))
	}
	m.mu.Lock()
	m.state = types.LinkIdle
	if m.client != nil {
		m.client.CloseIdleConnections()
	}
	m.client = nil
	m.secret = ""
	m.mu.Unlock()
}

// join associates and polls until connected, bounded by ConnectTimeout.
func (m *Manager) join(ctx context.Context, ssid, pass string) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if err := m.radio.Join(ctx, ssid, pass); err != nil {
		return errcode.Wrap(errcode.RadioFailure, "join", err)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0
	err := backoff.Retry(func() error {
		ok, err := m.radio.Connected(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errcode.NotConnected
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil && ctx.Err() != nil {
		return errcode.Wrap(errcode.Timeout, "join", err)
	}
	return err
}

// provision advertises an access point named after the device and waits for a
// form submission that joins successfully, or for the portal timeout.
func (m *Manager) provision(ctx context.Context) (Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.PortalTimeout)
	defer cancel()

	networks, err := m.radio.Scan(ctx)
	if err != nil {
		m.n.Info("*PORTAL: scan:", notify.Err(err))
	}
	if err := m.radio.StartAP(ctx, m.cfg.DeviceID); err != nil {
		return Submission{}, errcode.Wrap(errcode.RadioFailure, "portal.ap", err)
	}
	stop := m.n.Signal().Blink(m.cfg.BlinkPeriod)
	defer stop()

	p := m.newPortal(m.cfg.PortalAddr, m.cfg.DeviceID, networks, m.n)
	if err := p.Start(); err != nil {
		_ = m.radio.StopAP(context.Background())
		return Submission{}, errcode.Wrap(errcode.SetupFailed, "portal.start", err)
	}
	defer func() {
		cctx, ccancel := context.WithTimeout(context.Background(), time.Second)
		defer ccancel()
		_ = p.Close(cctx)
	}()
	m.n.Info("*PORTAL: SSID:", notify.Str(m.cfg.DeviceID))

	for {
		select {
		case <-ctx.Done():
			_ = m.radio.StopAP(context.Background())
			return Submission{}, errcode.Wrap(errcode.PortalTimeout, "portal", ctx.Err())
		case sub := <-p.Submissions():
			sub.Secret = strx.Truncate(sub.Secret, MaxSecretLen)
			_ = m.radio.StopAP(ctx)
			err := m.join(ctx, sub.SSID, sub.Pass)
			if err == nil {
				return sub, nil
			}
			m.n.Info("*PORTAL: join failed:", notify.Str(sub.SSID), notify.Err(err))
			if err := m.radio.StartAP(ctx, m.cfg.DeviceID); err != nil {
				return Submission{}, errcode.Wrap(errcode.RadioFailure, "portal.ap", err)
			}
		}
	}
}

// persist stores provisioned credentials; the secret only when it changed.
func (m *Manager) persist(sub Submission, old string) {
	if err := m.store.Save(store.KeySSID, sub.SSID); err != nil {
		m.n.Warn("Failed to save network credentials!", notify.Err(err))
	}
	if err := m.store.Save(store.KeyPass, sub.Pass); err != nil {
		m.n.Warn("Failed to save network credentials!", notify.Err(err))
	}
	if sub.Secret != "" && sub.Secret != old {
		if err := m.store.Save(store.KeySecret, sub.Secret); err != nil {
			m.n.Warn("Failed to save shared secret!", notify.Err(err))
		}
	}
}
