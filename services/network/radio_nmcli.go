package network

import (
	"context"
	"os/exec"
	"strings"

	"weatherstation-go/errcode"
	"weatherstation-go/x/strx"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NMCLI drives NetworkManager through its command-line client.
type NMCLI struct {
	Iface string // default wlan0
	Run   Runner
}

const apConnection = "weathernode-ap"

func (r NMCLI) iface() string { return strx.Coalesce(r.Iface, "wlan0") }

func (r NMCLI) run(ctx context.Context, args ...string) (string, error) {
	run := r.Run
	if run == nil {
		run = execRunner
	}
	out, err := run(ctx, "nmcli", args...)
	if err != nil {
		return "", &errcode.E{C: errcode.RadioFailure, Op: "nmcli " + args[0], Msg: strings.TrimSpace(string(out)), Err: err}
	}
	return string(out), nil
}

func (r NMCLI) On(ctx context.Context) error {
	_, err := r.run(ctx, "radio", "wifi", "on")
	return err
}

func (r NMCLI) Off(ctx context.Context) error {
	_, err := r.run(ctx, "radio", "wifi", "off")
	return err
}

// Join asks NetworkManager to connect without waiting for activation.
func (r NMCLI) Join(ctx context.Context, ssid, pass string) error {
	args := []string{"--wait", "0", "device", "wifi", "connect", ssid}
	if pass != "" {
		args = append(args, "password", pass)
	}
	args = append(args, "ifname", r.iface())
	_, err := r.run(ctx, args...)
	return err
}

func (r NMCLI) Connected(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "-t", "-f", "DEVICE,STATE", "device", "status")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		dev, state, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && dev == r.iface() {
			return state == "connected", nil
		}
	}
	return false, nil
}

// StartAP brings up an open access point with a shared IPv4 subnet.
func (r NMCLI) StartAP(ctx context.Context, ssid string) error {
	_, _ = r.run(ctx, "connection", "delete", apConnection)
	if _, err := r.run(ctx, "connection", "add", "type", "wifi", "ifname", r.iface(),
		"con-name", apConnection, "autoconnect", "no", "ssid", ssid,
		"802-11-wireless.mode", "ap", "ipv4.method", "shared"); err != nil {
		return err
	}
	_, err := r.run(ctx, "connection", "up", apConnection)
	return err
}

func (r NMCLI) StopAP(ctx context.Context) error {
	_, _ = r.run(ctx, "connection", "down", apConnection)
	_, err := r.run(ctx, "connection", "delete", apConnection)
	return err
}

// Scan returns the visible SSIDs, without duplicates or hidden networks.
func (r NMCLI) Scan(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "-t", "-f", "SSID", "device", "wifi", "list", "--rescan", "yes")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var nets []string
	for _, line := range strings.Split(out, "\n") {
		s := unescapeTerse(strings.TrimSpace(line))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		nets = append(nets, s)
	}
	return nets, nil
}

// unescapeTerse undoes nmcli -t quoting, which writes ':' and '\' in values
// as "\:" and "\\".
func unescapeTerse(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
