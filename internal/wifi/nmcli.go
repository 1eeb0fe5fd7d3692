// Package wifi adapts the host Wi-Fi stack to core.WifiController.
package wifi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ChrisB0-2/apguard/internal/core"
	"github.com/ChrisB0-2/apguard/internal/logger"
)

const wirelessType = "802-11-wireless"

// Runner executes a command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
		}
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
	}
	return out, nil
}

// NMCLIConfig configures the NetworkManager adapter.
type NMCLIConfig struct {
	Binary    string // default "nmcli"
	Interface string // wifi device; empty lets NetworkManager choose
}

// NMCLI drives NetworkManager through nmcli's terse output. A saved
// profile is "enabled" when its connection.autoconnect is on.
type NMCLI struct {
	bin    string
	iface  string
	runner Runner
	log    logger.Logger
}

// NewNMCLI creates the adapter. A nil runner uses ExecRunner.
func NewNMCLI(cfg NMCLIConfig, runner Runner, log logger.Logger) *NMCLI {
	if cfg.Binary == "" {
		cfg.Binary = "nmcli"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &NMCLI{bin: cfg.Binary, iface: cfg.Interface, runner: runner, log: log}
}

func (n *NMCLI) run(ctx context.Context, args ...string) ([]byte, error) {
	out, err := n.runner.Run(ctx, n.bin, args...)
	if err != nil {
		n.log.Debug("nmcli failed", logger.F("args", strings.Join(args, " ")), logger.F("error", err.Error()))
	}
	return out, err
}

// ConfiguredNetworks lists saved wireless profiles. It returns
// core.ErrUnavailable when the radio is off or NetworkManager is unreachable.
func (n *NMCLI) ConfiguredNetworks(ctx context.Context) ([]core.ConfiguredNetwork, error) {
	if err := n.radioEnabled(ctx); err != nil {
		return nil, err
	}

	out, err := n.run(ctx, "-t", "-f", "NAME,UUID,TYPE", "connection", "show")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUnavailable, err)
	}

	networks := []core.ConfiguredNetwork{}
	for _, fields := range parseTerse(out) {
		if len(fields) < 3 || fields[2] != wirelessType {
			continue
		}
		net, err := n.profile(ctx, fields[0], fields[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrUnavailable, err)
		}
		networks = append(networks, net)
	}
	return networks, nil
}

func (n *NMCLI) profile(ctx context.Context, name, uuid string) (core.ConfiguredNetwork, error) {
	out, err := n.run(ctx, "-t", "-f",
		"802-11-wireless.ssid,802-11-wireless.hidden,802-11-wireless-security.key-mgmt",
		"connection", "show", uuid)
	if err != nil {
		return core.ConfiguredNetwork{}, err
	}

	net := core.ConfiguredNetwork{Network: core.NetworkName(name), Handle: uuid}
	for _, fields := range parseTerse(out) {
		if len(fields) < 2 {
			continue
		}
		value := fields[1]
		switch fields[0] {
		case "802-11-wireless.ssid":
			if value != "" && value != "--" {
				net.Network = core.NetworkName(value)
			}
		case "802-11-wireless.hidden":
			net.Hidden = value == "yes"
		case "802-11-wireless-security.key-mgmt":
			net.Enterprise = strings.HasPrefix(value, "wpa-eap")
		}
	}
	return net, nil
}

// ObservedAccessPoints lists the cached scan results. Entries without an
// SSID (hidden broadcasts) are dropped.
func (n *NMCLI) ObservedAccessPoints(ctx context.Context) ([]core.ObservedAccessPoint, error) {
	args := []string{"-t", "-f", "SSID,BSSID,SIGNAL,SECURITY", "device", "wifi", "list", "--rescan", "no"}
	if n.iface != "" {
		args = append(args, "ifname", n.iface)
	}
	out, err := n.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUnavailable, err)
	}

	var aps []core.ObservedAccessPoint
	for _, fields := range parseTerse(out) {
		if len(fields) < 4 {
			continue
		}
		ssid := fields[0]
		if ssid == "" || ssid == "--" {
			continue
		}
		signal, _ := strconv.Atoi(fields[2])
		aps = append(aps, core.ObservedAccessPoint{
			Network:     core.NetworkName(ssid),
			AccessPoint: core.NormalizeAccessPointID(fields[1]),
			SignalDBm:   percentToDBm(signal),
			Enterprise:  strings.Contains(fields[3], "802.1X"),
		})
	}
	return aps, nil
}

// Enable turns autoconnect on. With exclusive set every other wireless
// profile has autoconnect turned off.
func (n *NMCLI) Enable(ctx context.Context, handle string, exclusive bool) error {
	if err := n.setAutoconnect(ctx, handle, true); err != nil {
		return err
	}
	if !exclusive {
		return nil
	}

	out, err := n.run(ctx, "-t", "-f", "UUID,TYPE", "connection", "show")
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}
	var errs []error
	for _, fields := range parseTerse(out) {
		if len(fields) < 2 || fields[1] != wirelessType || fields[0] == handle {
			continue
		}
		if err := n.setAutoconnect(ctx, fields[0], false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Disable turns autoconnect off and drops the connection if it is active.
func (n *NMCLI) Disable(ctx context.Context, handle string) error {
	if err := n.setAutoconnect(ctx, handle, false); err != nil {
		return err
	}

	active, err := n.activeProfiles(ctx)
	if err != nil {
		return err
	}
	if !active[handle] {
		return nil
	}
	n.log.Info("disconnecting untrusted network", logger.F("handle", handle))
	if _, err := n.run(ctx, "connection", "down", "uuid", handle); err != nil {
		return fmt.Errorf("disconnect %s: %w", handle, err)
	}
	return nil
}

// RequestReconnect asks the wifi device to connect if it is not already.
func (n *NMCLI) RequestReconnect(ctx context.Context) error {
	dev, state, err := n.wifiDevice(ctx)
	if err != nil {
		return err
	}
	if dev == "" {
		return fmt.Errorf("%w: no wifi device", core.ErrUnavailable)
	}
	if state == "connected" || strings.HasPrefix(state, "connecting") {
		return nil
	}
	if _, err := n.run(ctx, "device", "connect", dev); err != nil {
		return fmt.Errorf("connect %s: %w", dev, err)
	}
	return nil
}

// RequestScan starts a new scan.
func (n *NMCLI) RequestScan(ctx context.Context) error {
	args := []string{"device", "wifi", "rescan"}
	if n.iface != "" {
		args = append(args, "ifname", n.iface)
	}
	if _, err := n.run(ctx, args...); err != nil {
		return fmt.Errorf("rescan: %w", err)
	}
	return nil
}

// setAutoconnect writes connection.autoconnect only when it differs from
// the stored value; every modify rewrites the profile file on disk.
func (n *NMCLI) setAutoconnect(ctx context.Context, handle string, on bool) error {
	value := "no"
	if on {
		value = "yes"
	}
	if out, err := n.run(ctx, "-t", "-g", "connection.autoconnect", "connection", "show", "uuid", handle); err == nil &&
		strings.TrimSpace(string(out)) == value {
		return nil
	}
	if _, err := n.run(ctx, "connection", "modify", "uuid", handle, "connection.autoconnect", value); err != nil {
		return fmt.Errorf("set autoconnect %s=%s: %w", handle, value, err)
	}
	return nil
}

func (n *NMCLI) radioEnabled(ctx context.Context) error {
	out, err := n.run(ctx, "radio", "wifi")
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrUnavailable, err)
	}
	if strings.TrimSpace(string(out)) != "enabled" {
		return fmt.Errorf("%w: wifi radio is %s", core.ErrUnavailable, strings.TrimSpace(string(out)))
	}
	return nil
}

func (n *NMCLI) activeProfiles(ctx context.Context) (map[string]bool, error) {
	out, err := n.run(ctx, "-t", "-f", "UUID,TYPE", "connection", "show", "--active")
	if err != nil {
		return nil, fmt.Errorf("list active profiles: %w", err)
	}
	active := make(map[string]bool)
	for _, fields := range parseTerse(out) {
		if len(fields) >= 2 && fields[1] == wirelessType {
			active[fields[0]] = true
		}
	}
	return active, nil
}

// wifiDevice returns the configured interface (or the first wifi device) and its state.
func (n *NMCLI) wifiDevice(ctx context.Context) (string, string, error) {
	out, err := n.run(ctx, "-t", "-f", "DEVICE,TYPE,STATE", "device")
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", core.ErrUnavailable, err)
	}
	for _, fields := range parseTerse(out) {
		if len(fields) < 3 || fields[1] != "wifi" {
			continue
		}
		if n.iface == "" || fields[0] == n.iface {
			return fields[0], fields[2], nil
		}
	}
	return "", "", nil
}

// percentToDBm maps NetworkManager's 0..100 signal quality onto dBm.
func percentToDBm(percent int) int {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return percent/2 - 100
}

// parseTerse splits nmcli -t output into lines of fields. Colons inside
// values are escaped as "\:" and backslashes as "\\".
func parseTerse(out []byte) [][]string {
	var rows [][]string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		rows = append(rows, splitTerse(line))
	}
	return rows
}

func splitTerse(line string) []string {
	var fields []string
	var cur strings.Builder
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
		case c == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(fields, cur.String())
}

var _ core.WifiController = (*NMCLI)(nil)
