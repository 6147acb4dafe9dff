package wifi

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CommandRunner runs an external command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// NmcliAssociator drives NetworkManager through nmcli.
type NmcliAssociator struct {
	iface          string
	attemptTimeout time.Duration
	logger         zerolog.Logger
	run            CommandRunner

	mu          sync.Mutex
	credentials []Credential
}

// NewNmcliAssociator creates an associator for the wireless interface iface.
func NewNmcliAssociator(iface string, attemptTimeout time.Duration, logger zerolog.Logger) *NmcliAssociator {
	return NewNmcliAssociatorWithRunner(iface, attemptTimeout, logger, execRunner)
}

// NewNmcliAssociatorWithRunner is NewNmcliAssociator with a custom command runner.
func NewNmcliAssociatorWithRunner(iface string, attemptTimeout time.Duration, logger zerolog.Logger, run CommandRunner) *NmcliAssociator {
	return &NmcliAssociator{
		iface:          iface,
		attemptTimeout: attemptTimeout,
		logger:         logger,
		run:            run,
	}
}

// Configure stores the credentials and sets the host name. A failure to set
// the host name is logged only.
func (n *NmcliAssociator) Configure(hostname string, credentials []Credential) error {
	if len(credentials) == 0 {
		return fmt.Errorf("no known networks configured")
	}

	n.mu.Lock()
	n.credentials = append([]Credential(nil), credentials...)
	n.mu.Unlock()

	if hostname != "" {
		ctx, cancel := context.WithTimeout(context.Background(), n.attemptTimeout)
		defer cancel()
		if _, err := n.run(ctx, "nmcli", "general", "hostname", hostname); err != nil {
			n.logger.Warn().Err(err).Str("hostname", hostname).Msg("Failed to set hostname")
		}
	}
	return nil
}

// Connected reports whether the interface has an active wireless network.
func (n *NmcliAssociator) Connected() bool {
	return n.NetworkName() != ""
}

// NetworkName returns the SSID of the active network or "" when not associated.
func (n *NmcliAssociator) NetworkName() string {
	ctx, cancel := context.WithTimeout(context.Background(), n.attemptTimeout)
	defer cancel()

	out, err := n.run(ctx, "nmcli", "-t", "-f", "ACTIVE,SSID", "device", "wifi", "list", "ifname", n.iface, "--rescan", "no")
	if err != nil {
		n.logger.Debug().Err(err).Msg("Failed to query active network")
		return ""
	}
	return parseActiveSSID(string(out))
}

// Associate tries the known networks in order and stops at the first success.
func (n *NmcliAssociator) Associate(ctx context.Context) (bool, error) {
	n.mu.Lock()
	credentials := n.credentials
	n.mu.Unlock()

	var lastErr error
	for _, cred := range credentials {
		attemptCtx, cancel := context.WithTimeout(ctx, n.attemptTimeout)
		args := []string{"device", "wifi", "connect", cred.SSID, "ifname", n.iface}
		if cred.Password != "" {
			args = append(args, "password", cred.Password)
		}
		_, err := n.run(attemptCtx, "nmcli", args...)
		cancel()

		if err == nil {
			return true, nil
		}
		n.logger.Debug().Err(err).Str("ssid", cred.SSID).Msg("Association attempt failed")
		lastErr = err

		if ctx.Err() != nil {
			return false, ctx.Err()
		}
	}
	return false, lastErr
}

// Address returns the first IPv4 address of the interface.
func (n *NmcliAssociator) Address() string {
	ctx, cancel := context.WithTimeout(context.Background(), n.attemptTimeout)
	defer cancel()

	out, err := n.run(ctx, "nmcli", "-g", "IP4.ADDRESS", "device", "show", n.iface)
	if err != nil {
		return ""
	}
	first, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	first, _, _ = strings.Cut(first, " | ")
	return strings.TrimSpace(first)
}

// parseActiveSSID extracts the SSID from terse "ACTIVE:SSID" lines. Colons
// inside the SSID are escaped by nmcli as "\:".
func parseActiveSSID(out string) string {
	for _, line := range strings.Split(out, "\n") {
		active, ssid, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && active == "yes" {
			return strings.ReplaceAll(ssid, `\:`, ":")
		}
	}
	return ""
}
