package scanning

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/anstrom/cr4wler/internal/errors"
	"github.com/anstrom/cr4wler/internal/logging"
)

const (
	masscanBinary = "masscan"
	// broadcastExclude keeps the sweep off the limited broadcast address.
	broadcastExclude = "255.255.255.255"
)

// MasscanScanner runs the broad discovery phase through the masscan binary.
type MasscanScanner struct {
	path string
}

// NewMasscanScanner returns a scanner using path, or masscan from PATH when empty.
func NewMasscanScanner(path string) *MasscanScanner {
	if path == "" {
		path = masscanBinary
	}
	return &MasscanScanner{path: path}
}

// Available reports whether the masscan binary can be found.
func (m *MasscanScanner) Available() error {
	if _, err := exec.LookPath(m.path); err != nil {
		return errors.ErrToolUnavailable(masscanBinary, err)
	}
	return nil
}

// Args returns the masscan argument list for a sweep.
func (m *MasscanScanner) Args(addressRange string, rate int, ports string) []string {
	return []string{
		"-p" + ports,
		addressRange,
		"--rate", strconv.Itoa(rate),
		"--exclude", broadcastExclude,
		"-oL", "-",
	}
}

// Discover sweeps addressRange and returns the unique responsive addresses.
func (m *MasscanScanner) Discover(ctx context.Context, addressRange string, rate int, ports string) ([]string, error) {
	args := m.Args(addressRange, rate, ports)
	logging.InfoScan("Starting broad scan", addressRange, "rate", rate, "ports", ports)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, m.path, args...) //nolint:gosec // arguments are built from validated config
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.ErrBroadPhaseFailed(addressRange, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		return nil, errors.ErrBroadPhaseFailed(addressRange, fmt.Errorf("masscan: %w: %s", err, msg))
	}

	addrs, err := ParseBroadScan(&stdout)
	if err != nil {
		return nil, errors.ErrBroadPhaseFailed(addressRange, err)
	}

	logging.InfoScan("Broad scan completed", addressRange, "candidates", len(addrs))
	return addrs, nil
}
