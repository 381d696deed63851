package scanning

import (
	"context"
	stderrors "errors"
	"os/exec"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/cr4wler/internal/errors"
	"github.com/anstrom/cr4wler/internal/logging"
)

const nmapBinary = "nmap"

// NmapScanner runs the deep per-address phase: OS and service detection
// plus the banner, http-title, ssl-cert and whois-ip scripts.
type NmapScanner struct {
	path    string
	timeout time.Duration
}

// NewNmapScanner returns a deep scanner. An empty path uses nmap from PATH;
// a zero timeout leaves the scan bounded only by the caller's context.
func NewNmapScanner(path string, timeout time.Duration) *NmapScanner {
	return &NmapScanner{path: path, timeout: timeout}
}

// Available reports whether the nmap binary can be found.
func (n *NmapScanner) Available() error {
	bin := n.path
	if bin == "" {
		bin = nmapBinary
	}
	if _, err := exec.LookPath(bin); err != nil {
		return errors.ErrToolUnavailable(nmapBinary, err)
	}
	return nil
}

// buildOptions creates the nmap options for a deep scan of one address.
func (n *NmapScanner) buildOptions(ip, ports string) []nmap.Option {
	options := []nmap.Option{
		nmap.WithTargets(ip),
		nmap.WithPorts(ports),
		nmap.WithVerbosity(1),
		nmap.WithOSDetection(),
		nmap.WithServiceInfo(),
		nmap.WithOpenOnly(),
		nmap.WithScripts(DeepScanScripts...),
	}
	if n.path != "" {
		options = append(options, nmap.WithBinaryPath(n.path))
	}
	return options
}

// Scan deep-scans ip and returns the decoded run. The run stays in memory
// and is handed straight to the parser.
func (n *NmapScanner) Scan(ctx context.Context, ip, ports string) (*nmap.Run, error) {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	scanner, err := nmap.NewScanner(ctx, n.buildOptions(ip, ports)...)
	if err != nil {
		if stderrors.Is(err, nmap.ErrNmapNotInstalled) {
			return nil, errors.ErrToolUnavailable(nmapBinary, err)
		}
		return nil, errors.WrapScanErrorWithTarget(errors.CodeScanFailed, "failed to create nmap scanner", ip, err)
	}

	result, warnings, err := scanner.Run()
	if warnings != nil && len(*warnings) > 0 {
		logging.Debug("Deep scan completed with warnings", "target", ip, "warnings", *warnings)
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.WrapScanErrorWithTarget(errors.CodeTimeout, "deep scan timed out", ip, err)
		}
		return nil, errors.WrapScanErrorWithTarget(errors.CodeScanFailed, "deep scan failed", ip, err)
	}

	return result, nil
}
