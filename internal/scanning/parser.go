package scanning

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/cr4wler/internal/errors"
	"github.com/anstrom/cr4wler/internal/logging"
)

// Script identifiers requested from the deep scan.
const (
	ScriptBanner    = "banner"
	ScriptHTTPTitle = "http-title"
	ScriptSSLCert   = "ssl-cert"
	ScriptWhoisIP   = "whois-ip"
)

// DeepScanScripts is the script set passed to nmap during the deep phase.
var DeepScanScripts = []string{ScriptBanner, ScriptHTTPTitle, ScriptSSLCert, ScriptWhoisIP}

// ParseDeepScan converts nmap XML output into canonical hosts. Empty input
// yields no hosts. Hosts without an address are skipped and logged.
func ParseDeepScan(data []byte) ([]Host, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []Host{}, nil
	}

	run := &nmap.Run{}
	if err := nmap.Parse(data, run); err != nil {
		return nil, errors.ErrMalformedInput("deep scan output is not valid nmap XML", err)
	}
	return ParseDeepScanRun(run)
}

// ParseDeepScanRun converts an already decoded nmap run into canonical hosts.
func ParseDeepScanRun(run *nmap.Run) ([]Host, error) {
	hosts := []Host{}
	if run == nil {
		return hosts, nil
	}

	for i := range run.Hosts {
		host, err := ConvertHost(&run.Hosts[i])
		if err != nil {
			logging.Warn("Skipping deep scan host", "error", err, "index", i)
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts, nil
}

// ConvertHost maps one nmap host onto a Host. Missing sub-fields fall back
// to their sentinels; only a missing address is an error.
func ConvertHost(h *nmap.Host) (Host, error) {
	ip := hostAddress(h)
	if ip == "" {
		return Host{}, errors.NewScanError(errors.CodeMalformedInput, "host has no IP address")
	}

	host := NewHost(ip)

	if len(h.OS.Matches) > 0 {
		match := h.OS.Matches[0]
		host.OSName = orDefault(match.Name, Unknown)
		host.OSAccuracy = orDefault(fmt.Sprint(match.Accuracy), Unknown)
	}

	for _, hn := range h.Hostnames {
		if name := strings.TrimSpace(hn.Name); name != "" {
			host.RDNS = name
			break
		}
	}

	for i := range h.HostScripts {
		if h.HostScripts[i].ID == ScriptWhoisIP {
			host.Whois = whoisFromScript(&h.HostScripts[i])
			break
		}
	}

	host.Ports = make([]Port, 0, len(h.Ports))
	for i := range h.Ports {
		p := &h.Ports[i]
		if p.State.State != "" && p.State.State != "open" {
			continue
		}
		host.Ports = append(host.Ports, convertPort(p))
	}

	return host, nil
}

// hostAddress prefers IPv4, then IPv6, then any address that parses as an IP.
func hostAddress(h *nmap.Host) string {
	var fallback string
	for _, addr := range h.Addresses {
		switch addr.AddrType {
		case "ipv4", "ipv6":
			if net.ParseIP(addr.Addr) != nil {
				return addr.Addr
			}
		default:
			if fallback == "" && net.ParseIP(addr.Addr) != nil {
				fallback = addr.Addr
			}
		}
	}
	return fallback
}

func convertPort(p *nmap.Port) Port {
	port := Port{
		Port:    int(p.ID),
		Service: p.Service.Name,
		Version: p.Service.Version,
		Product: p.Service.Product,
	}

	for i := range p.Scripts {
		s := &p.Scripts[i]
		switch s.ID {
		case ScriptBanner:
			port.Banner = strings.TrimSpace(s.Output)
		case ScriptHTTPTitle:
			port.HTTPTitle = httpTitle(s)
		case ScriptSSLCert:
			port.SSLCert = strings.TrimSpace(s.Output)
		}
	}

	port.normalize()
	return port
}

func httpTitle(s *nmap.Script) string {
	for _, el := range s.Elements {
		if el.Key == "title" {
			if v := strings.TrimSpace(el.Value); v != "" {
				return v
			}
		}
	}
	return strings.TrimSpace(s.Output)
}

// whoisFromScript maps whois-ip elements to key/value pairs. Elements with no
// key are stored under NotAvailable.
func whoisFromScript(s *nmap.Script) map[string]string {
	whois := make(map[string]string, len(s.Elements))
	for _, el := range s.Elements {
		key := orDefault(strings.TrimSpace(el.Key), NotAvailable)
		whois[key] = strings.TrimSpace(el.Value)
	}
	if len(whois) == 0 {
		if out := strings.TrimSpace(s.Output); out != "" {
			whois["raw"] = out
		}
	}
	return whois
}

// ParseBroadScan reads masscan list output (-oL) and returns the unique open
// addresses in the order first seen. Comment lines and blank input are
// ignored.
func ParseBroadScan(r io.Reader) ([]string, error) {
	seen := make(map[string]struct{})
	addrs := []string{}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// open tcp 80 10.0.0.1 1700000000
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, errors.ErrMalformedInput(fmt.Sprintf("broad scan line %d has %d fields", lineNo, len(fields)), nil)
		}
		if fields[0] != "open" {
			continue
		}
		ip := fields[3]
		if net.ParseIP(ip) == nil {
			return nil, errors.ErrMalformedInput(fmt.Sprintf("broad scan line %d has invalid address %q", lineNo, ip), nil)
		}
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}
		addrs = append(addrs, ip)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.ErrMalformedInput("failed to read broad scan output", err)
	}
	return addrs, nil
}
