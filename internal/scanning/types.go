package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// Unknown marks a service or OS attribute the deep scan could not determine.
	Unknown = "unknown"
	// NotAvailable marks a probe result (banner, title, certificate, rDNS) that was not produced.
	NotAvailable = "N/A"

	// DefaultPorts is the fixed port set probed by both scan phases.
	DefaultPorts = "21,22,23,25,53,80,110,143,443,445,3389,389,636,3306,5432"
)

// Host is the canonical record for one discovered address.
type Host struct {
	IP          string            `json:"ip" validate:"required,ip"`
	OSName      string            `json:"os_name"`
	OSAccuracy  string            `json:"os_accuracy"`
	Geolocation map[string]any    `json:"geolocation"`
	RDNS        string            `json:"rdns"`
	Whois       map[string]string `json:"whois"`
	Timestamp   time.Time         `json:"timestamp"`
	Ports       []Port            `json:"ports" validate:"dive"`
}

// Port is one open port observed on a Host. The port number is accepted as
// a JSON number or a numeric string.
type Port struct {
	Port      int    `json:"port" validate:"min=0,max=65535"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Product   string `json:"product"`
	Banner    string `json:"banner"`
	HTTPTitle string `json:"http_title"`
	SSLCert   string `json:"ssl_cert"`
}

// NewHost returns a host for ip with every optional field at its sentinel.
func NewHost(ip string) Host {
	h := Host{IP: ip}
	h.Normalize(time.Time{})
	return h
}

// Normalize fills absent fields with their sentinels and sets the timestamp
// to now when unset. Timestamps are always stored in UTC.
func (h *Host) Normalize(now time.Time) {
	h.IP = strings.TrimSpace(h.IP)
	h.OSName = orDefault(h.OSName, Unknown)
	h.OSAccuracy = orDefault(h.OSAccuracy, Unknown)
	h.RDNS = orDefault(h.RDNS, NotAvailable)
	if h.Geolocation == nil {
		h.Geolocation = map[string]any{}
	}
	if h.Whois == nil {
		h.Whois = map[string]string{}
	}
	if h.Ports == nil {
		h.Ports = []Port{}
	}
	for i := range h.Ports {
		h.Ports[i].normalize()
	}
	if h.Timestamp.IsZero() && !now.IsZero() {
		h.Timestamp = now
	}
	h.Timestamp = h.Timestamp.UTC()
}

// UnmarshalJSON decodes a port whose number may be sent as "80" or 80.
func (p *Port) UnmarshalJSON(data []byte) error {
	type portAlias Port
	aux := struct {
		*portAlias
		Port json.RawMessage `json:"port"`
	}{portAlias: (*portAlias)(p)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	n, err := parsePortNumber(aux.Port)
	if err != nil {
		return err
	}
	p.Port = n
	return nil
}

func parsePortNumber(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
		text = strings.TrimSpace(text)
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("invalid port %s", raw)
	}
	if n < 0 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range", n)
	}
	return n, nil
}

func (p *Port) normalize() {
	p.Service = orDefault(p.Service, Unknown)
	p.Version = orDefault(p.Version, Unknown)
	p.Product = orDefault(p.Product, Unknown)
	p.Banner = orDefault(p.Banner, NotAvailable)
	p.HTTPTitle = orDefault(p.HTTPTitle, NotAvailable)
	p.SSLCert = orDefault(p.SSLCert, NotAvailable)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// timestampLayouts are tried in order when decoding a submitted timestamp.
// Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// UnmarshalJSON accepts timestamps with or without a zone offset, and a
// missing or empty timestamp.
func (h *Host) UnmarshalJSON(data []byte) error {
	type hostAlias Host
	aux := struct {
		*hostAlias
		Timestamp *string `json:"timestamp"`
	}{hostAlias: (*hostAlias)(h)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Timestamp == nil || strings.TrimSpace(*aux.Timestamp) == "" {
		h.Timestamp = time.Time{}
		return nil
	}

	ts, err := ParseTimestamp(*aux.Timestamp)
	if err != nil {
		return err
	}
	h.Timestamp = ts
	return nil
}

// ParseTimestamp parses s using the accepted submission layouts.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// FailedHost is a host the store could neither accept nor reject.
type FailedHost struct {
	IP    string `json:"ip"`
	Error string `json:"error"`
	Err   error  `json:"-"`
}

// BatchResult partitions a submitted batch by outcome.
type BatchResult struct {
	Accepted []string     `json:"saved_hosts"`
	Rejected []string     `json:"rejected_hosts"`
	Failed   []FailedHost `json:"failed_hosts"`
}

// NewBatchResult returns a result with empty, non-nil partitions.
func NewBatchResult() *BatchResult {
	return &BatchResult{
		Accepted: []string{},
		Rejected: []string{},
		Failed:   []FailedHost{},
	}
}

// Fail records ip as failed with err.
func (r *BatchResult) Fail(ip string, err error) {
	r.Failed = append(r.Failed, FailedHost{IP: ip, Error: err.Error(), Err: err})
}

// Merge appends other's partitions to r.
func (r *BatchResult) Merge(other *BatchResult) {
	if other == nil {
		return
	}
	r.Accepted = append(r.Accepted, other.Accepted...)
	r.Rejected = append(r.Rejected, other.Rejected...)
	r.Failed = append(r.Failed, other.Failed...)
}
