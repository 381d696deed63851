package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anstrom/cr4wler/internal/scanning"
)

// JSONB wraps json.RawMessage for PostgreSQL JSONB type.
type JSONB json.RawMessage

// NewJSONB marshals v into a JSONB value. A nil map becomes {}.
func NewJSONB(v any) (JSONB, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		data = []byte("{}")
	}
	return JSONB(data), nil
}

// Scan implements sql.Scanner for PostgreSQL JSONB type.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append(JSONB(nil), v...)
		return nil
	case string:
		*j = JSONB(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// Value implements driver.Valuer for PostgreSQL JSONB type. The value is
// sent as text; lib/pq would encode a byte slice as bytea.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return string(j), nil
}

// String returns the JSON string.
func (j JSONB) String() string {
	return string(j)
}

// MarshalJSON implements json.Marshaler.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = append(JSONB(nil), data...)
	return nil
}

// hostRow mirrors a row of the hosts table.
type hostRow struct {
	ID          int64     `db:"id"`
	IP          string    `db:"ip"`
	OSName      string    `db:"os_name"`
	OSAccuracy  string    `db:"os_accuracy"`
	Geolocation JSONB     `db:"geolocation"`
	RDNS        string    `db:"rdns"`
	Whois       JSONB     `db:"whois"`
	Timestamp   time.Time `db:"timestamp"`
}

// portRow mirrors a row of the ports table.
type portRow struct {
	HostID    int64  `db:"host_id"`
	Position  int    `db:"position"`
	Port      int    `db:"port"`
	Service   string `db:"service"`
	Version   string `db:"version"`
	Product   string `db:"product"`
	Banner    string `db:"banner"`
	HTTPTitle string `db:"http_title"`
	SSLCert   string `db:"ssl_cert"`
}

func (r *hostRow) toHost() (scanning.Host, error) {
	h := scanning.Host{
		IP:         r.IP,
		OSName:     r.OSName,
		OSAccuracy: r.OSAccuracy,
		RDNS:       r.RDNS,
		Timestamp:  r.Timestamp.UTC(),
		Ports:      []scanning.Port{},
	}
	if len(r.Geolocation) > 0 {
		if err := json.Unmarshal(r.Geolocation, &h.Geolocation); err != nil {
			return h, fmt.Errorf("decode geolocation for %s: %w", r.IP, err)
		}
	}
	if len(r.Whois) > 0 {
		if err := json.Unmarshal(r.Whois, &h.Whois); err != nil {
			return h, fmt.Errorf("decode whois for %s: %w", r.IP, err)
		}
	}
	h.Normalize(time.Time{})
	return h, nil
}

func (r *portRow) toPort() scanning.Port {
	return scanning.Port{
		Port:      r.Port,
		Service:   r.Service,
		Version:   r.Version,
		Product:   r.Product,
		Banner:    r.Banner,
		HTTPTitle: r.HTTPTitle,
		SSLCert:   r.SSLCert,
	}
}
