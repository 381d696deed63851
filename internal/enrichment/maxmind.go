package enrichment

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// MaxMindLocator answers geolocation lookups from local GeoLite2 databases.
// Keys follow the ipinfo.io response so both providers store the same shape.
type MaxMindLocator struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

// OpenMaxMindLocator opens the City database and, when asnPath is set, the
// ASN database.
func OpenMaxMindLocator(cityPath, asnPath string) (*MaxMindLocator, error) {
	city, err := geoip2.Open(cityPath)
	if err != nil {
		return nil, fmt.Errorf("open city database: %w", err)
	}

	l := &MaxMindLocator{city: city}
	if asnPath != "" {
		asn, err := geoip2.Open(asnPath)
		if err != nil {
			_ = city.Close()
			return nil, fmt.Errorf("open asn database: %w", err)
		}
		l.asn = asn
	}
	return l, nil
}

// Locate implements GeoLocator. The databases are memory mapped, so ctx is
// only checked before the lookup.
func (l *MaxMindLocator) Locate(ctx context.Context, ip string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid IP address %q", ip)
	}

	record, err := l.city.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("city lookup: %w", err)
	}

	out := map[string]any{"ip": ip}
	put := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	put("city", englishName(record.City.Names))
	if len(record.Subdivisions) > 0 {
		put("region", englishName(record.Subdivisions[0].Names))
	}
	put("country", record.Country.IsoCode)
	put("country_name", englishName(record.Country.Names))
	put("continent", record.Continent.Code)
	put("postal", record.Postal.Code)
	put("timezone", record.Location.TimeZone)
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		out["loc"] = fmt.Sprintf("%.4f,%.4f", record.Location.Latitude, record.Location.Longitude)
	}

	if l.asn != nil {
		if asn, err := l.asn.ASN(parsed); err == nil && asn.AutonomousSystemNumber != 0 {
			out["org"] = strings.TrimSpace(fmt.Sprintf("AS%d %s",
				asn.AutonomousSystemNumber, asn.AutonomousSystemOrganization))
		}
	}

	if len(out) == 1 {
		return nil, ErrNoData
	}
	return out, nil
}

// Close implements io.Closer.
func (l *MaxMindLocator) Close() error {
	var err error
	if l.city != nil {
		err = l.city.Close()
	}
	if l.asn != nil {
		if asnErr := l.asn.Close(); err == nil {
			err = asnErr
		}
	}
	return err
}

func englishName(names map[string]string) string {
	if names == nil {
		return ""
	}
	return names["en"]
}
