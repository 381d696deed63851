package enrichment

import (
	"github.com/anstrom/cr4wler/internal/config"
	"github.com/anstrom/cr4wler/internal/errors"
)

// Geolocation provider names accepted in configuration.
const (
	ProviderIPInfo  = "ipinfo"
	ProviderMaxMind = "maxmind"
	ProviderNone    = "none"
)

// NewFromConfig builds an Enricher with the providers cfg selects. Extra
// options are applied last. Callers should Close the result.
func NewFromConfig(cfg config.EnrichmentConfig, opts ...Option) (*Enricher, error) {
	client := newHTTPClient(cfg.LookupTimeout)
	base := []Option{WithTimeout(cfg.LookupTimeout)}

	switch cfg.GeoProvider {
	case ProviderIPInfo:
		base = append(base, WithGeoLocator(NewIPInfoLocator(cfg.IPInfoURL, cfg.IPInfoToken, client)))
	case ProviderMaxMind:
		locator, err := OpenMaxMindLocator(cfg.MaxMindCityDB, cfg.MaxMindASNDB)
		if err != nil {
			return nil, errors.WrapConfigError(errors.CodeConfiguration,
				"cannot open GeoIP databases", err)
		}
		base = append(base, WithGeoLocator(locator))
	case ProviderNone, "":
	default:
		return nil, errors.ErrConfigInvalid("enrichment.geo_provider", cfg.GeoProvider)
	}

	if cfg.RDNSEnabled {
		base = append(base, WithReverseResolver(NewDNSResolver(cfg.DNSServer)))
	}
	if cfg.WhoisEnabled {
		base = append(base, WithWhoisLookup(NewRDAPWhois(cfg.RDAPURL, client)))
	}

	return New(append(base, opts...)...), nil
}
