// Package enrichment adds geolocation, reverse DNS and WHOIS data to a
// scanned host. The three lookups run concurrently, each bounded by its own
// timeout, and a failed lookup only degrades its own field.
package enrichment

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anstrom/cr4wler/internal/errors"
	"github.com/anstrom/cr4wler/internal/logging"
	"github.com/anstrom/cr4wler/internal/metrics"
	"github.com/anstrom/cr4wler/internal/scanning"
)

// DefaultLookupTimeout bounds each individual lookup.
const DefaultLookupTimeout = 10 * time.Second

// Lookup names, used in errors, logs and metric labels.
const (
	LookupGeolocation = "geolocation"
	LookupRDNS        = "rdns"
	LookupWhois       = "whois"
)

// ErrNoData is returned by providers that answered but had nothing for the
// address, such as an NXDOMAIN PTR query. It leaves the field at its sentinel
// without counting as a failure.
var ErrNoData = stderrors.New("no data for address")

// GeoLocator resolves an address to a free-form location map.
type GeoLocator interface {
	Locate(ctx context.Context, ip string) (map[string]any, error)
}

// ReverseResolver resolves an address to a host name.
type ReverseResolver interface {
	Reverse(ctx context.Context, ip string) (string, error)
}

// WhoisLookup resolves an address to registration data.
type WhoisLookup interface {
	Whois(ctx context.Context, ip string) (map[string]string, error)
}

// Result reports the lookups that failed. A nil field means that lookup
// succeeded, returned no data, or was not needed.
type Result struct {
	GeoErr   error
	RDNSErr  error
	WhoisErr error
}

// Err joins the individual lookup errors.
func (r Result) Err() error {
	return stderrors.Join(r.GeoErr, r.RDNSErr, r.WhoisErr)
}

// Enricher runs the configured lookups for a host. It holds no mutable
// state and is safe for concurrent use.
type Enricher struct {
	geo     GeoLocator
	rdns    ReverseResolver
	whois   WhoisLookup
	timeout time.Duration
	metrics *metrics.PrometheusMetrics
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithGeoLocator sets the geolocation provider.
func WithGeoLocator(g GeoLocator) Option {
	return func(e *Enricher) { e.geo = g }
}

// WithReverseResolver sets the reverse DNS provider.
func WithReverseResolver(r ReverseResolver) Option {
	return func(e *Enricher) { e.rdns = r }
}

// WithWhoisLookup sets the WHOIS provider.
func WithWhoisLookup(w WhoisLookup) Option {
	return func(e *Enricher) { e.whois = w }
}

// WithTimeout overrides DefaultLookupTimeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Enricher) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMetrics counts lookup outcomes on m.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(e *Enricher) { e.metrics = m }
}

// New creates an Enricher. Lookups without a provider are skipped.
func New(opts ...Option) *Enricher {
	e := &Enricher{timeout: DefaultLookupTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich fills the missing enrichment fields of h. Geolocation is looked up
// while it is empty, rdns while it is still the N/A sentinel, and whois while
// it is empty. Fields that already carry data are never overwritten. Enrich
// returns once every lookup has finished or timed out.
func (e *Enricher) Enrich(ctx context.Context, h *scanning.Host) Result {
	h.Normalize(time.Time{})

	var (
		res   Result
		geo   map[string]any
		rdns  string
		whois map[string]string
		g     errgroup.Group
	)

	if e.geo != nil && len(h.Geolocation) == 0 {
		g.Go(func() error {
			geo, res.GeoErr = lookup(ctx, e, LookupGeolocation, h.IP, e.geo.Locate)
			return nil
		})
	}
	if e.rdns != nil && h.RDNS == scanning.NotAvailable {
		g.Go(func() error {
			rdns, res.RDNSErr = lookup(ctx, e, LookupRDNS, h.IP, e.rdns.Reverse)
			return nil
		})
	}
	if e.whois != nil && len(h.Whois) == 0 {
		g.Go(func() error {
			whois, res.WhoisErr = lookup(ctx, e, LookupWhois, h.IP, e.whois.Whois)
			return nil
		})
	}
	_ = g.Wait()

	if res.GeoErr == nil && len(geo) > 0 {
		h.Geolocation = geo
	}
	if res.RDNSErr == nil && rdns != "" {
		h.RDNS = rdns
	}
	if res.WhoisErr == nil && len(whois) > 0 {
		h.Whois = whois
	}
	return res
}

type outcome[T any] struct {
	value T
	err   error
}

// lookup runs fn under the enricher's lookup timeout. fn runs in its own
// goroutine so a provider that ignores its context still cannot hold up the
// host; a late answer is discarded.
func lookup[T any](ctx context.Context, e *Enricher, name, ip string,
	fn func(context.Context, string) (T, error)) (T, error) {
	lctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := fn(lctx, ip)
		done <- outcome[T]{value: v, err: err}
	}()

	var zero T
	var err error
	select {
	case out := <-done:
		if out.err == nil {
			e.metrics.IncrementEnrichmentLookups(name, metrics.StatusSuccess)
			return out.value, nil
		}
		err = out.err
	case <-lctx.Done():
		err = lctx.Err()
	}

	if stderrors.Is(err, ErrNoData) {
		logging.Debug("Enrichment lookup returned no data", "lookup", name, "target", ip)
		e.metrics.IncrementEnrichmentLookups(name, metrics.StatusEmpty)
		return zero, nil
	}

	code, status := errors.CodeEnrichmentUnavailable, metrics.StatusUnavailable
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(lctx.Err(), context.DeadlineExceeded) {
		code, status = errors.CodeEnrichmentTimeout, metrics.StatusTimeout
	}
	e.metrics.IncrementEnrichmentLookups(name, status)
	logging.WarnEnrichment("Enrichment lookup failed", name, ip, err)
	return zero, errors.WrapEnrichmentError(code, name, ip, err)
}

// Close releases providers that hold resources, such as open GeoIP databases.
func (e *Enricher) Close() error {
	var errs []error
	for _, p := range []any{e.geo, e.rdns, e.whois} {
		if c, ok := p.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return stderrors.Join(errs...)
}
