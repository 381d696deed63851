package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/cr4wler/internal/errors"
	"github.com/anstrom/cr4wler/internal/logging"
	"github.com/anstrom/cr4wler/internal/metrics"
	"github.com/anstrom/cr4wler/internal/scanning"
)

const (
	hostExistsQuery = `SELECT EXISTS(SELECT 1 FROM hosts WHERE ip = $1)`

	insertHostQuery = `
		INSERT INTO hosts (ip, os_name, os_accuracy, geolocation, rdns, whois, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	insertPortQuery = `
		INSERT INTO ports (
			host_id, position, port, service, version, product,
			banner, http_title, ssl_cert
		)
		VALUES (
			:host_id, :position, :port, :service, :version, :product,
			:banner, :http_title, :ssl_cert
		)`

	listHostsQuery = `
		SELECT id, ip, os_name, os_accuracy, geolocation, rdns, whois, timestamp
		FROM hosts
		ORDER BY id`

	listPortsQuery = `
		SELECT host_id, position, port, service, version, product,
		       banner, http_title, ssl_cert
		FROM ports
		ORDER BY host_id, position`
)

type saveOutcome int

const (
	outcomeAccepted saveOutcome = iota
	outcomeRejected
	outcomeFailed
)

// HostRepository stores and lists scan results. Each host is committed in
// its own transaction; the unique constraint on hosts.ip decides which of
// two concurrent submissions for the same address wins.
type HostRepository struct {
	db       *DB
	validate *validator.Validate
	metrics  *metrics.PrometheusMetrics
	now      func() time.Time
}

// HostRepositoryOption configures a HostRepository.
type HostRepositoryOption func(*HostRepository)

// WithMetrics records store outcomes and query timings on m.
func WithMetrics(m *metrics.PrometheusMetrics) HostRepositoryOption {
	return func(r *HostRepository) {
		r.metrics = m
	}
}

// WithClock overrides the clock used to stamp hosts submitted without a timestamp.
func WithClock(now func() time.Time) HostRepositoryOption {
	return func(r *HostRepository) {
		r.now = now
	}
}

// NewHostRepository creates a new host repository.
func NewHostRepository(db *DB, opts ...HostRepositoryOption) *HostRepository {
	r := &HostRepository{
		db:       db,
		validate: validator.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ping checks that the underlying database is reachable.
func (r *HostRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// SaveBatch stores every host independently. Hosts whose ip is already
// known end up in Rejected and are not an error. Hosts that could not be
// stored for any other reason end up in Failed; when at least one of those
// was a store fault the returned error is a STORE_TRANSACTION_FAILURE
// joining the individual causes. The result is always non-nil.
func (r *HostRepository) SaveBatch(ctx context.Context, hosts []scanning.Host) (*scanning.BatchResult, error) {
	result := scanning.NewBatchResult()
	now := r.now().UTC()

	var storeErrs []error
	for i := range hosts {
		h := hosts[i]
		h.Ports = append([]scanning.Port(nil), hosts[i].Ports...)
		h.Normalize(now)

		if err := r.validate.Struct(&h); err != nil {
			result.Fail(h.IP, errors.ErrMalformedInput(fmt.Sprintf("invalid host record %q", h.IP), err))
			r.metrics.AddStoredHosts(metrics.OutcomeFailed, 1)
			continue
		}

		start := time.Now()
		outcome, err := r.saveHost(ctx, &h)
		r.metrics.RecordDatabaseQuery("save_host", time.Since(start), outcome != outcomeFailed)

		switch outcome {
		case outcomeAccepted:
			result.Accepted = append(result.Accepted, h.IP)
			r.metrics.AddStoredHosts(metrics.OutcomeAccepted, 1)
		case outcomeRejected:
			logging.Debug("Rejected duplicate host", "ip", h.IP)
			result.Rejected = append(result.Rejected, h.IP)
			r.metrics.AddStoredHosts(metrics.OutcomeRejected, 1)
		default:
			logging.ErrorDatabase("Failed to store host", err, "ip", h.IP)
			result.Fail(h.IP, err)
			storeErrs = append(storeErrs, fmt.Errorf("%s: %w", h.IP, err))
			r.metrics.AddStoredHosts(metrics.OutcomeFailed, 1)
		}
	}

	if len(storeErrs) > 0 {
		return result, errors.WrapDatabaseError(errors.CodeStoreTransaction,
			fmt.Sprintf("%d of %d hosts could not be stored", len(storeErrs), len(hosts)),
			stderrors.Join(storeErrs...)).WithOperation("save batch")
	}
	return result, nil
}

// saveHost runs the check-insert-commit sequence for one host.
func (r *HostRepository) saveHost(ctx context.Context, h *scanning.Host) (saveOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return outcomeFailed, sanitizeDBError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowxContext(ctx, hostExistsQuery, h.IP).Scan(&exists); err != nil {
		return outcomeFailed, sanitizeDBError("check host", err)
	}
	if exists {
		return outcomeRejected, nil
	}

	geolocation, err := NewJSONB(h.Geolocation)
	if err != nil {
		return outcomeFailed, errors.ErrMalformedInput("geolocation is not serializable", err)
	}
	whois, err := NewJSONB(h.Whois)
	if err != nil {
		return outcomeFailed, errors.ErrMalformedInput("whois is not serializable", err)
	}

	var hostID int64
	err = tx.QueryRowxContext(ctx, insertHostQuery,
		h.IP, h.OSName, h.OSAccuracy, geolocation, h.RDNS, whois, h.Timestamp,
	).Scan(&hostID)
	if isUniqueViolation(err) {
		return outcomeRejected, nil
	}
	if err != nil {
		return outcomeFailed, sanitizeDBError("insert host", err)
	}

	for i := range h.Ports {
		p := &h.Ports[i]
		row := portRow{
			HostID:    hostID,
			Position:  i,
			Port:      p.Port,
			Service:   p.Service,
			Version:   p.Version,
			Product:   p.Product,
			Banner:    p.Banner,
			HTTPTitle: p.HTTPTitle,
			SSLCert:   p.SSLCert,
		}
		if _, err := tx.NamedExecContext(ctx, insertPortQuery, row); err != nil {
			return outcomeFailed, sanitizeDBError("insert port", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return outcomeRejected, nil
		}
		return outcomeFailed, sanitizeDBError("commit host", err)
	}
	return outcomeAccepted, nil
}

// ListAll returns every stored host with its ports, hosts in insertion
// order and ports in submission order. Both reads share one snapshot.
func (r *HostRepository) ListAll(ctx context.Context) ([]scanning.Host, error) {
	start := time.Now()
	hosts, err := r.listAll(ctx)
	r.metrics.RecordDatabaseQuery("list_hosts", time.Since(start), err == nil)
	return hosts, err
}

func (r *HostRepository) listAll(ctx context.Context) ([]scanning.Host, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, sanitizeDBError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var hostRows []hostRow
	if err := tx.SelectContext(ctx, &hostRows, listHostsQuery); err != nil {
		return nil, sanitizeDBError("list hosts", err)
	}

	var portRows []portRow
	if err := tx.SelectContext(ctx, &portRows, listPortsQuery); err != nil {
		return nil, sanitizeDBError("list ports", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, sanitizeDBError("commit read", err)
	}

	portsByHost := make(map[int64][]scanning.Port, len(hostRows))
	for i := range portRows {
		row := &portRows[i]
		portsByHost[row.HostID] = append(portsByHost[row.HostID], row.toPort())
	}

	hosts := make([]scanning.Host, 0, len(hostRows))
	for i := range hostRows {
		h, err := hostRows[i].toHost()
		if err != nil {
			return nil, errors.WrapDatabaseError(errors.CodeDatabaseQuery, "stored host could not be decoded", err).
				WithOperation("list hosts")
		}
		if ports, ok := portsByHost[hostRows[i].ID]; ok {
			h.Ports = ports
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}
