// Package ingest drives a crawl: a broad sweep for live addresses, then a
// deep scan, enrichment and submission for each candidate in a bounded
// worker pool. Only a missing scanner or a failed sweep aborts a run; every
// per-address failure is logged, counted, and contained to that address.
package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Ullaakut/nmap/v3"
	"github.com/google/uuid"

	"github.com/anstrom/cr4wler/internal/config"
	"github.com/anstrom/cr4wler/internal/enrichment"
	"github.com/anstrom/cr4wler/internal/errors"
	"github.com/anstrom/cr4wler/internal/logging"
	"github.com/anstrom/cr4wler/internal/metrics"
	"github.com/anstrom/cr4wler/internal/scanning"
	"github.com/anstrom/cr4wler/internal/workers"
)

// BroadScanner finds candidate addresses in a range.
type BroadScanner interface {
	Available() error
	Discover(ctx context.Context, addressRange string, rate int, ports string) ([]string, error)
}

// DeepScanner probes a single address.
type DeepScanner interface {
	Available() error
	Scan(ctx context.Context, ip, ports string) (*nmap.Run, error)
}

// Enricher adds metadata to a parsed host.
type Enricher interface {
	Enrich(ctx context.Context, h *scanning.Host) enrichment.Result
}

// Submitter hands finished hosts to the store.
type Submitter interface {
	Submit(ctx context.Context, hosts []scanning.Host) (*scanning.BatchResult, error)
}

// RunConfig parameterizes one crawl.
type RunConfig struct {
	AddressRange string
	Rate         int
	Ports        string
	Workers      int
}

// RunConfigFromConfig builds a RunConfig from the scanning section.
func RunConfigFromConfig(cfg config.ScanningConfig) RunConfig {
	return RunConfig{
		AddressRange: cfg.AddressRange,
		Rate:         cfg.Rate,
		Ports:        cfg.Ports,
		Workers:      cfg.WorkerPoolSize,
	}
}

func (c RunConfig) withDefaults() RunConfig {
	if c.AddressRange == "" {
		c.AddressRange = config.DefaultAddressRange
	}
	if c.Rate <= 0 {
		c.Rate = config.DefaultRate
	}
	if c.Ports == "" {
		c.Ports = scanning.DefaultPorts
	}
	if c.Workers <= 0 {
		c.Workers = workers.DefaultConfig().Size
	}
	return c
}

// RunSummary reports what a crawl did.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Candidates int           `json:"candidates"`
	Scanned    int           `json:"scanned"`
	Accepted   int           `json:"accepted"`
	Rejected   int           `json:"rejected"`
	Failed     int           `json:"failed"`
}

type tally struct {
	scanned, accepted, rejected, failed atomic.Int64
}

func (t *tally) addBatch(b *scanning.BatchResult) {
	t.accepted.Add(int64(len(b.Accepted)))
	t.rejected.Add(int64(len(b.Rejected)))
	t.failed.Add(int64(len(b.Failed)))
}

func (t *tally) fill(s *RunSummary) {
	s.Scanned = int(t.scanned.Load())
	s.Accepted = int(t.accepted.Load())
	s.Rejected = int(t.rejected.Load())
	s.Failed = int(t.failed.Load())
}

// Orchestrator runs crawls. It keeps no state between runs and may run
// several crawls concurrently.
type Orchestrator struct {
	broad     BroadScanner
	deep      DeepScanner
	enricher  Enricher
	submitter Submitter
	metrics   *metrics.PrometheusMetrics
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records run and deep scan metrics on m.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the clock used to stamp scanned hosts.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires the pipeline stages. enricher may be nil, in which
// case hosts are submitted with whatever the deep scan produced.
func NewOrchestrator(broad BroadScanner, deep DeepScanner, enricher Enricher, submitter Submitter,
	opts ...Option) *Orchestrator {
	o := &Orchestrator{
		broad:     broad,
		deep:      deep,
		enricher:  enricher,
		submitter: submitter,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run performs one crawl. It returns an error only when the run could not
// be carried out: a scanner is missing, the broad sweep failed, or ctx ended.
// The summary is non-nil in every case.
func (o *Orchestrator) Run(ctx context.Context, cfg RunConfig) (*RunSummary, error) {
	cfg = cfg.withDefaults()
	summary := &RunSummary{RunID: uuid.NewString(), StartedAt: o.now().UTC()}
	log := logging.Default().WithRunID(summary.RunID)

	err := o.run(ctx, cfg, summary, log)
	summary.Duration = time.Since(summary.StartedAt)

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		log.Error("Crawl aborted", "error", err)
	} else {
		log.Info("Crawl finished",
			"candidates", summary.Candidates,
			"scanned", summary.Scanned,
			"accepted", summary.Accepted,
			"rejected", summary.Rejected,
			"failed", summary.Failed,
			"duration", summary.Duration)
	}
	o.metrics.IncrementRuns(status)
	o.metrics.RecordRunDuration(summary.Duration)
	return summary, err
}

func (o *Orchestrator) run(ctx context.Context, cfg RunConfig, summary *RunSummary, log *logging.Logger) error {
	if err := o.broad.Available(); err != nil {
		return err
	}
	if err := o.deep.Available(); err != nil {
		return err
	}

	log.Info("Starting broad scan", "range", cfg.AddressRange, "rate", cfg.Rate, "ports", cfg.Ports)
	candidates, err := o.broad.Discover(ctx, cfg.AddressRange, cfg.Rate, cfg.Ports)
	if err != nil {
		if errors.IsCode(err, errors.CodeBroadPhaseFailed) {
			return err
		}
		return errors.ErrBroadPhaseFailed(cfg.AddressRange, err)
	}
	summary.Candidates = len(candidates)
	o.metrics.AddCandidates(len(candidates))

	if len(candidates) == 0 {
		log.Info("Broad scan found no candidates")
		return nil
	}
	log.Info("Starting deep scan", "candidates", len(candidates), "workers", cfg.Workers)

	var t tally
	o.deepPhase(ctx, cfg, candidates, &t, log)
	t.fill(summary)

	if err := ctx.Err(); err != nil {
		return errors.WrapScanError(errors.CodeCanceled, "crawl interrupted", err)
	}
	return nil
}

// deepPhase feeds candidates to the worker pool and waits for all of them.
func (o *Orchestrator) deepPhase(ctx context.Context, cfg RunConfig, candidates []string, t *tally, log *logging.Logger) {
	pool := workers.New(workers.Config{
		Size:      cfg.Workers,
		QueueSize: cfg.Workers * 2,
	}, workers.WithMetrics(o.metrics))
	pool.Start(ctx)
	defer func() { _ = pool.Shutdown() }()

	go func() {
		defer pool.Close()
		for _, ip := range candidates {
			job := workers.NewFuncJob(ip, "deep_scan", func(ctx context.Context) error {
				return o.processAddress(ctx, ip, cfg.Ports, t, log)
			})
			if err := pool.Submit(ctx, job); err != nil {
				log.Warn("Stopped queueing candidates", "error", err)
				return
			}
		}
	}()

	for result := range pool.Results() {
		if result.Error != nil {
			log.Debug("Candidate failed", "ip", result.JobID, "error", result.Error)
		}
	}
}

// processAddress runs scan, parse, enrich and submit for one candidate.
func (o *Orchestrator) processAddress(ctx context.Context, ip, ports string, t *tally, log *logging.Logger) error {
	o.metrics.AddActiveDeepScans(1)
	start := time.Now()
	run, err := o.deep.Scan(ctx, ip, ports)
	o.metrics.AddActiveDeepScans(-1)
	o.metrics.RecordDeepScanDuration(time.Since(start))

	if err != nil {
		t.failed.Add(1)
		o.metrics.IncrementDeepScans(metrics.StatusError)
		log.ErrorScan("Deep scan failed", ip, err)
		return err
	}

	hosts, err := scanning.ParseDeepScanRun(run)
	if err != nil {
		t.failed.Add(1)
		o.metrics.IncrementDeepScans(metrics.StatusError)
		log.ErrorScan("Deep scan output unusable", ip, err)
		return err
	}
	t.scanned.Add(1)
	o.metrics.IncrementDeepScans(metrics.StatusSuccess)

	if len(hosts) == 0 {
		log.Debug("Candidate did not answer the deep scan", "ip", ip)
		return nil
	}

	var firstErr error
	for i := range hosts {
		h := &hosts[i]
		h.Timestamp = o.now().UTC()

		if o.enricher != nil {
			o.enricher.Enrich(ctx, h)
		}

		batch, err := o.submitter.Submit(ctx, []scanning.Host{*h})
		if batch != nil {
			t.addBatch(batch)
		} else if err != nil {
			t.failed.Add(1)
		}
		if err != nil {
			log.ErrorScan("Submitting host failed", h.IP, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("submit %s: %w", h.IP, err)
			}
			continue
		}
		log.InfoScan("Host processed", h.IP,
			"ports", len(h.Ports),
			"accepted", len(batch.Accepted) > 0)
	}
	return firstErr
}
