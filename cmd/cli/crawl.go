// Package cli provides command-line interface commands for cr4wler.
// This file implements the crawl command: broad scan, deep scan, enrichment
// and submission, once or on a cron schedule.
package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/cr4wler/internal/config"
	"github.com/anstrom/cr4wler/internal/db"
	"github.com/anstrom/cr4wler/internal/enrichment"
	"github.com/anstrom/cr4wler/internal/ingest"
	"github.com/anstrom/cr4wler/internal/logging"
	"github.com/anstrom/cr4wler/internal/metrics"
	"github.com/anstrom/cr4wler/internal/scanning"
	"github.com/anstrom/cr4wler/internal/scheduler"
)

const maxPort = 65535

var crawlServer string

// crawlCmd represents the crawl command.
var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Discover, scan, enrich and store hosts",
	Long: `Sweep an address range with masscan, deep-scan every responsive address
with nmap, enrich each host with geolocation, reverse DNS and WHOIS data, and
store it. Hosts already stored are left untouched.

By default hosts are written straight to the database. With --server they are
posted to a running cr4wler API instead.`,
	Example: `  cr4wler crawl --range 10.0.0.0/24
  cr4wler crawl --range 192.168.1.0/24 --rate 1000 --workers 20
  cr4wler crawl --range 10.0.0.0/16 --server http://127.0.0.1:5000
  cr4wler crawl --range 10.0.0.0/24 --schedule "0 */6 * * *"`,
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	flags := crawlCmd.Flags()
	flags.String("range", config.DefaultAddressRange, "address range to sweep (CIDR, a-b range, or IP; comma separated)")
	flags.Int("rate", config.DefaultRate, "broad scan packet rate")
	flags.String("ports", scanning.DefaultPorts, "ports probed in both phases")
	flags.Int("workers", 0, "concurrent deep scans (default from config)")
	flags.String("schedule", "", "cron expression; repeat the crawl until interrupted")
	flags.String("masscan", "", "path to the masscan binary")
	flags.String("nmap", "", "path to the nmap binary")
	flags.StringVar(&crawlServer, "server", "", "submit hosts to this cr4wler API instead of the database")

	bindFlags(flags, map[string]string{
		"scanning.address_range":    "range",
		"scanning.rate":             "rate",
		"scanning.ports":            "ports",
		"scanning.worker_pool_size": "workers",
		"scanning.schedule":         "schedule",
		"scanning.masscan_path":     "masscan",
		"scanning.nmap_path":        "nmap",
	})
}

// bindFlags binds each config key to the named flag in flags.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", name, err)
		}
	}
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := validateCrawlConfig(&cfg.Scanning); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pm := metrics.GetGlobalMetrics()

	submitter, cleanup, err := newSubmitter(ctx, cfg, pm)
	if err != nil {
		return err
	}
	defer cleanup()

	enricher, err := enrichment.NewFromConfig(cfg.Enrichment, enrichment.WithMetrics(pm))
	if err != nil {
		return fmt.Errorf("failed to set up enrichment: %w", err)
	}
	defer func() {
		if closeErr := enricher.Close(); closeErr != nil {
			logging.Warn("Failed to close enrichment providers", "error", closeErr)
		}
	}()

	broad := scanning.NewMasscanScanner(cfg.Scanning.MasscanPath)
	deep := scanning.NewNmapScanner(cfg.Scanning.NmapPath, cfg.Scanning.DeepScanTimeout)
	orch := ingest.NewOrchestrator(broad, deep, enricher, submitter, ingest.WithMetrics(pm))
	runCfg := ingest.RunConfigFromConfig(cfg.Scanning)

	if cfg.Scanning.Schedule == "" {
		return crawlOnce(ctx, orch, runCfg, cmd.OutOrStdout())
	}

	// Fail fast rather than logging the same error on every tick.
	if err := broad.Available(); err != nil {
		return err
	}
	if err := deep.Available(); err != nil {
		return err
	}
	return crawlScheduled(ctx, orch, runCfg, cfg.Scanning.Schedule, cmd.OutOrStdout())
}

// newSubmitter returns the API client when --server is set, otherwise a
// store submitter over a migrated database connection.
func newSubmitter(ctx context.Context, cfg *config.Config, pm *metrics.PrometheusMetrics) (ingest.Submitter, func(), error) {
	if crawlServer != "" {
		client := NewAPIClient(crawlServer, 0)
		if err := client.Health(ctx); err != nil {
			return nil, nil, fmt.Errorf("server %s is not healthy: %w", crawlServer, err)
		}
		return client, func() {}, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	database, err := db.ConnectAndMigrate(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup := func() {
		if closeErr := database.Close(); closeErr != nil {
			logging.Warn("Failed to close database connection", "error", closeErr)
		}
	}

	repo := db.NewHostRepository(database, db.WithMetrics(pm))
	return ingest.NewStoreSubmitter(repo), cleanup, nil
}

// crawlOnce runs a single crawl and prints its summary.
func crawlOnce(ctx context.Context, orch *ingest.Orchestrator, runCfg ingest.RunConfig, out io.Writer) error {
	summary, err := orch.Run(ctx, runCfg)
	if summary != nil {
		printSummary(out, summary)
	}
	return err
}

// crawlScheduled repeats the crawl on cronExpr until ctx is done.
func crawlScheduled(
	ctx context.Context, orch *ingest.Orchestrator, runCfg ingest.RunConfig, cronExpr string, out io.Writer,
) error {
	s := scheduler.NewScheduler()
	if _, err := s.AddJob("crawl", cronExpr, func(jobCtx context.Context) error {
		return crawlOnce(jobCtx, orch, runCfg, out)
	}); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Crawling on schedule %q, press Ctrl+C to stop\n", cronExpr)
	return s.Run(ctx)
}

// printSummary writes a run summary table.
func printSummary(out io.Writer, summary *ingest.RunSummary) {
	table := tablewriter.NewWriter(out)
	table.Header("Run", "Candidates", "Scanned", "Accepted", "Rejected", "Failed", "Duration")
	_ = table.Append([]string{
		summary.RunID,
		strconv.Itoa(summary.Candidates),
		strconv.Itoa(summary.Scanned),
		strconv.Itoa(summary.Accepted),
		strconv.Itoa(summary.Rejected),
		strconv.Itoa(summary.Failed),
		summary.Duration.Round(time.Millisecond).String(),
	})
	_ = table.Render()
}

// validateCrawlConfig checks the crawl parameters before any scanner starts.
func validateCrawlConfig(s *config.ScanningConfig) error {
	if err := validateAddressRange(s.AddressRange); err != nil {
		return err
	}
	if s.Rate <= 0 {
		return fmt.Errorf("rate must be positive, got %d", s.Rate)
	}
	if err := validatePorts(s.Ports); err != nil {
		return err
	}
	if s.WorkerPoolSize < 0 {
		return fmt.Errorf("workers must not be negative, got %d", s.WorkerPoolSize)
	}
	if s.Schedule != "" {
		return scheduler.ValidateCron(s.Schedule)
	}
	return nil
}

// validateAddressRange accepts comma separated CIDRs, a-b ranges and single
// IPv4 addresses, the forms masscan takes.
func validateAddressRange(addressRange string) error {
	if strings.TrimSpace(addressRange) == "" {
		return fmt.Errorf("empty address range")
	}

	for _, part := range strings.Split(addressRange, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
			continue
		case strings.Contains(part, "/"):
			if _, _, err := net.ParseCIDR(part); err != nil {
				return fmt.Errorf("invalid CIDR: %s", part)
			}
		case strings.Contains(part, "-"):
			bounds := strings.Split(part, "-")
			if len(bounds) != 2 {
				return fmt.Errorf("invalid address range: %s", part)
			}
			for _, b := range bounds {
				if net.ParseIP(strings.TrimSpace(b)) == nil {
					return fmt.Errorf("invalid address in range: %s", b)
				}
			}
		default:
			if net.ParseIP(part) == nil {
				return fmt.Errorf("invalid address: %s", part)
			}
		}
	}
	return nil
}

// validatePorts checks a masscan/nmap port list such as "22,80-443".
func validatePorts(ports string) error {
	if ports == "" {
		return fmt.Errorf("empty port specification")
	}

	for _, part := range strings.Split(ports, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return fmt.Errorf("invalid port range: %s", part)
			}

			start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil || start < 1 || start > maxPort {
				return fmt.Errorf("invalid start port in range: %s", rangeParts[0])
			}

			end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil || end < 1 || end > maxPort {
				return fmt.Errorf("invalid end port in range: %s", rangeParts[1])
			}

			if start > end {
				return fmt.Errorf("start port cannot be greater than end port: %s", part)
			}
			continue
		}

		port, err := strconv.Atoi(part)
		if err != nil || port < 1 || port > maxPort {
			return fmt.Errorf("invalid port: %s", part)
		}
	}

	return nil
}
