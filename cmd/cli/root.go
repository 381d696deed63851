// Package cli provides the command-line interface of cr4wler.
// This package implements the Cobra-based CLI structure with commands for
// crawling, serving the API, listing stored hosts, and migrations.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/cr4wler/internal/config"
	"github.com/anstrom/cr4wler/internal/logging"
)

const (
	envPrefix         = "CR4WLER"
	defaultConfigFile = "config.yaml"
)

var (
	cfgFile string
	envFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cr4wler",
	Short: "Network crawler and scan-result store",
	Long: `cr4wler sweeps an address range for live hosts, deep-scans each one,
enriches it with geolocation, reverse DNS and WHOIS data, and stores the
result set for later query.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig loads the dotenv file, wires viper to the environment and
// initializes logging.
func initConfig() {
	if envFile != "" {
		// A missing .env is the normal case.
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", envFile, err)
		}
	}

	configureViper(viper.GetViper())
	initLogging()
}

// configureViper maps nested config keys onto CR4WLER_* variables,
// e.g. database.host -> CR4WLER_DATABASE_HOST.
func configureViper(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// getConfigFilePath returns the config file path from the flag or the default.
func getConfigFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return defaultConfigFile
}

// loadConfig reads the YAML config and layers environment variables and
// bound flags on top of it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	applyOverrides(cfg, viper.GetViper())
	return cfg, nil
}

// applyOverrides copies every key set in v (by environment or flag) onto cfg.
func applyOverrides(cfg *config.Config, v *viper.Viper) {
	strs := map[string]*string{
		"database.host":           &cfg.Database.Host,
		"database.database":       &cfg.Database.Database,
		"database.username":       &cfg.Database.Username,
		"database.password":       &cfg.Database.Password,
		"database.ssl_mode":       &cfg.Database.SSLMode,
		"scanning.address_range":  &cfg.Scanning.AddressRange,
		"scanning.ports":          &cfg.Scanning.Ports,
		"scanning.masscan_path":   &cfg.Scanning.MasscanPath,
		"scanning.nmap_path":      &cfg.Scanning.NmapPath,
		"scanning.schedule":       &cfg.Scanning.Schedule,
		"enrichment.geo_provider": &cfg.Enrichment.GeoProvider,
		"enrichment.ipinfo_token": &cfg.Enrichment.IPInfoToken,
		"enrichment.dns_server":   &cfg.Enrichment.DNSServer,
		"api.host":                &cfg.API.Host,
		"logging.level":           &cfg.Logging.Level,
		"logging.format":          &cfg.Logging.Format,
		"logging.output":          &cfg.Logging.Output,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	ints := map[string]*int{
		"database.port":             &cfg.Database.Port,
		"scanning.worker_pool_size": &cfg.Scanning.WorkerPoolSize,
		"scanning.rate":             &cfg.Scanning.Rate,
		"api.port":                  &cfg.API.Port,
	}
	for key, dst := range ints {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	if v.IsSet("scanning.deep_scan_timeout") {
		cfg.Scanning.DeepScanTimeout = v.GetDuration("scanning.deep_scan_timeout")
	}
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := loadConfig()
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		return
	}

	logConfig := cfg.LoggerConfig()
	if verbose {
		logConfig.Level = logging.LevelDebug
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logging.Debug("Structured logging initialized",
			"level", cfg.Logging.Level, "format", cfg.Logging.Format)
	}
}
