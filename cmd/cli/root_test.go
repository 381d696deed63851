package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/cr4wler/internal/config"
	"github.com/anstrom/cr4wler/internal/db"
	"github.com/anstrom/cr4wler/internal/scanning"
)

func TestApplyOverrides_FromEnvironment(t *testing.T) {
	t.Setenv("CR4WLER_DATABASE_HOST", "db.internal")
	t.Setenv("CR4WLER_DATABASE_PORT", "6543")
	t.Setenv("CR4WLER_SCANNING_RATE", "500")
	t.Setenv("CR4WLER_SCANNING_ADDRESS_RANGE", "10.0.0.0/8")
	t.Setenv("CR4WLER_SCANNING_DEEP_SCAN_TIMEOUT", "90s")
	t.Setenv("CR4WLER_ENRICHMENT_IPINFO_TOKEN", "secret")

	v := viper.New()
	configureViper(v)

	cfg := config.Default()
	applyOverrides(cfg, v)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 500, cfg.Scanning.Rate)
	assert.Equal(t, "10.0.0.0/8", cfg.Scanning.AddressRange)
	assert.Equal(t, 90*time.Second, cfg.Scanning.DeepScanTimeout)
	assert.Equal(t, "secret", cfg.Enrichment.IPInfoToken)
}

func TestApplyOverrides_UnsetKeysKeepConfig(t *testing.T) {
	v := viper.New()
	configureViper(v)

	cfg := config.Default()
	cfg.Scanning.Ports = "22,80"
	applyOverrides(cfg, v)

	assert.Equal(t, "22,80", cfg.Scanning.Ports)
	assert.Equal(t, config.DefaultRate, cfg.Scanning.Rate)
	assert.Equal(t, config.Default().API.Port, cfg.API.Port)
}

func TestApplyOverrides_ExplicitValues(t *testing.T) {
	v := viper.New()
	v.Set("scanning.worker_pool_size", 32)
	v.Set("scanning.schedule", "*/5 * * * *")
	v.Set("api.port", 8080)

	cfg := config.Default()
	applyOverrides(cfg, v)

	assert.Equal(t, 32, cfg.Scanning.WorkerPoolSize)
	assert.Equal(t, "*/5 * * * *", cfg.Scanning.Schedule)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestGetConfigFilePath(t *testing.T) {
	old := cfgFile
	t.Cleanup(func() { cfgFile = old })

	cfgFile = ""
	assert.Equal(t, "config.yaml", getConfigFilePath())

	cfgFile = "/etc/cr4wler/config.yaml"
	assert.Equal(t, "/etc/cr4wler/config.yaml", getConfigFilePath())
}

func TestLoadDatabaseConfig(t *testing.T) {
	old := cfgFile
	t.Cleanup(func() { cfgFile = old })

	dir := t.TempDir()

	t.Run("missing credentials", func(t *testing.T) {
		cfgFile = filepath.Join(dir, "absent.yaml")
		_, err := loadDatabaseConfig()
		assert.Error(t, err)
	})

	t.Run("complete file", func(t *testing.T) {
		cfg := config.Default()
		cfg.Database = db.DefaultConfig()
		cfg.Database.Database = "cr4wler"
		cfg.Database.Username = "cr4wler"
		path := filepath.Join(dir, "config.yaml")
		require.NoError(t, cfg.Save(path))

		cfgFile = path
		loaded, err := loadDatabaseConfig()
		require.NoError(t, err)
		assert.Equal(t, "cr4wler", loaded.Database.Database)
	})
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"crawl", "serve", "hosts", "migrate"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	for _, flag := range []string{"range", "rate", "ports", "workers", "schedule", "server"} {
		assert.NotNil(t, crawlCmd.Flags().Lookup(flag), "crawl is missing --%s", flag)
	}
	assert.Equal(t, config.DefaultAddressRange, crawlCmd.Flags().Lookup("range").DefValue)
	assert.Equal(t, scanning.DefaultPorts, crawlCmd.Flags().Lookup("ports").DefValue)
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2024-01-01")
	t.Cleanup(func() { SetVersion("dev", "none", "unknown") })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	// --version is registered during execution, after cobra has resolved the
	// subcommand, so a following flag value must be attached with "=".
	rootCmd.SetArgs([]string{"--env-file=" + filepath.Join(os.TempDir(), "cr4wler-missing.env"), "--version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "1.2.3 (commit: abc123, built: 2024-01-01)")
}

func TestEnvFileFlagBeforeSubcommand(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{args: []string{"--env-file", "deploy.env", "crawl"}, want: "crawl"},
		{args: []string{"--env-file=deploy.env", "hosts"}, want: "hosts"},
		{args: []string{"-v", "--env-file", "deploy.env", "migrate", "status"}, want: "status"},
		{args: []string{"--config", "c.yaml", "--env-file", "deploy.env", "serve"}, want: "serve"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			cmd, _, err := rootCmd.Find(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd.Name())
		})
	}
}
