package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sightings/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "worker", "submit", "status", "migrate", "trust"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "sightings", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestWorkerCommand_Flags(t *testing.T) {
	flag := workerCmd.Flags().Lookup("metrics-port")
	require.NotNil(t, flag, "worker command should have --metrics-port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestSubmitCommand_Flags(t *testing.T) {
	require.NotNil(t, submitCmd.Flags().Lookup("wait"))
	flag := submitCmd.Flags().Lookup("poll-interval")
	require.NotNil(t, flag)
	assert.Equal(t, (2 * time.Second).String(), flag.DefValue)
}

func TestTrustCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range trustCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["set"])
	assert.True(t, names["get"])
}

func TestLoadReport(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "report.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`source_account_id: acct-1
timestamp: "2024-01-01T00:00:00Z"
latitude: 51.5
longitude: -0.12
picture_url: http://x/y.jpg
activity_type: fishing
`), 0o600))

	raw, err := loadReport(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", raw.SourceAccountID)
	assert.Equal(t, 51.5, raw.Latitude)
	assert.Equal(t, -0.12, raw.Longitude)
	assert.Equal(t, "fishing", raw.ActivityType)
	assert.NoError(t, raw.Validate())

	jsonPath := filepath.Join(dir, "report.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"source_account_id":"acct-2","timestamp":"2024-01-01T00:00:00Z","latitude":1,"longitude":2,"picture_url":"http://x/y.jpg"}`), 0o600))
	raw, err = loadReport(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "acct-2", raw.SourceAccountID)

	_, err = loadReport(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestInitStore_SQLite(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "test.db")}}

	st, err := initStore(t.Context())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(t.Context()))
	assert.NoError(t, st.Ping(t.Context()))
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}

	_, err := initStore(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestTrustSetGet(t *testing.T) {
	t.Setenv("SIGHTINGS_STORE_DRIVER", "sqlite")
	t.Setenv("SIGHTINGS_STORE_DATABASE_URL", filepath.Join(t.TempDir(), "trust.db"))
	t.Setenv("SIGHTINGS_LOG_LEVEL", "error")

	run := func(args ...string) string {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(args)
		t.Cleanup(func() {
			rootCmd.SetOut(nil)
			rootCmd.SetArgs(nil)
		})
		require.NoError(t, rootCmd.Execute())
		return out.String()
	}

	assert.Equal(t, "acct-9\t0.7\t(default)\n", run("trust", "get", "acct-9"))
	assert.Equal(t, "acct-9\t0.25\n", run("trust", "set", "acct-9", "0.25"))
	assert.Equal(t, "acct-9\t0.25\n", run("trust", "get", "acct-9"))
}

func TestTrustSet_RejectsOutOfRange(t *testing.T) {
	t.Setenv("SIGHTINGS_STORE_DRIVER", "sqlite")
	t.Setenv("SIGHTINGS_STORE_DATABASE_URL", filepath.Join(t.TempDir(), "trust.db"))
	t.Setenv("SIGHTINGS_LOG_LEVEL", "error")

	rootCmd.SetArgs([]string{"trust", "set", "acct-9", "1.5"})
	rootCmd.SetErr(&bytes.Buffer{})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetErr(nil)
	})
	assert.Error(t, rootCmd.Execute())
}
