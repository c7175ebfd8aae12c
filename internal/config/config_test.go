package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "scgd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.False(t, cfg.NATS.Enabled())
	require.False(t, cfg.Gossip.Enabled)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
service:
  name: hr
  version: 1.4.0
  root_address: /root
queue:
  batch_size: 16
  submit_timeout: 250ms
nats:
  url: nats://127.0.0.1:4222
  channels: [employee.new, employee.payroll]
`)

	t.Setenv("SCG_QUEUE_BATCH_SIZE", "32")
	t.Setenv("SCG_LOG_FORMAT", "json")
	t.Setenv("SCG_GOSSIP_JOIN", "10.0.0.1:7946,10.0.0.2:7946")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "hr", cfg.Service.Name)
	require.Equal(t, "/root", cfg.Service.RootAddress)
	require.Equal(t, 32, cfg.Queue.BatchSize)
	require.Equal(t, 250*time.Millisecond, cfg.Queue.SubmitTimeout)
	require.Equal(t, 1024, cfg.Queue.Capacity)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, []string{"employee.new", "employee.payroll"}, cfg.NATS.Channels)
	require.Equal(t, []string{"10.0.0.1:7946", "10.0.0.2:7946"}, cfg.Gossip.Join)
	require.True(t, cfg.NATS.Enabled())

	m := cfg.Membership()
	require.Equal(t, "hr", m.Meta.Service)
	require.Equal(t, "1.4.0", m.Meta.Version)
	require.Equal(t, "nats://127.0.0.1:4222", cfg.NATSClient().URL)
	require.Len(t, cfg.QueueOptions(), 3)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "bogus: 1\n",
		"bad yaml":      "service: [\n",
		"bad level":     "log:\n  level: loud\n",
		"bad version":   "service:\n  version: v-one\n",
		"zero batch":    "queue:\n  batch_size: 0\n",
		"bad join":      "gossip:\n  join: [nohost]\n",
		"url, no chans": "nats:\n  url: nats://x:4222\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, body))
			require.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	t.Setenv("SCG_QUEUE_CAPACITY", "many")
	_, err = Load("")
	require.ErrorContains(t, err, "environment")
}

func TestValidate_ReportsEveryField(t *testing.T) {
	cfg := Default()
	cfg.Service.Name = ""
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "Config.Service.Name")
	require.Contains(t, err.Error(), "Config.Log.Format")
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	l := cfg.Logger(&buf)
	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.True(t, strings.HasPrefix(out, "{"))
	require.Contains(t, out, `"service":"scgd"`)
}
