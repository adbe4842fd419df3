package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  status_changed_topic_name: "fulfillment.status.changed"
redis:
  host: "localhost"
  port: 6379
shipsync:
  http_addr: ":8080"
  tracking_state_ttl_seconds: 600
  resync_workers: 4
  aggregator_base_url: "https://api.17track.net"
  aggregator_rate_limit_per_minute: 120
  platform_api_version: "2024-07"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "fulfillment.status.changed", cfg.Kafka.StatusChangedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.ShipSync.HTTPAddr)
	require.Equal(t, 4, cfg.ShipSync.ResyncWorkers)
	require.Equal(t, "2024-07", cfg.ShipSync.PlatformAPIVersion)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
