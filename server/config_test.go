package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConfiguration(t *testing.T) {
	config, err := Parse(strings.NewReader(`
version: 1
http:
  addr: ":9000"
storage:
  datadir: /tmp/converge
log:
  level: debug
`))
	require.NoError(t, err)
	require.Equal(t, ":9000", config.HTTP.Addr)
	require.Equal(t, "/tmp/converge", config.Storage.DataDir)
	require.Equal(t, "debug", config.Log.Level)
	require.Equal(t, "text", config.Log.Formatter)
}

func TestParseConfigurationDefaults(t *testing.T) {
	config, err := Parse(strings.NewReader("version: 1\n"))
	require.NoError(t, err)
	require.Equal(t, ":7690", config.HTTP.Addr)
	require.Equal(t, "info", config.Log.Level)
	require.Equal(t, "/metrics", config.HTTP.Debug.Prometheus.Path)
}

func TestParseConfigurationEnvOverride(t *testing.T) {
	t.Setenv("CONVERGE_HTTP_ADDR", ":7777")
	config, err := Parse(strings.NewReader("version: 1\nhttp:\n  addr: \":9000\"\n"))
	require.NoError(t, err)
	require.Equal(t, ":7777", config.HTTP.Addr)
}

func TestParseConfigurationRejectsUnknownVersion(t *testing.T) {
	_, err := Parse(strings.NewReader("version: 9\n"))
	require.Error(t, err)
}
