package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "treemon.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefault_Valid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, time.Second, c.Interval)
	assert.Equal(t, "/proc/cpuinfo", c.CPUInfo)
	assert.Equal(t, "2006-01-02 15:04:05", c.TimestampFormat)

	at := time.Date(2024, 3, 9, 7, 5, 0, 0, time.UTC)
	assert.Equal(t, "2024_03_09-07_05", at.Format(c.DirFormat))
}

func TestMerge_NonZeroWins(t *testing.T) {
	got := Default().Merge(Config{Interval: 250 * time.Millisecond, LogLevel: "debug"})
	assert.Equal(t, 250*time.Millisecond, got.Interval)
	assert.Equal(t, "debug", got.LogLevel)
	assert.Equal(t, "/proc/cpuinfo", got.CPUInfo, "unset keeps the base")

	assert.Equal(t, Default(), Default().Merge(Config{}))
}

func TestLoad(t *testing.T) {
	p := writeFile(t, `
interval: 500ms
cpuinfo: /tmp/cpuinfo
log_level: warn
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, c.Interval)
	assert.Equal(t, "/tmp/cpuinfo", c.CPUInfo)
	assert.Equal(t, "2006_01_02-15_04", c.DirFormat, "default kept")
	require.NoError(t, c.Validate())

	lvl, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "intervall: 1s\n"))
	assert.Error(t, err, "unknown key")

	_, err = Load(writeFile(t, "interval: [1, 2]\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]Config{
		"zero interval":     {Interval: 0, CPUInfo: "x", TimestampFormat: "x", DirFormat: "x", LogLevel: "info"},
		"negative interval": {Interval: -time.Second, CPUInfo: "x", TimestampFormat: "x", DirFormat: "x", LogLevel: "info"},
		"empty cpuinfo":     {Interval: time.Second, CPUInfo: " ", TimestampFormat: "x", DirFormat: "x", LogLevel: "info"},
		"empty layout":      {Interval: time.Second, CPUInfo: "x", DirFormat: "x", LogLevel: "info"},
		"slash in dir":      {Interval: time.Second, CPUInfo: "x", TimestampFormat: "x", DirFormat: "2006/01", LogLevel: "info"},
		"bad level":         {Interval: time.Second, CPUInfo: "x", TimestampFormat: "x", DirFormat: "x", LogLevel: "loud"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}
}
