package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tahsin716/taskmill"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "millbench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
workers: 3
deque_capacity: 64
slot_pool_size: 32
inbox_capacity: 128
backoff: spin
owner_checks: true
lock_os_thread: false
log_level: debug
metrics: true
`)
	fc, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3, fc.Workers)
	assert.Equal(t, 64, fc.DequeCapacity)
	assert.Equal(t, 32, fc.SlotPoolSize)
	assert.Equal(t, 128, fc.InboxCapacity)
	assert.Equal(t, "spin", fc.Backoff)
	assert.True(t, fc.OwnerChecks)
	require.NotNil(t, fc.LockOSThread)
	assert.False(t, *fc.LockOSThread)
	assert.Equal(t, "debug", fc.LogLevel)
	assert.True(t, fc.Metrics)
}

func TestLoadConfig_EmptyAndMissing(t *testing.T) {
	fc, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, fileConfig{}, fc)

	fc, err = loadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, fileConfig{}, fc)

	_, err = loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_UnknownKey(t *testing.T) {
	_, err := loadConfig(writeConfig(t, "workerz: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workerz")
}

func TestOverlay_FlagsWinOnlyWhenSet(t *testing.T) {
	var flags fileConfig
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	registerFlags(cmd, &flags)
	require.NoError(t, cmd.ParseFlags([]string{"--workers=5", "--lock-os-thread=false"}))

	file := fileConfig{Workers: 2, DequeCapacity: 64, Backoff: "spin"}
	out, err := overlay(cmd, file, flags)
	require.NoError(t, err)

	assert.Equal(t, 5, out.Workers)
	assert.Equal(t, 64, out.DequeCapacity)
	assert.Equal(t, "spin", out.Backoff)
	require.NotNil(t, out.LockOSThread)
	assert.False(t, *out.LockOSThread)
}

func TestFileConfig_Options(t *testing.T) {
	lock := false
	opts, err := fileConfig{Workers: 2, DequeCapacity: 16, Backoff: "spin", LockOSThread: &lock}.options()
	require.NoError(t, err)

	cfg := taskmill.DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 16, cfg.DequeCapacity)
	assert.Equal(t, taskmill.DefaultSlotPoolSize, cfg.SlotPoolSize)
	assert.IsType(t, taskmill.SpinYieldBackoff{}, cfg.Backoff)
	assert.False(t, cfg.LockOSThread)

	_, err = fileConfig{Backoff: "sleepy"}.options()
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logiface.Level
	}{
		{"", logiface.LevelInformational},
		{"debug", logiface.LevelDebug},
		{"INFO", logiface.LevelInformational},
		{"warn", logiface.LevelWarning},
		{"error", logiface.LevelError},
		{"off", logiface.LevelDisabled},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseLevel("loud")
	assert.Error(t, err)
}
