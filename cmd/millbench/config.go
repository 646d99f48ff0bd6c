package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joeycumines/logiface"
	"github.com/spf13/cobra"
	"github.com/tahsin716/taskmill"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML configuration file. Zero values leave the
// scheduler defaults in place.
type fileConfig struct {
	Workers       int    `yaml:"workers"`
	DequeCapacity int    `yaml:"deque_capacity"`
	SlotPoolSize  int    `yaml:"slot_pool_size"`
	InboxCapacity int    `yaml:"inbox_capacity"`
	Backoff       string `yaml:"backoff"`
	OwnerChecks   bool   `yaml:"owner_checks"`
	LockOSThread  *bool  `yaml:"lock_os_thread"`
	CPUAffinity   bool   `yaml:"cpu_affinity"`
	LogLevel      string `yaml:"log_level"`
	Metrics       bool   `yaml:"metrics"`
}

// loadConfig reads path, rejecting unknown keys. An empty path yields the
// zero config.
func loadConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

// registerFlags binds the config overrides to the command's persistent flags.
func registerFlags(cmd *cobra.Command, fc *fileConfig) {
	f := cmd.PersistentFlags()
	f.IntVar(&fc.Workers, "workers", 0, "Number of worker loops (0 = GOMAXPROCS-1)")
	f.IntVar(&fc.DequeCapacity, "deque-capacity", 0, "Initial deque capacity, a power of 2")
	f.IntVar(&fc.SlotPoolSize, "slots", 0, "Job slots per deque")
	f.IntVar(&fc.InboxCapacity, "inbox-capacity", 0, "External inbox capacity per worker, a power of 2")
	f.StringVar(&fc.Backoff, "backoff", "", "Idle policy: yield or spin")
	f.BoolVar(&fc.OwnerChecks, "owner-checks", false, "Verify owner-only calls run on the owning worker")
	f.Bool("lock-os-thread", true, "Lock each loop to an OS thread")
	f.BoolVar(&fc.CPUAffinity, "cpu-affinity", false, "Pin worker i to CPU i (Linux)")
	f.StringVar(&fc.LogLevel, "log-level", "", "Log level (debug, info, warning, error)")
	f.BoolVar(&fc.Metrics, "metrics", false, "Collect OpenTelemetry metrics into the report")
}

// overlay copies every flag the user set explicitly over the file config.
func overlay(cmd *cobra.Command, file, flags fileConfig) (fileConfig, error) {
	out := file
	set := cmd.Flags().Changed
	if set("workers") {
		out.Workers = flags.Workers
	}
	if set("deque-capacity") {
		out.DequeCapacity = flags.DequeCapacity
	}
	if set("slots") {
		out.SlotPoolSize = flags.SlotPoolSize
	}
	if set("inbox-capacity") {
		out.InboxCapacity = flags.InboxCapacity
	}
	if set("backoff") {
		out.Backoff = flags.Backoff
	}
	if set("owner-checks") {
		out.OwnerChecks = flags.OwnerChecks
	}
	if set("lock-os-thread") {
		v, err := cmd.Flags().GetBool("lock-os-thread")
		if err != nil {
			return out, err
		}
		out.LockOSThread = &v
	}
	if set("cpu-affinity") {
		out.CPUAffinity = flags.CPUAffinity
	}
	if set("log-level") {
		out.LogLevel = flags.LogLevel
	}
	if set("metrics") {
		out.Metrics = flags.Metrics
	}
	return out, nil
}

// options converts the config into scheduler options.
func (fc fileConfig) options() ([]taskmill.Option, error) {
	var opts []taskmill.Option
	if fc.Workers != 0 {
		opts = append(opts, taskmill.WithWorkers(fc.Workers))
	}
	if fc.DequeCapacity != 0 {
		opts = append(opts, taskmill.WithDequeCapacity(fc.DequeCapacity))
	}
	if fc.SlotPoolSize != 0 {
		opts = append(opts, taskmill.WithSlotPoolSize(fc.SlotPoolSize))
	}
	if fc.InboxCapacity != 0 {
		opts = append(opts, taskmill.WithInboxCapacity(fc.InboxCapacity))
	}

	switch strings.ToLower(fc.Backoff) {
	case "", "yield":
	case "spin":
		opts = append(opts, taskmill.WithBackoff(taskmill.DefaultSpinYieldBackoff()))
	default:
		return nil, fmt.Errorf("unknown backoff %q (want yield or spin)", fc.Backoff)
	}

	if fc.LockOSThread != nil {
		opts = append(opts, taskmill.WithLockOSThread(*fc.LockOSThread))
	}
	return append(opts,
		taskmill.WithOwnerChecks(fc.OwnerChecks),
		taskmill.WithCPUAffinity(fc.CPUAffinity),
	), nil
}

// parseLevel maps a level name to a logiface level. Empty means info.
func parseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return logiface.LevelDebug, nil
	case "", "info":
		return logiface.LevelInformational, nil
	case "warn", "warning":
		return logiface.LevelWarning, nil
	case "error", "err":
		return logiface.LevelError, nil
	case "off", "disabled":
		return logiface.LevelDisabled, nil
	}
	return logiface.LevelDisabled, fmt.Errorf("unknown log level %q", s)
}
