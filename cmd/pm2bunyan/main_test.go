package main

import (
	"testing"

	"pm2bunyan/internal/config"
	"pm2bunyan/internal/downstream"

	"github.com/stretchr/testify/require"
)

func defaults() *config.Config {
	return &config.Config{
		LogLevel:   "info",
		BunyanPath: "bunyan",
		Source:     "-",
		QueueSize:  1024,
		Color:      config.ColorAuto,
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	cfg := defaults()
	cmd := newRootCmd(cfg)
	require.NoError(t, cmd.ParseFlags([]string{
		"--bunyan", "/opt/bunyan",
		"--source", "unix:/run/pm2.sock",
		"--queue-size", "8",
		"--color", "never",
		"--hostname", "box",
		"--log-level", "debug",
		"--metrics-addr", ":9100",
	}))

	require.Equal(t, "/opt/bunyan", cfg.BunyanPath)
	require.Equal(t, "unix:/run/pm2.sock", cfg.Source)
	require.Equal(t, 8, cfg.QueueSize)
	require.Equal(t, config.ColorNever, cfg.Color)
	require.Equal(t, "box", cfg.Hostname)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, ":9100", cfg.MetricsAddr)
}

func TestFlagsKeepConfigDefaults(t *testing.T) {
	cfg := defaults()
	cfg.BunyanPath = "/usr/local/bin/bunyan"
	cmd := newRootCmd(cfg)
	require.NoError(t, cmd.ParseFlags(nil))
	require.Equal(t, "/usr/local/bin/bunyan", cfg.BunyanPath)
	require.Equal(t, 1024, cfg.QueueSize)
}

func TestDownstreamOptions(t *testing.T) {
	cfg := defaults()
	require.NoError(t, newRootCmd(cfg).ParseFlags([]string{"--color", "always"}))

	f := &flags{
		level:      "warn",
		conditions: []string{"this.latency > 100"},
		output:     "short",
		name:       "api",
	}
	opts := downstreamOptions(cfg, f, []string{"--strict"})
	require.Equal(t, downstream.Options{
		Command:    "bunyan",
		Level:      "warn",
		Conditions: []string{"this.latency > 100"},
		Output:     "short",
		Name:       "api",
		Color:      config.ColorAlways,
		ExtraArgs:  []string{"--strict"},
	}, opts)
}

func TestInvalidConfigFailsBeforeLaunch(t *testing.T) {
	cfg := defaults()
	cmd := newRootCmd(cfg)
	cmd.SetArgs([]string{"--color", "sometimes", "--bunyan", "/nonexistent/bunyan"})
	err := cmd.Execute()
	require.ErrorContains(t, err, "invalid color mode")
}

func TestRepeatableCondition(t *testing.T) {
	cmd := newRootCmd(defaults())
	require.NoError(t, cmd.ParseFlags([]string{"-c", "this.a", "-c", "this.b", "-l", "warn", "-n", "api", "-o", "short"}))

	conds, err := cmd.Flags().GetStringArray("condition")
	require.NoError(t, err)
	require.Equal(t, []string{"this.a", "this.b"}, conds)
	level, err := cmd.Flags().GetString("level")
	require.NoError(t, err)
	require.Equal(t, "warn", level)
	name, err := cmd.Flags().GetString("name")
	require.NoError(t, err)
	require.Equal(t, "api", name)
}
