package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := NewConfig()

		require.Equal(t, "info", cfg.LogLevel)
		require.Equal(t, "prod", cfg.Environment)
		require.Equal(t, "", cfg.DatabaseDSN)
		require.Equal(t, "50", cfg.WithdrawMin)
		require.Equal(t, 2, cfg.WithdrawDailyLimit)
		require.Equal(t, 45*time.Second, cfg.ExecutorTimeout)
		require.Equal(t, 2*time.Second, cfg.TaskPause)
		require.Equal(t, 15*time.Second, cfg.IdleInterval)
	})

	t.Run("LoadEnv", func(t *testing.T) {
		env := map[string]string{
			"DATABASE_URI":         "postgres://env/paydesk",
			"LOG_LEVEL":            "debug",
			"WITHDRAW_MIN":         "100",
			"WITHDRAW_DAILY_LIMIT": "5",
			"EXECUTOR_TIMEOUT":     "90s",
		}
		getenv := func(key string) string { return env[key] }

		cfg := NewConfig()
		cfg.LoadEnv(getenv)

		require.Equal(t, "postgres://env/paydesk", cfg.DatabaseDSN)
		require.Equal(t, "debug", cfg.LogLevel)
		require.Equal(t, "100", cfg.WithdrawMin)
		require.Equal(t, 5, cfg.WithdrawDailyLimit)
		require.Equal(t, 90*time.Second, cfg.ExecutorTimeout)

		t.Run("unset keys keep previous values", func(t *testing.T) {
			require.Equal(t, "prod", cfg.Environment)
			require.Equal(t, 2*time.Second, cfg.TaskPause)
		})

		t.Run("malformed values are skipped", func(t *testing.T) {
			env["WITHDRAW_DAILY_LIMIT"] = "many"
			env["TASK_PAUSE"] = "soonish"
			cfg.LoadEnv(getenv)

			require.Equal(t, 5, cfg.WithdrawDailyLimit)
			require.Equal(t, 2*time.Second, cfg.TaskPause)
		})
	})

	t.Run("ParseFlags", func(t *testing.T) {
		cfg := NewConfig()
		err := cfg.ParseFlags([]string{
			"-d", "postgres://flag/paydesk",
			"--log-level", "warn",
			"--withdraw-daily-limit", "3",
			"--task-pause", "500ms",
		})

		require.NoError(t, err)
		require.Equal(t, "postgres://flag/paydesk", cfg.DatabaseDSN)
		require.Equal(t, "warn", cfg.LogLevel)
		require.Equal(t, 3, cfg.WithdrawDailyLimit)
		require.Equal(t, 500*time.Millisecond, cfg.TaskPause)
		require.Equal(t, "prod", cfg.Environment, "untouched flags keep defaults")
	})

	t.Run("flags override env", func(t *testing.T) {
		cfg := NewConfig()
		cfg.LoadEnv(func(key string) string {
			if key == "DATABASE_URI" {
				return "postgres://env/paydesk"
			}
			return ""
		})
		require.NoError(t, cfg.ParseFlags([]string{"-d", "postgres://flag/paydesk"}))

		require.Equal(t, "postgres://flag/paydesk", cfg.DatabaseDSN)
	})
}
