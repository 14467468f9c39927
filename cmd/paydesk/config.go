package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/paydesk/paydesk/internal/logger"
)

const (
	defaultLoggingLevel       = logger.LevelInfo
	defaultEnvironment        = logger.EnvProduction
	defaultWithdrawMin        = "50"
	defaultWithdrawDailyLimit = 2
	defaultExecutorTimeout    = 45 * time.Second
	defaultTaskPause          = 2 * time.Second
	defaultIdleInterval       = 15 * time.Second
)

type Config struct {
	// Default logging level
	LogLevel string

	// Environment (dev, prod)
	Environment string

	// Database to connect to
	DatabaseDSN string

	// Smallest withdrawable amount, decimal string
	WithdrawMin string

	// Maximum completed withdrawals per user per local day
	WithdrawDailyLimit int

	// Upper bound for one payout executor call
	ExecutorTimeout time.Duration

	// Pause between settlement tasks; fallback poll interval when idle
	TaskPause    time.Duration
	IdleInterval time.Duration
}

func NewConfig() *Config {
	return &Config{
		LogLevel:           defaultLoggingLevel,
		Environment:        defaultEnvironment,
		WithdrawMin:        defaultWithdrawMin,
		WithdrawDailyLimit: defaultWithdrawDailyLimit,
		ExecutorTimeout:    defaultExecutorTimeout,
		TaskPause:          defaultTaskPause,
		IdleInterval:       defaultIdleInterval,
	}
}

// Load variables from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}
	setInt := func(o *int) func(value string) {
		return func(value string) {
			if v, err := strconv.Atoi(value); err == nil {
				*o = v
			}
		}
	}
	setDuration := func(o *time.Duration) func(value string) {
		return func(value string) {
			if v, err := time.ParseDuration(value); err == nil {
				*o = v
			}
		}
	}

	envMap := map[string]func(string){
		"DATABASE_URI":         setString(&c.DatabaseDSN),
		"LOG_LEVEL":            setString(&c.LogLevel),
		"ENVIRONMENT":          setString(&c.Environment),
		"WITHDRAW_MIN":         setString(&c.WithdrawMin),
		"WITHDRAW_DAILY_LIMIT": setInt(&c.WithdrawDailyLimit),
		"EXECUTOR_TIMEOUT":     setDuration(&c.ExecutorTimeout),
		"TASK_PAUSE":           setDuration(&c.TaskPause),
		"IDLE_INTERVAL":        setDuration(&c.IdleInterval),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("paydesk", pflag.ContinueOnError)

	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVar(&c.WithdrawMin, "withdraw-min", c.WithdrawMin, "Minimum withdrawable amount")
	fs.IntVar(&c.WithdrawDailyLimit, "withdraw-daily-limit", c.WithdrawDailyLimit, "Completed withdrawals allowed per user per day")
	fs.DurationVar(&c.ExecutorTimeout, "executor-timeout", c.ExecutorTimeout, "Upper bound for one payout execution")
	fs.DurationVar(&c.TaskPause, "task-pause", c.TaskPause, "Pause between settlement tasks")
	fs.DurationVar(&c.IdleInterval, "idle-interval", c.IdleInterval, "Settlement queue idle poll interval")

	return fs.Parse(args)
}
