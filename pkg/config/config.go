package config

import (
	"fmt"
	"os"

	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/sirupsen/logrus"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config holds application configuration
type Config struct {
	Port          string
	DBDriver      string
	DBConn        string
	LogLevel      logrus.Level
	LogFormat     string
	DueReportSpec string
	Schedule      ledger.ScheduleConfig
	Policy        ledger.RepaymentPolicy
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DBDriver:      getEnv("DB_DRIVER", DriverSQLite),
		DBConn:        getEnv("DB_CONN", "loanledger.db"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		DueReportSpec: getEnv("DUE_REPORT_SPEC", "@daily"),
		Schedule:      ledger.ReferenceSchedule(),
		Policy:        ledger.ReferencePolicy(),
	}

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	switch cfg.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, cfg.DBDriver)
	}
	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}

	switch v := getEnv("SCHEDULE_DIVISOR", "fixed"); v {
	case "fixed":
		cfg.Schedule.Divisor = ledger.DivisorFixed
	case "terms":
		cfg.Schedule.Divisor = ledger.DivisorTerms
	default:
		return nil, fmt.Errorf("SCHEDULE_DIVISOR must be fixed or terms, got %q", v)
	}

	switch v := getEnv("SCHEDULE_DUE_DATES", "anchor"); v {
	case "anchor":
		cfg.Schedule.DueDates = ledger.DueDatesFromAnchor
	case "processed_at":
		cfg.Schedule.DueDates = ledger.DueDatesFromProcessedAt
	default:
		return nil, fmt.Errorf("SCHEDULE_DUE_DATES must be anchor or processed_at, got %q", v)
	}

	switch v := getEnv("REPAYMENT_FLAG", "carry_over"); v {
	case "carry_over":
		cfg.Policy.FullRepaymentFlag = ledger.FlagCarryOver
	case "per_installment":
		cfg.Policy.FullRepaymentFlag = ledger.FlagPerInstallment
	default:
		return nil, fmt.Errorf("REPAYMENT_FLAG must be carry_over or per_installment, got %q", v)
	}

	switch v := getEnv("LOAN_STATUS_RULE", "sticky"); v {
	case "sticky":
		cfg.Policy.LoanStatus = ledger.StatusSticky
	case "derived":
		cfg.Policy.LoanStatus = ledger.StatusDerived
	default:
		return nil, fmt.Errorf("LOAN_STATUS_RULE must be sticky or derived, got %q", v)
	}

	return cfg, nil
}

// NewLogger builds the process logger described by the config.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if c.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	logger.SetLevel(c.LogLevel)
	return logger
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
