package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings holds the process-level options of a reporting run. Database and
// SMTP credentials live in the INI file named by ConfigPath, not here.
type Settings struct {
	ConfigPath  string
	CatalogPath string
	OutputDir   string
	WeeklyDay   time.Weekday

	LogLevel  string
	LogFormat string
}

// Load reads settings from the environment, applying a .env file when one
// exists in the working directory. Only REPORTER_WEEKLY_DAY is checked here;
// call Validate once any overrides have been applied.
func Load() (*Settings, error) {
	// Load .env file if it exists (don't error if missing)
	_ = godotenv.Load()

	weekly, err := parseWeekday(getEnv("REPORTER_WEEKLY_DAY", "Monday"))
	if err != nil {
		return nil, fmt.Errorf("REPORTER_WEEKLY_DAY: %w", err)
	}

	s := &Settings{
		ConfigPath:  getEnv("REPORTER_CONFIG", "reporter.ini"),
		CatalogPath: getEnv("REPORTER_CATALOG", "queries.json"),
		OutputDir:   getEnv("REPORTER_OUTPUT_DIR", os.TempDir()),
		WeeklyDay:   weekly,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
	}
	return s, nil
}

// Validate reports every invalid setting in a single error.
func (s *Settings) Validate() error {
	var errs []string

	if s.ConfigPath == "" {
		errs = append(errs, "REPORTER_CONFIG is required")
	}
	if s.CatalogPath == "" {
		errs = append(errs, "REPORTER_CATALOG is required")
	}
	if s.OutputDir == "" {
		errs = append(errs, "REPORTER_OUTPUT_DIR is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(s.LogLevel)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", s.LogLevel))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(s.LogFormat)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", s.LogFormat))
	}

	if len(errs) > 0 {
		return errors.New("validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a one-line representation for logging.
func (s *Settings) String() string {
	return fmt.Sprintf("Settings{Config: %q, Catalog: %q, OutputDir: %q, WeeklyDay: %s, Logging: {Level: %q, Format: %q}}",
		s.ConfigPath, s.CatalogPath, s.OutputDir, s.WeeklyDay, s.LogLevel, s.LogFormat)
}

func parseWeekday(v string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := d.String()
		if strings.EqualFold(v, name) || strings.EqualFold(v, name[:3]) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", v)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
