package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "catalog.limit")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidOutputFormats returns the list of valid shell output formats
func ValidOutputFormats() []string {
	return []string{"text", "json"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateEngine()...)
	errors = append(errors, c.validateShell()...)
	errors = append(errors, c.validateCatalog()...)
	errors = append(errors, c.validateImport()...)
	errors = append(errors, c.validateWatch()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateEngine() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidEngineKinds(), c.Engine.Kind) {
		errors = append(errors, ValidationError{
			Field:   "engine.kind",
			Value:   c.Engine.Kind,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidEngineKinds(), ", ")),
		})
	}

	// An rpc engine needs something to run
	if c.Engine.Kind == EngineRPC && (len(c.Engine.Command) == 0 || strings.TrimSpace(c.Engine.Command[0]) == "") {
		errors = append(errors, ValidationError{
			Field:   "engine.command",
			Value:   c.Engine.Command,
			Message: "required when engine.kind is rpc",
		})
	}

	return errors
}

func (c *Config) validateShell() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidOutputFormats(), c.Shell.Output) {
		errors = append(errors, ValidationError{
			Field:   "shell.output",
			Value:   c.Shell.Output,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidOutputFormats(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateCatalog() []ValidationError {
	var errors []ValidationError

	if c.Catalog.Limit < 0 {
		errors = append(errors, ValidationError{
			Field:   "catalog.limit",
			Value:   c.Catalog.Limit,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateImport() []ValidationError {
	var errors []ValidationError

	for i, pattern := range c.Import.Ignore {
		if strings.TrimSpace(pattern) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("import.ignore[%d]", i),
				Value:   pattern,
				Message: "must not be empty",
			})
			continue
		}
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("import.ignore[%d]", i),
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}
	}

	return errors
}

func (c *Config) validateWatch() []ValidationError {
	var errors []ValidationError

	if c.Watch.DebounceMs < 10 {
		errors = append(errors, ValidationError{
			Field:   "watch.debounce_ms",
			Value:   c.Watch.DebounceMs,
			Message: "must be at least 10",
		})
	}

	const maxDebounceMs = 60000
	if c.Watch.DebounceMs > maxDebounceMs {
		errors = append(errors, ValidationError{
			Field:   "watch.debounce_ms",
			Value:   c.Watch.DebounceMs,
			Message: fmt.Sprintf("exceeds maximum of %dms", maxDebounceMs),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
