package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

func hasField(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string // empty means valid
	}{
		{"rpc with command", func(c *Config) {
			c.Engine.Kind = EngineRPC
			c.Engine.Command = []string{"sneaker", "engine", "serve"}
		}, ""},
		{"unknown engine kind", func(c *Config) { c.Engine.Kind = "remote" }, "engine.kind"},
		{"rpc without command", func(c *Config) { c.Engine.Kind = EngineRPC }, "engine.command"},
		{"rpc with blank command", func(c *Config) {
			c.Engine.Kind = EngineRPC
			c.Engine.Command = []string{"  "}
		}, "engine.command"},
		{"json output", func(c *Config) { c.Shell.Output = "json" }, ""},
		{"yaml output", func(c *Config) { c.Shell.Output = "yaml" }, "shell.output"},
		{"zero catalog limit", func(c *Config) { c.Catalog.Limit = 0 }, ""},
		{"negative catalog limit", func(c *Config) { c.Catalog.Limit = -1 }, "catalog.limit"},
		{"empty ignore list", func(c *Config) { c.Import.Ignore = nil }, ""},
		{"blank ignore pattern", func(c *Config) { c.Import.Ignore = []string{"*.tmp", " "} }, "import.ignore[1]"},
		{"debounce too small", func(c *Config) { c.Watch.DebounceMs = 5 }, "watch.debounce_ms"},
		{"debounce too large", func(c *Config) { c.Watch.DebounceMs = 120000 }, "watch.debounce_ms"},
		{"empty log level", func(c *Config) { c.Logging.Level = "" }, ""},
		{"uppercase log level", func(c *Config) { c.Logging.Level = "INFO" }, "logging.level"},
		{"zero log size", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
		{"huge log size", func(c *Config) { c.Logging.MaxSizeMB = 5000 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			errs := cfg.Validate()

			if tt.wantField == "" {
				if len(errs) != 0 {
					t.Errorf("expected valid config, got %v", errs)
				}
				return
			}
			if !hasField(errs, tt.wantField) {
				t.Errorf("expected error for %s, got %v", tt.wantField, errs)
			}
		})
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Engine.Kind = "nope"
	cfg.Shell.Output = "xml"
	cfg.Logging.MaxBackups = -2

	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(errs), errs)
	}
}

func TestValidLists(t *testing.T) {
	if got := strings.Join(ValidLogLevels(), ","); got != "debug,info,warn,error" {
		t.Errorf("ValidLogLevels() = %s", got)
	}
	if got := strings.Join(ValidOutputFormats(), ","); got != "text,json" {
		t.Errorf("ValidOutputFormats() = %s", got)
	}
	if got := strings.Join(ValidEngineKinds(), ","); got != "local,rpc" {
		t.Errorf("ValidEngineKinds() = %s", got)
	}
}
