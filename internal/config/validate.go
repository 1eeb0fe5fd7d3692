package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError contains details about a single validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("config validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
	}
	return sb.String()
}

// ValidLedgerBackends are the allowed ledger backends.
var ValidLedgerBackends = []string{"sqlite", "redis", "memory"}

// ValidWifiDrivers are the allowed Wi-Fi drivers.
var ValidWifiDrivers = []string{"nmcli", "static"}

// ValidLogLevels are the allowed log levels.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// ValidLogFormats are the allowed log formats.
var ValidLogFormats = []string{"json", "text"}

// ValidWebhookFormats are the allowed webhook payload formats.
var ValidWebhookFormats = []string{"json", "slack"}

// ValidWebhookEvents are the events a webhook can subscribe to.
var ValidWebhookEvents = []string{"pending_decision", "decision_withdrawn"}

// ValidRoles are the roles an API key can default to.
var ValidRoles = []string{"viewer", "operator", "admin"}

// Validate performs comprehensive validation of the configuration.
// It returns all validation errors found (not just the first).
// Returns nil if the configuration is valid.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, ValidateScan(cfg.Scan)...)
	errs = append(errs, ValidateLedger(cfg.Ledger)...)
	errs = append(errs, ValidateWifi(cfg.Wifi)...)
	errs = append(errs, ValidatePrompt(cfg.Prompt)...)
	errs = append(errs, ValidateLogging(cfg.Logging)...)
	errs = append(errs, ValidateDaemon(cfg.Daemon)...)
	errs = append(errs, ValidateAuth(cfg.Auth)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateScan checks cycle timing.
func ValidateScan(s ScanConfig) []ValidationError {
	var errs []ValidationError

	if s.PollInterval <= 0 {
		errs = append(errs, ValidationError{Field: "scan.poll_interval", Message: "must be > 0"})
	}
	if s.KeepaliveInterval < 0 {
		errs = append(errs, ValidationError{Field: "scan.keepalive_interval", Message: "must be >= 0"})
	}
	if s.MinInterval < 0 {
		errs = append(errs, ValidationError{Field: "scan.min_interval", Message: "must be >= 0"})
	}
	if s.CycleTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "scan.cycle_timeout", Message: "must be > 0"})
	}
	if s.PromptTimeout < 0 {
		errs = append(errs, ValidationError{Field: "scan.prompt_timeout", Message: "must be >= 0"})
	}

	return errs
}

// ValidateLedger checks the ledger backend selection.
func ValidateLedger(l LedgerConfig) []ValidationError {
	var errs []ValidationError

	if !contains(ValidLedgerBackends, l.Backend) {
		errs = append(errs, ValidationError{
			Field:   "ledger.backend",
			Message: fmt.Sprintf("must be one of %v, got %q", ValidLedgerBackends, l.Backend),
		})
		return errs
	}

	switch l.Backend {
	case "sqlite":
		if l.Path == "" {
			errs = append(errs, ValidationError{Field: "ledger.path", Message: "path is required for the sqlite backend"})
		}
	case "redis":
		if l.Redis.Addr == "" {
			errs = append(errs, ValidationError{Field: "ledger.redis.addr", Message: "addr is required for the redis backend"})
		} else if _, _, err := net.SplitHostPort(l.Redis.Addr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "ledger.redis.addr",
				Message: fmt.Sprintf("invalid address %q: %v", l.Redis.Addr, err),
			})
		}
		if l.Redis.DB < 0 {
			errs = append(errs, ValidationError{Field: "ledger.redis.db", Message: "must be >= 0"})
		}
	}

	return errs
}

// ValidateWifi checks the Wi-Fi driver selection.
func ValidateWifi(w WifiConfig) []ValidationError {
	var errs []ValidationError

	if !contains(ValidWifiDrivers, w.Driver) {
		errs = append(errs, ValidationError{
			Field:   "wifi.driver",
			Message: fmt.Sprintf("must be one of %v, got %q", ValidWifiDrivers, w.Driver),
		})
	}
	if w.Driver == "static" && w.Fixture == "" {
		errs = append(errs, ValidationError{Field: "wifi.fixture", Message: "fixture is required for the static driver"})
	}

	return errs
}

// ValidatePrompt checks the webhook settings.
func ValidatePrompt(p PromptConfig) []ValidationError {
	var errs []ValidationError
	wh := p.Webhook

	if wh.URL != "" {
		u, err := url.Parse(wh.URL)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "prompt.webhook.url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, ValidationError{
				Field:   "prompt.webhook.url",
				Message: fmt.Sprintf("URL scheme must be http or https, got %q", u.Scheme),
			})
		}
	}
	if wh.Format != "" && !contains(ValidWebhookFormats, wh.Format) {
		errs = append(errs, ValidationError{
			Field:   "prompt.webhook.format",
			Message: fmt.Sprintf("must be one of %v, got %q", ValidWebhookFormats, wh.Format),
		})
	}
	for i, ev := range wh.Events {
		if !contains(ValidWebhookEvents, ev) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("prompt.webhook.events[%d]", i),
				Message: fmt.Sprintf("must be one of %v, got %q", ValidWebhookEvents, ev),
			})
		}
	}
	if wh.Timeout < 0 {
		errs = append(errs, ValidationError{Field: "prompt.webhook.timeout", Message: "must be >= 0"})
	}

	return errs
}

// ValidateLogging checks logging configuration.
func ValidateLogging(log LoggingConfig) []ValidationError {
	var errs []ValidationError

	if log.Level != "" && !contains(ValidLogLevels, log.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", ValidLogLevels, log.Level),
		})
	}

	if log.Format != "" && !contains(ValidLogFormats, log.Format) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("must be one of %v, got %q", ValidLogFormats, log.Format),
		})
	}

	return errs
}

// ValidateDaemon checks daemon configuration.
func ValidateDaemon(d DaemonConfig) []ValidationError {
	var errs []ValidationError

	if d.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(d.HTTPAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "daemon.http_addr",
				Message: fmt.Sprintf("invalid address %q: %v", d.HTTPAddr, err),
			})
		}
	}

	if d.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(d.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "daemon.metrics_addr",
				Message: fmt.Sprintf("invalid address %q: %v", d.MetricsAddr, err),
			})
		}
	}

	if d.ShutdownTimeout < 0 {
		errs = append(errs, ValidationError{Field: "daemon.shutdown_timeout", Message: "must be >= 0"})
	}

	return errs
}

// ValidateAuth checks API authentication settings.
func ValidateAuth(a AuthConfig) []ValidationError {
	var errs []ValidationError

	if a.DefaultRole != "" && !contains(ValidRoles, a.DefaultRole) {
		errs = append(errs, ValidationError{
			Field:   "auth.default_role",
			Message: fmt.Sprintf("must be one of %v, got %q", ValidRoles, a.DefaultRole),
		})
	}
	if a.Enabled && a.Key == "" && a.KeyEnv == "" && a.KeysFile == "" {
		errs = append(errs, ValidationError{
			Field:   "auth",
			Message: "one of key, key_env or keys_file is required when auth is enabled",
		})
	}
	for i, p := range a.PublicPaths {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("auth.public_paths[%d]", i),
				Message: fmt.Sprintf("path must start with '/', got %q", p),
			})
		}
	}

	return errs
}

// contains checks if a string slice contains a value.
func contains(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
