package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Languages with a message catalog.
var supportedLanguages = map[string]bool{"en": true, "ru": true}

// Validate validates a configuration with defaults applied. Duplicate
// passcodes are reported here so a bad file never replaces a good one.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.General == nil || c.Device == nil {
		add("config", "defaults not applied")
		return errs
	}

	g := c.General
	if !supportedLanguages[g.Language] {
		add("general.language", "unsupported language %q (en, ru)", g.Language)
	}
	if g.Port < 1 || g.Port > 65535 {
		add("general.port", "must be 1-65535, got %d", g.Port)
	}
	for _, f := range []struct{ name, val string }{
		{"general.perm_timeout", g.PermTimeout},
		{"general.temp_timeout", g.TempTimeout},
		{"general.black_timeout", g.BlackTimeout},
	} {
		if _, err := ParseSpan(f.val); err != nil {
			add(f.name, "%v", err)
		}
	}
	if g.WhiteList == "" {
		add("general.white_list", "must not be empty")
	}
	if g.BlackList == "" {
		add("general.black_list", "must not be empty")
	}
	if g.BlackThreshold < 1 {
		add("general.black_threshold", "must be at least 1, got %d", g.BlackThreshold)
	}
	for _, h := range g.SafeHosts {
		if net.ParseIP(h) == nil {
			add("general.safe_hosts", "%q is not an IP address", h)
		}
	}
	if g.PassSeparator == "" {
		add("general.pass_separator", "must not be empty")
	} else if strings.Contains(g.PassSeparator, "/") {
		add("general.pass_separator", "must not contain '/'")
	}
	if g.MaxConnections < 1 {
		add("general.max_connections", "must be positive, got %d", g.MaxConnections)
	}
	checkDuration(add, "general.rate_window", g.RateWindow)
	checkDuration(add, "general.persist_interval", g.PersistInterval)
	if g.Journal && g.StateDir == "" {
		add("general.journal", "requires state_dir")
	}
	if g.JournalRetentionDays < 0 {
		add("general.journal_retention_days", "must not be negative")
	}

	d := c.Device
	if d.Host == "" && !d.IsLocal() {
		add("device.host", "is required")
	}
	if d.Port < 0 || d.Port > 65535 {
		add("device.port", "must be 0-65535, got %d", d.Port)
	}
	checkDuration(add, "device.timeout", d.Timeout)
	if !d.IsRouterOS() {
		if !strings.Contains(d.Cmd, "{ip}") {
			add("device.cmd", "template must contain {ip}")
		}
		if d.SSHPort < 0 || d.SSHPort > 65535 {
			add("device.ssh_port", "must be 0-65535, got %d", d.SSHPort)
		}
	}

	names := make(map[string]bool, len(c.Users))
	owners := make(map[string]string, len(c.Users))
	for _, u := range c.Users {
		field := fmt.Sprintf("user.%s", u.Name)
		if u.Name == "" {
			add("user", "name must not be empty")
		}
		if names[u.Name] {
			add(field, "defined more than once")
		}
		names[u.Name] = true

		switch {
		case u.Passcode == "":
			add(field+".passcode", "must not be empty")
		case strings.Contains(u.Passcode, g.PassSeparator) || strings.Contains(u.Passcode, "/"):
			add(field+".passcode", "must not contain %q or '/'", g.PassSeparator)
		default:
			if prev, dup := owners[u.Passcode]; dup {
				add(field+".passcode", "duplicates the passcode of user %q", prev)
			}
			owners[u.Passcode] = u.Name
		}
		if _, _, err := u.ExpiryDate(); err != nil {
			add(field+".expires", "expected YYYY-MM-DD, got %q", u.Expires)
		}
	}

	return errs
}

func checkDuration(add func(string, string, ...any), field, val string) {
	d, err := time.ParseDuration(val)
	if err != nil {
		add(field, "%v", err)
		return
	}
	if d <= 0 {
		add(field, "must be positive")
	}
}
