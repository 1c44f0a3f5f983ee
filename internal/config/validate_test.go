package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := &Config{
		Device: &Device{Host: "192.0.2.1"},
		Users: []User{
			{Name: "John", Passcode: "s3cReT"},
			{Name: "Ann", Passcode: "t3mp", Expires: "2025-04-20"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"duplicate passcode", func(c *Config) {
			c.Users = append(c.Users, User{Name: "Eve", Passcode: "s3cReT"})
		}, `user.Eve.passcode: duplicates the passcode of user "John"`},
		{"duplicate user", func(c *Config) {
			c.Users = append(c.Users, User{Name: "John", Passcode: "other"})
		}, "user.John: defined more than once"},
		{"separator in passcode", func(c *Config) {
			c.Users[0].Passcode = "a_b"
		}, "user.John.passcode"},
		{"bad expiry", func(c *Config) {
			c.Users[1].Expires = "20.04.2025"
		}, "user.Ann.expires"},
		{"missing host", func(c *Config) {
			c.Device.Host = ""
		}, "device.host: is required"},
		{"bad span", func(c *Config) {
			c.General.TempTimeout = "eight hours"
		}, "general.temp_timeout"},
		{"zero threshold", func(c *Config) {
			c.General.BlackThreshold = -1
		}, "general.black_threshold"},
		{"bad safe host", func(c *Config) {
			c.General.SafeHosts = []string{"localhost"}
		}, "general.safe_hosts"},
		{"language", func(c *Config) {
			c.General.Language = "de"
		}, "general.language"},
		{"journal without state", func(c *Config) {
			c.General.Journal = true
			c.General.StateDir = ""
		}, "general.journal: requires state_dir"},
		{"command template", func(c *Config) {
			c.Device.DeviceType = "linux"
			c.Device.Cmd = "ipset add knock"
		}, "device.cmd"},
		{"bad device timeout", func(c *Config) {
			c.Device.Timeout = "soon"
		}, "device.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if tt.wantErr == "" {
				if errs.HasErrors() {
					t.Errorf("unexpected errors: %v", errs)
				}
				return
			}
			if !strings.Contains(errs.Error(), tt.wantErr) {
				t.Errorf("errors %q do not contain %q", errs.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_DefaultsNotApplied(t *testing.T) {
	errs := (&Config{}).Validate()
	if !errs.HasErrors() {
		t.Error("expected error for config without defaults")
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		General: &General{Port: 8080, SafeHosts: []string{}},
		Device:  &Device{Host: "h", SSHPort: 2222},
	}
	cfg.ApplyDefaults()

	if cfg.General.Port != 8080 {
		t.Errorf("port overwritten: %d", cfg.General.Port)
	}
	if cfg.General.SafeHosts == nil || len(cfg.General.SafeHosts) != 0 {
		t.Errorf("explicit empty safe_hosts replaced: %v", cfg.General.SafeHosts)
	}
	if cfg.Device.SSHPort != 2222 {
		t.Errorf("ssh_port overwritten: %d", cfg.Device.SSHPort)
	}
	if cfg.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("schema version = %q", cfg.SchemaVersion)
	}
}
