package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"gopkg.in/yaml.v2"
)

const redacted = "********"

// GenerateHCL generates HCL bytes from Config.
func GenerateHCL(cfg *Config) ([]byte, error) {
	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(cfg, f.Body())
	return hclwrite.Format(f.Bytes()), nil
}

// Marshal renders cfg in the given format.
func Marshal(cfg *Config, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(cfg, "", "  ")
	case FormatYAML:
		return yaml.Marshal(cfg)
	default:
		return GenerateHCL(cfg)
	}
}

// SaveFile writes cfg to path in the format implied by its extension.
// An existing file is never overwritten.
func SaveFile(cfg *Config, path string) error {
	data, err := Marshal(cfg, FormatFor(path))
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return f.Close()
}

// Redacted returns a copy with secrets masked, for logging and diffs.
func (c *Config) Redacted() *Config {
	out := *c
	if c.General != nil {
		g := *c.General
		g.SafeHosts = append([]string(nil), c.General.SafeHosts...)
		out.General = &g
	}
	if c.Device != nil {
		d := *c.Device
		if d.Password != "" {
			d.Password = redacted
		}
		out.Device = &d
	}
	out.Users = make([]User, len(c.Users))
	for i, u := range c.Users {
		u.Passcode = redacted
		out.Users[i] = u
	}
	return &out
}

// Example returns the starter configuration written by "knockgate init".
func Example(stateDir, logDir string) *Config {
	cfg := &Config{
		SchemaVersion: CurrentSchemaVersion,
		General: &General{
			Port:           DefaultPort,
			PermTimeout:    DefaultPermTimeout,
			TempTimeout:    DefaultTempTimeout,
			WhiteList:      DefaultWhiteList,
			BlackList:      DefaultBlackList,
			BlackThreshold: DefaultBlackThreshold,
			SafeHosts:      append([]string(nil), DefaultSafeHosts...),
			URLPrefix:      DefaultURLPrefix,
			LogDir:         logDir,
			StateDir:       stateDir,
			Journal:        stateDir != "",
		},
		Device: &Device{
			DeviceType: DeviceRouterOS,
			Host:       "192.168.88.1",
			Username:   DefaultUsername,
		},
		Users: []User{
			{Name: "John", Passcode: "s3cReT"},
			{Name: "Ann", Passcode: "t3mp", Expires: "2030-01-01"},
		},
	}
	return cfg
}
