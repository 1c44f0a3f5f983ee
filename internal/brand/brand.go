// Package brand holds the product identity and default filesystem
// layout, read from the embedded brand.json.
//
// Every directory can be moved with environment variables, most specific
// first:
//
//	KNOCKGATE_STATE_DIR   exact directory
//	KNOCKGATE_PREFIX      <prefix>/state (config, log, run likewise)
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

//go:embed brand.json
var brandJSON []byte

type identity struct {
	Name        string `json:"name"`
	LowerName   string `json:"lowerName"`
	Description string `json:"description"`
	Tagline     string `json:"tagline"`
	EnvPrefix   string `json:"envPrefix"`
	ConfigDir   string `json:"configDir"`
	StateDir    string `json:"stateDir"`
	LogDir      string `json:"logDir"`
	RunDir      string `json:"runDir"`
	PidFile     string `json:"pidFile"`
	BinaryName  string `json:"binaryName"`
	ConfigFile  string `json:"configFile"`
}

var id identity

var (
	Name        string
	LowerName   string
	Description string
	Tagline     string
	BinaryName  string

	// Set at build time via -ldflags.
	Version   = "dev"
	BuildTime = "unknown"
	BuildArch = "unknown"
	GitCommit = "unknown"
)

func init() {
	if err := json.Unmarshal(brandJSON, &id); err != nil {
		panic("brand.json: " + err.Error())
	}
	Name = id.Name
	LowerName = id.LowerName
	Description = id.Description
	Tagline = id.Tagline
	BinaryName = id.BinaryName
}

// dir resolves one of the layout directories. sub is the directory
// under a prefix; its upper-case form names the override variable.
func dir(sub, def string) string {
	if v := os.Getenv(id.EnvPrefix + "_" + strings.ToUpper(sub) + "_DIR"); v != "" {
		return v
	}
	if prefix := os.Getenv(id.EnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, sub)
	}
	return def
}

// GetStateDir is where state.db and journal.db live.
func GetStateDir() string { return dir("state", id.StateDir) }

// GetLogDir is where the rotating log file is written.
func GetLogDir() string { return dir("log", id.LogDir) }

// GetConfigDir holds the configuration file.
func GetConfigDir() string { return dir("config", id.ConfigDir) }

// GetRunDir holds the pid file.
func GetRunDir() string { return dir("run", id.RunDir) }

// GetPidPath is the pid file read by the reload command.
func GetPidPath() string {
	return filepath.Join(GetRunDir(), id.PidFile)
}

// GetConfigPath is the default --config value.
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), id.ConfigFile)
}
