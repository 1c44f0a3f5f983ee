package config

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// CurrentSchemaVersion is the latest config schema version.
const CurrentSchemaVersion = "1.0"

// Device types.
const (
	DeviceRouterOS = "mikrotik_routeros"
	// DeviceLocal runs the command template on the gateway host itself.
	DeviceLocal = "local_command"
)

// Config is the complete, immutable configuration snapshot. It is never
// mutated after Load returns; reload builds a new one.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty" yaml:"schema_version,omitempty"`

	General *General `hcl:"general,block" json:"general,omitempty" yaml:"general,omitempty"`
	Device  *Device  `hcl:"device,block" json:"device,omitempty" yaml:"device,omitempty"`
	Users   []User   `hcl:"user,block" json:"users,omitempty" yaml:"users,omitempty"`
}

// General holds gateway-wide options.
type General struct {
	Developer bool   `hcl:"developer,optional" json:"developer,omitempty" yaml:"developer,omitempty"`
	Language  string `hcl:"language,optional" json:"language,omitempty" yaml:"language,omitempty"`

	// Knock listener.
	Listen         string `hcl:"listen,optional" json:"listen,omitempty" yaml:"listen,omitempty"`
	Port           int    `hcl:"port,optional" json:"port,omitempty" yaml:"port,omitempty"`
	MaxConnections int    `hcl:"max_connections,optional" json:"max_connections,omitempty" yaml:"max_connections,omitempty"`
	RateLimit      int    `hcl:"rate_limit,optional" json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	RateWindow     string `hcl:"rate_window,optional" json:"rate_window,omitempty" yaml:"rate_window,omitempty"`

	// Address lists on the device.
	PermTimeout    string   `hcl:"perm_timeout,optional" json:"perm_timeout,omitempty" yaml:"perm_timeout,omitempty"`
	TempTimeout    string   `hcl:"temp_timeout,optional" json:"temp_timeout,omitempty" yaml:"temp_timeout,omitempty"`
	WhiteList      string   `hcl:"white_list,optional" json:"white_list,omitempty" yaml:"white_list,omitempty"`
	BlackList      string   `hcl:"black_list,optional" json:"black_list,omitempty" yaml:"black_list,omitempty"`
	BlackTimeout   string   `hcl:"black_timeout,optional" json:"black_timeout,omitempty" yaml:"black_timeout,omitempty"`
	BlackThreshold int      `hcl:"black_threshold,optional" json:"black_threshold,omitempty" yaml:"black_threshold,omitempty"`
	SafeHosts      []string `hcl:"safe_hosts,optional" json:"safe_hosts,omitempty" yaml:"safe_hosts,omitempty"`

	// Presentation.
	URLPrefix     string `hcl:"url_prefix,optional" json:"url_prefix,omitempty" yaml:"url_prefix,omitempty"`
	PageTemplate  string `hcl:"page_template,optional" json:"page_template,omitempty" yaml:"page_template,omitempty"`
	PassSeparator string `hcl:"pass_separator,optional" json:"pass_separator,omitempty" yaml:"pass_separator,omitempty"`
	LogDir        string `hcl:"log_dir,optional" json:"log_dir,omitempty" yaml:"log_dir,omitempty"`

	// Operations.
	AdminListen          string `hcl:"admin_listen,optional" json:"admin_listen,omitempty" yaml:"admin_listen,omitempty"`
	StateDir             string `hcl:"state_dir,optional" json:"state_dir,omitempty" yaml:"state_dir,omitempty"`
	PersistInterval      string `hcl:"persist_interval,optional" json:"persist_interval,omitempty" yaml:"persist_interval,omitempty"`
	Journal              bool   `hcl:"journal,optional" json:"journal,omitempty" yaml:"journal,omitempty"`
	JournalRetentionDays int    `hcl:"journal_retention_days,optional" json:"journal_retention_days,omitempty" yaml:"journal_retention_days,omitempty"`
	WatchConfig          bool   `hcl:"watch_config,optional" json:"watch_config,omitempty" yaml:"watch_config,omitempty"`
}

// Device describes the firewall the gateway pushes decisions to.
type Device struct {
	DeviceType    string `hcl:"device_type,optional" json:"device_type,omitempty" yaml:"device_type,omitempty"`
	Host          string `hcl:"host" json:"host" yaml:"host"`
	Port          int    `hcl:"port,optional" json:"port,omitempty" yaml:"port,omitempty"`
	Username      string `hcl:"username,optional" json:"username,omitempty" yaml:"username,omitempty"`
	Password      string `hcl:"password,optional" json:"password,omitempty" yaml:"password,omitempty"`
	Secure        *bool  `hcl:"secure,optional" json:"secure,omitempty" yaml:"secure,omitempty"`
	TLSSkipVerify *bool  `hcl:"tls_skip_verify,optional" json:"tls_skip_verify,omitempty" yaml:"tls_skip_verify,omitempty"`
	Timeout       string `hcl:"timeout,optional" json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Templated command path for non-RouterOS device types.
	Cmd     string `hcl:"cmd,optional" json:"cmd,omitempty" yaml:"cmd,omitempty"`
	SSHPort int    `hcl:"ssh_port,optional" json:"ssh_port,omitempty" yaml:"ssh_port,omitempty"`
	// SSHKnownHosts is an OpenSSH known_hosts file. Empty accepts any
	// host key.
	SSHKnownHosts string `hcl:"ssh_known_hosts,optional" json:"ssh_known_hosts,omitempty" yaml:"ssh_known_hosts,omitempty"`
}

// User is one passcode holder.
type User struct {
	Name     string `hcl:"name,label" json:"name" yaml:"name"`
	Passcode string `hcl:"passcode" json:"passcode" yaml:"passcode"`
	Expires  string `hcl:"expires,optional" json:"expires,omitempty" yaml:"expires,omitempty"`
}

// ExpiresLayout is the date format of User.Expires.
const ExpiresLayout = "2006-01-02"

// ExpiryDate parses Expires. ok is false for permanent users.
func (u User) ExpiryDate() (date time.Time, ok bool, err error) {
	if u.Expires == "" {
		return time.Time{}, false, nil
	}
	date, err = time.ParseInLocation(ExpiresLayout, u.Expires, time.Local)
	if err != nil {
		return time.Time{}, false, err
	}
	return date, true, nil
}

// ListenAddress returns the knock listener address.
func (g *General) ListenAddress() string {
	return net.JoinHostPort(g.Listen, strconv.Itoa(g.Port))
}

// KnockURL is the address a user opens to knock with passcode:
// url_prefix, then "access", the separator and the passcode.
func (g *General) KnockURL(passcode string) string {
	prefix := g.URLPrefix
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + "access" + g.PassSeparator + passcode
}

// IsSafeHost reports whether addr is listed in safe_hosts.
func (g *General) IsSafeHost(addr string) bool {
	for _, h := range g.SafeHosts {
		if h == addr {
			return true
		}
	}
	return false
}

// RateWindowDuration returns rate_window parsed. Call after Validate.
func (g *General) RateWindowDuration() time.Duration {
	d, _ := time.ParseDuration(g.RateWindow)
	return d
}

// PersistIntervalDuration returns persist_interval parsed. Call after Validate.
func (g *General) PersistIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(g.PersistInterval)
	return d
}

// IsRouterOS reports whether the device speaks the RouterOS API.
func (d *Device) IsRouterOS() bool {
	return d.DeviceType == DeviceRouterOS
}

// IsLocal reports whether commands run on the gateway host.
func (d *Device) IsLocal() bool {
	return d.DeviceType == DeviceLocal
}

// IsSecure reports whether the API connection uses TLS.
func (d *Device) IsSecure() bool {
	return d.Secure == nil || *d.Secure
}

// SkipVerify reports whether the device certificate is left unverified.
func (d *Device) SkipVerify() bool {
	return d.TLSSkipVerify == nil || *d.TLSSkipVerify
}

// TimeoutDuration returns timeout parsed. Call after Validate.
func (d *Device) TimeoutDuration() time.Duration {
	t, _ := time.ParseDuration(d.Timeout)
	return t
}

// Equal reports whether two device configurations would produce the same
// connection.
func (d *Device) Equal(o *Device) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.DeviceType == o.DeviceType &&
		d.Host == o.Host &&
		d.Port == o.Port &&
		d.Username == o.Username &&
		d.Password == o.Password &&
		d.IsSecure() == o.IsSecure() &&
		d.SkipVerify() == o.SkipVerify() &&
		d.Timeout == o.Timeout &&
		d.Cmd == o.Cmd &&
		d.SSHPort == o.SSHPort &&
		d.SSHKnownHosts == o.SSHKnownHosts
}

// FindUser returns the user with the given name.
func (c *Config) FindUser(name string) (User, bool) {
	for _, u := range c.Users {
		if u.Name == name {
			return u, true
		}
	}
	return User{}, false
}
