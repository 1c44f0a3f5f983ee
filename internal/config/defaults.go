package config

// Defaults for options left unset. Values mirror what a fresh RouterOS
// setup with the stock address-list names expects.
const (
	DefaultLanguage       = "en"
	DefaultPort           = 80
	DefaultPermTimeout    = "7d 00:00:00"
	DefaultTempTimeout    = "08:00:00"
	DefaultWhiteList      = "KNOCKING_WHITE"
	DefaultBlackList      = "KNOCKING_BLACK"
	DefaultBlackThreshold = 3
	DefaultURLPrefix      = "http://localhost/"
	DefaultPassSeparator  = "_"
	DefaultMaxConnections = 256
	DefaultRateLimit      = 30
	DefaultRateWindow     = "1m"
	DefaultPersist        = "30s"
	DefaultRetentionDays  = 30

	DefaultUsername = "admin"
	DefaultTimeout  = "10s"
	DefaultSSHPort  = 22
	DefaultCmd      = "/ip firewall address-list add list={list_name} address={ip} comment={comment} timeout={timeout}"
)

// DefaultSafeHosts is used when safe_hosts is not set.
var DefaultSafeHosts = []string{"127.0.0.1"}

// ApplyDefaults fills unset options in place. Missing general and device
// blocks are created.
func (c *Config) ApplyDefaults() {
	if c.SchemaVersion == "" {
		c.SchemaVersion = CurrentSchemaVersion
	}
	if c.General == nil {
		c.General = &General{}
	}
	if c.Device == nil {
		c.Device = &Device{}
	}

	g := c.General
	setString(&g.Language, DefaultLanguage)
	setInt(&g.Port, DefaultPort)
	setString(&g.PermTimeout, DefaultPermTimeout)
	setString(&g.TempTimeout, DefaultTempTimeout)
	setString(&g.WhiteList, DefaultWhiteList)
	setString(&g.BlackList, DefaultBlackList)
	setInt(&g.BlackThreshold, DefaultBlackThreshold)
	setString(&g.URLPrefix, DefaultURLPrefix)
	setString(&g.PassSeparator, DefaultPassSeparator)
	setInt(&g.MaxConnections, DefaultMaxConnections)
	setInt(&g.RateLimit, DefaultRateLimit)
	setString(&g.RateWindow, DefaultRateWindow)
	setString(&g.PersistInterval, DefaultPersist)
	setInt(&g.JournalRetentionDays, DefaultRetentionDays)
	if g.SafeHosts == nil {
		g.SafeHosts = append([]string(nil), DefaultSafeHosts...)
	}

	d := c.Device
	setString(&d.DeviceType, DeviceRouterOS)
	setString(&d.Username, DefaultUsername)
	setString(&d.Timeout, DefaultTimeout)
	setString(&d.Cmd, DefaultCmd)
	setInt(&d.SSHPort, DefaultSSHPort)
}

func setString(p *string, v string) {
	if *p == "" {
		*p = v
	}
}

func setInt(p *int, v int) {
	if *p == 0 {
		*p = v
	}
}
