// Package config handles knockgate configuration parsing, defaults and
// validation.
//
// # Overview
//
// The primary format is HCL. JSON and YAML files with the same schema are
// accepted and selected by file extension. Unknown keys are load errors in
// every format.
//
// # Configuration Blocks
//
//   - general: listener, address-list names, timeouts, safe hosts, strike
//     threshold, page and log settings, persistence
//   - device: how to reach the firewall. device_type "mikrotik_routeros"
//     (the default) uses the RouterOS API; "local_command" runs the cmd
//     template in a local shell; any other type runs it over SSH.
//   - user "<name>": one block per user with a passcode and an optional
//     expiry date (YYYY-MM-DD)
//
// Example:
//
//	general {
//	    port            = 8080
//	    white_list      = "KNOCKING_WHITE"
//	    black_list      = "KNOCKING_BLACK"
//	    black_threshold = 3
//	    safe_hosts      = ["127.0.0.1", "10.0.0.2"]
//	}
//
//	device {
//	    host     = "192.168.88.1"
//	    username = "knock"
//	    password = env("KNOCKGATE_DEVICE_PASSWORD")
//	}
//
//	user "John" {
//	    passcode = "s3cReT"
//	}
//
//	user "Ann" {
//	    passcode = "t3mp"
//	    expires  = "2025-04-20"
//	}
//
// # Functions
//
// HCL expressions may call env("NAME") to read an environment variable, so
// secrets do not have to live in the file.
//
// # Timeouts
//
// Address-list timeouts (perm_timeout, temp_timeout, black_timeout) use the
// RouterOS notation "[Nw][Nd] [HH:MM:SS]", for example "7d 00:00:00" or
// "08:00:00", and are passed to the device verbatim. An empty timeout
// means the entry never expires. Other durations (timeout, rate_window,
// persist_interval) use Go syntax such as "10s". A negative rate_limit
// disables per-address rate limiting.
package config
