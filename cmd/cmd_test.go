package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/knockgate/internal/audit"
	"grimm.is/knockgate/internal/config"
	"grimm.is/knockgate/internal/credentials"
	"grimm.is/knockgate/internal/reputation"
	"grimm.is/knockgate/internal/routeros"
	"grimm.is/knockgate/internal/state"
)

const validConfig = `
general {
  safe_hosts = ["127.0.0.1"]
  state_dir  = "%s"
  journal    = true
}

device {
  host     = "192.0.2.1"
  password = "hunter2"
}

user "John" {
  passcode = "s3cret"
}

user "Ann" {
  passcode = "t3mp"
  expires  = "2026-03-10"
}
`

func writeConfig(t *testing.T, body string) (path, dir string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "knockgate.hcl")
	if strings.Contains(body, "%s") {
		body = fmt.Sprintf(body, dir)
	}
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCheck_ValidConfig(t *testing.T) {
	path, _ := writeConfig(t, validConfig)

	var out bytes.Buffer
	require.NoError(t, RunCheck(&out, path, CheckOptions{}))
	assert.Contains(t, out.String(), "Configuration valid!")
	assert.Contains(t, out.String(), "192.0.2.1")
	assert.Contains(t, out.String(), "KNOCKING_WHITE / KNOCKING_BLACK")
	assert.Contains(t, out.String(), "Users:     2")
}

func TestRunCheck_VerboseRedactsSecrets(t *testing.T) {
	path, _ := writeConfig(t, validConfig)

	var out bytes.Buffer
	require.NoError(t, RunCheck(&out, path, CheckOptions{Verbose: true}))
	assert.NotContains(t, out.String(), "hunter2")
	assert.NotContains(t, out.String(), "s3cret")
	assert.Contains(t, out.String(), "John")
	assert.Contains(t, out.String(), "2026-03-10")
}

func TestRunCheck_KnockURLs(t *testing.T) {
	path, _ := writeConfig(t, strings.Replace(validConfig, "general {", "general {\n  url_prefix = \"https://knock.example.net\"", 1))

	out, err := execute(t, "check", "--urls", path)
	require.NoError(t, err)
	assert.Contains(t, out, "https://knock.example.net/access_s3cret")
	assert.Contains(t, out, "KNOCK URL")
}

func TestRunCheck_InvalidConfig(t *testing.T) {
	path, _ := writeConfig(t, "general {\n  # missing closing brace\n")

	err := RunCheck(&bytes.Buffer{}, path, CheckOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration invalid")
}

func TestCheckCommand_PositionalPath(t *testing.T) {
	path, _ := writeConfig(t, validConfig)

	out, err := execute(t, "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid!")
}

func TestInitCommand_WritesLoadableExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "knockgate.hcl")

	out, err := execute(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = config.LoadFile(path)
	require.NoError(t, err)

	// Never overwrites.
	_, err = execute(t, "init", "--config", path)
	assert.Error(t, err)
}

func TestRunReload_InvalidConfigNotSignalled(t *testing.T) {
	path, dir := writeConfig(t, "device {}\n")
	pidFile := filepath.Join(dir, "knockgate.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("999999\n"), 0o644))

	var out bytes.Buffer
	err := RunReload(&out, path, pidFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.NotContains(t, out.String(), "Sending SIGHUP")
}

func TestRunReload_MissingPidFile(t *testing.T) {
	path, dir := writeConfig(t, validConfig)

	err := RunReload(&bytes.Buffer{}, path, filepath.Join(dir, "absent.pid"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is the gateway running?")
}

func TestPidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "knockgate.pid")
	require.NoError(t, writePidFile(path))

	pid, err := readPidFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	removePidFile(path)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	_, err = readPidFile(path)
	assert.Error(t, err)
}

func TestAddressesCommand(t *testing.T) {
	path, dir := writeConfig(t, validConfig)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)

	p, err := openPersister(filepath.Join(dir, stateFileName))
	require.NoError(t, err)
	trusted := reputation.NewRecord("198.51.100.7", now)
	trusted.Status = reputation.StatusTrusted
	trusted.Owner = "John"
	trusted.Reason = "access granted"
	blocked := reputation.NewRecord("203.0.113.5", now.Add(time.Minute))
	blocked.Status = reputation.StatusBlocked
	blocked.Strikes = 3
	blocked.Reason = "threshold exceeded"
	require.NoError(t, p.Save(state.Snapshot{Records: []reputation.AddressRecord{*trusted, *blocked}}))
	require.NoError(t, p.Close())

	out, err := execute(t, "addresses", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "198.51.100.7")
	assert.Contains(t, out, "203.0.113.5")
	assert.Contains(t, out, "John")

	out, err = execute(t, "addresses", "--config", path, "--status", "blocked")
	require.NoError(t, err)
	assert.Contains(t, out, "203.0.113.5")
	assert.NotContains(t, out, "198.51.100.7")

	_, err = execute(t, "addresses", "--config", path, "--status", "evil")
	assert.Error(t, err)

	addressesStatus = ""
}

func TestJournalCommand(t *testing.T) {
	path, dir := writeConfig(t, validConfig)

	store, err := audit.NewStore(filepath.Join(dir, journalFileName), 0)
	require.NoError(t, err)
	require.NoError(t, store.Write(audit.Event{
		Timestamp: time.Now(),
		Address:   "203.0.113.5",
		Path:      "/wp-login.php",
		Behavior:  "danger",
		Status:    "blocked",
		Strikes:   3,
		Reason:    "threshold exceeded",
	}))
	require.NoError(t, store.Write(audit.Event{
		Timestamp: time.Now(),
		Address:   "198.51.100.7",
		Path:      "/access_***",
		Behavior:  "good",
		Status:    "trusted",
		Reason:    "access granted",
		User:      "John",
	}))
	require.NoError(t, store.Close())

	out, err := execute(t, "journal", "--config", path, "--address", "203.0.113.5")
	require.NoError(t, err)
	assert.Contains(t, out, "/wp-login.php")
	assert.NotContains(t, out, "198.51.100.7")

	out, err = execute(t, "journal", "--config", path, "--user", "John")
	require.NoError(t, err)
	assert.Contains(t, out, "/access_***")

	journalAddress, journalUser = "", ""
}

func TestStateCommands_NoStateDir(t *testing.T) {
	path, _ := writeConfig(t, "device {\n  host = \"192.0.2.1\"\n}\n")

	_, err := execute(t, "addresses", "--config", path)
	assert.ErrorIs(t, err, errNoStateDir)

	_, err = execute(t, "journal", "--config", path)
	assert.ErrorIs(t, err, errNoStateDir)
}

func TestUsersTable(t *testing.T) {
	now := time.Date(2026, 3, 11, 9, 0, 0, 0, time.Local)
	users, err := credentials.New([]config.User{
		{Name: "John", Passcode: "s3cret"},
		{Name: "Ann", Passcode: "t3mp", Expires: "2026-03-10"},
	})
	require.NoError(t, err)
	u, _ := users.Get("John")
	u.RecordAccess("198.51.100.7", now.Add(-time.Hour))

	out := usersTable(users.Users(), now)
	assert.Contains(t, out, "USER")
	assert.Contains(t, out, "2026-03-10 (expired)")
	assert.Contains(t, out, "198.51.100.7")
	assert.Contains(t, out, "2026.03.11 08:00:00")
	assert.NotContains(t, out, "s3cret")
}

func TestProbeHint(t *testing.T) {
	dev := &config.Device{Host: "192.0.2.1", DeviceType: config.DeviceRouterOS}

	assert.Contains(t, probeHint(fmt.Errorf("login as admin: %w", routeros.ErrLoginRejected), dev), "device.password")
	assert.Contains(t, probeHint(context.DeadlineExceeded, dev), "no answer from 192.0.2.1")

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	assert.Contains(t, probeHint(refused, dev), "/ip service enable api-ssl")

	ssh := &config.Device{Host: "192.0.2.1", DeviceType: "ssh_command"}
	assert.Contains(t, probeHint(refused, ssh), "device.ssh_port")
}

func TestDeviceAddress(t *testing.T) {
	plain := false
	tests := []struct {
		dev  config.Device
		want string
	}{
		{config.Device{DeviceType: config.DeviceRouterOS, Host: "192.0.2.1"}, "192.0.2.1:8729"},
		{config.Device{DeviceType: config.DeviceRouterOS, Host: "192.0.2.1", Secure: &plain}, "192.0.2.1:8728"},
		{config.Device{DeviceType: config.DeviceRouterOS, Host: "192.0.2.1", Port: 9000}, "192.0.2.1:9000"},
		{config.Device{DeviceType: "ssh_command", Host: "192.0.2.1"}, "192.0.2.1:22"},
		{config.Device{DeviceType: "ssh_command", Host: "192.0.2.1", SSHPort: 2222}, "192.0.2.1:2222"},
		{config.Device{DeviceType: config.DeviceLocal}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, deviceAddress(&tt.dev), "%+v", tt.dev)
	}
}
