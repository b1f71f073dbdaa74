// Package config loads the daemon's Settings the way the teacher repo's
// internal/profile.Profile is populated: defaults, then environment
// variables, then flags bound through spf13/viper in cmd/pueued.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Settings is configuration to start the daemon.
type Settings struct {
	// Data is the directory holding state.json, the TLS material and the
	// default log directory.
	Data string

	// UnixSocketPath, when non-empty, selects the Unix-domain-socket
	// transport; otherwise Host/Port with TLS is used (spec.md §4.E).
	UnixSocketPath string
	SocketPerm     os.FileMode

	Host    string
	Port    int
	TLSCert string
	TLSKey  string

	// SharedSecretPath points at the file holding the handshake secret
	// (spec.md §6, "Handshake").
	SharedSecretPath string

	LogDir      string
	StateGzip   bool
	ShellCmd    []string // e.g. []string{"sh", "-c", "{{ pueue_command_string }}"}

	DefaultGroupParallel   int
	PauseGroupOnFailure    bool
	PauseAllOnFailure      bool
	CallbackTemplate       string
	MaxConcurrentCallbacks int64

	// MetricsAddr, when non-empty, exposes Prometheus metrics on this
	// loopback address (spec.md §4.D [FULL]). Empty disables the endpoint.
	MetricsAddr string
}

// Default returns the baseline Settings before environment/flag overrides.
func Default() *Settings {
	s := &Settings{
		Port:                   6924,
		SocketPerm:             0o700,
		StateGzip:              false,
		DefaultGroupParallel:   1,
		MaxConcurrentCallbacks: 8,
	}
	s.ShellCmd = defaultShell()
	return s
}

func defaultShell() []string {
	if runtime.GOOS == "windows" {
		return []string{"powershell", "-NoLogo", "-NonInteractive", "-Command", "{{ pueue_command_string }}"}
	}
	return []string{"sh", "-c", "{{ pueue_command_string }}"}
}

// FromViper overlays values bound in v (flags + env, see cmd/pueued) onto s.
func (s *Settings) FromViper(v *viper.Viper) {
	if val := v.GetString("data"); val != "" {
		s.Data = val
	}
	if val := v.GetString("unix-socket"); val != "" {
		s.UnixSocketPath = val
	}
	if val := v.GetString("host"); val != "" {
		s.Host = val
	}
	if v.IsSet("port") {
		s.Port = v.GetInt("port")
	}
	if val := v.GetString("tls-cert"); val != "" {
		s.TLSCert = val
	}
	if val := v.GetString("tls-key"); val != "" {
		s.TLSKey = val
	}
	if val := v.GetString("shared-secret"); val != "" {
		s.SharedSecretPath = val
	}
	if val := v.GetString("log-dir"); val != "" {
		s.LogDir = val
	}
	if v.IsSet("state-gzip") {
		s.StateGzip = v.GetBool("state-gzip")
	}
	if v.IsSet("pause-group-on-failure") {
		s.PauseGroupOnFailure = v.GetBool("pause-group-on-failure")
	}
	if v.IsSet("pause-all-on-failure") {
		s.PauseAllOnFailure = v.GetBool("pause-all-on-failure")
	}
	if val := v.GetString("callback"); val != "" {
		s.CallbackTemplate = val
	}
	if val := v.GetString("metrics-addr"); val != "" {
		s.MetricsAddr = val
	}
}

// Validate fills in derived defaults (data dir, socket/log paths) and
// verifies the resulting Settings are usable, matching the
// checkDataDir/Validate shape of the teacher's internal/profile.Profile.
func (s *Settings) Validate() error {
	if s.Data == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return errors.Wrap(err, "resolve default data directory")
		}
		s.Data = dir
	}
	if !filepath.IsAbs(s.Data) {
		abs, err := filepath.Abs(s.Data)
		if err != nil {
			return errors.Wrapf(err, "resolve data directory %q", s.Data)
		}
		s.Data = abs
	}
	if err := os.MkdirAll(s.Data, 0o700); err != nil {
		return errors.Wrapf(err, "create data directory %q", s.Data)
	}

	if s.LogDir == "" {
		s.LogDir = filepath.Join(s.Data, "log")
	}
	if err := os.MkdirAll(s.LogDir, 0o700); err != nil {
		return errors.Wrapf(err, "create log directory %q", s.LogDir)
	}

	if s.SharedSecretPath == "" {
		s.SharedSecretPath = filepath.Join(s.Data, "secret")
	}

	if s.UnixSocketPath == "" && s.Host == "" {
		sock, err := defaultSocketPath()
		if err != nil {
			return errors.Wrap(err, "resolve default socket path")
		}
		s.UnixSocketPath = sock
	}

	if s.Host != "" && (s.TLSCert == "" || s.TLSKey == "") {
		return errors.New("tls-cert and tls-key are required when host is set")
	}

	if s.DefaultGroupParallel < 0 {
		return errors.New("default group parallelism cannot be negative")
	}
	if s.MaxConcurrentCallbacks <= 0 {
		s.MaxConcurrentCallbacks = 8
	}
	if len(s.ShellCmd) == 0 {
		s.ShellCmd = defaultShell()
	}

	return nil
}

// StatePath is the path to the atomically-rewritten state snapshot
// (spec.md §3 "State", §4.B "save"/"restore").
func (s *Settings) StatePath() string {
	return filepath.Join(s.Data, "state.json")
}

func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "pueue"), nil
}

func defaultSocketPath() (string, error) {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "pueue"
	}
	return filepath.Join(dir, "pueue_"+user+".socket"), nil
}
