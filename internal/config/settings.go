// Package config loads engine settings and the device inventory.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Unbounder1/home-wake/internal/controller"
	"github.com/Unbounder1/home-wake/internal/keys"
	"github.com/Unbounder1/home-wake/internal/power"
)

const envPrefix = "HOMEWAKE"

const (
	ProbeMethodExec = "exec"
	ProbeMethodICMP = "icmp"
)

// Settings are the engine-wide knobs. Per-device data lives in the
// inventory.
type Settings struct {
	DevicesFile string

	KeysDir    string
	UploadRoot string

	ProbeMethod   string
	ProbeTimeout  time.Duration
	ActionTimeout time.Duration
	PollInterval  time.Duration
	Workers       int

	SSHUser      string
	WolBroadcast string
	WolPort      int
	StrictHTTP   bool
}

// Loader reads settings from a config file, HOMEWAKE_* environment
// variables and bound flags, in viper's usual precedence.
type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("devices", "devices.yaml")
	v.SetDefault("keys.dir", "ssh_keys")
	v.SetDefault("keys.upload_root", keys.DefaultUploadRoot)
	v.SetDefault("probe.method", ProbeMethodExec)
	v.SetDefault("probe.timeout", power.DefaultProbeTimeout)
	v.SetDefault("action.timeout", controller.DefaultActionTimeout)
	v.SetDefault("poll.interval", controller.DefaultPollInterval)
	v.SetDefault("workers", controller.DefaultWorkers)
	v.SetDefault("ssh.user", power.DefaultSSHUser)
	v.SetDefault("wol.broadcast", power.DefaultWolBroadcast)
	v.SetDefault("wol.port", power.DefaultWolPort)
	v.SetDefault("http.strict", false)

	return &Loader{v: v}
}

// Viper exposes the underlying instance so commands can bind flags.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads path, or searches the usual locations for homewake.yaml when
// path is empty. A missing file in the search locations is not an error.
func (l *Loader) Load(path string) (*Settings, error) {
	if path != "" {
		l.v.SetConfigFile(path)
	} else {
		l.v.SetConfigName("homewake")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("$HOME/.config/homewake")
		l.v.AddConfigPath("/etc/homewake")
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return l.parse()
}

// LoadReader loads settings from YAML content (useful for testing).
func (l *Loader) LoadReader(content string) (*Settings, error) {
	if err := l.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return l.parse()
}

// ConfigFileUsed returns the settings file that was read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) parse() (*Settings, error) {
	s := &Settings{
		DevicesFile:   l.v.GetString("devices"),
		KeysDir:       l.v.GetString("keys.dir"),
		UploadRoot:    l.v.GetString("keys.upload_root"),
		ProbeMethod:   strings.ToLower(l.v.GetString("probe.method")),
		ProbeTimeout:  l.v.GetDuration("probe.timeout"),
		ActionTimeout: l.v.GetDuration("action.timeout"),
		PollInterval:  l.v.GetDuration("poll.interval"),
		Workers:       l.v.GetInt("workers"),
		SSHUser:       l.v.GetString("ssh.user"),
		WolBroadcast:  l.v.GetString("wol.broadcast"),
		WolPort:       l.v.GetInt("wol.port"),
		StrictHTTP:    l.v.GetBool("http.strict"),
	}

	switch s.ProbeMethod {
	case ProbeMethodExec, ProbeMethodICMP:
	default:
		return nil, fmt.Errorf("probe.method must be %q or %q, got %q", ProbeMethodExec, ProbeMethodICMP, s.ProbeMethod)
	}
	if s.KeysDir == "" {
		return nil, fmt.Errorf("keys.dir is required")
	}
	if s.ProbeTimeout <= 0 {
		return nil, fmt.Errorf("probe.timeout must be positive")
	}
	if s.ActionTimeout <= 0 {
		return nil, fmt.Errorf("action.timeout must be positive")
	}
	if s.PollInterval <= 0 {
		return nil, fmt.Errorf("poll.interval must be positive")
	}
	if s.Workers <= 0 {
		return nil, fmt.Errorf("workers must be positive")
	}
	if s.SSHUser == "" {
		return nil, fmt.Errorf("ssh.user is required")
	}
	if s.WolPort < 1 || s.WolPort > 65535 {
		return nil, fmt.Errorf("wol.port must be between 1 and 65535")
	}

	return s, nil
}
