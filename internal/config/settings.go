package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Settings holds tool-level configuration shared by every command.
// Values come from ~/.brickctl/config.yaml when present, overridden by
// BRICKCTL_* environment variables.
type Settings struct {
	// RemoteUser is the account used on the brick
	RemoteUser string `mapstructure:"remote_user"`
	// RemoteRoot is the directory on the brick that projects deploy under
	RemoteRoot string `mapstructure:"remote_root"`
	// HostTemplate derives the brick host name from the group identifier
	HostTemplate string `mapstructure:"host_template"`
	// Port is the SSH port on the brick
	Port int `mapstructure:"port"`
	// ConnectTimeout bounds connection establishment
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// TransferTimeout bounds each individual file transfer
	TransferTimeout time.Duration `mapstructure:"transfer_timeout"`
	// CommandTimeout bounds remote command execution
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	// ResetGrace is how long a graceful termination may take before
	// reset escalates to a forced one
	ResetGrace time.Duration `mapstructure:"reset_grace"`
	// Workers bounds the file transfer worker pool
	Workers int `mapstructure:"workers"`
}

// LoadSettings reads the tool settings, falling back to defaults
func LoadSettings() (*Settings, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(Dir())
	v.SetEnvPrefix("BRICKCTL")
	v.AutomaticEnv()

	v.SetDefault("remote_user", "pi")
	v.SetDefault("remote_root", "/home/pi/projects")
	v.SetDefault("host_template", "dpm-%d.local")
	v.SetDefault("port", 22)
	v.SetDefault("connect_timeout", 10*time.Second)
	v.SetDefault("transfer_timeout", 30*time.Second)
	v.SetDefault("command_timeout", 10*time.Minute)
	v.SetDefault("reset_grace", 5*time.Second)
	v.SetDefault("workers", 4)

	if err := v.ReadInConfig(); err != nil {
		// settings file is optional; defaults cover the common case
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	if s.Workers < 1 {
		s.Workers = 1
	}

	return &s, nil
}

// Dir returns the brickctl configuration directory
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".brickctl"
	}
	return filepath.Join(home, ".brickctl")
}

// KnownHostsPath returns the file that caches brick host identities
func KnownHostsPath() string {
	return filepath.Join(Dir(), "known_hosts")
}
