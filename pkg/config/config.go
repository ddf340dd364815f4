// Package config loads the optional sources file that carries gateway
// addresses and cloud credentials outside of command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/levenlabs/go-lflag"
)

// Sources is the content of the sources TOML file.
type Sources struct {
	PVS      PVSSource      `toml:"pvs"`
	SunPower SunPowerSource `toml:"sunpower"`
}

// PVSSource locates the local gateway.
type PVSSource struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// SunPowerSource holds the cloud API credentials.
type SunPowerSource struct {
	URL         string `toml:"url"`
	AccessToken string `toml:"access_token"`
	SiteKey     string `toml:"site_key"`
}

// Default returns the values written into a freshly created file.
func Default() Sources {
	return Sources{
		PVS: PVSSource{
			Port: 80,
		},
		SunPower: SunPowerSource{
			URL: "https://monitor.mysunpower.com/CustomerPortal/graphql",
		},
	}
}

// Load reads the sources file at path. When the file does not exist it is
// created with defaults and the defaults are returned.
func Load(path string) (Sources, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return cfg, fmt.Errorf("failed to create config dir: %w", err)
		}
		// credentials end up in this file so keep it private
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
		if err != nil {
			return cfg, fmt.Errorf("failed to create sources file: %w", err)
		}
		defer f.Close()
		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			return cfg, fmt.Errorf("failed to write default sources file: %w", err)
		}
		return cfg, nil
	}

	var cfg Sources
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Sources{}, fmt.Errorf("failed to decode sources file %s: %w", path, err)
	}
	return cfg, nil
}

// Configured registers the sources-config flag. The returned value is filled
// in during lflag.Configure and stays empty when no file is given.
func Configured() *Sources {
	path := lflag.String("sources-config", "", "Path to a TOML file with gateway and cloud credentials")

	s := &Sources{}

	lflag.Do(func() {
		if *path == "" {
			return
		}
		cfg, err := Load(*path)
		if err != nil {
			panic(fmt.Sprintf("sources config: %v", err))
		}
		*s = cfg
	})

	return s
}
