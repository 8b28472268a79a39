// Package config is the repo's on-disk TOML configuration (the AMBIENT
// STACK config concern of SPEC_FULL.md): network name, block delay,
// repo path, and listen address, loaded and written with
// BurntSushi/toml the way venus's fsrepo loads config.toml.
package config

import (
	"bytes"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// NetworkConfig names the network this node participates in and its
// expected block cadence.
type NetworkConfig struct {
	Name       string `toml:"name"`
	BlockDelay uint64 `toml:"block_delay"`
}

// APIConfig is the JSON-RPC listen address the API façade binds to.
type APIConfig struct {
	ListenAddr string `toml:"listen_address"`
}

// RepoConfig is the on-disk repo root; the blockstore lives under it
// (the keystore is in-memory and is not persisted).
type RepoConfig struct {
	Path string `toml:"path"`
}

// Config is the top-level on-disk configuration document.
type Config struct {
	Network NetworkConfig `toml:"network"`
	API     APIConfig     `toml:"api"`
	Repo    RepoConfig    `toml:"repo"`
}

// Default returns the configuration a fresh repo is initialized with.
func Default() *Config {
	return &Config{
		Network: NetworkConfig{Name: "fuhon", BlockDelay: 5},
		API:     APIConfig{ListenAddr: "127.0.0.1:1234"},
		Repo:    RepoConfig{Path: "~/.fuhon"},
	}
}

// Load decodes the TOML document at path into a Config.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "decoding config %s", path)
	}
	return cfg, nil
}

// Save encodes cfg as TOML and writes it to path.
func Save(path string, cfg *Config) error {
	buf := new(bytes.Buffer)
	if err := toml.NewEncoder(buf).Encode(cfg); err != nil {
		return errors.Wrap(err, "encoding config")
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
