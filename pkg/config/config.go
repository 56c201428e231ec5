package config

import internalconfig "github.com/SmitUplenchwar2687/Gatekeep/internal/config"

// EnvPrefix prefixes environment overrides, e.g. GATEKEEP_SERVER_ADDR.
const EnvPrefix = internalconfig.EnvPrefix

var ErrInvalidConfig = internalconfig.ErrInvalidConfig

type (
	Config            = internalconfig.Config
	ServerConfig      = internalconfig.ServerConfig
	LogConfig         = internalconfig.LogConfig
	StorageConfig     = internalconfig.StorageConfig
	FingerprintConfig = internalconfig.FingerprintConfig
	PolicyConfig      = internalconfig.PolicyConfig
)

// Default returns a Config with sensible defaults.
func Default() Config {
	return internalconfig.Default()
}

// Load reads path (YAML or JSON) over the defaults and applies environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	return internalconfig.Load(path)
}

// WriteExample writes an example YAML config file.
func WriteExample(path string) error {
	return internalconfig.WriteExample(path)
}
