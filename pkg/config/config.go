// Package config is the top-level Config struct loaded once at boot,
// the way the teacher's cmd/api/config.go loads its own config struct:
// uconfig populates every field from defaults, a config file, and the
// environment, in that precedence order, and the result is passed by
// reference to every component from then on — no process-wide
// singletons, per spec §9.
package config

import (
	"encoding/json"
	"os"
	"path"
	"strings"

	"github.com/omeid/uconfig"
	"github.com/omeid/uconfig/plugins"
	"github.com/omeid/uconfig/plugins/file"
)

// Filename is the config file automatically loaded from -dir, if present.
const Filename = "config.json"

// Config is the full set of recognized options: spec §6's table, one
// field per row, plus the ambient sections (logging, metrics, status
// HTTP surface, storage) this module's expansion adds.
type Config struct {
	DatabaseURL string `default:"indexer.db" env:"DATABASE_URL"`

	Chains []ChainConfig

	Status  StatusConfig
	Metrics MetricsConfig
	Log     LogConfig
}

// ChainConfig is one managed contract's ingestion configuration —
// every option spec §6 lists as per-contract.
type ChainConfig struct {
	RPCURL          string   `default:""`
	ContractAddress string   `default:""`
	StartBlock      uint64   `default:"0"`
	ChunkSize       uint64   `default:"2000"`
	SyncIntervalSec int      `default:"2"`
	EventKeys       []string `default:""`
	EventTypes      []string `default:""`
	MaxRetries      int      `default:"3"`
}

// StatusConfig configures the §7 status HTTP endpoint.
type StatusConfig struct {
	Port                  string `default:"8000"`
	MaxRequestPerInterval uint64 `default:"10"`
	RateLimInterval       string `default:"1s"`
}

// MetricsConfig configures the Prometheus-backed metrics endpoint.
type MetricsConfig struct {
	Port string `default:"9090"`
}

// LogConfig controls the global zerolog logger.
type LogConfig struct {
	Human bool `default:"false"`
	Debug bool `default:"false"`
}

// Load reads dirPath/config.json (if present, with ${VAR} expansion)
// and the environment into a Config, applying the struct `default:`
// tags for anything unset — mirroring the teacher's uconfig.Classic
// call in cmd/api/config.go.
func Load(dirPath string) (*Config, error) {
	var fps []plugins.Plugin
	fullPath := path.Join(dirPath, Filename)
	configFileBytes, err := os.ReadFile(fullPath)
	switch {
	case os.IsNotExist(err):
		// No config file: defaults + environment only.
	case err != nil:
		return nil, err
	default:
		fileStr := os.ExpandEnv(string(configFileBytes))
		fps = append(fps, file.NewReader(strings.NewReader(fileStr), json.Unmarshal))
	}

	conf := &Config{}
	c, err := uconfig.Classic(&conf, file.Files{}, fps...)
	if err != nil {
		c.Usage()
		return nil, err
	}
	return conf, nil
}
