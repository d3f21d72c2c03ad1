// Package config loads the small set of tunables the downloader exposes:
// block size, per-peer pipeline depth, and network timeouts. Grounded in
// shammishailaj-rain/config.go's YAML-with-defaults pattern, modernized
// from gopkg.in/yaml.v1 to gopkg.in/yaml.v3.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named or implied by the spec's constants.
type Config struct {
	// BlockSize is the size of a request/piece block, 16384 per spec.
	BlockSize int `yaml:"block_size"`
	// PipelineDepth is the per-peer in-flight request count, K in spec.md §4.5.
	PipelineDepth int `yaml:"pipeline_depth"`
	// ConnectTimeout bounds the tracker HTTP GET. Peer TCP dials are not
	// bounded by it; they use peerconn.ReadTimeout.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// ReadTimeout bounds a single socket read/piece download.
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// ListenPort is advertised to the tracker in the announce request.
	ListenPort uint16 `yaml:"listen_port"`
}

// Default matches the constants spec.md names explicitly (16384-byte
// blocks, K=5, port 6881) plus the 30s read/connect timeout recommended in
// §5.
func Default() Config {
	return Config{
		BlockSize:      16384,
		PipelineDepth:  5,
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    30 * time.Second,
		ListenPort:     6881,
	}
}

// Load reads a YAML file at path, applying it on top of Default. A missing
// file is not an error: the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
