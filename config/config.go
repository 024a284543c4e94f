// Package config holds the tunable constants of the transfer protocol
// and an optional YAML overlay, mirroring the buffer-size-option style
// of the teacher's transport protocol registration and the
// config.LoadConfig("config.yaml") pattern used elsewhere in the
// reference corpus.
package config

import (
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Algorithm selects the sender's congestion-control regime.
type Algorithm string

const (
	Tahoe Algorithm = "tahoe"
	Reno  Algorithm = "reno"
)

// Config carries every tunable named in the protocol's constants table.
// Field names match the table's "Name" column so a YAML overlay can use
// the same vocabulary.
type Config struct {
	ChunkSize        int       `yaml:"chunk_size"`
	RcvBuffer        int       `yaml:"rcv_buffer"`
	MaxWindow        int       `yaml:"max_window"`
	PersistInterval  int       `yaml:"persist_interval_ms"`
	DelayedAck       int       `yaml:"delayed_ack_ms"`
	TimeoutCheck     int       `yaml:"timeout_check_ms"`
	AppDrainInterval int       `yaml:"app_drain_interval_ms"`
	AppDrainSize     int       `yaml:"app_drain_size"`
	RTOMin           int       `yaml:"rto_min_ms"`
	PDataLoss        float64   `yaml:"p_data_loss"`
	PAckLoss         float64   `yaml:"p_ack_loss"`
	Algorithm        Algorithm `yaml:"algorithm"`
	Seed             int64     `yaml:"seed"`
	PacingInterval   int       `yaml:"pacing_interval_ms"`
	FinalAckWait     int       `yaml:"final_ack_wait_ms"`
}

// Default returns the constants table of spec §6, verbatim.
func Default() *Config {
	return &Config{
		ChunkSize:        5120,
		RcvBuffer:        262144,
		MaxWindow:        128,
		PersistInterval:  1000,
		DelayedAck:       200,
		TimeoutCheck:     50,
		AppDrainInterval: 100,
		AppDrainSize:     8 * 1024,
		RTOMin:           200,
		PDataLoss:        0.10,
		PAckLoss:         0.01,
		Algorithm:        Reno,
		Seed:             0,
		PacingInterval:   5,
		FinalAckWait:     5000,
	}
}

// Load reads defaults and overlays any field present in the YAML
// document at path. A missing file is not an error; callers that want
// to require the file should stat it themselves.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrapf(err, "config: parse %s", path)
	}
	return cfg, nil
}
