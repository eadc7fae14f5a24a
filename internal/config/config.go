// Package config loads RADSAT's three CLI surfaces' configuration files
// (spec.md §6: firmware, proxy) plus the executive's, each identified by
// a single positional path argument. Grounded on virtengine's
// cobra+viper wiring (cmd/hpc-node-agent/main.go, cmd/provider-daemon):
// a viper instance per invocation, reading one file, unmarshalled into a
// typed struct rather than read field-by-field.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// OrbitInitial is the initial state vector a firmware instance starts
// propagating from.
type OrbitInitial struct {
	PX      float64 `mapstructure:"px"`
	PY      float64 `mapstructure:"py"`
	PZ      float64 `mapstructure:"pz"`
	VX      float64 `mapstructure:"vx"`
	VY      float64 `mapstructure:"vy"`
	VZ      float64 `mapstructure:"vz"`
	FuelMps float64 `mapstructure:"fuel_mps"`
}

// Firmware is the firmware process's configuration, per spec.md §6:
// "listen address, executive rendezvous address, checkpoint path,
// signer public key, orbital initial state, tick period, flag path."
type Firmware struct {
	ListenAddr              string       `mapstructure:"listen_addr"`
	AdminAddr               string       `mapstructure:"admin_addr"`
	ExecutiveRendezvousAddr string       `mapstructure:"executive_rendezvous_addr"`
	CheckpointPath          string       `mapstructure:"checkpoint_path"`
	SignerPublicKeyPath     string       `mapstructure:"signer_public_key_path"`
	FlagPath                string       `mapstructure:"flag_path"`
	Token                   string       `mapstructure:"token"`
	Orbit                   OrbitInitial `mapstructure:"orbit"`
	NumPages                int          `mapstructure:"num_pages"`
	UnprotectedLen          int          `mapstructure:"unprotected_len"`
	TickPeriod              time.Duration `mapstructure:"tick_period"`
	ScrubPeriod             time.Duration `mapstructure:"scrub_period"`
	InstructionBudget       int          `mapstructure:"instruction_budget"`
}

// Proxy is the connection-serializing proxy's configuration, per
// spec.md §6: "listen address, token->instance table (or resolver
// endpoint), per-instance busy policy."
type Proxy struct {
	ListenAddr string            `mapstructure:"listen_addr"`
	AdminAddr  string            `mapstructure:"admin_addr"`
	Instances  map[string]string `mapstructure:"instances"`
}

// Executive is the SEU injector process's configuration: where to
// rendezvous with its firmware, how often to consider injecting, and
// the orbital state to propagate independently for region
// classification (spec.md §5 forbids sharing the firmware's in-process
// memory for anything but the ptrace'd flips themselves, so the
// executive needs its own seed rather than reading the firmware's).
// This should match the firmware's own Orbit config so the two
// propagators track the same ground truth.
type Executive struct {
	RendezvousAddr string        `mapstructure:"rendezvous_addr"`
	AdminAddr      string        `mapstructure:"admin_addr"`
	TickPeriod     time.Duration `mapstructure:"tick_period"`
	Orbit          OrbitInitial  `mapstructure:"orbit"`
}

func load(path string, out interface{}) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// LoadFirmware reads and parses a firmware configuration file.
func LoadFirmware(path string) (Firmware, error) {
	cfg := Firmware{
		TickPeriod:        time.Second,
		ScrubPeriod:       5 * time.Second,
		InstructionBudget: 10_000,
		NumPages:          64,
		UnprotectedLen:    256,
	}
	err := load(path, &cfg)
	return cfg, err
}

// LoadProxy reads and parses a proxy configuration file.
func LoadProxy(path string) (Proxy, error) {
	var cfg Proxy
	err := load(path, &cfg)
	return cfg, err
}

// LoadExecutive reads and parses an executive configuration file.
func LoadExecutive(path string) (Executive, error) {
	cfg := Executive{TickPeriod: time.Second}
	err := load(path, &cfg)
	return cfg, err
}
