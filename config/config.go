package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"nearby/peerid"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Duration is a time.Duration that reads and writes as a string like
// "1500ms" in the config file.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config represents the configuration of a nearby node
type Config struct {
	// Default config file location
	configFile string

	// Node settings identify this device to its peers
	Node struct {
		PeerID string `json:"peer_id"`
	} `json:"node"`

	// Radio settings shape the announcement broadcast
	Radio struct {
		Group           string   `json:"group"`
		QueryListen     string   `json:"query_listen"`
		AdvertiseEvery  Duration `json:"advertise_every"`
		AdvertiseJitter Duration `json:"advertise_jitter"`
		EmbedIdentity   bool     `json:"embed_identity"`
	} `json:"radio"`

	// Discovery settings control when a quiet peer is considered gone
	Discovery struct {
		SweepEvery    Duration `json:"sweep_every"`
		StaleAfter    Duration `json:"stale_after"`
		AddrCacheSize int      `json:"addr_cache_size"`
	} `json:"discovery"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Radio.Group = "239.118.2.31:42424"
	cfg.Radio.QueryListen = ":0"
	cfg.Radio.AdvertiseEvery = Duration{time.Second}
	cfg.Radio.AdvertiseJitter = Duration{100 * time.Millisecond}
	cfg.Radio.EmbedIdentity = true

	cfg.Discovery.SweepEvery = Duration{2 * time.Second}
	cfg.Discovery.StaleAfter = Duration{5 * time.Second}
	cfg.Discovery.AddrCacheSize = 512

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	// We'll marshall our structure to JSON and write it into a file
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return nil
}

// Validate rejects settings the subsystem cannot run with.
func (c *Config) Validate() error {
	gaddr, err := net.ResolveUDPAddr("udp4", c.Radio.Group)
	if err != nil {
		return fmt.Errorf("radio group %q: %w", c.Radio.Group, err)
	}
	if !gaddr.IP.IsMulticast() {
		return fmt.Errorf("radio group %q is not a multicast address", c.Radio.Group)
	}

	if c.Radio.AdvertiseEvery.Duration <= 0 {
		return errors.New("advertise interval must be positive")
	}
	if c.Radio.AdvertiseJitter.Duration < 0 {
		return errors.New("advertise jitter must not be negative")
	}
	if c.Discovery.SweepEvery.Duration <= 0 || c.Discovery.StaleAfter.Duration <= 0 {
		return errors.New("sweep interval and stale threshold must be positive")
	}
	if c.Discovery.SweepEvery.Duration >= c.Discovery.StaleAfter.Duration {
		return errors.New("sweep interval must be shorter than the stale threshold")
	}
	if c.Discovery.AddrCacheSize <= 0 {
		return errors.New("address cache size must be positive")
	}

	if c.Node.PeerID != "" {
		if _, err := peerid.Parse(c.Node.PeerID); err != nil {
			return fmt.Errorf("peer id: %w", err)
		}
	}

	return nil
}
