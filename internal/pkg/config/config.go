package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-ini/ini"
)

type Config struct {
	Client struct {
		Name string
	}
	Transport struct {
		DiscoveryRate time.Duration
	}
	Metrics struct {
		Enabled bool
		Address string
	}
	Log struct {
		Level int
	}
}

func Default() Config {
	var c Config
	c.Client.Name = "midiroute"
	c.Transport.DiscoveryRate = time.Second
	c.Metrics.Enabled = false
	c.Metrics.Address = ":9108"
	c.Log.Level = 2
	return c
}

// LoadConfig reads an INI config file, keys missing from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	cfg, err := ini.Load(data)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	c := Default()

	// [client]
	client := cfg.Section("client")
	c.Client.Name = client.Key("name").MustString(c.Client.Name)

	// [transport]
	transport := cfg.Section("transport")
	if transport.HasKey("discovery_rate") {
		i, err := transport.Key("discovery_rate").Int()
		if err != nil {
			return Config{}, fmt.Errorf("transport.discovery_rate: %w", err)
		}
		if i <= 0 {
			return Config{}, fmt.Errorf("transport.discovery_rate must be positive, got %d", i)
		}
		c.Transport.DiscoveryRate = time.Second / time.Duration(i)
	}

	// [metrics]
	metrics := cfg.Section("metrics")
	if metrics.HasKey("enabled") {
		b, err := metrics.Key("enabled").Bool()
		if err != nil {
			return Config{}, fmt.Errorf("metrics.enabled: %w", err)
		}
		c.Metrics.Enabled = b
	}
	c.Metrics.Address = metrics.Key("address").MustString(c.Metrics.Address)

	// [log]
	log := cfg.Section("log")
	if log.HasKey("level") {
		i, err := log.Key("level").Int()
		if err != nil {
			return Config{}, fmt.Errorf("log.level: %w", err)
		}
		c.Log.Level = i
	}

	if c.Client.Name == "" {
		return Config{}, fmt.Errorf("client.name must not be empty")
	}
	return c, nil
}
