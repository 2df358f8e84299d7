package broadcast

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChannelConfig configures one notification channel
type ChannelConfig struct {
	Name     string            `yaml:"name"`
	Enabled  bool              `yaml:"enabled"`
	Settings map[string]string `yaml:"settings,omitempty"`
}

// Config is the broadcast channel and recipient roster, loaded from YAML
type Config struct {
	Channels   []ChannelConfig `yaml:"channels"`
	Recipients []Recipient     `yaml:"recipients"`
}

// LoadConfig reads and parses a broadcast config file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read broadcast config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML broadcast configuration
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse broadcast config: %w", err)
	}

	seen := make(map[string]bool)
	for _, ch := range cfg.Channels {
		if ch.Name == "" {
			return nil, fmt.Errorf("channel with empty name in broadcast config")
		}
		if seen[ch.Name] {
			return nil, fmt.Errorf("duplicate channel %q in broadcast config", ch.Name)
		}
		seen[ch.Name] = true
	}
	return &cfg, nil
}

// EnabledChannels returns the names of all enabled channels
func (c *Config) EnabledChannels() []string {
	var names []string
	for _, ch := range c.Channels {
		if ch.Enabled {
			names = append(names, ch.Name)
		}
	}
	return names
}

// ChannelSettings returns the settings map for a channel, nil if absent
func (c *Config) ChannelSettings(name string) map[string]string {
	for _, ch := range c.Channels {
		if ch.Name == name {
			return ch.Settings
		}
	}
	return nil
}

// RecipientsFor returns the recipients routed to a channel. Recipients
// without an explicit channel go to every per-recipient channel.
func (c *Config) RecipientsFor(channel string) []Recipient {
	var out []Recipient
	for _, r := range c.Recipients {
		if r.Channel == "" || r.Channel == channel {
			out = append(out, r)
		}
	}
	return out
}
