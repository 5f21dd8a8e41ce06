package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v2"
)

// RoomView is the top-level configuration for a room view session.
type RoomView struct {
	// Base URL of the homeserver, e.g. "https://matrix.example.com".
	HomeserverURL string `yaml:"homeserver_url"`
	// Access token to authenticate homeserver calls with.
	AccessToken string `yaml:"access_token"`
	// The user the session acts as.
	UserID string `yaml:"user_id"`
	// Room ID ("!...") or alias ("#...") to open.
	Room string `yaml:"room"`
	// Backfill page size. Zero means the built-in default.
	PageSize int `yaml:"page_size"`

	JetStream JetStream `yaml:"jetstream"`
}

// JetStream configures the live event stream connection.
type JetStream struct {
	// NATS server addresses.
	Addresses []string `yaml:"addresses"`
	// Subject carrying this room's live events.
	Topic string `yaml:"topic"`
	// Durable consumer name.
	Durable string `yaml:"durable"`
}

func (c *RoomView) Defaults() {
	c.PageSize = 0
	c.JetStream.Durable = "RoomViewEventConsumer"
}

func (c *RoomView) Verify(configErrs *ConfigErrors) {
	checkNotEmpty(configErrs, "homeserver_url", c.HomeserverURL)
	checkNotEmpty(configErrs, "access_token", c.AccessToken)
	checkNotEmpty(configErrs, "user_id", c.UserID)
	checkNotEmpty(configErrs, "room", c.Room)
	if c.HomeserverURL != "" {
		if _, err := url.Parse(c.HomeserverURL); err != nil {
			configErrs.Add(fmt.Sprintf("invalid value for config key %q: %s", "homeserver_url", err))
		}
	}
	if c.PageSize < 0 {
		configErrs.Add(fmt.Sprintf("invalid value for config key %q: must not be negative", "page_size"))
	}
	c.JetStream.Verify(configErrs)
}

func (c *JetStream) Verify(configErrs *ConfigErrors) {
	if len(c.Addresses) == 0 {
		configErrs.Add(fmt.Sprintf("missing config key %q", "jetstream.addresses"))
	}
	checkNotEmpty(configErrs, "jetstream.topic", c.Topic)
	checkNotEmpty(configErrs, "jetstream.durable", c.Durable)
}

// Load reads, parses and verifies the YAML config at the given path.
func Load(path string) (*RoomView, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg RoomView
	cfg.Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	var configErrs ConfigErrors
	cfg.Verify(&configErrs)
	if len(configErrs) > 0 {
		return nil, configErrs
	}
	return &cfg, nil
}

// ConfigErrors collects problems found while verifying a config, so a
// single run reports all of them rather than the first.
type ConfigErrors []string

func (errs *ConfigErrors) Add(str string) {
	*errs = append(*errs, str)
}

func (errs ConfigErrors) Error() string {
	if len(errs) == 1 {
		return errs[0]
	}
	return fmt.Sprintf("%s (and %d other problems)", errs[0], len(errs)-1)
}

func checkNotEmpty(configErrs *ConfigErrors, key, value string) {
	if value == "" {
		configErrs.Add(fmt.Sprintf("missing config key %q", key))
	}
}
