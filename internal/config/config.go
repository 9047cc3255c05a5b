package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattchengg/fusdl/internal/decrypt"
	"github.com/mattchengg/fusdl/internal/fus"
)

type Config struct {
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Client    ClientConfig    `yaml:"client"`
	Decrypt   DecryptConfig   `yaml:"decrypt"`
}

type EndpointsConfig struct {
	FUS      string `yaml:"fus"`
	Download string `yaml:"download"`
	FOTA     string `yaml:"fota"`
}

// ClientConfig tunes the FUS client. Timeout bounds the wait for response
// headers, not the transfer itself.
type ClientConfig struct {
	UserAgent     string        `yaml:"user_agent"`
	ClientVersion string        `yaml:"client_version"`
	Timeout       time.Duration `yaml:"timeout"`
	SessionCookie *bool         `yaml:"session_cookie"`
}

type DecryptConfig struct {
	FlushSize int `yaml:"flush_size"`
	Slack     int `yaml:"slack"`
}

// Default returns the production settings.
func Default() *Config {
	cookie := true
	return &Config{
		Endpoints: EndpointsConfig{
			FUS:      fus.DefaultFUSURL,
			Download: fus.DefaultDownloadURL,
			FOTA:     fus.DefaultFOTAURL,
		},
		Client: ClientConfig{
			UserAgent:     fus.DefaultUserAgent,
			ClientVersion: fus.DefaultClientVersion,
			Timeout:       fus.DefaultTimeout,
			SessionCookie: &cookie,
		},
		Decrypt: DecryptConfig{
			FlushSize: decrypt.DefaultFlushSize,
			Slack:     decrypt.DefaultSlack,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validateURL("config.endpoints.fus", c.Endpoints.FUS); err != nil {
		return err
	}
	if err := validateURL("config.endpoints.download", c.Endpoints.Download); err != nil {
		return err
	}
	if err := validateURL("config.endpoints.fota", c.Endpoints.FOTA); err != nil {
		return err
	}
	if strings.TrimSpace(c.Client.UserAgent) == "" {
		return fmt.Errorf("config.client.user_agent is required")
	}
	if c.Client.Timeout < 0 {
		return fmt.Errorf("config.client.timeout must be >= 0")
	}
	if c.Decrypt.FlushSize <= 0 || c.Decrypt.FlushSize%16 != 0 {
		return fmt.Errorf("config.decrypt.flush_size must be a positive multiple of 16")
	}
	if c.Decrypt.Slack <= 0 || c.Decrypt.Slack%16 != 0 {
		return fmt.Errorf("config.decrypt.slack must be a positive multiple of 16")
	}
	return nil
}

func validateURL(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(v)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", field, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be absolute (include scheme and host)", field)
	}
	return nil
}

// ClientOptions maps the configuration onto fus.Client options.
func (c *Config) ClientOptions() []fus.Option {
	cookie := c.Client.SessionCookie == nil || *c.Client.SessionCookie
	return []fus.Option{
		fus.WithHTTPClient(fus.NewHTTPClient(c.Client.Timeout)),
		fus.WithEndpoints(c.Endpoints.FUS, c.Endpoints.Download, c.Endpoints.FOTA),
		fus.WithUserAgent(c.Client.UserAgent),
		fus.WithClientVersion(c.Client.ClientVersion),
		fus.WithSessionCookie(cookie),
	}
}

// DecryptOptions maps the configuration onto decrypt options.
func (c *Config) DecryptOptions() []decrypt.Option {
	return []decrypt.Option{
		decrypt.WithFlushSize(c.Decrypt.FlushSize),
		decrypt.WithSlack(c.Decrypt.Slack),
	}
}
