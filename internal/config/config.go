// Package config provides YAML configuration loading with environment
// variable overrides for mail-dispatch.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shineum/mail-dispatch/internal/pacing"
	"github.com/shineum/mail-dispatch/internal/relay"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Config holds the complete application configuration.
type Config struct {
	Relays   []relay.Config `yaml:"relays"`
	Pacing   pacing.Config  `yaml:"pacing"`
	Campaign CampaignConfig `yaml:"campaign"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Sink     SinkConfig     `yaml:"sink"`
	TLS      TLSConfig      `yaml:"tls"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CampaignConfig holds the templates and options of a campaign run.
type CampaignConfig struct {
	Recipients string `yaml:"recipients"`
	Sender     string `yaml:"sender"`
	Subject    string `yaml:"subject"`
	HTML       string `yaml:"html"`
	// HTMLFile is read into HTML when HTML is empty.
	HTMLFile   string `yaml:"html_file"`
	Text       string `yaml:"text"`
	Attachment string `yaml:"attachment"`
	// Renderer names the attachment format: html, text or markdown.
	Renderer    string `yaml:"renderer"`
	MaxAttempts int    `yaml:"max_attempts"`
	// ConnectionReuse keeps relay sessions open for this long between sends.
	// Zero opens a fresh transport per attempt.
	ConnectionReuse time.Duration `yaml:"connection_reuse"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// SinkConfig holds the local relay sink configuration.
type SinkConfig struct {
	Listen         string `yaml:"listen"`
	// Hostname is announced in the greeting and used for the self-signed
	// certificate.
	Hostname       string `yaml:"hostname"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	RejectAuth     bool   `yaml:"reject_auth"`
	ThrottleEvery  int    `yaml:"throttle_every"`
	MaxMessageSize int    `yaml:"max_message_size"`
}

// TLSConfig holds TLS certificate file paths for the sink.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every relay and the pacing bounds.
func (c *Config) Validate() error {
	var errs []error
	for i, r := range c.Relays {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("relays[%d]: %w", i, err))
		}
	}
	if err := c.Pacing.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Campaign.MaxAttempts < 0 {
		errs = append(errs, errors.New("campaign max_attempts must not be negative"))
	}
	return errors.Join(errs...)
}

// SinkAuthEnabled returns true if both sink username and password are set.
func (c *Config) SinkAuthEnabled() bool {
	return c.Sink.Username != "" && c.Sink.Password != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Pacing = pacing.DefaultConfig()
	c.Campaign.Renderer = "html"
	c.Sink.Listen = ":2525"
	c.Sink.Hostname = "localhost"
	c.Sink.MaxMessageSize = defaultMaxMessageSize
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values. RELAY_*
// variables describe a single relay, used only when no relays are
// configured in the file.
func (c *Config) applyEnvVars() error {
	var errs []error

	if r, ok := relayFromEnv(&errs); ok && len(c.Relays) == 0 {
		c.Relays = []relay.Config{r}
	}

	setDuration("PACING_MIN_DELAY", &c.Pacing.MinDelay, &errs)
	setDuration("PACING_MAX_DELAY", &c.Pacing.MaxDelay, &errs)
	setBool("PACING_RANDOMIZE", &c.Pacing.Randomize, &errs)
	setBool("PACING_WARMUP", &c.Pacing.WarmupMode, &errs)
	setInt("PACING_MAX_PER_HOUR", &c.Pacing.MaxPerHour, &errs)

	setString("CAMPAIGN_RECIPIENTS", &c.Campaign.Recipients)
	setString("CAMPAIGN_SENDER", &c.Campaign.Sender)
	setInt("CAMPAIGN_MAX_ATTEMPTS", &c.Campaign.MaxAttempts, &errs)

	setString("METRICS_LISTEN", &c.Metrics.Listen)

	setString("SINK_LISTEN", &c.Sink.Listen)
	setString("SINK_HOSTNAME", &c.Sink.Hostname)
	setString("SINK_USERNAME", &c.Sink.Username)
	setString("SINK_PASSWORD", &c.Sink.Password)
	setInt("SINK_MAX_MESSAGE_SIZE", &c.Sink.MaxMessageSize, &errs)

	setString("TLS_CERT_FILE", &c.TLS.CertFile)
	setString("TLS_KEY_FILE", &c.TLS.KeyFile)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	return errors.Join(errs...)
}

func relayFromEnv(errs *[]error) (relay.Config, bool) {
	var r relay.Config
	setString("RELAY_PROVIDER", &r.Provider)
	setString("RELAY_HOST", &r.Host)
	setString("RELAY_USERNAME", &r.Username)
	setString("RELAY_SECRET", &r.Secret)
	setString("RELAY_SENDER", &r.Sender)
	setString("RELAY_REGION", &r.Region)
	setString("RELAY_TENANT_ID", &r.TenantID)
	setInt("RELAY_PORT", &r.Port, errs)
	setBool("RELAY_USE_TLS", &r.UseTLS, errs)
	setBool("RELAY_INSECURE_SKIP_VERIFY", &r.InsecureSkipVerify, errs)

	if v := os.Getenv("RELAY_KIND"); v != "" {
		r.Kind = relay.Kind(strings.ToLower(v))
	} else if r.Host != "" {
		r.Kind = relay.KindCustom
	} else {
		r.Kind = relay.KindManaged
	}

	configured := r.Provider != "" || r.Host != "" || r.Username != "" || r.Secret != ""
	return r, configured
}

func setString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setInt(name string, dst *int, errs *[]error) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", name, err))
		return
	}
	*dst = n
}

func setBool(name string, dst *bool, errs *[]error) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", name, err))
		return
	}
	*dst = b
}

func setDuration(name string, dst *time.Duration, errs *[]error) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", name, err))
		return
	}
	*dst = d
}
