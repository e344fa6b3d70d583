// Package relay implements the relay pool: round-robin selection across
// outbound relays, per-relay health tracking, and bounded failover when a
// relay refuses a message.
package relay

import (
	"fmt"
	"strings"
)

// Kind distinguishes managed provider accounts from custom SMTP servers.
type Kind string

const (
	KindManaged Kind = "managed"
	KindCustom  Kind = "custom"
)

// Managed providers.
const (
	ProviderGmail  = "gmail"
	ProviderSES    = "ses"
	ProviderGraph  = "graph"
	ProviderResend = "resend"
	ProviderStdout = "stdout"
)

// Config is one outbound relay credential set. A Pool never mutates it.
type Config struct {
	Kind     Kind   `yaml:"kind"`
	Provider string `yaml:"provider"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Secret   string `yaml:"secret"`
	UseTLS   bool   `yaml:"use_tls"`

	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// Sender overrides Username as the envelope and header From address.
	Sender string `yaml:"sender"`

	// Region is the AWS region for the ses provider.
	Region string `yaml:"region"`

	// TenantID is the Entra tenant for the graph provider. Username holds
	// the client id and Secret the client secret.
	TenantID string `yaml:"tenant_id"`
}

// ProviderName returns the effective provider. Managed relays without an
// explicit provider are gmail accounts; custom relays are plain SMTP.
func (c Config) ProviderName() string {
	if c.Kind == KindCustom {
		return "smtp"
	}
	if c.Provider == "" {
		return ProviderGmail
	}
	return strings.ToLower(c.Provider)
}

// ID returns the stable identifier of the relay at position ordinal in its pool.
// The ordinal disambiguates duplicate credentials.
func (c Config) ID(ordinal int) string {
	if c.Kind == KindCustom {
		return fmt.Sprintf("custom_%s_%s_%d", c.Host, c.Username, ordinal)
	}
	return fmt.Sprintf("%s_%s_%d", c.ProviderName(), c.Username, ordinal)
}

// FromAddress is the address messages are sent from when the message has no From.
func (c Config) FromAddress() string {
	if c.Sender != "" {
		return c.Sender
	}
	return c.Username
}

// Validate checks that the fields required by the relay's provider are set.
func (c Config) Validate() error {
	var missing []string
	need := func(name, v string) {
		if v == "" {
			missing = append(missing, name)
		}
	}

	switch c.Kind {
	case KindCustom:
		need("host", c.Host)
		if c.Port == 0 {
			missing = append(missing, "port")
		}
		need("username", c.Username)
		need("secret", c.Secret)
	case KindManaged, "":
		switch c.ProviderName() {
		case ProviderGmail:
			need("username", c.Username)
			need("secret", c.Secret)
		case ProviderSES:
			need("region", c.Region)
			need("sender", c.FromAddress())
		case ProviderGraph:
			need("tenant_id", c.TenantID)
			need("username", c.Username)
			need("secret", c.Secret)
			need("sender", c.Sender)
		case ProviderResend:
			need("secret", c.Secret)
			need("sender", c.FromAddress())
		case ProviderStdout:
		default:
			return fmt.Errorf("unknown managed provider %q", c.Provider)
		}
	default:
		return fmt.Errorf("unknown relay kind %q", c.Kind)
	}

	if len(missing) > 0 {
		return fmt.Errorf("relay %s: missing required fields: %s", c.ProviderName(), strings.Join(missing, ", "))
	}
	return nil
}
