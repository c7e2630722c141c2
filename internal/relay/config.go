package relay

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// HandshakeConfig controls how often the background side probes a tab
// before giving up.
type HandshakeConfig struct {
	Attempts int
	Interval time.Duration
}

// DefaultHandshakeConfig is five probes half a second apart.
func DefaultHandshakeConfig() HandshakeConfig {
	return HandshakeConfig{Attempts: 5, Interval: 500 * time.Millisecond}
}

// Validate rejects configs that would never probe.
func (c HandshakeConfig) Validate() error {
	if c.Attempts < 1 {
		return fmt.Errorf("relay config: handshake attempts must be at least 1, got %d", c.Attempts)
	}
	if c.Interval < 0 {
		return fmt.Errorf("relay config: handshake interval must not be negative, got %s", c.Interval)
	}
	return nil
}

// Domains lists the brokerages whose tabs get a masking engine.
type Domains []string

// DefaultDomains returns a fresh copy of the stock brokerage list.
func DefaultDomains() Domains {
	return Domains{"fidelity.com", "robinhood.com"}
}

// IsDomainSupported reports whether raw points at one of DefaultDomains.
func IsDomainSupported(raw string) bool {
	return DefaultDomains().Supports(raw)
}

// Supports reports whether raw points at one of ds or a subdomain of one.
func (ds Domains) Supports(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, d := range ds {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
