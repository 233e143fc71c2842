package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"accumreg/core/identity"
	"accumreg/crypto"
)

// MinQuotaEpochSeconds bounds the quota window from below.
var MinQuotaEpochSeconds = uint32(1)

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Node.ListenAddress); err != nil {
		return fmt.Errorf("node: invalid ListenAddress %q: %w", c.Node.ListenAddress, err)
	}
	if c.Node.RateLimit.RequestsPerMinute < 0 || c.Node.RateLimit.Burst < 0 {
		return fmt.Errorf("node.rate_limit: negative limit")
	}
	q := c.Node.Quota
	if (q.MaxCallsPerEpoch > 0 || q.MaxArgBytesPerEpoch > 0) && q.EpochSeconds < MinQuotaEpochSeconds {
		return fmt.Errorf("node.quota: EpochSeconds must be at least %d", MinQuotaEpochSeconds)
	}
	for i, ctrl := range c.Node.Controllers {
		if _, err := identity.ParseIdentity(ctrl.DID); err != nil {
			return fmt.Errorf("node.controllers[%d]: %w", i, err)
		}
		if _, err := crypto.DecodeAddress(ctrl.Address); err != nil {
			return fmt.Errorf("node.controllers[%d]: %w", i, err)
		}
	}
	if c.Node.DevKeystorePath != "" {
		if _, err := identity.ParseIdentity(c.Node.DevDID); err != nil {
			return fmt.Errorf("node: DevDID required with DevKeystorePath: %w", err)
		}
	}
	if c.Node.Index.IntervalSeconds < 0 {
		return fmt.Errorf("node.index: negative IntervalSeconds")
	}
	if endpoint := strings.TrimSpace(c.Client.Endpoint); endpoint != "" {
		u, err := url.Parse(endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("client: invalid Endpoint %q", c.Client.Endpoint)
		}
	}
	if c.Client.RequestsPerSecond < 0 {
		return fmt.Errorf("client: negative RequestsPerSecond")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging: unknown Format %q", c.Logging.Format)
	}
	if r := c.Observability.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("observability: SampleRatio %v outside [0,1]", r)
	}
	return nil
}
