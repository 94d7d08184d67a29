package httpapi

import (
	"fmt"
	"net/netip"
	"time"
)

const (
	defaultTokenMaxAge  = 5 * time.Minute
	defaultHistoryLimit = 50
)

// Config describes the HTTP call surface. The surface is internal: callers
// are other services inside the deployment, admitted by the caller gate.
type Config struct {
	ListenAddr string
	// SigningKey verifies the HS256 service tokens presented by callers.
	SigningKey string
	// AllowedCallerCIDRs restricts callers by source address. Empty means
	// any address, which is only sensible behind a private network.
	AllowedCallerCIDRs []string
	AllowedOrigins     []string
	// TokenMaxAge bounds how old a service token's iat may be.
	TokenMaxAge time.Duration
}

// Validate checks the configuration before the server boots.
func (cfg Config) Validate() error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen addr is required")
	}
	if cfg.SigningKey == "" {
		return fmt.Errorf("service signing key is required")
	}
	for _, cidr := range cfg.AllowedCallerCIDRs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return fmt.Errorf("allowed caller cidr %q: %w", cidr, err)
		}
	}
	return nil
}

func (cfg Config) tokenMaxAge() time.Duration {
	if cfg.TokenMaxAge <= 0 {
		return defaultTokenMaxAge
	}
	return cfg.TokenMaxAge
}
