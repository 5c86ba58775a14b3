// Package validator classifies candidate URLs before any fetch is attempted.
// It is the first line of SSRF defense: a URL whose host resolves to any
// private, loopback, or link-local address is rejected outright.
package validator

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/steveclarke/link-radar-sub004/internal/archive"
)

// Reason identifies why a URL failed validation.
type Reason string

// Validation failure reasons.
const (
	ReasonInvalidFormat     Reason = "invalid_format"
	ReasonUnsupportedScheme Reason = "unsupported_scheme"
	ReasonPrivateIP         Reason = "private_ip"
	ReasonLoopback          Reason = "loopback"
	ReasonDNSFailed         Reason = "dns_resolution_failed"
)

// ValidationError is the failure branch of a validation outcome.
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// State maps the failure reason onto the terminal archive state it produces.
// Address-based rejections are blocked; structural and resolution problems
// mean the URL is not fetchable as given.
func (e *ValidationError) State() archive.State {
	switch e.Reason {
	case ReasonPrivateIP, ReasonLoopback:
		return archive.StateBlocked
	default:
		return archive.StateInvalidURL
	}
}

// Resolver performs hostname resolution. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Validator checks URLs against scheme and address rules.
type Validator struct {
	resolver Resolver
	logger   *zap.Logger
}

// New constructs a Validator. A nil resolver falls back to the system
// resolver; a nil logger disables logging.
func New(resolver Resolver, logger *zap.Logger) *Validator {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{resolver: resolver, logger: logger}
}

// Validate returns nil when rawURL is safe to fetch, or a *ValidationError
// naming the reason. Structural checks run before any network access; DNS
// resolution happens only for non-literal hostnames, and every resolved
// address is classified so that a name pointing at both public and private
// addresses is still rejected.
func (v *Validator) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return &ValidationError{Reason: ReasonInvalidFormat, Detail: err.Error()}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		// url.Parse accepts bare strings as relative paths; without a
		// scheme there is nothing fetchable here.
		return &ValidationError{Reason: ReasonInvalidFormat, Detail: "missing scheme"}
	}
	if scheme != "http" && scheme != "https" {
		return &ValidationError{
			Reason: ReasonUnsupportedScheme,
			Detail: fmt.Sprintf("scheme %q is not http or https", u.Scheme),
		}
	}
	host := u.Hostname()
	if host == "" {
		return &ValidationError{Reason: ReasonInvalidFormat, Detail: "missing host"}
	}

	if ip := net.ParseIP(host); ip != nil {
		if reason := BlockedIPReason(ip); reason != "" {
			return &ValidationError{
				Reason: reason,
				Detail: fmt.Sprintf("address %s is not publicly routable", ip),
			}
		}
		return nil
	}

	addrs, err := v.resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		v.logger.Debug("dns resolution failed", zap.String("host", host), zap.Error(err))
		return &ValidationError{
			Reason: ReasonDNSFailed,
			Detail: fmt.Sprintf("host %q did not resolve", host),
		}
	}
	for _, addr := range addrs {
		if reason := BlockedIPReason(addr.IP); reason != "" {
			v.logger.Warn("host resolves to blocked address",
				zap.String("host", host),
				zap.String("address", addr.IP.String()),
				zap.String("reason", string(reason)),
			)
			return &ValidationError{
				Reason: reason,
				Detail: fmt.Sprintf("host %q resolves to %s", host, addr.IP),
			}
		}
	}
	return nil
}

// cgnat and v6UniqueLocal cover ranges net.IP's own predicates miss.
var (
	cgnat         = mustCIDR("100.64.0.0/10")
	v6UniqueLocal = mustCIDR("fc00::/7")
)

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// BlockedIPReason classifies a single address. It returns the failure reason
// when the address falls in a blocked range, or the empty string for public
// addresses. The fetcher reuses this at dial time so every redirect hop and
// re-resolution is held to the same rules.
func BlockedIPReason(ip net.IP) Reason {
	switch {
	case ip.IsLoopback():
		return ReasonLoopback
	case ip.IsUnspecified(),
		ip.IsPrivate(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsMulticast(),
		cgnat.Contains(ip),
		v6UniqueLocal.Contains(ip):
		return ReasonPrivateIP
	}
	return ""
}
