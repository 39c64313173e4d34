// Package validation implements admission checks for scan submissions:
// URL/email syntax and the SSRF host-blocking rules a crawl must satisfy
// both at admission time and before every page navigation.
package validation

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrorKind enumerates the reasons a submission can fail validation.
type ErrorKind string

const (
	KindUrlSyntax     ErrorKind = "UrlSyntax"
	KindUrlScheme     ErrorKind = "UrlScheme"
	KindUrlBlockedHost ErrorKind = "UrlBlockedHost"
	KindEmailSyntax   ErrorKind = "EmailSyntax"
	KindEmailTooLong  ErrorKind = "EmailTooLong"
)

const (
	maxURLLength   = 2048
	maxEmailLength = 254
)

// ValidationError carries one or more admission failures.
type ValidationError struct {
	Kinds  []ErrorKind
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("validation failed (%v): %s", e.Kinds, e.Detail)
	}
	return fmt.Sprintf("validation failed (%v)", e.Kinds)
}

func newError(kind ErrorKind, detail string) *ValidationError {
	return &ValidationError{Kinds: []ErrorKind{kind}, Detail: detail}
}

// submissionPayload is the go-playground/validator target for email syntax;
// URL and host checks run separately since they require custom SSRF logic
// that struct tags can't express.
type submissionPayload struct {
	Email string `validate:"omitempty,email,max=254"`
}

// Validator performs admission and per-navigation SSRF checks.
type Validator struct {
	structValidator *validator.Validate
	allowedSchemes  map[string]bool
}

// NewValidator creates a submission validator.
func NewValidator() *Validator {
	return &Validator{
		structValidator: validator.New(),
		allowedSchemes:  map[string]bool{"http": true, "https": true},
	}
}

// ValidateSubmission checks a target URL and optional email at admission time.
func (v *Validator) ValidateSubmission(ctx context.Context, targetURL string, email string) error {
	if len(targetURL) > maxURLLength {
		return newError(KindUrlSyntax, "url exceeds maximum length")
	}

	parsed, err := url.Parse(targetURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return newError(KindUrlSyntax, "url does not parse")
	}

	if !v.allowedSchemes[strings.ToLower(parsed.Scheme)] {
		return newError(KindUrlScheme, "scheme must be http or https")
	}

	if err := v.ValidateHostForConnect(ctx, parsed.Hostname()); err != nil {
		return err
	}

	if email != "" {
		if len(email) > maxEmailLength {
			return newError(KindEmailTooLong, "email exceeds maximum length")
		}
		if err := v.structValidator.Struct(submissionPayload{Email: email}); err != nil {
			return newError(KindEmailSyntax, "email does not parse")
		}
	}

	return nil
}

// ValidateHostForConnect resolves host fresh and rejects it if any resolved
// address is private or reserved. Called again by the crawler before every
// page navigation as a DNS-rebinding defense.
func (v *Validator) ValidateHostForConnect(ctx context.Context, host string) error {
	if strings.EqualFold(host, "localhost") {
		return newError(KindUrlBlockedHost, "host is localhost")
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		if IsPrivateOrReserved(ip) {
			return newError(KindUrlBlockedHost, "host is a private or reserved address")
		}
		return nil
	}

	resolver := &net.Resolver{}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return newError(KindUrlBlockedHost, "host does not resolve")
	}
	if len(addrs) == 0 {
		return newError(KindUrlBlockedHost, "host resolved no addresses")
	}

	for _, addr := range addrs {
		ip, ok := netip.AddrFromSlice(addr.IP)
		if !ok {
			return newError(KindUrlBlockedHost, "resolved address is unparseable")
		}
		if IsPrivateOrReserved(ip.Unmap()) {
			return newError(KindUrlBlockedHost, "host resolves to a private or reserved address")
		}
	}

	return nil
}

// IsPrivateOrReserved reports whether ip falls in a loopback, link-local,
// RFC1918, or other reserved range (including IPv4-mapped forms).
func IsPrivateOrReserved(ip netip.Addr) bool {
	ip = ip.Unmap()

	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() || ip.IsPrivate() || ip.IsMulticast() {
		return true
	}

	if ip.Is4() {
		b := ip.As4()
		// 0.0.0.0/8
		if b[0] == 0 {
			return true
		}
	}

	if ip.Is6() {
		b := ip.As16()
		// fc00::/7 (unique local) is already covered by IsPrivate, but check
		// explicitly in case of library behavior differences.
		if b[0]&0xfe == 0xfc {
			return true
		}
	}

	return false
}
