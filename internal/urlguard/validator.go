package urlguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"whisperd/internal/services"
)

const opValidate = "validate url"

var allowedSchemes = map[string]struct{}{"http": {}, "https": {}}

// dangerousPorts are rejected on any host.
var dangerousPorts = map[int]struct{}{
	22: {}, 23: {}, 25: {}, 53: {}, 110: {}, 143: {}, 993: {}, 995: {},
	1433: {}, 3306: {}, 5432: {}, 6379: {}, 11211: {}, 27017: {},
}

// safePorts are the only explicit ports accepted below 1024, plus the two
// alternates commonly used for HTTP(S).
var safePorts = map[int]struct{}{80: {}, 443: {}, 8080: {}, 8443: {}}

// DangerousPorts returns the rejected service ports in ascending order.
func DangerousPorts() []int {
	out := make([]int, 0, len(dangerousPorts))
	for p := range dangerousPorts {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Resolver looks up every address for a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Policy is fixed for the lifetime of a Validator.
type Policy struct {
	// AllowedDomains restricts hosts to these domains and their subdomains.
	// Empty means no restriction beyond the address rules.
	AllowedDomains []string
	// ResolveTimeout bounds DNS resolution. Zero means the caller's context only.
	ResolveTimeout time.Duration
}

// Target is a URL that passed validation.
type Target struct {
	URL *url.URL
	// Host is the lowercase ASCII host name, or the canonical address for
	// literal IP hosts.
	Host string
	// Addrs holds the literal address or every resolved answer.
	Addrs []netip.Addr
	// Literal reports that the URL named an IP address directly.
	Literal bool
}

// Validator applies a Policy to URLs.
type Validator struct {
	allowed  []string
	timeout  time.Duration
	resolver Resolver
}

// Option customizes a Validator.
type Option func(*Validator)

// WithResolver replaces the system resolver.
func WithResolver(r Resolver) Option {
	return func(v *Validator) {
		if r != nil {
			v.resolver = r
		}
	}
}

// New builds a Validator for policy.
func New(policy Policy, opts ...Option) *Validator {
	v := &Validator{
		timeout:  policy.ResolveTimeout,
		resolver: net.DefaultResolver,
	}
	seen := make(map[string]struct{}, len(policy.AllowedDomains))
	for _, d := range policy.AllowedDomains {
		n := normalizeDomain(d)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		v.allowed = append(v.allowed, n)
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// AllowedDomains returns the normalized allowlist. Nil means unrestricted.
func (v *Validator) AllowedDomains() []string {
	return slices.Clone(v.allowed)
}

// Validate checks raw against the policy and returns the parsed target.
func (v *Validator) Validate(ctx context.Context, raw string) (*Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, services.Newf(services.KindMalformed, opValidate, "URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, services.Wrap(services.KindMalformed, opValidate, "malformed URL", unwrapURLError(err))
	}
	return v.ValidateURL(ctx, u)
}

// ValidateURL runs the same checks on an already parsed URL. Redirect
// targets come through here.
func (v *Validator) ValidateURL(ctx context.Context, u *url.URL) (*Target, error) {
	if u == nil {
		return nil, services.Newf(services.KindMalformed, opValidate, "URL cannot be empty")
	}
	scheme := strings.ToLower(u.Scheme)
	if _, ok := allowedSchemes[scheme]; !ok {
		return nil, services.Newf(services.KindSchemeNotAllowed, opValidate,
			"URL scheme %q not allowed; only http and https are permitted", u.Scheme)
	}
	if u.Host == "" || u.Opaque != "" {
		return nil, services.Newf(services.KindMalformed, opValidate, "malformed URL: missing host")
	}
	hostname := u.Hostname()
	if hostname == "" {
		return nil, services.Newf(services.KindMalformed, opValidate, "malformed URL: missing hostname")
	}
	if err := checkPort(u.Port()); err != nil {
		return nil, err
	}

	addr, domain, err := parseHost(hostname, strings.HasPrefix(u.Host, "["))
	if err != nil {
		return nil, services.Wrap(services.KindMalformed, opValidate, fmt.Sprintf("malformed URL: invalid host %q", hostname), err)
	}

	target := &Target{URL: u, Host: domain}
	if addr.IsValid() {
		target.Literal = true
		target.Host = addr.WithZone("").String()
	}
	if err := v.checkAllowlist(target.Host); err != nil {
		return nil, err
	}

	if target.Literal {
		if err := CheckAddr(addr); err != nil {
			return nil, err
		}
		target.Addrs = []netip.Addr{addr.WithZone("")}
		return target, nil
	}

	addrs, err := v.resolve(ctx, domain)
	if err != nil {
		return nil, err
	}
	target.Addrs = addrs
	return target, nil
}

func checkPort(port string) error {
	if port == "" {
		return nil
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return services.Newf(services.KindMalformed, opValidate, "malformed URL: invalid port %q", port)
	}
	if _, ok := dangerousPorts[n]; ok {
		return services.Newf(services.KindPortNotAllowed, opValidate, "port %d not allowed: potentially dangerous service", n)
	}
	if _, ok := safePorts[n]; !ok && n < 1024 {
		return services.Newf(services.KindPortNotAllowed, opValidate, "port %d not allowed: system port range", n)
	}
	return nil
}

func (v *Validator) checkAllowlist(host string) error {
	if len(v.allowed) == 0 {
		return nil
	}
	for _, domain := range v.allowed {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return nil
		}
	}
	return services.Newf(services.KindNotAllowlisted, opValidate, "domain %q not in allowlist", host)
}

func (v *Validator) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	answers, err := v.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, services.Wrap(services.KindResolutionFailure, opValidate,
			fmt.Sprintf("failed to resolve hostname %q", host), err)
	}
	if len(answers) == 0 {
		return nil, services.Newf(services.KindResolutionFailure, opValidate, "hostname %q resolved to no addresses", host)
	}

	addrs := make([]netip.Addr, 0, len(answers))
	for _, answer := range answers {
		if err := CheckAddr(answer); err != nil {
			return nil, services.Wrap(services.KindResolvesToUnsafeAddress, opValidate,
				fmt.Sprintf("hostname %q resolves to %s address %s", host, Classify(answer), answer.WithZone("")), err)
		}
		addrs = append(addrs, answer.WithZone(""))
	}
	return addrs, nil
}

func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
