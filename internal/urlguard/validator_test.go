package urlguard_test

import (
	"context"
	"errors"
	"net/netip"
	"strconv"
	"strings"
	"testing"

	"whisperd/internal/services"
	"whisperd/internal/urlguard"
)

type fakeResolver struct {
	answers map[string][]string
	calls   []string
}

func (f *fakeResolver) LookupNetIP(_ context.Context, _ string, host string) ([]netip.Addr, error) {
	f.calls = append(f.calls, host)
	values, ok := f.answers[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	out := make([]netip.Addr, 0, len(values))
	for _, v := range values {
		out = append(out, netip.MustParseAddr(v))
	}
	return out, nil
}

func newValidator(allowed []string, answers map[string][]string) (*urlguard.Validator, *fakeResolver) {
	res := &fakeResolver{answers: answers}
	return urlguard.New(urlguard.Policy{AllowedDomains: allowed}, urlguard.WithResolver(res)), res
}

var publicDNS = map[string][]string{
	"example.com":         {"93.184.216.34", "2606:2800:220:1:248:1893:25c8:1946"},
	"trusted-cdn.com":     {"151.101.1.1"},
	"sub.trusted-cdn.com": {"151.101.1.2"},
	"untrusted.com":       {"104.16.0.1"},
	"xn--bcher-kva.de":    {"81.169.145.1"},
}

func expectKind(t *testing.T, err error, want services.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := services.KindOf(err); got != want {
		t.Fatalf("expected kind %s, got %s (%v)", want, got, err)
	}
}

func TestValidateRejectsSchemes(t *testing.T) {
	v, _ := newValidator(nil, publicDNS)
	for _, raw := range []string{
		"ftp://example.com/x",
		"file:///etc/passwd",
		"gopher://example.com/",
		"javascript:alert(1)",
		"example.com/no-scheme",
		"HTTPX://example.com/",
	} {
		_, err := v.Validate(context.Background(), raw)
		expectKind(t, err, services.KindSchemeNotAllowed)
	}
}

func TestValidateAcceptsSchemesCaseInsensitive(t *testing.T) {
	v, _ := newValidator(nil, publicDNS)
	for _, raw := range []string{"http://example.com/a.mp3", "HTTPS://Example.COM/a.mp3"} {
		target, err := v.Validate(context.Background(), raw)
		if err != nil {
			t.Fatalf("Validate(%q) returned error: %v", raw, err)
		}
		if target.Host != "example.com" || len(target.Addrs) != 2 || target.Literal {
			t.Fatalf("unexpected target %+v", target)
		}
	}
}

func TestValidateMalformed(t *testing.T) {
	v, _ := newValidator(nil, publicDNS)
	for _, raw := range []string{
		"",
		"   ",
		"http://",
		"http:///path",
		"http://:8080/",
		"http://exa mple.com/",
		"http://[::1/",
		"http://1.2.3.4.5/",
		"http://256.1.1.1/",
		"http://0x1g.1/",
		"http://08.0.0.1/",
		"http://[example.com]/",
		"http://%31%32%37.0.0.1/",
	} {
		_, err := v.Validate(context.Background(), raw)
		expectKind(t, err, services.KindMalformed)
	}
}

func TestValidateLiteralAddresses(t *testing.T) {
	cases := []struct {
		raw  string
		kind services.Kind
	}{
		{"http://10.0.0.1/", services.KindPrivate},
		{"http://10.255.255.255/", services.KindPrivate},
		{"http://172.16.0.1/", services.KindPrivate},
		{"http://172.31.255.254/", services.KindPrivate},
		{"http://192.168.1.1/", services.KindPrivate},
		{"http://100.64.0.1/", services.KindPrivate},
		{"http://127.0.0.1/x", services.KindLoopback},
		{"http://127.1.2.3/", services.KindLoopback},
		{"http://169.254.169.254/latest/meta-data/", services.KindLinkLocal},
		{"http://224.0.0.1/", services.KindMulticast},
		{"http://239.255.255.250/", services.KindMulticast},
		{"http://0.0.0.0/", services.KindUnspecified},
		{"http://255.255.255.255/", services.KindBroadcast},
		{"http://[::1]/", services.KindLoopback},
		{"http://[::]/", services.KindUnspecified},
		{"http://[fe80::1]/", services.KindLinkLocal},
		{"http://[fe80::1%25eth0]/", services.KindLinkLocal},
		{"http://[ff02::1]/", services.KindMulticast},
		{"http://[fd00::1]/", services.KindPrivate},
		{"http://[2001:db8::1]/", services.KindPrivate},
	}
	v, res := newValidator(nil, publicDNS)
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tc.raw)
			expectKind(t, err, tc.kind)
			if !services.IsSecurity(services.KindOf(err)) {
				t.Fatalf("expected security kind, got %s", services.KindOf(err))
			}
		})
	}
	if len(res.calls) != 0 {
		t.Fatalf("literal hosts must not be resolved, got lookups %v", res.calls)
	}
}

func TestValidateEncodedIPv4(t *testing.T) {
	v, _ := newValidator(nil, publicDNS)
	for _, raw := range []string{
		"http://2130706433/",
		"http://0x7f000001/",
		"http://0177.0.0.1/",
		"http://0x7f.1/",
		"http://127.1/",
		"http://127.0.1/",
		"http://0x7F.0.0.0x1/",
		"http://127.0.0.1./",
	} {
		_, err := v.Validate(context.Background(), raw)
		expectKind(t, err, services.KindLoopback)
	}
	_, err := v.Validate(context.Background(), "http://167772161/")
	expectKind(t, err, services.KindPrivate)
}

func TestMappedIPv6MatchesIPv4(t *testing.T) {
	v, _ := newValidator(nil, publicDNS)
	_, plain := v.Validate(context.Background(), "http://127.0.0.1/x")
	_, mapped := v.Validate(context.Background(), "http://[::ffff:127.0.0.1]/x")
	expectKind(t, plain, services.KindLoopback)
	expectKind(t, mapped, services.KindLoopback)

	for raw, kind := range map[string]services.Kind{
		"http://[::ffff:7f00:1]/":          services.KindLoopback,
		"http://[::ffff:10.0.0.1]/":        services.KindPrivate,
		"http://[64:ff9b::a9fe:a9fe]/":     services.KindLinkLocal,
		"http://[2002:7f00:1::]/":          services.KindLoopback,
		"http://[::ffff:169.254.1.1]/":     services.KindLinkLocal,
		"http://[::ffff:255.255.255.255]/": services.KindBroadcast,
	} {
		_, err := v.Validate(context.Background(), raw)
		expectKind(t, err, kind)
	}
}

func TestValidateDNSRebinding(t *testing.T) {
	v, _ := newValidator(nil, map[string][]string{
		"looks-public.example": {"10.0.0.1"},
		"mixed.example":        {"93.184.216.34", "127.0.0.1"},
		"mapped.example":       {"::ffff:192.168.0.5"},
	})
	for host, inner := range map[string]services.Kind{
		"looks-public.example": services.KindPrivate,
		"mixed.example":        services.KindLoopback,
		"mapped.example":       services.KindPrivate,
	} {
		_, err := v.Validate(context.Background(), "https://"+host+"/a.mp3")
		expectKind(t, err, services.KindResolvesToUnsafeAddress)
		if !errors.Is(err, &services.Error{Kind: inner}) {
			t.Fatalf("%s: expected inner %s in chain, got %v", host, inner, err)
		}
		if !strings.Contains(services.DetailOf(err), host) {
			t.Fatalf("detail should name the host: %q", services.DetailOf(err))
		}
	}
}

func TestValidateResolutionFailure(t *testing.T) {
	v, _ := newValidator(nil, map[string][]string{"empty.example": {}})
	_, err := v.Validate(context.Background(), "https://nowhere.invalid/")
	expectKind(t, err, services.KindResolutionFailure)
	_, err = v.Validate(context.Background(), "https://empty.example/")
	expectKind(t, err, services.KindResolutionFailure)
}

func TestValidateAllowlist(t *testing.T) {
	v, res := newValidator([]string{"Trusted-CDN.com."}, publicDNS)
	for _, raw := range []string{"https://trusted-cdn.com/a", "https://sub.trusted-cdn.com/a"} {
		if _, err := v.Validate(context.Background(), raw); err != nil {
			t.Fatalf("Validate(%q) returned error: %v", raw, err)
		}
	}
	calls := len(res.calls)
	for _, raw := range []string{
		"https://untrusted.com/a",
		"https://eviltrusted-cdn.com/a",
		"https://trusted-cdn.com.evil.net/a",
		"https://93.184.216.34/a",
	} {
		_, err := v.Validate(context.Background(), raw)
		expectKind(t, err, services.KindNotAllowlisted)
	}
	if len(res.calls) != calls {
		t.Fatalf("allowlist rejection must happen before DNS, got lookups %v", res.calls[calls:])
	}
}

func TestValidateAllowlistStillChecksAddresses(t *testing.T) {
	v, _ := newValidator([]string{"internal.example"}, map[string][]string{"internal.example": {"192.168.1.10"}})
	_, err := v.Validate(context.Background(), "https://internal.example/")
	expectKind(t, err, services.KindResolvesToUnsafeAddress)
}

func TestValidateIDNHost(t *testing.T) {
	v, res := newValidator([]string{"bücher.de"}, publicDNS)
	target, err := v.Validate(context.Background(), "https://BÜCHER.de/x")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if target.Host != "xn--bcher-kva.de" {
		t.Fatalf("expected punycode host, got %q", target.Host)
	}
	if res.calls[len(res.calls)-1] != "xn--bcher-kva.de" {
		t.Fatalf("expected ASCII lookup, got %v", res.calls)
	}
}

func TestValidatePorts(t *testing.T) {
	v, _ := newValidator(nil, publicDNS)
	for _, port := range urlguard.DangerousPorts() {
		_, err := v.Validate(context.Background(), "https://example.com:"+strconv.Itoa(port)+"/")
		expectKind(t, err, services.KindPortNotAllowed)
	}
	for _, port := range []int{1, 21, 81, 444, 1023} {
		_, err := v.Validate(context.Background(), "http://example.com:"+strconv.Itoa(port)+"/")
		expectKind(t, err, services.KindPortNotAllowed)
	}
	for _, port := range []int{80, 443, 8080, 8443, 1024, 3000, 9000, 65535} {
		if _, err := v.Validate(context.Background(), "http://example.com:"+strconv.Itoa(port)+"/"); err != nil {
			t.Fatalf("port %d should be allowed: %v", port, err)
		}
	}
	_, err := v.Validate(context.Background(), "http://example.com:0/")
	expectKind(t, err, services.KindMalformed)
	_, err = v.Validate(context.Background(), "http://example.com:70000/")
	expectKind(t, err, services.KindMalformed)
}

func TestDangerousPortsList(t *testing.T) {
	want := []int{22, 23, 25, 53, 110, 143, 993, 995, 1433, 3306, 5432, 6379, 11211, 27017}
	got := urlguard.DangerousPorts()
	if len(got) != len(want) {
		t.Fatalf("DangerousPorts() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("DangerousPorts() = %v, want %v", got, want)
		}
	}
}

func TestValidateUserinfoDoesNotHideHost(t *testing.T) {
	v, _ := newValidator(nil, publicDNS)
	_, err := v.Validate(context.Background(), "http://example.com@127.0.0.1/")
	expectKind(t, err, services.KindLoopback)
}
