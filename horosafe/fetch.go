package horosafe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrSSRF is returned when a URL targets a private or loopback address.
	ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")
	// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
	ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")
	// ErrNoHost is returned for URLs without a hostname.
	ErrNoHost = errors.New("horosafe: URL has no host")
)

// UserAgent is sent with every Fetch.
var UserAgent = "docparse/1 (+document fetch)"

const maxRedirects = 5

// blockedPrefixes are ranges never dialed for user-supplied URLs, on top of
// what netip classifies as loopback, private or link-local.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("64:ff9b::/96"),
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("horosafe: fetch: status %d", e.Code)
}

// URLPolicy decides which user-supplied URLs may be fetched.
type URLPolicy struct {
	// AllowPrivate skips the address checks. Scheme and host are still
	// required.
	AllowPrivate bool
	// Resolver looks up hostnames. Nil uses net.DefaultResolver.
	Resolver *net.Resolver
}

// Check validates rawURL: http or https, a hostname, and unless
// AllowPrivate no address in a private range. Hostnames are resolved so
// that internal names are caught; an unresolvable name passes because the
// dialer re-checks the address it connects to.
func (p URLPolicy) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return ErrNoHost
	}
	if p.AllowPrivate {
		return nil
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlocked(addr) {
			return ErrSSRF
		}
		return nil
	}
	res := p.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	addrs, err := res.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if isBlocked(a) {
			return ErrSSRF
		}
	}
	return nil
}

// NewHTTPClient returns a client for fetching user-supplied URLs. Unless
// allowPrivate is set, the dialer refuses blocked addresses after DNS
// resolution and every redirect target goes through the URL policy.
func NewHTTPClient(timeout time.Duration, allowPrivate bool) *http.Client {
	policy := URLPolicy{AllowPrivate: allowPrivate}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if !allowPrivate {
		dialer.Control = denyBlocked
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("horosafe: too many redirects")
			}
			return policy.Check(req.Context(), req.URL.String())
		},
	}
}

func denyBlocked(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return err
	}
	if isBlocked(ap.Addr()) {
		return ErrSSRF
	}
	return nil
}

// Fetch GETs rawURL with client and returns at most maxBytes of body.
// Non-2xx responses fail with *StatusError. A declared Content-Length over
// the limit fails before the body is read.
func Fetch(ctx context.Context, client *http.Client, rawURL string, maxBytes int64) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("horosafe: build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("horosafe: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, nil, &StatusError{Code: resp.StatusCode}
	}
	if resp.ContentLength > maxBytes {
		return resp, nil, fmt.Errorf("%w (%d bytes declared)", ErrTooLarge, resp.ContentLength)
	}
	data, err := LimitedReadAll(resp.Body, maxBytes)
	if err != nil {
		return resp, nil, err
	}
	return resp, data, nil
}

func isBlocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsUnspecified() || addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsInterfaceLocalMulticast() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
