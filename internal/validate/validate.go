// Package validate gatekeeps scan targets before any browser resource is acquired.
package validate

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// MaxURLLength is the longest target accepted, a common browser limit.
const MaxURLLength = 2048

// Rejection messages, returned verbatim to API callers.
const (
	ErrRequired    = "URL is required and must be a string"
	ErrEmpty       = "URL cannot be empty"
	ErrTooLong     = "URL exceeds maximum length of 2048 characters"
	ErrFormat      = "Invalid URL format"
	ErrProtocol    = "URL must use http or https protocol"
	ErrLocalHost   = "Localhost and local addresses are not allowed"
	ErrPrivateIP   = "Private IP addresses are not allowed"
	ErrLocalDomain = "Local domain addresses are not allowed"
)

// Result is the outcome of validating one target.
type Result struct {
	Valid         bool   `json:"valid"`
	NormalizedURL string `json:"normalizedUrl,omitempty"`
	Error         string `json:"error,omitempty"`
}

var blockedHostnames = map[string]bool{
	"localhost":             true,
	"localhost.localdomain": true,
	"0.0.0.0":               true,
	"::1":                   true,
	"[::1]":                 true,
}

// privateRanges is parsed once at init.
var privateRanges []*net.IPNet

func init() {
	for _, cidr := range []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	} {
		_, ipNet, _ := net.ParseCIDR(cidr)
		privateRanges = append(privateRanges, ipNet)
	}
}

// IsPrivateIP reports whether ip falls in a loopback, private, link-local or
// unspecified range.
func IsPrivateIP(ip net.IP) bool {
	if ip.IsUnspecified() || ip.IsLoopback() {
		return true
	}
	for _, cidr := range privateRanges {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// URL applies the target rules in order and stops at the first failure. On
// success the returned NormalizedURL is the canonical serialization that
// every later stage must use.
func URL(input string) Result {
	if input == "" {
		return fail(ErrRequired)
	}
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return fail(ErrEmpty)
	}
	if utf8.RuneCountInString(trimmed) > MaxURLLength {
		return fail(ErrTooLong)
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" {
		return fail(ErrFormat)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fail(ErrProtocol)
	}
	if u.Opaque != "" || u.Host == "" || u.Hostname() == "" {
		return fail(ErrFormat)
	}

	hostname, err := canonicalHost(strings.ToLower(u.Hostname()))
	if err != nil {
		return fail(ErrFormat)
	}
	if blockedHostnames[hostname] {
		return fail(ErrLocalHost)
	}
	if ip := net.ParseIP(stripZone(hostname)); ip != nil && IsPrivateIP(ip) {
		return fail(ErrPrivateIP)
	}
	domain := strings.TrimSuffix(hostname, ".")
	if strings.HasSuffix(domain, ".local") || strings.HasSuffix(domain, ".localhost") {
		return fail(ErrLocalDomain)
	}

	return Result{Valid: true, NormalizedURL: normalize(u, scheme, hostname)}
}

func fail(msg string) Result {
	return Result{Valid: false, Error: msg}
}

func stripZone(host string) string {
	if idx := strings.IndexByte(host, '%'); idx != -1 {
		return host[:idx]
	}
	return host
}

// canonicalHost converts a lower-cased hostname to the form a browser
// connects to: internationalized labels become punycode and a host ending
// in a number is read as an IPv4 address in any of its numeric notations.
func canonicalHost(host string) (string, error) {
	if strings.Contains(host, ":") {
		return host, nil
	}
	if !isASCII(host) {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", fmt.Errorf("invalid internationalized host %q: %w", host, err)
		}
		host = strings.ToLower(ascii)
	}

	parts := strings.Split(host, ".")
	if len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if !endsInNumber(parts) {
		return host, nil
	}
	ip, err := parseIPv4(parts)
	if err != nil {
		return "", err
	}
	return ip.String(), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func endsInNumber(parts []string) bool {
	last := parts[len(parts)-1]
	if last == "" {
		return false
	}
	if strings.Trim(last, "0123456789") == "" {
		return true
	}
	_, err := parseIPv4Part(last)
	return err == nil
}

// parseIPv4 accepts one to four dot-separated parts, each decimal, octal
// (leading 0) or hex (leading 0x). The last part fills the remaining bytes.
func parseIPv4(parts []string) (net.IP, error) {
	if len(parts) > 4 {
		return nil, fmt.Errorf("too many IPv4 parts: %d", len(parts))
	}
	var addr uint64
	for i, part := range parts {
		n, err := parseIPv4Part(part)
		if err != nil {
			return nil, err
		}
		if i < len(parts)-1 {
			if n > 255 {
				return nil, fmt.Errorf("IPv4 part %q out of range", part)
			}
			addr |= n << (8 * uint(3-i))
			continue
		}
		if n >= 1<<(8*uint(5-len(parts))) {
			return nil, fmt.Errorf("IPv4 part %q out of range", part)
		}
		addr |= n
	}
	return net.IPv4(byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr)).To4(), nil
}

func parseIPv4Part(part string) (uint64, error) {
	if part == "" {
		return 0, fmt.Errorf("empty IPv4 part")
	}
	base := 10
	switch {
	case len(part) >= 2 && (part[:2] == "0x" || part[:2] == "0X"):
		part, base = part[2:], 16
	case len(part) >= 2 && part[0] == '0':
		part, base = part[1:], 8
	}
	if part == "" {
		return 0, nil
	}
	return strconv.ParseUint(part, base, 64)
}

// normalize re-serializes u in href form: lower-case scheme and host, default
// port dropped, empty path becomes "/", query bytes outside the URL code
// points percent-encoded.
func normalize(u *url.URL, scheme, hostname string) string {
	out := *u
	out.Scheme = scheme

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	host := hostname
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host = net.JoinHostPort(strings.Trim(host, "[]"), port)
	}
	out.Host = host

	if out.Path == "" && out.RawPath == "" {
		out.Path = "/"
	}
	out.RawQuery = escapeQuery(u.RawQuery)
	return out.String()
}

// escapeQuery percent-encodes the query bytes a browser encodes for http(s)
// URLs: controls, space, quotes, angle brackets, '#' and non-ASCII bytes.
// Existing escapes are kept.
func escapeQuery(q string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(q); i++ {
		c := q[i]
		if c <= ' ' || c >= 0x7f || strings.IndexByte("\"#<>'", c) >= 0 {
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
