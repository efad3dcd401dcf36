package validate

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURL_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"zero value", "", ErrRequired},
		{"whitespace only", "   \t\n", ErrEmpty},
		{"too long", "https://example.com/" + strings.Repeat("a", MaxURLLength), ErrTooLong},
		{"bare host", "example.com", ErrFormat},
		{"missing host", "http://", ErrFormat},
		{"empty authority", "http:///path", ErrFormat},
		{"bad host characters", "http://exa mple.com/", ErrFormat},
		{"ftp scheme", "ftp://example.com/file", ErrProtocol},
		{"javascript scheme", "javascript:alert(1)", ErrProtocol},
		{"mailto scheme", "mailto:someone@example.com", ErrProtocol},
		{"localhost", "http://localhost:3000/", ErrLocalHost},
		{"localhost upper case", "http://LOCALHOST/", ErrLocalHost},
		{"localhost.localdomain", "http://localhost.localdomain/", ErrLocalHost},
		{"unspecified ipv4", "http://0.0.0.0/", ErrLocalHost},
		{"ipv6 loopback", "http://[::1]/", ErrLocalHost},
		{"loopback ipv4", "http://127.0.0.1/admin", ErrPrivateIP},
		{"loopback range", "http://127.8.9.10/", ErrPrivateIP},
		{"rfc1918 10/8", "http://10.1.2.3/", ErrPrivateIP},
		{"rfc1918 172.16/12", "https://172.20.0.1/", ErrPrivateIP},
		{"rfc1918 192.168/16", "http://192.168.1.1/router", ErrPrivateIP},
		{"link local metadata", "http://169.254.169.254/latest/meta-data", ErrPrivateIP},
		{"zero network", "http://0.1.2.3/", ErrPrivateIP},
		{"ipv6 link local", "http://[fe80::1]/", ErrPrivateIP},
		{"ipv6 unique local", "http://[fd12:3456::1]/", ErrPrivateIP},
		{"dot local", "http://printer.local/", ErrLocalDomain},
		{"dot localhost", "https://app.localhost/", ErrLocalDomain},
		{"dot local trailing dot", "http://printer.local./", ErrLocalDomain},
		{"decimal loopback", "http://2130706433/", ErrPrivateIP},
		{"two part loopback", "http://127.1/", ErrPrivateIP},
		{"hex loopback", "http://0x7f000001/", ErrPrivateIP},
		{"octal loopback", "http://0177.0.0.1/", ErrPrivateIP},
		{"zero padded loopback", "http://127.0.0.01/", ErrPrivateIP},
		{"trailing dot loopback", "http://127.0.0.1./", ErrPrivateIP},
		{"two part private", "http://10.1/", ErrPrivateIP},
		{"mixed notation metadata", "http://0xa9.254.0251.254/", ErrPrivateIP},
		{"numeric unspecified", "http://0/", ErrLocalHost},
		{"ipv4 part out of range", "http://256.1.1.1/", ErrFormat},
		{"ipv4 last part out of range", "http://1.2.65536/", ErrFormat},
		{"too many numeric parts", "http://1.2.3.4.5/", ErrFormat},
		{"bad octal digit", "http://09.1.1.1/", ErrFormat},
		{"domain ending in number", "http://example.123/", ErrFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := URL(tt.input)
			assert.False(t, res.Valid)
			assert.Equal(t, tt.want, res.Error)
			assert.Empty(t, res.NormalizedURL)
		})
	}
}

func TestURL_PrivateAddressMessageMentionsScope(t *testing.T) {
	res := URL("http://127.0.0.1/admin")
	require.False(t, res.Valid)
	assert.Contains(t, strings.ToLower(res.Error), "private")
}

func TestURL_Normalization(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://example.com/page?q=1", "https://example.com/page?q=1"},
		{"  https://example.com/page?q=1  ", "https://example.com/page?q=1"},
		{"https://example.com", "https://example.com/"},
		{"HTTPS://Example.COM:443/Path", "https://example.com/Path"},
		{"http://example.com:80", "http://example.com/"},
		{"http://example.com:8080/a", "http://example.com:8080/a"},
		{"https://example.com/#top", "https://example.com/#top"},
		{"https://172.32.0.1/", "https://172.32.0.1/"},
		{"https://[2001:db8::1]:8443/x", "https://[2001:db8::1]:8443/x"},
		{"https://sub.example.co.uk/a%20b", "https://sub.example.co.uk/a%20b"},
		{"http://0x5db8d822/a", "http://93.184.216.34/a"},
		{"http://93.184.55330/", "http://93.184.216.34/"},
		{"https://例え.jp/", "https://xn--r8jz45g.jp/"},
		{"https://BÜCHER.example/", "https://xn--bcher-kva.example/"},
		{"https://example.com/search?q=a b", "https://example.com/search?q=a%20b"},
		{`https://example.com/?q="x"<y>&n=it's`, "https://example.com/?q=%22x%22%3Cy%3E&n=it%27s"},
		{"https://example.com/?q=café", "https://example.com/?q=caf%C3%A9"},
		{"https://example.com/?q=%20kept", "https://example.com/?q=%20kept"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			res := URL(tt.input)
			require.True(t, res.Valid, "unexpected rejection: %s", res.Error)
			assert.Equal(t, tt.want, res.NormalizedURL)
			assert.Empty(t, res.Error)
		})
	}
}

func TestURL_Idempotent(t *testing.T) {
	inputs := []string{
		"https://example.com/page?q=1",
		"HTTP://Example.com",
		"https://example.com:443/a/b/../c",
		"http://example.com:8080",
		"https://example.com/search?q=a+b&lang=en#results",
		"https://例え.jp/path?q=a b",
		"http://0x5db8d822/",
	}
	for _, in := range inputs {
		first := URL(in)
		require.True(t, first.Valid, in)
		second := URL(first.NormalizedURL)
		require.True(t, second.Valid, first.NormalizedURL)
		assert.Equal(t, first.NormalizedURL, second.NormalizedURL, "normalizing twice must be stable for %q", in)
	}
}

func TestIsPrivateIP(t *testing.T) {
	assert.True(t, IsPrivateIP(net.ParseIP("127.0.0.1")))
	assert.True(t, IsPrivateIP(net.ParseIP("::")))
	assert.True(t, IsPrivateIP(net.ParseIP("fc00::1")))
	assert.False(t, IsPrivateIP(net.ParseIP("93.184.216.34")))
	assert.False(t, IsPrivateIP(net.ParseIP("2606:4700::1111")))
}

func TestCanonicalHost(t *testing.T) {
	tests := []struct {
		host    string
		want    string
		wantErr bool
	}{
		{host: "example.com", want: "example.com"},
		{host: "my_host.example", want: "my_host.example"},
		{host: "2130706433", want: "127.0.0.1"},
		{host: "0x7f.1", want: "127.0.0.1"},
		{host: "0x", want: "0.0.0.0"},
		{host: "1.2.3.4.", want: "1.2.3.4"},
		{host: "4294967295", want: "255.255.255.255"},
		{host: "4294967296", wantErr: true},
		{host: "1..2", wantErr: true},
		{host: "2001:db8::1", want: "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got, err := canonicalHost(tt.host)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
