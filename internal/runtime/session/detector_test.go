package session

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectorIdentify(t *testing.T) {
	detector := New("x-authenticated-user", ParseCIDRs([]string{"192.0.2.0/24", "203.0.113.9", "garbage"}))

	tests := []struct {
		name       string
		remoteAddr string
		user       string
		wantLogged bool
	}{
		{name: "trusted network", remoteAddr: "192.0.2.10:443", user: "jo", wantLogged: true},
		{name: "trusted single address", remoteAddr: "203.0.113.9:80", user: "jo", wantLogged: true},
		{name: "loopback", remoteAddr: "127.0.0.1:5000", user: "jo", wantLogged: true},
		{name: "untrusted peer", remoteAddr: "198.51.100.5:443", user: "jo"},
		{name: "no header", remoteAddr: "192.0.2.10:443"},
		{name: "malformed remote", remoteAddr: "not-an-ip", user: "jo"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://example.com/acme", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.user != "" {
				req.Header.Set("X-Authenticated-User", tc.user)
			}
			id := detector.Identify(req)
			require.Equal(t, tc.wantLogged, id.LoggedIn)
			if tc.wantLogged {
				require.Equal(t, tc.user, id.User)
			} else {
				require.Empty(t, id.User)
			}
		})
	}
}

func TestParseCIDRsSkipsInvalid(t *testing.T) {
	require.Len(t, ParseCIDRs([]string{"10.0.0.0/8", "::1", "nope", ""}), 2)
}

func TestNilDetector(t *testing.T) {
	var d *Detector
	require.False(t, d.Identify(httptest.NewRequest("GET", "/", nil)).LoggedIn)
}
