package netif

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstIPv4(t *testing.T) {
	mk := func(ss ...string) []netip.Addr {
		out := make([]netip.Addr, 0, len(ss))
		for _, s := range ss {
			out = append(out, netip.MustParseAddr(s))
		}
		return out
	}

	tests := []struct {
		name  string
		in    []netip.Addr
		want  string
		found bool
	}{
		{name: "global first", in: mk("fe80::1", "10.0.0.5", "192.168.1.2"), want: "10.0.0.5", found: true},
		{name: "skip link local", in: mk("169.254.0.9", "10.1.1.1"), want: "10.1.1.1", found: true},
		{name: "fallback loopback", in: mk("127.0.0.1"), want: "127.0.0.1", found: true},
		{name: "v4 mapped", in: mk("::ffff:10.2.3.4"), want: "10.2.3.4", found: true},
		{name: "v6 only", in: mk("2001:db8::1"), found: false},
		{name: "empty", in: nil, found: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := firstIPv4(tt.in)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, got.String())
			}
		})
	}
}

func TestStatic(t *testing.T) {
	got, err := Static("10.0.0.7").Address("eth0")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", got)

	_, err = Static("not-an-ip").Address("eth0")
	assert.Error(t, err)
}

func TestSystemLoopback(t *testing.T) {
	addr, err := NewSystem().Address("lo")
	if err != nil {
		t.Skipf("loopback interface not available: %v", err)
	}
	assert.Equal(t, "127.0.0.1", addr)
}

func TestSystemMissingInterface(t *testing.T) {
	_, err := NewSystem().Address("dbguest-missing0")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoAddress))
}
