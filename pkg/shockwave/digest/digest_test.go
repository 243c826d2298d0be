package digest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHA1Vector(t *testing.T) {
	ha1 := HA1("8d04cf7a135f3fd70fc21afe7a6513fc30bde3b7", "LiveConnect", "2243a6149cf338200a31fa9a8c5fa960a4b0a323")
	require.Equal(t, "64c01794167c5998430c2be08953e7cc", ha1)
}

func TestResponseRoundTripFixedVector(t *testing.T) {
	// RFC 2617 §3.5 worked example.
	ha1 := HA1("Mufasa", "testrealm@host.com", "Circle Of Life")
	ha2 := HA2("GET", "/dir/index.html")
	resp := Response(ha1, "dcd98b7102dd2f0e8b11d0f600bfb0c093", "00000001", "0a4f113b", ha2)
	require.Equal(t, "6629fae49393a05397450978507c4ef1", resp)
	require.Len(t, resp, 32)
}

func TestHexRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0xff, 0x00, 0x10, 0xab},
		[]byte("hello world"),
	}
	for _, c := range cases {
		enc := HexFromBytes(c)
		dec, err := HexToBytes(enc)
		require.NoError(t, err)
		require.Equal(t, c, dec)
	}
}

func TestNonceMonotonic(t *testing.T) {
	n := &Nonce{hi: 5, lo: ^uint64(0)}
	hi1, lo1 := n.NextNonce()
	require.Equal(t, uint64(6), hi1)
	require.Equal(t, uint64(0), lo1)

	hi2, lo2 := n.NextNonce()
	require.Equal(t, uint64(6), hi2)
	require.Equal(t, uint64(1), lo2)
}

func TestAtomicNonceGeneratorCarries(t *testing.T) {
	g := &AtomicNonceGenerator{}
	g.hi.Store(1)
	g.lo.Store(^uint64(0))

	hi, lo := g.NextNonce()
	require.Equal(t, uint64(2), hi)
	require.Equal(t, uint64(0), lo)
}

func TestGetFieldReexport(t *testing.T) {
	v, ok := GetField([]byte(`realm="x"`), "realm")
	require.True(t, ok)
	require.Equal(t, "x", string(v))
}
