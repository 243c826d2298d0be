// Package digest implements the RFC 2617 digest-authentication helpers
// sitting above the http11 field extractor: HA1/HA2/response composition
// and a monotonically-increasing nonce generator.
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/sxe-httpd/shockwave/pkg/shockwave/http11"
)

// HA1 computes MD5(username ":" realm ":" password), hex-encoded lower
// case, per RFC 2617 §3.2.2.2.
func HA1(username, realm, password string) string {
	return hexMD5(username + ":" + realm + ":" + password)
}

// HA2 computes MD5(method ":" url), hex-encoded lower case, for the
// "auth" qop (RFC 2617 §3.2.2.3).
func HA2(method, url string) string {
	return hexMD5(method + ":" + url)
}

// Response computes the digest response string
//
//	MD5(HA1 ":" nonce ":" nc ":" cnonce ":" "auth" ":" HA2)
//
// hex-encoded lower case, per RFC 2617 §3.2.2.1 with qop=auth.
func Response(ha1, nonce, nc, cnonce, ha2 string) string {
	return hexMD5(ha1 + ":" + nonce + ":" + nc + ":" + cnonce + ":auth:" + ha2)
}

func hexMD5(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HexFromBytes and HexToBytes are the hex codec used for digest strings;
// HexToBytes(HexFromBytes(x)) == x for all byte sequences.
func HexFromBytes(b []byte) string { return hex.EncodeToString(b) }

func HexToBytes(s string) ([]byte, error) { return hex.DecodeString(s) }

// Nonce is a 128-bit monotonically-increasing value: the high half seeds
// from wall-clock seconds at generator construction, the low half is a
// monotonic counter that carries into the high half on wrap. State is
// owned by the generator instance rather than a process-wide global.
// NextNonce is NOT safe for concurrent use; callers serialize it
// themselves, or use AtomicNonceGenerator.
type Nonce struct {
	hi uint64
	lo uint64
}

// NewNonceGenerator seeds a Nonce's high half from the current wall
// clock in seconds.
func NewNonceGenerator() *Nonce {
	return &Nonce{hi: uint64(time.Now().Unix())}
}

// NextNonce returns the next 128-bit value (hi, lo) and advances the
// counter, carrying into hi on a lo wraparound. Not thread-safe by
// construction; see AtomicNonceGenerator for a concurrent-safe variant.
func (n *Nonce) NextNonce() (hi, lo uint64) {
	n.lo++
	if n.lo == 0 {
		n.hi++
	}
	return n.hi, n.lo
}

// AtomicNonceGenerator is the thread-safe variant: the low half is an
// atomic counter, and a wrap (lo overflowing back to 0) bumps the high
// half. Unlike Nonce, this is safe for concurrent callers.
type AtomicNonceGenerator struct {
	hi atomic.Uint64
	lo atomic.Uint64
}

// NewAtomicNonceGenerator seeds hi from the current wall clock.
func NewAtomicNonceGenerator() *AtomicNonceGenerator {
	g := &AtomicNonceGenerator{}
	g.hi.Store(uint64(time.Now().Unix()))
	return g
}

// NextNonce atomically advances and returns the next (hi, lo) pair.
func (g *AtomicNonceGenerator) NextNonce() (hi, lo uint64) {
	newLo := g.lo.Add(1)
	if newLo == 0 {
		g.hi.Add(1)
	}
	return g.hi.Load(), newLo
}

// GetField exposes the http11 field extractor under the digest package
// so callers parsing a WWW-Authenticate/Authorization header value don't
// need to import http11 directly for this one call.
func GetField(value []byte, name string) ([]byte, bool) {
	return http11.GetField(value, name)
}
