package provider

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// HMACSHA256Hex computes a hex-encoded HMAC-SHA256 over payload.
func HMACSHA256Hex(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// HMACSHA256 computes a raw HMAC-SHA256 digest over payload.
func HMACSHA256(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

// HMACMD5Hex computes a hex-encoded HMAC-MD5 over payload with a raw key.
// EuPlatesc and PayU sign their canonical parameter strings this way.
func HMACMD5Hex(payload []byte, key []byte) string {
	mac := hmac.New(md5.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// LenValueChain builds the canonical signature string used by the Romanian
// card gateways: for each value its decimal byte length followed by the
// value itself, empty values contributing a single dash.
func LenValueChain(values ...string) string {
	var b strings.Builder
	for _, v := range values {
		if v == "" {
			b.WriteByte('-')
			continue
		}
		b.WriteString(strconv.Itoa(len(v)))
		b.WriteString(v)
	}
	return b.String()
}

// SecureCompare reports whether two signature strings match in constant time.
func SecureCompare(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// ParseSignatureHeader splits a "k=v,k2=v2" signature header (Stripe,
// Revolut) into its pairs. Malformed elements are skipped.
func ParseSignatureHeader(header string) map[string]string {
	pairs := make(map[string]string)
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || k == "" {
			continue
		}
		pairs[k] = v
	}
	return pairs
}
