package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SourceKey derives a stable, non-reversible identifier for a client from
// its IP address. Keyed hashing keeps the stored value stable across
// requests without ever persisting the address itself.
func SourceKey(secret, ip string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ip))
	return hex.EncodeToString(mac.Sum(nil))
}
