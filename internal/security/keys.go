package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySet holds the purpose-bound keys derived from the single configured
// signing secret. Deriving rather than reusing the raw secret keeps the
// access signer, refresh signer and the hash pepper independent.
type KeySet struct {
	AccessSigning  []byte
	RefreshSigning []byte
	TokenPepper    []byte
}

// DeriveKeys expands the configured secret into the key set with
// HKDF-SHA256. The same secret always yields the same keys, so tokens
// survive process restarts.
func DeriveKeys(secret string) (*KeySet, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes")
	}
	ks := &KeySet{}
	for _, k := range []struct {
		info string
		dst  *[]byte
	}{
		{"access-token-signing", &ks.AccessSigning},
		{"refresh-token-signing", &ks.RefreshSigning},
		{"refresh-token-pepper", &ks.TokenPepper},
	} {
		key := make([]byte, 32)
		r := hkdf.New(sha256.New, []byte(secret), nil, []byte(k.info))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("derive %s key: %w", k.info, err)
		}
		*k.dst = key
	}
	return ks, nil
}

// HashRefreshToken produces the hex HMAC-SHA256 of the full signed token
// string. Only this value is ever persisted.
func HashRefreshToken(token string, pepper []byte) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
