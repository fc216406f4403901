// Package crypto implements server-side randomness and token digests.
package crypto

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/blake2b"
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// RandToken returns n random bytes encoded as unpadded base64url.
func RandToken(n int) (string, error) {
	b, err := RandBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Digester computes keyed BLAKE2b-256 digests of bearer tokens, so a leaked
// table never yields a usable credential.
type Digester struct {
	key []byte
}

// NewDigester derives a MAC key from secret. Secrets longer than the
// BLAKE2b key limit are compressed first.
func NewDigester(secret []byte) *Digester {
	key := secret
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	return &Digester{key: append([]byte(nil), key...)}
}

// Digest returns the keyed digest of token.
func (d *Digester) Digest(token string) []byte {
	h, err := blake2b.New256(d.key)
	if err != nil {
		// key length is bounded in NewDigester
		panic(err)
	}
	h.Write([]byte(token))
	return h.Sum(nil)
}
