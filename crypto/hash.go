package crypto

import (
	"crypto/rand"
	"crypto/sha256"
)

// Sum256 returns the SHA-256 digest of data, used for immutable Value IDs
// and signed-mutable Value IDs (SHA-256(public_key || nonce)).
func Sum256(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func randRead(b []byte) error {
	_, err := rand.Read(b)
	return err
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := randRead(b); err != nil {
		return nil, err
	}
	return b, nil
}
