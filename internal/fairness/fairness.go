// Package fairness implements the commit-reveal scheme used to prove that a
// randomized payout order was fixed before anyone could see it.
//
// The protocol is public: a 256-bit secret is drawn from crypto/rand and its
// SHA-256 digest is published at batch close. After reveal, anyone can rerun
// Permutation over the secret and must obtain the exact published order. The
// seed derivation (cyrb128) and generator (sfc32) are non-cryptographic by
// design; unpredictability comes entirely from the secret, the mixing only has
// to be reproducible.
package fairness

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

const secretBytes = 32

// Commitment pairs a freshly generated secret with its public commit hash.
type Commitment struct {
	Secret     string
	CommitHash string
}

// NewCommitment draws a new secret and computes its commitment.
func NewCommitment() (Commitment, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return Commitment{}, err
	}
	secret := hex.EncodeToString(buf)
	return Commitment{
		Secret:     secret,
		CommitHash: HashSecret(secret),
	}, nil
}

// HashSecret returns the lowercase hex SHA-256 of the secret string.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether secret matches a previously published commit hash.
func Verify(secret, commitHash string) bool {
	return HashSecret(secret) == commitHash
}

// cyrb128 mixes an arbitrary string into four 32-bit seed words. Applied
// byte-by-byte; all arithmetic wraps mod 2^32.
func cyrb128(s string) (uint32, uint32, uint32, uint32) {
	var h1, h2, h3, h4 uint32 = 1779033703, 3144134277, 1013904242, 2773480762
	for i := 0; i < len(s); i++ {
		k := uint32(s[i])
		h1 = h2 ^ (h1^k)*597399067
		h2 = h3 ^ (h2^k)*2869860233
		h3 = h4 ^ (h3^k)*951274213
		h4 = h1 ^ (h4^k)*2716044179
	}
	h1 = (h3 ^ (h1 >> 18)) * 597399067
	h2 = (h4 ^ (h2 >> 22)) * 2869860233
	h3 = (h1 ^ (h3 >> 17)) * 951274213
	h4 = (h2 ^ (h4 >> 19)) * 2716044179
	h1 ^= h2 ^ h3 ^ h4
	h2 ^= h1
	h3 ^= h1
	h4 ^= h1
	return h1, h2, h3, h4
}

// sfc32 is a small four-word PRNG producing uniform values in [0, 1).
func sfc32(a, b, c, d uint32) func() float64 {
	return func() float64 {
		t := a + b + d
		d++
		a = b ^ (b >> 9)
		b = c + (c << 3)
		c = (c<<21 | c>>11) + t
		return float64(t) / 4294967296
	}
}

// Permutation deterministically shuffles [1..n] from the given secret using a
// Fisher-Yates pass from n-1 down to 1. Identical secrets always yield
// identical permutations.
func Permutation(secret string, n int) []int {
	seq := make([]int, n)
	for i := range seq {
		seq[i] = i + 1
	}
	if n < 2 {
		return seq
	}

	a, b, c, d := cyrb128(secret)
	prng := sfc32(a, b, c, d)

	for i := n - 1; i > 0; i-- {
		j := int(prng() * float64(i+1))
		seq[i], seq[j] = seq[j], seq[i]
	}
	return seq
}
