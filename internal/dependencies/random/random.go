package random

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Random provides random values that can be mocked for testing
type Random interface {
	// Intn returns a random int in [0, n)
	Intn(n int) int

	// RoundID returns a short random identifier for a round
	RoundID() string

	// ItemID returns an opaque, globally unique identifier for a collectible item
	ItemID() string
}

// CryptoRandom implements Random using crypto/rand and UUIDv4
type CryptoRandom struct{}

// New creates a new CryptoRandom
func New() *CryptoRandom {
	return &CryptoRandom{}
}

// Intn returns a cryptographically random int in [0, n)
func (r *CryptoRandom) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	result, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(result.Int64())
}

// RoundID returns 12 characters from [A-Z0-9]
func (r *CryptoRandom) RoundID() string {
	b := make([]byte, 12)
	for i := range b {
		b[i] = idAlphabet[r.Intn(len(idAlphabet))]
	}
	return string(b)
}

// ItemID returns a random UUID
func (r *CryptoRandom) ItemID() string {
	return uuid.NewString()
}
