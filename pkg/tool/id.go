package tool

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"
)

func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// GenerateShortID returns the stable opaque token handed to subscribers.
// It is the handle for cancel/refund/renew operations and never changes,
// unlike the provider transaction id which is replaced on every renewal.
func GenerateShortID() string {
	return shortid.MustGenerate()
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateCode returns n random characters from [A-Z0-9], used for discount
// and affiliate codes. Uses crypto/rand; codes are user-visible secrets.
func GenerateCode(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			panic(err)
		}
		b[i] = codeAlphabet[idx.Int64()]
	}
	return string(b)
}
