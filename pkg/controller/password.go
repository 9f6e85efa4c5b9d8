package controller

import (
	"crypto/rand"
	"math/big"

	"github.com/cuemby/pgbranch/pkg/ctlerr"
)

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// generatePassword returns a random alphanumeric password of the given
// length, drawn from crypto/rand.
func generatePassword(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", ctlerr.System(err, "failed to generate password")
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
