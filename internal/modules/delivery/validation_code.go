package delivery

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

const (
	codeMin = 100000
	codeMax = 999999
)

var codeSpan = big.NewInt(codeMax - codeMin + 1)

// GenerateValidationCode returns a 6-digit numeric code drawn uniformly from
// [100000, 999999]. Collisions with other live codes are not checked.
func GenerateValidationCode() string {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		// crypto/rand only fails when the OS entropy source is unavailable.
		panic("delivery: reading random source: " + err.Error())
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10)
}
