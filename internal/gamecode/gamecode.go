// Package gamecode generates the short join codes that identify sessions.
package gamecode

import (
	crand "crypto/rand"
	"math/big"
	"math/rand"
)

// Length is the number of characters in a session code.
const Length = 4

// Charset is the alphabet codes are drawn from: 36^4 possible codes.
const Charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Generate returns a random session code. It prefers crypto/rand and
// falls back to math/rand per character if the system source fails.
func Generate() string {
	code := make([]byte, Length)
	for i := range code {
		n, err := crand.Int(crand.Reader, big.NewInt(int64(len(Charset))))
		if err != nil {
			code[i] = Charset[rand.Intn(len(Charset))]
			continue
		}
		code[i] = Charset[n.Int64()]
	}
	return string(code)
}

// Valid reports whether s has the shape of a session code: exactly
// Length characters, all from Charset.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !validChar(s[i]) {
			return false
		}
	}
	return true
}

func validChar(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
