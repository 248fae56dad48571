package sessions

import (
	"crypto/rand"
	"math/big"
)

// CodeAlphabet omits I, O, 0 and 1 so codes survive being read aloud or written on a board.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const CodeLength = 6

// CodeGenerator produces candidate short codes.
type CodeGenerator func() (string, error)

// RandomCode draws CodeLength characters uniformly from CodeAlphabet using crypto/rand.
func RandomCode() (string, error) {
	max := big.NewInt(int64(len(CodeAlphabet)))
	b := make([]byte, CodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = CodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// ValidCode reports whether code has the shape of a generated short code.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !inAlphabet(code[i]) {
			return false
		}
	}
	return true
}

func inAlphabet(c byte) bool {
	for i := 0; i < len(CodeAlphabet); i++ {
		if CodeAlphabet[i] == c {
			return true
		}
	}
	return false
}
