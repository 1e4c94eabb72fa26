package app

import "math/rand"

// codeAlphabet deliberately omits 0/O/1/I so codes read unambiguously on
// a projected screen.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the fixed length of quiz join codes.
const CodeLength = 6

// maxCodeAttempts bounds collision retries during quiz creation.
const maxCodeAttempts = 5

// newCode draws from the package-level source, which is safe for the
// concurrent creates arriving through the gateway.
func newCode() string {
	buf := make([]byte, CodeLength)
	for i := range buf {
		buf[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(buf)
}
