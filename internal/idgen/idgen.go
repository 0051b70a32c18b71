// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// referencePrefix marks merchant references handed to the payment gateway.
const referencePrefix = "FMP-"

// Reference generates a merchant payment reference: "FMP-" followed by
// 8 uppercase hex characters. The gateway echoes it back verbatim in
// webhook events, so the format is part of the external contract.
func Reference() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return referencePrefix + strings.ToUpper(hex.EncodeToString(b))
}

// WithPrefix generates a random ID with a prefix (e.g. "usr_", "sub_", "ovr_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// LicenseKey generates a human-typable license key code of the form
// XXXX-XXXX-XXXX-XXXX using an unambiguous uppercase alphabet.
func LicenseKey() string {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	var sb strings.Builder
	for i, v := range b {
		if i > 0 && i%4 == 0 {
			sb.WriteByte('-')
		}
		sb.WriteByte(alphabet[int(v)%len(alphabet)])
	}
	return sb.String()
}
