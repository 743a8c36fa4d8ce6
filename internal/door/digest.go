package door

import (
	"crypto/sha256"
	"encoding/hex"
)

// PINLength is the number of digits in a door PIN.
const PINLength = 4

// Digest returns the lowercase hex SHA-256 of s.
// The same digest is used for PINs and RFID UIDs, and it is what the
// controller compares against, so it must stay unsalted.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// IsValidPIN reports whether pin is exactly four ASCII decimal digits.
func IsValidPIN(pin string) bool {
	if len(pin) != PINLength {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}

// ValidatePIN returns ErrInvalidPIN unless pin is a well-formed PIN.
func ValidatePIN(pin string) error {
	if !IsValidPIN(pin) {
		return ErrInvalidPIN
	}
	return nil
}

// shortDigest is a log-safe prefix of a digest.
func shortDigest(digest string) string {
	if len(digest) > 8 {
		return digest[:8]
	}
	return digest
}
