// Package phone canonicalizes and validates French mobile numbers.
//
// The service only signs up drivers with a French mobile subscription, so the
// validator accepts the national 0X form and the international +33 / 0033
// forms, and rejects landlines and premium ranges. The canonical output is
// always E.164 ("+33612345678"), which is the natural key used by the rate
// limiter and the session store.
package phone

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// Normalize returns the E.164 form of a French mobile number, or
// ErrInvalidPhone. It is a pure function: idempotent on its own output and
// free of I/O.
func Normalize(raw string) (string, error) {
	digits := stripFormatting(raw)
	if digits == "" {
		return "", ErrInvalidPhone
	}

	var national string
	switch {
	case strings.HasPrefix(digits, "+33"):
		national = digits[3:]
	case strings.HasPrefix(digits, "0033"):
		national = digits[4:]
	case strings.HasPrefix(digits, "33") && len(digits) == 11:
		national = digits[2:]
	case strings.HasPrefix(digits, "0") && len(digits) == 10:
		national = digits[1:]
	default:
		return "", ErrInvalidPhone
	}

	if !isFrenchMobile(national) {
		return "", ErrInvalidPhone
	}

	return "+33" + national, nil
}

// IsValid reports whether raw denotes a valid French mobile number.
func IsValid(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}

// Hash returns the hex SHA-256 of a canonical phone number. This is the
// lookup key stored in place of the raw phone in durable records, audit rows
// and marketing document IDs.
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// isFrenchMobile checks the 9-digit national significant number.
// Mobile numbers start with 6 or 7.
func isFrenchMobile(national string) bool {
	if len(national) != 9 {
		return false
	}
	for _, r := range national {
		if r < '0' || r > '9' {
			return false
		}
	}
	return national[0] == '6' || national[0] == '7'
}

// stripFormatting removes spaces, dots, dashes and parentheses, keeping a
// single leading plus sign.
func stripFormatting(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '-' || r == '(' || r == ')':
			// formatting noise
		default:
			return ""
		}
	}
	return b.String()
}
