// Package util provides utility functions for the Calma application.
package util

import (
	crand "crypto/rand"
	"math/big"
	"math/rand"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
// Uses math/rand/v2 for optimal performance with modern best practices.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2 with optimal entropy utilization for non-cryptographic purposes.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.Intn(16)])
	}

	return builder.String()
}

// GenerateNumericCode generates a random numeric code of the specified length
// from crypto/rand, suitable for verification codes.
func GenerateNumericCode(length int) string {
	if length <= 0 {
		return ""
	}

	var builder strings.Builder
	builder.Grow(length)
	ten := big.NewInt(10)

	for i := 0; i < length; i++ {
		n, err := crand.Int(crand.Reader, ten)
		if err != nil {
			// crypto/rand only fails when the platform source is broken;
			// fall back to the non-cryptographic generator.
			builder.WriteByte(byte('0' + rand.Intn(10)))
			continue
		}
		builder.WriteByte(byte('0' + n.Int64()))
	}

	return builder.String()
}

// GenerateParticipantID generates a unique participant ID with "p_" prefix.
func GenerateParticipantID() string {
	return GenerateRandomID("p_", 32)
}
