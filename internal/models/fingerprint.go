package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint derives the deduplication digest for an alert condition:
// sha256 over "source:key", hex-encoded. Every normalizer feeds the
// same key for a raise and its matching clear so the two collapse onto
// one fingerprint.
func Fingerprint(sourceSystem, correlationKey string) string {
	sum := sha256.Sum256([]byte(sourceSystem + ":" + correlationKey))
	return hex.EncodeToString(sum[:])
}
