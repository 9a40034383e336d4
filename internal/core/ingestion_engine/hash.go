package ingestion_engine

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash is the hex SHA-256 of raw file bytes. Empty input hashes like any other.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
