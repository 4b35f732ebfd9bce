package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainDerivedRecord prefixes derived record digests.
// Version suffix enables future algorithm migration.
const DomainDerivedRecord = "hookledger/derived/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest computes the content digest of a derived record.
//
// CreatedAt, UpdatedAt and TxnID are EXCLUDED: they describe when and in
// which transaction the record was written, not what was derived. Replaying
// an identical event in a fresh transaction yields the same digest.
func (r DerivedRecord) Digest() (string, error) {
	canonical, err := MarshalCanonical(r.contentObject())
	if err != nil {
		return "", fmt.Errorf("Digest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDerivedRecord, canonical), nil
}

// MustDigest is like Digest but panics on error.
// Use only in tests or when the record is known to be valid.
func (r DerivedRecord) MustDigest() string {
	d, err := r.Digest()
	if err != nil {
		panic(err)
	}
	return d
}
