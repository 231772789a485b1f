package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix leaves room for an
// algorithm migration without colliding with old digests.
const (
	DomainTransaction = "apex/transaction/v1"
	DomainManifest    = "apex/manifest/v1"
)

// HashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
// The null separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest canonically encodes v and hashes it under domain.
func Digest(domain string, v any) (string, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	return HashWithDomain(domain, data), nil
}
