package value

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainContent prefixes content digests. The version suffix leaves room
// for a future change of canonical form.
const DomainContent = "jsonsync/content/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest returns a stable hex digest of v's canonical form.
// Converged replicas report identical digests.
func Digest(v Value) (string, error) {
	if v == nil {
		return hashWithDomain(DomainContent, nil), nil
	}
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("Digest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainContent, canonical), nil
}
