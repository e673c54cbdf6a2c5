package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainPlan prefixes plan hashes. The version suffix allows migrating the
// algorithm without colliding with stored values.
const DomainPlan = "orchestra/plan/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PlanHash fingerprints a compiled plan. It is stored with every plan
// execution so a resumed execution can detect that its plan changed.
func PlanHash(p Plan) (string, error) {
	canonical, err := MarshalCanonical(p)
	if err != nil {
		return "", fmt.Errorf("plan hash: %w", err)
	}
	return hashWithDomain(DomainPlan, canonical), nil
}
