package audit

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

// Fingerprint identifies a secret in the audit log without revealing it.
func Fingerprint(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	return base64.StdEncoding.EncodeToString(hash[:])
}

// RefFor creates the reference that is recorded in place of the credential.
func RefFor(cred *core.Credential) *core.CredentialRef {
	if cred == nil {
		return nil
	}
	return &core.CredentialRef{
		TargetRole:  cred.TargetRole,
		ExpiresAt:   cred.ExpiresAt,
		Fingerprint: Fingerprint(cred.Secret),
	}
}
