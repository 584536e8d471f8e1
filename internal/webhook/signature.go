package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// sha256Prefix is GitHub's X-Hub-Signature-256 header prefix.
const sha256Prefix = "sha256="

// ComputeSignature computes the X-Hub-Signature-256 value GitHub would send
// for a request body signed with secret.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return sha256Prefix + hex.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks the X-Hub-Signature-256 header against the
// request body using the shared webhook secret.
func ValidateSignature(body []byte, signature, secret string) bool {
	if secret == "" {
		return false
	}

	hexDigest, ok := strings.CutPrefix(signature, sha256Prefix)
	if !ok {
		return false
	}

	expected, err := hex.DecodeString(hexDigest)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hmac.Equal(mac.Sum(nil), expected)
}
