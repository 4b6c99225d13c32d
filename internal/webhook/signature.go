package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifySignature checks a Meta X-Hub-Signature-256 header against the
// raw request body. The comparison is constant-time. A missing or
// malformed header is invalid, never an error path.
func VerifySignature(appSecret string, body []byte, header string) bool {
	if header == "" {
		return false
	}
	scheme, hexSig, ok := strings.Cut(header, "=")
	if !ok || scheme != "sha256" {
		return false
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
