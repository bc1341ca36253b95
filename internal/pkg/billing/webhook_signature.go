package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyOrderWebhookSignature checks a hex HMAC-SHA256 of the raw body.
// The header may carry a "sha256=" prefix.
func VerifyOrderWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}
	sig = strings.TrimPrefix(strings.ToLower(sig), "sha256=")

	decodedSig, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(SignOrderWebhook(payload, secret), decodedSig)
}

// SignOrderWebhook returns the raw HMAC-SHA256 of payload.
func SignOrderWebhook(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}
