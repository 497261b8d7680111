package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureOf returns the hex encoded HMAC-SHA256 of message keyed by secret.
func SignatureOf(message []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the gateway's HMAC of message.
// It never fails loudly: a malformed or empty signature is simply false.
func VerifySignature(message []byte, signature string, secret string) bool {
	if signature == "" {
		return false
	}
	expected := SignatureOf(message, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ClientVerifyMessage is the canonical message the checkout widget signs.
func ClientVerifyMessage(orderID, paymentID string) []byte {
	return []byte(orderID + "|" + paymentID)
}
