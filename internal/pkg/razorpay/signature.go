package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifyPaymentSignature validates the signature returned by the Razorpay
// checkout to the client: hex(HMAC-SHA256(keySecret, orderID + "|" + paymentID)).
// Comparison is constant-time.
func VerifyPaymentSignature(orderID, paymentID, signature, keySecret string) bool {
	if keySecret == "" || signature == "" {
		return false
	}

	h := hmac.New(sha256.New, []byte(keySecret))
	h.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(h.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

// VerifyWebhookSignature validates the X-Razorpay-Signature header:
// hex(HMAC-SHA256(webhookSecret, rawBody)). Comparison is constant-time.
func VerifyWebhookSignature(rawBody []byte, signature, webhookSecret string) bool {
	if webhookSecret == "" || signature == "" {
		return false
	}

	h := hmac.New(sha256.New, []byte(webhookSecret))
	h.Write(rawBody)
	expected := hex.EncodeToString(h.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

// SignPayment generates a payment signature. Used by tests and sandbox tooling.
func SignPayment(orderID, paymentID, keySecret string) string {
	h := hmac.New(sha256.New, []byte(keySecret))
	h.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(h.Sum(nil))
}

// SignWebhook generates a webhook body signature. Used by tests and sandbox tooling.
func SignWebhook(rawBody []byte, webhookSecret string) string {
	h := hmac.New(sha256.New, []byte(webhookSecret))
	h.Write(rawBody)
	return hex.EncodeToString(h.Sum(nil))
}
